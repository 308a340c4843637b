package auth

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Stage names a step of the request pipeline.
type Stage string

const (
	StageAuthentication Stage = "authentication"
	StageRole           Stage = "role"
	StageConsent        Stage = "consent"
	StageHandler        Stage = "handler"
	StageSession        Stage = "session"
)

// Outcome is the recorded result of a pipeline run.
type Outcome string

const (
	OutcomeAllowed Outcome = "Allowed"
	OutcomeDenied  Outcome = "Denied"
	OutcomeTimeout Outcome = "Timeout"
	OutcomeFailed  Outcome = "Failed"
)

// Reason is a stable, machine-readable reason code.
type Reason string

const (
	ReasonMissingToken       Reason = "missing_token"
	ReasonMalformedToken     Reason = "malformed_token"
	ReasonTokenInvalid       Reason = "token_invalid"
	ReasonTokenExpired       Reason = "token_expired"
	ReasonTokenRevoked       Reason = "token_revoked"
	ReasonAuthenticated      Reason = "authenticated"
	ReasonRoleForbidden      Reason = "role_forbidden"
	ReasonRolePermitted      Reason = "role_permitted"
	ReasonConsentRequired    Reason = "consent_required"
	ReasonConsentGranted     Reason = "consent_granted"
	ReasonConsentUnavailable Reason = "consent_unavailable"
	ReasonPatientUnresolved  Reason = "patient_unresolved"
	ReasonSelfAccess         Reason = "self_access"
	ReasonNotPatientScoped   Reason = "not_patient_scoped"
	ReasonAdminBypass        Reason = "admin_bypass"
	ReasonAccountLocked      Reason = "account_locked"
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonCompleted          Reason = "completed"
	ReasonHandlerError       Reason = "handler_error"
	ReasonDeadlineExceeded   Reason = "deadline_exceeded"
)

// TagAdminBypass marks entries produced by the administrative consent bypass.
const TagAdminBypass = "adminBypass"

// Decision is the typed result each gate returns. Gates never write
// responses themselves; a single translator turns a denied Decision into a
// status, a stable code and an audit entry.
type Decision struct {
	Stage      Stage
	Allowed    bool
	Reason     Reason
	Tags       []string
	GrantID    *uuid.UUID
	RetryAfter time.Duration
}

func Allow(stage Stage, reason Reason) Decision {
	return Decision{Stage: stage, Allowed: true, Reason: reason}
}

func Deny(stage Stage, reason Reason) Decision {
	return Decision{Stage: stage, Allowed: false, Reason: reason}
}

// Outcome maps the decision to its audit outcome.
func (d Decision) Outcome() Outcome {
	if d.Allowed {
		return OutcomeAllowed
	}
	return OutcomeDenied
}

// Error codes returned in response bodies.
const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeForbidden          = "FORBIDDEN"
	CodeConsentRequired    = "CONSENT_REQUIRED"
	CodeConsentUnavailable = "CONSENT_UNAVAILABLE"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
)

// Code returns the stable error code for a denied decision. Consent denials
// carry a code distinct from role failures.
func (d Decision) Code() string {
	switch {
	case d.Reason == ReasonAccountLocked:
		return CodeAccountLocked
	case d.Reason == ReasonInvalidCredentials:
		return CodeInvalidCredentials
	case d.Reason == ReasonConsentUnavailable:
		return CodeConsentUnavailable
	case d.Stage == StageAuthentication:
		return CodeUnauthenticated
	case d.Stage == StageConsent:
		return CodeConsentRequired
	default:
		return CodeForbidden
	}
}

// HTTPStatus returns the response status for a denied decision.
func (d Decision) HTTPStatus() int {
	switch d.Code() {
	case CodeUnauthenticated, CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeConsentUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}
