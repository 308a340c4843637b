package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/recordguard/internal/domain/identity"
)

// Category is a consent scope category.
type Category string

const (
	CategoryEncounters    Category = "encounters"
	CategoryPrescriptions Category = "prescriptions"
	CategoryDocuments     Category = "documents"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryEncounters, CategoryPrescriptions, CategoryDocuments:
		return true
	}
	return false
}

// ConsentGrant is the view of a grant the gate evaluates.
type ConsentGrant struct {
	ID        uuid.UUID
	Active    bool
	Scope     []Category
	ExpiresAt time.Time
}

// Covers reports whether the grant is usable for category at the given time.
// An empty category matches any non-empty scope.
func (g ConsentGrant) Covers(category Category, at time.Time) bool {
	if !g.Active || !g.ExpiresAt.After(at) || len(g.Scope) == 0 {
		return false
	}
	if category == "" {
		return true
	}
	for _, c := range g.Scope {
		if c == category {
			return true
		}
	}
	return false
}

// ConsentFinder looks up grants a patient gave a grantee that are active at
// the given instant.
type ConsentFinder interface {
	FindActiveConsent(ctx context.Context, patientID, granteeID uuid.UUID, at time.Time) ([]ConsentGrant, error)
}

type ConsentGateConfig struct {
	// AdminBypass lets SuperAdmin and HospitalAdmin through without a grant.
	// Every bypass is tagged in the audit trail.
	AdminBypass bool
	Now         func() time.Time
}

// ConsentGate decides whether the principal may touch a patient's records.
type ConsentGate struct {
	finder      ConsentFinder
	adminBypass bool
	now         func() time.Time
	log         zerolog.Logger
}

func NewConsentGate(cfg ConsentGateConfig, finder ConsentFinder, log zerolog.Logger) *ConsentGate {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &ConsentGate{finder: finder, adminBypass: cfg.AdminBypass, now: now, log: log}
}

// Authorize evaluates the consent rules for patientRaw, the target patient id
// as read from the request. Lookup failures deny.
func (g *ConsentGate) Authorize(ctx context.Context, principal Principal, policy RoutePolicy, patientRaw string) Decision {
	if !policy.ConsentRequired {
		return Allow(StageConsent, ReasonNotPatientScoped)
	}
	patientID, err := uuid.Parse(patientRaw)
	if err != nil {
		return Deny(StageConsent, ReasonPatientUnresolved)
	}

	switch principal.Role {
	case identity.RolePatient:
		if principal.ID == patientID {
			return Allow(StageConsent, ReasonSelfAccess)
		}
		return Deny(StageConsent, ReasonConsentRequired)

	case identity.RoleDoctor:
		now := g.now()
		grants, err := g.finder.FindActiveConsent(ctx, patientID, principal.ID, now)
		if err != nil {
			g.log.Error().Err(err).
				Str("patient_id", patientID.String()).
				Str("grantee_id", principal.ID.String()).
				Msg("consent lookup failed")
			return Deny(StageConsent, ReasonConsentUnavailable)
		}
		for _, grant := range grants {
			if grant.Covers(policy.Category, now) {
				d := Allow(StageConsent, ReasonConsentGranted)
				id := grant.ID
				d.GrantID = &id
				return d
			}
		}
		return Deny(StageConsent, ReasonConsentRequired)

	case identity.RoleSuperAdmin, identity.RoleHospitalAdmin:
		if g.adminBypass {
			d := Allow(StageConsent, ReasonAdminBypass)
			d.Tags = []string{TagAdminBypass}
			return d
		}
		return Deny(StageConsent, ReasonConsentRequired)
	}

	return Deny(StageConsent, ReasonConsentRequired)
}
