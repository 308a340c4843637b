package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/recordguard/internal/platform/auth"
	"github.com/ehr/recordguard/pkg/validate"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code    string            `json:"code"`
	Reason  string            `json:"reason,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

var decisionMessages = map[auth.Reason]string{
	auth.ReasonMissingToken:       "authentication required",
	auth.ReasonMalformedToken:     "malformed authorization header",
	auth.ReasonTokenInvalid:       "invalid token",
	auth.ReasonTokenExpired:       "token expired",
	auth.ReasonTokenRevoked:       "token revoked",
	auth.ReasonRoleForbidden:      "role not permitted for this operation",
	auth.ReasonConsentRequired:    "patient consent required",
	auth.ReasonConsentUnavailable: "consent service unavailable",
	auth.ReasonPatientUnresolved:  "target patient could not be resolved",
	auth.ReasonAccountLocked:      "account temporarily locked",
	auth.ReasonInvalidCredentials: "invalid email or password",
}

// Translate maps a denied decision to its response status and body. msg
// overrides the default message when set.
func Translate(d auth.Decision, msg string) (int, ErrorBody) {
	if msg == "" {
		msg = decisionMessages[d.Reason]
	}
	if msg == "" {
		msg = http.StatusText(d.HTTPStatus())
	}
	return d.HTTPStatus(), ErrorBody{Code: d.Code(), Reason: string(d.Reason), Message: msg}
}

// statusCodes names the stable code for plain HTTP errors.
var statusCodes = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusUnauthorized:        "UNAUTHENTICATED",
	http.StatusForbidden:           "FORBIDDEN",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusMethodNotAllowed:    "METHOD_NOT_ALLOWED",
	http.StatusConflict:            "CONFLICT",
	http.StatusUnprocessableEntity: "UNPROCESSABLE_ENTITY",
	http.StatusTooManyRequests:     "RATE_LIMITED",
	http.StatusServiceUnavailable:  "UNAVAILABLE",
	http.StatusGatewayTimeout:      "TIMEOUT",
}

func codeForStatus(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= 500 {
		return "INTERNAL"
	}
	return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}

// statusForError returns the status ErrorHandler renders for err.
func statusForError(err error) int {
	var de *auth.DecisionError
	var ve *validate.Error
	var he *echo.HTTPError
	switch {
	case errors.As(err, &de):
		return de.Decision.HTTPStatus()
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every error as ErrorBody. Denied decisions carry a
// Retry-After header when the decision has one.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := statusForError(err)
		var body ErrorBody

		var de *auth.DecisionError
		var ve *validate.Error
		var he *echo.HTTPError
		switch {
		case errors.As(err, &de):
			status, body = Translate(de.Decision, de.Message)
			if ra := de.Decision.RetryAfter; ra > 0 {
				secs := int(math.Ceil(ra.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
			}
		case errors.As(err, &ve):
			body = ErrorBody{Code: "VALIDATION_FAILED", Message: "request validation failed", Fields: ve.Fields}
		case errors.As(err, &he):
			body = ErrorBody{Code: codeForStatus(status), Message: fmt.Sprint(he.Message)}
		case status == http.StatusGatewayTimeout:
			body = ErrorBody{Code: codeForStatus(status), Message: "request timed out"}
		default:
			logger.Error().Err(err).Str("request_id", RequestIDFrom(c)).Msg("unhandled error")
			body = ErrorBody{Code: codeForStatus(status), Message: "internal server error"}
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}
