package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTokenInvalid       = errors.New("auth: token invalid")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenRevoked       = errors.New("auth: token revoked")
	ErrUnauthenticated    = errors.New("auth: unauthenticated")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrSigningKeyTooShort = fmt.Errorf("auth: signing key must be at least %d bytes", MinSigningKeyLength)
)

// AccountLockedError is returned by Login while lockedUntil is in the future.
type AccountLockedError struct {
	Until      time.Time
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("auth: account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// ReasonForTokenError maps a TokenService error onto a reason code.
func ReasonForTokenError(err error) Reason {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return ReasonTokenExpired
	case errors.Is(err, ErrTokenRevoked):
		return ReasonTokenRevoked
	default:
		return ReasonTokenInvalid
	}
}

// DecisionError carries a denied decision out of a handler so the HTTP error
// handler can render it like a gate denial.
type DecisionError struct {
	Decision Decision
	Message  string
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("auth: %s (%s)", e.Decision.Code(), e.Decision.Reason)
}
