package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/recordguard/internal/domain/identity"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	ID           uuid.UUID
	Role         identity.Role
	TokenVersion int
	TokenID      string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// UserIDFromContext returns the principal id as a string, or "" when the
// request is unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.ID.String()
	}
	return ""
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(header string) (string, Reason, bool) {
	if header == "" {
		return "", ReasonMissingToken, false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ReasonMalformedToken, false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ReasonMalformedToken, false
	}
	return token, "", true
}
