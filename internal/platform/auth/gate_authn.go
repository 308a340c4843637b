package auth

import (
	"net/http"
)

// AccessValidator is satisfied by *TokenService.
type AccessValidator interface {
	ValidateAccess(raw string) (*AccessClaims, error)
}

// AuthenticationGate turns a bearer token into a Principal.
type AuthenticationGate struct {
	tokens AccessValidator
}

func NewAuthenticationGate(tokens AccessValidator) *AuthenticationGate {
	return &AuthenticationGate{tokens: tokens}
}

// Authenticate never writes to the response. On success the returned
// request carries the Principal in its context.
func (g *AuthenticationGate) Authenticate(r *http.Request) (*http.Request, Principal, Decision) {
	raw, reason, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return r, Principal{}, Deny(StageAuthentication, reason)
	}

	claims, err := g.tokens.ValidateAccess(raw)
	if err != nil {
		return r, Principal{}, Deny(StageAuthentication, ReasonForTokenError(err))
	}

	p := Principal{
		ID:           claims.IdentityID,
		Role:         claims.Role,
		TokenVersion: claims.Version,
		TokenID:      claims.TokenID,
	}
	return r.WithContext(WithPrincipal(r.Context(), p)), p, Allow(StageAuthentication, ReasonAuthenticated)
}
