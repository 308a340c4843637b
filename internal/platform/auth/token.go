package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ehr/recordguard/internal/domain/identity"
)

// MinSigningKeyLength is the minimum accepted HMAC secret size in bytes.
const MinSigningKeyLength = 32

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims is the JWT payload shared by access and refresh tokens. Refresh
// tokens carry no role.
type Claims struct {
	jwt.RegisteredClaims
	Role    string `json:"role,omitempty"`
	Version int    `json:"ver"`
	Type    string `json:"typ"`
}

type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	IdentityID uuid.UUID
	Role       identity.Role
	Version    int
	TokenID    string
	ExpiresAt  time.Time
}

// IdentityStore is the part of identity.Repository the token service needs.
type IdentityStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Identity, error)
	IncrementTokenVersion(ctx context.Context, id uuid.UUID) (int, error)
}

// TokenService issues and verifies HS256 session tokens. Refresh tokens are
// bound to the identity's token version so a single increment revokes every
// outstanding refresh token.
type TokenService struct {
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	identities IdentityStore
}

func NewTokenService(cfg TokenConfig, identities IdentityStore) (*TokenService, error) {
	if len(cfg.SigningKey) < MinSigningKeyLength {
		return nil, ErrSigningKeyTooShort
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("auth: token TTLs must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	key := make([]byte, len(cfg.SigningKey))
	copy(key, cfg.SigningKey)
	return &TokenService{
		key:        key,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        now,
		identities: identities,
	}, nil
}

// Issue signs a fresh access/refresh pair for the identity at its current
// token version.
func (s *TokenService) Issue(i *identity.Identity) (*TokenPair, error) {
	now := s.now()
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)

	access, err := s.sign(Claims{
		RegisteredClaims: s.registered(i.ID, now, accessExp),
		Role:             string(i.Role),
		Version:          i.TokenVersion,
		Type:             tokenTypeAccess,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(Claims{
		RegisteredClaims: s.registered(i.ID, now, refreshExp),
		Version:          i.TokenVersion,
		Type:             tokenTypeRefresh,
	})
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  jwt.NewNumericDate(accessExp).Time,
		RefreshExpiresAt: jwt.NewNumericDate(refreshExp).Time,
	}, nil
}

// ValidateAccess verifies signature, issuer, expiry and token type. It does
// not consult storage.
func (s *TokenService) ValidateAccess(raw string) (*AccessClaims, error) {
	claims, err := s.parse(raw, tokenTypeAccess)
	if err != nil {
		return nil, err
	}
	role, err := identity.ParseRole(claims.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrTokenInvalid)
	}
	return &AccessClaims{
		IdentityID: id,
		Role:       role,
		Version:    claims.Version,
		TokenID:    claims.ID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The embedded version must
// equal the identity's current token version.
func (s *TokenService) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	claims, err := s.parse(raw, tokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrTokenInvalid)
	}

	i, err := s.identities.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if !i.Active || i.TokenVersion != claims.Version {
		return nil, ErrTokenRevoked
	}
	return s.Issue(i)
}

// Revoke invalidates every refresh token issued to the identity and returns
// the new token version.
func (s *TokenService) Revoke(ctx context.Context, identityID uuid.UUID) (int, error) {
	v, err := s.identities.IncrementTokenVersion(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return v, nil
}

func (s *TokenService) registered(sub uuid.UUID, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   sub.String(),
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (s *TokenService) sign(c Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.key)
}

func (s *TokenService) parse(raw, typ string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Type != typ {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
