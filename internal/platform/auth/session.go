package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/recordguard/internal/domain/identity"
)

// CredentialStore is the part of identity.Repository used at login.
type CredentialStore interface {
	GetByEmail(ctx context.Context, email string) (*identity.Identity, error)
}

// LoginResult carries the identity even when the login is refused so the
// attempt can be attributed in the audit trail.
type LoginResult struct {
	Identity *identity.Identity
	Tokens   *TokenPair
}

// SessionService is the login/refresh/logout boundary.
type SessionService struct {
	credentials CredentialStore
	tokens      *TokenService
	policy      *AccountSecurityPolicy
}

func NewSessionService(credentials CredentialStore, tokens *TokenService, policy *AccountSecurityPolicy) *SessionService {
	return &SessionService{credentials: credentials, tokens: tokens, policy: policy}
}

// Login checks the lock before comparing the password. A locked identity
// gets *AccountLockedError even with the correct password; every other
// refusal is ErrInvalidCredentials.
func (s *SessionService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	res := &LoginResult{}

	i, err := s.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			burnPasswordCompare(password)
			return res, ErrInvalidCredentials
		}
		return res, fmt.Errorf("load identity: %w", err)
	}
	res.Identity = i

	if s.policy.IsLocked(i) {
		return res, s.policy.LockedError(i)
	}
	if !i.Active {
		burnPasswordCompare(password)
		return res, ErrInvalidCredentials
	}

	if err := VerifyPassword(i.PasswordHash, password); err != nil {
		if _, recErr := s.policy.RecordFailedLogin(ctx, i); recErr != nil {
			return res, recErr
		}
		return res, ErrInvalidCredentials
	}

	if err := s.policy.RecordSuccessfulLogin(ctx, i); err != nil {
		return res, err
	}
	tokens, err := s.tokens.Issue(i)
	if err != nil {
		return res, err
	}
	res.Tokens = tokens
	return res, nil
}

func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.tokens.Refresh(ctx, refreshToken)
}

// RevokeAll logs the identity out everywhere.
func (s *SessionService) RevokeAll(ctx context.Context, identityID uuid.UUID) (int, error) {
	return s.tokens.Revoke(ctx, identityID)
}
