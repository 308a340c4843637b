package identity

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates an active identity. The caller supplies an already
// hashed password.
func (s *Service) Register(ctx context.Context, email, passwordHash string, role Role) (*Identity, error) {
	email = NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("invalid email %q", email)
	}
	if passwordHash == "" {
		return nil, fmt.Errorf("password hash is required")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	i := &Identity{
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		Active:       true,
	}
	if err := s.repo.Create(ctx, i); err != nil {
		return nil, err
	}
	return i, nil
}

// Deactivate marks the identity inactive. Refresh fails from then on, but
// access tokens already issued stay valid until they expire or the caller
// revokes the sessions.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*Identity, error) {
	inactive := false
	return s.repo.Update(ctx, id, Patch{Active: &inactive})
}
