package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/recordguard/internal/domain/identity"
	"github.com/ehr/recordguard/internal/platform/auth"
)

var (
	ErrInvalidScope   = errors.New("consent scope must list at least one known category")
	ErrInvalidExpiry  = errors.New("consent expiry must be in the future")
	ErrInvalidGrantee = errors.New("consent grantee must be an active doctor")
)

// IdentityLookup resolves grantees.
type IdentityLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Identity, error)
}

type GrantRequest struct {
	GranteeID uuid.UUID
	Scope     []Category
	ExpiresAt time.Time
}

type Service struct {
	repo       Repository
	identities IdentityLookup
	now        func() time.Time
}

func NewService(repo Repository, identities IdentityLookup, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, identities: identities, now: now}
}

// Grant records a new Active grant from patientID to a doctor.
func (s *Service) Grant(ctx context.Context, patientID uuid.UUID, req GrantRequest) (*Grant, error) {
	scope, err := normalizeScope(req.Scope)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !req.ExpiresAt.After(now) {
		return nil, ErrInvalidExpiry
	}

	grantee, err := s.identities.GetByID(ctx, req.GranteeID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrInvalidGrantee
		}
		return nil, fmt.Errorf("load grantee: %w", err)
	}
	if grantee.Role != identity.RoleDoctor || !grantee.Active {
		return nil, ErrInvalidGrantee
	}

	g := &Grant{
		ID:        uuid.New(),
		PatientID: patientID,
		GranteeID: grantee.ID,
		Scope:     scope,
		Status:    StatusActive,
		ExpiresAt: req.ExpiresAt.UTC(),
		CreatedAt: now.UTC(),
	}
	if err := s.repo.Create(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Revoke revokes a grant owned by patientID. Grants of other patients are
// reported as not found.
func (s *Service) Revoke(ctx context.Context, patientID, grantID uuid.UUID) (*Grant, error) {
	g, err := s.repo.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if g.PatientID != patientID {
		return nil, ErrNotFound
	}
	return s.repo.Revoke(ctx, grantID, s.now().UTC())
}

// List returns the patient's grants with Status reflecting elapsed expiry.
func (s *Service) List(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for _, g := range items {
		g.Status = g.EffectiveStatus(now)
	}
	return items, total, nil
}

func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	return s.repo.ExpireStale(ctx, s.now().UTC())
}

// FindActiveConsent implements auth.ConsentFinder.
func (s *Service) FindActiveConsent(ctx context.Context, patientID, granteeID uuid.UUID, at time.Time) ([]auth.ConsentGrant, error) {
	grants, err := s.repo.FindActive(ctx, patientID, granteeID, at)
	if err != nil {
		return nil, err
	}
	out := make([]auth.ConsentGrant, 0, len(grants))
	for _, g := range grants {
		out = append(out, g.gateView())
	}
	return out, nil
}

// RunSweeper marks elapsed grants Expired every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpireStale(ctx)
			if err != nil {
				log.Error().Err(err).Msg("consent sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("expired", n).Msg("consent grants expired")
			}
		}
	}
}

func normalizeScope(in []Category) ([]Category, error) {
	if len(in) == 0 {
		return nil, ErrInvalidScope
	}
	seen := make(map[Category]bool, len(in))
	out := make([]Category, 0, len(in))
	for _, c := range in {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, c)
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}
