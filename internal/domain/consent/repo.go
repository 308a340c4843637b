package consent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("consent grant not found")
	ErrNotActive = errors.New("consent grant is not active")
)

type Repository interface {
	Create(ctx context.Context, g *Grant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Grant, error)
	// FindActive returns grants from patientID to granteeID that are Active
	// with expiresAt strictly after at.
	FindActive(ctx context.Context, patientID, granteeID uuid.UUID, at time.Time) ([]*Grant, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Grant, int, error)
	// Revoke moves an Active grant to Revoked. Any other status yields
	// ErrNotActive.
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) (*Grant, error)
	// ExpireStale marks every Active grant with expiresAt <= at as Expired
	// and returns how many were changed.
	ExpireStale(ctx context.Context, at time.Time) (int, error)
}
