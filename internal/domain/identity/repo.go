package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("identity: not found")
	ErrEmailTaken = errors.New("identity: email already registered")
)

// Repository is the identity persistence boundary. IncrementTokenVersion,
// RecordFailedLogin and RecordSuccessfulLogin must be atomic with respect to
// concurrent callers on other process instances.
type Repository interface {
	Create(ctx context.Context, i *Identity) error
	GetByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	Update(ctx context.Context, id uuid.UUID, patch Patch) (*Identity, error)

	// IncrementTokenVersion bumps token_version by one and returns the new value.
	IncrementTokenVersion(ctx context.Context, id uuid.UUID) (int, error)

	// RecordFailedLogin increments failed_login_attempts. When the new count
	// reaches threshold the counter is reset to zero and locked_until is set
	// to lockUntil.
	RecordFailedLogin(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (LockState, error)

	// RecordSuccessfulLogin zeroes failed_login_attempts and stamps last_login_at.
	RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}
