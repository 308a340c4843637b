package clinical

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ehr/recordguard/internal/platform/auth"
)

var ErrNotFound = errors.New("clinical record not found")

// Repository reads clinical records by patient. Records are owned by the
// clinical systems; Create exists for seeding and tests.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, patientID uuid.UUID, category auth.Category, id uuid.UUID) (*Record, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, category auth.Category, limit, offset int) ([]*Record, int, error)
}
