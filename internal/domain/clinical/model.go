package clinical

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordguard/internal/platform/auth"
)

// Record is a read-only clinical record of one category: an encounter, a
// prescription or a document.
type Record struct {
	ID         uuid.UUID         `db:"id" json:"id"`
	PatientID  uuid.UUID         `db:"patient_id" json:"patient_id"`
	Category   auth.Category     `db:"category" json:"category"`
	Title      string            `db:"title" json:"title"`
	Status     string            `db:"status" json:"status"`
	AuthorID   *uuid.UUID        `db:"author_id" json:"author_id,omitempty"`
	Details    map[string]string `db:"details" json:"details,omitempty"`
	RecordedAt time.Time         `db:"recorded_at" json:"recorded_at"`
}

// Categories lists the record categories served over HTTP, keyed by path
// segment.
var Categories = []struct {
	Segment      string
	Category     auth.Category
	ResourceType string
	ActionPrefix string
}{
	{"encounters", auth.CategoryEncounters, "Encounter", "encounter"},
	{"prescriptions", auth.CategoryPrescriptions, "Prescription", "prescription"},
	{"documents", auth.CategoryDocuments, "Document", "document"},
}
