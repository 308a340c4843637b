package auditevent

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable audit record. ID is a ULID so entries sort by time.
// Seq, PrevDigest and Digest are assigned when the entry is appended and
// link it to its predecessor in the chain.
type Entry struct {
	ID           string            `db:"id" json:"id"`
	Seq          int64             `db:"seq" json:"seq"`
	ActorID      *uuid.UUID        `db:"actor_id" json:"actor_id,omitempty"`
	ActorRole    string            `db:"actor_role" json:"actor_role,omitempty"`
	Action       string            `db:"action" json:"action"`
	ResourceType string            `db:"resource_type" json:"resource_type"`
	ResourceID   string            `db:"resource_id" json:"resource_id,omitempty"`
	PatientID    *uuid.UUID        `db:"patient_id" json:"patient_id,omitempty"`
	Outcome      string            `db:"outcome" json:"outcome"`
	Reason       string            `db:"reason" json:"reason"`
	Tags         []string          `db:"tags" json:"tags,omitempty"`
	Metadata     map[string]string `db:"metadata" json:"metadata,omitempty"`
	Timestamp    time.Time         `db:"recorded_at" json:"timestamp"`
	PrevDigest   string            `db:"prev_digest" json:"prev_digest"`
	Digest       string            `db:"digest" json:"digest"`
}

// canonicalEntry fixes field order for hashing. Map keys are sorted by
// encoding/json.
type canonicalEntry struct {
	ID           string            `json:"id"`
	Seq          int64             `json:"seq"`
	ActorID      string            `json:"actor_id"`
	ActorRole    string            `json:"actor_role"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	PatientID    string            `json:"patient_id"`
	Outcome      string            `json:"outcome"`
	Reason       string            `json:"reason"`
	Tags         []string          `json:"tags"`
	Metadata     map[string]string `json:"metadata"`
	Timestamp    string            `json:"timestamp"`
	PrevDigest   string            `json:"prev_digest"`
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// canonical encodes e, digest excluded. Timestamps are encoded at
// microsecond precision so the form survives a PostgreSQL round trip.
func (e *Entry) canonical() []byte {
	c := canonicalEntry{
		ID:           e.ID,
		Seq:          e.Seq,
		ActorID:      optionalID(e.ActorID),
		ActorRole:    e.ActorRole,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		PatientID:    optionalID(e.PatientID),
		Outcome:      e.Outcome,
		Reason:       e.Reason,
		Timestamp:    e.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		PrevDigest:   e.PrevDigest,
	}
	if len(e.Tags) > 0 {
		c.Tags = e.Tags
	}
	if len(e.Metadata) > 0 {
		c.Metadata = e.Metadata
	}
	b, _ := json.Marshal(c)
	return b
}

// Filter narrows a Search. Zero fields are ignored.
type Filter struct {
	ActorID      *uuid.UUID
	PatientID    *uuid.UUID
	Outcome      string
	Action       string
	ResourceType string
	From         *time.Time
	To           *time.Time
}
