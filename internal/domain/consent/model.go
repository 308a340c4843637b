package consent

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordguard/internal/platform/auth"
)

type Status string

const (
	StatusActive  Status = "Active"
	StatusRevoked Status = "Revoked"
	StatusExpired Status = "Expired"
)

// Category is a scope category a grant can cover.
type Category = auth.Category

// Grant maps to the consent_grants table. Scope is fixed at creation; only
// Status and RevokedAt change afterwards.
type Grant struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	GranteeID uuid.UUID  `db:"grantee_id" json:"grantee_id"`
	Scope     []Category `db:"scope" json:"scope"`
	Status    Status     `db:"status" json:"status"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// ActiveAt reports whether the grant can be used at t.
func (g *Grant) ActiveAt(t time.Time) bool {
	return g.Status == StatusActive && g.ExpiresAt.After(t)
}

func (g *Grant) Covers(c Category) bool {
	for _, s := range g.Scope {
		if s == c {
			return true
		}
	}
	return false
}

// EffectiveStatus reports Expired for an Active grant whose expiry has passed
// but that the sweeper has not yet marked.
func (g *Grant) EffectiveStatus(now time.Time) Status {
	if g.Status == StatusActive && !g.ExpiresAt.After(now) {
		return StatusExpired
	}
	return g.Status
}

func (g *Grant) gateView() auth.ConsentGrant {
	scope := make([]auth.Category, len(g.Scope))
	copy(scope, g.Scope)
	return auth.ConsentGrant{
		ID:        g.ID,
		Active:    g.Status == StatusActive,
		Scope:     scope,
		ExpiresAt: g.ExpiresAt,
	}
}
