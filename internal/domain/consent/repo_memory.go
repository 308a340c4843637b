package consent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is the in-process store used in development and tests.
type MemoryRepo struct {
	mu     sync.RWMutex
	grants map[uuid.UUID]*Grant
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{grants: make(map[uuid.UUID]*Grant)}
}

func cloneGrant(g *Grant) *Grant {
	cp := *g
	cp.Scope = append([]Category(nil), g.Scope...)
	if g.RevokedAt != nil {
		at := *g.RevokedAt
		cp.RevokedAt = &at
	}
	return &cp
}

func (r *MemoryRepo) Create(_ context.Context, g *Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	r.grants[g.ID] = cloneGrant(g)
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneGrant(g), nil
}

func (r *MemoryRepo) FindActive(_ context.Context, patientID, granteeID uuid.UUID, at time.Time) ([]*Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Grant
	for _, g := range r.grants {
		if g.PatientID == patientID && g.GranteeID == granteeID && g.ActiveAt(at) {
			out = append(out, cloneGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.After(out[j].ExpiresAt) })
	return out, nil
}

func (r *MemoryRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	r.mu.RLock()
	var all []*Grant
	for _, g := range r.grants {
		if g.PatientID == patientID {
			all = append(all, cloneGrant(g))
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return []*Grant{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *MemoryRepo) Revoke(_ context.Context, id uuid.UUID, at time.Time) (*Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	if g.Status != StatusActive {
		return nil, ErrNotActive
	}
	g.Status = StatusRevoked
	g.RevokedAt = &at
	return cloneGrant(g), nil
}

func (r *MemoryRepo) ExpireStale(_ context.Context, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, g := range r.grants {
		if g.Status == StatusActive && !g.ExpiresAt.After(at) {
			g.Status = StatusExpired
			n++
		}
	}
	return n, nil
}
