package clinical

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordguard/internal/platform/auth"
)

type MemoryRepo struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[uuid.UUID]*Record)}
}

func cloneRecord(r *Record) *Record {
	cp := *r
	if r.Details != nil {
		cp.Details = make(map[string]string, len(r.Details))
		for k, v := range r.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}

func (m *MemoryRepo) Create(_ context.Context, r *Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = cloneRecord(r)
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, patientID uuid.UUID, category auth.Category, id uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok || r.PatientID != patientID || r.Category != category {
		return nil, ErrNotFound
	}
	return cloneRecord(r), nil
}

func (m *MemoryRepo) ListByPatient(_ context.Context, patientID uuid.UUID, category auth.Category, limit, offset int) ([]*Record, int, error) {
	m.mu.RLock()
	var matched []*Record
	for _, r := range m.records {
		if r.PatientID == patientID && r.Category == category {
			matched = append(matched, cloneRecord(r))
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].RecordedAt.After(matched[j].RecordedAt)
	})
	total := len(matched)
	if offset >= total {
		return []*Record{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}
