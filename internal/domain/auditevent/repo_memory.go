package auditevent

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo keeps the chain in append order.
type MemoryRepo struct {
	sealer  *Sealer
	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]*Entry
	head    ChainHead
}

func NewMemoryRepo(sealer *Sealer) *MemoryRepo {
	return &MemoryRepo{sealer: sealer, byID: make(map[string]*Entry)}
}

func cloneEntry(e *Entry) *Entry {
	cp := *e
	cp.Tags = append([]string(nil), e.Tags...)
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (r *MemoryRepo) Append(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = r.sealer.Seal(e, r.head)
	cp := cloneEntry(e)
	r.entries = append(r.entries, cp)
	r.byID[cp.ID] = cp
	return nil
}

func (r *MemoryRepo) GetBySeq(_ context.Context, seq int64) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Seq == seq {
			return cloneEntry(e), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepo) Range(_ context.Context, afterSeq int64, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if len(out) == limit {
			break
		}
		if e.Seq > afterSeq {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

func (r *MemoryRepo) Head(_ context.Context) (ChainHead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.head, nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntry(e), nil
}

func (r *MemoryRepo) Search(_ context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	r.mu.RLock()
	var matched []*Entry
	for _, e := range r.entries {
		if matches(e, f) {
			matched = append(matched, cloneEntry(e))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	if offset >= total {
		return []*Entry{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// All returns every entry in append order.
func (r *MemoryRepo) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = cloneEntry(e)
	}
	return out
}

func matches(e *Entry, f Filter) bool {
	if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
		return false
	}
	if f.PatientID != nil && (e.PatientID == nil || *e.PatientID != *f.PatientID) {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.Timestamp.Before(*f.To) {
		return false
	}
	return true
}
