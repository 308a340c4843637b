package auditevent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ehr/recordguard/pkg/ids"
)

// seededRepo appends n entries one second apart.
func seededRepo(t *testing.T, s *Sealer, n int) (*MemoryRepo, []*Entry) {
	t.Helper()
	repo := NewMemoryRepo(s)
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	var out []*Entry
	for i := 0; i < n; i++ {
		e := sampleEntry()
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		e.ID = ids.New(e.Timestamp)
		if err := repo.Append(context.Background(), e); err != nil {
			t.Fatalf("Append: %v", err)
		}
		out = append(out, e)
	}
	return repo, out
}

// drop removes the entry with seq from the store.
func (r *MemoryRepo) drop(seq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.Seq == seq {
			delete(r.byID, e.ID)
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// rewrite applies fn to the stored entry with seq.
func (r *MemoryRepo) rewrite(seq int64, fn func(e *Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Seq == seq {
			fn(e)
		}
	}
}

func TestService_VerifyChain(t *testing.T) {
	s := testSealer(t)
	forger, err := NewSealer([]byte(strings.Repeat("f", MinKeyLength)))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name         string
		tamper       func(r *MemoryRepo)
		wantValid    bool
		wantBrokenAt int64
	}{
		{"intact", func(r *MemoryRepo) {}, true, 0},
		{"rewritten", func(r *MemoryRepo) {
			r.rewrite(3, func(e *Entry) { e.Outcome = "Allowed" })
		}, false, 3},
		{"rewritten and resealed", func(r *MemoryRepo) {
			r.rewrite(3, func(e *Entry) {
				e.Outcome, e.Reason = "Allowed", "consent_granted"
				e.Digest = forger.Digest(e)
			})
		}, false, 3},
		{"deleted from the middle", func(r *MemoryRepo) { r.drop(2) }, false, 2},
		{"deleted from the tail", func(r *MemoryRepo) { r.drop(5) }, false, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, _ := seededRepo(t, s, 5)
			tt.tamper(repo)

			report, err := NewService(repo, s).VerifyChain(context.Background())
			if err != nil {
				t.Fatalf("VerifyChain: %v", err)
			}
			if report.Valid != tt.wantValid || report.BrokenAt != tt.wantBrokenAt {
				t.Errorf("report = %+v, want valid=%v broken_at=%d", report, tt.wantValid, tt.wantBrokenAt)
			}
			if tt.wantValid && report.Checked != 5 {
				t.Errorf("checked %d entries, want 5", report.Checked)
			}
		})
	}
}

func TestService_VerifyChainEmpty(t *testing.T) {
	s := testSealer(t)
	report, err := NewService(NewMemoryRepo(s), s).VerifyChain(context.Background())
	if err != nil || !report.Valid || report.Checked != 0 {
		t.Fatalf("empty chain = %+v, %v", report, err)
	}
}

func TestService_VerifyEntry(t *testing.T) {
	s := testSealer(t)
	forger, err := NewSealer([]byte(strings.Repeat("f", MinKeyLength)))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		tamper     func(r *MemoryRepo)
		verify     int64
		wantSealed bool
		wantLinked bool
	}{
		{"intact", func(r *MemoryRepo) {}, 3, true, true},
		{"first entry", func(r *MemoryRepo) {}, 1, true, true},
		{"rewritten and resealed", func(r *MemoryRepo) {
			r.rewrite(3, func(e *Entry) {
				e.Outcome = "Allowed"
				e.Digest = forger.Digest(e)
			})
		}, 3, false, true},
		{"predecessor deleted", func(r *MemoryRepo) { r.drop(2) }, 3, true, false},
		{"predecessor rewritten", func(r *MemoryRepo) {
			r.rewrite(2, func(e *Entry) {
				e.Reason = "admin_bypass"
				e.Digest = forger.Digest(e)
			})
		}, 3, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, entries := seededRepo(t, s, 4)
			tt.tamper(repo)

			v, err := NewService(repo, s).Verify(context.Background(), entries[tt.verify-1].ID)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if v.Sealed != tt.wantSealed || v.Linked != tt.wantLinked {
				t.Errorf("verification = %+v", v)
			}
			if v.Valid != (tt.wantSealed && tt.wantLinked) {
				t.Errorf("valid = %v", v.Valid)
			}
			if !v.Valid && v.Problem == "" {
				t.Error("invalid entry without a problem description")
			}
		})
	}
}
