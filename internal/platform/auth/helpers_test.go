package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ehr/recordguard/internal/domain/identity"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only-32b")

// testClock is a settable clock shared by the services under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTokenService(t *testing.T, repo IdentityStore, clock *testClock) *TokenService {
	t.Helper()
	svc, err := NewTokenService(TokenConfig{
		SigningKey: testSigningKey,
		Issuer:     "recordguard-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        clock.Now,
	}, repo)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return svc
}

func createIdentity(t *testing.T, repo *identity.MemoryRepo, email, password string, role identity.Role) *identity.Identity {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	i := &identity.Identity{Email: email, PasswordHash: hash, Role: role, Active: true}
	if err := repo.Create(context.Background(), i); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	return i
}
