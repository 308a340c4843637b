package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordguard/internal/domain/identity"
)

type sessionFixture struct {
	repo     *identity.MemoryRepo
	clock    *testClock
	tokens   *TokenService
	policy   *AccountSecurityPolicy
	sessions *SessionService
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{repo: identity.NewMemoryRepo(), clock: newTestClock()}
	f.tokens = newTestTokenService(t, f.repo, f.clock)
	f.policy = NewAccountSecurityPolicy(LockoutConfig{MaxAttempts: 5, LockDuration: 15 * time.Minute, Now: f.clock.Now}, f.repo)
	f.sessions = NewSessionService(f.repo, f.tokens, f.policy)
	return f
}

func TestSessionService_LoginSuccess(t *testing.T) {
	f := newSessionFixture(t)
	i := createIdentity(t, f.repo, "doc@example.com", "s3cret-pass", identity.RoleDoctor)

	res, err := f.sessions.Login(context.Background(), "DOC@example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Tokens == nil || res.Identity.ID != i.ID {
		t.Fatalf("unexpected result %+v", res)
	}
	claims, err := f.tokens.ValidateAccess(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.IdentityID != i.ID || claims.Role != identity.RoleDoctor {
		t.Errorf("unexpected claims %+v", claims)
	}

	stored, _ := f.repo.GetByID(context.Background(), i.ID)
	if stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(f.clock.Now()) {
		t.Errorf("expected lastLoginAt %v, got %v", f.clock.Now(), stored.LastLoginAt)
	}
}

func TestSessionService_LoginUnknownEmail(t *testing.T) {
	f := newSessionFixture(t)
	res, err := f.sessions.Login(context.Background(), "nobody@example.com", "whatever")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if res.Identity != nil {
		t.Errorf("expected no identity for unknown email")
	}
}

func TestSessionService_LoginInactiveIdentity(t *testing.T) {
	f := newSessionFixture(t)
	i := createIdentity(t, f.repo, "gone@example.com", "pw-123456", identity.RolePatient)
	inactive := false
	if _, err := f.repo.Update(context.Background(), i.ID, identity.Patch{Active: &inactive}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := f.sessions.Login(context.Background(), "gone@example.com", "pw-123456"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

// Five failed logins lock the account; the correct password is refused
// until the lock elapses, after which login succeeds with a reset counter.
func TestSessionService_LockoutScenario(t *testing.T) {
	f := newSessionFixture(t)
	i := createIdentity(t, f.repo, "u@example.com", "right-password", identity.RoleDoctor)
	ctx := context.Background()

	for n := 1; n <= 5; n++ {
		_, err := f.sessions.Login(ctx, "u@example.com", "wrong-password")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", n, err)
		}
	}

	stored, _ := f.repo.GetByID(ctx, i.ID)
	if stored.LockedUntil == nil || !stored.LockedUntil.Equal(f.clock.Now().Add(15*time.Minute)) {
		t.Fatalf("expected lock until now+15m, got %v", stored.LockedUntil)
	}
	if stored.FailedLoginAttempts != 0 {
		t.Errorf("expected counter reset on lock, got %d", stored.FailedLoginAttempts)
	}

	_, err := f.sessions.Login(ctx, "u@example.com", "right-password")
	var locked *AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected AccountLockedError, got %v", err)
	}
	if locked.RetryAfter != 15*time.Minute {
		t.Errorf("expected retry after 15m, got %v", locked.RetryAfter)
	}

	f.clock.Advance(10 * time.Minute)
	if _, err := f.sessions.Login(ctx, "u@example.com", "right-password"); !errors.As(err, &locked) {
		t.Fatalf("expected lock to hold after 10m, got %v", err)
	}
	if locked.RetryAfter != 5*time.Minute {
		t.Errorf("expected retry after 5m, got %v", locked.RetryAfter)
	}

	f.clock.Advance(5 * time.Minute)
	res, err := f.sessions.Login(ctx, "u@example.com", "right-password")
	if err != nil {
		t.Fatalf("expected success after lock elapsed, got %v", err)
	}
	if res.Tokens == nil {
		t.Fatal("expected tokens")
	}
	stored, _ = f.repo.GetByID(ctx, i.ID)
	if stored.FailedLoginAttempts != 0 || stored.LockedUntil != nil {
		t.Errorf("expected clean lock state, got attempts=%d until=%v", stored.FailedLoginAttempts, stored.LockedUntil)
	}
}

func TestSessionService_LockedIdentitySkipsPasswordCheck(t *testing.T) {
	f := newSessionFixture(t)
	i := createIdentity(t, f.repo, "l@example.com", "pw-123456", identity.RoleDoctor)
	until := f.clock.Now().Add(time.Minute)
	if _, err := f.repo.RecordFailedLogin(context.Background(), i.ID, 1, until); err != nil {
		t.Fatalf("RecordFailedLogin: %v", err)
	}

	var locked *AccountLockedError
	if _, err := f.sessions.Login(context.Background(), "l@example.com", "wrong"); !errors.As(err, &locked) {
		t.Fatalf("expected AccountLockedError, got %v", err)
	}
	stored, _ := f.repo.GetByID(context.Background(), i.ID)
	if stored.FailedLoginAttempts != 0 {
		t.Errorf("locked attempts must not count, got %d", stored.FailedLoginAttempts)
	}
}

func TestSessionService_RevokeAllThenRefresh(t *testing.T) {
	f := newSessionFixture(t)
	createIdentity(t, f.repo, "r@example.com", "pw-123456", identity.RolePatient)

	res, err := f.sessions.Login(context.Background(), "r@example.com", "pw-123456")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.sessions.RevokeAll(context.Background(), res.Identity.ID); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if _, err := f.sessions.Refresh(context.Background(), res.Tokens.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestSessionService_RevokeAllUnknownIdentity(t *testing.T) {
	f := newSessionFixture(t)
	if _, err := f.sessions.RevokeAll(context.Background(), uuid.New()); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountSecurityPolicy_RetryAfterRoundsUp(t *testing.T) {
	clock := newTestClock()
	p := NewAccountSecurityPolicy(LockoutConfig{Now: clock.Now}, identity.NewMemoryRepo())
	until := clock.Now().Add(90*time.Second + 200*time.Millisecond)
	i := &identity.Identity{LockedUntil: &until}

	if !p.IsLocked(i) {
		t.Fatal("expected locked")
	}
	if got := p.RetryAfter(i); got != 91*time.Second {
		t.Errorf("expected 91s, got %v", got)
	}
	if got := p.RetryAfter(&identity.Identity{}); got != 0 {
		t.Errorf("expected 0 for unlocked identity, got %v", got)
	}
}
