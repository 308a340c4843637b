package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordguard/internal/domain/identity"
)

const (
	DefaultMaxLoginAttempts = 5
	DefaultLockDuration     = 15 * time.Minute
)

// LockoutStore is the part of identity.Repository that owns the failed-login
// counters. Both methods must be atomic per identity.
type LockoutStore interface {
	RecordFailedLogin(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (identity.LockState, error)
	RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

type LockoutConfig struct {
	MaxAttempts  int
	LockDuration time.Duration
	Now          func() time.Time
}

// AccountSecurityPolicy tracks failed logins and decides whether an identity
// is temporarily locked.
type AccountSecurityPolicy struct {
	store        LockoutStore
	maxAttempts  int
	lockDuration time.Duration
	now          func() time.Time
}

func NewAccountSecurityPolicy(cfg LockoutConfig, store LockoutStore) *AccountSecurityPolicy {
	p := &AccountSecurityPolicy{
		store:        store,
		maxAttempts:  cfg.MaxAttempts,
		lockDuration: cfg.LockDuration,
		now:          cfg.Now,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxLoginAttempts
	}
	if p.lockDuration <= 0 {
		p.lockDuration = DefaultLockDuration
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

func (p *AccountSecurityPolicy) IsLocked(i *identity.Identity) bool {
	return i.IsLocked(p.now())
}

// RetryAfter returns the remaining lock time rounded up to whole seconds, or
// zero when the identity is not locked.
func (p *AccountSecurityPolicy) RetryAfter(i *identity.Identity) time.Duration {
	now := p.now()
	if !i.IsLocked(now) {
		return 0
	}
	remaining := i.LockedUntil.Sub(now)
	if r := remaining.Truncate(time.Second); r < remaining {
		remaining = r + time.Second
	}
	return remaining
}

// RecordFailedLogin bumps the counter. Reaching the threshold locks the
// identity for the lock duration and resets the counter.
func (p *AccountSecurityPolicy) RecordFailedLogin(ctx context.Context, i *identity.Identity) (identity.LockState, error) {
	state, err := p.store.RecordFailedLogin(ctx, i.ID, p.maxAttempts, p.now().Add(p.lockDuration))
	if err != nil {
		return identity.LockState{}, fmt.Errorf("record failed login: %w", err)
	}
	i.FailedLoginAttempts = state.FailedAttempts
	i.LockedUntil = state.LockedUntil
	return state, nil
}

func (p *AccountSecurityPolicy) RecordSuccessfulLogin(ctx context.Context, i *identity.Identity) error {
	now := p.now()
	if err := p.store.RecordSuccessfulLogin(ctx, i.ID, now); err != nil {
		return fmt.Errorf("record successful login: %w", err)
	}
	i.FailedLoginAttempts = 0
	i.LockedUntil = nil
	i.LastLoginAt = &now
	return nil
}

// LockedError builds the error returned to a caller hitting a locked identity.
func (p *AccountSecurityPolicy) LockedError(i *identity.Identity) *AccountLockedError {
	until := p.now()
	if i.LockedUntil != nil {
		until = *i.LockedUntil
	}
	return &AccountLockedError{Until: until, RetryAfter: p.RetryAfter(i)}
}
