package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is a thread-safe, in-memory Repository for development and
// tests. The mutex gives the same atomicity the SQL statements provide.
type MemoryRepo struct {
	mu         sync.Mutex
	identities map[uuid.UUID]*Identity
	byEmail    map[string]uuid.UUID
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		identities: make(map[uuid.UUID]*Identity),
		byEmail:    make(map[string]uuid.UUID),
	}
}

func (r *MemoryRepo) Create(_ context.Context, i *Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := NormalizeEmail(i.Email)
	if _, ok := r.byEmail[email]; ok {
		return ErrEmailTaken
	}
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	now := time.Now().UTC()
	i.Email = email
	i.CreatedAt = now
	i.UpdatedAt = now

	cp := *i
	r.identities[i.ID] = &cp
	r.byEmail[email] = i.ID
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (r *MemoryRepo) GetByEmail(_ context.Context, email string) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.identities[id]
	return &cp, nil
}

func (r *MemoryRepo) Update(_ context.Context, id uuid.UUID, patch Patch) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Email != nil {
		email := NormalizeEmail(*patch.Email)
		if other, taken := r.byEmail[email]; taken && other != id {
			return nil, ErrEmailTaken
		}
		delete(r.byEmail, i.Email)
		r.byEmail[email] = id
		i.Email = email
	}
	if patch.PasswordHash != nil {
		i.PasswordHash = *patch.PasswordHash
	}
	if patch.Role != nil {
		i.Role = *patch.Role
	}
	if patch.Active != nil {
		i.Active = *patch.Active
	}
	if patch.EmailVerified != nil {
		i.EmailVerified = *patch.EmailVerified
	}
	if patch.EmailVerificationToken != nil {
		i.EmailVerificationToken = patch.EmailVerificationToken
	}
	if patch.EmailVerificationExpiresAt != nil {
		i.EmailVerificationExpiresAt = patch.EmailVerificationExpiresAt
	}
	if patch.PasswordResetToken != nil {
		i.PasswordResetToken = patch.PasswordResetToken
	}
	if patch.PasswordResetExpiresAt != nil {
		i.PasswordResetExpiresAt = patch.PasswordResetExpiresAt
	}
	i.UpdatedAt = time.Now().UTC()

	cp := *i
	return &cp, nil
}

func (r *MemoryRepo) IncrementTokenVersion(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.identities[id]
	if !ok {
		return 0, ErrNotFound
	}
	i.TokenVersion++
	i.UpdatedAt = time.Now().UTC()
	return i.TokenVersion, nil
}

func (r *MemoryRepo) RecordFailedLogin(_ context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (LockState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.identities[id]
	if !ok {
		return LockState{}, ErrNotFound
	}
	i.FailedLoginAttempts++
	if i.FailedLoginAttempts >= threshold {
		i.FailedLoginAttempts = 0
		until := lockUntil
		i.LockedUntil = &until
	}
	i.UpdatedAt = time.Now().UTC()

	state := LockState{FailedAttempts: i.FailedLoginAttempts}
	if i.LockedUntil != nil {
		until := *i.LockedUntil
		state.LockedUntil = &until
	}
	return state, nil
}

func (r *MemoryRepo) RecordSuccessfulLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.identities[id]
	if !ok {
		return ErrNotFound
	}
	i.FailedLoginAttempts = 0
	i.LockedUntil = nil
	loginAt := at
	i.LastLoginAt = &loginAt
	i.UpdatedAt = time.Now().UTC()
	return nil
}
