package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the single platform role held by an identity.
type Role string

const (
	RoleSuperAdmin    Role = "SuperAdmin"
	RoleHospitalAdmin Role = "HospitalAdmin"
	RoleDoctor        Role = "Doctor"
	RolePatient       Role = "Patient"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleHospitalAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// IsAdministrative reports whether r is an administrative role.
func (r Role) IsAdministrative() bool {
	return r == RoleSuperAdmin || r == RoleHospitalAdmin
}

// ParseRole accepts a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	for _, r := range []Role{RoleSuperAdmin, RoleHospitalAdmin, RoleDoctor, RolePatient} {
		if strings.EqualFold(string(r), s) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Identity maps to the identities table. Identities are never physically
// deleted; the CRUD collaborator flips Active instead.
type Identity struct {
	ID                         uuid.UUID  `db:"id" json:"id"`
	Email                      string     `db:"email" json:"email"`
	PasswordHash               string     `db:"password_hash" json:"-"`
	Role                       Role       `db:"role" json:"role"`
	Active                     bool       `db:"active" json:"active"`
	EmailVerified              bool       `db:"email_verified" json:"email_verified"`
	EmailVerificationToken     *string    `db:"email_verification_token" json:"-"`
	EmailVerificationExpiresAt *time.Time `db:"email_verification_expires_at" json:"-"`
	PasswordResetToken         *string    `db:"password_reset_token" json:"-"`
	PasswordResetExpiresAt     *time.Time `db:"password_reset_expires_at" json:"-"`
	TokenVersion               int        `db:"token_version" json:"token_version"`
	FailedLoginAttempts        int        `db:"failed_login_attempts" json:"failed_login_attempts"`
	LockedUntil                *time.Time `db:"locked_until" json:"locked_until,omitempty"`
	LastLoginAt                *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt                  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                  time.Time  `db:"updated_at" json:"updated_at"`
}

// IsLocked reports whether LockedUntil is set and still after now.
func (i *Identity) IsLocked(now time.Time) bool {
	return i.LockedUntil != nil && i.LockedUntil.After(now)
}

// Patch lists the mutable identity fields. Nil fields are left untouched.
// Counters (token version, failed attempts) are deliberately absent: they
// only move through the atomic repository operations.
type Patch struct {
	Email                      *string
	PasswordHash               *string
	Role                       *Role
	Active                     *bool
	EmailVerified              *bool
	EmailVerificationToken     *string
	EmailVerificationExpiresAt *time.Time
	PasswordResetToken         *string
	PasswordResetExpiresAt     *time.Time
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Email == nil && p.PasswordHash == nil && p.Role == nil && p.Active == nil &&
		p.EmailVerified == nil && p.EmailVerificationToken == nil && p.EmailVerificationExpiresAt == nil &&
		p.PasswordResetToken == nil && p.PasswordResetExpiresAt == nil
}

// LockState is the result of recording a failed login.
type LockState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// NormalizeEmail lower-cases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
