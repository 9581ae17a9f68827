package core

import (
	"strings"
	"time"
)

// UserRole orders permissions; higher values include lower ones.
type UserRole int

const (
	RoleNone  UserRole = -1
	RoleGuest UserRole = 0
	RoleAdmin UserRole = 100
)

// ParseUserRole maps a stored role number, unknown values become RoleNone.
func ParseUserRole(v int) UserRole {
	switch UserRole(v) {
	case RoleGuest:
		return RoleGuest
	case RoleAdmin:
		return RoleAdmin
	}
	return RoleNone
}

// AtLeast reports whether r grants the permissions of required.
func (r UserRole) AtLeast(required UserRole) bool {
	return r != RoleNone && r >= required
}

func (r UserRole) String() string {
	switch r {
	case RoleGuest:
		return "guest"
	case RoleAdmin:
		return "admin"
	}
	return "none"
}

type (
	User struct {
		ID             int64
		Handle         string
		PasswordHash   string
		Token          string
		TokenExpiresAt time.Time
		Role           UserRole
	}

	// Invitation allows exactly one signup for Handle until ExpiresAt.
	Invitation struct {
		ID        int64
		Handle    string
		Hash      string
		ExpiresAt time.Time
		Role      UserRole
	}
)

// SessionValid reports whether token is the user's live session token.
func (u User) SessionValid(token string, now time.Time) bool {
	return token != "" && u.Token == token && now.Before(u.TokenExpiresAt)
}

func (i Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// NormalizeHandle trims the handle and rejects empty values.
func NormalizeHandle(handle string) (string, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", ErrEmptyHandle
	}
	if len(handle) > maxNameLength {
		return "", NewValidationError("handle", "is too long")
	}
	return handle, nil
}
