package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("already exists")
	ErrUnauthorized = errors.New("invalid credentials")
	ErrForbidden    = errors.New("forbidden")
)

// ValidationError reports a rejected input field. It matches ErrValidation
// under errors.Is so callers can classify without knowing every field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var (
	ErrInvalidAmount    = NewValidationError("amount", "must be a positive amount up to 100000000000.00")
	ErrInvalidDate      = NewValidationError("date", "must be a date in YYYY-MM-DD format")
	ErrEmptyName        = NewValidationError("name", "is required")
	ErrNameTooLong      = NewValidationError("name", "is too long (max 200 characters)")
	ErrInvalidSheetID   = NewValidationError("sheet_id", "must reference an existing sheet")
	ErrInvalidKind      = NewValidationError("kind", "must be expense or income")
	ErrSelfInheritance  = NewValidationError("inherited_sheet_id", "a sheet cannot inherit itself")
	ErrCycle            = NewValidationError("inherited_sheet_id", "link would create an inheritance cycle")
	ErrEmptyHandle      = NewValidationError("handle", "is required")
	ErrEmptyPassword    = NewValidationError("password", "is required")
	ErrPasswordMismatch = NewValidationError("passwordconfirm", "passwords do not match")
	ErrInvalidInvite    = NewValidationError("hash", "invitation is invalid or expired")
)
