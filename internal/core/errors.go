package core

import (
	"errors"
	"fmt"
)

// Sentinels matched by errors.Is against the typed errors below.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrStorage    = errors.New("storage error")
)

// ValidationError rejects caller input before any computation runs.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an id the caller-supplied data cannot resolve.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError is returned when a template already has an instance for a window.
type ConflictError struct {
	TemplateID  string
	WindowStart Date
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("template %q already materialized for window starting %s", e.TemplateID, e.WindowStart)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// StorageError carries a storage failure through the core untouched.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// IsValidation reports whether err is a validation failure, including the
// plain sentinels returned by Validate.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrEmptyDescription) ||
		errors.Is(err, ErrEmptyUser) ||
		errors.Is(err, ErrZeroAmount)
}
