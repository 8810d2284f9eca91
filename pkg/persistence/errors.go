package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrAutomationNotFound indicates an automation was not found by the given identifier.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found by the given identifier.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrRunLogNotFound indicates a run log record was not found.
	ErrRunLogNotFound = errors.New("run log not found")

	// ErrVersionConflict indicates an enrollment save lost the optimistic
	// single-writer race; the caller should skip this tick.
	ErrVersionConflict = errors.New("enrollment version conflict")

	// ErrAlreadyExists indicates a record with the same identifier already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// EnrollmentError wraps enrollment-related errors with operation context.
type EnrollmentError struct {
	Op           string
	EnrollmentID string
	Err          error
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("%s operation failed for enrollment %s: %v", e.Op, e.EnrollmentID, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnrollmentError creates a new enrollment error with context.
func NewEnrollmentError(op, enrollmentID string, err error) *EnrollmentError {
	return &EnrollmentError{Op: op, EnrollmentID: enrollmentID, Err: err}
}

// IsNotFound checks if an error indicates any record was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound) ||
		errors.Is(err, ErrRunLogNotFound)
}

// IsVersionConflict checks if an error indicates a lost optimistic write.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
