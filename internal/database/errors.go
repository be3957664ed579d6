package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Sentinel errors returned by the store. Use errors.Is to test for them; the
// underlying driver error, when there is one, stays reachable through
// errors.As.
var (
	// ErrNotFound indicates a lookup by id or external id matched nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a unique key collision.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates a missing or malformed input field.
	ErrValidation = errors.New("validation failed")
	// ErrStorageUnavailable indicates the pool is exhausted or the engine
	// cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrIntegrityViolation indicates a foreign-key violation.
	ErrIntegrityViolation = errors.New("integrity violation")
)

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is reports ValidationError as ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// classifyError maps driver and pool errors onto the store's taxonomy. Errors
// that already carry a sentinel, and errors it does not recognize, are returned
// unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrNotFound, ErrConflict, ErrValidation, ErrStorageUnavailable, ErrIntegrityViolation} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %w", ErrIntegrityViolation, err)
		case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrFull, sqlite3.ErrReadonly:
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return err
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}

// logFailure records a failed operation. Caller mistakes are warnings; anything
// else is an error.
func logFailure(log *logrus.Entry, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrValidation), errors.Is(err, ErrConflict), errors.Is(err, ErrIntegrityViolation):
		log.WithError(err).Warn(msg)
	default:
		log.WithError(err).Error(msg)
	}
}
