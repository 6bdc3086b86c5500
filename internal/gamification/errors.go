package gamification

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateAward is returned by a store when an award with the same
	// (user, reason, source event) already exists. The engine reports it as a
	// successful no-op.
	ErrDuplicateAward = errors.New("gamification: award already exists")

	ErrProfileNotFound = errors.New("gamification: profile not found")
)

// ValidationError rejects malformed input before anything is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// PersistenceError wraps a store failure. Retrying the whole operation is
// safe because awards are keyed by source event.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type NotFoundError struct {
	UserID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no gamification profile for user %s", e.UserID)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// persistErr classifies an error coming out of a unit of work. Domain errors
// pass through untouched; everything else is a store failure.
func persistErr(op string, userID uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	var nf *NotFoundError
	switch {
	case errors.As(err, &ve), errors.As(err, &nf):
		return err
	case errors.Is(err, ErrProfileNotFound):
		return &NotFoundError{UserID: userID}
	}
	return &PersistenceError{Op: op, Err: err}
}
