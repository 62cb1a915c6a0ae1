package userstore

import (
	"errors"
	"fmt"
)

// --- Models ---

// User is the single entity managed by the store. ID is assigned by the
// backend on creation and never changes afterwards.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// --- Errors ---

var (
	// ErrNotFound reports a lookup miss. It is an expected outcome.
	ErrNotFound = errors.New("user not found")

	// ErrConflict reports that the email is already held by another user.
	ErrConflict = errors.New("email already exists")

	// ErrInvalid reports a missing required field.
	ErrInvalid = errors.New("invalid user")

	// ErrStorage is matched by every *StorageError.
	ErrStorage = errors.New("storage failure")
)

// StorageError wraps an unexpected backend failure (lost connection,
// unanticipated constraint, driver error) with the store operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("userstore: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) true for any StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// storageFailure wraps err unless it already carries a store outcome.
func storageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalid) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
