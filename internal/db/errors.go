package db

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotInitialized is returned when the store is used before Initialize
	ErrNotInitialized = errors.New("not initialized")
	// ErrNotFound is returned by mutations that address a missing row
	ErrNotFound = errors.New("record not found")
	// ErrNoFieldsProvided is returned by partial updates that change nothing
	ErrNoFieldsProvided = errors.New("no fields to update")
	// ErrInvalidImage is returned when imported bytes are not a database image
	ErrInvalidImage = errors.New("not an sqlite database image")
	// ErrInvalidInput is returned for values outside a column's domain
	ErrInvalidInput = errors.New("invalid input")
)

// StoreError wraps engine and serialization failures with the lifecycle
// operation that produced them.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsUniqueViolation reports whether err comes from a UNIQUE or PRIMARY KEY
// constraint.
func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// IsForeignKeyViolation reports whether err comes from a FOREIGN KEY
// constraint, e.g. a farm inserted for an unknown user.
func IsForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}
