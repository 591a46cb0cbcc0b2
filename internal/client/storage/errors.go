package storage

import (
	"errors"
	"fmt"
)

// Common client storage errors
var (
	// ErrRecordNotFound indicates that local record was not found
	ErrRecordNotFound = errors.New("record not found")

	// ErrEntryNotFound indicates that journal entry was not found
	ErrEntryNotFound = errors.New("journal entry not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")

	// ErrCorruptRecord indicates that a stored record violates local store invariants
	// (undecodable bytes or failed validation). Fatal for that entity only.
	ErrCorruptRecord = errors.New("corrupt local record")
)

// CorruptRecordError carries the id of the corrupt record
type CorruptRecordError struct {
	Err error
	ID  string
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt local record %q: %v", e.ID, e.Err)
}

// Is makes errors.Is(err, ErrCorruptRecord) match
func (e *CorruptRecordError) Is(target error) bool {
	return target == ErrCorruptRecord
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}
