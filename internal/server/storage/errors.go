package storage

import "errors"

// Common storage errors
var (
	// ErrDocumentNotFound indicates that document was not found in storage
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentExists indicates that create targets an existing document id
	ErrDocumentExists = errors.New("document already exists")

	// ErrDocumentDeleted indicates that update targets a deleted document
	ErrDocumentDeleted = errors.New("document deleted")

	// ErrVersionConflict indicates that mutation base version is older than the document
	ErrVersionConflict = errors.New("version conflict")

	// ErrForbidden indicates that caller does not own the document or the idempotency key
	ErrForbidden = errors.New("forbidden")

	// ErrCursorExpired indicates that changes after the cursor were pruned
	ErrCursorExpired = errors.New("cursor expired")

	// ErrEntitlementNotFound indicates that no entitlement is stored for the user or purchase
	ErrEntitlementNotFound = errors.New("entitlement not found")
)
