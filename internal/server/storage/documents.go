package storage

import (
	"context"
	"time"

	"github.com/startuppulse/pulsesync/internal/models"
)

// Document represents the authoritative server state of a document
type Document struct {
	ModifiedAt time.Time     // server wall clock of the last change, used for retention
	Fields     models.Fields // nil for deleted documents
	ID         string
	Kind       string
	OwnerID    string
	Version    int64 // incremented on every applied mutation
	UpdatedAt  int64 // client Lamport timestamp of the last mutation
	Cursor     int64 // position of the last change in the change feed
	Deleted    bool
}

// Mutation is one client write submitted to the document service
type Mutation struct {
	Fields         models.Fields
	DocumentID     string
	Kind           string
	OwnerID        string
	IdempotencyKey string
	Type           models.MutationType
	BaseVersion    int64
	UpdatedAt      int64
}

// MutationResult is the acknowledgement of an applied mutation.
// Document is nil when a delete targeted a missing document.
type MutationResult struct {
	Document      *Document
	ServerVersion int64
	Cursor        int64
	Duplicate     bool // mutation was already applied under the same idempotency key
}

// DocumentStorage defines interface for document and change feed persistence
type DocumentStorage interface {
	// ApplyMutation validates and applies a mutation in one transaction.
	// Replaying an idempotency key returns the original result with Duplicate set.
	// Returns ErrDocumentExists, ErrDocumentDeleted, ErrVersionConflict or ErrForbidden
	// when the mutation cannot be applied.
	ApplyMutation(ctx context.Context, m *Mutation) (*MutationResult, error)

	// GetDocument retrieves a document, deleted documents included
	// Returns ErrDocumentNotFound if the document doesn't exist
	GetDocument(ctx context.Context, id string) (*Document, error)

	// ChangesAfter returns documents changed after the cursor in cursor order,
	// filtered by kind when kinds is not empty.
	// Returns ErrCursorExpired if changes after the cursor were pruned
	ChangesAfter(ctx context.Context, after int64, kinds []string, limit int) ([]*Document, error)

	// LatestCursor returns the cursor of the most recent change
	LatestCursor(ctx context.Context) (int64, error)

	// PruneTombstones erases deleted documents and idempotency keys older than before
	// Returns the number of erased documents
	PruneTombstones(ctx context.Context, before time.Time) (int, error)
}
