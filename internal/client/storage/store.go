package storage

import (
	"context"
	"iter"

	"github.com/startuppulse/pulsesync/internal/models"
)

// ChangeOp describes the kind of committed local store mutation
type ChangeOp string

const (
	ChangePut    ChangeOp = "put"
	ChangeDelete ChangeOp = "delete"
	ChangePurge  ChangeOp = "purge"
)

// Change is a committed mutation notification
type Change struct {
	EntityID  string
	Op        ChangeOp
	SyncState models.SyncState
}

// Tx groups record and journal operations into a single all-or-nothing unit.
// A Tx must not be used after the function it was passed to returns.
type Tx interface {
	// Get returns a copy of the record or ErrRecordNotFound
	Get(id string) (*models.LocalRecord, error)
	// Put stores the record, replacing any previous value
	Put(rec *models.LocalRecord) error
	// Delete marks the record as tombstone without erasing it
	Delete(id string) error
	// Purge erases the record completely
	Purge(id string) error

	// Enqueue appends a journal entry and assigns its LocalSeq
	Enqueue(entry *models.JournalEntry) (uint64, error)
	// Entry returns one journal entry or ErrEntryNotFound
	Entry(seq uint64) (*models.JournalEntry, error)
	// PendingFor returns unacknowledged entries of one entity in LocalSeq order
	PendingFor(entityID string) ([]*models.JournalEntry, error)
	// UpdateEntry rewrites an existing journal entry in place
	UpdateEntry(entry *models.JournalEntry) error
	// Ack removes an entry, returns ErrEntryNotFound if it is gone already
	Ack(seq uint64) error

	// SaveOutcome stores the final write status of a journal entry
	SaveOutcome(seq uint64, status models.WriteStatus) error
	// AppendConflict adds a record to the conflict audit log
	AppendConflict(c models.ConflictRecord) error
	// SetCursor persists the change feed resume cursor
	SetCursor(cursor int64) error
	// SetClock persists the Lamport counter
	SetClock(counter int64) error
}

// LocalStore defines the durable on-device document cache.
// It is the single source of truth for UI reads.
type LocalStore interface {
	// Get retrieves a record by entity id
	// Returns ErrRecordNotFound if the record doesn't exist
	Get(ctx context.Context, id string) (*models.LocalRecord, error)

	// Put stores a record
	Put(ctx context.Context, rec *models.LocalRecord) error

	// Delete marks a record as tombstone, it is not erased until purge
	Delete(ctx context.Context, id string) error

	// Scan returns a lazy, restartable sequence of records matching predicate.
	// Every range runs over its own read-only snapshot, so concurrent writes
	// are not observed mid-iteration. The loop body must not write to the store.
	Scan(ctx context.Context, predicate func(*models.LocalRecord) bool) iter.Seq2[*models.LocalRecord, error]

	// Update runs fn in a read-write transaction, all changes commit together
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn in a read-only transaction
	View(ctx context.Context, fn func(tx Tx) error) error

	// Quarantine replaces a (possibly undecodable) record with a quarantined stub
	Quarantine(ctx context.Context, id, reason string) error

	// Subscribe returns a channel of committed changes and a cancel func.
	// Slow subscribers miss notifications instead of blocking writers.
	Subscribe(buffer int) (<-chan Change, func())
}

// Journal defines the ordered queue of unacknowledged local mutations
type Journal interface {
	// Enqueue appends an entry and returns its LocalSeq
	Enqueue(ctx context.Context, entry *models.JournalEntry) (uint64, error)

	// PeekBatch returns up to maxN oldest entries in LocalSeq order
	PeekBatch(ctx context.Context, maxN int) ([]*models.JournalEntry, error)

	// Ack removes an acknowledged entry
	Ack(ctx context.Context, seq uint64) error

	// Compact merges superseded entries, returns the number removed
	Compact(ctx context.Context) (int, error)

	// Depth returns the number of queued entries
	Depth(ctx context.Context) (int, error)
}

// Store is the combined client storage used by the sync engine
type Store interface {
	LocalStore
	Journal
	MetadataStorage
}
