package storage

import (
	"context"

	"github.com/startuppulse/pulsesync/internal/models"
)

// MetadataStorage defines interface for storing sync metadata
type MetadataStorage interface {
	// Cursor returns the last persisted change feed cursor
	// Returns 0 if no changes have been consumed yet
	Cursor(ctx context.Context) (int64, error)

	// ClockState returns the persisted node id and Lamport counter
	// Node id is empty on first start
	ClockState(ctx context.Context) (nodeID string, counter int64, err error)

	// SaveNodeID stores the device node id
	SaveNodeID(ctx context.Context, nodeID string) error

	// Outcome returns the durable final status of a journal entry
	// ok is false if no outcome is recorded
	Outcome(ctx context.Context, seq uint64) (status models.WriteStatus, ok bool, err error)

	// Conflicts returns the conflict audit log of one entity (all entities if empty)
	Conflicts(ctx context.Context, entityID string) ([]models.ConflictRecord, error)
}

// EntitlementCache persists the last verified entitlement snapshot
type EntitlementCache interface {
	// SaveEntitlement stores the snapshot
	SaveEntitlement(ctx context.Context, snapshot models.EntitlementSnapshot) error

	// LoadEntitlement returns the stored snapshot
	// Returns FreeSnapshot if nothing is stored
	LoadEntitlement(ctx context.Context) (models.EntitlementSnapshot, error)
}
