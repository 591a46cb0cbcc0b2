package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/models"
)

var (
	keySalt   = []byte("salt")
	keyCursor = []byte("cursor")
	keyNodeID = []byte("node_id")
	keyClock  = []byte("clock")
)

func putInt64(bucket *bbolt.Bucket, key []byte, v int64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return bucket.Put(key, b)
}

func getInt64(bucket *bbolt.Bucket, key []byte) (int64, error) {
	b := bucket.Get(key)
	if b == nil {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid %s value length: %d", key, len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// Cursor returns the last persisted change feed cursor
// Returns 0 if no changes have been consumed yet
func (s *Storage) Cursor(ctx context.Context) (int64, error) {
	var cursor int64
	err := s.View(ctx, func(tx storage.Tx) error {
		var err error
		cursor, err = getInt64(tx.(*boltTx).tx.Bucket(bucketMetadata), keyCursor)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
	return cursor, nil
}

// ClockState returns the persisted node id and Lamport counter
func (s *Storage) ClockState(ctx context.Context) (string, int64, error) {
	var (
		nodeID  string
		counter int64
	)
	err := s.View(ctx, func(tx storage.Tx) error {
		meta := tx.(*boltTx).tx.Bucket(bucketMetadata)
		nodeID = string(meta.Get(keyNodeID))
		var err error
		counter, err = getInt64(meta, keyClock)
		return err
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to get clock state: %w", err)
	}
	return nodeID, counter, nil
}

// SaveNodeID stores the device node id
func (s *Storage) SaveNodeID(ctx context.Context, nodeID string) error {
	return s.Update(ctx, func(tx storage.Tx) error {
		if err := tx.(*boltTx).tx.Bucket(bucketMetadata).Put(keyNodeID, []byte(nodeID)); err != nil {
			return fmt.Errorf("failed to save node id: %w", err)
		}
		return nil
	})
}

// Outcome returns the durable final status of a journal entry
func (s *Storage) Outcome(ctx context.Context, seq uint64) (models.WriteStatus, bool, error) {
	var (
		status models.WriteStatus
		found  bool
	)
	err := s.View(ctx, func(tx storage.Tx) error {
		key := seqKey(seq)
		raw := tx.(*boltTx).tx.Bucket(bucketOutcomes).Get(key)
		if raw == nil {
			return nil
		}
		found = true
		return s.decode(key, raw, &status)
	})
	if err != nil {
		return models.WriteStatus{}, false, fmt.Errorf("failed to get outcome: %w", err)
	}
	return status, found, nil
}

// Conflicts returns the conflict audit log of one entity (all entities if empty)
func (s *Storage) Conflicts(ctx context.Context, entityID string) ([]models.ConflictRecord, error) {
	var out []models.ConflictRecord
	err := s.View(ctx, func(tx storage.Tx) error {
		var prefix []byte
		if entityID != "" {
			prefix = idxPrefix(entityID)
		}

		c := tx.(*boltTx).tx.Bucket(bucketConflicts).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec models.ConflictRecord
			if err := s.decode(k, v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get conflicts: %w", err)
	}
	return out, nil
}

func (t *boltTx) SetCursor(cursor int64) error {
	if err := putInt64(t.tx.Bucket(bucketMetadata), keyCursor, cursor); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (t *boltTx) SetClock(counter int64) error {
	if err := putInt64(t.tx.Bucket(bucketMetadata), keyClock, counter); err != nil {
		return fmt.Errorf("failed to save clock: %w", err)
	}
	return nil
}
