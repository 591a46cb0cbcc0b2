package boltdb

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/crdt"
	"github.com/startuppulse/pulsesync/internal/models"
)

// idxKey ключ индекса журнала: entityID + 0x00 + seq (big-endian),
// поэтому записи одной сущности лежат подряд в порядке LocalSeq
func idxKey(entityID string, seq uint64) []byte {
	k := make([]byte, 0, len(entityID)+9)
	k = append(k, entityID...)
	k = append(k, 0)
	return append(k, seqKey(seq)...)
}

func idxPrefix(entityID string) []byte {
	return append([]byte(entityID), 0)
}

// Enqueue appends an entry and returns its LocalSeq
func (s *Storage) Enqueue(ctx context.Context, entry *models.JournalEntry) (uint64, error) {
	var seq uint64
	err := s.Update(ctx, func(tx storage.Tx) error {
		var err error
		seq, err = tx.Enqueue(entry)
		return err
	})
	return seq, err
}

// PeekBatch returns up to maxN oldest entries in LocalSeq order
func (s *Storage) PeekBatch(ctx context.Context, maxN int) ([]*models.JournalEntry, error) {
	var entries []*models.JournalEntry
	err := s.View(ctx, func(tx storage.Tx) error {
		c := tx.(*boltTx).tx.Bucket(bucketJournal).Cursor()
		for k, v := c.First(); k != nil && (maxN <= 0 || len(entries) < maxN); k, v = c.Next() {
			entry, err := s.decodeEntry(k, v)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Ack removes an acknowledged entry
func (s *Storage) Ack(ctx context.Context, seq uint64) error {
	return s.Update(ctx, func(tx storage.Tx) error {
		return tx.Ack(seq)
	})
}

// Compact merges superseded entries of the same entity, returns the number removed
func (s *Storage) Compact(ctx context.Context) (int, error) {
	var removed int
	err := s.Update(ctx, func(tx storage.Tx) error {
		t := tx.(*boltTx)

		var entries []*models.JournalEntry
		c := t.tx.Bucket(bucketJournal).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			entry, err := s.decodeEntry(k, v)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}

		res := crdt.Compact(entries)
		if len(res.Removed) == 0 {
			return nil
		}

		for _, seq := range res.Removed {
			if err := t.Ack(seq); err != nil {
				return fmt.Errorf("failed to drop compacted entry %d: %w", seq, err)
			}
		}
		for _, entry := range res.Kept {
			if err := t.UpdateEntry(entry); err != nil {
				return err
			}
		}
		removed = len(res.Removed)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Depth returns the number of queued entries
func (s *Storage) Depth(ctx context.Context) (int, error) {
	var n int
	err := s.View(ctx, func(tx storage.Tx) error {
		n = tx.(*boltTx).tx.Bucket(bucketJournal).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *Storage) decodeEntry(key, raw []byte) (*models.JournalEntry, error) {
	var entry models.JournalEntry
	if err := s.decode(key, raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode journal entry %d: %w", keySeq(key), err)
	}
	return &entry, nil
}

func (t *boltTx) Enqueue(entry *models.JournalEntry) (uint64, error) {
	if entry == nil || entry.EntityID == "" {
		return 0, fmt.Errorf("journal entry must have entity id")
	}
	if !entry.Mutation.Valid() {
		return 0, fmt.Errorf("unknown mutation type %q", entry.Mutation)
	}

	journal := t.tx.Bucket(bucketJournal)
	seq, err := journal.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate local seq: %w", err)
	}

	entry.LocalSeq = seq
	if entry.IdempotencyKey == "" {
		entry.IdempotencyKey = uuid.NewString()
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now()
	}

	if err := t.putEntry(entry); err != nil {
		return 0, err
	}
	if err := t.tx.Bucket(bucketJournalIdx).Put(idxKey(entry.EntityID, seq), nil); err != nil {
		return 0, fmt.Errorf("failed to index journal entry: %w", err)
	}
	return seq, nil
}

func (t *boltTx) putEntry(entry *models.JournalEntry) error {
	key := seqKey(entry.LocalSeq)
	data, err := t.s.encode(key, entry)
	if err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketJournal).Put(key, data); err != nil {
		return fmt.Errorf("failed to save journal entry: %w", err)
	}
	return nil
}

func (t *boltTx) getEntry(seq uint64) (*models.JournalEntry, error) {
	key := seqKey(seq)
	raw := t.tx.Bucket(bucketJournal).Get(key)
	if raw == nil {
		return nil, storage.ErrEntryNotFound
	}
	return t.s.decodeEntry(key, raw)
}

func (t *boltTx) Entry(seq uint64) (*models.JournalEntry, error) {
	return t.getEntry(seq)
}

func (t *boltTx) PendingFor(entityID string) ([]*models.JournalEntry, error) {
	var entries []*models.JournalEntry
	prefix := idxPrefix(entityID)

	c := t.tx.Bucket(bucketJournalIdx).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		entry, err := t.getEntry(keySeq(k[len(prefix):]))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (t *boltTx) UpdateEntry(entry *models.JournalEntry) error {
	existing, err := t.getEntry(entry.LocalSeq)
	if err != nil {
		return err
	}
	if existing.EntityID != entry.EntityID {
		return fmt.Errorf("journal entry %d belongs to %q, not %q",
			entry.LocalSeq, existing.EntityID, entry.EntityID)
	}
	return t.putEntry(entry)
}

func (t *boltTx) Ack(seq uint64) error {
	entry, err := t.getEntry(seq)
	if err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketJournal).Delete(seqKey(seq)); err != nil {
		return fmt.Errorf("failed to delete journal entry: %w", err)
	}
	if err := t.tx.Bucket(bucketJournalIdx).Delete(idxKey(entry.EntityID, seq)); err != nil {
		return fmt.Errorf("failed to delete journal index: %w", err)
	}
	return nil
}

// outcomes: seq -> WriteStatus; старые записи вытесняются по seq
func (t *boltTx) SaveOutcome(seq uint64, status models.WriteStatus) error {
	bucket := t.tx.Bucket(bucketOutcomes)
	key := seqKey(seq)
	data, err := t.s.encode(key, status)
	if err != nil {
		return err
	}
	if err := bucket.Put(key, data); err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}

	if seq <= maxOutcomes {
		return nil
	}
	floor := seq - maxOutcomes
	c := bucket.Cursor()
	for k, _ := c.First(); k != nil && keySeq(k) <= floor; k, _ = c.First() {
		if err := c.Delete(); err != nil {
			return fmt.Errorf("failed to trim outcomes: %w", err)
		}
	}
	return nil
}

func (t *boltTx) AppendConflict(rec models.ConflictRecord) error {
	bucket := t.tx.Bucket(bucketConflicts)
	n, err := bucket.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to allocate conflict seq: %w", err)
	}
	key := idxKey(rec.EntityID, n)
	data, err := t.s.encode(key, rec)
	if err != nil {
		return err
	}
	if err := bucket.Put(key, data); err != nil {
		return fmt.Errorf("failed to save conflict: %w", err)
	}
	return nil
}

// compile-time interface checks
var (
	_ storage.Store            = (*Storage)(nil)
	_ storage.EntitlementCache = (*Storage)(nil)
	_ storage.Tx               = (*boltTx)(nil)
)
