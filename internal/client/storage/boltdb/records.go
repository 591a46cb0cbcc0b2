package boltdb

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.etcd.io/bbolt"

	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/models"
)

// Get retrieves a record by entity id
func (s *Storage) Get(ctx context.Context, id string) (*models.LocalRecord, error) {
	var rec *models.LocalRecord
	err := s.View(ctx, func(tx storage.Tx) error {
		var err error
		rec, err = tx.Get(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put stores a record
func (s *Storage) Put(ctx context.Context, rec *models.LocalRecord) error {
	return s.Update(ctx, func(tx storage.Tx) error {
		return tx.Put(rec)
	})
}

// Delete marks a record as tombstone
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.Update(ctx, func(tx storage.Tx) error {
		return tx.Delete(id)
	})
}

// Scan iterates records matching predicate (nil matches all).
// Undecodable records are yielded as CorruptRecordError with a nil record.
func (s *Storage) Scan(ctx context.Context, predicate func(*models.LocalRecord) bool) iter.Seq2[*models.LocalRecord, error] {
	return func(yield func(*models.LocalRecord, error) bool) {
		if s.closed.Load() {
			yield(nil, storage.ErrStorageClosed)
			return
		}

		err := s.db.View(func(btx *bbolt.Tx) error {
			c := btx.Bucket(bucketRecords).Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}

				rec, err := s.decodeRecord(k, v)
				if err != nil {
					if !yield(nil, err) {
						return errStopScan
					}
					continue
				}
				if predicate != nil && !predicate(rec) {
					continue
				}
				if !yield(rec, nil) {
					return errStopScan
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopScan) {
			yield(nil, err)
		}
	}
}

var errStopScan = errors.New("scan stopped")

// Quarantine replaces the record with a quarantined stub.
// Works on records that can no longer be decoded.
func (s *Storage) Quarantine(ctx context.Context, id, reason string) error {
	return s.Update(ctx, func(tx storage.Tx) error {
		t := tx.(*boltTx)
		raw := t.tx.Bucket(bucketRecords).Get([]byte(id))

		rec := models.NewRecord(models.Entity{ID: id})
		if raw != nil {
			if decoded, err := s.decodeRecord([]byte(id), raw); err == nil {
				rec = decoded
			}
		}
		rec.Quarantined = true
		rec.Failure = reason
		if rec.BaseVersion > rec.Entity.Version {
			rec.BaseVersion = rec.Entity.Version
		}
		return t.Put(rec)
	})
}

// decodeRecord расшифровывает запись и проверяет ее инварианты
func (s *Storage) decodeRecord(key, raw []byte) (*models.LocalRecord, error) {
	var rec models.LocalRecord
	if err := s.decode(key, raw, &rec); err != nil {
		return nil, &storage.CorruptRecordError{ID: string(key), Err: err}
	}
	if err := rec.Validate(); err != nil {
		return nil, &storage.CorruptRecordError{ID: string(key), Err: err}
	}
	if rec.Entity.ID != string(key) {
		return nil, &storage.CorruptRecordError{
			ID:  string(key),
			Err: fmt.Errorf("stored id %q does not match key", rec.Entity.ID),
		}
	}
	return &rec, nil
}

func (t *boltTx) Get(id string) (*models.LocalRecord, error) {
	raw := t.tx.Bucket(bucketRecords).Get([]byte(id))
	if raw == nil {
		return nil, storage.ErrRecordNotFound
	}
	return t.s.decodeRecord([]byte(id), raw)
}

func (t *boltTx) Put(rec *models.LocalRecord) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}

	key := []byte(rec.ID())
	data, err := t.s.encode(key, rec)
	if err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketRecords).Put(key, data); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	op := storage.ChangePut
	if rec.IsTombstone() {
		op = storage.ChangeDelete
	}
	t.emit(storage.Change{EntityID: rec.ID(), Op: op, SyncState: rec.SyncState})
	return nil
}

func (t *boltTx) Delete(id string) error {
	rec, err := t.Get(id)
	if err != nil {
		return err
	}
	rec.Entity.Deleted = true
	return t.Put(rec)
}

func (t *boltTx) Purge(id string) error {
	if err := t.tx.Bucket(bucketRecords).Delete([]byte(id)); err != nil {
		return fmt.Errorf("failed to purge record: %w", err)
	}
	t.emit(storage.Change{EntityID: id, Op: storage.ChangePurge})
	return nil
}
