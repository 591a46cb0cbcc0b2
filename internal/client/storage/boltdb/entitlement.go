package boltdb

import (
	"context"
	"fmt"

	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/models"
)

var keySnapshot = []byte("snapshot")

// SaveEntitlement stores the last verified entitlement snapshot
func (s *Storage) SaveEntitlement(ctx context.Context, snapshot models.EntitlementSnapshot) error {
	return s.Update(ctx, func(tx storage.Tx) error {
		data, err := s.encode(keySnapshot, snapshot)
		if err != nil {
			return err
		}
		if err := tx.(*boltTx).tx.Bucket(bucketEntitlement).Put(keySnapshot, data); err != nil {
			return fmt.Errorf("failed to save entitlement: %w", err)
		}
		return nil
	})
}

// LoadEntitlement returns the stored snapshot, FreeSnapshot if nothing is stored
func (s *Storage) LoadEntitlement(ctx context.Context) (models.EntitlementSnapshot, error) {
	snapshot := models.FreeSnapshot()
	err := s.View(ctx, func(tx storage.Tx) error {
		raw := tx.(*boltTx).tx.Bucket(bucketEntitlement).Get(keySnapshot)
		if raw == nil {
			return nil
		}
		return s.decode(keySnapshot, raw, &snapshot)
	})
	if err != nil {
		return models.FreeSnapshot(), fmt.Errorf("failed to load entitlement: %w", err)
	}
	return snapshot, nil
}
