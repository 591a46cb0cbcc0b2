package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/client/sync"
)

// Get выводит запись, ее статус синхронизации и журнал конфликтов
func (c *Cli) Get(ctx context.Context, id string) error {
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return fmt.Errorf("record %s not found", id)
		}
		return fmt.Errorf("failed to get record: %w", err)
	}

	fields, err := json.MarshalIndent(rec.Entity.Fields, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format fields: %w", err)
	}

	status := sync.EntityStatus(rec)
	c.io.Printf("ID:           %s\n", rec.ID())
	c.io.Printf("Kind:         %s\n", rec.Entity.Kind)
	c.io.Printf("Version:      %d (base %d)\n", rec.Entity.Version, rec.BaseVersion)
	c.io.Printf("Sync state:   %s\n", rec.SyncState)
	c.io.Printf("Status:       %s\n", status.State)
	if status.Reason != "" {
		c.io.Printf("Reason:       %s\n", status.Reason)
	}
	if rec.IsTombstone() {
		c.io.Println("Deleted:      yes")
	}
	if rec.Quarantined {
		c.io.Println("Quarantined:  yes, waiting for resync")
	}
	if len(rec.ConflictedFields) > 0 {
		c.io.Printf("Conflicted:   %s\n", strings.Join(rec.ConflictedFields, ", "))
	}
	c.io.Printf("Fields:       %s\n", fields)

	conflicts, err := c.store.Conflicts(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read conflict log: %w", err)
	}
	for _, cf := range conflicts {
		c.io.Printf("Conflict at server v%d on %s\n", cf.ServerVersion, strings.Join(cf.Fields, ", "))
	}
	return nil
}

// WriteStatus выводит итоговый статус принятого изменения
func (c *Cli) WriteStatus(ctx context.Context, id string, seq uint64) error {
	status, err := c.engine.Status(ctx, id, seq)
	if err != nil {
		return err
	}
	if status.Reason != "" {
		c.io.Printf("%s (seq %d): %s (%s)\n", id, seq, status.State, status.Reason)
		return nil
	}
	c.io.Printf("%s (seq %d): %s\n", id, seq, status.State)
	return nil
}
