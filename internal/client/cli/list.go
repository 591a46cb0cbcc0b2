package cli

import (
	"context"
	"fmt"

	"github.com/startuppulse/pulsesync/internal/client/sync"
	"github.com/startuppulse/pulsesync/internal/models"
)

// List выводит локальные записи заданного типа (все, если kind пустой)
func (c *Cli) List(ctx context.Context, kind string, withDeleted bool) error {
	match := func(rec *models.LocalRecord) bool {
		if kind != "" && rec.Entity.Kind != kind {
			return false
		}
		return withDeleted || !rec.IsTombstone()
	}

	count := 0
	for rec, err := range c.store.Scan(ctx, match) {
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}
		count++

		status := sync.EntityStatus(rec)
		c.io.Printf("%d. %s [%s] v%d %s", count, rec.ID(), rec.Entity.Kind, rec.Entity.Version, status.State)
		if status.Reason != "" {
			c.io.Printf(" (%s)", status.Reason)
		}
		if rec.IsTombstone() {
			c.io.Printf(" deleted")
		}
		if t := title(rec); t != "" {
			c.io.Printf(" %q", t)
		}
		c.io.Println()
	}

	if count == 0 {
		c.io.Println("No records found.")
	}
	return nil
}
