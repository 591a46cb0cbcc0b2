package cli

import (
	"context"

	"github.com/startuppulse/pulsesync/internal/models"
)

// Watch выводит изменения статусов записей, пока ctx не отменен
func (c *Cli) Watch(ctx context.Context, updates <-chan models.StatusUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Status.Reason != "" {
				c.io.Printf("%s (seq %d): %s (%s)\n", u.EntityID, u.LocalSeq, u.Status.State, u.Status.Reason)
				continue
			}
			c.io.Printf("%s (seq %d): %s\n", u.EntityID, u.LocalSeq, u.Status.State)
		}
	}
}
