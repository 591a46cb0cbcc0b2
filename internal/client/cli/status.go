package cli

import (
	"context"
	"fmt"
	"time"
)

// Status выводит состояние устройства: журнал, курсор ленты и подписку
func (c *Cli) Status(ctx context.Context) error {
	depth, err := c.store.Depth(ctx)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	cursor, err := c.store.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cursor: %w", err)
	}

	c.io.Println("=== Sync Status ===")
	c.io.Printf("Node:          %s\n", c.engine.NodeID())
	c.io.Printf("Feed cursor:   %d\n", cursor)
	if depth > 0 {
		c.io.Printf("Pending sync:  %d change(s) waiting to be synchronized\n", depth)
	} else {
		c.io.Println("Pending sync:  none, all changes synchronized")
	}

	if c.entitlements == nil {
		c.io.Println("Subscription:  not configured")
		return nil
	}
	snap := c.entitlements.Current()
	c.io.Printf("Subscription:  %s", snap.Tier)
	switch {
	case snap.Verified && !snap.ExpiresAt.IsZero():
		c.io.Printf(", verified, expires %s", snap.ExpiresAt.Format(time.RFC3339))
	case snap.PurchaseToken != "":
		c.io.Printf(", waiting for verification")
	}
	c.io.Println()
	return nil
}
