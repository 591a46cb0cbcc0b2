package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/startuppulse/pulsesync/internal/models"
)

// ErrEntitlementsDisabled монитор подписки не настроен
var ErrEntitlementsDisabled = errors.New("entitlement verification is not configured")

// Entitle передает событие биллинга монитору подписки
func (c *Cli) Entitle(ctx context.Context, ev models.BillingEvent) error {
	if c.entitlements == nil {
		return ErrEntitlementsDisabled
	}

	if !validBillingEvent(ev.Type) {
		return fmt.Errorf("unknown billing event %q", ev.Type)
	}

	if err := c.entitlements.HandleBillingEvent(ctx, ev); err != nil {
		return fmt.Errorf("billing event %s: %w", ev.Type, err)
	}

	snap := c.entitlements.Current()
	c.io.Printf("Tier: %s (verified: %t)\n", snap.Tier, snap.Verified)
	return nil
}
