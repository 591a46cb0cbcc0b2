package storage

import (
	"context"
	"time"

	"github.com/startuppulse/pulsesync/internal/models"
)

// Entitlement represents the server record of a user's subscription
type Entitlement struct {
	ExpiresAt     time.Time
	UpdatedAt     time.Time
	UserID        string
	PurchaseToken string
	SKU           string
	Tier          models.Tier
	Active        bool
	Canceled      bool // auto-renewal canceled, stays active until ExpiresAt
}

// Allows reports whether premium mutations are allowed at now
func (e *Entitlement) Allows(now time.Time) bool {
	if e == nil || !e.Active {
		return false
	}
	return e.Tier.AtLeast(models.TierPro) && now.Before(e.ExpiresAt)
}

// EntitlementStorage defines interface for entitlement persistence
type EntitlementStorage interface {
	// SaveEntitlement creates or replaces the entitlement of a user
	SaveEntitlement(ctx context.Context, e *Entitlement) error

	// GetEntitlement retrieves the entitlement of a user
	// Returns ErrEntitlementNotFound if the user has none
	GetEntitlement(ctx context.Context, userID string) (*Entitlement, error)

	// GetEntitlementByPurchaseToken retrieves the entitlement bound to a purchase token
	// Returns ErrEntitlementNotFound if no user holds the token
	GetEntitlementByPurchaseToken(ctx context.Context, purchaseToken string) (*Entitlement, error)
}
