package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/internal/server/storage"
)

const entitlementColumns = `user_id, purchase_token, sku, tier, active, canceled, expires_at, updated_at`

// SaveEntitlement creates or replaces the entitlement of a user
func (s *Storage) SaveEntitlement(ctx context.Context, e *storage.Entitlement) error {
	if e.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entitlements (`+entitlementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			purchase_token = excluded.purchase_token,
			sku = excluded.sku,
			tier = excluded.tier,
			active = excluded.active,
			canceled = excluded.canceled,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`,
		e.UserID,
		e.PurchaseToken,
		e.SKU,
		string(e.Tier),
		boolToInt(e.Active),
		boolToInt(e.Canceled),
		e.ExpiresAt.Unix(),
		e.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save entitlement: %w", err)
	}
	return nil
}

// GetEntitlement retrieves the entitlement of a user
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*storage.Entitlement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = ?`, userID)
	return scanEntitlement(row)
}

// GetEntitlementByPurchaseToken retrieves the entitlement bound to a purchase token
func (s *Storage) GetEntitlementByPurchaseToken(ctx context.Context, purchaseToken string) (*storage.Entitlement, error) {
	if purchaseToken == "" {
		return nil, storage.ErrEntitlementNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE purchase_token = ? ORDER BY updated_at DESC LIMIT 1`,
		purchaseToken,
	)
	return scanEntitlement(row)
}

func scanEntitlement(row scanner) (*storage.Entitlement, error) {
	e := &storage.Entitlement{}
	var (
		tier                 string
		active, canceled     int
		expiresAt, updatedAt int64
	)
	err := row.Scan(
		&e.UserID,
		&e.PurchaseToken,
		&e.SKU,
		&tier,
		&active,
		&canceled,
		&expiresAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}

	e.Tier = models.Tier(tier)
	e.Active = intToBool(active)
	e.Canceled = intToBool(canceled)
	e.ExpiresAt = unixToTime(expiresAt)
	e.UpdatedAt = unixToTime(updatedAt)
	return e, nil
}

var _ storage.EntitlementStorage = (*Storage)(nil)
