package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/internal/server/storage"
)

func TestEntitlements_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	_, err := s.GetEntitlement(ctx, owner)
	assert.ErrorIs(t, err, storage.ErrEntitlementNotFound)

	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveEntitlement(ctx, &storage.Entitlement{
		UserID:        owner,
		PurchaseToken: "pt-1",
		SKU:           "pro_monthly",
		Tier:          models.TierPro,
		Active:        true,
		ExpiresAt:     expires,
	}))

	got, err := s.GetEntitlement(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, got.Tier)
	assert.True(t, got.Active)
	assert.False(t, got.Canceled)
	assert.True(t, expires.Equal(got.ExpiresAt))
	assert.True(t, got.Allows(expires.Add(-time.Hour)))
	assert.False(t, got.Allows(expires))

	byToken, err := s.GetEntitlementByPurchaseToken(ctx, "pt-1")
	require.NoError(t, err)
	assert.Equal(t, owner, byToken.UserID)

	_, err = s.GetEntitlementByPurchaseToken(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrEntitlementNotFound)
	_, err = s.GetEntitlementByPurchaseToken(ctx, "")
	assert.ErrorIs(t, err, storage.ErrEntitlementNotFound)

	// повторное сохранение заменяет запись
	got.Active = false
	got.Canceled = true
	require.NoError(t, s.SaveEntitlement(ctx, got))

	got, err = s.GetEntitlement(ctx, owner)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.True(t, got.Canceled)
	assert.False(t, got.Allows(expires.Add(-time.Hour)))
}

func TestEntitlements_RequiresUser(t *testing.T) {
	s := setupTestStorage(t)
	assert.Error(t, s.SaveEntitlement(context.Background(), &storage.Entitlement{Tier: models.TierPro}))
}
