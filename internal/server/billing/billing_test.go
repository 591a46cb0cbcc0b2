package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/internal/server/storage"
	"github.com/startuppulse/pulsesync/internal/server/storage/sqlite"
	"github.com/startuppulse/pulsesync/pkg/api"
)

var expires = time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T, validator PurchaseValidator) (*Processor, *sqlite.Storage) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SaveEntitlement(ctx, &storage.Entitlement{
		UserID:        "user-1",
		PurchaseToken: "pt-1",
		SKU:           "pro_monthly",
		Tier:          models.TierPro,
		Active:        true,
		ExpiresAt:     expires,
	}))

	if validator == nil {
		validator = &PurchaseValidatorMock{}
	}
	return NewProcessor(store, validator, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestStaticValidator(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	v := NewStaticValidator(DefaultPeriods())
	v.now = func() time.Time { return now }

	p, err := v.Validate(context.Background(), "pro_monthly", "pt")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, p.Tier)
	assert.Equal(t, now.Add(30*24*time.Hour), p.ExpiresAt)

	_, err = v.Validate(context.Background(), "pro_monthly", "")
	assert.ErrorIs(t, err, ErrPurchaseInvalid)
	_, err = v.Validate(context.Background(), "lifetime", "pt")
	assert.ErrorIs(t, err, ErrPurchaseInvalid)
}

func TestProcessor_Apply(t *testing.T) {
	tests := []struct {
		check func(t *testing.T, e *storage.Entitlement)
		name  string
		want  Outcome
		token string
		typ   int
	}{
		{
			name:  "canceled keeps access until expiry",
			typ:   api.NotificationCanceled,
			token: "pt-1",
			want:  OutcomeCanceled,
			check: func(t *testing.T, e *storage.Entitlement) {
				assert.True(t, e.Active)
				assert.True(t, e.Canceled)
				assert.True(t, e.Allows(expires.Add(-time.Hour)))
			},
		},
		{
			name:  "revoked deactivates",
			typ:   api.NotificationRevoked,
			token: "pt-1",
			want:  OutcomeDeactivated,
			check: func(t *testing.T, e *storage.Entitlement) {
				assert.False(t, e.Active)
				assert.Equal(t, models.TierFree, e.Tier)
				assert.False(t, e.Allows(expires.Add(-time.Hour)))
			},
		},
		{
			name:  "expired deactivates",
			typ:   api.NotificationExpired,
			token: "pt-1",
			want:  OutcomeDeactivated,
			check: func(t *testing.T, e *storage.Entitlement) {
				assert.False(t, e.Active)
			},
		},
		{
			name:  "unrelated type is ignored",
			typ:   7,
			token: "pt-1",
			want:  OutcomeIgnored,
			check: func(t *testing.T, e *storage.Entitlement) {
				assert.True(t, e.Active)
				assert.False(t, e.Canceled)
			},
		},
		{
			name:  "unknown purchase token is ignored",
			typ:   api.NotificationRevoked,
			token: "pt-other",
			want:  OutcomeUnknown,
			check: func(t *testing.T, e *storage.Entitlement) {
				assert.True(t, e.Active)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p, store := setup(t, nil)

			got, err := p.Apply(ctx, api.BillingNotification{PurchaseToken: tt.token, NotificationType: tt.typ})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			e, err := store.GetEntitlement(ctx, "user-1")
			require.NoError(t, err)
			tt.check(t, e)
		})
	}
}

func TestProcessor_RenewedRevalidates(t *testing.T) {
	ctx := context.Background()
	renewedUntil := expires.Add(30 * 24 * time.Hour)
	validator := &PurchaseValidatorMock{
		ValidateFunc: func(ctx context.Context, sku, purchaseToken string) (Purchase, error) {
			return Purchase{SKU: sku, Tier: models.TierPro, ExpiresAt: renewedUntil}, nil
		},
	}
	p, store := setup(t, validator)

	_, err := p.Apply(ctx, api.BillingNotification{PurchaseToken: "pt-1", NotificationType: api.NotificationCanceled})
	require.NoError(t, err)

	got, err := p.Apply(ctx, api.BillingNotification{PurchaseToken: "pt-1", NotificationType: api.NotificationRenewed})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRenewed, got)

	require.Len(t, validator.ValidateCalls(), 1)
	assert.Equal(t, "pro_monthly", validator.ValidateCalls()[0].Sku)

	e, err := store.GetEntitlement(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, e.Active)
	assert.False(t, e.Canceled)
	assert.True(t, renewedUntil.Equal(e.ExpiresAt))
}

func TestProcessor_RevalidationFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	validator := &PurchaseValidatorMock{
		ValidateFunc: func(ctx context.Context, sku, purchaseToken string) (Purchase, error) {
			return Purchase{}, errors.New("store unavailable")
		},
	}
	p, store := setup(t, validator)

	_, err := p.Apply(ctx, api.BillingNotification{PurchaseToken: "pt-1", NotificationType: api.NotificationRecovered})
	assert.Error(t, err)

	e, err := store.GetEntitlement(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, expires.Equal(e.ExpiresAt))
}
