// Package billing validates store purchases and applies billing provider
// notifications to the entitlement table.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/startuppulse/pulsesync/internal/models"
)

//go:generate moq -out validator_mock.go . PurchaseValidator

// ErrPurchaseInvalid покупка не подтверждена провайдером
var ErrPurchaseInvalid = errors.New("purchase invalid")

// Purchase подтвержденная провайдером подписка
type Purchase struct {
	ExpiresAt time.Time
	SKU       string
	Tier      models.Tier
}

// PurchaseValidator проверяет токен покупки у провайдера биллинга
type PurchaseValidator interface {
	Validate(ctx context.Context, sku, purchaseToken string) (Purchase, error)
}

// StaticValidator принимает любой непустой токен для известного SKU.
// Используется в разработке и тестах вместо API магазина.
type StaticValidator struct {
	now     func() time.Time
	periods map[string]time.Duration // SKU -> длительность оплаченного периода
}

// NewStaticValidator создает validator с периодами по SKU
func NewStaticValidator(periods map[string]time.Duration) *StaticValidator {
	return &StaticValidator{periods: periods, now: time.Now}
}

// DefaultPeriods SKU подписок по умолчанию
func DefaultPeriods() map[string]time.Duration {
	return map[string]time.Duration{
		"pro_monthly": 30 * 24 * time.Hour,
		"pro_yearly":  365 * 24 * time.Hour,
	}
}

// Validate подтверждает покупку и возвращает конец оплаченного периода
func (v *StaticValidator) Validate(_ context.Context, sku, purchaseToken string) (Purchase, error) {
	if purchaseToken == "" {
		return Purchase{}, fmt.Errorf("%w: empty purchase token", ErrPurchaseInvalid)
	}
	period, ok := v.periods[sku]
	if !ok {
		return Purchase{}, fmt.Errorf("%w: unknown sku %q", ErrPurchaseInvalid, sku)
	}
	return Purchase{
		SKU:       sku,
		Tier:      models.TierPro,
		ExpiresAt: v.now().Add(period),
	}, nil
}
