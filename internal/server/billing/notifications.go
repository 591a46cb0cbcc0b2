package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/internal/server/storage"
	"github.com/startuppulse/pulsesync/pkg/api"
)

// Outcome результат обработки уведомления
type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"     // тип уведомления не влияет на подписку
	OutcomeUnknown     Outcome = "unknown"     // нет пользователя с таким токеном покупки
	OutcomeCanceled    Outcome = "canceled"    // продление отменено, подписка действует до конца периода
	OutcomeDeactivated Outcome = "deactivated" // отозвана или истекла
	OutcomeRenewed     Outcome = "renewed"     // период продлен после повторной проверки
)

// Processor применяет уведомления провайдера биллинга к таблице подписок
type Processor struct {
	store     storage.EntitlementStorage
	validator PurchaseValidator
	logger    *slog.Logger
	now       func() time.Time
}

// NewProcessor создает processor
func NewProcessor(store storage.EntitlementStorage, validator PurchaseValidator, logger *slog.Logger) *Processor {
	return &Processor{store: store, validator: validator, logger: logger, now: time.Now}
}

// Apply обрабатывает одно уведомление. Пользователь находится по токену покупки.
func (p *Processor) Apply(ctx context.Context, n api.BillingNotification) (Outcome, error) {
	switch n.NotificationType {
	case api.NotificationCanceled, api.NotificationRevoked, api.NotificationExpired,
		api.NotificationRenewed, api.NotificationRecovered, api.NotificationPurchased:
	default:
		p.logger.Debug("Billing notification ignored", "type", n.NotificationType)
		return OutcomeIgnored, nil
	}

	ent, err := p.store.GetEntitlementByPurchaseToken(ctx, n.PurchaseToken)
	if errors.Is(err, storage.ErrEntitlementNotFound) {
		p.logger.Info("No entitlement for purchase token, notification ignored", "type", n.NotificationType)
		return OutcomeUnknown, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find entitlement: %w", err)
	}

	var outcome Outcome
	switch n.NotificationType {
	case api.NotificationCanceled:
		ent.Canceled = true
		outcome = OutcomeCanceled

	case api.NotificationRevoked, api.NotificationExpired:
		ent.Active = false
		ent.Tier = models.TierFree
		outcome = OutcomeDeactivated

	default:
		sku := n.SKU
		if sku == "" {
			sku = ent.SKU
		}
		purchase, err := p.validator.Validate(ctx, sku, n.PurchaseToken)
		if err != nil {
			return "", fmt.Errorf("failed to revalidate purchase: %w", err)
		}
		ent.Active = true
		ent.Canceled = false
		ent.Tier = purchase.Tier
		ent.SKU = purchase.SKU
		ent.ExpiresAt = purchase.ExpiresAt
		outcome = OutcomeRenewed
	}

	ent.UpdatedAt = p.now()
	if err := p.store.SaveEntitlement(ctx, ent); err != nil {
		return "", err
	}

	p.logger.Info("Billing notification applied",
		"user_id", ent.UserID,
		"type", n.NotificationType,
		"outcome", outcome,
		"active", ent.Active,
	)
	return outcome, nil
}
