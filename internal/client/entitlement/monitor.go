// Package entitlement keeps the verified subscription snapshot that gates
// premium mutations. Billing signals alone never grant a paid tier: only a
// token signed by the server-side validation function does.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/startuppulse/pulsesync/internal/client/remote"
	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/models"
)

//go:generate moq -out function_mock.go . Function

// Function серверная функция проверки покупки
type Function interface {
	VerifyEntitlement(ctx context.Context, req remote.VerifyRequest) (remote.VerifyResponse, error)
}

// Monitor merges billing events and server verification into one snapshot
type Monitor struct {
	fn       Function
	verifier *TokenVerifier
	cache    storage.EntitlementCache
	logger   *slog.Logger
	now      func() time.Time
	snapshot models.EntitlementSnapshot
	interval time.Duration
	mu       sync.RWMutex
	refresh  sync.Mutex
}

// Option настраивает Monitor
type Option func(*Monitor)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithRefreshInterval задает период фоновой перепроверки
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// NewMonitor создает монитор и восстанавливает снимок из кеша.
// Кешированный токен перепроверяется: поддельный или истекший дает бесплатный тариф.
func NewMonitor(ctx context.Context, fn Function, verifier *TokenVerifier, cache storage.EntitlementCache, logger *slog.Logger, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		fn:       fn,
		verifier: verifier,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
		interval: 15 * time.Minute,
		snapshot: models.FreeSnapshot(),
	}
	for _, opt := range opts {
		opt(m)
	}

	cached, err := cache.LoadEntitlement(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached entitlement: %w", err)
	}

	if cached.Verified {
		if _, err := m.verifier.Verify(cached.Token); err != nil {
			logger.Warn("Cached entitlement token rejected", "error", err)
			cached = models.EntitlementSnapshot{Tier: models.TierFree, PurchaseToken: cached.PurchaseToken}
		}
	}
	m.snapshot = cached

	return m, nil
}

// Current returns the current snapshot. It is a value: callers pass it on
// explicitly instead of re-reading shared state.
func (m *Monitor) Current() models.EntitlementSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func (m *Monitor) set(ctx context.Context, snapshot models.EntitlementSnapshot) error {
	m.mu.Lock()
	m.snapshot = snapshot
	m.mu.Unlock()

	if err := m.cache.SaveEntitlement(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save entitlement: %w", err)
	}
	return nil
}

// Refresh re-verifies the purchase with the server.
// On failure the stale cached snapshot is returned together with the error,
// except when the server denies the purchase: then the tier drops to free.
func (m *Monitor) Refresh(ctx context.Context) (models.EntitlementSnapshot, error) {
	m.refresh.Lock()
	defer m.refresh.Unlock()

	current := m.Current()
	if current.PurchaseToken == "" {
		return current, nil
	}

	resp, err := m.fn.VerifyEntitlement(ctx, remote.VerifyRequest{PurchaseToken: current.PurchaseToken})
	if err != nil {
		if remote.Classify(err) == remote.KindPermissionDenied {
			m.logger.Warn("Purchase rejected by server", "error", err)
			downgraded := models.EntitlementSnapshot{Tier: models.TierFree, PurchaseToken: current.PurchaseToken}
			if serr := m.set(ctx, downgraded); serr != nil {
				return downgraded, errors.Join(err, serr)
			}
			return downgraded, fmt.Errorf("entitlement verification denied: %w", err)
		}
		m.logger.Warn("Entitlement refresh failed, keeping cached snapshot", "error", err)
		return current, fmt.Errorf("entitlement refresh failed: %w", err)
	}

	claims, err := m.verifier.Verify(resp.Token)
	if err != nil {
		m.logger.Error("Server returned unverifiable entitlement token", "error", err)
		return current, err
	}

	snapshot := models.EntitlementSnapshot{
		Tier:          models.Tier(claims.Tier),
		ExpiresAt:     claims.ExpiresAt.Time,
		Verified:      true,
		VerifiedAt:    m.now(),
		Token:         resp.Token,
		PurchaseToken: current.PurchaseToken,
	}
	if err := m.set(ctx, snapshot); err != nil {
		return snapshot, err
	}

	m.logger.Info("Entitlement verified", "tier", snapshot.Tier, "expires_at", snapshot.ExpiresAt)
	return snapshot, nil
}

// HandleBillingEvent applies one event from the billing provider
func (m *Monitor) HandleBillingEvent(ctx context.Context, ev models.BillingEvent) error {
	m.logger.Info("Billing event received", "type", ev.Type, "sku", ev.SKU)

	switch ev.Type {
	case models.BillingPurchased:
		current := m.Current()
		if ev.PurchaseToken != "" && ev.PurchaseToken != current.PurchaseToken {
			// новая покупка не проверена, пока сервер не подпишет токен
			if err := m.set(ctx, models.EntitlementSnapshot{Tier: models.TierFree, PurchaseToken: ev.PurchaseToken}); err != nil {
				return err
			}
		}
		_, err := m.Refresh(ctx)
		return err

	case models.BillingRenewed:
		_, err := m.Refresh(ctx)
		return err

	case models.BillingCanceled:
		// подписка действует до конца оплаченного периода
		return nil

	case models.BillingRevoked, models.BillingExpired:
		current := m.Current()
		if ev.PurchaseToken != "" && current.PurchaseToken != "" && ev.PurchaseToken != current.PurchaseToken {
			m.logger.Debug("Ignoring billing event for another purchase")
			return nil
		}
		return m.set(ctx, models.FreeSnapshot())
	}

	return fmt.Errorf("unknown billing event type %q", ev.Type)
}

// Run refreshes periodically and consumes billing events until ctx is done
func (m *Monitor) Run(ctx context.Context, events <-chan models.BillingEvent) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	if _, err := m.Refresh(ctx); err != nil {
		m.logger.Warn("Initial entitlement refresh failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := m.HandleBillingEvent(ctx, ev); err != nil {
				m.logger.Warn("Billing event handling failed", "type", ev.Type, "error", err)
			}
		case <-ticker.C:
			if _, err := m.Refresh(ctx); err != nil {
				m.logger.Warn("Periodic entitlement refresh failed", "error", err)
			}
		}
	}
}
