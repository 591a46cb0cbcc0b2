// Package sync reconciles the local store with the remote document store.
//
// The Engine runs a push loop draining the change journal, a pull loop
// consuming the remote change feed, a dirty tracker fed by local store
// notifications and a maintenance loop (purge, quarantine resync).
// All record transitions happen inside single store transactions; no
// transaction is held across a network call.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/startuppulse/pulsesync/internal/client/remote"
	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/crdt"
	"github.com/startuppulse/pulsesync/internal/models"
)

//go:generate moq -out notifier_mock.go . Notifier

var (
	// ErrPermissionDenied premium mutation without verified entitlement
	ErrPermissionDenied = errors.New("permission denied")
	// ErrEntityDeleted mutation of a tombstoned entity
	ErrEntityDeleted = errors.New("entity deleted")
	// ErrEntityNotFound update or delete of an unknown entity
	ErrEntityNotFound = errors.New("entity not found")
	// ErrEntityExists create with an id that is already in use
	ErrEntityExists = errors.New("entity already exists")
	// ErrInvalidIntent malformed intent
	ErrInvalidIntent = errors.New("invalid intent")
)

// Entitlements source of the current entitlement snapshot
type Entitlements interface {
	Current() models.EntitlementSnapshot
}

// Notifier schedules a wake-up push notification (outbound only)
type Notifier interface {
	ScheduleWakeup(ctx context.Context, reason string) error
}

// Config параметры движка синхронизации
type Config struct {
	Filter                  remote.Filter // типы документов ленты изменений
	BatchSize               int           // максимальный размер пачки push
	PushTimeout             time.Duration // таймаут одной отправки
	BackoffBase             time.Duration
	BackoffMax              time.Duration
	MaxSerializationRetries int           // попыток до отказа при ошибке сериализации
	MaxRejectedRetries      int           // попыток rebase до отказа при повторных конфликтах
	WakeupAfter             int           // подряд неудачных циклов до запроса wake-up уведомления
	TombstoneRetention      time.Duration // время хранения подтвержденных tombstone
	MaintenanceInterval     time.Duration // период purge и ресинхронизации карантина
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:               50,
		PushTimeout:             10 * time.Second,
		BackoffBase:             500 * time.Millisecond,
		BackoffMax:              time.Minute,
		MaxSerializationRetries: 3,
		MaxRejectedRetries:      5,
		WakeupAfter:             3,
		TombstoneRetention:      24 * time.Hour,
		MaintenanceInterval:     time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = d.PushTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.MaxSerializationRetries <= 0 {
		c.MaxSerializationRetries = d.MaxSerializationRetries
	}
	if c.MaxRejectedRetries <= 0 {
		c.MaxRejectedRetries = d.MaxRejectedRetries
	}
	if c.WakeupAfter <= 0 {
		c.WakeupAfter = d.WakeupAfter
	}
	if c.TombstoneRetention <= 0 {
		c.TombstoneRetention = d.TombstoneRetention
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = d.MaintenanceInterval
	}
	return c
}

// Engine drives bidirectional synchronization
type Engine struct {
	store        storage.Store
	gateway      remote.Gateway
	entitlements Entitlements
	notifier     Notifier
	clock        *crdt.LamportClock
	metrics      *Metrics
	logger       *slog.Logger
	statuses     *statusHub
	now          func() time.Time
	pushWake     chan struct{}
	pullWake     chan struct{}
	resync       chan string
	cfg          Config
	subState     SubscriptionState
	subMu        gosync.RWMutex
}

// Option настраивает Engine
type Option func(*Engine)

// WithMetrics задает метрики движка
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifier задает планировщик wake-up уведомлений
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine and restores the Lamport clock from the store
func New(
	ctx context.Context,
	store storage.Store,
	gateway remote.Gateway,
	entitlements Entitlements,
	logger *slog.Logger,
	cfg Config,
	opts ...Option,
) (*Engine, error) {
	e := &Engine{
		store:        store,
		gateway:      gateway,
		entitlements: entitlements,
		logger:       logger,
		statuses:     newStatusHub(),
		now:          time.Now,
		pushWake:     make(chan struct{}, 1),
		pullWake:     make(chan struct{}, 1),
		resync:       make(chan string, 64),
		cfg:          cfg.withDefaults(),
		subState:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}

	nodeID, counter, err := store.ClockState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore clock: %w", err)
	}
	e.clock = crdt.RestoreLamportClock(nodeID, counter)
	if nodeID == "" {
		if err := store.SaveNodeID(ctx, e.clock.NodeID()); err != nil {
			return nil, fmt.Errorf("failed to save node id: %w", err)
		}
	}

	return e, nil
}

// NodeID returns the device node id
func (e *Engine) NodeID() string {
	return e.clock.NodeID()
}

// Run starts all loops and blocks until ctx is cancelled or a loop fails.
// A cancelled context stops the loops between batches.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Sync engine started", "node_id", e.clock.NodeID())
	defer e.logger.Info("Sync engine stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.pushLoop(gctx) })
	g.Go(func() error { return e.pullLoop(gctx) })
	g.Go(func() error { return e.dirtyLoop(gctx) })
	g.Go(func() error { return e.maintenanceLoop(gctx) })

	// первый цикл отправки сразу после старта: журнал пережил перезапуск
	e.wakePush()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// TriggerPull short-circuits the resubscription backoff (inbound push notification)
func (e *Engine) TriggerPull() {
	select {
	case e.pullWake <- struct{}{}:
	default:
	}
}

// TriggerPush starts a push cycle without waiting for backoff
func (e *Engine) TriggerPush() {
	e.wakePush()
}

func (e *Engine) wakePush() {
	select {
	case e.pushWake <- struct{}{}:
	default:
	}
}

func (e *Engine) queueResync(id string) {
	select {
	case e.resync <- id:
	default:
		// очередь переполнена: запись останется в карантине до следующего обхода
	}
}

// dirtyLoop следит за уведомлениями локального хранилища и будит push loop
func (e *Engine) dirtyLoop(ctx context.Context) error {
	changes, cancel := e.store.Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			switch c.SyncState {
			case models.SyncStatePendingWrite, models.SyncStatePendingDelete, models.SyncStateConflicted:
				e.wakePush()
			}
		}
	}
}
