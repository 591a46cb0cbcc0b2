package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/startuppulse/pulsesync/internal/client/cli"
	"github.com/startuppulse/pulsesync/internal/client/entitlement"
	"github.com/startuppulse/pulsesync/internal/client/iocli"
	"github.com/startuppulse/pulsesync/internal/client/remote"
	"github.com/startuppulse/pulsesync/internal/client/remote/httpapi"
	"github.com/startuppulse/pulsesync/internal/client/remote/natsfeed"
	"github.com/startuppulse/pulsesync/internal/client/storage/boltdb"
	"github.com/startuppulse/pulsesync/internal/client/sync"
	"github.com/startuppulse/pulsesync/internal/config"
	"github.com/startuppulse/pulsesync/internal/models"
)

// app собранный клиент: хранилище, gateway, монитор подписки и движок
type app struct {
	cfg      *config.ClientConfig
	logger   *slog.Logger
	store    *boltdb.Storage
	nc       *nats.Conn
	monitor  *entitlement.Monitor
	engine   *sync.Engine
	registry *prometheus.Registry
	cli      *cli.Cli
}

// logNotifier записывает запросы wake-up уведомлений в лог:
// доставка push-уведомлений выполняется внешним сервисом
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) ScheduleWakeup(_ context.Context, reason string) error {
	n.logger.Info("Wake-up notification requested", "reason", reason)
	return nil
}

// freeEntitlements используется, когда ключ проверки токенов подписки не задан
type freeEntitlements struct{}

func (freeEntitlements) Current() models.EntitlementSnapshot { return models.FreeSnapshot() }

func openApp(ctx context.Context, cfg *config.ClientConfig, live bool) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat),
		registry: prometheus.NewRegistry(),
	}

	var storeOpts []boltdb.Option
	storeOpts = append(storeOpts, boltdb.WithOpenTimeout(2*time.Second))
	if cfg.EncryptionPassphrase != "" {
		storeOpts = append(storeOpts, boltdb.WithPassphrase(cfg.EncryptionPassphrase))
	}
	store, err := boltdb.New(ctx, cfg.DBPath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database (is another client running?): %w", err)
	}
	a.store = store

	if err := a.init(ctx, live); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, live bool) error {
	cfg := a.cfg

	if cfg.NodeID != "" {
		stored, _, err := a.store.ClockState(ctx)
		if err != nil {
			return err
		}
		switch {
		case stored == "":
			if err := a.store.SaveNodeID(ctx, cfg.NodeID); err != nil {
				return err
			}
		case stored != cfg.NodeID:
			a.logger.Warn("Configured node id ignored, device already has one", "node_id", stored)
		}
	}

	client := httpapi.NewClient(cfg.ServerURL,
		httpapi.WithToken(cfg.AccessToken),
		httpapi.WithLogger(a.logger),
		httpapi.WithPollWait(cfg.PollWait),
	)
	var gateway remote.Gateway = client
	if live && cfg.NATSURL != "" {
		nc, err := natsfeed.Connect(cfg.NATSURL, a.logger)
		if err != nil {
			return err
		}
		a.nc = nc
		gateway = natsfeed.New(client, natsfeed.ConnSource{Conn: nc}, a.logger, 0)
	}

	var source sync.Entitlements = freeEntitlements{}
	var ents cli.Entitlements
	if cfg.EntitlementPublicKey != "" {
		key, err := entitlement.ParsePublicKey(cfg.EntitlementPublicKey)
		if err != nil {
			return fmt.Errorf("invalid entitlement public key: %w", err)
		}
		a.monitor, err = entitlement.NewMonitor(ctx, client, entitlement.NewTokenVerifier(key), a.store, a.logger,
			entitlement.WithRefreshInterval(cfg.EntitlementRefresh))
		if err != nil {
			return err
		}
		source = a.monitor
		ents = a.monitor
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := sync.New(ctx, a.store, gateway, source, a.logger, sync.Config{
		Filter:                  remote.Filter{Kinds: cfg.Kinds},
		BatchSize:               cfg.BatchSize,
		PushTimeout:             cfg.PushTimeout,
		BackoffBase:             cfg.BackoffBase,
		BackoffMax:              cfg.BackoffMax,
		MaxSerializationRetries: cfg.MaxSerializationRetries,
		MaxRejectedRetries:      cfg.MaxRejectedRetries,
		TombstoneRetention:      cfg.TombstoneRetention,
		MaintenanceInterval:     cfg.MaintenanceInterval,
	},
		sync.WithMetrics(sync.NewMetrics(a.registry)),
		sync.WithNotifier(logNotifier{logger: a.logger}),
	)
	if err != nil {
		return err
	}
	a.engine = engine
	a.cli = cli.New(iocli.NewStdio(os.Stdout), engine, a.store, ents)
	return nil
}

func (a *app) close() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			a.logger.Warn("Failed to drain NATS connection", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close database", "error", err)
	}
}
