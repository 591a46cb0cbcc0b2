// Package cli implements the commands of the pulsesync client.
package cli

import (
	"context"
	"iter"

	"github.com/startuppulse/pulsesync/internal/client/iocli"
	"github.com/startuppulse/pulsesync/internal/models"
)

// Engine операции движка синхронизации, доступные командам
type Engine interface {
	SubmitBatch(ctx context.Context, intents []models.Intent) ([]models.WriteResult, error)
	Status(ctx context.Context, entityID string, seq uint64) (models.WriteStatus, error)
	NodeID() string
}

// Store чтение локального хранилища
type Store interface {
	Get(ctx context.Context, id string) (*models.LocalRecord, error)
	Scan(ctx context.Context, predicate func(*models.LocalRecord) bool) iter.Seq2[*models.LocalRecord, error]
	Depth(ctx context.Context) (int, error)
	Cursor(ctx context.Context) (int64, error)
	Conflicts(ctx context.Context, entityID string) ([]models.ConflictRecord, error)
}

// Entitlements монитор подписки
type Entitlements interface {
	Current() models.EntitlementSnapshot
	HandleBillingEvent(ctx context.Context, ev models.BillingEvent) error
}

type Cli struct {
	io           iocli.IO
	engine       Engine
	store        Store
	entitlements Entitlements
}

// New создает набор команд. entitlements может быть nil, если ключ проверки
// токенов подписки не настроен.
func New(io iocli.IO, engine Engine, store Store, entitlements Entitlements) *Cli {
	return &Cli{
		io:           io,
		engine:       engine,
		store:        store,
		entitlements: entitlements,
	}
}
