// Package remote defines the boundary between the sync engine and the
// authoritative document store: mutation delivery, forced reads, the change
// feed and entitlement verification.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/startuppulse/pulsesync/internal/models"
)

//go:generate moq -out gateway_mock.go . Gateway

// Ack подтверждение мутации сервером
type Ack struct {
	ServerVersion int64 // версия документа после применения мутации
	Cursor        int64 // позиция изменения в ленте
	Duplicate     bool  // сервер уже применял мутацию с этим ключом идемпотентности
}

// Filter ограничивает ленту изменений типами документов (пустой - все)
type Filter struct {
	Kinds []string
}

// Match сообщает, проходит ли тип документа фильтр
func (f Filter) Match(kind string) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// VerifyRequest запрос серверной проверки покупки
type VerifyRequest struct {
	PurchaseToken string
	SKU           string
}

// VerifyResponse ответ функции проверки: подписанный сервером токен
type VerifyResponse struct {
	ExpiresAt time.Time
	Token     string
	Tier      models.Tier
}

// Stream is a cancellable feed of remote events.
// Delivery is at-least-once: after resubscription events may repeat.
// Events is closed when the stream ends; Err then reports why
// (nil after Close or context cancellation).
type Stream interface {
	Events() <-chan models.RemoteEvent
	Err() error
	Close() error
}

// Gateway abstracts the remote document store and its functions
type Gateway interface {
	// Send delivers one journal entry, keyed by its idempotency key
	Send(ctx context.Context, entry *models.JournalEntry) (Ack, error)

	// Fetch reads the current server state of an entity as a RemoteEvent.
	// Returns ErrNotFound if the entity never existed remotely.
	Fetch(ctx context.Context, entityID string) (models.RemoteEvent, error)

	// Subscribe opens the change feed after cursor.
	// Returns ErrResumeUnavailable if the cursor is too old to resume from.
	Subscribe(ctx context.Context, filter Filter, cursor int64) (Stream, error)

	// VerifyEntitlement calls the server-side purchase validation function
	VerifyEntitlement(ctx context.Context, req VerifyRequest) (VerifyResponse, error)
}

var (
	// ErrNotFound entity does not exist remotely
	ErrNotFound = errors.New("remote entity not found")

	// ErrResumeUnavailable change feed can not resume from the given cursor
	ErrResumeUnavailable = errors.New("change feed cannot resume from cursor")
)
