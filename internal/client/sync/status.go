package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	gosync "sync"

	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/models"
)

// statusHub рассылает изменения статусов записей подписчикам UI
type statusHub struct {
	subs map[int]chan models.StatusUpdate
	next int
	mu   gosync.Mutex
}

func newStatusHub() *statusHub {
	return &statusHub{subs: make(map[int]chan models.StatusUpdate)}
}

func (h *statusHub) subscribe(buffer int) (<-chan models.StatusUpdate, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan models.StatusUpdate, buffer)
	h.subs[id] = ch

	var once gosync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *statusHub) publish(updates ...models.StatusUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		for _, u := range updates {
			select {
			case ch <- u:
			default:
			}
		}
	}
}

// Statuses streams write status changes; slow readers miss updates
// and can fall back to Status.
func (e *Engine) Statuses(buffer int) (<-chan models.StatusUpdate, func()) {
	return e.statuses.subscribe(buffer)
}

// Status resolves the status of one accepted write
func (e *Engine) Status(ctx context.Context, entityID string, seq uint64) (models.WriteStatus, error) {
	status, ok, err := e.store.Outcome(ctx, seq)
	if err != nil {
		return models.WriteStatus{}, err
	}
	if ok {
		return status, nil
	}

	err = e.store.View(ctx, func(tx storage.Tx) error {
		entry, err := tx.Entry(seq)
		switch {
		case err == nil:
			status, err = pendingStatus(tx, entry.EntityID)
			return err
		case !errors.Is(err, storage.ErrEntryNotFound):
			return err
		}

		// запись поглощена компактизацией: ее судьба совпадает с поглотившей записью
		pending, err := tx.PendingFor(entityID)
		if err != nil {
			return err
		}
		for _, p := range pending {
			if slices.Contains(p.Supersedes, seq) {
				status, err = pendingStatus(tx, entityID)
				return err
			}
		}

		// старый итог вытеснен из журнала итогов
		status = models.WriteStatus{State: models.WriteSynced}
		return nil
	})
	if err != nil {
		return models.WriteStatus{}, fmt.Errorf("failed to resolve write status: %w", err)
	}
	return status, nil
}

// resolve сохраняет итог записи журнала и всех поглощенных ею записей
func resolve(tx storage.Tx, entry *models.JournalEntry, status models.WriteStatus) ([]models.StatusUpdate, error) {
	seqs := entry.Seqs()
	updates := make([]models.StatusUpdate, 0, len(seqs))
	for _, seq := range seqs {
		if err := tx.SaveOutcome(seq, status); err != nil {
			return nil, err
		}
		updates = append(updates, models.StatusUpdate{EntityID: entry.EntityID, LocalSeq: seq, Status: status})
	}
	return updates, nil
}

// current возвращает актуальную версию записи журнала: Supersedes могли
// пополниться компактизацией после того, как запись была прочитана
func current(tx storage.Tx, entry *models.JournalEntry) (*models.JournalEntry, error) {
	stored, err := tx.Entry(entry.LocalSeq)
	switch {
	case err == nil:
		return stored, nil
	case errors.Is(err, storage.ErrEntryNotFound):
		return entry, nil
	}
	return nil, err
}

func pendingStatus(tx storage.Tx, entityID string) (models.WriteStatus, error) {
	rec, err := tx.Get(entityID)
	if err != nil {
		if errors.Is(err, storage.ErrCorruptRecord) {
			return models.WriteStatus{State: models.WritePending}, nil
		}
		return models.WriteStatus{}, err
	}
	if rec.SyncState == models.SyncStateConflicted {
		return models.WriteStatus{State: models.WriteConflicted}, nil
	}
	return models.WriteStatus{State: models.WritePending}, nil
}

// EntityStatus summarises the sync status of a record for display
func EntityStatus(rec *models.LocalRecord) models.WriteStatus {
	switch {
	case rec.Failure != "":
		return models.WriteStatus{State: models.WriteRejected, Reason: rec.Failure}
	case rec.SyncState == models.SyncStateConflicted:
		return models.WriteStatus{State: models.WriteConflicted}
	case rec.SyncState == models.SyncStateClean:
		return models.WriteStatus{State: models.WriteSynced}
	}
	return models.WriteStatus{State: models.WritePending}
}
