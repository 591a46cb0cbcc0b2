package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/startuppulse/pulsesync/internal/client/remote"
	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/models"
)

// quarantine помечает поврежденную запись и ставит ее в очередь ресинхронизации
func (e *Engine) quarantine(ctx context.Context, id string) {
	if err := e.store.Quarantine(ctx, id, models.ReasonCorruptState); err != nil {
		e.logger.Error("Failed to quarantine record", "entity_id", id, "error", err)
		return
	}
	e.metrics.quarantined.Inc()
	e.logger.Warn("Record quarantined", "entity_id", id)
	e.queueResync(id)
}

// resyncEntity перечитывает сущность с сервера и пересобирает локальную запись.
// При неудаче запись остается в карантине до следующего цикла обслуживания.
func (e *Engine) resyncEntity(ctx context.Context, id string) error {
	log := e.logger.With("entity_id", id)

	fctx, cancel := context.WithTimeout(ctx, e.cfg.PushTimeout)
	ev, err := e.gateway.Fetch(fctx, id)
	cancel()

	switch {
	case err == nil:
		outcome, err := e.applyAuthoritative(ctx, ev)
		if err != nil {
			log.Error("Failed to apply resync", "error", err)
			e.markQuarantined(ctx, id)
			return err
		}
		log.Info("Entity resynced", "server_version", ev.ServerVersion, "outcome", outcome)
		return nil

	case errors.Is(err, remote.ErrNotFound):
		purged, err := e.purgeUnknown(ctx, id)
		if err != nil {
			log.Error("Failed to purge unknown entity", "error", err)
			return err
		}
		if purged {
			log.Info("Entity unknown remotely, local copy purged")
		}
		return nil
	}

	log.Warn("Resync fetch failed", "error", err)
	e.markQuarantined(ctx, id)
	return fmt.Errorf("failed to fetch %s: %w", id, err)
}

// purgeUnknown удаляет запись, которой нет на сервере и нет в журнале
func (e *Engine) purgeUnknown(ctx context.Context, id string) (bool, error) {
	purged := false
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		pending, err := tx.PendingFor(id)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			// создание еще не дошло до сервера
			return nil
		}
		if err := tx.Purge(id); err != nil {
			if errors.Is(err, storage.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		purged = true
		return nil
	})
	return purged, err
}

// markQuarantined оставляет запись в карантине, сохраняя маркер ошибки
func (e *Engine) markQuarantined(ctx context.Context, id string) {
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		rec, err := tx.Get(id)
		if err != nil {
			return err
		}
		if rec.Quarantined {
			return nil
		}
		rec.Quarantined = true
		return tx.Put(rec)
	})
	switch {
	case err == nil, errors.Is(err, storage.ErrRecordNotFound):
	case errors.Is(err, storage.ErrCorruptRecord):
		e.quarantine(ctx, id)
	default:
		e.logger.Error("Failed to mark record quarantined", "entity_id", id, "error", err)
	}
}

// maintenanceLoop выполняет purge tombstone и ресинхронизацию карантина
func (e *Engine) maintenanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-e.resync:
			_ = e.resyncEntity(ctx, id)
		case <-ticker.C:
			if err := e.maintain(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("Maintenance failed", "error", err)
			}
		}
	}
}

// maintain обходит хранилище: находит поврежденные и карантинные записи,
// удаляет подтвержденные tombstone старше TombstoneRetention
func (e *Engine) maintain(ctx context.Context) error {
	var corrupt, quarantined, expired []string
	cutoff := e.now().Add(-e.cfg.TombstoneRetention)

	// запись в хранилище недопустима внутри Scan: сначала собираем id
	for rec, err := range e.store.Scan(ctx, nil) {
		if err != nil {
			var cerr *storage.CorruptRecordError
			if errors.As(err, &cerr) {
				corrupt = append(corrupt, cerr.ID)
				continue
			}
			return err
		}
		switch {
		case rec.Quarantined:
			quarantined = append(quarantined, rec.ID())
		case purgeable(rec, cutoff):
			expired = append(expired, rec.ID())
		}
	}

	for _, id := range corrupt {
		e.quarantine(ctx, id)
	}
	for _, id := range quarantined {
		_ = e.resyncEntity(ctx, id)
	}

	purged, err := e.PurgeTombstones(ctx, expired, cutoff)
	if err != nil {
		return err
	}
	if purged > 0 || len(corrupt) > 0 || len(quarantined) > 0 {
		e.logger.Info("Maintenance completed",
			"purged", purged, "corrupt", len(corrupt), "resynced", len(quarantined))
	}
	return nil
}

func purgeable(rec *models.LocalRecord, cutoff time.Time) bool {
	return rec.IsTombstone() && rec.SyncState == models.SyncStateClean && rec.AckedAt.Before(cutoff)
}

// PurgeTombstones erases acknowledged tombstones older than cutoff.
// Records that changed since they were selected are skipped.
func (e *Engine) PurgeTombstones(ctx context.Context, ids []string, cutoff time.Time) (int, error) {
	purged := 0
	for _, id := range ids {
		err := e.store.Update(ctx, func(tx storage.Tx) error {
			rec, err := tx.Get(id)
			if err != nil {
				return err
			}
			if !purgeable(rec, cutoff) {
				return nil
			}
			pending, err := tx.PendingFor(id)
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				return nil
			}
			if err := tx.Purge(id); err != nil {
				return err
			}
			purged++
			return nil
		})
		if err != nil && !errors.Is(err, storage.ErrRecordNotFound) && !errors.Is(err, storage.ErrCorruptRecord) {
			return purged, fmt.Errorf("failed to purge %s: %w", id, err)
		}
	}
	return purged, nil
}
