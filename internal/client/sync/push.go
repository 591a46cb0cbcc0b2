package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/startuppulse/pulsesync/internal/client/remote"
	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/models"
)

// sendResult исход отправки одной записи журнала
type sendResult int

const (
	sendAcked     sendResult = iota // подтверждена
	sendDropped                     // отброшена с итоговым статусом Rejected
	sendRebased                     // конфликт версий: запись перебазирована, повтор в следующем цикле
	sendRetry                       // временная ошибка: повтор с backoff
)

func (e *Engine) newBackoff() retry.Backoff {
	b := retry.NewExponential(e.cfg.BackoffBase)
	b = retry.WithJitterPercent(20, b)
	return retry.WithCappedDuration(e.cfg.BackoffMax, b)
}

// pushLoop отправляет журнал пачками. Отмена ctx учитывается только между пачками.
func (e *Engine) pushLoop(ctx context.Context) error {
	backoff := e.newBackoff()
	failures := 0

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.pushWake:
		case <-timer.C:
		}

		wait, err := e.pushCycle(ctx)
		if err != nil {
			e.logger.Error("Push cycle failed", "error", err)
		}

		switch {
		case err != nil || wait == waitBackoff:
			failures++
			d, _ := backoff.Next()
			e.logger.Warn("Push backoff", "delay", d, "consecutive_failures", failures)
			if failures == e.cfg.WakeupAfter && e.notifier != nil {
				if nerr := e.notifier.ScheduleWakeup(ctx, "push pending"); nerr != nil {
					e.logger.Warn("Failed to schedule wake-up notification", "error", nerr)
				}
			}
			timer.Reset(d)
		case wait == waitNone:
			failures = 0
			backoff = e.newBackoff()
			timer.Reset(0)
		default:
			failures = 0
			backoff = e.newBackoff()
			// журнал пуст: ждем пробуждения, контрольный цикл раз в BackoffMax
			timer.Reset(e.cfg.BackoffMax)
		}
	}
}

type cycleWait int

const (
	waitIdle    cycleWait = iota // журнал опустошен
	waitNone                     // есть еще записи, следующий цикл сразу
	waitBackoff                  // временные ошибки, повтор с backoff
)

// pushCycle compacts the journal and sends one batch.
// The batch runs on a context detached from cancellation.
func (e *Engine) pushCycle(ctx context.Context) (cycleWait, error) {
	if _, err := e.store.Compact(ctx); err != nil {
		return waitBackoff, fmt.Errorf("failed to compact journal: %w", err)
	}

	batch, err := e.store.PeekBatch(ctx, e.cfg.BatchSize)
	if err != nil {
		return waitBackoff, fmt.Errorf("failed to peek journal: %w", err)
	}
	e.updateDepth(ctx)
	if len(batch) == 0 {
		return waitIdle, nil
	}

	bctx := context.WithoutCancel(ctx)
	blocked := make(map[string]bool)
	transient, progressed := false, false

	for _, entry := range batch {
		// порядок в пределах сущности: после неудачи остальные ее записи ждут
		if blocked[entry.EntityID] {
			continue
		}

		switch e.pushEntry(bctx, entry) {
		case sendAcked, sendDropped:
			progressed = true
		case sendRebased:
			progressed = true
			blocked[entry.EntityID] = true
		case sendRetry:
			transient = true
			blocked[entry.EntityID] = true
		}
	}
	e.updateDepth(bctx)

	if transient && !progressed {
		return waitBackoff, nil
	}
	// частичный прогресс: остальные сущности не ждут backoff
	return waitNone, nil
}

func (e *Engine) updateDepth(ctx context.Context) {
	if depth, err := e.store.Depth(ctx); err == nil {
		e.metrics.journalDepth.Set(float64(depth))
	}
}

// pushEntry отправляет одну запись и применяет классифицированный исход
func (e *Engine) pushEntry(ctx context.Context, entry *models.JournalEntry) sendResult {
	log := e.logger.With("entity_id", entry.EntityID, "local_seq", entry.LocalSeq, "mutation", entry.Mutation)

	sctx, cancel := context.WithTimeout(ctx, e.cfg.PushTimeout)
	ack, err := e.gateway.Send(sctx, entry)
	cancel()

	if err == nil {
		e.metrics.pushTotal.WithLabelValues(pushAcked).Inc()
		if err := e.onAck(ctx, entry, ack); err != nil {
			log.Error("Failed to record acknowledgement", "error", err)
			return sendRetry
		}
		log.Debug("Mutation acknowledged", "server_version", ack.ServerVersion, "duplicate", ack.Duplicate)
		return sendAcked
	}

	switch remote.Classify(err) {
	case remote.KindRejected:
		e.metrics.pushTotal.WithLabelValues(pushRejected).Inc()
		log.Info("Mutation rejected by remote, pulling entity", "error", err)
		return e.onRejected(ctx, entry, err)

	case remote.KindPermissionDenied:
		e.metrics.pushTotal.WithLabelValues(pushDenied).Inc()
		log.Warn("Mutation denied by remote", "error", err)
		if derr := e.drop(ctx, entry, models.ReasonPermissionDenied); derr != nil {
			log.Error("Failed to drop denied mutation", "error", derr)
			return sendRetry
		}
		e.resyncEntity(ctx, entry.EntityID)
		return sendDropped

	case remote.KindSerialization:
		e.metrics.pushTotal.WithLabelValues(pushSerialization).Inc()
		return e.onSerialization(ctx, entry, err, log)
	}

	// ack неизвестен: повтор с тем же ключом идемпотентности
	e.metrics.pushTotal.WithLabelValues(pushTransient).Inc()
	log.Warn("Transient push failure", "error", err)
	return sendRetry
}

// onAck удаляет подтвержденную запись и переводит локальную запись
func (e *Engine) onAck(ctx context.Context, entry *models.JournalEntry, ack remote.Ack) error {
	var (
		updates []models.StatusUpdate
		corrupt bool
	)

	err := e.store.Update(ctx, func(tx storage.Tx) error {
		stored, err := current(tx, entry)
		if err != nil {
			return err
		}
		if err := tx.Ack(entry.LocalSeq); err != nil && !errors.Is(err, storage.ErrEntryNotFound) {
			return err
		}

		status := models.WriteStatus{State: models.WriteSynced}
		rec, err := tx.Get(entry.EntityID)
		switch {
		case errors.Is(err, storage.ErrCorruptRecord):
			corrupt = true
		case errors.Is(err, storage.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			pending, err := tx.PendingFor(entry.EntityID)
			if err != nil {
				return err
			}
			if rec.SyncState == models.SyncStateConflicted {
				status.State = models.WriteConflicted
			}
			if err := e.acknowledge(tx, rec, entry, ack, pending); err != nil {
				return err
			}
		}

		updates, err = resolve(tx, stored, status)
		return err
	})
	if err != nil {
		return err
	}

	if corrupt {
		e.quarantine(ctx, entry.EntityID)
	}
	e.statuses.publish(updates...)
	return nil
}

// acknowledge переносит подтвержденную мутацию в базовую версию записи
func (e *Engine) acknowledge(tx storage.Tx, rec *models.LocalRecord, entry *models.JournalEntry, ack remote.Ack, pending []*models.JournalEntry) error {
	if ack.ServerVersion > rec.BaseVersion {
		switch entry.Mutation {
		case models.MutationCreate:
			rec.BaseFields = entry.Delta.Clone()
		case models.MutationUpdate:
			base := rec.BaseFields.Clone()
			if base == nil {
				base = models.Fields{}
			}
			for k, v := range entry.Delta {
				base[k] = v
			}
			rec.BaseFields = base
		case models.MutationDelete:
			rec.BaseFields = nil
		}
		rec.BaseVersion = ack.ServerVersion
		if rec.Entity.Version < ack.ServerVersion {
			rec.Entity.Version = ack.ServerVersion
		}

		// остальные записи основаны на локальном состоянии, включающем подтвержденную
		for _, p := range pending {
			p.BaseVersion = ack.ServerVersion
			if p.Mutation == models.MutationCreate {
				p.Mutation = models.MutationUpdate
			}
			if err := tx.UpdateEntry(p); err != nil {
				return err
			}
		}
	}

	if len(pending) == 0 {
		rec.SyncState = models.SyncStateClean
		rec.AckedAt = e.now()
	}
	return tx.Put(rec)
}

// onRejected: принудительный pull сущности, слияние и rebase оставшихся записей
func (e *Engine) onRejected(ctx context.Context, entry *models.JournalEntry, cause error) sendResult {
	log := e.logger.With("entity_id", entry.EntityID, "local_seq", entry.LocalSeq)

	if entry.Attempts+1 >= e.cfg.MaxRejectedRetries {
		log.Error("Mutation repeatedly rejected, dropping", "attempts", entry.Attempts+1, "error", cause)
		if err := e.drop(ctx, entry, models.ReasonRemoteRejected); err != nil {
			log.Error("Failed to drop rejected mutation", "error", err)
			return sendRetry
		}
		e.resyncEntity(ctx, entry.EntityID)
		return sendDropped
	}

	fctx, cancel := context.WithTimeout(ctx, e.cfg.PushTimeout)
	ev, err := e.gateway.Fetch(fctx, entry.EntityID)
	cancel()
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			// сервер не знает документа: его создание еще не дошло, повторим позже
			log.Warn("Rejected entity not found remotely", "error", err)
		} else {
			log.Warn("Forced pull failed", "error", err)
		}
		if berr := e.bumpAttempts(ctx, entry); berr != nil {
			log.Error("Failed to update attempts", "error", berr)
		}
		return sendRetry
	}

	if err := e.bumpAttempts(ctx, entry); err != nil {
		log.Error("Failed to update attempts", "error", err)
		return sendRetry
	}
	if _, err := e.applyEvent(ctx, ev, false); err != nil {
		log.Error("Failed to apply forced pull", "error", err)
		return sendRetry
	}
	return sendRebased
}

func (e *Engine) onSerialization(ctx context.Context, entry *models.JournalEntry, cause error, log *slog.Logger) sendResult {
	attempts := entry.Attempts + 1
	if attempts >= e.cfg.MaxSerializationRetries {
		log.Error("Dropping mutation after serialization failures", "attempts", attempts, "error", cause)
		if err := e.drop(ctx, entry, models.ReasonSerialization); err != nil {
			log.Error("Failed to drop mutation", "error", err)
			return sendRetry
		}
		e.resyncEntity(ctx, entry.EntityID)
		return sendDropped
	}

	log.Warn("Serialization failure, will retry", "attempts", attempts, "error", cause)
	if err := e.bumpAttempts(ctx, entry); err != nil {
		log.Error("Failed to update attempts", "error", err)
	}
	return sendRetry
}

func (e *Engine) bumpAttempts(ctx context.Context, entry *models.JournalEntry) error {
	return e.store.Update(ctx, func(tx storage.Tx) error {
		current, err := tx.Entry(entry.LocalSeq)
		if err != nil {
			if errors.Is(err, storage.ErrEntryNotFound) {
				return nil
			}
			return err
		}
		current.Attempts++
		return tx.UpdateEntry(current)
	})
}

// drop удаляет запись журнала с итоговым статусом Rejected и помечает запись сбоем
func (e *Engine) drop(ctx context.Context, entry *models.JournalEntry, reason string) error {
	status := models.WriteStatus{State: models.WriteRejected, Reason: reason}

	var updates []models.StatusUpdate
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		stored, err := current(tx, entry)
		if err != nil {
			return err
		}
		if err := tx.Ack(entry.LocalSeq); err != nil && !errors.Is(err, storage.ErrEntryNotFound) {
			return err
		}
		rec, err := tx.Get(entry.EntityID)
		switch {
		case err == nil:
			rec.Failure = reason
			if err := tx.Put(rec); err != nil {
				return err
			}
		case errors.Is(err, storage.ErrRecordNotFound), errors.Is(err, storage.ErrCorruptRecord):
		default:
			return err
		}
		updates, err = resolve(tx, stored, status)
		return err
	})
	if err != nil {
		return err
	}

	e.statuses.publish(updates...)
	return nil
}
