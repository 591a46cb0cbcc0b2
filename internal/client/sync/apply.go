package sync

import (
	"context"
	"errors"

	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/crdt"
	"github.com/startuppulse/pulsesync/internal/models"
)

// applyEvent применяет удаленное событие к локальной записи в одной транзакции.
// Повторное применение того же события ничего не меняет: событие с
// serverVersion <= baseVersion игнорируется. advanceCursor сохраняет позицию
// ленты вместе с записью (для событий из подписки, но не из Fetch).
func (e *Engine) applyEvent(ctx context.Context, ev models.RemoteEvent, advanceCursor bool) (string, error) {
	return e.applyRemote(ctx, ev, advanceCursor, false)
}

// applyAuthoritative пересобирает запись из серверного снимка и оставшихся
// локальных дельт (ресинхронизация после карантина или отказа)
func (e *Engine) applyAuthoritative(ctx context.Context, ev models.RemoteEvent) (string, error) {
	return e.applyRemote(ctx, ev, false, true)
}

func (e *Engine) applyRemote(ctx context.Context, ev models.RemoteEvent, advanceCursor, authoritative bool) (string, error) {
	var (
		outcome string
		updates []models.StatusUpdate
	)

	err := e.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		outcome, updates, err = e.transition(tx, ev, authoritative)
		if err != nil {
			return err
		}
		if advanceCursor && ev.Cursor > 0 {
			if err := tx.SetCursor(ev.Cursor); err != nil {
				return err
			}
		}
		return tx.SetClock(e.clock.Current())
	})
	if err != nil {
		return "", err
	}

	e.metrics.pullEvents.WithLabelValues(outcome).Inc()
	if outcome == pullRepaired {
		e.metrics.quarantined.Inc()
	}
	e.statuses.publish(updates...)
	e.logger.Debug("Remote event applied",
		"entity_id", ev.EntityID, "server_version", ev.ServerVersion, "tombstone", ev.Tombstone, "outcome", outcome)
	return outcome, nil
}

// transition реализует правила применения удаленного события
func (e *Engine) transition(tx storage.Tx, ev models.RemoteEvent, authoritative bool) (string, []models.StatusUpdate, error) {
	rec, err := tx.Get(ev.EntityID)
	repaired := false
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrRecordNotFound):
		rec = nil
	case errors.Is(err, storage.ErrCorruptRecord):
		// серверный снимок заменяет поврежденную запись
		e.logger.Error("Corrupt local record replaced from remote", "entity_id", ev.EntityID, "error", err)
		rec, repaired, authoritative = nil, true, true
	default:
		return "", nil, err
	}

	if rec != nil && rec.Quarantined {
		authoritative = true
	}
	if rec != nil && !authoritative && ev.ServerVersion <= rec.BaseVersion {
		return pullStale, nil, nil
	}

	pending, err := tx.PendingFor(ev.EntityID)
	if err != nil {
		return "", nil, err
	}

	var (
		outcome string
		updates []models.StatusUpdate
	)
	switch {
	case ev.Tombstone:
		outcome, updates, err = e.applyTombstone(tx, rec, ev, pending)
	case len(pending) == 0:
		outcome, err = e.applyClean(tx, rec, ev)
	default:
		outcome, err = e.applyMerge(tx, rec, ev, pending, authoritative)
	}
	if err != nil {
		return "", nil, err
	}
	if repaired {
		outcome = pullRepaired
	}
	return outcome, updates, nil
}

// applyClean: нет локальных изменений, серверное состояние применяется как есть
func (e *Engine) applyClean(tx storage.Tx, rec *models.LocalRecord, ev models.RemoteEvent) (string, error) {
	next := models.NewRecord(models.Entity{
		ID:        ev.EntityID,
		Kind:      ev.Kind,
		Fields:    ev.Payload.Clone(),
		Version:   ev.ServerVersion,
		UpdatedAt: e.clock.Witness(ev.UpdatedAt),
	})
	if next.Entity.Fields == nil {
		next.Entity.Fields = models.Fields{}
	}
	next.BaseVersion = ev.ServerVersion
	next.BaseFields = ev.Payload.Clone()
	next.AckedAt = e.now()

	if rec != nil {
		if rec.Entity.Version > next.Entity.Version {
			next.Entity.Version = rec.Entity.Version
		}
		if rec.Failure != models.ReasonCorruptState {
			next.Failure = rec.Failure
		}
		next.ConflictedFields = rec.ConflictedFields
		if next.Entity.Kind == "" {
			next.Entity.Kind = rec.Entity.Kind
		}
	}

	if err := tx.Put(next); err != nil {
		return "", err
	}
	return pullApplied, nil
}

// applyTombstone: удаление на сервере побеждает ожидающие Update,
// но проигрывает ожидающему Create с тем же id
func (e *Engine) applyTombstone(tx storage.Tx, rec *models.LocalRecord, ev models.RemoteEvent, pending []*models.JournalEntry) (string, []models.StatusUpdate, error) {
	for _, p := range pending {
		if p.Mutation == models.MutationCreate {
			return pullIgnored, nil, nil
		}
	}

	var (
		updates    []models.StatusUpdate
		lostUpdate bool
	)
	for _, p := range pending {
		status := models.WriteStatus{State: models.WriteSynced}
		if p.Mutation != models.MutationDelete {
			status = models.WriteStatus{State: models.WriteRejected, Reason: models.ReasonDeletedRemotely}
			lostUpdate = true
		}
		if err := tx.Ack(p.LocalSeq); err != nil {
			return "", nil, err
		}
		resolved, err := resolve(tx, p, status)
		if err != nil {
			return "", nil, err
		}
		updates = append(updates, resolved...)
	}

	if rec == nil {
		// неизвестный локально документ: хранить нечего
		return pullDeleted, updates, nil
	}

	rec.Entity.Deleted = true
	rec.Entity.UpdatedAt = e.clock.Witness(ev.UpdatedAt)
	if rec.Entity.Version < ev.ServerVersion {
		rec.Entity.Version = ev.ServerVersion
	}
	rec.BaseVersion = ev.ServerVersion
	rec.BaseFields = nil
	rec.SyncState = models.SyncStateClean
	clearQuarantine(rec)
	rec.AckedAt = e.now()
	if lostUpdate {
		rec.Failure = models.ReasonDeletedRemotely
	}

	if err := tx.Put(rec); err != nil {
		return "", nil, err
	}
	return pullDeleted, updates, nil
}

// applyMerge: есть неподтвержденные локальные записи
func (e *Engine) applyMerge(tx storage.Tx, rec *models.LocalRecord, ev models.RemoteEvent, pending []*models.JournalEntry, authoritative bool) (string, error) {
	delta := crdt.PendingDelta(pending)
	deleting := pending[len(pending)-1].Mutation == models.MutationDelete

	if rec == nil {
		rec = models.NewRecord(models.Entity{ID: ev.EntityID, Kind: ev.Kind, Fields: models.Fields{}})
		rec.SyncState = models.SyncStatePendingWrite
		authoritative = true
	}
	if rec.Entity.Kind == "" {
		rec.Entity.Kind = ev.Kind
	}

	var conflicts []string
	switch {
	case deleting:
		// локальное удаление побеждает: меняется только база
		rec.Entity.Deleted = true
		rec.SyncState = models.SyncStatePendingDelete
	case authoritative:
		rec.Entity.Fields = crdt.MergeRemote(ev.Payload, ev.Payload, delta).Fields
		rec.Entity.Deleted = false
	default:
		res := crdt.MergeRemote(rec.BaseFields, ev.Payload, delta)
		rec.Entity.Fields = res.Fields
		conflicts = res.Conflicts
	}

	rec.BaseFields = ev.Payload.Clone()
	rec.BaseVersion = ev.ServerVersion
	if rec.Entity.Version < ev.ServerVersion {
		rec.Entity.Version = ev.ServerVersion
	}
	rec.Entity.UpdatedAt = e.clock.Witness(ev.UpdatedAt)
	clearQuarantine(rec)
	if rec.SyncState == models.SyncStateClean {
		rec.SyncState = models.SyncStatePendingWrite
	}

	outcome := pullMerged
	if len(conflicts) > 0 {
		rec.MarkConflicted(conflicts)
		e.metrics.conflicts.Add(float64(len(conflicts)))
		e.logger.Info("Field conflict resolved in favour of local pending values",
			"entity_id", ev.EntityID, "fields", conflicts, "server_version", ev.ServerVersion)

		audit := models.ConflictRecord{
			EntityID:      ev.EntityID,
			Fields:        conflicts,
			ServerVersion: ev.ServerVersion,
			LocalValues:   models.Fields{},
			RemoteValues:  models.Fields{},
			DetectedAt:    e.now().UnixMilli(),
		}
		for _, f := range conflicts {
			audit.LocalValues[f] = delta[f]
			if v, ok := ev.Payload[f]; ok {
				audit.RemoteValues[f] = v
			}
		}
		if err := tx.AppendConflict(audit); err != nil {
			return "", err
		}
	}

	// оставшиеся записи перебазируются на новую серверную версию
	for _, p := range pending {
		p.BaseVersion = ev.ServerVersion
		if p.Mutation == models.MutationCreate {
			p.Mutation = models.MutationUpdate
		}
		if err := tx.UpdateEntry(p); err != nil {
			return "", err
		}
	}

	if err := tx.Put(rec); err != nil {
		return "", err
	}
	return outcome, nil
}

func clearQuarantine(rec *models.LocalRecord) {
	rec.Quarantined = false
	if rec.Failure == models.ReasonCorruptState {
		rec.Failure = ""
	}
}
