package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/models"
)

// Submit accepts one intent optimistically. The returned status is Pending;
// the final status arrives later through Statuses/Status.
func (e *Engine) Submit(ctx context.Context, intent models.Intent) (models.WriteResult, error) {
	results, err := e.SubmitBatch(ctx, []models.Intent{intent})
	if len(results) == 0 {
		return models.WriteResult{}, err
	}
	return results[0], err
}

// SubmitBatch accepts several intents atomically: either all of them are
// applied to the local store and journaled, or none.
func (e *Engine) SubmitBatch(ctx context.Context, intents []models.Intent) ([]models.WriteResult, error) {
	if len(intents) == 0 {
		return nil, nil
	}

	// снимок прав передается явно и проверяется до записи в журнал
	snapshot := e.entitlements.Current()
	now := e.now()
	for _, in := range intents {
		if in.Premium && !snapshot.Allows(models.TierPro, now) {
			e.logger.Warn("Premium mutation rejected locally",
				"entity_id", in.EntityID, "tier", snapshot.Tier, "verified", snapshot.Verified)
			return rejectedResults(intents), ErrPermissionDenied
		}
	}

	prepared := make([]models.Intent, len(intents))
	for i, in := range intents {
		p, err := prepareIntent(in)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
	}

	results := make([]models.WriteResult, len(prepared))
	var corrupt []string

	err := e.store.Update(ctx, func(tx storage.Tx) error {
		for i, in := range prepared {
			seq, err := e.applyIntent(tx, in)
			if err != nil {
				if errors.Is(err, storage.ErrCorruptRecord) {
					corrupt = append(corrupt, in.EntityID)
				}
				return fmt.Errorf("intent %d (%s %s): %w", i, in.Mutation, in.EntityID, err)
			}
			results[i] = models.WriteResult{
				EntityID: in.EntityID,
				LocalSeq: seq,
				Status:   models.WriteStatus{State: models.WritePending},
			}
		}
		return tx.SetClock(e.clock.Current())
	})

	for _, id := range corrupt {
		e.quarantine(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	updates := make([]models.StatusUpdate, len(results))
	for i, r := range results {
		updates[i] = models.StatusUpdate{EntityID: r.EntityID, LocalSeq: r.LocalSeq, Status: r.Status}
	}
	e.statuses.publish(updates...)
	e.wakePush()

	return results, nil
}

func rejectedResults(intents []models.Intent) []models.WriteResult {
	out := make([]models.WriteResult, len(intents))
	for i, in := range intents {
		out[i] = models.WriteResult{
			EntityID: in.EntityID,
			Status:   models.WriteStatus{State: models.WriteRejected, Reason: models.ReasonPermissionDenied},
		}
	}
	return out
}

// prepareIntent проверяет намерение, нормализует поля и назначает id для Create
func prepareIntent(in models.Intent) (models.Intent, error) {
	if !in.Mutation.Valid() {
		return in, fmt.Errorf("%w: unknown mutation %q", ErrInvalidIntent, in.Mutation)
	}

	switch in.Mutation {
	case models.MutationCreate:
		if in.Kind == "" {
			return in, fmt.Errorf("%w: create without kind", ErrInvalidIntent)
		}
		if in.EntityID == "" {
			in.EntityID = uuid.NewString()
		}
	default:
		if in.EntityID == "" {
			return in, fmt.Errorf("%w: %s without entity id", ErrInvalidIntent, in.Mutation)
		}
	}

	if in.Mutation != models.MutationDelete {
		fields, err := models.NormalizeFields(in.Fields)
		if err != nil {
			return in, fmt.Errorf("%w: %w", ErrInvalidIntent, err)
		}
		in.Fields = fields
	} else {
		in.Fields = nil
	}
	return in, nil
}

// applyIntent применяет намерение к записи и ставит мутацию в журнал
func (e *Engine) applyIntent(tx storage.Tx, in models.Intent) (uint64, error) {
	rec, err := tx.Get(in.EntityID)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return 0, err
	}
	exists := err == nil

	entry := &models.JournalEntry{
		EntityID: in.EntityID,
		Kind:     in.Kind,
		Mutation: in.Mutation,
		Delta:    in.Fields,
		Premium:  in.Premium,
	}

	switch in.Mutation {
	case models.MutationCreate:
		if exists {
			return 0, ErrEntityExists
		}
		rec = models.NewRecord(models.Entity{
			ID:        in.EntityID,
			Kind:      in.Kind,
			Fields:    in.Fields.Clone(),
			UpdatedAt: e.clock.Tick(),
		})
		rec.SyncState = models.SyncStatePendingWrite

	case models.MutationUpdate:
		if !exists {
			return 0, ErrEntityNotFound
		}
		if rec.IsTombstone() {
			return 0, ErrEntityDeleted
		}
		if rec.Entity.Fields == nil {
			rec.Entity.Fields = models.Fields{}
		}
		for k, v := range in.Fields {
			rec.Entity.Fields[k] = v
		}
		rec.Entity.UpdatedAt = e.clock.Tick()
		rec.Failure = ""
		if rec.SyncState == models.SyncStateClean {
			rec.SyncState = models.SyncStatePendingWrite
		}
		entry.Kind = rec.Entity.Kind
		entry.BaseVersion = rec.BaseVersion

	case models.MutationDelete:
		if !exists {
			return 0, ErrEntityNotFound
		}
		if rec.IsTombstone() {
			return 0, ErrEntityDeleted
		}
		rec.Entity.Deleted = true
		rec.Entity.UpdatedAt = e.clock.Tick()
		rec.Failure = ""
		rec.SyncState = models.SyncStatePendingDelete
		entry.Kind = rec.Entity.Kind
		entry.BaseVersion = rec.BaseVersion
	}

	entry.UpdatedAt = rec.Entity.UpdatedAt
	if err := tx.Put(rec); err != nil {
		return 0, err
	}
	return tx.Enqueue(entry)
}
