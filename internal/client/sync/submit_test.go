package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/models"
)

func TestSubmit_CreateIsPendingAndJournaled(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	statuses, cancel := env.engine.Statuses(8)
	defer cancel()

	res := env.submit(t, models.Intent{
		Kind:     models.KindPulse,
		Mutation: models.MutationCreate,
		Fields:   models.Fields{"title": "Idea", "stage": 1},
	})
	assert.NotEmpty(t, res.EntityID)
	assert.Equal(t, models.WritePending, res.Status.State)

	// чтение своих записей: запись видна сразу
	rec := env.record(t, res.EntityID)
	assert.Equal(t, models.SyncStatePendingWrite, rec.SyncState)
	assert.Equal(t, "Idea", rec.Entity.Fields["title"])
	assert.Equal(t, float64(1), rec.Entity.Fields["stage"])
	assert.Positive(t, rec.Entity.UpdatedAt)

	batch, err := env.store.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, res.LocalSeq, batch[0].LocalSeq)
	assert.Equal(t, models.MutationCreate, batch[0].Mutation)

	select {
	case u := <-statuses:
		assert.Equal(t, res.LocalSeq, u.LocalSeq)
		assert.Equal(t, models.WritePending, u.Status.State)
	case <-time.After(time.Second):
		t.Fatal("no status update")
	}

	status, err := env.engine.Status(ctx, res.EntityID, res.LocalSeq)
	require.NoError(t, err)
	assert.Equal(t, models.WritePending, status.State)
}

func TestSubmit_PremiumGating(t *testing.T) {
	ctx := context.Background()
	unverified := models.EntitlementSnapshot{
		Tier:      models.TierPro,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	expired := proSnapshot()
	expired.ExpiresAt = time.Now().Add(-time.Minute)

	tests := []struct {
		name     string
		snapshot models.EntitlementSnapshot
	}{
		{name: "free tier", snapshot: models.FreeSnapshot()},
		{name: "unverified pro", snapshot: unverified},
		{name: "expired pro", snapshot: expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openStore(t, filepath.Join(t.TempDir(), "gate.db"))
			defer store.Close()

			engine, err := New(ctx, store, newFakeRemote(), staticEntitlements{tt.snapshot}, testLogger(), testConfig())
			require.NoError(t, err)

			results, err := engine.SubmitBatch(ctx, []models.Intent{
				{Kind: models.KindPulse, Mutation: models.MutationCreate, Fields: models.Fields{"title": "free"}},
				{Kind: models.KindPulse, Mutation: models.MutationCreate, Fields: models.Fields{"boost": true}, Premium: true},
			})
			require.ErrorIs(t, err, ErrPermissionDenied)
			require.Len(t, results, 2)
			assert.Equal(t, models.WriteRejected, results[1].Status.State)
			assert.Equal(t, models.ReasonPermissionDenied, results[1].Status.Reason)

			// ни одна мутация пачки не попала в журнал
			depth, err := store.Depth(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, depth)
		})
	}
}

func TestSubmit_PremiumAllowedWithVerifiedEntitlement(t *testing.T) {
	env := newTestEnv(t)

	res := env.submit(t, models.Intent{
		Kind:     models.KindPulse,
		Mutation: models.MutationCreate,
		Fields:   models.Fields{"boost": true},
		Premium:  true,
	})

	batch, err := env.store.PeekBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, res.LocalSeq, batch[0].LocalSeq)
	assert.True(t, batch[0].Premium)
}

func TestSubmitBatch_IsAtomic(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.engine.SubmitBatch(ctx, []models.Intent{
		{EntityID: "pulse-1", Kind: models.KindPulse, Mutation: models.MutationCreate, Fields: models.Fields{"title": "P"}},
		{EntityID: "missing", Mutation: models.MutationUpdate, Fields: models.Fields{"title": "x"}},
	})
	require.ErrorIs(t, err, ErrEntityNotFound)

	_, err = env.store.Get(ctx, "pulse-1")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	results, err := env.engine.SubmitBatch(ctx, []models.Intent{
		{EntityID: "pulse-1", Kind: models.KindPulse, Mutation: models.MutationCreate, Fields: models.Fields{"title": "P"}},
		{EntityID: "member-1", Kind: models.KindMembership, Mutation: models.MutationCreate, Fields: models.Fields{"pulse_id": "pulse-1"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Less(t, results[0].LocalSeq, results[1].LocalSeq)

	depth, err := env.store.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestSubmit_InvalidIntents(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.submit(t, models.Intent{EntityID: "p1", Kind: models.KindPulse, Mutation: models.MutationCreate})
	env.submit(t, models.Intent{EntityID: "p1", Mutation: models.MutationDelete})

	tests := []struct {
		name    string
		intent  models.Intent
		wantErr error
	}{
		{
			name:    "unknown mutation",
			intent:  models.Intent{EntityID: "p1", Mutation: "upsert"},
			wantErr: ErrInvalidIntent,
		},
		{
			name:    "create without kind",
			intent:  models.Intent{Mutation: models.MutationCreate},
			wantErr: ErrInvalidIntent,
		},
		{
			name:    "update without id",
			intent:  models.Intent{Mutation: models.MutationUpdate},
			wantErr: ErrInvalidIntent,
		},
		{
			name:    "unserializable field",
			intent:  models.Intent{EntityID: "p2", Kind: models.KindPulse, Mutation: models.MutationCreate, Fields: models.Fields{"ch": make(chan int)}},
			wantErr: ErrInvalidIntent,
		},
		{
			name:    "duplicate create",
			intent:  models.Intent{EntityID: "p1", Kind: models.KindPulse, Mutation: models.MutationCreate},
			wantErr: ErrEntityExists,
		},
		{
			name:    "update of tombstone",
			intent:  models.Intent{EntityID: "p1", Mutation: models.MutationUpdate, Fields: models.Fields{"title": "x"}},
			wantErr: ErrEntityDeleted,
		},
		{
			name:    "delete of unknown",
			intent:  models.Intent{EntityID: "nope", Mutation: models.MutationDelete},
			wantErr: ErrEntityNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.Submit(ctx, tt.intent)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSubmit_UpdateClearsFailureMarker(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.submit(t, models.Intent{EntityID: "p1", Kind: models.KindPulse, Mutation: models.MutationCreate})
	require.NoError(t, env.store.Update(ctx, func(tx storage.Tx) error {
		rec, err := tx.Get("p1")
		if err != nil {
			return err
		}
		rec.Failure = models.ReasonSerialization
		return tx.Put(rec)
	}))

	env.submit(t, models.Intent{EntityID: "p1", Mutation: models.MutationUpdate, Fields: models.Fields{"title": "again"}})
	assert.Empty(t, env.record(t, "p1").Failure)
}
