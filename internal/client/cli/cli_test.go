package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startuppulse/pulsesync/internal/client/iocli"
	"github.com/startuppulse/pulsesync/internal/client/remote"
	"github.com/startuppulse/pulsesync/internal/client/storage/boltdb"
	"github.com/startuppulse/pulsesync/internal/client/sync"
	"github.com/startuppulse/pulsesync/internal/models"
)

type fakeEntitlements struct {
	events   []models.BillingEvent
	snapshot models.EntitlementSnapshot
}

func (f *fakeEntitlements) Current() models.EntitlementSnapshot { return f.snapshot }

func (f *fakeEntitlements) HandleBillingEvent(_ context.Context, ev models.BillingEvent) error {
	f.events = append(f.events, ev)
	if ev.Type == models.BillingPurchased {
		f.snapshot = models.EntitlementSnapshot{
			Tier:      models.TierPro,
			Verified:  true,
			ExpiresAt: time.Now().Add(time.Hour),
		}
	}
	return nil
}

func setupCli(t *testing.T, ents *fakeEntitlements) (*Cli, *bytes.Buffer, *boltdb.Storage) {
	t.Helper()
	ctx := context.Background()

	store, err := boltdb.New(ctx, filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var source sync.Entitlements = &fakeEntitlements{snapshot: models.FreeSnapshot()}
	if ents != nil {
		source = ents
	}
	engine, err := sync.New(ctx, store, &remote.GatewayMock{}, source,
		slog.New(slog.NewTextHandler(io.Discard, nil)), sync.DefaultConfig())
	require.NoError(t, err)

	var buf bytes.Buffer
	var e Entitlements
	if ents != nil {
		e = ents
	}
	return New(iocli.NewStdio(&buf), engine, store, e), &buf, store
}

func TestParseFields(t *testing.T) {
	fields, err := ParseFields([]string{"title=Idea", "stage=3", "open=true", "tags=[\"a\",\"b\"]", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, models.Fields{
		"title": "Idea",
		"stage": float64(3),
		"open":  true,
		"tags":  []any{"a", "b"},
		"note":  "a=b",
	}, fields)

	_, err = ParseFields([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseFields([]string{"=x"})
	assert.Error(t, err)
}

func TestSubmit_WithAuthorCreatesMembership(t *testing.T) {
	ctx := context.Background()
	c, out, store := setupCli(t, nil)

	err := c.Submit(ctx, SubmitOptions{
		Kind:     models.KindPulse,
		Mutation: models.MutationCreate,
		Fields:   []string{"title=Idea"},
		Author:   "user-1",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "pending")

	var pulseID string
	var members []*models.LocalRecord
	for rec, err := range store.Scan(ctx, func(*models.LocalRecord) bool { return true }) {
		require.NoError(t, err)
		switch rec.Entity.Kind {
		case models.KindPulse:
			pulseID = rec.ID()
		case models.KindMembership:
			members = append(members, rec)
		}
	}
	require.NotEmpty(t, pulseID)
	require.Len(t, members, 1)
	assert.Equal(t, pulseID, members[0].Entity.Fields["pulse_id"])
	assert.Equal(t, "author", members[0].Entity.Fields["role"])

	depth, err := store.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestSubmit_Errors(t *testing.T) {
	ctx := context.Background()
	c, _, _ := setupCli(t, nil)

	err := c.Submit(ctx, SubmitOptions{Kind: models.KindPulse, Mutation: models.MutationCreate, Premium: true})
	require.ErrorIs(t, err, sync.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "premium")

	err = c.Submit(ctx, SubmitOptions{Kind: models.KindMembership, Mutation: models.MutationCreate, Author: "u"})
	assert.ErrorContains(t, err, "--author")

	err = c.Submit(ctx, SubmitOptions{Kind: models.KindPulse, Mutation: models.MutationCreate, Fields: []string{"bad"}})
	assert.Error(t, err)

	err = c.Submit(ctx, SubmitOptions{Mutation: models.MutationUpdate})
	assert.ErrorIs(t, err, sync.ErrInvalidIntent)

	err = c.Submit(ctx, SubmitOptions{ID: "a/b", Kind: models.KindPulse, Mutation: models.MutationCreate})
	assert.ErrorContains(t, err, "entity id")
}

func TestListAndGet(t *testing.T) {
	ctx := context.Background()
	c, out, _ := setupCli(t, nil)

	require.NoError(t, c.List(ctx, "", false))
	assert.Contains(t, out.String(), "No records found.")

	require.NoError(t, c.Submit(ctx, SubmitOptions{
		ID: "p1", Kind: models.KindPulse, Mutation: models.MutationCreate, Fields: []string{"title=Idea"},
	}))
	require.NoError(t, c.Submit(ctx, SubmitOptions{
		ID: "m1", Kind: models.KindMembership, Mutation: models.MutationCreate, Fields: []string{"pulse_id=p1"},
	}))

	out.Reset()
	require.NoError(t, c.List(ctx, models.KindPulse, false))
	assert.Contains(t, out.String(), "p1 [pulse] v0 pending")
	assert.Contains(t, out.String(), `"Idea"`)
	assert.NotContains(t, out.String(), "m1")

	out.Reset()
	require.NoError(t, c.Get(ctx, "p1"))
	assert.Contains(t, out.String(), "Sync state:   pending_write")
	assert.Contains(t, out.String(), `"title": "Idea"`)

	assert.ErrorContains(t, c.Get(ctx, "missing"), "not found")

	// удаленная запись скрыта, пока не запрошены tombstone
	require.NoError(t, c.Submit(ctx, SubmitOptions{ID: "p1", Mutation: models.MutationDelete}))
	out.Reset()
	require.NoError(t, c.List(ctx, models.KindPulse, false))
	assert.Contains(t, out.String(), "No records found.")
	out.Reset()
	require.NoError(t, c.List(ctx, models.KindPulse, true))
	assert.Contains(t, out.String(), "deleted")
}

func TestWriteStatus(t *testing.T) {
	ctx := context.Background()
	c, out, store := setupCli(t, nil)

	require.NoError(t, c.Submit(ctx, SubmitOptions{ID: "p1", Kind: models.KindPulse, Mutation: models.MutationCreate}))
	entries, err := store.PeekBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	out.Reset()
	require.NoError(t, c.WriteStatus(ctx, "p1", entries[0].LocalSeq))
	assert.Contains(t, out.String(), "p1 (seq 1): pending")
}

func TestStatus(t *testing.T) {
	ctx := context.Background()

	c, out, _ := setupCli(t, nil)
	require.NoError(t, c.Status(ctx))
	assert.Contains(t, out.String(), "all changes synchronized")
	assert.Contains(t, out.String(), "Subscription:  not configured")

	ents := &fakeEntitlements{snapshot: models.EntitlementSnapshot{Tier: models.TierFree, PurchaseToken: "pt"}}
	c, out, _ = setupCli(t, ents)
	require.NoError(t, c.Submit(ctx, SubmitOptions{Kind: models.KindPulse, Mutation: models.MutationCreate}))
	out.Reset()
	require.NoError(t, c.Status(ctx))
	assert.Contains(t, out.String(), "1 change(s) waiting")
	assert.Contains(t, out.String(), "waiting for verification")
}

func TestEntitle(t *testing.T) {
	ctx := context.Background()

	c, _, _ := setupCli(t, nil)
	assert.ErrorIs(t, c.Entitle(ctx, models.BillingEvent{Type: models.BillingPurchased}), ErrEntitlementsDisabled)

	ents := &fakeEntitlements{snapshot: models.FreeSnapshot()}
	c, out, _ := setupCli(t, ents)
	assert.Error(t, c.Entitle(ctx, models.BillingEvent{Type: "refunded"}))

	require.NoError(t, c.Entitle(ctx, models.BillingEvent{Type: models.BillingPurchased, PurchaseToken: "pt", SKU: "pro_monthly"}))
	assert.Contains(t, out.String(), "Tier: pro (verified: true)")
	require.Len(t, ents.events, 1)

	// после проверки premium изменения принимаются
	require.NoError(t, c.Submit(ctx, SubmitOptions{Kind: models.KindPulse, Mutation: models.MutationCreate, Premium: true}))
}

func TestWatch(t *testing.T) {
	mockIO := &iocli.IOMock{
		PrintfFunc: func(format string, a ...any) {},
	}
	c := New(mockIO, nil, nil, nil)

	updates := make(chan models.StatusUpdate, 2)
	updates <- models.StatusUpdate{EntityID: "p1", LocalSeq: 1, Status: models.WriteStatus{State: models.WriteSynced}}
	updates <- models.StatusUpdate{EntityID: "p2", LocalSeq: 2, Status: models.WriteStatus{
		State: models.WriteRejected, Reason: models.ReasonPermissionDenied,
	}}
	close(updates)

	c.Watch(context.Background(), updates)

	calls := mockIO.PrintfCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, []any{"p1", uint64(1), models.WriteSynced}, calls[0].A)
	assert.Equal(t, models.ReasonPermissionDenied, calls[1].A[3])
}

func TestServe_AcceptsCommandsWhileRunning(t *testing.T) {
	ctx := context.Background()
	c, out, store := setupCli(t, nil)

	input := strings.Join([]string{
		`{"op":"submit","id":"p1","fields":["title=Idea"]}`,
		`{"op":"submit","mutation":"update","id":"p1","fields":["status=active"]}`,
		``,
		`{"op":"entitle","event":"purchased","purchase_token":"pt","sku":"pro_monthly"}`,
		`{"op":"entitle","event":"refunded"}`,
		`{"op":"list"}`,
		`not json`,
	}, "\n")

	billing := make(chan models.BillingEvent, 4)
	require.NoError(t, c.Serve(ctx, strings.NewReader(input), billing))

	rec, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.Fields{"title": "Idea", "status": "active"}, rec.Entity.Fields)

	require.Len(t, billing, 1)
	assert.Equal(t, models.BillingEvent{Type: models.BillingPurchased, PurchaseToken: "pt", SKU: "pro_monthly"}, <-billing)

	text := out.String()
	assert.Contains(t, text, "Accepted p1 (seq 1)")
	assert.Contains(t, text, "Accepted p1 (seq 2)")
	assert.Contains(t, text, "Queued billing event purchased")
	assert.Contains(t, text, `unknown billing event "refunded"`)
	assert.Contains(t, text, `unknown op "list"`)
	assert.Contains(t, text, "invalid command")
}

func TestServe_EntitleWithoutMonitor(t *testing.T) {
	c, out, _ := setupCli(t, nil)

	require.NoError(t, c.Serve(context.Background(), strings.NewReader(`{"op":"entitle","event":"purchased"}`), nil))
	assert.Contains(t, out.String(), ErrEntitlementsDisabled.Error())
}

func TestServe_StopsOnCancel(t *testing.T) {
	c, _, _ := setupCli(t, nil)
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, r, nil) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
