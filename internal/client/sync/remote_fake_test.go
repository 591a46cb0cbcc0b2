package sync

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/startuppulse/pulsesync/internal/client/remote"
	"github.com/startuppulse/pulsesync/internal/client/storage/boltdb"
	"github.com/startuppulse/pulsesync/internal/models"
)

type fakeDoc struct {
	fields  models.Fields
	kind    string
	version int64
	deleted bool
}

// fakeRemote in-memory документное хранилище с семантикой эталонного сервера
type fakeRemote struct {
	docs         map[string]*fakeDoc
	keys         map[string]remote.Ack
	changed      chan struct{}
	subscribeErr error
	log          []models.RemoteEvent
	sendErrs     []error
	sent         []*models.JournalEntry
	minCursor    int64
	lastCursor   int64
	subscribes   int
	mu           gosync.Mutex
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		docs:    make(map[string]*fakeDoc),
		keys:    make(map[string]remote.Ack),
		changed: make(chan struct{}),
	}
}

func rejected(status int) error {
	return &remote.Error{Op: "send", Kind: remote.KindForStatus(status), Status: status, Message: http.StatusText(status)}
}

// failNext заставляет следующие вызовы Send вернуть ошибки
func (r *fakeRemote) failNext(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendErrs = append(r.sendErrs, errs...)
}

func (r *fakeRemote) sentEntries() []*models.JournalEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.JournalEntry(nil), r.sent...)
}

func (r *fakeRemote) doc(id string) *fakeDoc {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil
	}
	c := *d
	c.fields = d.fields.Clone()
	return &c
}

// commitLocked фиксирует новую версию документа в ленте изменений
func (r *fakeRemote) commitLocked(id string, d *fakeDoc) models.RemoteEvent {
	ev := models.RemoteEvent{
		EntityID:      id,
		Kind:          d.kind,
		ServerVersion: d.version,
		Payload:       d.fields.Clone(),
		Tombstone:     d.deleted,
		Cursor:        r.lastCursor + 1,
	}
	r.lastCursor = ev.Cursor
	r.log = append(r.log, ev)
	close(r.changed)
	r.changed = make(chan struct{})
	return ev
}

// write изменение документа другим устройством
func (r *fakeRemote) write(id, kind string, fields models.Fields) models.RemoteEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		d = &fakeDoc{kind: kind, fields: models.Fields{}}
		r.docs[id] = d
	}
	for k, v := range fields {
		d.fields[k] = v
	}
	d.version++
	return r.commitLocked(id, d)
}

// remove удаление документа другим устройством
func (r *fakeRemote) remove(id string) models.RemoteEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.docs[id]
	d.deleted = true
	d.fields = nil
	d.version++
	return r.commitLocked(id, d)
}

// prune удаляет документ и его историю из ленты, как очистка tombstone на сервере.
// Курсоры до текущего становятся недоступны для продолжения.
func (r *fakeRemote) prune(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	kept := r.log[:0]
	for _, ev := range r.log {
		if ev.EntityID != id {
			kept = append(kept, ev)
		}
	}
	r.log = kept
	r.minCursor = r.lastCursor + 1
}

func (r *fakeRemote) Send(_ context.Context, entry *models.JournalEntry) (remote.Ack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, entry.Clone())
	if len(r.sendErrs) > 0 {
		err := r.sendErrs[0]
		r.sendErrs = r.sendErrs[1:]
		return remote.Ack{}, err
	}
	if ack, ok := r.keys[entry.IdempotencyKey]; ok {
		ack.Duplicate = true
		return ack, nil
	}

	d := r.docs[entry.EntityID]
	switch entry.Mutation {
	case models.MutationCreate:
		if d != nil {
			return remote.Ack{}, rejected(http.StatusConflict)
		}
		d = &fakeDoc{kind: entry.Kind, fields: entry.Delta.Clone()}
		if d.fields == nil {
			d.fields = models.Fields{}
		}
		r.docs[entry.EntityID] = d
	case models.MutationUpdate:
		switch {
		case d == nil:
			return remote.Ack{}, rejected(http.StatusConflict)
		case d.deleted:
			return remote.Ack{}, rejected(http.StatusGone)
		case entry.BaseVersion < d.version:
			return remote.Ack{}, rejected(http.StatusConflict)
		}
		for k, v := range entry.Delta {
			d.fields[k] = v
		}
	case models.MutationDelete:
		switch {
		case d == nil:
			return remote.Ack{}, nil
		case d.deleted:
			return remote.Ack{ServerVersion: d.version}, nil
		case entry.BaseVersion < d.version:
			return remote.Ack{}, rejected(http.StatusConflict)
		}
		d.deleted = true
		d.fields = nil
	}
	d.version++
	ev := r.commitLocked(entry.EntityID, d)

	ack := remote.Ack{ServerVersion: ev.ServerVersion, Cursor: ev.Cursor}
	r.keys[entry.IdempotencyKey] = ack
	return ack, nil
}

func (r *fakeRemote) Fetch(_ context.Context, entityID string) (models.RemoteEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[entityID]
	if !ok {
		return models.RemoteEvent{}, remote.ErrNotFound
	}
	return models.RemoteEvent{
		EntityID:      entityID,
		Kind:          d.kind,
		ServerVersion: d.version,
		Payload:       d.fields.Clone(),
		Tombstone:     d.deleted,
	}, nil
}

func (r *fakeRemote) Subscribe(_ context.Context, filter remote.Filter, cursor int64) (remote.Stream, error) {
	r.mu.Lock()
	r.subscribes++
	if err := r.subscribeErr; err != nil {
		r.subscribeErr = nil
		r.mu.Unlock()
		return nil, err
	}
	if cursor > 0 && cursor < r.minCursor {
		r.mu.Unlock()
		return nil, remote.ErrResumeUnavailable
	}
	r.mu.Unlock()

	s := remote.NewChanStream(16, nil)
	go func() {
		last := cursor
		for {
			r.mu.Lock()
			var batch []models.RemoteEvent
			for _, ev := range r.log {
				if ev.Cursor > last && filter.Match(ev.Kind) {
					batch = append(batch, ev)
				}
			}
			changed := r.changed
			r.mu.Unlock()

			for _, ev := range batch {
				if !s.Emit(ev) {
					s.Finish(nil)
					return
				}
				last = ev.Cursor
			}

			select {
			case <-changed:
			case <-s.Done():
				s.Finish(nil)
				return
			}
		}
	}()
	return s, nil
}

func (r *fakeRemote) VerifyEntitlement(context.Context, remote.VerifyRequest) (remote.VerifyResponse, error) {
	return remote.VerifyResponse{}, remote.NewError("verify", remote.KindPermissionDenied, nil)
}

// staticEntitlements фиксированный снимок прав
type staticEntitlements struct {
	snapshot models.EntitlementSnapshot
}

func (s staticEntitlements) Current() models.EntitlementSnapshot {
	return s.snapshot
}

func proSnapshot() models.EntitlementSnapshot {
	return models.EntitlementSnapshot{
		Tier:      models.TierPro,
		Verified:  true,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BackoffBase = 5 * time.Millisecond
	cfg.BackoffMax = 50 * time.Millisecond
	cfg.MaintenanceInterval = time.Hour
	return cfg
}

func openStore(t *testing.T, path string) *boltdb.Storage {
	t.Helper()
	store, err := boltdb.New(context.Background(), path)
	require.NoError(t, err)
	return store
}

type testEnv struct {
	engine *Engine
	store  *boltdb.Storage
	remote *fakeRemote
	path   string
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.db")
	store := openStore(t, path)
	t.Cleanup(func() { _ = store.Close() })

	fr := newFakeRemote()
	engine, err := New(context.Background(), store, fr, staticEntitlements{proSnapshot()}, testLogger(), testConfig(), opts...)
	require.NoError(t, err)

	return &testEnv{engine: engine, store: store, remote: fr, path: path}
}

// push выполняет циклы отправки, пока журнал не опустеет
func (env *testEnv) push(t *testing.T) {
	t.Helper()
	for range 20 {
		wait, err := env.engine.pushCycle(context.Background())
		require.NoError(t, err)
		if wait == waitIdle {
			return
		}
	}
	t.Fatal("journal did not drain")
}

func (env *testEnv) record(t *testing.T, id string) *models.LocalRecord {
	t.Helper()
	rec, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (env *testEnv) submit(t *testing.T, in models.Intent) models.WriteResult {
	t.Helper()
	res, err := env.engine.Submit(context.Background(), in)
	require.NoError(t, err)
	return res
}
