package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/internal/server/storage"
	"github.com/startuppulse/pulsesync/internal/server/storage/sqlite"
	"github.com/startuppulse/pulsesync/pkg/api"
)

type recordingPublisher struct {
	docs []*storage.Document
}

func (p *recordingPublisher) Publish(_ context.Context, doc *storage.Document) {
	p.docs = append(p.docs, doc)
}

type documentsEnv struct {
	store     *sqlite.Storage
	publisher *recordingPublisher
	mux       *http.ServeMux
}

func newDocumentsEnv(t *testing.T) *documentsEnv {
	t.Helper()
	env := &documentsEnv{store: setupTestStorage(t), publisher: &recordingPublisher{}}
	h := NewDocumentsHandler(setupTestLogger(), env.store, env.store, env.publisher)

	env.mux = http.NewServeMux()
	env.mux.HandleFunc("POST /api/v1/documents/{id}/mutations", h.Mutate)
	env.mux.HandleFunc("GET /api/v1/documents/{id}", h.Get)
	return env
}

func (e *documentsEnv) mutate(t *testing.T, userID, id, key string, req api.MutationRequest) *httptest.ResponseRecorder {
	t.Helper()
	r := newRequest(t, http.MethodPost, "/api/v1/documents/"+id+"/mutations", userID, req)
	if key != "" {
		r.Header.Set(api.IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)
	return w
}

func TestDocumentsHandler_MutateAndGet(t *testing.T) {
	env := newDocumentsEnv(t)

	w := env.mutate(t, "user-1", "p1", "k1", api.MutationRequest{
		Kind: models.KindPulse, Mutation: "create", Fields: map[string]any{"title": "Idea"}, UpdatedAt: 3,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode[api.MutationResponse](t, w)
	assert.Equal(t, "p1", created.EntityID)
	assert.Equal(t, int64(1), created.ServerVersion)
	assert.False(t, created.Duplicate)
	require.Len(t, env.publisher.docs, 1)

	// повтор с тем же ключом подтверждается без повторной публикации
	w = env.mutate(t, "user-1", "p1", "k1", api.MutationRequest{
		Kind: models.KindPulse, Mutation: "create", Fields: map[string]any{"title": "Idea"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	dup := decode[api.MutationResponse](t, w)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, created.Cursor, dup.Cursor)
	assert.Len(t, env.publisher.docs, 1)

	w = httptest.NewRecorder()
	env.mux.ServeHTTP(w, newRequest(t, http.MethodGet, "/api/v1/documents/p1", "user-2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode[api.Document](t, w)
	assert.Equal(t, map[string]any{"title": "Idea"}, doc.Fields)
	assert.Equal(t, int64(3), doc.UpdatedAt)
	assert.Equal(t, created.Cursor, doc.Cursor)

	w = httptest.NewRecorder()
	env.mux.ServeHTTP(w, newRequest(t, http.MethodGet, "/api/v1/documents/missing", "user-1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentsHandler_MutateStatuses(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		key      string
		body     api.MutationRequest
		wantCode int
	}{
		{
			name: "stale update", userID: "user-1", key: uuid.NewString(),
			body:     api.MutationRequest{Kind: models.KindPulse, Mutation: "update", BaseVersion: 1, Fields: map[string]any{"a": 1}},
			wantCode: http.StatusConflict,
		},
		{
			name: "create existing", userID: "user-1", key: uuid.NewString(),
			body:     api.MutationRequest{Kind: models.KindPulse, Mutation: "create"},
			wantCode: http.StatusConflict,
		},
		{
			name: "foreign owner", userID: "user-2", key: uuid.NewString(),
			body:     api.MutationRequest{Kind: models.KindPulse, Mutation: "update", BaseVersion: 2},
			wantCode: http.StatusForbidden,
		},
		{
			name: "unknown mutation", userID: "user-1", key: uuid.NewString(),
			body:     api.MutationRequest{Kind: models.KindPulse, Mutation: "upsert"},
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown kind", userID: "user-1", key: uuid.NewString(),
			body:     api.MutationRequest{Kind: "invoice", Mutation: "update", BaseVersion: 2},
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name: "missing idempotency key", userID: "user-1",
			body:     api.MutationRequest{Kind: models.KindPulse, Mutation: "update", BaseVersion: 2},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "missing user", key: uuid.NewString(),
			body:     api.MutationRequest{Kind: models.KindPulse, Mutation: "update", BaseVersion: 2},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "premium without subscription", userID: "user-1", key: uuid.NewString(),
			body:     api.MutationRequest{Kind: models.KindPulse, Mutation: "update", BaseVersion: 2, Premium: true},
			wantCode: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newDocumentsEnv(t)
			require.Equal(t, http.StatusOK, env.mutate(t, "user-1", "p1", "c", api.MutationRequest{Kind: models.KindPulse, Mutation: "create"}).Code)
			require.Equal(t, http.StatusOK, env.mutate(t, "user-1", "p1", "u", api.MutationRequest{Kind: models.KindPulse, Mutation: "update", BaseVersion: 1}).Code)

			w := env.mutate(t, tt.userID, "p1", tt.key, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Len(t, env.publisher.docs, 2)
		})
	}
}

func TestDocumentsHandler_DeletedDocumentIsGone(t *testing.T) {
	env := newDocumentsEnv(t)
	env.mutate(t, "user-1", "p1", "c", api.MutationRequest{Kind: models.KindPulse, Mutation: "create"})
	w := env.mutate(t, "user-1", "p1", "d", api.MutationRequest{Kind: models.KindPulse, Mutation: "delete", BaseVersion: 1})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.mutate(t, "user-1", "p1", "u", api.MutationRequest{Kind: models.KindPulse, Mutation: "update", BaseVersion: 2})
	assert.Equal(t, http.StatusGone, w.Code)

	require.Len(t, env.publisher.docs, 2)
	assert.True(t, env.publisher.docs[1].Deleted)
}

func TestDocumentsHandler_PremiumRequiresActiveEntitlement(t *testing.T) {
	ctx := context.Background()
	env := newDocumentsEnv(t)
	premium := api.MutationRequest{Kind: models.KindPulse, Mutation: "create", Premium: true}

	require.NoError(t, env.store.SaveEntitlement(ctx, &storage.Entitlement{
		UserID: "user-1", PurchaseToken: "pt", Tier: models.TierPro, Active: true,
		ExpiresAt: time.Now().Add(-time.Hour),
	}))
	assert.Equal(t, http.StatusForbidden, env.mutate(t, "user-1", "p1", "k1", premium).Code)

	require.NoError(t, env.store.SaveEntitlement(ctx, &storage.Entitlement{
		UserID: "user-1", PurchaseToken: "pt", Tier: models.TierPro, Active: true,
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	assert.Equal(t, http.StatusOK, env.mutate(t, "user-1", "p1", "k2", premium).Code)
}

func TestDocumentsHandler_RejectsOversizedBody(t *testing.T) {
	env := newDocumentsEnv(t)
	big := strings.Repeat("x", maxMutationBytes)

	w := env.mutate(t, "user-1", "p1", "k", api.MutationRequest{
		Kind: models.KindPulse, Mutation: "create", Fields: map[string]any{"blob": big},
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestDocumentsHandler_RejectsInvalidID(t *testing.T) {
	env := newDocumentsEnv(t)

	w := env.mutate(t, "user-1", "-p1", "k1", api.MutationRequest{Kind: models.KindPulse, Mutation: "create"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "document id")

	w = httptest.NewRecorder()
	env.mux.ServeHTTP(w, newRequest(t, http.MethodGet, "/api/v1/documents/p1%20x", "user-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
