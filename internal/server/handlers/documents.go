package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/internal/server/feed"
	"github.com/startuppulse/pulsesync/internal/server/storage"
	"github.com/startuppulse/pulsesync/internal/validation"
	"github.com/startuppulse/pulsesync/pkg/api"
)

// maxMutationBytes ограничение размера тела мутации
const maxMutationBytes = 1 << 20

// DocumentStore определяет интерфейс хранилища документов
type DocumentStore interface {
	ApplyMutation(ctx context.Context, m *storage.Mutation) (*storage.MutationResult, error)
	GetDocument(ctx context.Context, id string) (*storage.Document, error)
}

// EntitlementReader читает подписки пользователей для проверки premium мутаций
type EntitlementReader interface {
	GetEntitlement(ctx context.Context, userID string) (*storage.Entitlement, error)
}

// DocumentsHandler handles document mutations and reads
type DocumentsHandler struct {
	logger       *slog.Logger
	docs         DocumentStore
	entitlements EntitlementReader
	publisher    feed.Publisher
	now          func() time.Time
}

// NewDocumentsHandler creates a new documents handler.
// publisher receives every applied change, may be nil.
func NewDocumentsHandler(logger *slog.Logger, docs DocumentStore, entitlements EntitlementReader, publisher feed.Publisher) *DocumentsHandler {
	return &DocumentsHandler{
		logger:       logger,
		docs:         docs,
		entitlements: entitlements,
		publisher:    publisher,
		now:          time.Now,
	}
}

// Mutate обрабатывает POST /api/v1/documents/{id}/mutations
func (h *DocumentsHandler) Mutate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(w, h.logger, "missing user", http.StatusUnauthorized)
		return
	}

	id := r.PathValue("id")
	if err := validation.ValidateID("document id", id); err != nil {
		sendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}
	key := r.Header.Get(api.IdempotencyKeyHeader)
	if key == "" {
		sendError(w, h.logger, api.IdempotencyKeyHeader+" header is required", http.StatusBadRequest)
		return
	}

	var req api.MutationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMutationBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, h.logger, "mutation too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Warn("Failed to decode mutation", "entity_id", id, "error", err)
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	mutation := models.MutationType(req.Mutation)
	if !mutation.Valid() {
		sendError(w, h.logger, "unknown mutation "+req.Mutation, http.StatusUnprocessableEntity)
		return
	}
	if req.Kind != models.KindPulse && req.Kind != models.KindMembership {
		sendError(w, h.logger, "unknown kind "+req.Kind, http.StatusUnprocessableEntity)
		return
	}

	if req.Premium {
		allowed, err := h.premiumAllowed(ctx, userID)
		if err != nil {
			h.logger.Error("Failed to check entitlement", "user_id", userID, "error", err)
			sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			h.logger.Info("Premium mutation denied", "user_id", userID, "entity_id", id)
			sendError(w, h.logger, "premium subscription required", http.StatusForbidden)
			return
		}
	}

	res, err := h.docs.ApplyMutation(ctx, &storage.Mutation{
		DocumentID:     id,
		Kind:           req.Kind,
		OwnerID:        userID,
		IdempotencyKey: key,
		Type:           mutation,
		BaseVersion:    req.BaseVersion,
		UpdatedAt:      req.UpdatedAt,
		Fields:         req.Fields,
	})
	if err != nil {
		status := mutationStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to apply mutation", "entity_id", id, "error", err)
		} else {
			h.logger.Debug("Mutation rejected", "entity_id", id, "mutation", req.Mutation, "base_version", req.BaseVersion, "error", err)
		}
		sendError(w, h.logger, err.Error(), status)
		return
	}

	if !res.Duplicate && res.Document != nil && h.publisher != nil {
		h.publisher.Publish(ctx, res.Document)
	}

	sendJSON(w, h.logger, api.MutationResponse{
		EntityID:      id,
		ServerVersion: res.ServerVersion,
		Cursor:        res.Cursor,
		Duplicate:     res.Duplicate,
	}, http.StatusOK)
}

func (h *DocumentsHandler) premiumAllowed(ctx context.Context, userID string) (bool, error) {
	ent, err := h.entitlements.GetEntitlement(ctx, userID)
	if errors.Is(err, storage.ErrEntitlementNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ent.Allows(h.now()), nil
}

// mutationStatus сопоставляет ошибку хранилища со статусом ответа
func mutationStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrVersionConflict), errors.Is(err, storage.ErrDocumentExists):
		return http.StatusConflict
	case errors.Is(err, storage.ErrDocumentDeleted):
		return http.StatusGone
	case errors.Is(err, storage.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Get обрабатывает GET /api/v1/documents/{id}
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if err := validation.ValidateID("document id", r.PathValue("id")); err != nil {
		sendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	doc, err := h.docs.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			sendError(w, h.logger, "document not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to get document", "entity_id", r.PathValue("id"), "error", err)
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(w, h.logger, feed.Document(doc), http.StatusOK)
}
