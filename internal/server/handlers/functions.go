package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/internal/server/billing"
	"github.com/startuppulse/pulsesync/internal/server/storage"
	"github.com/startuppulse/pulsesync/pkg/api"
)

// TokenSigner подписывает токены подписки
type TokenSigner interface {
	Sign(userID string, tier models.Tier, purchaseToken string, expiresAt time.Time) (string, error)
}

// NotificationProcessor применяет уведомления биллинга
type NotificationProcessor interface {
	Apply(ctx context.Context, n api.BillingNotification) (billing.Outcome, error)
}

// FunctionsHandler serves the entitlement functions and billing notifications
type FunctionsHandler struct {
	logger       *slog.Logger
	validator    billing.PurchaseValidator
	signer       TokenSigner
	entitlements storage.EntitlementStorage
	processor    NotificationProcessor
	now          func() time.Time
}

// NewFunctionsHandler creates a new functions handler
func NewFunctionsHandler(
	logger *slog.Logger,
	validator billing.PurchaseValidator,
	signer TokenSigner,
	entitlements storage.EntitlementStorage,
	processor NotificationProcessor,
) *FunctionsHandler {
	return &FunctionsHandler{
		logger:       logger,
		validator:    validator,
		signer:       signer,
		entitlements: entitlements,
		processor:    processor,
		now:          time.Now,
	}
}

// VerifyEntitlement обрабатывает POST /api/v1/functions/verifyEntitlement
// Проверяет покупку у провайдера, сохраняет подписку и выдает подписанный токен.
func (h *FunctionsHandler) VerifyEntitlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(w, h.logger, "missing user", http.StatusUnauthorized)
		return
	}

	var req api.VerifyEntitlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PurchaseToken == "" {
		sendError(w, h.logger, "purchase_token is required", http.StatusBadRequest)
		return
	}

	stored, err := h.entitlements.GetEntitlementByPurchaseToken(ctx, req.PurchaseToken)
	switch {
	case errors.Is(err, storage.ErrEntitlementNotFound):
		stored = nil
	case err != nil:
		h.logger.Error("Failed to get entitlement", "user_id", userID, "error", err)
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	if stored != nil {
		if stored.UserID != userID {
			h.logger.Warn("Purchase token belongs to another user", "user_id", userID)
			sendError(w, h.logger, "purchase belongs to another account", http.StatusForbidden)
			return
		}
		if !stored.Active && stored.Tier == models.TierFree {
			sendError(w, h.logger, "purchase revoked or expired", http.StatusForbidden)
			return
		}
	}

	sku := req.SKU
	if sku == "" && stored != nil {
		sku = stored.SKU
	}
	if sku == "" {
		sendError(w, h.logger, "sku is required", http.StatusBadRequest)
		return
	}

	purchase, err := h.validator.Validate(ctx, sku, req.PurchaseToken)
	if err != nil {
		if errors.Is(err, billing.ErrPurchaseInvalid) {
			h.logger.Info("Purchase rejected", "user_id", userID, "sku", sku, "error", err)
			sendError(w, h.logger, err.Error(), http.StatusForbidden)
			return
		}
		h.logger.Error("Failed to validate purchase", "user_id", userID, "sku", sku, "error", err)
		sendError(w, h.logger, "purchase validation unavailable", http.StatusBadGateway)
		return
	}

	ent := &storage.Entitlement{
		UserID:        userID,
		PurchaseToken: req.PurchaseToken,
		SKU:           purchase.SKU,
		Tier:          purchase.Tier,
		Active:        true,
		ExpiresAt:     purchase.ExpiresAt,
		UpdatedAt:     h.now(),
	}
	if stored != nil {
		ent.Canceled = stored.Canceled
	}
	if err := h.entitlements.SaveEntitlement(ctx, ent); err != nil {
		h.logger.Error("Failed to save entitlement", "user_id", userID, "error", err)
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	token, err := h.signer.Sign(userID, ent.Tier, ent.PurchaseToken, ent.ExpiresAt)
	if err != nil {
		h.logger.Error("Failed to sign entitlement token", "user_id", userID, "error", err)
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Entitlement verified", "user_id", userID, "tier", ent.Tier, "expires_at", ent.ExpiresAt)
	sendJSON(w, h.logger, api.VerifyEntitlementResponse{
		Token:     token,
		Tier:      string(ent.Tier),
		ExpiresAt: ent.ExpiresAt,
	}, http.StatusOK)
}

// BillingNotification обрабатывает POST /api/v1/billing/notifications
// Ошибки обработки логируются, но не возвращаются провайдеру, чтобы он не повторял доставку.
func (h *FunctionsHandler) BillingNotification(w http.ResponseWriter, r *http.Request) {
	var n api.BillingNotification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.processor.Apply(r.Context(), n)
	if err != nil {
		h.logger.Error("Failed to process billing notification", "type", n.NotificationType, "error", err)
	} else {
		h.logger.Debug("Billing notification processed", "type", n.NotificationType, "outcome", outcome)
	}

	w.WriteHeader(http.StatusNoContent)
}
