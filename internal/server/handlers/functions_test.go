package handlers

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startuppulse/pulsesync/internal/client/entitlement"
	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/internal/server/billing"
	"github.com/startuppulse/pulsesync/internal/server/jwt"
	"github.com/startuppulse/pulsesync/internal/server/storage"
	"github.com/startuppulse/pulsesync/internal/server/storage/sqlite"
	"github.com/startuppulse/pulsesync/pkg/api"
)

type functionsEnv struct {
	handler   *FunctionsHandler
	store     *sqlite.Storage
	validator *billing.PurchaseValidatorMock
	verifier  *entitlement.TokenVerifier
}

func newFunctionsEnv(t *testing.T) *functionsEnv {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	env := &functionsEnv{
		store:    setupTestStorage(t),
		verifier: entitlement.NewTokenVerifier(pub),
		validator: &billing.PurchaseValidatorMock{
			ValidateFunc: func(ctx context.Context, sku, purchaseToken string) (billing.Purchase, error) {
				if purchaseToken == "bad" {
					return billing.Purchase{}, billing.ErrPurchaseInvalid
				}
				if purchaseToken == "outage" {
					return billing.Purchase{}, errors.New("store unavailable")
				}
				return billing.Purchase{SKU: sku, Tier: models.TierPro, ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second)}, nil
			},
		},
	}
	processor := billing.NewProcessor(env.store, env.validator, setupTestLogger())
	env.handler = NewFunctionsHandler(setupTestLogger(), env.validator, jwt.NewEntitlementSigner(priv), env.store, processor)
	return env
}

func (e *functionsEnv) verify(t *testing.T, userID string, req api.VerifyEntitlementRequest) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.handler.VerifyEntitlement(w, newRequest(t, http.MethodPost, "/api/v1/functions/verifyEntitlement", userID, req))
	return w
}

func TestFunctionsHandler_VerifyEntitlement(t *testing.T) {
	ctx := context.Background()
	env := newFunctionsEnv(t)

	w := env.verify(t, "user-1", api.VerifyEntitlementRequest{PurchaseToken: "pt-1", SKU: "pro_monthly"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[api.VerifyEntitlementResponse](t, w)
	assert.Equal(t, string(models.TierPro), resp.Tier)

	claims, err := env.verifier.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "pt-1", claims.PurchaseToken)

	stored, err := env.store.GetEntitlement(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, stored.Active)
	assert.Equal(t, "pro_monthly", stored.SKU)

	// повторная проверка без SKU использует сохраненный
	w = env.verify(t, "user-1", api.VerifyEntitlementRequest{PurchaseToken: "pt-1"})
	require.Equal(t, http.StatusOK, w.Code)
	calls := env.validator.ValidateCalls()
	assert.Equal(t, "pro_monthly", calls[len(calls)-1].Sku)
}

func TestFunctionsHandler_VerifyEntitlementErrors(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		req      api.VerifyEntitlementRequest
		wantCode int
	}{
		{name: "unauthenticated", req: api.VerifyEntitlementRequest{PurchaseToken: "pt", SKU: "s"}, wantCode: http.StatusUnauthorized},
		{name: "missing purchase token", userID: "user-1", req: api.VerifyEntitlementRequest{SKU: "s"}, wantCode: http.StatusBadRequest},
		{name: "missing sku for unknown purchase", userID: "user-1", req: api.VerifyEntitlementRequest{PurchaseToken: "new"}, wantCode: http.StatusBadRequest},
		{name: "invalid purchase", userID: "user-1", req: api.VerifyEntitlementRequest{PurchaseToken: "bad", SKU: "s"}, wantCode: http.StatusForbidden},
		{name: "store outage", userID: "user-1", req: api.VerifyEntitlementRequest{PurchaseToken: "outage", SKU: "s"}, wantCode: http.StatusBadGateway},
		{name: "purchase of another user", userID: "user-2", req: api.VerifyEntitlementRequest{PurchaseToken: "owned", SKU: "s"}, wantCode: http.StatusForbidden},
		{name: "revoked purchase", userID: "user-3", req: api.VerifyEntitlementRequest{PurchaseToken: "revoked", SKU: "s"}, wantCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newFunctionsEnv(t)
			require.NoError(t, env.store.SaveEntitlement(ctx, &storage.Entitlement{
				UserID: "user-1", PurchaseToken: "owned", Tier: models.TierPro, Active: true, ExpiresAt: time.Now().Add(time.Hour),
			}))
			require.NoError(t, env.store.SaveEntitlement(ctx, &storage.Entitlement{
				UserID: "user-3", PurchaseToken: "revoked", Tier: models.TierFree, ExpiresAt: time.Now().Add(time.Hour),
			}))

			w := env.verify(t, tt.userID, tt.req)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestFunctionsHandler_BillingNotification(t *testing.T) {
	ctx := context.Background()
	env := newFunctionsEnv(t)
	require.Equal(t, http.StatusOK, env.verify(t, "user-1", api.VerifyEntitlementRequest{PurchaseToken: "pt-1", SKU: "pro_monthly"}).Code)

	notify := func(n any) int {
		w := httptest.NewRecorder()
		env.handler.BillingNotification(w, newRequest(t, http.MethodPost, "/api/v1/billing/notifications", "", n))
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, notify(api.BillingNotification{PurchaseToken: "unknown", NotificationType: api.NotificationRevoked}))
	assert.Equal(t, http.StatusNoContent, notify(api.BillingNotification{PurchaseToken: "pt-1", NotificationType: api.NotificationRevoked}))

	stored, err := env.store.GetEntitlement(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, stored.Active)

	// после отзыва сервер больше не выдает токен
	assert.Equal(t, http.StatusForbidden, env.verify(t, "user-1", api.VerifyEntitlementRequest{PurchaseToken: "pt-1"}).Code)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/billing/notifications", bytes.NewBufferString("{"))
	env.handler.BillingNotification(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
