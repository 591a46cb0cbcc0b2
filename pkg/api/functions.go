package api

import "time"

// VerifyEntitlementRequest представляет запрос серверной проверки покупки
type VerifyEntitlementRequest struct {
	PurchaseToken string `json:"purchase_token"`
	SKU           string `json:"sku,omitempty"`
}

// VerifyEntitlementResponse содержит подписанный сервером токен подписки.
// Клиент доверяет только токену, поля Tier/ExpiresAt информационные.
type VerifyEntitlementResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"token"` // EdDSA JWT: sub, tier, exp
	Tier      string    `json:"tier"`
}

// BillingNotification уведомление от провайдера биллинга (RTDN)
type BillingNotification struct {
	PurchaseToken    string `json:"purchase_token"`
	SKU              string `json:"sku,omitempty"`
	UserID           string `json:"user_id,omitempty"`
	NotificationType int    `json:"notification_type"`
}

// Типы уведомлений биллинга
const (
	NotificationRecovered = 1
	NotificationRenewed   = 2
	NotificationCanceled  = 3
	NotificationPurchased = 4
	NotificationRevoked   = 5
	NotificationExpired   = 12
)
