package models

import "time"

// Tier тариф подписки
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// rank возвращает порядок тарифа для сравнения
func (t Tier) rank() int {
	switch t {
	case TierPro:
		return 1
	default:
		return 0
	}
}

// AtLeast сообщает, что тариф не ниже other
func (t Tier) AtLeast(other Tier) bool {
	return t.rank() >= other.rank()
}

// EntitlementSnapshot проверенный снимок прав пользователя.
// Verified становится true только после проверки серверного токена,
// клиентские сигналы сами по себе его не выставляют.
type EntitlementSnapshot struct {
	ExpiresAt     time.Time `json:"expires_at"`
	VerifiedAt    time.Time `json:"verified_at"`
	Tier          Tier      `json:"tier"`
	Token         string    `json:"token,omitempty"`          // Token серверный токен верификации (JWT)
	PurchaseToken string    `json:"purchase_token,omitempty"` // PurchaseToken токен покупки от биллинга
	Verified      bool      `json:"verified"`
}

// FreeSnapshot снимок по умолчанию
func FreeSnapshot() EntitlementSnapshot {
	return EntitlementSnapshot{Tier: TierFree}
}

// Allows сообщает, разрешены ли premium мутации на момент now
func (s EntitlementSnapshot) Allows(required Tier, now time.Time) bool {
	if !required.AtLeast(TierPro) {
		return true
	}
	if !s.Verified || !s.Tier.AtLeast(required) {
		return false
	}
	return now.Before(s.ExpiresAt)
}

// BillingEventType тип события биллинга
type BillingEventType string

const (
	BillingPurchased BillingEventType = "purchased"
	BillingRenewed   BillingEventType = "renewed"
	BillingCanceled  BillingEventType = "canceled" // подписка отменена, но действует до конца периода
	BillingRevoked   BillingEventType = "revoked"
	BillingExpired   BillingEventType = "expired"
)

// BillingEvent событие от провайдера биллинга
type BillingEvent struct {
	Type          BillingEventType
	PurchaseToken string
	SKU           string
}
