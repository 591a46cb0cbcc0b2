package api

import "github.com/golang-jwt/jwt/v5"

// EntitlementIssuer issuer токенов подписки
const EntitlementIssuer = "pulsesync-functions"

// EntitlementClaims claims подписанного сервером токена подписки (EdDSA).
// Subject - идентификатор пользователя, ExpiresAt - конец оплаченного периода.
type EntitlementClaims struct {
	Tier          string `json:"tier"`
	PurchaseToken string `json:"pt,omitempty"`
	jwt.RegisteredClaims
}
