package entitlement

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/startuppulse/pulsesync/pkg/api"
)

// ErrInvalidToken токен подписки не прошел проверку
var ErrInvalidToken = errors.New("invalid entitlement token")

// TokenVerifier проверяет токены подписки открытым ключом сервера.
// Закрытый ключ есть только у серверной функции, поэтому клиент не может выпустить токен сам.
type TokenVerifier struct {
	key    ed25519.PublicKey
	leeway time.Duration
}

// NewTokenVerifier создает verifier
func NewTokenVerifier(key ed25519.PublicKey) *TokenVerifier {
	return &TokenVerifier{key: key, leeway: 30 * time.Second}
}

// ParsePublicKey декодирует base64 ed25519 открытый ключ
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Verify проверяет подпись, издателя и срок действия токена
func (v *TokenVerifier) Verify(token string) (*api.EntitlementClaims, error) {
	if v == nil || len(v.key) == 0 {
		return nil, fmt.Errorf("%w: no verification key configured", ErrInvalidToken)
	}

	claims := &api.EntitlementClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			return v.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(api.EntitlementIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}
