// Package jwt issues and validates the tokens of the document service:
// HS256 access tokens for API callers and EdDSA entitlement tokens
// returned by the verifyEntitlement function.
package jwt

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/pkg/api"
)

// AccessIssuer issuer access токенов
const AccessIssuer = "pulsesync"

// ErrInvalidToken токен не прошел проверку
var ErrInvalidToken = errors.New("invalid token")

// Claims represents access token claims, Subject is the user id
type Claims struct {
	jwt.RegisteredClaims
}

// UserID returns the authenticated user id
func (c *Claims) UserID() string {
	return c.Subject
}

// Service provides access token generation and validation
type Service struct {
	now            func() time.Time
	secret         []byte
	accessTokenTTL time.Duration
}

// NewService creates a new JWT service
// secret should be a cryptographically secure random string
func NewService(secret string, accessTokenTTL time.Duration) *Service {
	return &Service{
		secret:         []byte(secret),
		accessTokenTTL: accessTokenTTL,
		now:            time.Now,
	}
}

// GenerateAccessToken creates a new access token for the user
// Returns the token and its lifetime in seconds
func (s *Service) GenerateAccessToken(userID string) (string, int64, error) {
	if userID == "" {
		return "", 0, fmt.Errorf("user id is required")
	}
	now := s.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    AccessIssuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, int64(s.accessTokenTTL.Seconds()), nil
}

// ValidateAccessToken validates and parses an access token
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(AccessIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// EntitlementSigner подписывает токены подписки закрытым ключом ed25519
type EntitlementSigner struct {
	key ed25519.PrivateKey
}

// NewEntitlementSigner создает signer
func NewEntitlementSigner(key ed25519.PrivateKey) *EntitlementSigner {
	return &EntitlementSigner{key: key}
}

// ParsePrivateKey декодирует base64 seed ed25519 ключа
func ParsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("private key must be a %d byte seed, got %d bytes", ed25519.SeedSize, len(raw))
	}
}

// PublicKey возвращает открытый ключ для проверки токенов на клиенте
func (s *EntitlementSigner) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Sign выпускает токен подписки, действующий до expiresAt
func (s *EntitlementSigner) Sign(userID string, tier models.Tier, purchaseToken string, expiresAt time.Time) (string, error) {
	if len(s.key) == 0 {
		return "", fmt.Errorf("no signing key configured")
	}
	claims := api.EntitlementClaims{
		Tier:          string(tier),
		PurchaseToken: purchaseToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    api.EntitlementIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign entitlement token: %w", err)
	}
	return token, nil
}
