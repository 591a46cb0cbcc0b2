package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/startuppulse/pulsesync/internal/server/handlers"
	"github.com/startuppulse/pulsesync/internal/server/jwt"
)

// TokenValidator проверяет access токены
type TokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// AuthMiddleware создает middleware для проверки bearer токена.
// Идентификатор пользователя из токена кладется в контекст запроса.
func AuthMiddleware(logger *slog.Logger, tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header", "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "missing token")
				return
			}

			// Ожидаем формат: "Bearer <token>"
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				logger.Warn("Invalid Authorization header format")
				writeError(w, http.StatusUnauthorized, "invalid token format")
				return
			}

			claims, err := tokens.ValidateAccessToken(token)
			if err != nil {
				logger.Warn("Invalid access token", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			logger.Debug("User authenticated", "user_id", claims.UserID())
			next.ServeHTTP(w, r.WithContext(handlers.WithUserID(r.Context(), claims.UserID())))
		})
	}
}
