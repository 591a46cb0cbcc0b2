package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startuppulse/pulsesync/internal/server/handlers"
	"github.com/startuppulse/pulsesync/internal/server/jwt"
	"github.com/startuppulse/pulsesync/pkg/api"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func assertJSONError(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	assert.Equal(t, code, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, http.StatusText(code), resp.Error)
}

func TestAuthMiddleware(t *testing.T) {
	tokens := jwt.NewService("test-secret", time.Minute)
	valid, _, err := tokens.GenerateAccessToken("user123")
	require.NoError(t, err)
	foreign, _, err := jwt.NewService("other-secret", time.Minute).GenerateAccessToken("user123")
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{name: "valid token", header: "Bearer " + valid, wantCode: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + valid, wantCode: http.StatusOK},
		{name: "missing header", header: "", wantCode: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantCode: http.StatusUnauthorized},
		{name: "no token", header: "Bearer", wantCode: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer invalid.token.here", wantCode: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + foreign, wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			handler := AuthMiddleware(setupTestLogger(), tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = handlers.GetUserID(r.Context())
				okHandler(w, r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/changes", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if tt.wantCode == http.StatusOK {
				assert.Equal(t, http.StatusOK, w.Code)
				assert.Equal(t, "user123", gotUser)
				return
			}
			assertJSONError(t, w, tt.wantCode)
			assert.Empty(t, gotUser)
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	})
	assertJSONError(t, w, http.StatusInternalServerError)
	assert.Contains(t, logs.String(), "Handler panicked")
	assert.Contains(t, logs.String(), "boom")
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestRecoveryMiddleware_RepanicsOnAbort(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/changes", nil))
	})
}

func TestLoggingMiddleware(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	})
	handler := LoggingWithSkip(logger, []string{"/api/v1/health"})(mux)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents/secret-id", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	out := logs.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "status=404")
	assert.Contains(t, out, "bytes_written=7")
	assert.Contains(t, out, `route="GET /api/v1/documents/{id}"`)
	assert.NotContains(t, out, "secret-id")

	logs.Reset()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Empty(t, logs.String())
}

func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute, setupTestLogger())
	defer limiter.Stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ok, _ := limiter.Allow("a")
	assert.True(t, ok)
	ok, _ = limiter.Allow("a")
	assert.True(t, ok)
	ok, retry := limiter.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)

	// ключи независимы
	ok, _ = limiter.Allow("b")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = limiter.Allow("a")
	assert.True(t, ok, "tokens should be refilled after window")

	now = now.Add(3 * time.Minute)
	limiter.cleanupOldBuckets()
	limiter.mu.Lock()
	assert.Empty(t, limiter.buckets)
	limiter.mu.Unlock()

	limiter.Stop()
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute, setupTestLogger())
	defer limiter.Stop()

	handler := RateLimitMiddleware(limiter, ByUserOrIP, setupTestLogger())(http.HandlerFunc(okHandler))

	send := func(remote, userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/changes", nil)
		req.RemoteAddr = remote
		if userID != "" {
			req = req.WithContext(handlers.WithUserID(req.Context(), userID))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:5000", "").Code)
	// другой порт того же адреса - тот же клиент
	w := send("10.0.0.1:6000", "")
	assertJSONError(t, w, http.StatusTooManyRequests)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// аутентифицированный пользователь ограничивается отдельно от IP
	assert.Equal(t, http.StatusOK, send("10.0.0.1:5000", "user-1").Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		headers map[string]string
		name    string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "192.168.1.1:1234", want: "192.168.1.1"},
		{name: "remote addr without port", remote: "192.168.1.1", want: "192.168.1.1"},
		{name: "forwarded for", remote: "10.0.0.1:1", headers: map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.2"}, want: "203.0.113.1"},
		{name: "real ip", remote: "10.0.0.1:1", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, want: "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestErrorBodyIsJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusUnauthorized, "missing token")
	assert.True(t, strings.HasPrefix(w.Body.String(), "{"))
	assertJSONError(t, w, http.StatusUnauthorized)
}
