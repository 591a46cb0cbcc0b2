package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// RecoveryMiddleware перехватывает панику обработчика и отвечает 500.
// Клиент синхронизации считает 5xx временной ошибкой и повторит отправку
// с тем же Idempotency-Key.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer recoverRequest(logger, w, r)
			next.ServeHTTP(w, r)
		})
	}
}

func recoverRequest(logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	rec := recover()
	if rec == nil {
		return
	}
	if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
		// long-poll прерван намеренно
		panic(rec)
	}

	logger.Error("Handler panicked",
		"panic", rec,
		"method", r.Method,
		"route", r.Pattern,
		"idempotency_key", r.Header.Get("Idempotency-Key"),
		"stack", string(debug.Stack()),
	)
	writeError(w, http.StatusInternalServerError, "")
}
