package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/startuppulse/pulsesync/pkg/api"
)

// Version версия сервера, задается при сборке через -ldflags
var Version = "dev"

// Pinger проверяет доступность хранилища
type Pinger interface {
	Ping(ctx context.Context) error
}

// cursorReporter отдает последний курсор ленты изменений
type cursorReporter interface {
	LatestCursor(ctx context.Context) (int64, error)
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger *slog.Logger
	db     Pinger
}

// NewHealthHandler создает новый handler для health check
func NewHealthHandler(logger *slog.Logger, db Pinger) *HealthHandler {
	return &HealthHandler{
		logger: logger,
		db:     db,
	}
}

// Health обрабатывает GET /api/v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{Status: "ok", Version: Version}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Error("Health check failed", "error", err)
			resp.Status = "unavailable"
			sendJSON(w, h.logger, resp, http.StatusServiceUnavailable)
			return
		}
		if cr, ok := h.db.(cursorReporter); ok {
			cursor, err := cr.LatestCursor(ctx)
			if err != nil {
				h.logger.Warn("Failed to read feed cursor", "error", err)
			}
			resp.Cursor = cursor
		}
	}

	sendJSON(w, h.logger, resp, http.StatusOK)
}
