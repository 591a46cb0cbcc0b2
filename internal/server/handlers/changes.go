package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/startuppulse/pulsesync/internal/server/feed"
	"github.com/startuppulse/pulsesync/internal/server/storage"
	"github.com/startuppulse/pulsesync/pkg/api"
)

// DefaultPageSize размер страницы ленты изменений
const DefaultPageSize = 200

// ChangeReader читает ленту изменений
type ChangeReader interface {
	ChangesAfter(ctx context.Context, after int64, kinds []string, limit int) ([]*storage.Document, error)
}

// ChangeNotifier сообщает о новых изменениях (feed.Hub)
type ChangeNotifier interface {
	Changed() <-chan struct{}
}

// ChangesHandler serves the change feed with optional long-polling
type ChangesHandler struct {
	logger   *slog.Logger
	changes  ChangeReader
	notifier ChangeNotifier
	maxWait  time.Duration
	pageSize int
}

// NewChangesHandler creates a new changes handler.
// Without a notifier the wait parameter is ignored.
func NewChangesHandler(logger *slog.Logger, changes ChangeReader, notifier ChangeNotifier, maxWait time.Duration) *ChangesHandler {
	return &ChangesHandler{
		logger:   logger,
		changes:  changes,
		notifier: notifier,
		maxWait:  maxWait,
		pageSize: DefaultPageSize,
	}
}

// Changes обрабатывает GET /api/v1/changes?after=cursor&wait=25s&kind=pulse
// Возвращает изменения после курсора. С wait запрос держится, пока изменений нет.
func (h *ChangesHandler) Changes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var after int64
	if s := q.Get("after"); s != "" {
		var err error
		after, err = strconv.ParseInt(s, 10, 64)
		if err != nil || after < 0 {
			sendError(w, h.logger, "invalid after parameter", http.StatusBadRequest)
			return
		}
	}

	var wait time.Duration
	if s := q.Get("wait"); s != "" {
		var err error
		wait, err = time.ParseDuration(s)
		if err != nil || wait < 0 {
			sendError(w, h.logger, "invalid wait parameter", http.StatusBadRequest)
			return
		}
	}
	if wait > h.maxWait {
		wait = h.maxWait
	}
	if h.notifier == nil {
		wait = 0
	}

	kinds := q["kind"]

	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		// канал берется до чтения, чтобы не пропустить изменение между чтением и ожиданием
		var changed <-chan struct{}
		if wait > 0 {
			changed = h.notifier.Changed()
		}

		docs, err := h.changes.ChangesAfter(ctx, after, kinds, h.pageSize)
		if err != nil {
			if errors.Is(err, storage.ErrCursorExpired) {
				h.logger.Info("Change feed cursor expired", "after", after)
				sendError(w, h.logger, "cursor expired, full resync required", http.StatusPreconditionFailed)
				return
			}
			h.logger.Error("Failed to read changes", "after", after, "error", err)
			sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
			return
		}

		if len(docs) > 0 || wait == 0 {
			h.respond(w, after, docs)
			return
		}

		select {
		case <-changed:
		case <-deadline:
			h.respond(w, after, nil)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *ChangesHandler) respond(w http.ResponseWriter, after int64, docs []*storage.Document) {
	resp := api.ChangesResponse{
		Changes: make([]api.ChangeEvent, 0, len(docs)),
		Cursor:  after,
	}
	for _, doc := range docs {
		resp.Changes = append(resp.Changes, feed.ChangeEvent(doc))
		resp.Cursor = doc.Cursor
	}
	sendJSON(w, h.logger, resp, http.StatusOK)
}
