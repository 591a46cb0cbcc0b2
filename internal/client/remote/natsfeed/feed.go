// Package natsfeed delivers the change feed in real time over NATS,
// using the HTTP change log for catch-up and gap repair.
package natsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/startuppulse/pulsesync/internal/client/remote"
	"github.com/startuppulse/pulsesync/internal/client/remote/httpapi"
	"github.com/startuppulse/pulsesync/pkg/api"
)

// Source подписка на subject брокера сообщений
type Source interface {
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func() error, err error)
}

// ConnSource адаптирует *nats.Conn к Source
type ConnSource struct {
	Conn *nats.Conn
}

// Subscribe подписывается на subject
func (s ConnSource) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	sub, err := s.Conn.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

// Connect подключается к NATS
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("pulsesync-client"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return conn, nil
}

// Gateway is a remote.Gateway whose change feed is pushed over NATS.
// Send, Fetch and VerifyEntitlement go through the embedded HTTP client.
type Gateway struct {
	*httpapi.Client
	source Source
	logger *slog.Logger
	sweep  time.Duration
	buffer int
}

// New создает gateway. sweep - период контрольной догрузки через HTTP.
func New(client *httpapi.Client, source Source, logger *slog.Logger, sweep time.Duration) *Gateway {
	if sweep <= 0 {
		sweep = 30 * time.Second
	}
	return &Gateway{
		Client: client,
		source: source,
		logger: logger,
		sweep:  sweep,
		buffer: 256,
	}
}

func subjects(filter remote.Filter) []string {
	if len(filter.Kinds) == 0 {
		return []string{api.ChangeSubjectPrefix + ">"}
	}
	out := make([]string, 0, len(filter.Kinds))
	for _, kind := range filter.Kinds {
		out = append(out, api.ChangeSubject(kind))
	}
	return out
}

// Subscribe подписывается на NATS до догрузки истории, чтобы не потерять
// изменения между ответом HTTP и началом потока. Живое сообщение доставляется
// сразу, только если его курсор следует за последним доставленным; иначе поток
// догружается через HTTP, и курсор никогда не перескакивает через недоставленное изменение.
func (g *Gateway) Subscribe(ctx context.Context, filter remote.Filter, cursor int64) (remote.Stream, error) {
	live := make(chan api.ChangeEvent, g.buffer)
	overflow := make(chan struct{}, 1)

	var unsubs []func() error
	unsubscribeAll := func() {
		for _, u := range unsubs {
			_ = u()
		}
	}

	for _, subject := range subjects(filter) {
		unsub, err := g.source.Subscribe(subject, func(data []byte) {
			var ev api.ChangeEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				g.logger.Warn("Dropping malformed change message", "subject", subject, "error", err)
				return
			}
			select {
			case live <- ev:
			default:
				// потерянное сообщение будет догружено через HTTP
				select {
				case overflow <- struct{}{}:
				default:
				}
			}
		})
		if err != nil {
			unsubscribeAll()
			return nil, remote.NewError("subscribe", remote.KindTransient, err)
		}
		unsubs = append(unsubs, unsub)
	}

	first, err := g.Changes(ctx, filter, cursor, 0)
	if err != nil {
		unsubscribeAll()
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(ctx)
	stream := remote.NewChanStream(64, func() {
		cancel()
		unsubscribeAll()
	})

	go g.run(feedCtx, stream, filter, cursor, first, live, overflow)

	return stream, nil
}

func (g *Gateway) run(
	ctx context.Context,
	stream *remote.ChanStream,
	filter remote.Filter,
	last int64,
	first api.ChangesResponse,
	live <-chan api.ChangeEvent,
	overflow <-chan struct{},
) {
	emit := func(ev api.ChangeEvent) bool {
		if ev.Cursor <= last || !filter.Match(ev.Kind) {
			return true
		}
		if !stream.Emit(httpapi.EventFromChange(ev)) {
			return false
		}
		last = ev.Cursor
		return true
	}

	// catchUp догружает ленту через HTTP, пока есть изменения
	catchUp := func(page api.ChangesResponse, fetched bool) error {
		for {
			if !fetched {
				var err error
				page, err = g.Changes(ctx, filter, last, 0)
				if err != nil {
					return err
				}
			}
			fetched = false

			for _, ev := range page.Changes {
				if !emit(ev) {
					return context.Canceled
				}
			}
			if len(page.Changes) == 0 {
				return nil
			}
			if page.Cursor > last {
				last = page.Cursor
			}
		}
	}

	finish := func(err error) {
		if ctx.Err() != nil {
			err = nil
		}
		stream.Finish(err)
	}

	if err := catchUp(first, true); err != nil {
		finish(err)
		return
	}

	ticker := time.NewTicker(g.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finish(nil)
			return
		case <-stream.Done():
			finish(nil)
			return
		case ev := <-live:
			switch {
			case ev.Cursor <= last:
				// уже доставлено догрузкой
			case ev.Cursor == last+1:
				if !emit(ev) {
					finish(nil)
					return
				}
			default:
				// разрыв курсоров: сообщения пришли не по порядку или часть потеряна,
				// недостающие изменения берутся из HTTP ленты
				g.logger.Debug("Change feed gap, catching up", "cursor", last, "received", ev.Cursor)
				if err := catchUp(api.ChangesResponse{}, false); err != nil {
					finish(err)
					return
				}
			}
		case <-overflow:
			g.logger.Warn("Change feed buffer overflow, catching up", "cursor", last)
			if err := catchUp(api.ChangesResponse{}, false); err != nil {
				finish(err)
				return
			}
		case <-ticker.C:
			if err := catchUp(api.ChangesResponse{}, false); err != nil {
				finish(err)
				return
			}
		}
	}
}

var _ remote.Gateway = (*Gateway)(nil)
