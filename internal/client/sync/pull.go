package sync

import (
	"context"
	"errors"
	"time"

	"github.com/startuppulse/pulsesync/internal/client/remote"
	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/models"
)

// SubscriptionState состояние подписки на ленту изменений
type SubscriptionState int

const (
	StateDisconnected SubscriptionState = iota
	StateSubscribing
	StateStreaming
	StateError
)

func (s SubscriptionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	}
	return "unknown"
}

// validTransitions Disconnected -> Subscribing -> Streaming -> Error -> Disconnected
var validTransitions = map[SubscriptionState][]SubscriptionState{
	StateDisconnected: {StateSubscribing},
	StateSubscribing:  {StateStreaming, StateError, StateDisconnected},
	StateStreaming:    {StateError, StateDisconnected},
	StateError:        {StateDisconnected},
}

// SubscriptionState returns the current change feed subscription state
func (e *Engine) SubscriptionState() SubscriptionState {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	return e.subState
}

func (e *Engine) setState(next SubscriptionState) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	if e.subState == next {
		return
	}
	allowed := false
	for _, s := range validTransitions[e.subState] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		e.logger.Error("Invalid subscription transition", "from", e.subState, "to", next)
		return
	}

	e.logger.Debug("Subscription state changed", "from", e.subState, "to", next)
	e.subState = next
	e.metrics.subState.Set(float64(next))
}

// pullLoop держит подписку на ленту изменений и переподписывается после ошибок
func (e *Engine) pullLoop(ctx context.Context) error {
	backoff := e.newBackoff()

	for {
		if ctx.Err() != nil {
			e.setState(StateDisconnected)
			return nil
		}

		e.setState(StateSubscribing)
		err := e.stream(ctx, func() { backoff = e.newBackoff() })

		if ctx.Err() != nil {
			e.setState(StateDisconnected)
			return nil
		}

		if err != nil {
			e.setState(StateError)
			e.logger.Warn("Change feed interrupted", "error", err)
		}
		e.setState(StateDisconnected)

		if errors.Is(err, remote.ErrResumeUnavailable) {
			e.logger.Warn("Change feed cannot resume, starting full resync")
			if err := e.resetFeed(ctx); err != nil {
				e.logger.Error("Failed to reset change feed", "error", err)
			}
			continue
		}

		d, _ := backoff.Next()
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.setState(StateDisconnected)
			return nil
		case <-e.pullWake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// resetFeed сбрасывает курсор на 0 и отправляет в карантин все записи, известные серверу.
// Полная лента с 0 не содержит удалений, чьи tombstone сервер уже удалил: запись,
// не получившая событие, остается в карантине, а resyncEntity удаляет ее по ErrNotFound.
func (e *Engine) resetFeed(ctx context.Context) error {
	var ids []string
	for rec, err := range e.store.Scan(ctx, func(rec *models.LocalRecord) bool {
		return rec.BaseVersion > 0 && !rec.IsTombstone() && !rec.Quarantined
	}) {
		if err != nil {
			var cerr *storage.CorruptRecordError
			if errors.As(err, &cerr) {
				continue
			}
			return err
		}
		ids = append(ids, rec.ID())
	}

	err := e.store.Update(ctx, func(tx storage.Tx) error {
		for _, id := range ids {
			rec, err := tx.Get(id)
			if err != nil {
				if errors.Is(err, storage.ErrRecordNotFound) || errors.Is(err, storage.ErrCorruptRecord) {
					continue
				}
				return err
			}
			rec.Quarantined = true
			if err := tx.Put(rec); err != nil {
				return err
			}
		}
		return tx.SetCursor(0)
	})
	if err != nil {
		return err
	}

	e.logger.Info("Change feed reset", "quarantined", len(ids))
	for _, id := range ids {
		e.queueResync(id)
	}
	return nil
}

// stream подписывается с сохраненного курсора и применяет события до обрыва
func (e *Engine) stream(ctx context.Context, connected func()) error {
	cursor, err := e.store.Cursor(ctx)
	if err != nil {
		return err
	}

	s, err := e.gateway.Subscribe(ctx, e.cfg.Filter, cursor)
	if err != nil {
		return err
	}
	defer s.Close()

	e.setState(StateStreaming)
	connected()
	e.logger.Info("Change feed streaming", "cursor", cursor)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.Events():
			if !ok {
				if err := s.Err(); err != nil {
					return err
				}
				return errors.New("change feed closed")
			}
			// событие применяется целиком даже при отмене ctx
			if _, err := e.applyEvent(context.WithoutCancel(ctx), ev, true); err != nil {
				e.logger.Error("Failed to apply remote event",
					"entity_id", ev.EntityID, "server_version", ev.ServerVersion, "error", err)
				return err
			}
		}
	}
}
