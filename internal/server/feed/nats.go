package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/startuppulse/pulsesync/internal/server/storage"
	"github.com/startuppulse/pulsesync/pkg/api"
)

// Conn публикует сообщения в брокер
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes every change on api.ChangeSubject(kind).
// Delivery is best effort: subscribers repair gaps from the HTTP change log.
type NATSPublisher struct {
	conn   Conn
	logger *slog.Logger
}

// NewNATSPublisher создает publisher
func NewNATSPublisher(conn Conn, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, logger: logger}
}

// Connect подключается к NATS
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("pulsesync-server"),
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

// Publish отправляет изменение в subject его типа
func (p *NATSPublisher) Publish(_ context.Context, doc *storage.Document) {
	data, err := json.Marshal(ChangeEvent(doc))
	if err != nil {
		p.logger.Error("Failed to encode change", "entity_id", doc.ID, "error", err)
		return
	}
	subject := api.ChangeSubject(doc.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish change", "subject", subject, "cursor", doc.Cursor, "error", err)
	}
}
