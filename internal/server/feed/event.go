// Package feed distributes committed document changes: an in-process hub
// wakes long-poll requests and an optional NATS publisher pushes the change
// to real-time subscribers.
package feed

import (
	"context"

	"github.com/startuppulse/pulsesync/internal/server/storage"
	"github.com/startuppulse/pulsesync/pkg/api"
)

// Publisher receives every committed change
type Publisher interface {
	Publish(ctx context.Context, doc *storage.Document)
}

// Publishers fans a change out to several publishers
type Publishers []Publisher

// Publish передает изменение каждому publisher по очереди
func (p Publishers) Publish(ctx context.Context, doc *storage.Document) {
	for _, pub := range p {
		pub.Publish(ctx, doc)
	}
}

// ChangeEvent преобразует документ в элемент ленты изменений
func ChangeEvent(doc *storage.Document) api.ChangeEvent {
	ev := api.ChangeEvent{
		EntityID:      doc.ID,
		Kind:          doc.Kind,
		Cursor:        doc.Cursor,
		ServerVersion: doc.Version,
		UpdatedAt:     doc.UpdatedAt,
		Tombstone:     doc.Deleted,
	}
	if !doc.Deleted {
		ev.Payload = doc.Fields
	}
	return ev
}

// Document преобразует документ в ответ API
func Document(doc *storage.Document) api.Document {
	fields := doc.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return api.Document{
		ID:        doc.ID,
		Kind:      doc.Kind,
		Fields:    fields,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
		Cursor:    doc.Cursor,
		Deleted:   doc.Deleted,
	}
}
