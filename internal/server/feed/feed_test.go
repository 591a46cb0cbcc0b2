package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/internal/server/storage"
	"github.com/startuppulse/pulsesync/pkg/api"
)

type recordingConn struct {
	err      error
	subjects []string
	payloads [][]byte
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return c.err
}

func TestHub_WakesWaiters(t *testing.T) {
	hub := NewHub()
	first := hub.Changed()

	select {
	case <-first:
		t.Fatal("hub fired without a change")
	default:
	}

	hub.Publish(context.Background(), &storage.Document{ID: "a"})

	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}

	// следующий канал ждет следующего изменения
	select {
	case <-hub.Changed():
		t.Fatal("new channel already closed")
	default:
	}
}

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &recordingConn{}
	pub := NewNATSPublisher(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))

	pub.Publish(context.Background(), &storage.Document{
		ID: "p1", Kind: models.KindPulse, Version: 3, Cursor: 9, UpdatedAt: 42, Fields: models.Fields{"title": "Idea"},
	})
	pub.Publish(context.Background(), &storage.Document{
		ID: "m1", Kind: models.KindMembership, Version: 2, Cursor: 10, Deleted: true,
	})

	require.Len(t, conn.subjects, 2)
	assert.Equal(t, "pulses.changes.pulse", conn.subjects[0])
	assert.Equal(t, "pulses.changes.membership", conn.subjects[1])

	var ev api.ChangeEvent
	require.NoError(t, json.Unmarshal(conn.payloads[0], &ev))
	assert.Equal(t, api.ChangeEvent{
		EntityID: "p1", Kind: models.KindPulse, Cursor: 9, ServerVersion: 3, UpdatedAt: 42,
		Payload: map[string]any{"title": "Idea"},
	}, ev)

	require.NoError(t, json.Unmarshal(conn.payloads[1], &ev))
	assert.True(t, ev.Tombstone)
}

func TestNATSPublisher_ErrorIsNotFatal(t *testing.T) {
	conn := &recordingConn{err: errors.New("disconnected")}
	pub := NewNATSPublisher(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))

	hub := NewHub()
	waiter := hub.Changed()
	Publishers{pub, hub}.Publish(context.Background(), &storage.Document{ID: "a", Kind: models.KindPulse})

	// сбой брокера не мешает остальным publisher
	select {
	case <-waiter:
	default:
		t.Fatal("hub not notified")
	}
}

func TestDocument_DeletedHasEmptyFields(t *testing.T) {
	doc := Document(&storage.Document{ID: "a", Deleted: true, Version: 2})
	assert.NotNil(t, doc.Fields)
	assert.True(t, doc.Deleted)
}
