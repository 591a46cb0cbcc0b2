package remote

import (
	"sync"

	"github.com/startuppulse/pulsesync/internal/models"
)

// ChanStream is a Stream backed by a channel, fed by a producer goroutine
type ChanStream struct {
	events chan models.RemoteEvent
	done   chan struct{}
	err    error
	mu     sync.Mutex
	once   sync.Once
	finish sync.Once
	stop   func()
}

// NewChanStream creates a stream; stop is called once on Close
func NewChanStream(buffer int, stop func()) *ChanStream {
	if stop == nil {
		stop = func() {}
	}
	return &ChanStream{
		events: make(chan models.RemoteEvent, buffer),
		done:   make(chan struct{}),
		stop:   stop,
	}
}

// Events returns the event channel
func (s *ChanStream) Events() <-chan models.RemoteEvent {
	return s.events
}

// Err returns the terminal error once Events is closed
func (s *ChanStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the producer
func (s *ChanStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.stop()
	})
	return nil
}

// Done is closed when the consumer closes the stream
func (s *ChanStream) Done() <-chan struct{} {
	return s.done
}

// Emit delivers an event, returns false if the stream was closed
func (s *ChanStream) Emit(ev models.RemoteEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Finish closes Events with the terminal error. Only the producer calls it.
func (s *ChanStream) Finish(err error) {
	s.finish.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.events)
	})
}
