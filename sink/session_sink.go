package sink

import (
	"context"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/errors"
	"sync"
)

const DefaultBufferSize = 256

// SessionSink is the outbox of one live connection.
// Consume is called by the fanout and never blocks; the transport drains
// Events() from its writer loop and closes the sink when the socket goes away.
type SessionSink struct {
	ID     domain.SessionID
	events chan event.DomainEvent
	done   chan struct{}
	once   sync.Once
}

func NewSessionSink(id domain.SessionID, bufferSize int) *SessionSink {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &SessionSink{
		ID:     id,
		events: make(chan event.DomainEvent, bufferSize),
		done:   make(chan struct{}),
	}
}

// Consume enqueues e. A full outbox means a stalled client: the event is
// refused rather than blocking the emitting conversation.
func (s *SessionSink) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-s.done:
		return errors.ErrSessionClosed
	default:
	}
	// Room in the outbox always wins over a cancelled context.
	select {
	case s.events <- e:
		return nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.ErrOutboxFull
}

func (s *SessionSink) Events() <-chan event.DomainEvent {
	return s.events
}

// Done is closed once the sink is closed.
func (s *SessionSink) Done() <-chan struct{} {
	return s.done
}

// Close is idempotent. The events channel itself stays open so that a
// concurrent Consume can never panic.
func (s *SessionSink) Close() {
	s.once.Do(func() { close(s.done) })
}
