package runtime

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/repositories"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// recordingSink keeps every event it accepts, in order.
type recordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
	fail   error
}

func (s *recordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Events() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.DomainEvent(nil), s.events...)
}

func (s *recordingSink) OfType(t event.Type) []event.DomainEvent {
	var out []event.DomainEvent
	for _, e := range s.Events() {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

func openInMemory(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// relay wires the runtime the way main does, on an in-memory database.
type relay struct {
	log      *slog.Logger
	users    repositories.IUserRepository
	presence *PresenceTracker
	registry *Registry
	store    *ConversationStore
	fanout   *Fanout
}

func newRelay(t *testing.T, push contract.IPushDispatcher) *relay {
	t.Helper()
	db := openInMemory(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	users := repositories.NewUserRepository(db)
	presence := NewPresenceTracker(log, users, func() time.Time { return t0 })
	registry := NewRegistry(log, presence, nil)
	store := NewConversationStore(log, repositories.NewConversationRepository(db, log), presence, WithClock(func() time.Time { return t0 }))
	return &relay{
		log:      log,
		users:    users,
		presence: presence,
		registry: registry,
		store:    store,
		fanout:   NewFanout(log, store, registry, push, users),
	}
}

func (r *relay) connect(user domain.UserID) (*recordingSink, domain.SessionID) {
	sink := &recordingSink{}
	id := uuid.New()
	r.registry.Register(context.Background(), user, contract.Session{ID: id, Sink: sink})
	return sink, id
}

func text(v string) domain.Body {
	return domain.Text{Value: v}
}
