package runtime

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/observability"
	"log/slog"
	"sync"
)

type sessionSet map[domain.SessionID]contract.EventSink

// Registry maps each user to the set of their live sessions (multi-device).
//
// Presence is derived from it: the first session of a user flips them
// online, removing the last one flips them offline, and both transitions
// are broadcast to every other connected user as a status update.
// Register and Unregister are serialized per user; the map lock is only
// held long enough to copy or swap entries, never while emitting.
type Registry struct {
	log      *slog.Logger
	presence contract.IPresence
	metrics  *observability.Metrics
	locks    *KeyedMutex[domain.UserID]
	mu       sync.RWMutex
	sessions map[domain.UserID]sessionSet
}

var _ contract.IRegistry = (*Registry)(nil)

func NewRegistry(log *slog.Logger, presence contract.IPresence, metrics *observability.Metrics) *Registry {
	return &Registry{
		log:      log,
		presence: presence,
		metrics:  metrics,
		locks:    NewKeyedMutex[domain.UserID](),
		sessions: make(map[domain.UserID]sessionSet),
	}
}

// Register adds a live session for user.
func (r *Registry) Register(ctx context.Context, user domain.UserID, session contract.Session) {
	unlock := r.locks.Lock(user)
	defer unlock()

	r.mu.Lock()
	set, ok := r.sessions[user]
	if !ok {
		set = make(sessionSet)
		r.sessions[user] = set
	}
	first := len(set) == 0
	set[session.ID] = session.Sink
	r.mu.Unlock()

	r.log.Debug("Session registered", "user_id", user, "session_id", session.ID, "first", first)
	if !first {
		return
	}
	presence := r.presence.SetOnline(user)
	r.Broadcast(ctx, user, event.StatusUpdate{UserID: user, IsOnline: true, LastSeen: presence.LastSeenAt})
}

// Unregister removes a session. Unknown sessions are ignored.
func (r *Registry) Unregister(ctx context.Context, user domain.UserID, sessionID domain.SessionID) {
	unlock := r.locks.Lock(user)
	defer unlock()

	r.mu.Lock()
	set, ok := r.sessions[user]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, exists := set[sessionID]; !exists {
		r.mu.Unlock()
		return
	}
	delete(set, sessionID)
	last := len(set) == 0
	if last {
		delete(r.sessions, user)
	}
	r.mu.Unlock()

	r.log.Debug("Session unregistered", "user_id", user, "session_id", sessionID, "last", last)
	if !last {
		return
	}
	lastSeen := r.presence.SetOffline(user)
	r.Broadcast(ctx, user, event.StatusUpdate{UserID: user, IsOnline: false, LastSeen: &lastSeen})
}

// ActiveSessions returns a snapshot of the user's sessions, possibly empty.
func (r *Registry) ActiveSessions(user domain.UserID) []contract.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.sessions[user]
	out := make([]contract.Session, 0, len(set))
	for id, sink := range set {
		out = append(out, contract.Session{ID: id, Sink: sink})
	}
	return out
}

// Emit enqueues evt on every session of user and returns how many accepted it.
// A session refusing the event (full outbox, closed connection) is logged
// and skipped; it never fails the caller.
func (r *Registry) Emit(ctx context.Context, user domain.UserID, evt event.DomainEvent) int {
	delivered := 0
	for _, session := range r.ActiveSessions(user) {
		if err := session.Sink.Consume(ctx, evt); err != nil {
			r.metrics.EventDropped(string(evt.Type()))
			r.log.Warn("Session refused event",
				"user_id", user,
				"session_id", session.ID,
				"event", evt.Type(),
				"error", err)
			continue
		}
		r.metrics.EventEmitted(string(evt.Type()))
		delivered++
	}
	return delivered
}

// Broadcast emits evt to every connected user except one.
func (r *Registry) Broadcast(ctx context.Context, except domain.UserID, evt event.DomainEvent) {
	for _, user := range r.users() {
		if user == except {
			continue
		}
		r.Emit(ctx, user, evt)
	}
}

func (r *Registry) Stats() contract.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := contract.RegistryStats{OnlineUsers: len(r.sessions)}
	for _, set := range r.sessions {
		stats.Sessions += len(set)
	}
	return stats
}

func (r *Registry) users() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.UserID, 0, len(r.sessions))
	for user := range r.sessions {
		out = append(out, user)
	}
	return out
}
