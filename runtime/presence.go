package runtime

import (
	"dm-relay/domain"
	"dm-relay/errors"
	"dm-relay/repositories"
	"log/slog"
	"sync"
	"time"
)

// PresenceTracker keeps the online flag and last seen timestamp of users.
// State lives in memory and can be rebuilt from live connections after a
// restart; only the last seen timestamp is persisted, best effort.
type PresenceTracker struct {
	log   *slog.Logger
	users repositories.IUserRepository
	now   func() time.Time
	locks *KeyedMutex[domain.UserID]
	mu    sync.RWMutex
	state map[domain.UserID]domain.Presence
}

func NewPresenceTracker(log *slog.Logger, users repositories.IUserRepository, now func() time.Time) *PresenceTracker {
	if now == nil {
		now = time.Now
	}
	return &PresenceTracker{
		log:   log,
		users: users,
		now:   now,
		locks: NewKeyedMutex[domain.UserID](),
		state: make(map[domain.UserID]domain.Presence),
	}
}

func (p *PresenceTracker) SetOnline(user domain.UserID) domain.Presence {
	unlock := p.locks.Lock(user)
	defer unlock()

	presence := p.Get(user)
	presence.Online = true
	p.store(user, presence)
	return presence
}

// SetOffline flips the user offline and returns the new last seen timestamp.
func (p *PresenceTracker) SetOffline(user domain.UserID) time.Time {
	unlock := p.locks.Lock(user)
	defer unlock()

	at := p.now().UTC()
	p.store(user, domain.Presence{Online: false, LastSeenAt: &at})
	if p.users != nil {
		if err := p.users.SaveLastSeen(user, at); err != nil {
			p.log.Warn("Failed to persist last seen", "user_id", user, "error", err)
		}
	}
	return at
}

func (p *PresenceTracker) IsOnline(user domain.UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state[user].Online
}

// Get returns the in-memory presence, falling back to the persisted
// last seen timestamp for users not seen since the process started.
func (p *PresenceTracker) Get(user domain.UserID) domain.Presence {
	p.mu.RLock()
	presence, ok := p.state[user]
	p.mu.RUnlock()
	if ok || p.users == nil {
		return presence
	}
	record, err := p.users.GetUser(user)
	if err != nil {
		if !errors.Is(err, errors.ErrUserNotFound) {
			p.log.Warn("Failed to load last seen", "user_id", user, "error", err)
		}
		return domain.Presence{}
	}
	return domain.Presence{LastSeenAt: record.LastSeenAt}
}

func (p *PresenceTracker) store(user domain.UserID, presence domain.Presence) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state[user] = presence
}
