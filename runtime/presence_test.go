package runtime

import (
	"dm-relay/domain"
	"dm-relay/repositories"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func domainUser(s string) domain.UserID {
	return domain.UserID(s)
}

func TestPresenceTracker_Transitions(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	users := repositories.NewUserRepository(openInMemory(t))
	tracker := NewPresenceTracker(log, users, func() time.Time { return t0 })

	// Given a user never seen
	req.False(tracker.IsOnline("bob"))
	req.Equal(domain.Presence{}, tracker.Get("bob"))

	// When Bob connects
	tracker.SetOnline("bob")
	req.True(tracker.IsOnline("bob"))

	// When Bob disconnects
	at := tracker.SetOffline("bob")

	// Then the last seen timestamp is kept and persisted
	req.Equal(t0, at)
	req.Equal(domain.Presence{Online: false, LastSeenAt: &at}, tracker.Get("bob"))
	user, err := users.GetUser("bob")
	req.NoError(err)
	req.Equal(t0, *user.LastSeenAt)

	// When Bob comes back, the previous last seen stays visible
	presence := tracker.SetOnline("bob")
	req.True(presence.Online)
	req.Equal(t0, *presence.LastSeenAt)
}

func TestPresenceTracker_Rebuilt_After_Restart(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	users := repositories.NewUserRepository(openInMemory(t))

	// Given Bob went offline before a restart
	NewPresenceTracker(log, users, func() time.Time { return t0 }).SetOffline("bob")

	// When a fresh tracker starts
	tracker := NewPresenceTracker(log, users, nil)

	// Then Bob is offline and his last seen comes from storage
	presence := tracker.Get("bob")
	req.False(presence.Online)
	req.NotNil(presence.LastSeenAt)
	req.Equal(t0, *presence.LastSeenAt)
}
