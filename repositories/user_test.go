package repositories

import (
	"dm-relay/domain"
	"dm-relay/errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func subscription(endpoint string) domain.PushSubscription {
	return domain.PushSubscription{
		Endpoint: endpoint,
		Keys:     domain.PushKeys{P256dh: "p256dh", Auth: "auth"},
	}
}

func Test_Unknown_User(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openInMemory(t))

	_, err := repository.GetUser("ghost")
	req.True(errors.Is(err, errors.ErrUserNotFound))

	subs, err := repository.PushSubscriptions("ghost")
	req.NoError(err)
	req.Empty(subs)
}

func Test_Push_Subscriptions_Are_Deduplicated_By_Endpoint(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openInMemory(t))

	added, err := repository.AddPushSubscription("bob", subscription("https://push.example/1"))
	req.NoError(err)
	req.True(added)
	added, err = repository.AddPushSubscription("bob", subscription("https://push.example/1"))
	req.NoError(err)
	req.False(added)
	added, err = repository.AddPushSubscription("bob", subscription("https://push.example/2"))
	req.NoError(err)
	req.True(added)

	subs, err := repository.PushSubscriptions("bob")
	req.NoError(err)
	req.Len(subs, 2)

	removed, err := repository.RemovePushSubscription("bob", "https://push.example/1")
	req.NoError(err)
	req.True(removed)
	removed, err = repository.RemovePushSubscription("bob", "https://push.example/1")
	req.NoError(err)
	req.False(removed)

	subs, err = repository.PushSubscriptions("bob")
	req.NoError(err)
	req.Equal([]domain.PushSubscription{subscription("https://push.example/2")}, subs)
}

func Test_Concurrent_Prunes_Do_Not_Lose_Updates(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openInMemory(t))
	const n = 10
	for i := 0; i < n; i++ {
		_, err := repository.AddPushSubscription("bob", subscription(fmt.Sprintf("https://push.example/%d", i)))
		req.NoError(err)
	}

	// When every subscription is pruned concurrently
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repository.RemovePushSubscription("bob", fmt.Sprintf("https://push.example/%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	// Then none is left
	subs, err := repository.PushSubscriptions("bob")
	req.NoError(err)
	req.Empty(subs)
}

func Test_Name_And_Last_Seen(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openInMemory(t))
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	req.NoError(repository.SaveName("alice", "Alice"))
	req.NoError(repository.SaveLastSeen("alice", at))

	user, err := repository.GetUser("alice")
	req.NoError(err)
	req.Equal(domain.UserID("alice"), user.ID)
	req.Equal("Alice", user.Name)
	req.NotNil(user.LastSeenAt)
	req.True(at.Equal(*user.LastSeenAt))
}
