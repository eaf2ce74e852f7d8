package services

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/errors"
	"dm-relay/mocks"
	"dm-relay/repositories"
	"dm-relay/runtime"
	"log/slog"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestService(t *testing.T) (*ChatService, *mocks.MockIPushDispatcher, repositories.IUserRepository) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	push := mocks.NewMockIPushDispatcher(gomock.NewController(t))
	users := repositories.NewUserRepository(db)
	presence := runtime.NewPresenceTracker(log, users, nil)
	registry := runtime.NewRegistry(log, presence, nil)
	store := runtime.NewConversationStore(log, repositories.NewConversationRepository(db, log), presence)
	fanout := runtime.NewFanout(log, store, registry, push, users)
	return NewChatService(log, users, registry, presence, store, fanout, push), push, users
}

func TestChatService_Join_Remembers_Name(t *testing.T) {
	req := require.New(t)
	svc, _, users := newTestService(t)
	sink := mocks.NewMockEventSink(gomock.NewController(t))
	id := uuid.New()

	// When Alice joins with a display name
	svc.Join(context.Background(), "alice", "Alice", contract.Session{ID: id, Sink: sink})

	// Then she is online and her name is stored
	req.True(svc.Presence("alice").Online)
	user, err := users.GetUser("alice")
	req.NoError(err)
	req.Equal("Alice", user.Name)

	// When she leaves
	svc.Leave(context.Background(), "alice", id)
	req.False(svc.Presence("alice").Online)
	req.NotNil(svc.Presence("alice").LastSeenAt)
}

func TestChatService_Subscribe(t *testing.T) {
	req := require.New(t)
	svc, _, users := newTestService(t)
	sub := domain.PushSubscription{
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc",
		Keys:     domain.PushKeys{P256dh: "key", Auth: "secret"},
	}

	added, err := svc.Subscribe("bob", sub)
	req.NoError(err)
	req.True(added)

	// Same device twice is deduplicated
	added, err = svc.Subscribe("bob", sub)
	req.NoError(err)
	req.False(added)
	subs, err := users.PushSubscriptions("bob")
	req.NoError(err)
	req.Len(subs, 1)

	// Malformed subscriptions are rejected
	_, err = svc.Subscribe("bob", domain.PushSubscription{Endpoint: "not a url"})
	req.ErrorIs(err, errors.ErrInvalidPayload)
}

func TestChatService_Send_And_History(t *testing.T) {
	req := require.New(t)
	svc, push, _ := newTestService(t)
	push.EXPECT().Dispatch(gomock.Any(), domain.UserID("bob"), domain.Notification{Title: "Someone", Body: "hey", URL: "/"})

	msg, err := svc.SendMessage(context.Background(), domain.SendMessageCommand{
		SenderID: "alice", RecipientID: "bob", Body: domain.Text{Value: "hey"},
	})
	req.NoError(err)
	svc.Wait()

	history, err := svc.History("bob", "alice")
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(msg.ID, history[0].ID)

	unread, err := svc.UnreadCount("bob", "alice")
	req.NoError(err)
	req.Equal(1, unread)
}
