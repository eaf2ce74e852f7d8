package runtime

import (
	"context"
	"dm-relay/domain"
	"dm-relay/errors"
	"dm-relay/moderation"
	"dm-relay/repositories"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...StoreOption) (*ConversationStore, *PresenceTracker) {
	t.Helper()
	db := openInMemory(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	presence := NewPresenceTracker(log, repositories.NewUserRepository(db), nil)
	opts = append([]StoreOption{WithClock(func() time.Time { return t0 })}, opts...)
	return NewConversationStore(log, repositories.NewConversationRepository(db, log), presence, opts...), presence
}

func send(from, to domain.UserID, body string) domain.SendMessageCommand {
	return domain.SendMessageCommand{SenderID: from, RecipientID: to, TempID: uuid.NewString(), Body: text(body)}
}

func TestConversationStore_Initial_Status_Follows_Recipient_Presence(t *testing.T) {
	req := require.New(t)
	store, presence := newTestStore(t)

	// Given Bob is offline
	offline, err := store.AppendMessage(send("alice", "bob", "are you there?"), nil)
	req.NoError(err)
	req.Equal(domain.Sent, offline.Status)

	// When Bob comes online
	presence.SetOnline("bob")
	online, err := store.AppendMessage(send("alice", "bob", "hi"), nil)

	// Then new messages are delivered right away
	req.NoError(err)
	req.Equal(domain.Delivered, online.Status)
	req.NotEqual(offline.ID, online.ID)
	req.Equal(t0, online.CreatedAt)
	req.False(online.Edited)
}

func TestConversationStore_Conversation_Created_Lazily(t *testing.T) {
	req := require.New(t)
	store, _ := newTestStore(t)

	_, found, err := store.Conversation("alice", "bob")
	req.NoError(err)
	req.False(found)

	var committed domain.Conversation
	_, err = store.AppendMessage(send("bob", "alice", "hey"), func(c domain.Conversation, _ domain.Message) {
		committed = c
	})
	req.NoError(err)

	conversation, found, err := store.Conversation("alice", "bob")
	req.NoError(err)
	req.True(found)
	req.Equal(committed.ID, conversation.ID)

	_, err = store.AppendMessage(send("bob", "bob", "me"), nil)
	req.ErrorIs(err, errors.ErrSameParticipant)
}

func TestConversationStore_Edit(t *testing.T) {
	req := require.New(t)
	store, _ := newTestStore(t)
	msg, err := store.AppendMessage(send("alice", "bob", "helo"), nil)
	req.NoError(err)

	// When Alice fixes her typo
	var committed []domain.Message
	edited, found, err := store.EditMessage("alice", msg.ID, text("hello"), func(m domain.Message) {
		committed = append(committed, m)
	})

	// Then the message is edited for good
	req.NoError(err)
	req.True(found)
	req.True(edited.Edited)
	req.Equal(text("hello"), edited.Body)
	req.Len(committed, 1)

	// When Bob tries to edit Alice's message
	_, _, err = store.EditMessage("bob", msg.ID, text("hacked"), nil)
	req.ErrorIs(err, errors.ErrNotParticipant)

	// When editing an unknown id, nothing is committed
	_, found, err = store.EditMessage("alice", uuid.New(), text("x"), func(domain.Message) {
		req.Fail("no commit expected")
	})
	req.NoError(err)
	req.False(found)

	history, err := store.History("bob", "alice")
	req.NoError(err)
	req.Equal(text("hello"), history[0].Body)
	req.True(history[0].Edited)
}

func TestConversationStore_SetReaction_Toggles(t *testing.T) {
	req := require.New(t)
	store, _ := newTestStore(t)
	msg, err := store.AppendMessage(send("alice", "bob", "news"), nil)
	req.NoError(err)

	// When Bob reacts twice with the same emoji
	first, found, err := store.SetReaction("bob", msg.ID, "🔥", nil)
	req.NoError(err)
	req.True(found)
	req.Equal("🔥", first.Reactions["bob"])

	second, _, err := store.SetReaction("bob", msg.ID, "🔥", nil)
	req.NoError(err)

	// Then the reaction is removed
	_, ok := second.Reactions["bob"]
	req.False(ok)

	// And strangers cannot react
	_, _, err = store.SetReaction("mallory", msg.ID, "💀", nil)
	req.ErrorIs(err, errors.ErrNotParticipant)
}

func TestConversationStore_Delete_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	store, _ := newTestStore(t)
	msg, err := store.AppendMessage(send("alice", "bob", "oops"), nil)
	req.NoError(err)
	commits := 0

	deleted, err := store.DeleteMessage("alice", msg.ID, func(domain.Message) { commits++ })
	req.NoError(err)
	req.True(deleted)

	deleted, err = store.DeleteMessage("alice", msg.ID, func(domain.Message) { commits++ })
	req.NoError(err)
	req.False(deleted)
	req.Equal(1, commits)

	history, err := store.History("alice", "bob")
	req.NoError(err)
	req.Empty(history)
}

func TestConversationStore_MarkRead_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	store, _ := newTestStore(t)

	// Given Alice sent two messages and Bob one
	for _, cmd := range []domain.SendMessageCommand{
		send("alice", "bob", "one"),
		send("alice", "bob", "two"),
		send("bob", "alice", "three"),
	} {
		_, err := store.AppendMessage(cmd, nil)
		req.NoError(err)
	}
	unread, err := store.UnreadCount("bob", "alice")
	req.NoError(err)
	req.Equal(2, unread)

	// When Bob reads the conversation twice
	first, err := store.MarkRead("bob", "alice", nil)
	req.NoError(err)
	second, err := store.MarkRead("bob", "alice", func(int) { req.Fail("no commit expected") })
	req.NoError(err)

	// Then only Alice's messages flipped, once
	req.Equal(2, first)
	req.Zero(second)
	history, err := store.History("alice", "bob")
	req.NoError(err)
	req.Equal([]domain.Status{domain.Read, domain.Read, domain.Sent},
		lo.Map(history, func(m domain.Message, _ int) domain.Status { return m.Status }))
	unread, err = store.UnreadCount("bob", "alice")
	req.NoError(err)
	req.Zero(unread)
}

func TestConversationStore_Censors_Text(t *testing.T) {
	req := require.New(t)
	censor, err := moderation.NewModerator([]string{"scam"}, '*', logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(err)
	store, _ := newTestStore(t, WithCensor(censor))

	msg, err := store.AppendMessage(send("alice", "bob", "not a sc4m"), nil)
	req.NoError(err)
	req.Equal(text("not a ****"), msg.Body)

	media := domain.Media{URL: "/uploads/scam.png", Kind: domain.KindImage}
	msg, err = store.AppendMessage(domain.SendMessageCommand{SenderID: "alice", RecipientID: "bob", Body: media}, nil)
	req.NoError(err)
	req.Equal(media, msg.Body)
}

func TestConversationStore_Commit_Order_Is_Callback_Order(t *testing.T) {
	req := require.New(t)
	store, _ := newTestStore(t)

	// When many goroutines append to the same conversation
	var mu sync.Mutex
	var order []domain.MessageID
	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := domain.UserID("alice"), domain.UserID("bob")
			if i%2 == 0 {
				from, to = to, from
			}
			_, err := store.AppendMessage(send(from, to, "x"), func(_ domain.Conversation, m domain.Message) {
				mu.Lock()
				order = append(order, m.ID)
				mu.Unlock()
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	// Then the stored log and the callbacks agree on the order
	history, err := store.History("alice", "bob")
	req.NoError(err)
	req.Equal(order, lo.Map(history, func(m domain.Message, _ int) domain.MessageID { return m.ID }))
}

func TestConversationStore_Search_Follows_The_Log(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	req.NoError(err)
	defer writer.Close()
	index := repositories.NewMessageIndex(writer, logs.GetLoggerFromLevel(slog.LevelDebug))
	store, _ := newTestStore(t, WithIndex(index))

	// Given two messages about the train
	first, err := store.AppendMessage(send("alice", "bob", "train leaves at 9"), nil)
	req.NoError(err)
	second, err := store.AppendMessage(send("bob", "alice", "which train?"), nil)
	req.NoError(err)
	_, err = store.AppendMessage(send("alice", "carol", "train tickets booked"), nil)
	req.NoError(err)

	found, err := store.Search(ctx, "bob", "alice", "train", 10)
	req.NoError(err)
	req.ElementsMatch([]domain.MessageID{first.ID, second.ID}, lo.Map(found, func(m domain.Message, _ int) domain.MessageID { return m.ID }))

	// When one is edited and the other deleted
	_, _, err = store.EditMessage("alice", first.ID, text("bus leaves at 9"), nil)
	req.NoError(err)
	_, err = store.DeleteMessage("bob", second.ID, nil)
	req.NoError(err)

	// Then the search follows
	found, err = store.Search(ctx, "alice", "bob", "train", 10)
	req.NoError(err)
	req.Empty(found)
	found, err = store.Search(ctx, "alice", "bob", "bus", 10)
	req.NoError(err)
	req.Len(found, 1)
	req.True(found[0].Edited)

	// And a blank query finds nothing
	found, err = store.Search(ctx, "alice", "bob", "  ", 10)
	req.NoError(err)
	req.Empty(found)
}

func TestConversationStore_Keeps_Words_Across_Spaces(t *testing.T) {
	req := require.New(t)
	censor, err := moderation.NewModerator([]string{"scam"}, '*', logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(err)
	store, _ := newTestStore(t, WithCensor(censor))

	// When a message only spells the word across a space
	msg, err := store.AppendMessage(send("alice", "bob", "my phone has camera issues"), nil)

	// Then it is stored as written
	req.NoError(err)
	req.Equal(text("my phone has camera issues"), msg.Body)
}

func TestConversationStore_Stores_Text_As_Is_Without_Censor(t *testing.T) {
	req := require.New(t)
	store, _ := newTestStore(t)

	msg, err := store.AppendMessage(send("alice", "bob", "this is a scam, a real snake"), nil)
	req.NoError(err)
	req.Equal(text("this is a scam, a real snake"), msg.Body)
}

func TestConversationStore_Media_Keeps_Its_Kind_On_Edit(t *testing.T) {
	req := require.New(t)
	store, _ := newTestStore(t)
	photo := domain.Media{URL: "/uploads/cat.png", Kind: domain.KindImage}
	msg, err := store.AppendMessage(domain.SendMessageCommand{SenderID: "alice", RecipientID: "bob", Body: photo}, nil)
	req.NoError(err)

	// When Alice tries to turn her photo into text
	_, _, err = store.EditMessage("alice", msg.ID, text("caption"), func(domain.Message) {
		req.Fail("no commit expected")
	})

	// Then the edit is refused and the photo is untouched
	req.ErrorIs(err, errors.ErrInvalidBody)
	history, err := store.History("alice", "bob")
	req.NoError(err)
	req.Equal(photo, history[0].Body)
	req.False(history[0].Edited)
}

// staleIndex answers every search with the same ids, whatever the conversation.
type staleIndex struct {
	ids []domain.MessageID
}

func (s staleIndex) Index(domain.Message) error    { return nil }
func (s staleIndex) Remove(domain.MessageID) error { return nil }
func (s staleIndex) Search(context.Context, domain.ConversationKey, string, int) ([]domain.MessageID, error) {
	return s.ids, nil
}

func TestConversationStore_Search_Drops_Hits_Of_Other_Conversations(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	index := &staleIndex{}
	store, _ := newTestStore(t, WithIndex(index))

	// Given two conversations whose raw ids join to the same "a:b:c"
	first, err := store.AppendMessage(send("a:b", "c", "the secret plan"), nil)
	req.NoError(err)
	second, err := store.AppendMessage(send("a", "b:c", "another secret"), nil)
	req.NoError(err)
	index.ids = []domain.MessageID{first.ID, second.ID}

	// When the index returns both messages for one of them
	found, err := store.Search(ctx, "a", "b:c", "secret", 10)

	// Then only the message of the searched pair comes back
	req.NoError(err)
	req.Equal([]domain.MessageID{second.ID}, lo.Map(found, func(m domain.Message, _ int) domain.MessageID { return m.ID }))
}
