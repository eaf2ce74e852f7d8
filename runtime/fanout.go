package runtime

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/repositories"
	"log/slog"
	"sync"
)

// Fanout turns committed store mutations into session events and push
// notifications. Session events are emitted from inside the store's commit
// callbacks, so two mutations of the same conversation reach every session
// in commit order. Push notifications run in the background: they are the
// only slow path and never hold a conversation lock.
type Fanout struct {
	log      *slog.Logger
	store    *ConversationStore
	registry contract.IRegistry
	push     contract.IPushDispatcher
	users    repositories.IUserRepository
	inflight sync.WaitGroup
}

func NewFanout(
	log *slog.Logger,
	store *ConversationStore,
	registry contract.IRegistry,
	push contract.IPushDispatcher,
	users repositories.IUserRepository,
) *Fanout {
	return &Fanout{
		log:      log,
		store:    store,
		registry: registry,
		push:     push,
		users:    users,
	}
}

// Send appends the message, delivers it to the recipient's sessions and
// confirms it to every session of the sender. A recipient without any
// session is notified by push instead.
func (f *Fanout) Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	var unreachable bool
	message, err := f.store.AppendMessage(cmd, func(conversation domain.Conversation, message domain.Message) {
		unreachable = len(f.registry.ActiveSessions(cmd.RecipientID)) == 0
		f.registry.Emit(ctx, cmd.RecipientID, event.MessageReceived{ConversationID: conversation.ID, Message: message})
		f.registry.Emit(ctx, cmd.SenderID, event.MessageSentConfirm{TempID: cmd.TempID, FinalMessage: message})
	})
	if err != nil {
		return domain.Message{}, err
	}
	if unreachable {
		f.notify(ctx, message)
	}
	return message, nil
}

func (f *Fanout) Edit(ctx context.Context, cmd domain.EditMessageCommand) (domain.Message, bool, error) {
	return f.store.EditMessage(cmd.UserID, cmd.MessageID, cmd.Body, func(message domain.Message) {
		f.toParticipants(ctx, message.ConversationKey, event.MessageUpdated{Message: message})
	})
}

func (f *Fanout) React(ctx context.Context, cmd domain.ReactCommand) (domain.Message, bool, error) {
	return f.store.SetReaction(cmd.UserID, cmd.MessageID, cmd.Emoji, func(message domain.Message) {
		f.toParticipants(ctx, message.ConversationKey, event.MessageUpdated{Message: message})
	})
}

func (f *Fanout) Delete(ctx context.Context, cmd domain.DeleteMessageCommand) (bool, error) {
	return f.store.DeleteMessage(cmd.UserID, cmd.MessageID, func(message domain.Message) {
		f.toParticipants(ctx, message.ConversationKey, event.MessageDeleted{MessageID: message.ID})
	})
}

// MarkRead tells the author their messages were read. Nothing is emitted
// when no message changed.
func (f *Fanout) MarkRead(ctx context.Context, cmd domain.MarkReadCommand) (int, error) {
	return f.store.MarkRead(cmd.UserID, cmd.OtherID, func(count int) {
		f.registry.Emit(ctx, cmd.OtherID, event.MessagesRead{By: cmd.UserID, Count: count})
	})
}

// Typing relays the indicator as is. It is neither stored nor pushed.
func (f *Fanout) Typing(ctx context.Context, cmd domain.TypingCommand) {
	if cmd.From == cmd.To {
		return
	}
	f.registry.Emit(ctx, cmd.To, event.TypingStatus{From: cmd.From, IsTyping: cmd.IsTyping})
}

// Wait blocks until every background push has completed.
func (f *Fanout) Wait() {
	f.inflight.Wait()
}

func (f *Fanout) toParticipants(ctx context.Context, key domain.ConversationKey, evt event.DomainEvent) {
	for _, user := range key.Participants() {
		f.registry.Emit(ctx, user, evt)
	}
}

func (f *Fanout) notify(ctx context.Context, message domain.Message) {
	if f.push == nil {
		return
	}
	// The sender may disconnect right after sending; the push must survive it.
	ctx = context.WithoutCancel(ctx)
	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()
		notification := domain.NotificationFor(f.senderName(message.SenderID), message.Body)
		f.push.Dispatch(ctx, message.RecipientID, notification)
	}()
}

func (f *Fanout) senderName(id domain.UserID) string {
	if f.users == nil {
		return ""
	}
	user, err := f.users.GetUser(id)
	if err != nil {
		return ""
	}
	return user.Name
}
