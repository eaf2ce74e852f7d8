package services

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/errors"
	"dm-relay/repositories"
	"dm-relay/runtime"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
)

// IChatService is everything a transport needs from the relay.
type IChatService interface {
	Join(ctx context.Context, user domain.UserID, name string, session contract.Session)
	Leave(ctx context.Context, user domain.UserID, sessionID domain.SessionID)
	SendMessage(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error)
	EditMessage(ctx context.Context, cmd domain.EditMessageCommand) (domain.Message, bool, error)
	DeleteMessage(ctx context.Context, cmd domain.DeleteMessageCommand) (bool, error)
	React(ctx context.Context, cmd domain.ReactCommand) (domain.Message, bool, error)
	MarkRead(ctx context.Context, cmd domain.MarkReadCommand) (int, error)
	Typing(ctx context.Context, cmd domain.TypingCommand)
	History(user, other domain.UserID) ([]domain.Message, error)
	UnreadCount(user, other domain.UserID) (int, error)
	Search(ctx context.Context, user, other domain.UserID, terms string, limit int) ([]domain.Message, error)
	Presence(user domain.UserID) domain.Presence
	Subscribe(user domain.UserID, sub domain.PushSubscription) (bool, error)
	TestPush(ctx context.Context, user domain.UserID) (contract.DispatchReport, error)
	Wait()
}

type ChatService struct {
	log      *slog.Logger
	users    repositories.IUserRepository
	registry contract.IRegistry
	presence contract.IPresence
	store    *runtime.ConversationStore
	fanout   *runtime.Fanout
	push     contract.IPushDispatcher
	validate *validator.Validate
}

var _ IChatService = (*ChatService)(nil)

func NewChatService(
	log *slog.Logger,
	users repositories.IUserRepository,
	registry contract.IRegistry,
	presence contract.IPresence,
	store *runtime.ConversationStore,
	fanout *runtime.Fanout,
	push contract.IPushDispatcher,
) *ChatService {
	return &ChatService{
		log:      log,
		users:    users,
		registry: registry,
		presence: presence,
		store:    store,
		fanout:   fanout,
		push:     push,
		validate: validator.New(),
	}
}

// Join registers a live session. A non empty name is remembered as the
// display name used in push notifications.
func (s *ChatService) Join(ctx context.Context, user domain.UserID, name string, session contract.Session) {
	if name != "" {
		if err := s.users.SaveName(user, name); err != nil {
			s.log.Warn("Unable to save display name", "user_id", user, "error", err)
		}
	}
	s.registry.Register(ctx, user, session)
}

func (s *ChatService) Leave(ctx context.Context, user domain.UserID, sessionID domain.SessionID) {
	s.registry.Unregister(ctx, user, sessionID)
}

func (s *ChatService) SendMessage(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	return s.fanout.Send(ctx, cmd)
}

func (s *ChatService) EditMessage(ctx context.Context, cmd domain.EditMessageCommand) (domain.Message, bool, error) {
	return s.fanout.Edit(ctx, cmd)
}

func (s *ChatService) DeleteMessage(ctx context.Context, cmd domain.DeleteMessageCommand) (bool, error) {
	return s.fanout.Delete(ctx, cmd)
}

func (s *ChatService) React(ctx context.Context, cmd domain.ReactCommand) (domain.Message, bool, error) {
	return s.fanout.React(ctx, cmd)
}

func (s *ChatService) MarkRead(ctx context.Context, cmd domain.MarkReadCommand) (int, error) {
	return s.fanout.MarkRead(ctx, cmd)
}

func (s *ChatService) Typing(ctx context.Context, cmd domain.TypingCommand) {
	s.fanout.Typing(ctx, cmd)
}

func (s *ChatService) History(user, other domain.UserID) ([]domain.Message, error) {
	return s.store.History(user, other)
}

func (s *ChatService) Search(ctx context.Context, user, other domain.UserID, terms string, limit int) ([]domain.Message, error) {
	return s.store.Search(ctx, user, other, terms, limit)
}

func (s *ChatService) UnreadCount(user, other domain.UserID) (int, error) {
	return s.store.UnreadCount(user, other)
}

func (s *ChatService) Presence(user domain.UserID) domain.Presence {
	return s.presence.Get(user)
}

// Subscribe registers a device for push notifications.
// It reports false when the endpoint was already registered.
func (s *ChatService) Subscribe(user domain.UserID, sub domain.PushSubscription) (bool, error) {
	if err := s.validate.Struct(sub); err != nil {
		return false, fmt.Errorf("%w: %s", errors.ErrInvalidPayload, err.Error())
	}
	added, err := s.users.AddPushSubscription(user, sub)
	if err != nil {
		return false, err
	}
	s.log.Info("Push subscription registered", "user_id", user, "endpoint", sub.Endpoint, "added", added)
	return added, nil
}

func (s *ChatService) TestPush(ctx context.Context, user domain.UserID) (contract.DispatchReport, error) {
	return s.push.Test(ctx, user)
}

// Wait blocks until background push notifications are done.
func (s *ChatService) Wait() {
	s.fanout.Wait()
}
