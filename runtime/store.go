package runtime

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/errors"
	"dm-relay/observability"
	"dm-relay/repositories"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Censor masks forbidden words in text bodies.
type Censor interface {
	Censor(text string) (string, []string)
}

// ConversationStore is the single source of truth for messages.
//
// Every mutation of a conversation runs under that conversation's lock.
// The onCommit callbacks are invoked after the write is durable and before
// the lock is released: whatever they emit is ordered exactly like the
// commits themselves. Callbacks must not block and must not call back
// into the store for the same conversation.
type ConversationStore struct {
	log      *slog.Logger
	repo     repositories.IConversationRepository
	presence contract.IPresence
	censor   Censor
	index    repositories.IMessageIndex
	metrics  *observability.Metrics
	locks    *KeyedMutex[domain.ConversationKey]
	now      func() time.Time
}

type StoreOption func(*ConversationStore)

// WithCensor filters text bodies on append and edit.
func WithCensor(c Censor) StoreOption {
	return func(s *ConversationStore) { s.censor = c }
}

// WithIndex keeps a full text index of text messages in step with the log.
func WithIndex(index repositories.IMessageIndex) StoreOption {
	return func(s *ConversationStore) { s.index = index }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *ConversationStore) { s.now = now }
}

func WithStoreMetrics(m *observability.Metrics) StoreOption {
	return func(s *ConversationStore) { s.metrics = m }
}

func NewConversationStore(
	log *slog.Logger,
	repo repositories.IConversationRepository,
	presence contract.IPresence,
	opts ...StoreOption,
) *ConversationStore {
	s := &ConversationStore{
		log:      log,
		repo:     repo,
		presence: presence,
		locks:    NewKeyedMutex[domain.ConversationKey](),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendMessage stores a new message, creating the conversation on first use.
// The initial status is Delivered when the recipient is online at send time,
// Sent otherwise.
func (s *ConversationStore) AppendMessage(
	cmd domain.SendMessageCommand,
	onCommit func(conversation domain.Conversation, message domain.Message),
) (domain.Message, error) {
	key, err := domain.NewConversationKey(cmd.SenderID, cmd.RecipientID)
	if err != nil {
		return domain.Message{}, err
	}
	if cmd.Body == nil {
		return domain.Message{}, errors.ErrInvalidBody
	}
	createdAt := cmd.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	conversation, err := s.repo.EnsureConversation(key, createdAt.UTC())
	if err != nil {
		return domain.Message{}, fmt.Errorf("ensure conversation %s: %w", key, err)
	}

	status := domain.Sent
	if s.presence.IsOnline(cmd.RecipientID) {
		status = domain.Delivered
	}
	message := domain.Message{
		ID:              uuid.New(),
		ConversationKey: key,
		SenderID:        cmd.SenderID,
		RecipientID:     cmd.RecipientID,
		Body:            s.filter(cmd.Body),
		ReplyTo:         cmd.ReplyTo,
		CreatedAt:       createdAt.UTC(),
		Status:          status,
	}
	if err = s.repo.AppendMessage(conversation.ID, message); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	s.metrics.MessageCommitted()
	s.reindex(message)
	s.log.Debug("Message appended",
		"conversation_id", conversation.ID,
		"message_id", message.ID,
		"status", message.Status)

	if onCommit != nil {
		onCommit(conversation, message.Clone())
	}
	return message.Clone(), nil
}

// EditMessage replaces the body of a message written by user.
// An absent id is reported as (zero, false, nil).
func (s *ConversationStore) EditMessage(
	user domain.UserID,
	id domain.MessageID,
	body domain.Body,
	onCommit func(domain.Message),
) (domain.Message, bool, error) {
	if body == nil {
		return domain.Message{}, false, errors.ErrInvalidBody
	}
	return s.mutate(id, func(message *domain.Message) error {
		if message.SenderID != user {
			return errors.ErrNotParticipant
		}
		if domain.KindOf(message.Body) != domain.KindOf(body) {
			return fmt.Errorf("%w: cannot edit %s into %s",
				errors.ErrInvalidBody, domain.KindOf(message.Body), domain.KindOf(body))
		}
		message.Edit(s.filter(body))
		return nil
	}, onCommit)
}

// SetReaction toggles the single reaction slot of user on a message.
func (s *ConversationStore) SetReaction(
	user domain.UserID,
	id domain.MessageID,
	emoji string,
	onCommit func(domain.Message),
) (domain.Message, bool, error) {
	return s.mutate(id, func(message *domain.Message) error {
		if !message.ConversationKey.Has(user) {
			return errors.ErrNotParticipant
		}
		message.ToggleReaction(user, emoji)
		return nil
	}, onCommit)
}

// DeleteMessage removes a message written by user. Deleting an absent id
// returns false and no error.
func (s *ConversationStore) DeleteMessage(
	user domain.UserID,
	id domain.MessageID,
	onCommit func(domain.Message),
) (bool, error) {
	located, found, err := s.repo.FindMessage(id)
	if err != nil || !found {
		return false, err
	}

	unlock := s.locks.Lock(located.ConversationKey)
	defer unlock()

	message, found, err := s.repo.FindMessage(id)
	if err != nil || !found {
		return false, err
	}
	if message.SenderID != user {
		return false, errors.ErrNotParticipant
	}
	deleted, err := s.repo.DeleteMessage(id)
	if err != nil || !deleted {
		return false, err
	}
	if s.index != nil {
		if err = s.index.Remove(id); err != nil {
			s.log.Warn("Unable to unindex message", "message_id", id, "error", err)
		}
	}
	s.log.Debug("Message deleted", "message_id", id)
	if onCommit != nil {
		onCommit(message)
	}
	return true, nil
}

// MarkRead advances to Read every message sent by other to user and
// returns how many messages changed. The batch is written in one transaction.
func (s *ConversationStore) MarkRead(
	user, other domain.UserID,
	onCommit func(count int),
) (int, error) {
	key, err := domain.NewConversationKey(user, other)
	if err != nil {
		return 0, err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	messages, err := s.repo.ListMessages(key)
	if err != nil {
		return 0, err
	}
	var changed []domain.Message
	for _, message := range messages {
		if message.SenderID != other || message.RecipientID != user {
			continue
		}
		if message.MarkRead() {
			changed = append(changed, message)
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}
	if err = s.repo.SaveMessages(changed...); err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	s.log.Debug("Messages read", "reader", user, "author", other, "count", len(changed))
	if onCommit != nil {
		onCommit(len(changed))
	}
	return len(changed), nil
}

// History replays the conversation of the pair, oldest first.
func (s *ConversationStore) History(user, other domain.UserID) ([]domain.Message, error) {
	key, err := domain.NewConversationKey(user, other)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMessages(key)
}

// UnreadCount is the number of messages other sent to user that user has not read yet.
func (s *ConversationStore) UnreadCount(user, other domain.UserID) (int, error) {
	messages, err := s.History(user, other)
	if err != nil {
		return 0, err
	}
	return lo.CountBy(messages, func(m domain.Message) bool {
		return m.SenderID == other && m.RecipientID == user && m.Status != domain.Read
	}), nil
}

// Search finds the messages of the pair matching terms, best match first.
// Without an index nothing is ever found.
func (s *ConversationStore) Search(
	ctx context.Context,
	user, other domain.UserID,
	terms string,
	limit int,
) ([]domain.Message, error) {
	key, err := domain.NewConversationKey(user, other)
	if err != nil {
		return nil, err
	}
	if s.index == nil || strings.TrimSpace(terms) == "" {
		return []domain.Message{}, nil
	}
	ids, err := s.index.Search(ctx, key, terms, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	messages := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		message, found, err := s.repo.FindMessage(id)
		if err != nil {
			return nil, err
		}
		// Deleted between the index lookup and now, or indexed under another pair.
		if found && message.ConversationKey == key {
			messages = append(messages, message)
		}
	}
	return messages, nil
}

// Conversation returns the conversation of the pair if one exists.
func (s *ConversationStore) Conversation(user, other domain.UserID) (domain.Conversation, bool, error) {
	key, err := domain.NewConversationKey(user, other)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	return s.repo.GetConversation(key)
}

// mutate applies fn to a message in place under its conversation lock.
// The conversation is resolved through the message index first, then the
// message is read again once the lock is held.
func (s *ConversationStore) mutate(
	id domain.MessageID,
	fn func(message *domain.Message) error,
	onCommit func(domain.Message),
) (domain.Message, bool, error) {
	located, found, err := s.repo.FindMessage(id)
	if err != nil || !found {
		return domain.Message{}, false, err
	}

	unlock := s.locks.Lock(located.ConversationKey)
	defer unlock()

	message, found, err := s.repo.FindMessage(id)
	if err != nil || !found {
		return domain.Message{}, false, err
	}
	if err = fn(&message); err != nil {
		return domain.Message{}, false, err
	}
	if err = s.repo.SaveMessages(message); err != nil {
		return domain.Message{}, false, err
	}
	s.reindex(message)
	if onCommit != nil {
		onCommit(message.Clone())
	}
	return message, true, nil
}

// reindex is best effort: a stale index never fails a committed write.
func (s *ConversationStore) reindex(message domain.Message) {
	if s.index == nil {
		return
	}
	if err := s.index.Index(message); err != nil {
		s.log.Warn("Unable to index message", "message_id", message.ID, "error", err)
	}
}

func (s *ConversationStore) filter(body domain.Body) domain.Body {
	text, ok := body.(domain.Text)
	if !ok || s.censor == nil {
		return body
	}
	censored, words := s.censor.Censor(text.Value)
	if len(words) > 0 {
		s.log.Info("Text body censored",
			"words", len(words),
			"lang", whatlanggo.Detect(text.Value).Lang.Iso6391())
	}
	return domain.Text{Value: censored}
}
