package repositories

import (
	"dm-relay/domain"
	"dm-relay/errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// IConversationRepository holds the append-only message log of every pair.
// Callers serialize writes per conversation; the repository only guarantees
// that each call is one atomic transaction.
type IConversationRepository interface {
	GetConversation(key domain.ConversationKey) (domain.Conversation, bool, error)
	EnsureConversation(key domain.ConversationKey, at time.Time) (domain.Conversation, error)
	AppendMessage(conversationID uuid.UUID, message domain.Message) error
	SaveMessages(messages ...domain.Message) error
	FindMessage(id domain.MessageID) (domain.Message, bool, error)
	DeleteMessage(id domain.MessageID) (bool, error)
	ListMessages(key domain.ConversationKey) ([]domain.Message, error)
}

type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) ConversationRepository {
	return ConversationRepository{db: db, log: log}
}

type DiskConversation struct {
	ID        string `cbor:"id"`
	A         string `cbor:"a"`
	B         string `cbor:"b"`
	CreatedAt int64  `cbor:"created_at"`
	NextSeq   uint64 `cbor:"next_seq"`
}

type DiskMessage struct {
	ID          string            `cbor:"id"`
	Seq         uint64            `cbor:"seq"`
	SenderID    string            `cbor:"sender"`
	RecipientID string            `cbor:"recipient"`
	Kind        string            `cbor:"kind"`
	Text        string            `cbor:"text,omitempty"`
	URL         string            `cbor:"url,omitempty"`
	ReplyTo     string            `cbor:"reply_to,omitempty"`
	CreatedAt   int64             `cbor:"created_at"`
	Status      uint8             `cbor:"status"`
	Edited      bool              `cbor:"edited"`
	Reactions   map[string]string `cbor:"reactions,omitempty"`
}

// messageIndex locates a message by id.
type messageIndex struct {
	ConversationID string `cbor:"conversation"`
	Seq            uint64 `cbor:"seq"`
}

// Keys:
//
//	conv:{a}:{b}              -> DiskConversation
//	msg:{conversation}:{seq}  -> DiskMessage, seq zero padded so prefix scans are chronological
//	msgidx:{message}          -> messageIndex
func conversationKey(key domain.ConversationKey) []byte {
	return []byte(fmt.Sprintf("conv:%s:%s", escape(string(key.A)), escape(string(key.B))))
}

func messagePrefix(conversationID string) []byte {
	return []byte(fmt.Sprintf("msg:%s:", conversationID))
}

func messageKey(conversationID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%020d", conversationID, seq))
}

func messageIndexKey(id domain.MessageID) []byte {
	return []byte("msgidx:" + id.String())
}

func (r ConversationRepository) GetConversation(key domain.ConversationKey) (domain.Conversation, bool, error) {
	var dc DiskConversation
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getValue(txn, conversationKey(key), &dc)
		return err
	})
	if err != nil || !found {
		return domain.Conversation{}, false, err
	}
	conversation, err := toConversation(dc)
	return conversation, err == nil, err
}

// EnsureConversation returns the conversation of the pair, creating it on first use.
func (r ConversationRepository) EnsureConversation(key domain.ConversationKey, at time.Time) (domain.Conversation, error) {
	var dc DiskConversation
	err := update(r.db, func(txn *badger.Txn) error {
		found, err := getValue(txn, conversationKey(key), &dc)
		if err != nil || found {
			return err
		}
		dc = DiskConversation{
			ID:        uuid.NewString(),
			A:         string(key.A),
			B:         string(key.B),
			CreatedAt: at.UnixNano(),
		}
		r.log.Debug("Creating conversation", "conversation_id", dc.ID, "a", key.A, "b", key.B)
		return setValue(txn, conversationKey(key), dc)
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return toConversation(dc)
}

// AppendMessage stores a new message at the tail of the conversation log.
func (r ConversationRepository) AppendMessage(conversationID uuid.UUID, message domain.Message) error {
	return update(r.db, func(txn *badger.Txn) error {
		var dc DiskConversation
		found, err := getValue(txn, conversationKey(message.ConversationKey), &dc)
		if err != nil {
			return err
		}
		if !found || dc.ID != conversationID.String() {
			return fmt.Errorf("conversation %s: %w", conversationID, errors.ErrConversationNotFound)
		}
		seq := dc.NextSeq
		dc.NextSeq++
		if err = setValue(txn, conversationKey(message.ConversationKey), dc); err != nil {
			return err
		}
		if err = setValue(txn, messageKey(dc.ID, seq), fromMessage(message, seq)); err != nil {
			return err
		}
		return setValue(txn, messageIndexKey(message.ID), messageIndex{ConversationID: dc.ID, Seq: seq})
	})
}

// SaveMessages overwrites existing messages in a single transaction.
// Unknown ids are skipped: the message has been deleted in the meantime.
func (r ConversationRepository) SaveMessages(messages ...domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	return update(r.db, func(txn *badger.Txn) error {
		for _, message := range messages {
			var idx messageIndex
			found, err := getValue(txn, messageIndexKey(message.ID), &idx)
			if err != nil {
				return err
			}
			if !found {
				r.log.Debug("Skipping save of unknown message", "message_id", message.ID)
				continue
			}
			if err = setValue(txn, messageKey(idx.ConversationID, idx.Seq), fromMessage(message, idx.Seq)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r ConversationRepository) FindMessage(id domain.MessageID) (domain.Message, bool, error) {
	var dm DiskMessage
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		var idx messageIndex
		ok, err := getValue(txn, messageIndexKey(id), &idx)
		if err != nil || !ok {
			return err
		}
		found, err = getValue(txn, messageKey(idx.ConversationID, idx.Seq), &dm)
		return err
	})
	if err != nil || !found {
		return domain.Message{}, false, err
	}
	message, err := toMessage(dm)
	return message, err == nil, err
}

// DeleteMessage removes the message and its index entry.
// Deleting an absent id reports false and no error.
func (r ConversationRepository) DeleteMessage(id domain.MessageID) (bool, error) {
	var deleted bool
	err := update(r.db, func(txn *badger.Txn) error {
		deleted = false
		var idx messageIndex
		found, err := getValue(txn, messageIndexKey(id), &idx)
		if err != nil || !found {
			return err
		}
		if err = txn.Delete(messageKey(idx.ConversationID, idx.Seq)); err != nil {
			return err
		}
		deleted = true
		return txn.Delete(messageIndexKey(id))
	})
	return deleted, err
}

// ListMessages replays the conversation oldest first.
// A pair that never exchanged a message has an empty history.
func (r ConversationRepository) ListMessages(key domain.ConversationKey) ([]domain.Message, error) {
	var diskMessages []DiskMessage
	err := r.db.View(func(txn *badger.Txn) error {
		var dc DiskConversation
		found, err := getValue(txn, conversationKey(key), &dc)
		if err != nil || !found {
			return err
		}
		prefix := messagePrefix(dc.ID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var dm DiskMessage
			if err = it.Item().Value(func(val []byte) error {
				return unmarshal(val, &dm)
			}); err != nil {
				return err
			}
			diskMessages = append(diskMessages, dm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(diskMessages))
	for _, dm := range diskMessages {
		message, err := toMessage(dm)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func fromMessage(m domain.Message, seq uint64) DiskMessage {
	dm := DiskMessage{
		ID:          m.ID.String(),
		Seq:         seq,
		SenderID:    string(m.SenderID),
		RecipientID: string(m.RecipientID),
		Kind:        string(domain.KindOf(m.Body)),
		CreatedAt:   m.CreatedAt.UnixNano(),
		Status:      uint8(m.Status),
		Edited:      m.Edited,
	}
	switch b := m.Body.(type) {
	case domain.Text:
		dm.Text = b.Value
	case domain.Media:
		dm.URL = b.URL
	}
	if m.ReplyTo != nil {
		dm.ReplyTo = m.ReplyTo.String()
	}
	if len(m.Reactions) > 0 {
		dm.Reactions = lo.MapEntries(m.Reactions, func(user domain.UserID, emoji string) (string, string) {
			return string(user), emoji
		})
	}
	return dm
}

func toMessage(dm DiskMessage) (domain.Message, error) {
	id, err := uuid.Parse(dm.ID)
	if err != nil {
		return domain.Message{}, err
	}
	body, err := domain.BodyFromWire(domain.BodyKind(dm.Kind), dm.Text, dm.URL)
	if err != nil {
		return domain.Message{}, err
	}
	key, err := domain.NewConversationKey(domain.UserID(dm.SenderID), domain.UserID(dm.RecipientID))
	if err != nil {
		return domain.Message{}, err
	}
	message := domain.Message{
		ID:              id,
		ConversationKey: key,
		SenderID:        domain.UserID(dm.SenderID),
		RecipientID:     domain.UserID(dm.RecipientID),
		Body:            body,
		CreatedAt:       time.Unix(0, dm.CreatedAt).UTC(),
		Status:          domain.Status(dm.Status),
		Edited:          dm.Edited,
	}
	if dm.ReplyTo != "" {
		replyTo, err := uuid.Parse(dm.ReplyTo)
		if err != nil {
			return domain.Message{}, err
		}
		message.ReplyTo = &replyTo
	}
	if len(dm.Reactions) > 0 {
		message.Reactions = lo.MapEntries(dm.Reactions, func(user string, emoji string) (domain.UserID, string) {
			return domain.UserID(user), emoji
		})
	}
	return message, nil
}

func toConversation(dc DiskConversation) (domain.Conversation, error) {
	id, err := uuid.Parse(dc.ID)
	if err != nil {
		return domain.Conversation{}, err
	}
	return domain.Conversation{
		ID:        id,
		Key:       domain.ConversationKey{A: domain.UserID(dc.A), B: domain.UserID(dc.B)},
		CreatedAt: time.Unix(0, dc.CreatedAt).UTC(),
	}, nil
}
