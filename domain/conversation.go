package domain

import (
	"dm-relay/errors"
	"time"

	"github.com/google/uuid"
)

// ConversationKey identifies a two-party conversation.
// It is an unordered pair: A and B are stored sorted so that
// NewConversationKey(x, y) == NewConversationKey(y, x).
type ConversationKey struct {
	A UserID
	B UserID
}

func NewConversationKey(x, y UserID) (ConversationKey, error) {
	if x == y {
		return ConversationKey{}, errors.ErrSameParticipant
	}
	if y < x {
		x, y = y, x
	}
	return ConversationKey{A: x, B: y}, nil
}

func (k ConversationKey) String() string {
	return string(k.A) + ":" + string(k.B)
}

func (k ConversationKey) Has(user UserID) bool {
	return k.A == user || k.B == user
}

// Other returns the participant that is not user.
func (k ConversationKey) Other(user UserID) UserID {
	if k.A == user {
		return k.B
	}
	return k.A
}

func (k ConversationKey) Participants() []UserID {
	return []UserID{k.A, k.B}
}

// Conversation is created lazily on the first message between a pair.
type Conversation struct {
	ID        uuid.UUID
	Key       ConversationKey
	Messages  []Message
	CreatedAt time.Time
}
