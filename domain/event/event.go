package event

import (
	"dm-relay/domain"
	"time"

	"github.com/google/uuid"
)

// Type is the wire name of a server-to-client event.
type Type string

const (
	MessageReceivedType    Type = "message_received"
	MessageSentConfirmType Type = "message_sent_confirm"
	MessageUpdatedType     Type = "message_updated"
	MessageDeletedType     Type = "message_deleted"
	MessagesReadType       Type = "messages_read"
	TypingStatusType       Type = "typing_status"
	StatusUpdateType       Type = "status_update"
)

// DomainEvent is anything the relay emits to a session.
type DomainEvent interface {
	Type() Type
}

type MessageReceived struct {
	ConversationID uuid.UUID
	Message        domain.Message
}

func (MessageReceived) Type() Type { return MessageReceivedType }

// MessageSentConfirm lets every session of the sender swap the
// client-side temporary id for the committed message.
type MessageSentConfirm struct {
	TempID       string
	FinalMessage domain.Message
}

func (MessageSentConfirm) Type() Type { return MessageSentConfirmType }

type MessageUpdated struct {
	Message domain.Message
}

func (MessageUpdated) Type() Type { return MessageUpdatedType }

type MessageDeleted struct {
	MessageID domain.MessageID
}

func (MessageDeleted) Type() Type { return MessageDeletedType }

type MessagesRead struct {
	By    domain.UserID
	Count int
}

func (MessagesRead) Type() Type { return MessagesReadType }

type TypingStatus struct {
	From     domain.UserID
	IsTyping bool
}

func (TypingStatus) Type() Type { return TypingStatusType }

type StatusUpdate struct {
	UserID   domain.UserID
	IsOnline bool
	LastSeen *time.Time
}

func (StatusUpdate) Type() Type { return StatusUpdateType }
