package domain

import (
	"time"
)

// SendMessageCommand carries the identities resolved by the transport.
// A zero CreatedAt is stamped by the store.
type SendMessageCommand struct {
	SenderID    UserID
	RecipientID UserID
	TempID      string
	Body        Body
	ReplyTo     *MessageID
	CreatedAt   time.Time
}

type EditMessageCommand struct {
	UserID    UserID
	MessageID MessageID
	Body      Body
}

type DeleteMessageCommand struct {
	UserID    UserID
	MessageID MessageID
}

type ReactCommand struct {
	UserID    UserID
	MessageID MessageID
	Emoji     string
}

// MarkReadCommand marks every message sent by OtherID to UserID as read.
type MarkReadCommand struct {
	UserID  UserID
	OtherID UserID
}

type TypingCommand struct {
	From     UserID
	To       UserID
	IsTyping bool
}
