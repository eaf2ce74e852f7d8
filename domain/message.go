// Package domain contains core concepts of the direct-messaging relay.
// This file defines Message, its body variants and the status state machine.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

type UserID string

type MessageID = uuid.UUID

// Status is the delivery state of a message.
// The zero value is Sent, so a freshly decoded message never skips a state.
type Status int

const (
	Sent Status = iota
	Delivered
	Read
)

func (s Status) String() string {
	switch s {
	case Sent:
		return "sent"
	case Delivered:
		return "delivered"
	case Read:
		return "read"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Advance moves the status forward to target.
// It returns the resulting status and whether a transition happened;
// a target lower or equal to the current status is ignored.
func (s Status) Advance(target Status) (Status, bool) {
	if target <= s {
		return s, false
	}
	return target, true
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw {
	case "sent":
		*s = Sent
	case "delivered":
		*s = Delivered
	case "read":
		*s = Read
	default:
		return fmt.Errorf("unknown status %q", raw)
	}
	return nil
}

// Message is a single entry of a two-party conversation.
type Message struct {
	ID              MessageID
	ConversationKey ConversationKey
	SenderID        UserID
	RecipientID     UserID
	Body            Body
	ReplyTo         *MessageID
	CreatedAt       time.Time
	Status          Status
	Edited          bool
	Reactions       map[UserID]string
}

// Edit replaces the body. Once edited, a message stays edited.
func (m *Message) Edit(body Body) {
	m.Body = body
	m.Edited = true
}

// ToggleReaction sets the user's single reaction slot to emoji, or clears it
// when the user already reacted with the same emoji.
// It returns true when the reaction is present after the call.
func (m *Message) ToggleReaction(user UserID, emoji string) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[UserID]string)
	}
	if current, ok := m.Reactions[user]; ok && current == emoji {
		delete(m.Reactions, user)
		return false
	}
	m.Reactions[user] = emoji
	return true
}

// MarkRead advances the message to Read and reports whether it changed.
func (m *Message) MarkRead() bool {
	next, changed := m.Status.Advance(Read)
	m.Status = next
	return changed
}

// Clone returns a deep copy safe to hand out as an event snapshot.
func (m Message) Clone() Message {
	out := m
	if m.ReplyTo != nil {
		id := *m.ReplyTo
		out.ReplyTo = &id
	}
	if m.Reactions != nil {
		out.Reactions = maps.Clone(m.Reactions)
	}
	return out
}

func (m Message) Kind() BodyKind {
	return KindOf(m.Body)
}
