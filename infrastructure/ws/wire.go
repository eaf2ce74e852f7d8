package ws

import (
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/errors"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Envelope is the frame exchanged on the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client to server events.
const (
	JoinEvent          = "join"
	SendMessageEvent   = "send_message"
	MarkReadEvent      = "mark_read"
	EditMessageEvent   = "edit_message"
	DeleteMessageEvent = "delete_message"
	AddReactionEvent   = "add_reaction"
	TypingEvent        = "typing"
)

// Server to client events that are local to the transport.
const (
	JoinedType event.Type = "joined"
	ErrorType  event.Type = "error"
)

// joined acknowledges a join, so a client knows its session is live.
type joined struct {
	UserID domain.UserID `json:"userId"`
}

func (joined) Type() event.Type { return JoinedType }

// failure is reported to the session that issued the failing event only.
type failure struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

func (failure) Type() event.Type { return ErrorType }

type MessageDTO struct {
	ID          string            `json:"id"`
	SenderID    domain.UserID     `json:"senderId"`
	RecipientID domain.UserID     `json:"recipientId"`
	Type        domain.BodyKind   `json:"type"`
	Text        string            `json:"text,omitempty"`
	URL         string            `json:"url,omitempty"`
	ReplyTo     *string           `json:"replyTo,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Status      domain.Status     `json:"status"`
	IsEdited    bool              `json:"isEdited"`
	Reactions   map[string]string `json:"reactions,omitempty"`
}

func ToMessageDTO(m domain.Message) MessageDTO {
	dto := MessageDTO{
		ID:          m.ID.String(),
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Type:        m.Kind(),
		Timestamp:   m.CreatedAt,
		Status:      m.Status,
		IsEdited:    m.Edited,
	}
	switch b := m.Body.(type) {
	case domain.Text:
		dto.Text = b.Value
	case domain.Media:
		dto.URL = b.URL
	}
	if m.ReplyTo != nil {
		dto.ReplyTo = lo.ToPtr(m.ReplyTo.String())
	}
	if len(m.Reactions) > 0 {
		dto.Reactions = lo.MapEntries(m.Reactions, func(user domain.UserID, emoji string) (string, string) {
			return string(user), emoji
		})
	}
	return dto
}

func ToMessageDTOs(messages []domain.Message) []MessageDTO {
	return lo.Map(messages, func(m domain.Message, _ int) MessageDTO { return ToMessageDTO(m) })
}

// EncodeEvent maps a domain event onto its wire envelope.
func EncodeEvent(evt event.DomainEvent) (Envelope, error) {
	var data any
	switch e := evt.(type) {
	case event.MessageReceived:
		data = struct {
			ConversationID string     `json:"conversationId"`
			Message        MessageDTO `json:"message"`
		}{e.ConversationID.String(), ToMessageDTO(e.Message)}
	case event.MessageSentConfirm:
		data = struct {
			TempID       string     `json:"tempId"`
			FinalMessage MessageDTO `json:"finalMessage"`
		}{e.TempID, ToMessageDTO(e.FinalMessage)}
	case event.MessageUpdated:
		data = ToMessageDTO(e.Message)
	case event.MessageDeleted:
		data = struct {
			MessageID string `json:"messageId"`
		}{e.MessageID.String()}
	case event.MessagesRead:
		data = struct {
			By    domain.UserID `json:"by"`
			Count int           `json:"count"`
		}{e.By, e.Count}
	case event.TypingStatus:
		data = struct {
			From     domain.UserID `json:"from"`
			IsTyping bool          `json:"isTyping"`
		}{e.From, e.IsTyping}
	case event.StatusUpdate:
		data = struct {
			UserID   domain.UserID `json:"userId"`
			IsOnline bool          `json:"isOnline"`
			LastSeen *time.Time    `json:"lastSeen"`
		}{e.UserID, e.IsOnline, e.LastSeen}
	case joined, failure:
		data = e
	default:
		return Envelope{}, fmt.Errorf("%w: %s", errors.ErrUnknownEvent, evt.Type())
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: string(evt.Type()), Data: raw}, nil
}

type joinPayload struct {
	UserID domain.UserID `json:"userId" validate:"required"`
	Name   string        `json:"name"`
}

// UnmarshalJSON also accepts a bare user id string.
func (p *joinPayload) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		p.UserID = domain.UserID(id)
		return nil
	}
	type plain joinPayload
	return json.Unmarshal(b, (*plain)(p))
}

type outgoingMessage struct {
	TempID  string          `json:"id"`
	Type    domain.BodyKind `json:"type"`
	Text    string          `json:"text"`
	URL     string          `json:"url"`
	MIME    string          `json:"mimeType"`
	ReplyTo string          `json:"replyTo" validate:"omitempty,uuid"`
}

type sendPayload struct {
	SenderID    domain.UserID   `json:"senderId"`
	RecipientID domain.UserID   `json:"recipientId" validate:"required"`
	Message     outgoingMessage `json:"message"`
}

type markReadPayload struct {
	UserID  domain.UserID `json:"userId"`
	OtherID domain.UserID `json:"otherId" validate:"required"`
}

type editPayload struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	NewText   string `json:"newText" validate:"required"`
}

type deletePayload struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
}

type reactionPayload struct {
	MessageID string        `json:"messageId" validate:"required,uuid"`
	Emoji     string        `json:"emoji" validate:"required"`
	UserID    domain.UserID `json:"userId"`
}

type typingPayload struct {
	To       domain.UserID `json:"to" validate:"required"`
	IsTyping bool          `json:"isTyping"`
}

func parseID(raw string) (domain.MessageID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", errors.ErrInvalidPayload, err.Error())
	}
	return id, nil
}
