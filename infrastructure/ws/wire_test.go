package ws

import (
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/errors"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type unknownEvent struct{}

func (unknownEvent) Type() event.Type { return "unknown" }

func TestEncodeEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	id := uuid.MustParse("6f1d3c1e-1111-4c5b-9d7a-000000000001")
	reply := uuid.MustParse("6f1d3c1e-1111-4c5b-9d7a-000000000002")
	conversation := uuid.MustParse("6f1d3c1e-1111-4c5b-9d7a-000000000003")
	msg := domain.Message{
		ID:          id,
		SenderID:    "alice",
		RecipientID: "bob",
		Body:        domain.Media{URL: "/uploads/a.webm", Kind: domain.KindAudio},
		ReplyTo:     &reply,
		CreatedAt:   at,
		Status:      domain.Delivered,
		Reactions:   map[domain.UserID]string{"bob": "🔥"},
	}
	dto := `{"id":"6f1d3c1e-1111-4c5b-9d7a-000000000001","senderId":"alice","recipientId":"bob","type":"audio",` +
		`"url":"/uploads/a.webm","replyTo":"6f1d3c1e-1111-4c5b-9d7a-000000000002","timestamp":"2026-03-01T10:00:00Z",` +
		`"status":"delivered","isEdited":false,"reactions":{"bob":"🔥"}}`

	tests := []struct {
		name  string
		evt   event.DomainEvent
		event string
		data  string
	}{
		{"Received", event.MessageReceived{ConversationID: conversation, Message: msg}, "message_received",
			`{"conversationId":"6f1d3c1e-1111-4c5b-9d7a-000000000003","message":` + dto + `}`},
		{"Confirm", event.MessageSentConfirm{TempID: "tmp", FinalMessage: msg}, "message_sent_confirm",
			`{"tempId":"tmp","finalMessage":` + dto + `}`},
		{"Updated", event.MessageUpdated{Message: msg}, "message_updated", dto},
		{"Deleted", event.MessageDeleted{MessageID: id}, "message_deleted",
			`{"messageId":"6f1d3c1e-1111-4c5b-9d7a-000000000001"}`},
		{"Read", event.MessagesRead{By: "bob", Count: 2}, "messages_read", `{"by":"bob","count":2}`},
		{"Typing", event.TypingStatus{From: "bob", IsTyping: true}, "typing_status", `{"from":"bob","isTyping":true}`},
		{"Online", event.StatusUpdate{UserID: "bob", IsOnline: true}, "status_update",
			`{"userId":"bob","isOnline":true,"lastSeen":null}`},
		{"Offline", event.StatusUpdate{UserID: "bob", LastSeen: &at}, "status_update",
			`{"userId":"bob","isOnline":false,"lastSeen":"2026-03-01T10:00:00Z"}`},
		{"Failure", failure{Event: "typing", Error: "boom"}, "error", `{"event":"typing","error":"boom"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			envelope, err := EncodeEvent(tt.evt)
			req.NoError(err)
			req.Equal(tt.event, envelope.Event)
			req.JSONEq(tt.data, string(envelope.Data))
		})
	}

	_, err := EncodeEvent(unknownEvent{})
	require.True(t, errors.Is(err, errors.ErrUnknownEvent))
}

func TestJoinPayload_Accepts_Both_Shapes(t *testing.T) {
	req := require.New(t)

	var bare joinPayload
	req.NoError(json.Unmarshal([]byte(`"alice"`), &bare))
	req.Equal(domain.UserID("alice"), bare.UserID)

	var full joinPayload
	req.NoError(json.Unmarshal([]byte(`{"userId":"bob","name":"Bob"}`), &full))
	req.Equal(joinPayload{UserID: "bob", Name: "Bob"}, full)
}
