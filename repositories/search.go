package repositories

import (
	"context"
	"dm-relay/domain"
	"log/slog"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
)

const (
	fieldConversation = "conversation"
	fieldText         = "text"
	idField           = "_id"
	DefaultSearchSize = 20
)

// IMessageIndex is the full text index of text messages, scoped by conversation.
type IMessageIndex interface {
	Index(message domain.Message) error
	Remove(id domain.MessageID) error
	Search(ctx context.Context, key domain.ConversationKey, terms string, limit int) ([]domain.MessageID, error)
}

type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

var _ IMessageIndex = (*MessageIndex)(nil)

func NewMessageIndex(writer *bluge.Writer, log *slog.Logger) *MessageIndex {
	return &MessageIndex{writer: writer, log: log}
}

// Index adds or replaces the document of a message. Media messages carry no
// searchable text and are removed from the index instead.
func (m *MessageIndex) Index(message domain.Message) error {
	text, ok := message.Body.(domain.Text)
	if !ok {
		return m.Remove(message.ID)
	}
	doc := bluge.NewDocument(message.ID.String()).
		AddField(bluge.NewKeywordField(fieldConversation, conversationTerm(message.ConversationKey))).
		AddField(bluge.NewTextField(fieldText, text.Value))
	return m.writer.Update(doc.ID(), doc)
}

func (m *MessageIndex) Remove(id domain.MessageID) error {
	return m.writer.Delete(bluge.Identifier(id.String()))
}

// Search returns the best matching message ids of one conversation, best first.
func (m *MessageIndex) Search(
	ctx context.Context,
	key domain.ConversationKey,
	terms string,
	limit int,
) ([]domain.MessageID, error) {
	if limit <= 0 {
		limit = DefaultSearchSize
	}
	reader, err := m.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewTermQuery(conversationTerm(key)).SetField(fieldConversation)).
		AddMust(bluge.NewMatchQuery(terms).SetField(fieldText))
	matches, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}

	var ids []domain.MessageID
	match, err := matches.Next()
	for err == nil && match != nil {
		var visitErr error
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field != idField {
				return true
			}
			id, parseErr := uuid.ParseBytes(value)
			if parseErr != nil {
				visitErr = parseErr
				return false
			}
			ids = append(ids, id)
			return false
		})
		if err == nil {
			err = visitErr
		}
		if err == nil {
			match, err = matches.Next()
		}
	}
	if err != nil {
		return nil, err
	}
	m.log.Debug("Message search", "conversation", key.String(), "terms", terms, "hits", len(ids))
	return ids, nil
}

// conversationTerm escapes both ids so a colon inside a user id cannot make
// two conversations share a term.
func conversationTerm(key domain.ConversationKey) string {
	return escape(string(key.A)) + ":" + escape(string(key.B))
}
