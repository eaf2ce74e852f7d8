package ws

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/domain/mimetypes"
	"dm-relay/errors"
	"dm-relay/sink"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"
)

var errJoinFirst = fmt.Errorf("%w: join first", errors.ErrInvalidPayload)

// client owns one websocket connection. The reader goroutine turns frames
// into commands and owns user and log; the writer goroutine is the only one
// writing to the socket and only touches wlog.
type client struct {
	server *Server
	conn   *websocket.Conn
	log    *slog.Logger
	wlog   *slog.Logger
	sink   *sink.SessionSink
	typing *rate.Limiter
	user   domain.UserID
}

func newClient(server *Server, conn *websocket.Conn, session *sink.SessionSink) *client {
	return &client{
		server: server,
		conn:   conn,
		log:    server.log.With("session_id", session.ID),
		wlog:   server.log.With("session_id", session.ID),
		sink:   session,
		typing: rate.NewLimiter(server.cfg.TypingRate, server.cfg.TypingBurst),
	}
}

// readLoop blocks until the connection fails or is closed.
func (c *client) readLoop(ctx context.Context) {
	cfg := c.server.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Websocket read error", "user_id", c.user, "error", err)
			} else {
				c.log.Debug("Websocket closed", "user_id", c.user, "error", err)
			}
			return
		}
		var envelope Envelope
		if err = json.Unmarshal(raw, &envelope); err != nil {
			c.fail(ctx, "", fmt.Errorf("%w: %s", errors.ErrInvalidPayload, err.Error()))
			continue
		}
		if err = c.handle(ctx, envelope); err != nil {
			c.fail(ctx, envelope.Event, err)
		}
	}
}

// writeLoop drains the session outbox and keeps the connection alive.
func (c *client) writeLoop() {
	cfg := c.server.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt := <-c.sink.Events():
			envelope, err := EncodeEvent(evt)
			if err != nil {
				c.wlog.Error("Unable to encode event", "event", evt.Type(), "error", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err = c.conn.WriteJSON(envelope); err != nil {
				c.wlog.Warn("Websocket write error", "error", err)
				c.abort()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.wlog.Debug("Websocket ping error", "error", err)
				c.abort()
				return
			}
		case <-c.sink.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// abort stops the outbox and unblocks the reader.
func (c *client) abort() {
	c.sink.Close()
	_ = c.conn.Close()
}

func (c *client) handle(ctx context.Context, envelope Envelope) error {
	if envelope.Event == JoinEvent {
		var p joinPayload
		if err := c.decode(envelope.Data, &p); err != nil {
			return err
		}
		return c.join(ctx, p.UserID, p.Name)
	}
	if c.user == "" {
		return errJoinFirst
	}

	chat := c.server.chat
	switch envelope.Event {
	case SendMessageEvent:
		var p sendPayload
		if err := c.decode(envelope.Data, &p); err != nil {
			return err
		}
		if err := c.checkIdentity(p.SenderID); err != nil {
			return err
		}
		cmd, err := c.sendCommand(p)
		if err != nil {
			return err
		}
		_, err = chat.SendMessage(ctx, cmd)
		return err

	case MarkReadEvent:
		var p markReadPayload
		if err := c.decode(envelope.Data, &p); err != nil {
			return err
		}
		if err := c.checkIdentity(p.UserID); err != nil {
			return err
		}
		_, err := chat.MarkRead(ctx, domain.MarkReadCommand{UserID: c.user, OtherID: p.OtherID})
		return err

	case EditMessageEvent:
		var p editPayload
		if err := c.decode(envelope.Data, &p); err != nil {
			return err
		}
		id, err := parseID(p.MessageID)
		if err != nil {
			return err
		}
		_, found, err := chat.EditMessage(ctx, domain.EditMessageCommand{UserID: c.user, MessageID: id, Body: domain.Text{Value: p.NewText}})
		return notFound(found, err)

	case DeleteMessageEvent:
		var p deletePayload
		if err := c.decode(envelope.Data, &p); err != nil {
			return err
		}
		id, err := parseID(p.MessageID)
		if err != nil {
			return err
		}
		deleted, err := chat.DeleteMessage(ctx, domain.DeleteMessageCommand{UserID: c.user, MessageID: id})
		return notFound(deleted, err)

	case AddReactionEvent:
		var p reactionPayload
		if err := c.decode(envelope.Data, &p); err != nil {
			return err
		}
		if err := c.checkIdentity(p.UserID); err != nil {
			return err
		}
		id, err := parseID(p.MessageID)
		if err != nil {
			return err
		}
		_, found, err := chat.React(ctx, domain.ReactCommand{UserID: c.user, MessageID: id, Emoji: p.Emoji})
		return notFound(found, err)

	case TypingEvent:
		var p typingPayload
		if err := c.decode(envelope.Data, &p); err != nil {
			return err
		}
		// Dropping a stop indicator would leave the peer stuck on "typing".
		if p.IsTyping && !c.typing.Allow() {
			return nil
		}
		chat.Typing(ctx, domain.TypingCommand{From: c.user, To: p.To, IsTyping: p.IsTyping})
		return nil

	default:
		return fmt.Errorf("%w: %q", errors.ErrUnknownEvent, envelope.Event)
	}
}

// join binds the connection to user. Joining again as someone else moves the session.
func (c *client) join(ctx context.Context, user domain.UserID, name string) error {
	if user == "" {
		return fmt.Errorf("%w: missing user id", errors.ErrInvalidPayload)
	}
	if c.user == user {
		return c.sink.Consume(ctx, joined{UserID: user})
	}
	if c.user != "" {
		c.server.chat.Leave(ctx, c.user, c.sink.ID)
	}
	c.user = user
	c.log = c.log.With("user_id", user)
	c.server.chat.Join(ctx, user, name, contract.Session{ID: c.sink.ID, Sink: c.sink})
	c.log.Info("Session joined")
	return c.sink.Consume(ctx, joined{UserID: user})
}

func (c *client) leave(ctx context.Context) {
	c.sink.Close()
	if c.user != "" {
		c.server.chat.Leave(ctx, c.user, c.sink.ID)
		c.log.Info("Session left")
	}
}

func (c *client) sendCommand(p sendPayload) (domain.SendMessageCommand, error) {
	kind := p.Message.Type
	if kind == "" && p.Message.MIME != "" {
		if media, ok := mimetypes.KindOf(p.Message.MIME); ok {
			kind = media
		}
	}
	body, err := domain.BodyFromWire(kind, p.Message.Text, p.Message.URL)
	if err != nil {
		return domain.SendMessageCommand{}, err
	}
	if domain.KindOf(body) == domain.KindText && strings.TrimSpace(p.Message.Text) == "" {
		return domain.SendMessageCommand{}, fmt.Errorf("%w: empty text", errors.ErrInvalidBody)
	}
	cmd := domain.SendMessageCommand{
		SenderID:    c.user,
		RecipientID: p.RecipientID,
		TempID:      p.Message.TempID,
		Body:        body,
	}
	if p.Message.ReplyTo != "" {
		replyTo, err := parseID(p.Message.ReplyTo)
		if err != nil {
			return domain.SendMessageCommand{}, err
		}
		cmd.ReplyTo = &replyTo
	}
	return cmd, nil
}

func (c *client) decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", errors.ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrInvalidPayload, err.Error())
	}
	if err := c.server.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrInvalidPayload, err.Error())
	}
	return nil
}

// checkIdentity rejects payloads claiming to act for another user.
func (c *client) checkIdentity(claimed domain.UserID) error {
	if claimed != "" && claimed != c.user {
		return fmt.Errorf("%w: acting as %s", errors.ErrNotParticipant, claimed)
	}
	return nil
}

func (c *client) fail(ctx context.Context, eventName string, err error) {
	c.log.Debug("Event rejected", "event", eventName, "error", err)
	if consumeErr := c.sink.Consume(ctx, failure{Event: eventName, Error: err.Error()}); consumeErr != nil {
		c.log.Warn("Unable to report failure", "error", consumeErr)
	}
}

func notFound(found bool, err error) error {
	if err != nil {
		return err
	}
	if !found {
		return errors.ErrMessageNotFound
	}
	return nil
}
