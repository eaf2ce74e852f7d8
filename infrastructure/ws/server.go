// Package ws exposes the relay over HTTP: one websocket per device for the
// event protocol, plus a handful of REST endpoints.
package ws

import (
	"context"
	"dm-relay/domain"
	"dm-relay/errors"
	"dm-relay/repositories"
	"dm-relay/services"
	"dm-relay/sink"
	"log/slog"
	"net"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type Config struct {
	SessionBufferSize int
	MaxMessageSize    int64
	PingPeriod        time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	TypingRate        rate.Limit
	TypingBurst       int
}

func DefaultConfig() Config {
	return Config{
		SessionBufferSize: sink.DefaultBufferSize,
		MaxMessageSize:    64 * 1024,
		PingPeriod:        54 * time.Second,
		PongWait:          60 * time.Second,
		WriteWait:         10 * time.Second,
		TypingRate:        rate.Limit(5),
		TypingBurst:       5,
	}
}

type Server struct {
	log       *slog.Logger
	app       *fiber.App
	chat      services.IChatService
	cfg       Config
	vapidKey  string
	validate  *validator.Validate
	gatherer  prometheus.Gatherer
	connCtx   context.Context
	cancelAll context.CancelFunc
}

func NewServer(log *slog.Logger, chat services.IChatService, cfg Config, vapidPublicKey string, gatherer prometheus.Gatherer) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		log:       log,
		chat:      chat,
		cfg:       cfg,
		vapidKey:  vapidPublicKey,
		validate:  validator.New(),
		gatherer:  gatherer,
		connCtx:   ctx,
		cancelAll: cancel,
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.routes()
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) routes() {
	s.app.Use(recover.New())

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if s.gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.app.Group("/api")
	api.Get("/vapid-key", s.vapidPublicKey)
	api.Post("/subscribe", s.subscribe)
	api.Post("/push/test", s.testPush)
	api.Get("/chat/history", s.history)
	api.Get("/chat/unread", s.unread)
	api.Get("/chat/search", s.search)
	api.Get("/presence/:userId", s.presence)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.serveSocket))
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.log.Info("HTTP server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve is Listen on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("HTTP server listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown stops accepting connections and unblocks every live socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelAll()
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) serveSocket(conn *websocket.Conn) {
	session := sink.NewSessionSink(uuid.New(), s.cfg.SessionBufferSize)
	c := newClient(s, conn, session)
	ctx, cancel := context.WithCancel(s.connCtx)
	defer cancel()

	// The connection is released once this handler returns: every goroutine
	// touching it must be done by then.
	stop := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	if user := conn.Query("userId"); user != "" {
		if err := c.join(ctx, domain.UserID(user), conn.Query("name")); err != nil {
			c.fail(ctx, JoinEvent, err)
		}
	}
	c.readLoop(ctx)

	// Leaving uses a context that outlives the socket so that in-flight
	// fanout for this user is not cancelled by the disconnect.
	c.leave(context.WithoutCancel(ctx))
	<-writerDone
	close(stop)
	<-watcherDone
}

type subscribeRequest struct {
	UserID       domain.UserID           `json:"userId" validate:"required"`
	Subscription domain.PushSubscription `json:"subscription"`
}

type userRequest struct {
	UserID domain.UserID `json:"userId" validate:"required"`
}

func (s *Server) vapidPublicKey(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"key": s.vapidKey})
}

func (s *Server) subscribe(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	added, err := s.chat.Subscribe(req.UserID, req.Subscription)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "added": added})
}

func (s *Server) testPush(c *fiber.Ctx) error {
	var req userRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	report, err := s.chat.TestPush(c.UserContext(), req.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "count": report.Delivered, "pruned": report.Pruned})
}

func (s *Server) history(c *fiber.Ctx) error {
	user, other := domain.UserID(c.Query("userId")), domain.UserID(c.Query("otherId"))
	if user == "" || other == "" {
		return fiber.NewError(fiber.StatusBadRequest, "userId and otherId are required")
	}
	messages, err := s.chat.History(user, other)
	if err != nil {
		return err
	}
	return c.JSON(ToMessageDTOs(messages))
}

func (s *Server) unread(c *fiber.Ctx) error {
	user, other := domain.UserID(c.Query("userId")), domain.UserID(c.Query("otherId"))
	if user == "" || other == "" {
		return fiber.NewError(fiber.StatusBadRequest, "userId and otherId are required")
	}
	count, err := s.chat.UnreadCount(user, other)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"unread": count})
}

func (s *Server) search(c *fiber.Ctx) error {
	user, other := domain.UserID(c.Query("userId")), domain.UserID(c.Query("otherId"))
	if user == "" || other == "" {
		return fiber.NewError(fiber.StatusBadRequest, "userId and otherId are required")
	}
	messages, err := s.chat.Search(c.UserContext(), user, other, c.Query("q"), c.QueryInt("limit", repositories.DefaultSearchSize))
	if err != nil {
		return err
	}
	return c.JSON(ToMessageDTOs(messages))
}

func (s *Server) presence(c *fiber.Ctx) error {
	user := domain.UserID(c.Params("userId"))
	p := s.chat.Presence(user)
	return c.JSON(fiber.Map{"userId": user, "isOnline": p.Online, "lastSeen": p.LastSeenAt})
}

func (s *Server) bind(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.validate.Struct(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		status = fe.Code
	case errors.Is(err, errors.ErrNoSubscriptions),
		errors.Is(err, errors.ErrInvalidPayload),
		errors.Is(err, errors.ErrSameParticipant):
		status = fiber.StatusBadRequest
	default:
		s.log.Error("Request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
