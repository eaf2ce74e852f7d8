package main

import (
	"context"
	"dm-relay/infrastructure/push"
	"dm-relay/infrastructure/ws"
	"dm-relay/moderation"
	"dm-relay/observability"
	"dm-relay/repositories"
	"dm-relay/runtime"
	"dm-relay/runtime/workers"
	"dm-relay/services"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, serves until a signal arrives and then drains
// in-flight pushes before the database is closed.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	opts := badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING)
	if config.BadgerInMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeCfg := bluge.DefaultConfig(config.BlugeFilepath)
	if config.BadgerInMemory {
		blugeCfg = bluge.InMemoryOnlyConfig()
	}
	blugeWriter, err := bluge.OpenWriter(blugeCfg)
	if err != nil {
		return fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		log.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	// 3. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(registry)

	// 4. Relay core
	users := repositories.NewUserRepository(db)
	conversations := repositories.NewConversationRepository(db, log)
	presence := runtime.NewPresenceTracker(log, users, nil)
	sessions := runtime.NewRegistry(log, presence, metrics)

	storeOpts := []runtime.StoreOption{
		runtime.WithStoreMetrics(metrics),
		runtime.WithIndex(repositories.NewMessageIndex(blugeWriter, log)),
	}
	if config.ModerationEnabled {
		moderator, err := newModerator(config, log)
		if err != nil {
			return err
		}
		storeOpts = append(storeOpts, runtime.WithCensor(moderator))
	}
	store := runtime.NewConversationStore(log, conversations, presence, storeOpts...)

	keys, err := push.LoadOrGenerateVAPIDKeys(config.VapidKeysPath, log)
	if err != nil {
		return fmt.Errorf("vapid keys: %w", err)
	}
	sender := push.NewWebPushSender(log, push.Options{
		Subscriber: config.VapidSubscriber,
		Keys:       keys,
		TTL:        config.PushTTL,
	})
	dispatcher := runtime.NewPushDispatcher(log, users, sender, metrics, config.PushTimeout)
	fanout := runtime.NewFanout(log, store, sessions, dispatcher, users)
	chat := services.NewChatService(log, users, sessions, presence, store, fanout, dispatcher)

	// 5. Transport
	server := ws.NewServer(log, chat, ws.Config{
		SessionBufferSize: config.SessionBufferSize,
		MaxMessageSize:    config.MaxMessageSize,
		PingPeriod:        config.PingPeriod,
		PongWait:          config.PongWait,
		WriteWait:         config.WriteWait,
		TypingRate:        rate.Limit(config.TypingRatePerSecond),
		TypingBurst:       config.TypingBurst,
	}, keys.PublicKey, registry)

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 7. Supervised workers
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		workers.NewServerWorker(log, server, config.Address()),
		workers.NewTelemetryWorker(log, sessions, metrics, config.MetricInterval),
	)
	log.Info("Starting relay", "address", config.Address(), "at", time.Now().UTC())
	sup.Run(ctx)

	// 8. Final Cleanup
	log.Info("Waiting for in-flight push notifications...")
	chat.Wait()
	log.Info("Program stopped cleanly")
	return nil
}

func newModerator(config Config, log *slog.Logger) (*moderation.Moderator, error) {
	char, err := config.CharacterRune()
	if err != nil {
		return nil, err
	}
	data, err := runtime.NewCensoredLoader(os.DirFS(config.CensoredWordsDir)).LoadAll(".")
	if err != nil {
		return nil, fmt.Errorf("censored words: %w", err)
	}
	log.Info("Censored words loaded", "count", len(data.Words), "languages", data.Languages)
	return moderation.NewModerator(data.Words, char, log)
}
