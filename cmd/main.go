package main

import (
	"chat-hub/auth"
	"chat-hub/cache"
	"chat-hub/dispatcher"
	"chat-hub/infrastructure/storage"
	"chat-hub/infrastructure/websocket"
	"chat-hub/moderation"
	"chat-hub/runtime"
	"chat-hub/runtime/workers"
	"chat-hub/services"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Deferred cleanups (database, cache timers) always run before the program exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	policy, err := config.MembershipPolicy()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	store := storage.NewMessageStore(db, log, config.HistoryLimit)

	// 3. Moderation
	moderator, err := newModerator(config, log)
	if err != nil {
		return err
	}

	// 4. Hub state & services
	registry := runtime.NewRegistry(policy)
	router := runtime.NewRouter(log, registry)
	history := cache.NewHistoryCache(store, config.CacheTTL, log)
	defer history.Close()

	chat := services.NewChatService(log, registry, router, history, store, moderator, config.StoreTimeout)
	reactions := services.NewReactionService(log, router, history, store, config.StoreTimeout)
	gate := auth.NewGate(auth.NewJWTVerifier(config.JWTSecret, config.JWTIssuer), log)
	d := dispatcher.NewDispatcher(log, gate, chat, reactions, registry, dispatcher.NewDecoder(config.MaxContentLength))

	// 5. Transport
	handler := websocket.NewHandler(log, d, websocket.Config{
		MaxMessageSize:    config.MaxMessageSize,
		SendBufferSize:    config.SendBufferSize,
		RateLimitBurst:    config.RateLimitBurst,
		RateLimitInterval: config.RateLimitInterval,
		AllowedOrigins:    config.Origins(),
	})
	server := websocket.NewServer(config.Address(), handler)

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 7. Supervision, blocks until every worker is done
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		workers.NewServerWorker(log, server, config.ShutdownTimeout, handler.Shutdown),
		workers.NewHeartbeatWorker(log, config.HeartbeatInterval, workers.Gauges{
			Sessions:       registry.Len,
			Channels:       registry.ChannelCount,
			CachedChannels: history.Len,
		}),
	).Run(ctx)

	log.Info("Program stopped cleanly")
	return nil
}

// newModerator returns nil when moderation is disabled.
// CENSORED_DIR replaces the embedded word lists.
func newModerator(config Config, log *slog.Logger) (*moderation.Moderator, error) {
	if !config.EnableModeration {
		log.Info("Moderation disabled")
		return nil, nil
	}
	char, err := config.CharacterRune()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	loader, dir := moderation.NewCensoredLoader(nil), moderation.DefaultDir
	if config.CensoredDir != "" {
		loader, dir = moderation.NewCensoredLoader(os.DirFS(config.CensoredDir)), "."
	}
	data, err := loader.LoadAll(dir)
	if err != nil {
		return nil, fmt.Errorf("censored words loading failed: %w", err)
	}
	log.Info("Censored words loaded", "count", len(data.Words), "languages", data.Languages)

	return moderation.NewModerator(data.Words, char, log)
}
