// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"brewline/internal/api"
	"brewline/internal/chat"
	"brewline/internal/config"
	"brewline/internal/database"
	"brewline/internal/kv"
	"brewline/internal/moderation"
	"brewline/internal/poke"
	"brewline/internal/ratelimit"
	"brewline/internal/spam"
	"brewline/internal/ws"
	pkgdatabase "brewline/pkg/database"
)

// Application coordinates all system components. Initialization follows
// strict dependency order:
// Database → KV store → Limiter/Mutes/Classifier → Chat/Poke → API/WS → HTTP
type Application struct {
	config      *config.Config
	dbManager   *database.Manager
	redisClient *redis.Client
	limiter     *ratelimit.Limiter
	mutes       *moderation.Registry
	classifier  *spam.Classifier
	chatService *chat.Service
	pokeManager *poke.Manager
	sweeper     *poke.Sweeper
	registry    *ws.Registry
	apiServer   *api.Server
	httpServer  *http.Server
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: relational store. NewManager opens the database and applies
	// migrations.
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}
	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 2: KV store backing the limiter, classifier and mute registry.
	// Redis when configured, in-process otherwise.
	var store kv.Store
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		store = kv.NewRedisStore(redisClient)
		log.Printf("Using redis store at %s", cfg.Redis.Addr)
	} else {
		store = kv.NewMemoryStore()
		log.Println("Using in-process KV store")
	}

	// STEP 3: moderation primitives.
	limiter := ratelimit.NewLimiter(store, rateLimitConfig(cfg.RateLimit))
	mutes := moderation.NewRegistry(store, cfg.Spam.MuteDuration)
	classifier := spam.NewClassifier(store, mutes, &spam.Config{
		DuplicateTTL:      cfg.Spam.DuplicateTTL,
		CapsPercent:       cfg.Spam.CapsPercent,
		MaxURLs:           cfg.Spam.MaxURLs,
		RepeatedRunLength: cfg.Spam.RepeatedRunLength,
		Profanity:         cfg.Spam.Profanity,
	})

	// STEP 4: domain services.
	chatService := chat.NewService(dbManager, limiter, classifier)
	chatService.SetResponder(chat.NewBarista())

	pokeManager := poke.NewManager(dbManager, &poke.Config{
		Expiration:    cfg.Poke.Expiration,
		MaxPerWindow:  cfg.Poke.MaxPerWindow,
		Window:        cfg.Poke.Window,
		SweepInterval: cfg.Poke.SweepInterval,
	})
	sweeper := poke.NewSweeper(pokeManager)

	// STEP 5: delivery. The registry implements both the chat broadcaster
	// and the poke match notifier.
	registry := ws.NewRegistry()
	chatService.SetBroadcaster(registry)
	pokeManager.SetNotifier(registry)

	// STEP 6: HTTP surface.
	apiServer := api.NewServer(chatService, pokeManager, limiter, mutes, dbManager, registry)
	wsHandler := ws.NewHandler(registry, chatService, dbManager)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		dbManager:   dbManager,
		redisClient: redisClient,
		limiter:     limiter,
		mutes:       mutes,
		classifier:  classifier,
		chatService: chatService,
		pokeManager: pokeManager,
		sweeper:     sweeper,
		registry:    registry,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

func rateLimitConfig(cfg *config.RateLimitConfig) *ratelimit.Config {
	tiers := make(map[string]ratelimit.TierLimit, len(cfg.MessageTiers))
	for tier, limit := range cfg.MessageTiers {
		tiers[tier] = ratelimit.TierLimit{
			Count:    limit.Count,
			Window:   limit.Window,
			Cooldown: limit.Cooldown,
		}
	}
	return &ratelimit.Config{
		Disabled:            cfg.Disabled,
		MessageTiers:        tiers,
		AgentGlobalCooldown: cfg.AgentGlobalCooldown,
		AgentSessionLimit:   cfg.AgentSessionLimit,
		AgentSessionTTL:     cfg.AgentSessionTTL,
		PokeLimit:           cfg.PokeLimit,
		PokeWindow:          cfg.PokeWindow,
	}
}

// Start begins serving. The sweeper starts first so stale pokes expire even
// under load, then the HTTP server accepts connections.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting brewline on %s", app.httpServer.Addr)

	app.sweeper.Start(ctx)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.sweeper.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Println("brewline started")
		return nil
	case <-ctx.Done():
		app.sweeper.Stop()
		return ctx.Err()
	}
}

// Stop shuts the application down in reverse dependency order:
// HTTP → sweeper → stores.
func (app *Application) Stop(ctx context.Context) error {
	log.Println("Shutting down brewline")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.sweeper.Stop()

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			log.Printf("Redis shutdown error: %v", err)
		}
	}
	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Println("brewline shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
