package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/docflow/docflow-backend/internal/wizard/converter"
	"github.com/docflow/docflow-backend/internal/wizard/events"
	"github.com/docflow/docflow-backend/internal/wizard/generator"
	"github.com/docflow/docflow-backend/internal/wizard/handler"
	"github.com/docflow/docflow-backend/internal/wizard/history"
	"github.com/docflow/docflow-backend/internal/wizard/kvstore"
	"github.com/docflow/docflow-backend/internal/wizard/orchestrator"
	"github.com/docflow/docflow-backend/internal/wizard/repository"
	"github.com/docflow/docflow-backend/internal/wizard/service"
	"github.com/docflow/docflow-backend/pkg/config"
	"github.com/docflow/docflow-backend/pkg/database"
	"github.com/docflow/docflow-backend/pkg/httputil"
	"github.com/docflow/docflow-backend/pkg/i18n"
	"github.com/docflow/docflow-backend/pkg/logger"
	"github.com/docflow/docflow-backend/pkg/messaging"
	"github.com/docflow/docflow-backend/pkg/session"
)

const serviceName = "wizard-service"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Wizard Service")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Connect to the key-value store
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	sqlStore := kvstore.NewSQLStore(db)
	if err := sqlStore.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate key-value store")
	}
	store := kvstore.NewDebounced(sqlStore, cfg.Orchestrator.PersistDebounce, log)

	// History changes reach open event streams of this instance through the
	// hub and other instances through RabbitMQ
	hub := events.NewHub()
	origin := serviceName + "-" + uuid.New().String()

	var rmq *messaging.RabbitMQ
	var publisher messaging.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			if config.IsProductionLike() {
				log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
			}
			log.Warn().Err(err).Msg("RabbitMQ unavailable, history broadcast disabled")
			rmq = nil
		} else {
			defer rmq.Close()
			pub, err := messaging.NewPublisher(rmq, messaging.ExchangeWizardEvents, origin, log)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to create event publisher")
			}
			publisher = pub
		}
	}
	broadcaster := events.NewBroadcaster(hub, publisher, origin, log)

	// Initialize the conversion and generation backends
	chain := converter.NewChain(log,
		converter.NewHTTPConverter("primary", cfg.Services.ConversionURL, cfg.Orchestrator.ConversionTimeout, log),
		converter.NewHTTPConverter("fallback", cfg.Services.ConversionFallbackURL, cfg.Orchestrator.ConversionTimeout, log),
	)
	if cfg.Orchestrator.LocalConverter {
		chain.Register(converter.NewLocalConverter())
	}
	chain.SetCallTimeout(cfg.Orchestrator.ConversionTimeout)
	gen := generator.NewClient(
		cfg.Services.ValidationGenerationURL,
		cfg.Services.BusinessGenerationURL,
		cfg.Orchestrator.GenerationTimeout,
		log,
	)

	// Initialize services
	repo := repository.New(store, log)
	tokens := session.NewTokenManager(&cfg.JWT)
	manager := service.NewManager(service.Deps{
		Repo:      repo,
		Store:     store,
		History:   history.NewService(repo, broadcaster, log),
		Resets:    broadcaster,
		Converter: chain,
		Generator: gen,
		Tokens:    tokens,
	}, service.Options{
		Conversion: orchestrator.ConversionOptions{
			Delay:   cfg.Orchestrator.InterItemDelay,
			Timeout: cfg.Orchestrator.ConversionTimeout,
		},
		GenerationTimeout: cfg.Orchestrator.GenerationTimeout,
		IdleTTL:           cfg.Orchestrator.SessionIdleTTL,
	}, log)

	// A reset on another instance makes the in-memory copy stale
	broadcaster.OnRemoteReset(manager.Invalidate)

	if rmq != nil {
		startConsumer := func() {
			if err := subscribe(ctx, rmq, broadcaster, log); err != nil {
				log.Error().Err(err).Msg("failed to start wizard event consumer")
			}
		}
		startConsumer()
		// the broadcast queue is exclusive and dies with the connection
		rmq.OnReconnect(startConsumer)
		go rmq.Watch(ctx)
	}

	// Initialize handlers
	wizardHandler := handler.NewHandler(manager, hub, log)

	// Create router
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RealIP)
	r.Use(i18n.Middleware)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
			"sessions": manager.Len(),
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		} else {
			status["rabbitmq"] = map[string]string{"status": "disabled"}
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	r.Route("/api/v1/wizard", func(r chi.Router) {
		wizardHandler.Routes(r, tokens)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Event streams only end when their context does
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := manager.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to close sessions")
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to flush key-value store")
	}

	log.Info().Msg("server stopped")
}

// subscribe binds a fresh broadcast queue to the wizard exchange and starts
// relaying its events
func subscribe(ctx context.Context, rmq *messaging.RabbitMQ, broadcaster *events.Broadcaster, log *logger.Logger) error {
	consumer, err := messaging.NewBroadcastConsumer(rmq, log)
	if err != nil {
		return err
	}
	if err := consumer.Subscribe(messaging.ExchangeWizardEvents, "wizard.#"); err != nil {
		return err
	}
	broadcaster.Register(consumer)
	log.Info().Str("queue", consumer.Queue()).Msg("subscribed to wizard events")
	return consumer.Start(ctx)
}
