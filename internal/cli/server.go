package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkpoint-service/internal/app"
	"checkpoint-service/internal/config"
	"checkpoint-service/internal/domain"
	"checkpoint-service/internal/infra/memory"
	"checkpoint-service/internal/infra/postgres"
	"checkpoint-service/internal/infra/rabbit"
	rediscache "checkpoint-service/internal/infra/redis"
	"checkpoint-service/internal/logger"
	"checkpoint-service/internal/metrics"
	transport "checkpoint-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the checkpoint server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, Debug: cfg.Log.Debug})
	defer func() { _ = log.Sync() }()
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	checks := map[string]transport.ReadinessCheck{}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var (
		store          app.Store               = memory.NewSessionStore()
		loader         app.Catalog             = memory.NewStaticCatalog(sampleDefinitions(), sampleContents())
		accommodations app.AccommodationLookup = memory.NewStaticAccommodations()
	)
	if cfg.Postgres.URL != "" {
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := runMigrations(ctx, db, log); err != nil {
			return err
		}
		store = postgres.NewStore(db)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		catalogLoader := postgres.NewCatalogLoader(pool)
		loader = catalogLoader
		accommodations = catalogLoader
		checks["postgres"] = pool.Ping
	} else {
		log.Warn("postgres not configured, using in-memory store and sample catalog")
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	var catalog app.Catalog
	var feed app.EventFeed
	if redisClient != nil {
		catalog = rediscache.NewCatalogCache(redisClient, loader, catalogTTL)
		feed = rediscache.NewEventFeed(redisClient, log)
	} else {
		catalog = memory.NewCatalogCache(loader, catalogTTL)
		feed = memory.NewEventHub()
	}

	opts := []app.Option{
		app.WithLogger(log),
		app.WithEventFeed(feed),
		app.WithEventPolicy(domain.DefaultEventPolicy().WithSuspicious(cfg.Integrity.SuspiciousEvents)),
	}
	if cfg.Rabbit.URL != "" {
		publisher, err := rabbit.Dial(cfg.Rabbit.URL, cfg.Rabbit.Exchange)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, app.WithNotifier(publisher))
	}

	sessions := app.NewSessionService(store, catalog, accommodations, opts...)
	execution := app.NewExecutionService(store, catalog, opts...)

	server := &http.Server{
		Addr: ":" + finalPort,
		Handler: transport.NewRouter(transport.Deps{
			Sessions:  sessions,
			Execution: execution,
			Logger:    log,
			Checks:    checks,
			Gatherer:  prometheus.DefaultGatherer,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting checkpoint service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleDefinitions seeds the in-memory catalog when no database is configured.
func sampleDefinitions() []domain.CheckpointDefinition {
	limit := 30
	return []domain.CheckpointDefinition{{
		Checkpoint: domain.Checkpoint{
			ID:               "checkpoint-1",
			CommunityID:      "community-1",
			Title:            "Arithmetic warm-up",
			Status:           domain.CheckpointActive,
			TimeLimitMinutes: &limit,
			AllowPause:       true,
			ShuffleOptions:   true,
		},
		Questions: []domain.CheckpointQuestion{
			{QuestionID: "q1", DisplayOrder: 1, IsRequired: true},
			{QuestionID: "q2", DisplayOrder: 2},
		},
	}}
}

func sampleContents() []domain.QuestionContent {
	return []domain.QuestionContent{
		{ID: "q1", QuestionType: domain.QuestionMultipleChoice, Prompt: "What is 2 + 2?", Points: 1, Options: []domain.QuestionOption{
			{ID: "o1", Text: "3", DisplayOrder: 1},
			{ID: "o2", Text: "4", DisplayOrder: 2, IsCorrect: true},
			{ID: "o3", Text: "5", DisplayOrder: 3},
		}},
		{ID: "q2", QuestionType: domain.QuestionShortAnswer, Prompt: "Explain how you checked your answer."},
	}
}
