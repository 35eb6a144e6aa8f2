package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/teamgrid-app/teamgrid/internal/api"
	"github.com/teamgrid-app/teamgrid/internal/api/middleware"
	"github.com/teamgrid-app/teamgrid/internal/blob"
	"github.com/teamgrid-app/teamgrid/internal/chat"
	"github.com/teamgrid-app/teamgrid/internal/config"
	"github.com/teamgrid-app/teamgrid/internal/handlers"
	"github.com/teamgrid-app/teamgrid/internal/realtime"
	"github.com/teamgrid-app/teamgrid/internal/store"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Durable store: Postgres when configured, SQLite otherwise.
	var db store.ChatStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to postgres")
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		db = pg
		logger.Info().Msg("using postgres store")
	} else {
		path := cfg.SQLitePath
		if path == "" {
			path = "./data/teamgrid.db"
		}
		sq, err := store.NewSQLiteStore(ctx, path)
		if err != nil {
			logger.Fatal().Err(err).Msg("open sqlite store")
		}
		db = sq
		logger.Info().Str("path", path).Msg("using sqlite store")
	}
	defer db.Close()

	// Redis backs rate limiting and the unread-hint cache; both degrade
	// gracefully without it.
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		rs, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to redis")
		}
		redisStore = rs
		defer redisStore.Close()
		logger.Info().Msg("redis connected")
	} else {
		logger.Warn().Msg("redis not configured, rate limiting and unread hints disabled")
	}

	var blobs blob.Store
	switch cfg.BlobBackend {
	case "s3":
		s3, err := blob.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region)
		if err != nil {
			logger.Fatal().Err(err).Msg("init s3 blob store")
		}
		blobs = s3
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("using s3 blob store")
	default:
		fs, err := blob.NewFSStore(cfg.BlobDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("init filesystem blob store")
		}
		blobs = fs
		logger.Info().Str("dir", cfg.BlobDir).Msg("using filesystem blob store")
	}

	hub := realtime.NewHub(logger)
	svc := chat.NewService(db, redisStore, blobs, hub, logger, cfg.MaxAttachmentBytes)
	h := handlers.NewHandler(svc, hub, blobs, db, redisStore, logger)

	auth := middleware.NewAuthMiddleware(cfg.JWTSecret)
	var redisClient *redis.Client
	if redisStore != nil {
		redisClient = redisStore.Client()
	}
	rl := middleware.NewRateLimiter(redisClient, logger, cfg.RateLimitWhitelist)

	router := api.NewRouter(h, auth, rl, logger, cfg.MaxAttachmentBytes)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // long-lived websocket and range responses
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}
