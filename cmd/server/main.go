package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Clark-Hu/upskillpro-ratings/internal/config"
	"github.com/Clark-Hu/upskillpro-ratings/internal/enrollment"
	"github.com/Clark-Hu/upskillpro-ratings/internal/events"
	httpserver "github.com/Clark-Hu/upskillpro-ratings/internal/http"
	"github.com/Clark-Hu/upskillpro-ratings/internal/logging"
	"github.com/Clark-Hu/upskillpro-ratings/internal/rating"
	"github.com/Clark-Hu/upskillpro-ratings/internal/repository"
	"github.com/Clark-Hu/upskillpro-ratings/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var (
		ratings rating.Store
		dir     rating.Directory
		oracle  enrollment.Oracle
		health  httpserver.HealthChecker
	)

	if cfg.DBURL != "" {
		dbCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		st, err := store.New(dbCtx, cfg.DBURL, store.OptionsFromConfig(cfg, logger))
		if err != nil {
			return err
		}
		defer st.Close()

		if cfg.DBAutoMigrate {
			if err := st.Migrate(dbCtx); err != nil {
				return err
			}
		}

		repo := repository.New(st)
		ratings, dir, health = repo.Ratings, repo, st
		oracle = enrollment.NewPostgresOracle(st.Pool())
	} else {
		logger.Warn("DB_URL not set, using in-memory rating store")
		memDir := repository.NewMemoryDirectory()
		ratings, dir, oracle = repository.NewMemoryRatings(memDir), memDir, memDir
	}

	if cfg.EnrollmentURL != "" {
		client, err := enrollment.NewHTTPClient(cfg.EnrollmentURL, cfg.EnrollmentAPIKey,
			time.Duration(cfg.EnrollmentTimeoutSecs)*time.Second, logger)
		if err != nil {
			return err
		}
		oracle = client
	}
	var cached *enrollment.Cached
	if cfg.RedisURL != "" {
		var err error
		cached, err = enrollment.NewCached(oracle, cfg.RedisURL, time.Duration(cfg.EnrollmentCacheTTL)*time.Second, logger)
		if err != nil {
			return err
		}
		defer func() { _ = cached.Close() }()
		oracle = cached
	}

	publisher, err := events.Connect(cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	svc := rating.NewService(ratings, oracle, dir, rating.Options{
		WriteAttempts:            cfg.RatingWriteAttempts,
		HideDeactivatedReviewers: cfg.HideDeactivatedReviews,
		BlockSelfRating:          cfg.BlockSelfRating,
		Logger:                   logger,
		Events:                   publisher,
	})

	sub, err := events.SubscribeCourseDeleted(publisher.Conn(), svc, time.Duration(cfg.RequestTimeoutSecs)*time.Second, logger)
	if err != nil {
		return err
	}
	if sub != nil {
		defer func() { _ = sub.Unsubscribe() }()
	}
	if cached != nil {
		evictions, err := events.SubscribeEnrollmentEnded(publisher.Conn(), cached, time.Duration(cfg.RequestTimeoutSecs)*time.Second, logger)
		if err != nil {
			return err
		}
		if evictions != nil {
			defer func() { _ = evictions.Unsubscribe() }()
		}
	}

	server := httpserver.New(cfg, svc, health, logger)
	logger.Info("ratings api listening", zap.String("port", cfg.Port), zap.String("env", cfg.AppEnv))

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("graceful shutdown error", zap.Error(err))
	}
	return nil
}
