package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ethanchen143/LoopBop-sub001/internal/config"
	"github.com/ethanchen143/LoopBop-sub001/internal/content"
	"github.com/ethanchen143/LoopBop-sub001/internal/httpapi"
	"github.com/ethanchen143/LoopBop-sub001/internal/hub"
	"github.com/ethanchen143/LoopBop-sub001/internal/logging"
	"github.com/ethanchen143/LoopBop-sub001/internal/quiz"
	"github.com/ethanchen143/LoopBop-sub001/internal/room"
	"github.com/ethanchen143/LoopBop-sub001/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openContent(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	var st store.Store = store.NewMemory()
	if cfg.DatabaseURL != "" {
		g, err := store.OpenGorm(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, g.Close()) }()
		st = g
	}

	gen := quiz.NewGenerator(repo, cfg.TagCategory, nil)
	h := hub.NewHub(ctx, gen, st, hub.Options{
		Room: room.Options{
			RoundTimeout:   cfg.RoundTimeout,
			RevealDuration: cfg.RevealDuration,
			RetryDelay:     cfg.RoundRetryDelay,
			ContentTimeout: cfg.ContentTimeout,
		},
		OpTimeout: cfg.OpTimeout,
		Logger:    logger,
	})
	defer h.Close()

	if _, err := h.Restore(ctx); err != nil {
		return err
	}
	sched, err := h.StartSweeper(cfg.SweepInterval)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sched.Shutdown()) }()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, gen, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openContent picks Postgres when DATABASE_URL is set, importing the seed
// file if one is given, and the in-memory repository otherwise.
func openContent(ctx context.Context, cfg config.Config, logger *zap.Logger) (content.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		mem, err := content.LoadSeedFile(cfg.ContentSeedFile, nil)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using in-memory content", zap.String("seed", cfg.ContentSeedFile))
		return mem, func() {}, nil
	}

	pg, err := content.NewPostgres(ctx, cfg.DatabaseURL, cfg.TagCategory)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	if cfg.ContentSeedFile != "" {
		seed, err := content.ReadSeed(cfg.ContentSeedFile)
		if err == nil {
			err = pg.Import(ctx, seed)
		}
		if err != nil {
			pg.Close()
			return nil, nil, err
		}
		logger.Info("content seed imported", zap.Int("songs", len(seed.Songs)), zap.Int("tags", len(seed.Tags)))
	}
	return pg, pg.Close, nil
}
