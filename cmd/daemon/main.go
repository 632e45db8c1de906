// SPDX-License-Identifier: MIT

// The daemon runs the full processing stack: job queues, the realtime pool,
// the inbox watcher, the auto-retrain tick and the ops HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/neurolab/neurolab/internal/bus"
	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/ingest"
	"github.com/neurolab/neurolab/internal/jobs"
	nllog "github.com/neurolab/neurolab/internal/log"
	"github.com/neurolab/neurolab/internal/realtime"
	"github.com/neurolab/neurolab/internal/retrain"
	"github.com/neurolab/neurolab/internal/storage"
	"github.com/neurolab/neurolab/internal/store"
	"github.com/neurolab/neurolab/internal/telemetry"
	"github.com/neurolab/neurolab/internal/train"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("neurolab %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	nllog.Configure(nllog.Config{Level: cfg.LogLevel, Service: "neurolab"})
	logger := nllog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Msg("starting neurolab")

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
	}
	logger.Info().Msg("daemon exiting")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := nllog.WithComponent("daemon")

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "neurolab",
		ServiceVersion: version,
		Environment:    os.Getenv("NEUROLAB_ENV"),
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	st, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer func() { _ = st.Close() }()

	objects, err := storage.NewFSStore(cfg.Storage.Root, cfg.Storage.Bucket, cfg.Storage.SignKey)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The realtime path needs redis; batch processing does not. Start
		// anyway and let readiness report the gap.
		logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup")
	}

	events := bus.NewMemoryBus()
	trainer := train.NewTrainer(st, objects, cfg.Training, nllog.WithComponent("train"))
	orch := jobs.New(cfg, st, objects, events, trainer, nllog.Base())

	processor := realtime.NewProcessor(cfg, rdb, events, st, trainer, nllog.WithComponent("realtime"))
	pool := realtime.NewPool(processor, cfg.Realtime.Workers)

	scheduler := retrain.New(cfg, st, nllog.Base())
	watcher := ingest.New(cfg, st, objects, nllog.Base())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(st, rdb, objects, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
