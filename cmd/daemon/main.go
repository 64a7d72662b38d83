// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

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

	"github.com/getsentry/sentry-go"

	"github.com/c12i/bunge-bits-go/internal/audiotool"
	"github.com/c12i/bunge-bits-go/internal/config"
	"github.com/c12i/bunge-bits-go/internal/downloader"
	"github.com/c12i/bunge-bits-go/internal/health"
	bblog "github.com/c12i/bunge-bits-go/internal/log"
	"github.com/c12i/bunge-bits-go/internal/pipeline"
	"github.com/c12i/bunge-bits-go/internal/platform/httpx"
	"github.com/c12i/bunge-bits-go/internal/scheduler"
	"github.com/c12i/bunge-bits-go/internal/scraper"
	"github.com/c12i/bunge-bits-go/internal/store"
	"github.com/c12i/bunge-bits-go/internal/summarize"
	"github.com/c12i/bunge-bits-go/internal/telemetry"
	"github.com/c12i/bunge-bits-go/internal/transcribe"
	"github.com/c12i/bunge-bits-go/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	bblog.Configure(bblog.Config{Level: "info", Service: "bunge-bits", Version: version.Version})
	logger := bblog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Str("event", "config.load_failed").Msg("failed to load configuration")
	}

	bblog.Configure(bblog.Config{Level: cfg.LogLevel, Service: "bunge-bits", Version: version.Version})
	logger = bblog.WithComponent("daemon")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Str("event", "startup.check_failed").Msg("startup checks failed")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Release: version.Version}); err != nil {
			logger.Error().Err(err).Str("event", "sentry.init_failed").Msg("sentry initialization failed, continuing without error reporting")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{Enabled: false, ServiceName: "bunge-bits", ServiceVersion: version.Version})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown error")
		}
	}()

	if err := pipeline.SweepOrphans(cfg.ScratchRoot); err != nil {
		logger.Warn().Err(err).Str("event", "startup.sweep_failed").Msg("failed to sweep orphaned scratch directories")
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultConfig())
	if err != nil {
		logger.Fatal().Err(err).Str("event", "store.open_failed").Msg("failed to connect to datastore")
	}
	defer func() { _ = db.Close() }()

	var dlOpts []downloader.Option
	if cfg.CookiesPath != "" {
		dlOpts = append(dlOpts, downloader.WithCookiesFile(cfg.CookiesPath))
	}
	dl, err := downloader.NewExternal("yt-dlp", dlOpts...)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "downloader.init_failed").Msg("failed to locate yt-dlp")
	}

	scr := scraper.New("https://www.youtube.com", httpx.NewClient(15*time.Second))
	tr := transcribe.New(transcribe.Config{APIKey: cfg.TranscriptionAPIKey})
	summ := summarize.New(summarize.Config{
		APIKey:           cfg.LLMAPIKey,
		TokenWindow:      cfg.ChunkTokenWindow,
		ChunkConcurrency: cfg.ChunkConcurrency,
		Location:         cfg.Location(),
	})

	orch := pipeline.New(pipeline.Deps{
		Scraper:     scr,
		Store:       db,
		Downloader:  dl,
		Segment:     audiotool.Segment,
		Transcriber: tr,
		Summarizer:  summ,
	}, pipeline.Config{
		ChannelIDs:       cfg.ChannelIDs,
		MaxStreamsPerRun: cfg.MaxStreamsPerRun,
		ScratchRoot:      cfg.ScratchRoot,
		Location:         cfg.Location(),
	})

	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewFileChecker("scratch_root", cfg.ScratchRoot))
	hm.RegisterChecker(health.NewLastRunChecker(orch.LastRun))
	hm.RegisterChecker(health.NewDatastoreChecker(db.Ping))

	runOnce := func(ctx context.Context) error {
		_, err := orch.Run(ctx)
		return err
	}
	sched, err := scheduler.New(cfg.CronSchedule, cfg.Location(), runOnce)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "scheduler.init_failed").Msg("failed to create scheduler")
	}
	sched.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", hm.ServeHealth)
	mux.HandleFunc("/readyz", hm.ServeReady)
	mux.Handle("/", sched.Router())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("event", "startup").Str("addr", cfg.ListenAddr).Str("version", version.Version).Msg("starting bunge-bits daemon")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Str("event", "server.failed").Msg("status server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("scheduler stop did not complete cleanly")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("status server shutdown did not complete cleanly")
	}

	logger.Info().Msg("server exiting")
}
