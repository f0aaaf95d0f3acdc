// Package main contains the entrypoint for the relay application.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/korahq/relay/internal/config"
	"github.com/korahq/relay/internal/database"
	"github.com/korahq/relay/internal/gemini"
	"github.com/korahq/relay/internal/logger"
	"github.com/korahq/relay/internal/messenger"
	"github.com/korahq/relay/internal/registry"
	"github.com/korahq/relay/internal/relay"
	"github.com/korahq/relay/internal/scheduler"
	"github.com/korahq/relay/internal/server"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger,
// db, registry, ai client, http server, scheduler), handles graceful
// shutdown, and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)

	store := registry.NewStore(db, log)
	if err := store.Ping(ctx); err != nil {
		log.Error("Database ping failed", "error", err)
		return 1
	}

	reg := registry.New(store, cfg.Relay.SentinelAccessToken, log)
	if err := reg.Load(ctx, cfg.Relay.DefaultVerifyToken); err != nil {
		log.Error("Failed to initialize registry", "error", err)
		return 1
	}

	aiClient, err := gemini.NewClient(cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	sendClient := messenger.NewClient(
		cfg.Messenger.GraphBaseURL,
		cfg.Messenger.APIVersion,
		&http.Client{Timeout: cfg.Messenger.SendTimeout},
		log,
	)

	pipeline := relay.NewPipeline(aiClient, sendClient, relay.PipelineConfig{
		PersonaInstruction: cfg.Relay.PersonaInstruction,
		FallbackReply:      cfg.Relay.FallbackReply,
		AITimeout:          cfg.Gemini.Timeout,
		SendTimeout:        cfg.Messenger.SendTimeout,
	}, log)
	dispatcher := relay.NewDispatcher(reg, pipeline, log)
	verifier := relay.NewVerifier(reg, log)

	srv := server.New(cfg.Server, log, reg, verifier, dispatcher)

	sched, err := scheduler.New(log, &cfg.Scheduler, map[string]scheduler.TaskFunc{
		"registry_maintenance": store.RunMaintenance,
	})
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gCtx)
	})

	g.Go(func() error {
		if err := sched.Start(); err != nil {
			return err
		}
		<-gCtx.Done()
		return sched.Stop()
	})

	log.Info("Relay running. Waiting for shutdown signal or error...")
	runErr := g.Wait()

	// Final flush so the durable registry matches the last snapshot.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := reg.Flush(flushCtx); err != nil {
		log.Error("Failed to flush registry on shutdown", "error", err)
	}
	cancel()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Relay stopped due to error", "error", runErr)
		return 1
	}

	log.Info("Relay stopped gracefully.")
	return 0
}
