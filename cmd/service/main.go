// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"golang.org/x/sync/errgroup"

	"github.com/joeltafilaj/web-app/internal/api"
	"github.com/joeltafilaj/web-app/internal/auth"
	"github.com/joeltafilaj/web-app/internal/config"
	"github.com/joeltafilaj/web-app/internal/events"
	"github.com/joeltafilaj/web-app/internal/github"
	"github.com/joeltafilaj/web-app/internal/queue"
	"github.com/joeltafilaj/web-app/internal/sse"
	"github.com/joeltafilaj/web-app/internal/store"
	"github.com/joeltafilaj/web-app/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	db, err := store.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	users := store.NewUsers(db)
	repos := store.NewRepositories(db)
	commits := store.NewCommits(db)

	ghClient := github.NewClient(cfg.GithubClientID, cfg.GithubClientSecret, logger)
	bus := events.NewBus(logger)
	jobs := queue.New(db.Pool, queue.Options{
		Lease:        cfg.QueueLease,
		PollInterval: cfg.QueuePollInterval,
	}, logger)
	syncWorker := worker.New(users, repos, commits, ghClient, bus, logger)

	verifier := auth.NewVerifier([]byte(cfg.JWTSecret), users)
	gateway := sse.NewGateway(bus, verifier, logger, sse.DefaultKeepAliveInterval)
	router := api.NewRouter(users, repos, ghClient, jobs, verifier, gateway, logger)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	// 6. Run the HTTP server and the worker pool until shutdown
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return jobs.Consume(gctx, syncWorker.Consumer(cfg.WorkerConcurrency))
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
