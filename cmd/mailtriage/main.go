package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mixelka/mailtriage/internal/ai"
	"github.com/mixelka/mailtriage/internal/api"
	"github.com/mixelka/mailtriage/internal/blocklist"
	"github.com/mixelka/mailtriage/internal/config"
	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/drafts"
	"github.com/mixelka/mailtriage/internal/mailer"
	"github.com/mixelka/mailtriage/internal/processor"
	"github.com/mixelka/mailtriage/internal/rag"
	"github.com/mixelka/mailtriage/internal/retryq"
	"github.com/mixelka/mailtriage/internal/scheduler"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting mail triage service")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Create clients
	provider := mailer.NewClient(mailer.Config{
		BaseURL: cfg.GatewayURL,
		APIKey:  cfg.GatewayAPIKey,
		Timeout: cfg.GatewayTimeout,
	}, logger)

	model := ai.NewClient(ai.Config{
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
		Timeout: cfg.AITimeout,
	})

	retriever := rag.NewClient(rag.Config{
		BaseURL: cfg.RAGBaseURL,
		TopK:    cfg.RAGTopK,
		Timeout: cfg.RAGTimeout,
	})

	// Create services
	router := processor.NewRouter(model, retriever, logger)
	blockSvc := blocklist.New(db, logger)
	proc := processor.New(db, provider, router, blockSvc, logger, cfg.FetchLimit, cfg.InitFetchLimit)
	queue := retryq.New(db, provider, logger)
	draftSvc := drafts.New(db, provider, router, queue, logger)

	// First-run sweep; a gateway outage here must not keep the service down,
	// the flag stays unset and the next start retries it.
	if marked, err := proc.Initialize(ctx); err != nil {
		logger.Error("initialization failed, will retry on next start", "error", err)
	} else if marked > 0 {
		logger.Info("initialization sweep complete", "marked_seen", marked)
	}

	// Periodic triggers
	sched := scheduler.New(logger)
	sched.Add(scheduler.Job{
		Name:     "poll_mail",
		Interval: cfg.PollInterval,
		Run: func(ctx context.Context) error {
			_, err := proc.ProcessNewEmails(ctx)
			return err
		},
	})
	sched.Add(scheduler.Job{
		Name:     "retry_sweep",
		Interval: cfg.RetrySweepInterval,
		Run: func(ctx context.Context) error {
			_, err := queue.SweepDue(ctx)
			return err
		},
	})
	sched.Start()

	// HTTP server
	handler := api.NewHandler(db, proc, draftSvc, queue, blockSvc, provider, logger)
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	logger.Info("service stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
