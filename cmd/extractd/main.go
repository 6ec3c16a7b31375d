package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	httpAdapter "github.com/cwygoda/extractd/internal/adapter/http"
	"github.com/cwygoda/extractd/internal/adapter/llm"
	"github.com/cwygoda/extractd/internal/adapter/memqueue"
	"github.com/cwygoda/extractd/internal/adapter/postgres"
	"github.com/cwygoda/extractd/internal/adapter/redisqueue"
	"github.com/cwygoda/extractd/internal/adapter/sqlite"
	"github.com/cwygoda/extractd/internal/config"
	"github.com/cwygoda/extractd/internal/domain"
	"github.com/cwygoda/extractd/internal/extract"
	"github.com/cwygoda/extractd/internal/logging"
	"github.com/cwygoda/extractd/internal/worker"
)

// store is a job repository that owns a connection.
type store interface {
	domain.JobRepository
	io.Closer
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "extractd: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "extractd: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting extractd",
		"port", cfg.Port,
		"db_driver", cfg.DBDriver,
		"queue", cfg.Queue,
		"backend", cfg.Backend,
	)

	repo, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer repo.Close()

	queue, err := openQueue(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize queue: %w", err)
	}
	defer queue.Close()

	svc := domain.NewJobService(repo, queue,
		domain.WithLogger(logger),
		domain.WithPollWindow(cfg.Poll.Attempts, cfg.Poll.Delay),
	)

	// Queue contents do not survive a restart; pending jobs are requeued.
	if recovered, err := svc.RecoverPending(ctx); err != nil {
		logger.Warn("failed to recover pending jobs", "error", err)
	} else if recovered > 0 {
		logger.Info("recovered pending jobs", "count", recovered)
	}

	extractor, err := buildExtractor(cfg, logger)
	if err != nil {
		return err
	}

	w := worker.New(svc, queue, extractor, worker.Config{
		MaxRetries:  cfg.Worker.MaxRetries,
		TaskTimeout: cfg.Worker.TaskTimeout,
		DequeueWait: cfg.Worker.DequeueWait,
		StopGrace:   cfg.Worker.StopGrace,
	}, logger)
	w.Start(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := httpAdapter.NewServer(svc, addr, cfg.Secret,
		httpAdapter.WithLogger(logger),
		httpAdapter.WithPersistence(cfg.DBDriver),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serveErr:
		logger.Error("HTTP server error", "error", err)
	}

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// The worker must stop before the store closes.
	if err := w.Stop(shutdownCtx); err != nil {
		logger.Error("worker stop error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, error) {
	switch cfg.DBDriver {
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			DSN:         cfg.PostgresDSN,
			DialTimeout: 10 * time.Second,
		}, logger)
	default:
		logger.Info("using sqlite database", "path", cfg.DBPath)
		return sqlite.New(cfg.DBPath)
	}
}

func openQueue(ctx context.Context, cfg *config.Config) (domain.Queue, error) {
	switch cfg.Queue {
	case "redis":
		return redisqueue.New(ctx, cfg.RedisAddr, cfg.RedisKey)
	default:
		return memqueue.New(), nil
	}
}

// buildExtractor wires the backend selector. A misconfigured external
// backend is logged and left out; extraction then runs heuristic-only.
func buildExtractor(cfg *config.Config, logger *slog.Logger) (domain.Extractor, error) {
	mode, err := extract.ParseMode(cfg.Backend)
	if err != nil {
		return nil, err
	}

	var external domain.Extractor
	if mode == extract.ModeExternal {
		client, err := llm.New(llmConfig(cfg.LLM), logger)
		if err != nil {
			logger.Warn("external backend unavailable, using heuristic only", "error", err)
		} else {
			external = client
		}
	}
	return extract.NewSelector(mode, external, logger), nil
}

func llmConfig(c config.LLMConfig) llm.Config {
	p := c.Ollama
	if strings.EqualFold(c.Provider, llm.ProviderOpenAI) {
		p = c.OpenAI
	}
	return llm.Config{
		Provider:    c.Provider,
		BaseURL:     p.BaseURL,
		APIKey:      p.APIKey,
		Model:       p.Model,
		Temperature: p.Temperature,
		Timeout:     c.Timeout,
	}
}
