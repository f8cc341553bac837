package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/reshaper/internal/api"
	"github.com/MikeSquared-Agency/reshaper/internal/assistant"
	"github.com/MikeSquared-Agency/reshaper/internal/config"
	"github.com/MikeSquared-Agency/reshaper/internal/formats"
	"github.com/MikeSquared-Agency/reshaper/internal/hermes"
	"github.com/MikeSquared-Agency/reshaper/internal/llm"
	"github.com/MikeSquared-Agency/reshaper/internal/rowexec"
	"github.com/MikeSquared-Agency/reshaper/internal/session"
	"github.com/MikeSquared-Agency/reshaper/internal/store"
	"github.com/MikeSquared-Agency/reshaper/internal/verify"
)

const sweepInterval = time.Minute

func newServeCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if port > 0 {
				cfg.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides RESHAPER_PORT)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	setupLogging(cfg.LogLevel)
	logger := slog.Default()
	logger.Info("reshaper starting", "port", cfg.Port, "provider", cfg.LLMProvider, "model", cfg.Model)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	completer, err := newCompleter(cfg, logger)
	if err != nil {
		return err
	}

	// Saved formats (optional; built-in and custom formats work without it)
	var catalog formats.Catalog
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		catalog = db
		logger.Info("database connected")
	} else {
		logger.Warn("DATABASE_URL not set, saved formats disabled")
	}

	provider, err := formats.NewProvider(catalog, logger)
	if err != nil {
		return err
	}

	// Lifecycle events (optional)
	var bus hermes.Bus
	if cfg.NatsURL != "" {
		hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return err
		}
		defer hc.Close()
		bus = hc
		logger.Info("NATS connected", "url", cfg.NatsURL)
	}

	asst := assistant.New(completer, logger)
	engine := rowexec.New(
		rowexec.WithTimeout(cfg.TransformTimeout),
		rowexec.WithMaxSteps(cfg.MaxExecutionSteps),
		rowexec.WithLogger(logger),
	)
	registry := session.NewRegistry(cfg.SessionTTL, logger)
	wf := session.NewWorkflow(
		registry,
		engine,
		asst,
		verify.NewLoop(asst, logger),
		provider,
		hermes.NewPublisher(bus, logger),
		session.Config{MaxRounds: cfg.MaxVerificationRounds},
		logger,
	)
	srv := api.NewServer(cfg.Port, cfg.APIToken, wf, provider, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return registry.Run(gctx, sweepInterval) })

	err = g.Wait()
	logger.Info("reshaper stopped")
	return err
}

func newCompleter(cfg config.Config, logger *slog.Logger) (llm.Completer, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY is required")
		}
		return llm.NewOpenRouterClient(llm.OpenRouterConfig{
			APIKey:     cfg.OpenRouterAPIKey,
			BaseURL:    cfg.OpenRouterURL,
			Model:      cfg.Model,
			Referer:    cfg.AppReferer,
			Title:      "Reshaper",
			MaxRetries: 2,
		}, logger), nil
	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required")
		}
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:     cfg.AnthropicAPIKey,
			Model:      cfg.Model,
			MaxRetries: 2,
		}, logger), nil
	}
	return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
}
