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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jobdeck/jobdeck/internal/assistant"
	"github.com/jobdeck/jobdeck/internal/assistant/providers"
	"github.com/jobdeck/jobdeck/internal/config"
	"github.com/jobdeck/jobdeck/internal/jobs"
	"github.com/jobdeck/jobdeck/internal/observability"
	"github.com/jobdeck/jobdeck/internal/push"
	"github.com/jobdeck/jobdeck/internal/store"
	"github.com/jobdeck/jobdeck/internal/tools"
	"github.com/jobdeck/jobdeck/internal/usage"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the jobdeck assistant daemon",
		Long: `Start the assistant daemon.

The server loads configuration, opens the SQLite store, registers the
job-search tools, wires the configured LLM providers into a failover chain,
and serves the message, approval, and websocket endpoints. Graceful shutdown
is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "jobdeckd",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer shutdownTracer(context.Background())

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	stores := sqlStore.Set()
	defer stores.Close()

	registry := assistant.NewRegistry(assistant.RegistryConfig{
		DefaultTimeout:    cfg.Tools.DefaultTimeout,
		Disabled:          cfg.Tools.Disabled,
		ForceConfirmation: cfg.Tools.ForceConfirmation,
		PageContexts:      cfg.Tools.PageContexts,
	})
	// TODO: back the tools with the Rails API client once its endpoints are
	// stable; the in-memory backend only serves local development.
	if err := registry.RegisterAll(tools.All(tools.NewMemoryBackend())); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	chain, err := buildProviderChain(cfg, stores, logger, metrics)
	if err != nil {
		return err
	}

	queue, err := jobs.NewQueue(sqlStore.DB(), logger, metrics, jobs.QueueConfig{
		MaxAttempts: cfg.Jobs.MaxAttempts,
	})
	if err != nil {
		return err
	}

	hub := push.NewHub(logger, func(ctx context.Context, threadID string) (string, error) {
		thread, err := stores.Threads.Get(ctx, threadID)
		if err != nil {
			return "", err
		}
		return thread.UserID, nil
	})

	orch := assistant.New(stores, store.NewThreadLocker(), registry, chain,
		logger, metrics, tracer, queue, hub,
		assistant.Config{
			SystemPrompt:          cfg.Assistant.SystemPrompt,
			MaxFollowupIterations: cfg.Assistant.MaxFollowupIterations,
			ContextWindowMessages: cfg.Assistant.ContextWindowMessages,
		})

	svc := jobs.NewService(queue, orch, logger, metrics, jobs.ServiceConfig{
		Workers:         cfg.Jobs.Workers,
		Retention:       time.Duration(cfg.Jobs.RetentionDays) * 24 * time.Hour,
		ApprovalTTL:     time.Duration(cfg.Jobs.ApprovalTTLHours) * time.Hour,
		JanitorSchedule: cfg.Jobs.JanitorSchedule,
	})
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start job service: %w", err)
	}
	defer svc.Stop()

	api := newAPIServer(orch, stores, hub, logger)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler: api.routes(),
	}
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(ctx, "http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info(ctx, "metrics server listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info(ctx, "shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error(ctx, "server failed", "error", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)
	return nil
}

// buildProviderChain constructs the configured adapters in failover order.
func buildProviderChain(cfg *config.Config, stores store.Set, logger *observability.Logger, metrics *observability.Metrics) (*assistant.ProviderChain, error) {
	var ordered []providers.Provider
	for _, name := range cfg.ProviderChain() {
		pc, ok := cfg.LLM.Providers[name]
		if !ok {
			continue
		}
		switch name {
		case "anthropic":
			p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:    pc.APIKey,
				BaseURL:   pc.BaseURL,
				Model:     pc.DefaultModel,
				MaxTokens: pc.MaxTokens,
				Logger:    logger,
			})
			if err != nil {
				return nil, err
			}
			ordered = append(ordered, p)
		case "openai":
			p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
				APIKey:    pc.APIKey,
				BaseURL:   pc.BaseURL,
				Model:     pc.DefaultModel,
				MaxTokens: pc.MaxTokens,
				Logger:    logger,
			})
			if err != nil {
				return nil, err
			}
			ordered = append(ordered, p)
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}

	rec := usage.NewRecorder(stores.Usage, logger, metrics)
	return assistant.NewProviderChain(ordered, rec, logger, metrics), nil
}
