package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/claimguard/internal/api"
	"github.com/opensource-finance/claimguard/internal/bus"
	"github.com/opensource-finance/claimguard/internal/cache"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/enrich"
	"github.com/opensource-finance/claimguard/internal/llm"
	"github.com/opensource-finance/claimguard/internal/orchestrator"
	"github.com/opensource-finance/claimguard/internal/reference"
	"github.com/opensource-finance/claimguard/internal/repository"
	"github.com/opensource-finance/claimguard/internal/rules"
	"github.com/opensource-finance/claimguard/internal/worker"
	"github.com/spf13/cobra"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		host      string
		port      int
		runWorker bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when enabled, the async intake worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("worker") {
				cfg.Worker.Enabled = runWorker
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	cmd.Flags().BoolVar(&runWorker, "worker", false, "run the async intake worker (overrides worker.enabled)")
	return cmd
}

func serve(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting claimguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Reference data degrades per table; a missing table never stops startup.
	refs := reference.NewStore(repo, cfg.Reference.RulesDir)
	if _, err := refs.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load reference data: %w", err)
	}

	policy, err := loadPolicyRules(ctx, repo)
	if err != nil {
		return err
	}

	llmClient := llm.NewClient(cfg.LLM)
	var enricher *enrich.Enricher
	if cfg.Enrichment.Enabled && llmClient.Configured() {
		enricher = enrich.New(llmClient, cacheImpl, cfg.Enrichment)
		slog.Info("explanation enrichment enabled", "model", cfg.LLM.Model)
	} else {
		slog.Info("explanation enrichment disabled", "configured", llmClient.Configured())
	}

	orch := orchestrator.New(refs, orchestrator.Options{
		Policy:   policy,
		Enricher: enricher,
	})
	slog.Info("orchestrator initialized", "validators", orch.Validators())

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, repo, orch)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "topic", domain.TopicClaimSubmitted)
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Validator: orch,
		Reference: refs,
		Policy:    policy,
		Assistant: llmClient,
	}, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("claimguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("claimguard shutdown complete")
	return serveErr
}

// loadPolicyRules builds the policy validator from the stored rules.
// Rules are configured via POST /api/policy-rules; there are no defaults.
func loadPolicyRules(ctx context.Context, repo domain.Repository) (*rules.PolicyValidator, error) {
	policy, err := rules.NewPolicyValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy validator: %w", err)
	}

	dbRules, err := repo.ListPolicyRules(ctx)
	if err != nil {
		slog.Warn("failed to list policy rules from database", "error", err)
		return policy, nil
	}
	if len(dbRules) == 0 {
		slog.Info("no policy rules in database - configure via POST /api/policy-rules")
		return policy, nil
	}

	if err := policy.ReloadRules(dbRules); err != nil {
		return nil, fmt.Errorf("failed to load policy rules: %w", err)
	}
	slog.Info("policy rules loaded", "count", policy.RulesCount())
	return policy, nil
}
