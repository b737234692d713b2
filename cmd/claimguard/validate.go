package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/opensource-finance/claimguard/internal/cache"
	"github.com/opensource-finance/claimguard/internal/decision"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/enrich"
	"github.com/opensource-finance/claimguard/internal/intake"
	"github.com/opensource-finance/claimguard/internal/llm"
	"github.com/opensource-finance/claimguard/internal/orchestrator"
	"github.com/opensource-finance/claimguard/internal/reference"
	"github.com/opensource-finance/claimguard/internal/repository"
	"github.com/spf13/cobra"
)

var errRejected = errors.New("one or more claims were rejected")

type validateOptions struct {
	file         string
	referenceDB  string
	rulesDir     string
	explain      bool
	save         bool
	failOnReject bool
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate claims from a JSON file and print the results",
		Long: `Validate reads one claim object, or an array of claims, from --file
("-" for stdin) and prints the validation result as JSON. An array is
validated as a batch: a claim that fails is reported without stopping
the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, root.cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "claims JSON file, or - for stdin")
	cmd.Flags().StringVar(&opts.referenceDB, "reference-db", "", "SQLite database holding the code catalogs (overrides repository settings)")
	cmd.Flags().StringVar(&opts.rulesDir, "rules-dir", "", "directory holding the JSON rule tables (overrides reference.rulesDir)")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "enrich short explanations with the configured LLM")
	cmd.Flags().BoolVar(&opts.save, "save", false, "store claims and issues in the repository")
	cmd.Flags().BoolVar(&opts.failOnReject, "fail-on-reject", false, "exit non-zero when any claim is rejected")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runValidate(cmd *cobra.Command, cfg *domain.Config, opts *validateOptions) error {
	ctx := cmd.Context()

	data, err := readInput(cmd.InOrStdin(), opts.file)
	if err != nil {
		return err
	}

	repoCfg := cfg.Repository
	if opts.referenceDB != "" {
		repoCfg.Driver = "sqlite"
		repoCfg.SQLitePath = opts.referenceDB
	}
	repo, err := repository.New(repoCfg)
	if err != nil {
		return fmt.Errorf("failed to open reference database: %w", err)
	}
	defer repo.Close()

	rulesDir := cfg.Reference.RulesDir
	if opts.rulesDir != "" {
		rulesDir = opts.rulesDir
	}
	refs := reference.NewStore(repo, rulesDir)
	if _, err := refs.Reload(ctx); err != nil {
		return err
	}

	policy, err := loadPolicyRules(ctx, repo)
	if err != nil {
		return err
	}

	orchOpts := orchestrator.Options{Policy: policy}
	if opts.explain {
		client := llm.NewClient(cfg.LLM)
		if !client.Configured() {
			return fmt.Errorf("--explain: %w", llm.ErrNotConfigured)
		}
		local := cache.NewLRUCache(cfg.Cache.LocalMaxSize, cfg.Enrichment.CacheTTL)
		defer local.Close()
		orchOpts.Enricher = enrich.New(client, local, cfg.Enrichment)
	}
	orch := orchestrator.New(refs, orchOpts)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		batch, err := validateBatch(cmd, orch, trimmed)
		if err != nil {
			return err
		}
		if opts.save {
			saveBatch(cmd, repo, batch)
		}
		if err := enc.Encode(batch.Result); err != nil {
			return err
		}
		if opts.failOnReject && batch.rejected {
			return errRejected
		}
		return nil
	}

	claim, err := intake.Decode(data)
	if err != nil {
		return err
	}
	result, err := orch.Validate(ctx, claim)
	if err != nil {
		return err
	}
	if opts.save {
		if err := repo.SaveClaim(ctx, claim, result); err != nil {
			return fmt.Errorf("failed to save claim: %w", err)
		}
	}
	if err := enc.Encode(result); err != nil {
		return err
	}
	if opts.failOnReject && decision.IsRejected(result) {
		return errRejected
	}
	return nil
}

type batchRun struct {
	*orchestrator.RawBatch
	rejected bool
}

// validateBatch validates every element of a JSON array of claims.
func validateBatch(cmd *cobra.Command, orch *orchestrator.Orchestrator, data []byte) (*batchRun, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", intake.ErrInvalidClaim, err)
	}

	run := &batchRun{RawBatch: orch.ValidateRaw(cmd.Context(), raws)}
	for _, item := range run.Result.Items {
		if item.Status == domain.BatchSuccess && decision.IsRejected(item.Result) {
			run.rejected = true
		}
	}
	return run, nil
}

func saveBatch(cmd *cobra.Command, repo *repository.SQLRepository, run *batchRun) {
	for i, item := range run.Result.Items {
		if item.Status != domain.BatchSuccess {
			continue
		}
		if err := repo.SaveClaim(cmd.Context(), run.Claims[i], item.Result); err != nil {
			slog.Error("failed to save claim", "claim_id", item.ClaimID, "error", err)
		}
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
