package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/reference"
	"github.com/opensource-finance/claimguard/internal/repository"
	"github.com/opensource-finance/claimguard/internal/rules"
	"github.com/spf13/cobra"
)

func newSeedCmd(root *rootOptions) *cobra.Command {
	var (
		dataDir     string
		policyRules string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import code catalogs and policy rules into the repository",
		Long: `Seed upserts cpt_codes.csv, icd10_codes.csv and ncci_edits.csv from
--data into the configured repository. Files that are absent are skipped.
With --policy-rules, a JSON array of policy rules is compiled and stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			repo, err := repository.New(root.cfg.Repository)
			if err != nil {
				return fmt.Errorf("failed to initialize repository: %w", err)
			}
			defer repo.Close()

			counts, err := reference.Seed(ctx, repo, dataDir)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			slog.Info("code catalogs seeded",
				"cpt_codes", counts.CPT,
				"icd10_codes", counts.ICD10,
				"ncci_edits", counts.Edits,
			)

			stored := 0
			if policyRules != "" {
				if stored, err = seedPolicyRules(cmd, repo, policyRules); err != nil {
					return err
				}
				slog.Info("policy rules seeded", "count", stored)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"catalogs":     counts,
				"policy_rules": stored,
			})
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data", "d", "./data", "directory holding the catalog CSV files")
	cmd.Flags().StringVar(&policyRules, "policy-rules", "", "JSON file with an array of policy rules")
	return cmd
}

// seedPolicyRules compiles every rule before storing any, so a bad file
// leaves the repository untouched.
func seedPolicyRules(cmd *cobra.Command, repo domain.Repository, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var list []*domain.PolicyRule
	if err := json.Unmarshal(data, &list); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	policy, err := rules.NewPolicyValidator()
	if err != nil {
		return 0, err
	}
	for _, r := range list {
		if r.ID == "" || r.Expression == "" {
			return 0, fmt.Errorf("policy rule %q: id and expression are required", r.Name)
		}
		if r.Version == "" {
			r.Version = "1.0.0"
		}
		if err := policy.ValidateRule(r); err != nil {
			return 0, err
		}
	}
	for _, r := range list {
		if err := repo.SavePolicyRule(cmd.Context(), r); err != nil {
			return 0, fmt.Errorf("failed to save policy rule %s: %w", r.ID, err)
		}
	}
	return len(list), nil
}
