// Package decision merges validator findings into the final claim decision.
package decision

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/claimguard/internal/domain"
)

// MaxRiskScore caps the risk score.
const MaxRiskScore = 100.0

// Processor orders issues, scores them and resolves the claim status.
type Processor struct{}

// NewProcessor creates a decision processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// DecisionInput contains all data needed for a decision.
// Issues must already be in canonical validator order.
type DecisionInput struct {
	ClaimID   string
	Issues    []domain.ValidationIssue
	Reference []domain.LoadStatus
	StartTime time.Time
}

// Process builds the validation result. The input slice is not modified.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.ValidationResult {
	issues := Aggregate(input.Issues)
	for i := range issues {
		if issues[i].ID == "" {
			issues[i].ID = uuid.New().String()
		}
	}

	return &domain.ValidationResult{
		ID:               uuid.New().String(),
		ClaimID:          input.ClaimID,
		OverallStatus:    ResolveStatus(issues),
		RiskScore:        RiskScore(issues),
		Issues:           issues,
		TotalCostImpact:  TotalCostImpact(issues),
		ProcessingTimeMs: time.Since(input.StartTime).Milliseconds(),
		ValidatedAt:      time.Now().UTC(),
		Reference:        input.Reference,
	}
}

// Aggregate returns a copy of issues stable-sorted by severity, critical first.
func Aggregate(issues []domain.ValidationIssue) []domain.ValidationIssue {
	out := make([]domain.ValidationIssue, len(issues))
	copy(out, issues)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() < out[j].Severity.Rank()
	})
	return out
}

// RiskScore sums severity weights, capped at MaxRiskScore.
func RiskScore(issues []domain.ValidationIssue) float64 {
	score := 0.0
	for _, issue := range issues {
		score += issue.Severity.Weight()
	}
	if score > MaxRiskScore {
		return MaxRiskScore
	}
	return score
}

// ResolveStatus maps issues to passed, rejected or flagged.
func ResolveStatus(issues []domain.ValidationIssue) string {
	if len(issues) == 0 {
		return domain.StatusPassed
	}
	for _, issue := range issues {
		if issue.Severity == domain.SeverityCritical {
			return domain.StatusRejected
		}
	}
	return domain.StatusFlagged
}

// TotalCostImpact sums the defined cost impacts.
func TotalCostImpact(issues []domain.ValidationIssue) float64 {
	total := 0.0
	for _, issue := range issues {
		if issue.CostImpact != nil {
			total += *issue.CostImpact
		}
	}
	return total
}

// IsRejected reports whether the result rejects the claim.
func IsRejected(result *domain.ValidationResult) bool {
	return result.OverallStatus == domain.StatusRejected
}
