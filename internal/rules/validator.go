// Package rules holds the claim validators and the CEL policy engine.
package rules

import (
	"strings"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// Validator is one independent claim check.
// Validate must not mutate the claim and must be safe for concurrent use.
// A missing reference entry skips that check; it is never an error.
type Validator interface {
	Name() string
	Validate(claim *domain.Claim, ref domain.ReferenceData) []domain.ValidationIssue
}

// Validator names, as reported on every issue.
const (
	AgentCodePair    = "CPT-ICD Validator"
	AgentBundling    = "Bundling Validator"
	AgentModifier    = "Modifier Validator"
	AgentDemographic = "Demographic Validator"
	AgentCost        = "Cost Analyzer"
	AgentPolicy      = "Policy Validator"
)

// DefaultValidators returns the built-in validators in canonical order.
func DefaultValidators() []Validator {
	return []Validator{
		NewCodePairValidator(),
		NewBundlingValidator(),
		NewModifierValidator(),
		NewDemographicValidator(),
		NewCostValidator(),
	}
}

// routineDiagnoses are the annual-exam diagnosis codes.
var routineDiagnoses = map[string]bool{
	"Z00.00":  true,
	"Z00.01":  true,
	"Z00.121": true,
	"Z00.129": true,
}

// distinctServiceModifiers mark a procedure as separately identifiable.
var distinctServiceModifiers = []string{"59", "XE", "XP", "XS", "XU"}

// isEM reports whether cpt is an evaluation and management code.
func isEM(cpt string) bool {
	return strings.HasPrefix(cpt, "992") || strings.HasPrefix(cpt, "999")
}

func hasRoutineDiagnosis(claim *domain.Claim) bool {
	for _, dx := range claim.DiagnosisCodes {
		if routineDiagnoses[dx] {
			return true
		}
	}
	return false
}

func newIssue(agent, issueType string, sev domain.Severity, confidence float64) domain.ValidationIssue {
	return domain.ValidationIssue{
		AgentName:       agent,
		IssueType:       issueType,
		Severity:        sev,
		ConfidenceScore: domain.ClampConfidence(confidence),
	}
}

// positive returns a cost impact for v, or nil when v is not above zero.
func positive(v float64) *float64 {
	if v > 0 {
		return domain.Money(v)
	}
	return nil
}
