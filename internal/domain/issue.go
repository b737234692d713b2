package domain

import (
	"time"
)

// Severity ranks a validation issue. The order is total and fixed:
// critical > high > medium > low.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns the sort rank of a severity, critical first.
// Unknown severities sort after low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Weight returns the risk score contribution of a severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 25
	case SeverityHigh:
		return 15
	case SeverityMedium:
		return 8
	case SeverityLow:
		return 3
	default:
		return 0
	}
}

// ParseSeverity maps a rule-table severity tag to a Severity.
func ParseSeverity(tag string) (Severity, bool) {
	switch Severity(tag) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(tag), true
	}
	return "", false
}

// ValidationIssue is a single finding produced by a validator.
// Validators create issues; only the enricher rewrites Explanation.
type ValidationIssue struct {
	ID              string   `json:"id,omitempty"`
	AgentName       string   `json:"agent_name"`
	IssueType       string   `json:"issue_type"`
	Severity        Severity `json:"severity"`
	Description     string   `json:"description"`
	Explanation     string   `json:"explanation"`
	ConfidenceScore float64  `json:"confidence_score"`
	CostImpact      *float64 `json:"cost_impact,omitempty"`
	SuggestedFix    string   `json:"suggested_fix,omitempty"`
}

// Issue type tags.
const (
	IssueMissingDiagnosis     = "missing_diagnosis"
	IssuePreventiveComplexity = "preventive_complexity_mismatch"
	IssueCategoryMismatch     = "category_mismatch"
	IssueUnbundling           = "unbundling_violation"
	IssueMissingModifier25    = "missing_modifier_25"
	IssueModifierConflict     = "modifier_conflict"
	IssueModifierNotAllowed   = "modifier_not_allowed"
	IssueGenderRestriction    = "gender_restriction"
	IssueAgeRestriction       = "age_restriction"
	IssueUnusualChargeHigh    = "unusual_charge_high"
	IssueUnusualChargeLow     = "unusual_charge_low"
	IssuePotentialUpcoding    = "potential_upcoding"
	IssueHighProcedureCount   = "high_procedure_count"
	IssueHighTotalCharge      = "high_total_charge"
	IssuePolicyViolation      = "policy_violation"
)

// Money returns a pointer to v, for optional cost impacts.
func Money(v float64) *float64 {
	return &v
}

// ClampConfidence bounds a confidence score to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Claim dispositions.
const (
	StatusPassed   = "passed"
	StatusFlagged  = "flagged"
	StatusRejected = "rejected"

	// StatusPending marks a stored claim that has no validation result yet.
	StatusPending = "pending"
)

// ValidationResult is the outcome of one validation run.
type ValidationResult struct {
	ID               string            `json:"id"`
	ClaimID          string            `json:"claim_id"`
	OverallStatus    string            `json:"overall_status"`
	RiskScore        float64           `json:"risk_score"`
	Issues           []ValidationIssue `json:"issues"`
	TotalCostImpact  float64           `json:"total_cost_impact"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	ValidatedAt      time.Time         `json:"validated_at"`

	// Reference reports the load state of the rule tables the run used.
	Reference []LoadStatus `json:"reference,omitempty"`
}

// BatchItem is the per-claim outcome of a batch run. Exactly one of
// Result and Error is set.
type BatchItem struct {
	ClaimID string            `json:"claim_id"`
	Status  string            `json:"status"` // "success" or "failed"
	Result  *ValidationResult `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// BatchResult summarizes a batch run. Items preserve input order.
type BatchResult struct {
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Items      []BatchItem `json:"items"`
}

// Batch item states.
const (
	BatchSuccess = "success"
	BatchFailed  = "failed"
)
