package rules

import (
	"fmt"
	"math"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// UpcodeTarget is the code and charge expected in place of a high-complexity code.
type UpcodeTarget struct {
	Code   string
	Charge float64
}

// DefaultUpcodingMap maps high-complexity E/M codes to their routine equivalent.
func DefaultUpcodingMap() map[string]UpcodeTarget {
	return map[string]UpcodeTarget{
		"99205": {Code: "99203", Charge: 135},
		"99215": {Code: "99213", Charge: 135},
		"99285": {Code: "99283", Charge: 250},
		"99223": {Code: "99221", Charge: 150},
	}
}

// CostValidator detects charge outliers and upcoding patterns.
// Over- and under-charge thresholds are deliberately asymmetric.
type CostValidator struct {
	OverchargeThreshold  float64 // variance above this flags MEDIUM
	SevereThreshold      float64 // variance above this flags HIGH
	UnderchargeThreshold float64 // variance below minus this flags LOW
	MaxProcedures        int
	TotalThreshold       float64
	Upcoding             map[string]UpcodeTarget
}

// NewCostValidator creates a cost validator with the standard thresholds.
func NewCostValidator() *CostValidator {
	return &CostValidator{
		OverchargeThreshold:  0.50,
		SevereThreshold:      1.00,
		UnderchargeThreshold: 0.80,
		MaxProcedures:        5,
		TotalThreshold:       0.75,
		Upcoding:             DefaultUpcodingMap(),
	}
}

// Name returns the validator name.
func (v *CostValidator) Name() string { return AgentCost }

// Validate runs the per-line variance check, then the upcoding, volume
// and total charge patterns.
func (v *CostValidator) Validate(claim *domain.Claim, ref domain.ReferenceData) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	for _, proc := range claim.ProcedureCodes {
		issues = append(issues, v.checkVariance(proc, ref)...)
	}
	issues = append(issues, v.checkUpcoding(claim)...)
	issues = append(issues, v.checkVolume(claim)...)
	issues = append(issues, v.checkTotal(claim, ref)...)
	return issues
}

func avgCharge(ref domain.ReferenceData, code string) (float64, bool) {
	cpt, ok := ref.CPT(code)
	if !ok || cpt.AvgCharge == nil || *cpt.AvgCharge == 0 {
		return 0, false
	}
	return *cpt.AvgCharge, true
}

func (v *CostValidator) checkVariance(proc domain.ProcedureCode, ref domain.ReferenceData) []domain.ValidationIssue {
	avg, ok := avgCharge(ref, proc.CPT)
	if !ok {
		return nil
	}

	variance := (proc.Charge - avg) / avg
	if math.Abs(variance) <= v.OverchargeThreshold {
		return nil
	}

	if variance > 0 {
		sev := domain.SeverityMedium
		if variance > v.SevereThreshold {
			sev = domain.SeverityHigh
		}
		issue := newIssue(AgentCost, domain.IssueUnusualChargeHigh, sev, 0.75)
		issue.Description = fmt.Sprintf("CPT %s charge $%.2f is %.0f%% above average $%.2f", proc.CPT, proc.Charge, variance*100, avg)
		issue.Explanation = "Charge deviates significantly from typical amount. Review documentation to justify higher charge."
		issue.CostImpact = domain.Money(proc.Charge - avg)
		issue.SuggestedFix = fmt.Sprintf("Verify charge is correct. Expected range: $%.2f-$%.2f", avg*0.8, avg*1.2)
		return []domain.ValidationIssue{issue}
	}

	if variance >= -v.UnderchargeThreshold {
		return nil
	}
	issue := newIssue(AgentCost, domain.IssueUnusualChargeLow, domain.SeverityLow, 0.60)
	issue.Description = fmt.Sprintf("CPT %s charge $%.2f is %.0f%% below average $%.2f", proc.CPT, proc.Charge, math.Abs(variance)*100, avg)
	issue.Explanation = "Charge is unusually low. May indicate billing error or contract discount."
	return []domain.ValidationIssue{issue}
}

func (v *CostValidator) checkUpcoding(claim *domain.Claim) []domain.ValidationIssue {
	if !hasRoutineDiagnosis(claim) {
		return nil
	}

	var issues []domain.ValidationIssue
	for _, proc := range claim.ProcedureCodes {
		target, ok := v.Upcoding[proc.CPT]
		if !ok {
			continue
		}
		issue := newIssue(AgentCost, domain.IssuePotentialUpcoding, domain.SeverityHigh, 0.85)
		issue.Description = fmt.Sprintf("Possible upcoding: %s billed for routine visit", proc.CPT)
		issue.Explanation = fmt.Sprintf("High complexity code %s used with routine diagnosis. Expected %s for routine care.", proc.CPT, target.Code)
		issue.CostImpact = positive(proc.Charge - target.Charge)
		issue.SuggestedFix = fmt.Sprintf("Verify visit complexity. Consider downcoding to %s if appropriate.", target.Code)
		issues = append(issues, issue)
	}
	return issues
}

func (v *CostValidator) checkVolume(claim *domain.Claim) []domain.ValidationIssue {
	n := len(claim.ProcedureCodes)
	if n <= v.MaxProcedures {
		return nil
	}
	issue := newIssue(AgentCost, domain.IssueHighProcedureCount, domain.SeverityLow, 0.60)
	issue.Description = fmt.Sprintf("Claim has %d procedures", n)
	issue.Explanation = "Unusually high number of procedures on single claim. Verify all are documented and medically necessary."
	return []domain.ValidationIssue{issue}
}

func (v *CostValidator) checkTotal(claim *domain.Claim, ref domain.ReferenceData) []domain.ValidationIssue {
	var expected float64
	for _, proc := range claim.ProcedureCodes {
		if avg, ok := avgCharge(ref, proc.CPT); ok {
			expected += avg
		}
	}
	if expected <= 0 {
		return nil
	}

	variance := (claim.TotalCharge - expected) / expected
	if variance <= v.TotalThreshold {
		return nil
	}
	issue := newIssue(AgentCost, domain.IssueHighTotalCharge, domain.SeverityMedium, 0.70)
	issue.Description = fmt.Sprintf("Total charge $%.2f is %.0f%% above expected $%.2f", claim.TotalCharge, variance*100, expected)
	issue.Explanation = "Overall claim cost is significantly higher than typical charges for these procedures."
	issue.CostImpact = domain.Money(claim.TotalCharge - expected)
	return []domain.ValidationIssue{issue}
}
