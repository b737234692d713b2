package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// highComplexityEM are E/M codes that a routine visit should not carry.
var highComplexityEM = map[string]bool{
	"99205": true,
	"99215": true,
	"99285": true,
	"99223": true,
	"99233": true,
}

// CodePairValidator checks that procedures agree with the diagnoses billed.
type CodePairValidator struct{}

// NewCodePairValidator creates a CPT-ICD validator.
func NewCodePairValidator() *CodePairValidator {
	return &CodePairValidator{}
}

// Name returns the validator name.
func (v *CodePairValidator) Name() string { return AgentCodePair }

// Validate runs the diagnosis, preventive complexity and category checks.
func (v *CodePairValidator) Validate(claim *domain.Claim, ref domain.ReferenceData) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	issues = append(issues, v.checkDiagnosisPresent(claim)...)
	issues = append(issues, v.checkPreventiveComplexity(claim, ref)...)
	issues = append(issues, v.checkCategoryAlignment(claim, ref)...)
	return issues
}

func (v *CodePairValidator) checkDiagnosisPresent(claim *domain.Claim) []domain.ValidationIssue {
	if len(claim.DiagnosisCodes) > 0 {
		return nil
	}

	var issues []domain.ValidationIssue
	for _, proc := range claim.ProcedureCodes {
		if !isEM(proc.CPT) {
			continue
		}
		issue := newIssue(AgentCodePair, domain.IssueMissingDiagnosis, domain.SeverityHigh, 0.95)
		issue.Description = fmt.Sprintf("E/M code %s requires diagnosis", proc.CPT)
		issue.Explanation = "Evaluation & Management services must have documented diagnosis codes"
		issues = append(issues, issue)
	}
	return issues
}

func (v *CodePairValidator) checkPreventiveComplexity(claim *domain.Claim, ref domain.ReferenceData) []domain.ValidationIssue {
	if !hasRoutineDiagnosis(claim) {
		return nil
	}

	var issues []domain.ValidationIssue
	for _, proc := range claim.ProcedureCodes {
		if !highComplexityEM[proc.CPT] {
			continue
		}

		expected := PreventiveCodeForAge(claim.PatientAge())

		// No catalog average means no opinion on the cost, the mismatch still stands.
		var impact *float64
		if cpt, ok := ref.CPT(expected); ok && cpt.AvgCharge != nil {
			impact = positive(proc.Charge - *cpt.AvgCharge)
		}

		issue := newIssue(AgentCodePair, domain.IssuePreventiveComplexity, domain.SeverityHigh, 0.85)
		issue.Description = fmt.Sprintf("High complexity code %s billed for routine preventive visit", proc.CPT)
		issue.Explanation = fmt.Sprintf("Preventive visits are typically straightforward and don't justify high complexity E/M codes. Expected %s for routine care.", expected)
		issue.CostImpact = impact
		issue.SuggestedFix = fmt.Sprintf("Consider downcoding to %s or use preventive visit codes (99381-99397)", expected)
		issues = append(issues, issue)
	}
	return issues
}

func (v *CodePairValidator) checkCategoryAlignment(claim *domain.Claim, ref domain.ReferenceData) []domain.ValidationIssue {
	var dxCategories []string
	for _, code := range claim.DiagnosisCodes {
		if dx, ok := ref.ICD10(code); ok && dx.Category != "" {
			dxCategories = append(dxCategories, strings.ToLower(dx.Category))
		}
	}
	if len(dxCategories) == 0 {
		return nil
	}

	digestive := false
	for _, cat := range dxCategories {
		if strings.Contains(cat, "digestive") {
			digestive = true
			break
		}
	}

	var issues []domain.ValidationIssue
	for _, proc := range claim.ProcedureCodes {
		cpt, ok := ref.CPT(proc.CPT)
		if !ok || cpt.Category == "" {
			continue
		}
		if strings.Contains(strings.ToLower(cpt.Category), "gi procedures") && !digestive {
			issue := newIssue(AgentCodePair, domain.IssueCategoryMismatch, domain.SeverityMedium, 0.70)
			issue.Description = fmt.Sprintf("GI procedure %s with non-digestive diagnosis", proc.CPT)
			issue.Explanation = "Review if procedure matches the documented diagnosis"
			issues = append(issues, issue)
		}
	}
	return issues
}

// PreventiveCodeForAge returns the preventive visit code for a patient age.
func PreventiveCodeForAge(age int) string {
	switch {
	case age < 1:
		return "99381"
	case age <= 4:
		return "99382"
	case age <= 11:
		return "99383"
	case age <= 17:
		return "99384"
	case age <= 39:
		return "99385"
	case age <= 64:
		return "99386"
	default:
		return "99387"
	}
}
