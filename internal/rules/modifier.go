package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// preventiveVisitCodes never need modifier 25.
var preventiveVisitCodes = map[string]bool{
	"99381": true, "99382": true, "99383": true, "99384": true, "99385": true, "99386": true, "99387": true,
	"99391": true, "99392": true, "99393": true, "99394": true, "99395": true, "99396": true, "99397": true,
}

var xModifiers = []string{"XE", "XP", "XS", "XU"}

// ModifierValidator checks modifier usage on each procedure line.
type ModifierValidator struct{}

// NewModifierValidator creates a modifier validator.
func NewModifierValidator() *ModifierValidator {
	return &ModifierValidator{}
}

// Name returns the validator name.
func (v *ModifierValidator) Name() string { return AgentModifier }

// Validate runs the modifier 25, 59/X, bilateral, component and
// rule-table checks, in that order.
func (v *ModifierValidator) Validate(claim *domain.Claim, ref domain.ReferenceData) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	issues = append(issues, v.checkModifier25(claim)...)
	for _, proc := range claim.ProcedureCodes {
		issues = append(issues, v.checkDistinctConflict(proc)...)
	}
	for _, proc := range claim.ProcedureCodes {
		issues = append(issues, v.checkBilateral(proc)...)
	}
	for _, proc := range claim.ProcedureCodes {
		issues = append(issues, v.checkComponents(proc)...)
	}
	issues = append(issues, v.checkAllowed(claim, ref.ModifierRules())...)
	return issues
}

func (v *ModifierValidator) checkModifier25(claim *domain.Claim) []domain.ValidationIssue {
	var em []domain.ProcedureCode
	other := 0
	for _, proc := range claim.ProcedureCodes {
		if isEM(proc.CPT) {
			em = append(em, proc)
		} else {
			other++
		}
	}
	if len(em) == 0 || other == 0 {
		return nil
	}

	var issues []domain.ValidationIssue
	for _, proc := range em {
		if preventiveVisitCodes[proc.CPT] || proc.HasModifier("25") {
			continue
		}
		issue := newIssue(AgentModifier, domain.IssueMissingModifier25, domain.SeverityMedium, 0.88)
		issue.Description = fmt.Sprintf("Modifier 25 required on E/M code %s when billed with procedure", proc.CPT)
		issue.Explanation = "When billing E/M service on same day as procedure, modifier 25 indicates the E/M was significant and separately identifiable"
		issue.SuggestedFix = fmt.Sprintf("Add modifier 25 to %s", proc.CPT)
		issues = append(issues, issue)
	}
	return issues
}

func (v *ModifierValidator) checkDistinctConflict(proc domain.ProcedureCode) []domain.ValidationIssue {
	if !proc.HasModifier("59") {
		return nil
	}
	var used []string
	for _, x := range xModifiers {
		if proc.HasModifier(x) {
			used = append(used, x)
		}
	}
	if len(used) == 0 {
		return nil
	}

	issue := newIssue(AgentModifier, domain.IssueModifierConflict, domain.SeverityMedium, 0.92)
	issue.Description = fmt.Sprintf("CPT %s has both modifier 59 and %s", proc.CPT, strings.Join(used, ", "))
	issue.Explanation = "X{EPSU} modifiers are more specific than 59. Use only the X modifier, not both"
	issue.SuggestedFix = fmt.Sprintf("Remove modifier 59, keep %s", used[0])
	return []domain.ValidationIssue{issue}
}

func (v *ModifierValidator) checkBilateral(proc domain.ProcedureCode) []domain.ValidationIssue {
	if !proc.HasModifier("50") || !proc.HasAnyModifier("LT", "RT") {
		return nil
	}
	issue := newIssue(AgentModifier, domain.IssueModifierConflict, domain.SeverityHigh, 0.95)
	issue.Description = fmt.Sprintf("CPT %s has modifier 50 with LT/RT", proc.CPT)
	issue.Explanation = "Cannot use bilateral modifier (50) with laterality modifiers (LT/RT)"
	issue.SuggestedFix = "Use either modifier 50 for bilateral, or LT/RT for unilateral procedures"
	return []domain.ValidationIssue{issue}
}

func (v *ModifierValidator) checkComponents(proc domain.ProcedureCode) []domain.ValidationIssue {
	if !proc.HasModifier("TC") || !proc.HasModifier("26") {
		return nil
	}
	issue := newIssue(AgentModifier, domain.IssueModifierConflict, domain.SeverityCritical, 0.98)
	issue.Description = fmt.Sprintf("CPT %s has both TC and 26 modifiers", proc.CPT)
	issue.Explanation = "TC (technical component) and 26 (professional component) are mutually exclusive"
	issue.SuggestedFix = "Use either TC or 26, not both"
	return []domain.ValidationIssue{issue}
}

// checkAllowed flags modifiers outside a matching rule's allowed list.
// A rule with an empty allowed list restricts nothing.
func (v *ModifierValidator) checkAllowed(claim *domain.Claim, rules []domain.ModifierRule) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	for _, proc := range claim.ProcedureCodes {
		if len(proc.Modifiers) == 0 {
			continue
		}
		for _, rule := range rules {
			if len(rule.AllowedModifiers) == 0 || !rule.CodeRange.Contains(proc.CPT) {
				continue
			}
			var rejected []string
			for _, mod := range proc.Modifiers {
				if !slices.Contains(rule.AllowedModifiers, mod) {
					rejected = append(rejected, mod)
				}
			}
			if len(rejected) == 0 {
				continue
			}

			sev, ok := domain.ParseSeverity(rule.Severity)
			if !ok {
				sev = domain.SeverityLow
			}
			issue := newIssue(AgentModifier, domain.IssueModifierNotAllowed, sev, 0.80)
			issue.Description = fmt.Sprintf("CPT %s billed with modifier %s not allowed by %s", proc.CPT, strings.Join(rejected, ", "), rule.Name)
			issue.Explanation = rule.Explanation
			issue.SuggestedFix = fmt.Sprintf("Use one of: %s", strings.Join(rule.AllowedModifiers, ", "))
			issues = append(issues, issue)
		}
	}
	return issues
}
