package rules

import (
	"fmt"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// CodePair is an ordered pair of procedure codes.
type CodePair struct {
	Column1 string
	Column2 string
}

// DefaultKnownPairs are bundled pairs checked even without an edit table entry.
func DefaultKnownPairs() map[CodePair]string {
	return map[CodePair]string{
		{"43235", "43239"}: "Upper GI endoscopy procedures are bundled",
		{"45378", "45380"}: "Colonoscopy with biopsy includes diagnostic colonoscopy",
		{"45380", "45385"}: "Colonoscopy with polyp removal includes biopsy",
	}
}

// BundlingValidator flags procedures billed separately that belong to another.
type BundlingValidator struct {
	// KnownPairs maps a pair to the explanation raised when it is unbundled.
	KnownPairs map[CodePair]string
}

// NewBundlingValidator creates a bundling validator with the default known pairs.
func NewBundlingValidator() *BundlingValidator {
	return &BundlingValidator{KnownPairs: DefaultKnownPairs()}
}

// Name returns the validator name.
func (v *BundlingValidator) Name() string { return AgentBundling }

// Validate checks every pair i<j in listed order against the edit table
// and the known pairs. Both checks may fire for the same pair.
func (v *BundlingValidator) Validate(claim *domain.Claim, ref domain.ReferenceData) []domain.ValidationIssue {
	procs := claim.ProcedureCodes
	if len(procs) < 2 {
		return nil
	}

	var issues []domain.ValidationIssue
	for i := 0; i < len(procs); i++ {
		for j := i + 1; j < len(procs); j++ {
			first, second := procs[i], procs[j]

			if edit, ok := ref.BundlingEdit(first.CPT, second.CPT); ok && !editOverridden(second, edit.ModifierIndicator) {
				issue := newIssue(AgentBundling, domain.IssueUnbundling, domain.SeverityHigh, 0.90)
				issue.Description = fmt.Sprintf("CPT %s is bundled into %s", second.CPT, first.CPT)
				issue.Explanation = "These procedures should not be billed separately according to NCCI edits"
				issue.CostImpact = domain.Money(second.Charge)
				issue.SuggestedFix = fmt.Sprintf("Remove %s or add appropriate modifier if services were distinct", second.CPT)
				issues = append(issues, issue)
			}

			reason, known := v.KnownPairs[CodePair{first.CPT, second.CPT}]
			if known && !second.HasAnyModifier(distinctServiceModifiers...) {
				issue := newIssue(AgentBundling, domain.IssueUnbundling, domain.SeverityHigh, 0.85)
				issue.Description = fmt.Sprintf("CPT %s bundled into %s", second.CPT, first.CPT)
				issue.Explanation = reason
				issue.CostImpact = domain.Money(second.Charge)
				issue.SuggestedFix = fmt.Sprintf("Remove %s or add modifier 59/X{EPSU} if distinct service", second.CPT)
				issues = append(issues, issue)
			}
		}
	}
	return issues
}

// editOverridden reports whether the second procedure escapes an edit.
// Unknown indicators are treated as not overridable.
func editOverridden(second domain.ProcedureCode, indicator string) bool {
	switch indicator {
	case domain.IndicatorModifierAllow:
		return second.HasAnyModifier(distinctServiceModifiers...)
	case domain.IndicatorNotApplicable:
		return true
	default:
		return false
	}
}
