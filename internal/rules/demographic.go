package rules

import (
	"fmt"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// DemographicValidator checks codes against patient age and gender.
// Catalog restrictions and range rules are two separate policies and are
// applied independently, with their own severities.
type DemographicValidator struct{}

// NewDemographicValidator creates a demographic validator.
func NewDemographicValidator() *DemographicValidator {
	return &DemographicValidator{}
}

// Name returns the validator name.
func (v *DemographicValidator) Name() string { return AgentDemographic }

// Validate checks every diagnosis (catalog, then range rules) and then
// every procedure against the range rules.
func (v *DemographicValidator) Validate(claim *domain.Claim, ref domain.ReferenceData) []domain.ValidationIssue {
	age := claim.PatientAge()
	gender := claim.Patient.Gender
	rules := ref.DemographicRules()

	var issues []domain.ValidationIssue
	for _, code := range claim.DiagnosisCodes {
		if dx, ok := ref.ICD10(code); ok {
			issues = append(issues, v.checkCatalog(dx, gender, age)...)
		}
		for _, rule := range rules.ICD10 {
			if rule.CodeRange.Contains(code) {
				issues = append(issues, v.checkDiagnosisRule(rule, code, gender, age)...)
			}
		}
	}

	for _, proc := range claim.ProcedureCodes {
		for _, rule := range rules.CPT {
			if rule.CodeRange.Contains(proc.CPT) {
				issues = append(issues, v.checkProcedureRule(rule, proc.CPT, gender, age)...)
			}
		}
	}
	return issues
}

func (v *DemographicValidator) checkCatalog(dx *domain.ICD10Code, gender string, age int) []domain.ValidationIssue {
	var issues []domain.ValidationIssue

	if dx.GenderRestriction != "" && gender != dx.GenderRestriction {
		issue := newIssue(AgentDemographic, domain.IssueGenderRestriction, domain.SeverityCritical, 0.99)
		issue.Description = fmt.Sprintf("ICD-10 %s (%s) invalid for gender %s", dx.Code, dx.Description, gender)
		issue.Explanation = fmt.Sprintf("This code is only valid for gender %s", dx.GenderRestriction)
		issues = append(issues, issue)
	}

	if dx.AgeMin != nil && age < *dx.AgeMin {
		issue := newIssue(AgentDemographic, domain.IssueAgeRestriction, domain.SeverityHigh, 0.95)
		issue.Description = fmt.Sprintf("ICD-10 %s invalid for age %d", dx.Code, age)
		issue.Explanation = fmt.Sprintf("This code requires minimum age %d", *dx.AgeMin)
		issues = append(issues, issue)
	}

	if dx.AgeMax != nil && age > *dx.AgeMax {
		issue := newIssue(AgentDemographic, domain.IssueAgeRestriction, domain.SeverityMedium, 0.75)
		issue.Description = fmt.Sprintf("ICD-10 %s unusual for age %d", dx.Code, age)
		issue.Explanation = fmt.Sprintf("This code is typically for age %d or younger", *dx.AgeMax)
		issues = append(issues, issue)
	}

	return issues
}

func (v *DemographicValidator) checkDiagnosisRule(rule domain.DemographicRule, code, gender string, age int) []domain.ValidationIssue {
	tag, tagged := domain.ParseSeverity(rule.Severity)
	var issues []domain.ValidationIssue

	if rule.Gender != "" && gender != rule.Gender {
		sev, conf := domain.SeverityHigh, 0.90
		if tag == domain.SeverityCritical {
			sev, conf = domain.SeverityCritical, 0.99
		} else if tagged {
			sev = tag
		}
		issue := newIssue(AgentDemographic, domain.IssueGenderRestriction, sev, ruleConfidence(rule, conf))
		issue.Description = fmt.Sprintf("ICD-10 %s: %s invalid for gender %s", code, rule.Description, gender)
		issue.Explanation = rule.Explanation
		issues = append(issues, issue)
	}

	if rule.AgeMin > 0 && age < rule.AgeMin {
		sev := domain.SeverityMedium
		if tagged {
			sev = tag
		}
		issue := newIssue(AgentDemographic, domain.IssueAgeRestriction, sev, ruleConfidence(rule, 0.85))
		issue.Description = fmt.Sprintf("ICD-10 %s invalid for age %d (minimum %d)", code, age, rule.AgeMin)
		issue.Explanation = rule.Explanation
		issues = append(issues, issue)
	}

	if rule.AgeMax > 0 && age > rule.AgeMax {
		sev := domain.SeverityMedium
		if tagged {
			sev = tag
		}
		issue := newIssue(AgentDemographic, domain.IssueAgeRestriction, sev, ruleConfidence(rule, 0.70))
		issue.Description = fmt.Sprintf("ICD-10 %s unusual for age %d (typically max %d)", code, age, rule.AgeMax)
		issue.Explanation = rule.Explanation
		issues = append(issues, issue)
	}

	return issues
}

func (v *DemographicValidator) checkProcedureRule(rule domain.DemographicRule, cpt, gender string, age int) []domain.ValidationIssue {
	sev, ok := domain.ParseSeverity(rule.Severity)
	if !ok {
		sev = domain.SeverityHigh
	}
	conf := ruleConfidence(rule, 0.90)

	var issues []domain.ValidationIssue

	if rule.Gender != "" && gender != rule.Gender {
		issue := newIssue(AgentDemographic, domain.IssueGenderRestriction, sev, conf)
		issue.Description = fmt.Sprintf("CPT %s: %s invalid for gender %s", cpt, rule.Description, gender)
		issue.Explanation = rule.Explanation
		issues = append(issues, issue)
	}

	if rule.AgeMin > 0 && age < rule.AgeMin {
		issue := newIssue(AgentDemographic, domain.IssueAgeRestriction, sev, conf)
		issue.Description = fmt.Sprintf("CPT %s invalid for age %d (minimum %d)", cpt, age, rule.AgeMin)
		issue.Explanation = rule.Explanation
		issues = append(issues, issue)
	}

	if rule.AgeMax > 0 && age > rule.AgeMax {
		issue := newIssue(AgentDemographic, domain.IssueAgeRestriction, sev, conf)
		issue.Description = fmt.Sprintf("CPT %s invalid for age %d (maximum %d)", cpt, age, rule.AgeMax)
		issue.Explanation = rule.Explanation
		issues = append(issues, issue)
	}

	return issues
}

// ruleConfidence returns the rule's own confidence, or def when unset.
func ruleConfidence(rule domain.DemographicRule, def float64) float64 {
	if rule.Confidence != nil {
		return *rule.Confidence
	}
	return def
}
