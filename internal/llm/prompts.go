package llm

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/claimguard/internal/domain"
)

const summarySystemPrompt = "You are a medical billing expert. Generate concise executive summaries of claim validation results suitable for claims managers. Focus on key issues and financial impact."

func procedureList(claim *domain.Claim) string {
	parts := make([]string, len(claim.ProcedureCodes))
	for i, p := range claim.ProcedureCodes {
		parts[i] = fmt.Sprintf("%s ($%.2f)", p.CPT, p.Charge)
	}
	return strings.Join(parts, ", ")
}

func explainSystemPrompt(claim *domain.Claim) string {
	var b strings.Builder
	b.WriteString("You are a medical billing expert. You will explain validation issues clearly and concisely.\n\n")
	b.WriteString("Claim Context (reference this for all explanations):\n")
	fmt.Fprintf(&b, "- Claim ID: %s\n", claim.ClaimID)
	fmt.Fprintf(&b, "- Patient: Age %d, Gender %s\n", claim.PatientAge(), claim.Patient.Gender)
	fmt.Fprintf(&b, "- Date of Service: %s\n", claim.ServiceDate)
	fmt.Fprintf(&b, "- Diagnosis Codes: %s\n", strings.Join(claim.DiagnosisCodes, ", "))
	fmt.Fprintf(&b, "- Procedure Codes: %s\n", procedureList(claim))
	fmt.Fprintf(&b, "- Total Charge: $%.2f\n\n", claim.TotalCharge)
	b.WriteString("For each issue you explain, provide a clear 2-3 sentence explanation covering why it was flagged, ")
	b.WriteString("which rule was violated and how to fix it.\n\nBe concise and actionable.")
	return b.String()
}

func explainUserPrompt(issue domain.ValidationIssue) string {
	return fmt.Sprintf("Explain this validation issue:\n\nIssue: %s\nIssue Type: %s\nSeverity: %s",
		issue.Description, issue.IssueType, issue.Severity)
}

func answerSystemPrompt(claim *domain.Claim, issues []domain.ValidationIssue) string {
	var b strings.Builder
	b.WriteString("You are a medical billing AI assistant. You answer questions about claim validation results.\n\n")
	b.WriteString("Claim Information (reference this for all questions):\n")
	fmt.Fprintf(&b, "- Claim ID: %s\n", claim.ClaimID)
	fmt.Fprintf(&b, "- Patient: Age %d, Gender %s\n", claim.PatientAge(), claim.Patient.Gender)
	fmt.Fprintf(&b, "- Provider: %s (%s)\n", claim.Provider.Name, claim.Provider.Specialty)
	fmt.Fprintf(&b, "- Date of Service: %s\n", claim.ServiceDate)
	fmt.Fprintf(&b, "- Diagnosis Codes: %s\n", strings.Join(claim.DiagnosisCodes, ", "))
	fmt.Fprintf(&b, "- Procedure Codes: %s\n", procedureList(claim))
	fmt.Fprintf(&b, "- Total Charge: $%.2f\n\n", claim.TotalCharge)
	b.WriteString("Validation Issues Found:\n")
	if len(issues) == 0 {
		b.WriteString("No issues found - claim passed validation\n")
	}
	for _, issue := range issues {
		fmt.Fprintf(&b, "- %s: %s\n", strings.ToUpper(string(issue.Severity)), issue.Description)
	}
	b.WriteString("\nProvide helpful, accurate answers based on the claim data and validation results. Be concise.")
	return b.String()
}

func summaryUserPrompt(issues []domain.ValidationIssue, riskScore float64) string {
	bySeverity := make(map[domain.Severity][]string)
	for _, issue := range issues {
		bySeverity[issue.Severity] = append(bySeverity[issue.Severity], issue.Description)
	}

	var b strings.Builder
	b.WriteString("Summarize these validation results in 2-3 sentences:\n\n")
	fmt.Fprintf(&b, "Risk Score: %.0f/100\nTotal Issues: %d\n\nIssues Found:\n", riskScore, len(issues))
	for _, sev := range []domain.Severity{domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow} {
		descs := bySeverity[sev]
		if len(descs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", strings.ToUpper(string(sev)))
		for _, d := range descs {
			fmt.Fprintf(&b, "  - %s\n", d)
		}
	}
	return b.String()
}
