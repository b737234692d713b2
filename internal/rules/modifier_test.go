package rules

import (
	"testing"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func TestModifier25(t *testing.T) {
	v := NewModifierValidator()
	ref := newFakeRef()

	tests := []struct {
		name  string
		procs []domain.ProcedureCode
		want  int
	}{
		{"E/M with procedure lacking 25", []domain.ProcedureCode{proc("99214", 150), proc("11042", 300)}, 1},
		{"E/M with 25", []domain.ProcedureCode{proc("99214", 150, "25"), proc("11042", 300)}, 0},
		{"E/M only", []domain.ProcedureCode{proc("99214", 150), proc("99213", 100)}, 0},
		{"preventive visit excluded", []domain.ProcedureCode{proc("99396", 250), proc("81002", 10)}, 0},
		{"two E/M codes both flagged", []domain.ProcedureCode{proc("99214", 150), proc("99999", 20), proc("11042", 300)}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim := testClaim()
			claim.ProcedureCodes = tt.procs
			issues := v.Validate(claim, ref)
			if got := countType(issues, domain.IssueMissingModifier25); got != tt.want {
				t.Errorf("expected %d missing_modifier_25 issues, got %d", tt.want, got)
			}
			for _, i := range issues {
				if i.Severity != domain.SeverityMedium || i.ConfidenceScore != 0.88 {
					t.Errorf("unexpected issue: %+v", i)
				}
			}
		})
	}
}

func TestModifierConflicts(t *testing.T) {
	v := NewModifierValidator()
	ref := newFakeRef()

	tests := []struct {
		name     string
		mods     []string
		severity domain.Severity
		fix      string
	}{
		{"59 with XS", []string{"59", "XS"}, domain.SeverityMedium, "Remove modifier 59, keep XS"},
		{"59 with XU and XE keeps first", []string{"XU", "59", "XE"}, domain.SeverityMedium, "Remove modifier 59, keep XE"},
		{"bilateral with laterality", []string{"50", "RT"}, domain.SeverityHigh, "Use either modifier 50 for bilateral, or LT/RT for unilateral procedures"},
		{"TC with 26", []string{"TC", "26"}, domain.SeverityCritical, "Use either TC or 26, not both"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim := testClaim()
			claim.ProcedureCodes = []domain.ProcedureCode{proc("73030", 90, tt.mods...)}

			issues := v.Validate(claim, ref)
			if len(issues) != 1 {
				t.Fatalf("expected exactly 1 issue, got %d", len(issues))
			}
			if issues[0].IssueType != domain.IssueModifierConflict {
				t.Errorf("expected modifier_conflict, got %s", issues[0].IssueType)
			}
			if issues[0].Severity != tt.severity {
				t.Errorf("expected %s, got %s", tt.severity, issues[0].Severity)
			}
			if issues[0].SuggestedFix != tt.fix {
				t.Errorf("expected fix %q, got %q", tt.fix, issues[0].SuggestedFix)
			}
		})
	}
}

func TestModifierNoIssues(t *testing.T) {
	v := NewModifierValidator()
	claim := testClaim()
	claim.ProcedureCodes = []domain.ProcedureCode{
		proc("73030", 90, "RT"),
		proc("73030", 90, "LT"),
		proc("71046", 80, "26"),
		proc("20610", 150, "59"),
	}
	if issues := v.Validate(claim, newFakeRef()); len(issues) != 0 {
		t.Errorf("expected no issues, got %+v", issues)
	}
}

func TestModifierCheckOrder(t *testing.T) {
	v := NewModifierValidator()
	claim := testClaim()
	claim.ProcedureCodes = []domain.ProcedureCode{
		proc("71046", 80, "TC", "26"),
		proc("99214", 150),
		proc("20610", 150, "59", "XS"),
	}

	issues := v.Validate(claim, newFakeRef())
	want := []domain.Severity{domain.SeverityMedium, domain.SeverityMedium, domain.SeverityCritical}
	if len(issues) != len(want) {
		t.Fatalf("expected %d issues, got %d", len(want), len(issues))
	}
	if issues[0].IssueType != domain.IssueMissingModifier25 {
		t.Errorf("expected modifier 25 check first, got %s", issues[0].IssueType)
	}
	for i, sev := range want {
		if issues[i].Severity != sev {
			t.Errorf("issue %d: expected %s, got %s", i, sev, issues[i].Severity)
		}
	}
}

func TestModifierNotAllowed(t *testing.T) {
	v := NewModifierValidator()
	ref := newFakeRef()
	ref.modifiers = []domain.ModifierRule{
		{
			Name:             "radiology",
			CodeRange:        domain.ParseCodeRange("70010-79999"),
			AllowedModifiers: []string{"26", "TC", "LT", "RT"},
			Severity:         "medium",
			Explanation:      "Radiology codes accept component and laterality modifiers only",
		},
		{
			Name:      "unrestricted",
			CodeRange: domain.ParseCodeRange("70010-79999"),
		},
	}

	claim := testClaim()
	claim.ProcedureCodes = []domain.ProcedureCode{
		proc("71046", 80, "26"),
		proc("73030", 90, "RT", "25"),
		proc("20610", 150, "25"),
	}

	issues := v.Validate(claim, ref)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %+v", len(issues), issues)
	}
	issue := issues[0]
	if issue.IssueType != domain.IssueModifierNotAllowed || issue.Severity != domain.SeverityMedium {
		t.Errorf("unexpected issue: %+v", issue)
	}
	if issue.Description != "CPT 73030 billed with modifier 25 not allowed by radiology" {
		t.Errorf("unexpected description: %s", issue.Description)
	}
}
