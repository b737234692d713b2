package rules

import (
	"fmt"
	"sync"
	"testing"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func TestPolicyValidatorCreation(t *testing.T) {
	v, err := NewPolicyValidator()
	if err != nil {
		t.Fatalf("failed to create policy validator: %v", err)
	}
	if v.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", v.RulesCount())
	}
	if issues := v.Validate(testClaim(), newFakeRef()); issues != nil {
		t.Errorf("expected nil issues with no rules, got %+v", issues)
	}
}

func TestPolicyValidateRule(t *testing.T) {
	v, _ := NewPolicyValidator()

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"bool expression", "total_charge > 1000.0", false},
		{"list membership", `"99215" in procedure_codes`, false},
		{"map access", `claim.provider.specialty == "Cardiology"`, false},
		{"invalid syntax", "this is not valid CEL !!!", true},
		{"non bool result", "total_charge * 2.0", true},
		{"unknown variable", "amount > 1.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateRule(&domain.PolicyRule{ID: "p", Expression: tt.expr})
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}

	if err := v.ValidateRule(nil); err == nil {
		t.Error("expected error for nil rule")
	}
}

func TestPolicyEvaluate(t *testing.T) {
	v, _ := NewPolicyValidator()
	err := v.ReloadRules([]*domain.PolicyRule{
		{
			ID:          "b-high-charge",
			Name:        "High charge",
			Expression:  "total_charge > 1000.0",
			Severity:    "high",
			Confidence:  0.9,
			Explanation: "Claims above $1000 need prior authorization",
			Enabled:     true,
		},
		{
			ID:         "a-pediatric-em",
			Name:       "Adult E/M only",
			Expression: `patient_age < 18 && procedure_codes.exists(c, c.startsWith("992"))`,
			Severity:   "bogus",
			Enabled:    true,
		},
		{
			ID:         "c-disabled",
			Name:       "Disabled",
			Expression: "true",
			Enabled:    false,
		},
	})
	if err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if v.RulesCount() != 2 {
		t.Fatalf("expected 2 enabled rules, got %d", v.RulesCount())
	}

	claim := testClaim()
	claim.ProcedureCodes = []domain.ProcedureCode{proc("99213", 1500)}
	claim.TotalCharge = 1500

	issues := v.Validate(claim, newFakeRef())
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	if issues[0].IssueType != domain.IssuePolicyViolation || issues[0].Severity != domain.SeverityHigh {
		t.Errorf("unexpected issue: %+v", issues[0])
	}
	if issues[0].AgentName != AgentPolicy {
		t.Errorf("expected agent %s, got %s", AgentPolicy, issues[0].AgentName)
	}

	claim.Patient.DOB = domain.NewDate(2015, 1, 1)
	issues = v.Validate(claim, newFakeRef())
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}
	// Rules evaluate in ID order.
	if issues[0].Severity != domain.SeverityMedium || issues[0].ConfidenceScore != defaultPolicyConfidence {
		t.Errorf("expected defaults for the first rule, got %+v", issues[0])
	}
}

func TestPolicyReloadKeepsRulesOnError(t *testing.T) {
	v, _ := NewPolicyValidator()
	good := []*domain.PolicyRule{{ID: "ok", Expression: "procedure_count > 3", Enabled: true}}
	if err := v.ReloadRules(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []*domain.PolicyRule{{ID: "bad", Expression: "procedure_count >", Enabled: true}}
	if err := v.ReloadRules(bad); err == nil {
		t.Fatal("expected compile error")
	}
	if v.RulesCount() != 1 || v.LoadedRules()[0].ID != "ok" {
		t.Error("previous rules should remain loaded after a failed reload")
	}
}

func TestPolicyConcurrentReload(t *testing.T) {
	v, _ := NewPolicyValidator()
	claim := testClaim()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			v.ReloadRules([]*domain.PolicyRule{{ID: fmt.Sprintf("r%d", n), Expression: "true", Enabled: true}})
		}(i)
		go func() {
			defer wg.Done()
			v.Validate(claim, newFakeRef())
		}()
	}
	wg.Wait()

	if v.RulesCount() != 1 {
		t.Errorf("expected 1 rule after concurrent reloads, got %d", v.RulesCount())
	}
}
