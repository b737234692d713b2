package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/claimguard/internal/domain"
)

const defaultPolicyConfidence = 0.80

// PolicyValidator evaluates operator-defined CEL rules against each claim.
// Rules can be replaced at runtime; a run sees one consistent rule set.
type PolicyValidator struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules []*CompiledPolicy
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Rule    *domain.PolicyRule
	Program cel.Program
}

// NewPolicyValidator creates a policy validator with no rules loaded.
func NewPolicyValidator() (*PolicyValidator, error) {
	env, err := cel.NewEnv(
		cel.Variable("claim", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("diagnosis_codes", cel.ListType(cel.StringType)),
		cel.Variable("procedure_codes", cel.ListType(cel.StringType)),
		cel.Variable("modifiers", cel.ListType(cel.StringType)),
		cel.Variable("procedure_count", cel.IntType),
		cel.Variable("total_charge", cel.DoubleType),
		cel.Variable("patient_age", cel.IntType),
		cel.Variable("gender", cel.StringType),
		cel.Variable("specialty", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &PolicyValidator{env: env}, nil
}

// Name returns the validator name.
func (v *PolicyValidator) Name() string { return AgentPolicy }

// ValidateRule compiles a rule without loading it.
func (v *PolicyValidator) ValidateRule(rule *domain.PolicyRule) error {
	if rule == nil {
		return fmt.Errorf("policy rule is required")
	}
	_, err := v.compile(rule)
	return err
}

// ReloadRules replaces the loaded rules. Disabled rules are skipped.
// On a compile error the previous rules stay in place.
func (v *PolicyValidator) ReloadRules(rules []*domain.PolicyRule) error {
	compiled := make([]*CompiledPolicy, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		c, err := v.compile(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}
	sort.Slice(compiled, func(i, j int) bool { return compiled[i].Rule.ID < compiled[j].Rule.ID })

	v.mu.Lock()
	v.rules = compiled
	v.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (v *PolicyValidator) RulesCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.rules)
}

// LoadedRules returns the loaded rule definitions in evaluation order.
func (v *PolicyValidator) LoadedRules() []*domain.PolicyRule {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*domain.PolicyRule, 0, len(v.rules))
	for _, c := range v.rules {
		out = append(out, c.Rule)
	}
	return out
}

// Validate raises one issue per rule whose expression is true.
// A rule that fails to evaluate is logged and skipped.
func (v *PolicyValidator) Validate(claim *domain.Claim, _ domain.ReferenceData) []domain.ValidationIssue {
	v.mu.RLock()
	rules := v.rules
	v.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	activation := policyActivation(claim)

	var issues []domain.ValidationIssue
	for _, c := range rules {
		out, _, err := c.Program.Eval(activation)
		if err != nil {
			slog.Warn("policy rule evaluation failed", "rule_id", c.Rule.ID, "claim_id", claim.ClaimID, "error", err)
			continue
		}
		if matched, ok := out.(types.Bool); !ok || !bool(matched) {
			continue
		}

		sev, ok := domain.ParseSeverity(c.Rule.Severity)
		if !ok {
			sev = domain.SeverityMedium
		}
		conf := c.Rule.Confidence
		if conf == 0 {
			conf = defaultPolicyConfidence
		}
		issue := newIssue(AgentPolicy, domain.IssuePolicyViolation, sev, conf)
		issue.Description = fmt.Sprintf("Policy %s matched claim %s", c.Rule.Name, claim.ClaimID)
		if c.Rule.Description != "" {
			issue.Description = fmt.Sprintf("Policy %s: %s", c.Rule.Name, c.Rule.Description)
		}
		issue.Explanation = c.Rule.Explanation
		issue.SuggestedFix = c.Rule.SuggestedFix
		issues = append(issues, issue)
	}
	return issues
}

func (v *PolicyValidator) compile(rule *domain.PolicyRule) (*CompiledPolicy, error) {
	ast, iss := v.env.Compile(rule.Expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", rule.ID, iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}
	program, err := v.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", rule.ID, err)
	}
	return &CompiledPolicy{Rule: rule, Program: program}, nil
}

func policyActivation(claim *domain.Claim) map[string]any {
	cpts := make([]string, 0, len(claim.ProcedureCodes))
	var mods []string
	lines := make([]any, 0, len(claim.ProcedureCodes))
	for _, p := range claim.ProcedureCodes {
		cpts = append(cpts, p.CPT)
		mods = append(mods, p.Modifiers...)
		lines = append(lines, map[string]any{
			"cpt":       p.CPT,
			"modifiers": append([]string{}, p.Modifiers...),
			"units":     int64(p.Units),
			"charge":    p.Charge,
		})
	}
	diagnoses := append([]string{}, claim.DiagnosisCodes...)
	if mods == nil {
		mods = []string{}
	}

	return map[string]any{
		"claim": map[string]any{
			"id":           claim.ClaimID,
			"service_date": claim.ServiceDate.String(),
			"total_charge": claim.TotalCharge,
			"patient": map[string]any{
				"gender": claim.Patient.Gender,
				"age":    int64(claim.PatientAge()),
			},
			"provider": map[string]any{
				"npi":       claim.Provider.NPI,
				"specialty": claim.Provider.Specialty,
			},
			"procedures": lines,
		},
		"diagnosis_codes": diagnoses,
		"procedure_codes": cpts,
		"modifiers":       mods,
		"procedure_count": int64(len(claim.ProcedureCodes)),
		"total_charge":    claim.TotalCharge,
		"patient_age":     int64(claim.PatientAge()),
		"gender":          claim.Patient.Gender,
		"specialty":       claim.Provider.Specialty,
	}
}
