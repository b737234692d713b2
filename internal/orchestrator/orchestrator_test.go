package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/enrich"
	"github.com/opensource-finance/claimguard/internal/reference"
	"github.com/opensource-finance/claimguard/internal/rules"
)

type staticSource struct{ snap *reference.Snapshot }

func (s staticSource) Current() *reference.Snapshot { return s.snap }

// stubValidator returns fixed issues, optionally after a delay or by panicking.
type stubValidator struct {
	name   string
	issues []domain.ValidationIssue
	delay  time.Duration
	panics bool
	calls  atomic.Int32
}

func (s *stubValidator) Name() string { return s.name }

func (s *stubValidator) Validate(claim *domain.Claim, ref domain.ReferenceData) []domain.ValidationIssue {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.panics {
		panic("boom")
	}
	return s.issues
}

func sev(name string, s domain.Severity) domain.ValidationIssue {
	return domain.ValidationIssue{AgentName: name, IssueType: name + "-" + string(s), Severity: s}
}

func testSnapshot() *reference.Snapshot {
	avg := func(v float64) *float64 { return &v }
	return reference.NewSnapshot(
		[]*domain.CPTCode{
			{Code: "99203", Category: "E/M", AvgCharge: avg(135)},
			{Code: "45378", Category: "GI Procedures", AvgCharge: avg(800)},
			{Code: "45380", Category: "GI Procedures", AvgCharge: avg(950)},
		},
		[]*domain.ICD10Code{{Code: "K63.5", Category: "Diseases of the digestive system"}},
		[]*domain.BundlingEdit{{Column1: "45378", Column2: "45380", ModifierIndicator: "1"}},
		domain.DemographicRuleSet{},
		nil,
	)
}

func testClaim() *domain.Claim {
	return &domain.Claim{
		ClaimID:     "CLM-ORCH-1",
		Patient:     domain.Patient{Gender: "M", DOB: domain.NewDate(1970, time.May, 5), InsuranceID: "INS-1"},
		Provider:    domain.Provider{NPI: "1234567890"},
		ServiceDate: domain.NewDate(2025, time.May, 20),
	}
}

func TestValidateCanonicalOrderAndSort(t *testing.T) {
	a := &stubValidator{name: "a", delay: 20 * time.Millisecond, issues: []domain.ValidationIssue{sev("a", domain.SeverityLow), sev("a", domain.SeverityHigh)}}
	b := &stubValidator{name: "b", issues: []domain.ValidationIssue{sev("b", domain.SeverityHigh), sev("b", domain.SeverityCritical)}}
	c := &stubValidator{name: "c", delay: 5 * time.Millisecond, issues: []domain.ValidationIssue{sev("c", domain.SeverityLow)}}

	o := New(staticSource{reference.Empty()}, Options{Validators: []rules.Validator{a, b, c}})
	result, err := o.Validate(context.Background(), testClaim())
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	want := []string{"b-critical", "a-high", "b-high", "a-low", "c-low"}
	if len(result.Issues) != len(want) {
		t.Fatalf("expected %d issues, got %d", len(want), len(result.Issues))
	}
	for i, tag := range want {
		if result.Issues[i].IssueType != tag {
			t.Errorf("position %d: expected %s, got %s", i, tag, result.Issues[i].IssueType)
		}
	}
	if result.OverallStatus != domain.StatusRejected {
		t.Errorf("expected rejected, got %s", result.OverallStatus)
	}
	if result.RiskScore != 25+15+15+3+3 {
		t.Errorf("unexpected risk score %.1f", result.RiskScore)
	}
}

func TestValidateNoShortCircuit(t *testing.T) {
	critical := &stubValidator{name: "critical", issues: []domain.ValidationIssue{sev("critical", domain.SeverityCritical)}}
	slow := &stubValidator{name: "slow", delay: 30 * time.Millisecond, issues: []domain.ValidationIssue{sev("slow", domain.SeverityLow)}}

	o := New(staticSource{reference.Empty()}, Options{Validators: []rules.Validator{critical, slow}})
	result, err := o.Validate(context.Background(), testClaim())
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if len(result.Issues) != 2 || slow.calls.Load() != 1 {
		t.Error("all validators must complete even after a critical issue")
	}
}

func TestValidatePassed(t *testing.T) {
	o := New(staticSource{testSnapshot()}, Options{})
	claim := testClaim()
	claim.DiagnosisCodes = []string{"K63.5"}
	claim.ProcedureCodes = []domain.ProcedureCode{{CPT: "45378", Charge: 800}}
	claim.TotalCharge = 800

	result, err := o.Validate(context.Background(), claim)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if result.OverallStatus != domain.StatusPassed || result.RiskScore != 0 || result.TotalCostImpact != 0 {
		t.Errorf("expected clean pass, got %+v", result)
	}
	if len(result.Reference) == 0 {
		t.Error("expected reference load status on the result")
	}
}

func TestValidateUpcodingScenario(t *testing.T) {
	o := New(staticSource{testSnapshot()}, Options{})
	claim := testClaim()
	claim.DiagnosisCodes = []string{"Z00.00"}
	claim.ProcedureCodes = []domain.ProcedureCode{{CPT: "99205", Charge: 300}}
	claim.TotalCharge = 300

	result, err := o.Validate(context.Background(), claim)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	var upcoding []domain.ValidationIssue
	for _, i := range result.Issues {
		if i.IssueType == domain.IssuePotentialUpcoding {
			upcoding = append(upcoding, i)
		}
	}
	if len(upcoding) != 1 {
		t.Fatalf("expected one potential_upcoding issue, got %d", len(upcoding))
	}
	if upcoding[0].Severity != domain.SeverityHigh || upcoding[0].CostImpact == nil || *upcoding[0].CostImpact != 165 {
		t.Errorf("unexpected upcoding issue: %+v", upcoding[0])
	}
	if result.OverallStatus != domain.StatusFlagged {
		t.Errorf("expected flagged, got %s", result.OverallStatus)
	}
}

func TestValidateComponentModifierScenario(t *testing.T) {
	o := New(staticSource{testSnapshot()}, Options{})
	claim := testClaim()
	claim.DiagnosisCodes = []string{"R07.9"}
	claim.ProcedureCodes = []domain.ProcedureCode{{CPT: "71046", Modifiers: []string{"TC", "26"}, Charge: 80}}
	claim.TotalCharge = 80

	result, err := o.Validate(context.Background(), claim)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("expected exactly one issue, got %+v", result.Issues)
	}
	if result.Issues[0].IssueType != domain.IssueModifierConflict || result.Issues[0].Severity != domain.SeverityCritical {
		t.Errorf("unexpected issue: %+v", result.Issues[0])
	}
	if result.OverallStatus != domain.StatusRejected || result.RiskScore != 25 {
		t.Errorf("expected rejected with score 25, got %s %.1f", result.OverallStatus, result.RiskScore)
	}
}

func TestValidateDeterministic(t *testing.T) {
	o := New(staticSource{testSnapshot()}, Options{})
	claim := testClaim()
	claim.DiagnosisCodes = []string{"Z00.00", "I10"}
	claim.ProcedureCodes = []domain.ProcedureCode{
		{CPT: "99205", Charge: 300},
		{CPT: "45378", Charge: 800},
		{CPT: "45380", Charge: 2400, Modifiers: []string{"TC", "26"}},
	}
	claim.TotalCharge = 3500

	strip := func(issues []domain.ValidationIssue) []domain.ValidationIssue {
		out := make([]domain.ValidationIssue, len(issues))
		for i, is := range issues {
			is.ID = ""
			out[i] = is
		}
		return out
	}

	first, err := o.Validate(context.Background(), claim)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		next, err := o.Validate(context.Background(), claim)
		if err != nil {
			t.Fatalf("validate failed: %v", err)
		}
		if !reflect.DeepEqual(strip(first.Issues), strip(next.Issues)) {
			t.Fatalf("run %d produced a different issue list", i)
		}
	}
}

func TestValidatePanicIsError(t *testing.T) {
	o := New(staticSource{reference.Empty()}, Options{Validators: []rules.Validator{
		&stubValidator{name: "ok"},
		&stubValidator{name: "broken", panics: true},
	}})
	if _, err := o.Validate(context.Background(), testClaim()); err == nil {
		t.Error("expected error from panicking validator")
	}
}

func TestValidateCancelled(t *testing.T) {
	slow := &stubValidator{name: "slow", delay: 200 * time.Millisecond, issues: []domain.ValidationIssue{sev("slow", domain.SeverityLow)}}
	o := New(staticSource{reference.Empty()}, Options{Validators: []rules.Validator{slow}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := o.Validate(ctx, testClaim())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if result != nil {
		t.Error("no partial result may be returned")
	}
}

func TestValidatePolicyRunsLast(t *testing.T) {
	policy, err := rules.NewPolicyValidator()
	if err != nil {
		t.Fatalf("failed to create policy validator: %v", err)
	}
	if err := policy.ReloadRules([]*domain.PolicyRule{{ID: "p1", Name: "Any", Expression: "procedure_count >= 0", Severity: "low", Enabled: true}}); err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}

	first := &stubValidator{name: "first", issues: []domain.ValidationIssue{sev("first", domain.SeverityLow)}}
	o := New(staticSource{reference.Empty()}, Options{Validators: []rules.Validator{first}, Policy: policy})

	names := o.Validators()
	if len(names) != 2 || names[1] != rules.AgentPolicy {
		t.Errorf("expected policy validator last, got %v", names)
	}

	result, _ := o.Validate(context.Background(), testClaim())
	if len(result.Issues) != 2 || result.Issues[1].AgentName != rules.AgentPolicy {
		t.Errorf("expected policy issue after built-in issue, got %+v", result.Issues)
	}
}

type countingExplainer struct{ calls atomic.Int32 }

func (c *countingExplainer) Explain(ctx context.Context, issue domain.ValidationIssue, claim *domain.Claim) (string, error) {
	c.calls.Add(1)
	return "A longer explanation generated for " + issue.IssueType, nil
}

func TestValidateWithEnricher(t *testing.T) {
	explainer := &countingExplainer{}
	enricher := enrich.New(explainer, nil, domain.EnrichmentConfig{MinLength: 50, Concurrency: 2, IssueTimeout: time.Second})

	v := &stubValidator{name: "v", issues: []domain.ValidationIssue{
		{AgentName: "v", IssueType: "terse", Severity: domain.SeverityMedium, Explanation: "short"},
	}}
	o := New(staticSource{reference.Empty()}, Options{Validators: []rules.Validator{v}, Enricher: enricher})

	result, err := o.Validate(context.Background(), testClaim())
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if result.Issues[0].Explanation != "A longer explanation generated for terse" {
		t.Errorf("expected enriched explanation, got %q", result.Issues[0].Explanation)
	}
	if v.issues[0].Explanation != "short" {
		t.Error("validator output must not be modified")
	}
}

type blockingExplainer struct{}

func (blockingExplainer) Explain(ctx context.Context, issue domain.ValidationIssue, claim *domain.Claim) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestValidateCancelledDuringEnrichment(t *testing.T) {
	enricher := enrich.New(blockingExplainer{}, nil, domain.EnrichmentConfig{MinLength: 50, Concurrency: 1, IssueTimeout: time.Second})
	v := &stubValidator{name: "v", issues: []domain.ValidationIssue{
		{AgentName: "v", IssueType: "terse", Severity: domain.SeverityLow, Explanation: "short"},
	}}
	o := New(staticSource{reference.Empty()}, Options{Validators: []rules.Validator{v}, Enricher: enricher})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := o.Validate(ctx, testClaim())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if result != nil {
		t.Error("no result may be returned for a cancelled run")
	}
}

func TestValidateBatch(t *testing.T) {
	o := New(staticSource{testSnapshot()}, Options{BatchConcurrency: 2})

	good := testClaim()
	good.ClaimID = "CLM-GOOD"
	other := testClaim()
	other.ClaimID = "CLM-OTHER"
	other.ProcedureCodes = []domain.ProcedureCode{{CPT: "71046", Modifiers: []string{"TC", "26"}}}

	result := o.ValidateBatch(context.Background(), []*domain.Claim{good, nil, other})

	if result.Total != 3 || result.Successful != 2 || result.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.Items[0].ClaimID != "CLM-GOOD" || result.Items[2].ClaimID != "CLM-OTHER" {
		t.Error("items must keep input order")
	}
	if result.Items[1].Status != domain.BatchFailed || result.Items[1].Error == "" {
		t.Errorf("expected failed item for nil claim, got %+v", result.Items[1])
	}
	if result.Items[2].Result.OverallStatus != domain.StatusRejected {
		t.Errorf("expected rejected, got %s", result.Items[2].Result.OverallStatus)
	}
}

func TestValidateRaw(t *testing.T) {
	o := New(staticSource{testSnapshot()}, Options{BatchConcurrency: 2})

	first := testClaim()
	first.ClaimID = "CLM-RAW-1"
	last := testClaim()
	last.ClaimID = "CLM-RAW-3"
	raws := []json.RawMessage{
		mustMarshal(t, first),
		json.RawMessage(`{"claim_id": "CLM-RAW-2", "patient": {"gender": "X"}}`),
		mustMarshal(t, last),
	}

	batch := o.ValidateRaw(context.Background(), raws)
	if batch.Result.Total != 3 || batch.Result.Successful != 2 || batch.Result.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", batch.Result)
	}
	for i, want := range []string{"CLM-RAW-1", "CLM-RAW-2", "CLM-RAW-3"} {
		if got := batch.Result.Items[i].ClaimID; got != want {
			t.Errorf("item %d: expected %s, got %s", i, want, got)
		}
	}
	if batch.Result.Items[1].Status != domain.BatchFailed || batch.Result.Items[1].Error == "" {
		t.Errorf("expected intake failure in slot 1, got %+v", batch.Result.Items[1])
	}
	if batch.Claims[1] != nil || batch.Claims[0] == nil || batch.Claims[2].ClaimID != "CLM-RAW-3" {
		t.Error("claims must be parallel to items and nil where intake failed")
	}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return data
}

func TestValidateBatchIsolatesPanics(t *testing.T) {
	o := New(staticSource{reference.Empty()}, Options{Validators: []rules.Validator{&panicOn{claimID: "BAD"}}})

	claims := []*domain.Claim{{ClaimID: "A"}, {ClaimID: "BAD"}, {ClaimID: "C"}}
	result := o.ValidateBatch(context.Background(), claims)

	if result.Successful != 2 || result.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.Items[1].Status != domain.BatchFailed || result.Items[1].Result != nil {
		t.Errorf("expected failed item, got %+v", result.Items[1])
	}
}

type panicOn struct{ claimID string }

func (p *panicOn) Name() string { return "panic-on" }

func (p *panicOn) Validate(claim *domain.Claim, ref domain.ReferenceData) []domain.ValidationIssue {
	if claim.ClaimID == p.claimID {
		panic("bad claim")
	}
	return nil
}
