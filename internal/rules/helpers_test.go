package rules

import (
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// fakeRef is an in-memory ReferenceData for tests.
type fakeRef struct {
	cpt       map[string]*domain.CPTCode
	icd       map[string]*domain.ICD10Code
	edits     map[CodePair]*domain.BundlingEdit
	demo      domain.DemographicRuleSet
	modifiers []domain.ModifierRule
}

func newFakeRef() *fakeRef {
	return &fakeRef{
		cpt:   make(map[string]*domain.CPTCode),
		icd:   make(map[string]*domain.ICD10Code),
		edits: make(map[CodePair]*domain.BundlingEdit),
	}
}

func (f *fakeRef) CPT(code string) (*domain.CPTCode, bool) {
	c, ok := f.cpt[code]
	return c, ok
}

func (f *fakeRef) ICD10(code string) (*domain.ICD10Code, bool) {
	c, ok := f.icd[code]
	return c, ok
}

func (f *fakeRef) BundlingEdit(c1, c2 string) (*domain.BundlingEdit, bool) {
	e, ok := f.edits[CodePair{c1, c2}]
	return e, ok
}

func (f *fakeRef) DemographicRules() domain.DemographicRuleSet { return f.demo }

func (f *fakeRef) ModifierRules() []domain.ModifierRule { return f.modifiers }

func (f *fakeRef) addCPT(code, category string, avg float64) {
	c := &domain.CPTCode{Code: code, Category: category}
	if avg > 0 {
		c.AvgCharge = domain.Money(avg)
	}
	f.cpt[code] = c
}

func (f *fakeRef) addEdit(c1, c2, indicator string) {
	f.edits[CodePair{c1, c2}] = &domain.BundlingEdit{Column1: c1, Column2: c2, ModifierIndicator: indicator}
}

func intPtr(v int) *int { return &v }

// testClaim returns a claim for a 45 year old female patient with no lines.
func testClaim() *domain.Claim {
	return &domain.Claim{
		ClaimID: "CLM-TEST-001",
		Patient: domain.Patient{
			Name:        "Jane Doe",
			DOB:         domain.NewDate(1980, time.March, 15),
			Gender:      "F",
			InsuranceID: "INS-123",
		},
		Provider: domain.Provider{
			Name:      "Dr. Smith",
			NPI:       "1234567890",
			Specialty: "Internal Medicine",
		},
		ServiceDate: domain.NewDate(2025, time.June, 1),
	}
}

func proc(cpt string, charge float64, mods ...string) domain.ProcedureCode {
	return domain.ProcedureCode{CPT: cpt, Modifiers: mods, Units: 1, Charge: charge}
}

func countType(issues []domain.ValidationIssue, issueType string) int {
	n := 0
	for _, i := range issues {
		if i.IssueType == issueType {
			n++
		}
	}
	return n
}
