package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ReferenceData is the read-only query contract validators use against
// code tables, edit tables and rule tables. Implementations must be safe
// for concurrent readers and must not change during a validation run.
type ReferenceData interface {
	// CPT looks up a procedure code by exact match.
	CPT(code string) (*CPTCode, bool)

	// ICD10 looks up a diagnosis code by exact match.
	ICD10(code string) (*ICD10Code, bool)

	// BundlingEdit looks up the edit for an ordered code pair.
	BundlingEdit(column1, column2 string) (*BundlingEdit, bool)

	// DemographicRules returns the range-based demographic rules.
	DemographicRules() DemographicRuleSet

	// ModifierRules returns the range-based modifier rules.
	ModifierRules() []ModifierRule
}

// CPTCode is a procedure catalog entry.
type CPTCode struct {
	Code              string   `json:"code"`
	Description       string   `json:"description"`
	Category          string   `json:"category,omitempty"`
	AvgCharge         *float64 `json:"avgCharge,omitempty"`
	TimeMinutes       *int     `json:"timeMinutes,omitempty"`
	ComplexityLevel   string   `json:"complexityLevel,omitempty"`
	RequiresDiagnosis bool     `json:"requiresDiagnosis"`
}

// ICD10Code is a diagnosis catalog entry.
type ICD10Code struct {
	Code              string `json:"code"`
	Description       string `json:"description"`
	Category          string `json:"category,omitempty"`
	AgeMin            *int   `json:"ageMin,omitempty"`
	AgeMax            *int   `json:"ageMax,omitempty"`
	GenderRestriction string `json:"genderRestriction,omitempty"`
}

// Bundling edit modifier indicators.
const (
	IndicatorNoOverride    = "0"
	IndicatorModifierAllow = "1"
	IndicatorNotApplicable = "9"
)

// BundlingEdit states that Column2 is bundled into Column1.
type BundlingEdit struct {
	Column1           string `json:"column1"`
	Column2           string `json:"column2"`
	ModifierIndicator string `json:"modifierIndicator"`
}

// CodeRange selects codes by an explicit list, a single code, or a
// lexicographic "START-END" span such as "O00-O9A".
type CodeRange struct {
	Codes []string
	Start string
	End   string
}

// ParseCodeRange parses the string form of a range.
func ParseCodeRange(s string) CodeRange {
	if start, end, ok := strings.Cut(s, "-"); ok {
		return CodeRange{Start: start, End: end}
	}
	return CodeRange{Codes: []string{s}}
}

// Contains reports whether code falls in the range. Spans compare as
// strings, not numbers.
func (r CodeRange) Contains(code string) bool {
	if r.Start != "" || r.End != "" {
		return r.Start <= code && code <= r.End
	}
	for _, c := range r.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// IsZero reports whether the range selects nothing.
func (r CodeRange) IsZero() bool {
	return len(r.Codes) == 0 && r.Start == "" && r.End == ""
}

// UnmarshalJSON accepts either a string or a list of strings.
func (r *CodeRange) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = ParseCodeRange(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("code_range must be a string or list of strings: %w", err)
	}
	*r = CodeRange{Codes: list}
	return nil
}

// MarshalJSON writes the range back in its source form.
func (r CodeRange) MarshalJSON() ([]byte, error) {
	if r.Start != "" || r.End != "" {
		return json.Marshal(r.Start + "-" + r.End)
	}
	if len(r.Codes) == 1 {
		return json.Marshal(r.Codes[0])
	}
	return json.Marshal(r.Codes)
}

// DemographicRule restricts a code range by gender and/or age.
type DemographicRule struct {
	Name        string    `json:"name"`
	CodeRange   CodeRange `json:"code_range"`
	Description string    `json:"description"`
	Gender      string    `json:"gender,omitempty"`
	AgeMin      int       `json:"age_min,omitempty"`
	AgeMax      int       `json:"age_max,omitempty"`
	Severity    string    `json:"severity"`
	Confidence  *float64  `json:"confidence,omitempty"`
	Explanation string    `json:"explanation"`
}

// DemographicRuleSet holds diagnosis and procedure rules in evaluation order.
type DemographicRuleSet struct {
	ICD10 []DemographicRule
	CPT   []DemographicRule
}

// ModifierRule limits which modifiers may appear on a code range.
type ModifierRule struct {
	Name             string    `json:"name"`
	CodeRange        CodeRange `json:"code_range"`
	AllowedModifiers []string  `json:"allowed_modifiers"`
	Severity         string    `json:"severity"`
	Explanation      string    `json:"explanation"`
}

// Rule table load states.
const (
	LoadOK       = "ok"
	LoadDegraded = "degraded"
	LoadMissing  = "missing"
)

// LoadStatus reports how a reference table loaded. A degraded or missing
// table means the checks that depend on it produce no issues.
type LoadStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// OK reports whether the table loaded cleanly.
func (s LoadStatus) OK() bool {
	return s.State == LoadOK
}

// Explainer produces a longer explanation for an issue in the context of
// its claim. Callers must treat every error as non-fatal.
type Explainer interface {
	Explain(ctx context.Context, issue ValidationIssue, claim *Claim) (string, error)
}
