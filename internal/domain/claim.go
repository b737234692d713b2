package domain

import (
	"time"
)

// Claim is a structured medical claim submitted for validation.
// A Claim is treated as immutable once it enters the validation pipeline.
type Claim struct {
	ClaimID        string          `json:"claim_id" validate:"required"`
	Patient        Patient         `json:"patient"`
	Provider       Provider        `json:"provider"`
	ServiceDate    Date            `json:"service_date"`
	DiagnosisCodes []string        `json:"diagnosis_codes"`
	ProcedureCodes []ProcedureCode `json:"procedure_codes" validate:"dive"`
	TotalCharge    float64         `json:"total_charge" validate:"gte=0"`
}

// Patient holds the demographic data used by the validators.
type Patient struct {
	Name        string `json:"name,omitempty"`
	DOB         Date   `json:"dob"`
	Gender      string `json:"gender" validate:"required,oneof=M F"`
	InsuranceID string `json:"insurance_id" validate:"required"`
}

// Provider identifies the billing provider.
type Provider struct {
	Name      string `json:"name,omitempty"`
	NPI       string `json:"npi" validate:"required,len=10"`
	Specialty string `json:"specialty"`
}

// ProcedureCode is a single billed procedure line.
type ProcedureCode struct {
	CPT       string   `json:"cpt" validate:"required"`
	Modifiers []string `json:"modifiers"`
	Units     int      `json:"units"`
	Charge    float64  `json:"charge" validate:"gte=0"`
}

// PatientAge returns the patient's age in whole years on the date of service.
// It uses the day count divided by 365, not calendar anniversaries.
func (c *Claim) PatientAge() int {
	days := int(c.ServiceDate.Sub(c.Patient.DOB.Time).Hours() / 24)
	if days < 0 {
		return -((-days + 364) / 365)
	}
	return days / 365
}

// HasModifier reports whether the procedure line carries the given modifier.
func (p ProcedureCode) HasModifier(mod string) bool {
	for _, m := range p.Modifiers {
		if m == mod {
			return true
		}
	}
	return false
}

// HasAnyModifier reports whether the line carries at least one of mods.
func (p ProcedureCode) HasAnyModifier(mods ...string) bool {
	for _, m := range mods {
		if p.HasModifier(m) {
			return true
		}
	}
	return false
}

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate builds a Date at midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// MarshalJSON encodes the date as a quoted YYYY-MM-DD string.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}

// UnmarshalJSON accepts a quoted YYYY-MM-DD string or null.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		d.Time = time.Time{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return &time.ParseError{Layout: DateLayout, Value: s}
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// String returns the YYYY-MM-DD form.
func (d Date) String() string {
	return d.Format(DateLayout)
}
