// Package intake checks claims arriving over HTTP or the event bus before
// they reach the validators.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/opensource-finance/claimguard/internal/domain"
)

// ErrInvalidClaim wraps every rejection from Check.
var ErrInvalidClaim = errors.New("invalid claim")

// validate caches struct metadata and is safe for concurrent use.
var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Check verifies that a claim is well formed. It does not consult any
// reference data.
func Check(claim *domain.Claim) error {
	if claim == nil {
		return fmt.Errorf("%w: claim is required", ErrInvalidClaim)
	}

	if err := validate.Struct(claim); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", ErrInvalidClaim, describe(verrs))
		}
		return fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	}

	// Date fields are structs, so the tag validator cannot see zero values.
	if claim.Patient.DOB.IsZero() {
		return fmt.Errorf("%w: patient.dob is required", ErrInvalidClaim)
	}
	if claim.ServiceDate.IsZero() {
		return fmt.Errorf("%w: service_date is required", ErrInvalidClaim)
	}
	if claim.ServiceDate.Before(claim.Patient.DOB.Time) {
		return fmt.Errorf("%w: service_date precedes patient.dob", ErrInvalidClaim)
	}
	return nil
}

// Decode parses one claim from JSON and checks it. Units default to 1 when
// omitted.
func Decode(data []byte) (*domain.Claim, error) {
	var claim domain.Claim
	if err := json.Unmarshal(data, &claim); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	}
	Normalize(&claim)
	if err := Check(&claim); err != nil {
		return nil, err
	}
	return &claim, nil
}

// PeekClaimID returns the claim_id of a payload that may not decode as a
// claim, so a rejection can still be matched to its input.
func PeekClaimID(data []byte) string {
	var head struct {
		ClaimID string `json:"claim_id"`
	}
	_ = json.Unmarshal(data, &head)
	return head.ClaimID
}

// Normalize fills defaults the wire format allows callers to omit.
func Normalize(claim *domain.Claim) {
	for i := range claim.ProcedureCodes {
		if claim.ProcedureCodes[i].Units == 0 {
			claim.ProcedureCodes[i].Units = 1
		}
	}
}

func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Claim.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "len":
			msgs = append(msgs, fmt.Sprintf("%s must be %s characters", field, fe.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
