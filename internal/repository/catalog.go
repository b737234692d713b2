package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// SaveCPTCode upserts a procedure catalog entry.
func (r *SQLRepository) SaveCPTCode(ctx context.Context, code *domain.CPTCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("%w: cpt code is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO cpt_codes (
			code, description, category, avg_charge, time_minutes, complexity_level, requires_diagnosis
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			description = excluded.description,
			category = excluded.category,
			avg_charge = excluded.avg_charge,
			time_minutes = excluded.time_minutes,
			complexity_level = excluded.complexity_level,
			requires_diagnosis = excluded.requires_diagnosis
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		code.Code, code.Description, code.Category, nullFloat(code.AvgCharge),
		nullInt(code.TimeMinutes), code.ComplexityLevel, boolToInt(code.RequiresDiagnosis),
	)
	return err
}

// SaveICD10Code upserts a diagnosis catalog entry.
func (r *SQLRepository) SaveICD10Code(ctx context.Context, code *domain.ICD10Code) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("%w: icd10 code is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO icd10_codes (
			code, description, category, age_min, age_max, gender_restriction
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			description = excluded.description,
			category = excluded.category,
			age_min = excluded.age_min,
			age_max = excluded.age_max,
			gender_restriction = excluded.gender_restriction
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		code.Code, code.Description, code.Category,
		nullInt(code.AgeMin), nullInt(code.AgeMax), code.GenderRestriction,
	)
	return err
}

// SaveBundlingEdit upserts an edit for an ordered code pair.
func (r *SQLRepository) SaveBundlingEdit(ctx context.Context, edit *domain.BundlingEdit) error {
	if edit == nil || edit.Column1 == "" || edit.Column2 == "" {
		return fmt.Errorf("%w: both edit columns are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO ncci_edits (column1_code, column2_code, modifier_indicator)
		VALUES (?, ?, ?)
		ON CONFLICT(column1_code, column2_code) DO UPDATE SET
			modifier_indicator = excluded.modifier_indicator
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), edit.Column1, edit.Column2, edit.ModifierIndicator)
	return err
}

// ListCPTCodes returns the procedure catalog.
func (r *SQLRepository) ListCPTCodes(ctx context.Context) ([]*domain.CPTCode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, description, category, avg_charge, time_minutes, complexity_level, requires_diagnosis
		FROM cpt_codes
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []*domain.CPTCode
	for rows.Next() {
		var c domain.CPTCode
		var category, complexity sql.NullString
		var avg sql.NullFloat64
		var minutes sql.NullInt64
		var requires int

		if err := rows.Scan(&c.Code, &c.Description, &category, &avg, &minutes, &complexity, &requires); err != nil {
			return nil, err
		}
		c.Category = category.String
		c.ComplexityLevel = complexity.String
		c.AvgCharge = floatPtr(avg)
		c.TimeMinutes = intPtr(minutes)
		c.RequiresDiagnosis = requires == 1
		codes = append(codes, &c)
	}

	return codes, rows.Err()
}

// ListICD10Codes returns the diagnosis catalog.
func (r *SQLRepository) ListICD10Codes(ctx context.Context) ([]*domain.ICD10Code, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, description, category, age_min, age_max, gender_restriction
		FROM icd10_codes
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []*domain.ICD10Code
	for rows.Next() {
		var c domain.ICD10Code
		var category, gender sql.NullString
		var ageMin, ageMax sql.NullInt64

		if err := rows.Scan(&c.Code, &c.Description, &category, &ageMin, &ageMax, &gender); err != nil {
			return nil, err
		}
		c.Category = category.String
		c.GenderRestriction = gender.String
		c.AgeMin = intPtr(ageMin)
		c.AgeMax = intPtr(ageMax)
		codes = append(codes, &c)
	}

	return codes, rows.Err()
}

// ListBundlingEdits returns the edit table.
func (r *SQLRepository) ListBundlingEdits(ctx context.Context) ([]*domain.BundlingEdit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT column1_code, column2_code, modifier_indicator
		FROM ncci_edits
		ORDER BY column1_code, column2_code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edits []*domain.BundlingEdit
	for rows.Next() {
		var e domain.BundlingEdit
		if err := rows.Scan(&e.Column1, &e.Column2, &e.ModifierIndicator); err != nil {
			return nil, err
		}
		edits = append(edits, &e)
	}

	return edits, rows.Err()
}

// SavePolicyRule upserts a policy rule by ID.
func (r *SQLRepository) SavePolicyRule(ctx context.Context, rule *domain.PolicyRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}
	if rule.Expression == "" {
		return fmt.Errorf("%w: rule expression is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policy_rules (
			id, name, description, version, expression, severity, confidence,
			explanation, suggested_fix, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			severity = excluded.severity,
			confidence = excluded.confidence,
			explanation = excluded.explanation,
			suggested_fix = excluded.suggested_fix,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version, rule.Expression, rule.Severity, rule.Confidence,
		rule.Explanation, rule.SuggestedFix, boolToInt(rule.Enabled), now, now,
	)
	return err
}

// ListPolicyRules returns every policy rule, enabled or not, ordered by ID.
func (r *SQLRepository) ListPolicyRules(ctx context.Context) ([]*domain.PolicyRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, version, expression, severity, confidence,
			   explanation, suggested_fix, enabled
		FROM policy_rules
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.PolicyRule
	for rows.Next() {
		var rule domain.PolicyRule
		var description, explanation, fix sql.NullString
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &description, &rule.Version, &rule.Expression, &rule.Severity, &rule.Confidence,
			&explanation, &fix, &enabled,
		); err != nil {
			return nil, err
		}
		rule.Description = description.String
		rule.Explanation = explanation.String
		rule.SuggestedFix = fix.String
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}
