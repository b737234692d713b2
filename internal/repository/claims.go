package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/claimguard/internal/domain"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	topIssueTypes    = 10
)

// SaveClaim upserts a claim and replaces its stored issues with the issues
// of result. A nil result stores the claim as pending.
func (r *SQLRepository) SaveClaim(ctx context.Context, claim *domain.Claim, result *domain.ValidationResult) error {
	if claim == nil || claim.ClaimID == "" {
		return fmt.Errorf("%w: claim_id is required", ErrInvalidInput)
	}

	diagnoses, err := json.Marshal(claim.DiagnosisCodes)
	if err != nil {
		return fmt.Errorf("failed to encode diagnosis codes: %w", err)
	}
	procedures, err := json.Marshal(claim.ProcedureCodes)
	if err != nil {
		return fmt.Errorf("failed to encode procedure codes: %w", err)
	}

	status := domain.StatusPending
	var riskScore float64
	var issues []domain.ValidationIssue
	if result != nil {
		status = result.OverallStatus
		riskScore = result.RiskScore
		issues = result.Issues
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO claims (
			claim_id, patient_name, patient_dob, patient_gender, insurance_id,
			provider_name, provider_npi, provider_specialty, service_date,
			diagnosis_codes, procedure_codes, total_charge,
			validation_status, risk_score, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(claim_id) DO UPDATE SET
			patient_name = excluded.patient_name,
			patient_dob = excluded.patient_dob,
			patient_gender = excluded.patient_gender,
			insurance_id = excluded.insurance_id,
			provider_name = excluded.provider_name,
			provider_npi = excluded.provider_npi,
			provider_specialty = excluded.provider_specialty,
			service_date = excluded.service_date,
			diagnosis_codes = excluded.diagnosis_codes,
			procedure_codes = excluded.procedure_codes,
			total_charge = excluded.total_charge,
			validation_status = excluded.validation_status,
			risk_score = excluded.risk_score,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query),
		claim.ClaimID, claim.Patient.Name, claim.Patient.DOB.String(), claim.Patient.Gender, claim.Patient.InsuranceID,
		claim.Provider.Name, claim.Provider.NPI, claim.Provider.Specialty, claim.ServiceDate.String(),
		string(diagnoses), string(procedures), claim.TotalCharge,
		status, riskScore, now, now,
	); err != nil {
		return fmt.Errorf("failed to save claim: %w", err)
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM validation_issues WHERE claim_id = ?`), claim.ClaimID); err != nil {
		return fmt.Errorf("failed to clear issues: %w", err)
	}

	insert := r.rebind(`
		INSERT INTO validation_issues (
			id, claim_id, position, agent_name, issue_type, severity,
			description, explanation, confidence_score, cost_impact, suggested_fix, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for i, issue := range issues {
		id := issue.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx, insert,
			id, claim.ClaimID, i, issue.AgentName, issue.IssueType, string(issue.Severity),
			issue.Description, issue.Explanation, issue.ConfidenceScore, nullFloat(issue.CostImpact), issue.SuggestedFix, now,
		); err != nil {
			return fmt.Errorf("failed to save issue: %w", err)
		}
	}

	return tx.Commit()
}

// GetClaim retrieves a claim and its stored issues.
func (r *SQLRepository) GetClaim(ctx context.Context, claimID string) (*domain.StoredClaim, error) {
	if claimID == "" {
		return nil, fmt.Errorf("%w: claim_id is required", ErrInvalidInput)
	}

	query := `
		SELECT claim_id, patient_name, patient_dob, patient_gender, insurance_id,
			   provider_name, provider_npi, provider_specialty, service_date,
			   diagnosis_codes, procedure_codes, total_charge,
			   validation_status, risk_score, created_at
		FROM claims
		WHERE claim_id = ?
	`

	var stored domain.StoredClaim
	var patientName, providerName, specialty sql.NullString
	var dob, serviceDate, diagnoses, procedures string

	c := &stored.Claim
	err := r.db.QueryRowContext(ctx, r.rebind(query), claimID).Scan(
		&c.ClaimID, &patientName, &dob, &c.Patient.Gender, &c.Patient.InsuranceID,
		&providerName, &c.Provider.NPI, &specialty, &serviceDate,
		&diagnoses, &procedures, &c.TotalCharge,
		&stored.ValidationStatus, &stored.RiskScore, &stored.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Patient.Name = patientName.String
	c.Provider.Name = providerName.String
	c.Provider.Specialty = specialty.String
	if c.Patient.DOB, err = domain.ParseDate(dob); err != nil {
		return nil, fmt.Errorf("invalid stored dob: %w", err)
	}
	if c.ServiceDate, err = domain.ParseDate(serviceDate); err != nil {
		return nil, fmt.Errorf("invalid stored service date: %w", err)
	}
	if err := json.Unmarshal([]byte(diagnoses), &c.DiagnosisCodes); err != nil {
		return nil, fmt.Errorf("invalid stored diagnosis codes: %w", err)
	}
	if err := json.Unmarshal([]byte(procedures), &c.ProcedureCodes); err != nil {
		return nil, fmt.Errorf("invalid stored procedure codes: %w", err)
	}

	stored.Issues, err = r.listIssues(ctx, claimID)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *SQLRepository) listIssues(ctx context.Context, claimID string) ([]domain.ValidationIssue, error) {
	query := `
		SELECT id, agent_name, issue_type, severity, description, explanation,
			   confidence_score, cost_impact, suggested_fix
		FROM validation_issues
		WHERE claim_id = ?
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	issues := []domain.ValidationIssue{}
	for rows.Next() {
		var issue domain.ValidationIssue
		var severity string
		var explanation, fix sql.NullString
		var cost sql.NullFloat64

		if err := rows.Scan(
			&issue.ID, &issue.AgentName, &issue.IssueType, &severity, &issue.Description, &explanation,
			&issue.ConfidenceScore, &cost, &fix,
		); err != nil {
			return nil, err
		}

		issue.Severity = domain.Severity(severity)
		issue.Explanation = explanation.String
		issue.SuggestedFix = fix.String
		issue.CostImpact = floatPtr(cost)
		issues = append(issues, issue)
	}

	return issues, rows.Err()
}

// ListClaims returns a page of claims, newest first, and the total count
// matching the filter.
func (r *SQLRepository) ListClaims(ctx context.Context, filter domain.ClaimFilter) ([]domain.ClaimSummary, int, error) {
	if filter.Skip < 0 || filter.Limit < 0 {
		return nil, 0, fmt.Errorf("%w: skip and limit must not be negative", ErrInvalidInput)
	}
	limit := filter.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	where := ""
	var args []any
	if filter.Status != "" {
		where = " WHERE validation_status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, r.rebind("SELECT COUNT(*) FROM claims"+where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT claim_id, service_date, total_charge, validation_status, risk_score, created_at
		FROM claims` + where + `
		ORDER BY created_at DESC, claim_id
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), append(args, limit, filter.Skip)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	claims := []domain.ClaimSummary{}
	for rows.Next() {
		var s domain.ClaimSummary
		var serviceDate string
		if err := rows.Scan(&s.ClaimID, &serviceDate, &s.TotalCharge, &s.ValidationStatus, &s.RiskScore, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		if s.ServiceDate, err = domain.ParseDate(serviceDate); err != nil {
			return nil, 0, fmt.Errorf("invalid stored service date: %w", err)
		}
		claims = append(claims, s)
	}

	return claims, total, rows.Err()
}

// Summary aggregates outcomes across all stored claims.
func (r *SQLRepository) Summary(ctx context.Context) (*domain.StatsSummary, error) {
	s := &domain.StatsSummary{
		StatusBreakdown:   map[string]int{},
		SeverityBreakdown: map[string]int{},
		TopIssueTypes:     []domain.IssueTypeCount{},
	}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM claims`).Scan(&s.TotalClaims); err != nil {
		return nil, err
	}
	if err := r.countBy(ctx, `SELECT validation_status, COUNT(*) FROM claims GROUP BY validation_status`, s.StatusBreakdown); err != nil {
		return nil, err
	}
	if err := r.countBy(ctx, `SELECT severity, COUNT(*) FROM validation_issues GROUP BY severity`, s.SeverityBreakdown); err != nil {
		return nil, err
	}

	var cost sql.NullFloat64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(cost_impact) FROM validation_issues`,
	).Scan(&s.TotalIssues, &cost); err != nil {
		return nil, err
	}
	s.TotalCostImpact = cost.Float64

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT issue_type, COUNT(*) AS n
		FROM validation_issues
		GROUP BY issue_type
		ORDER BY n DESC, issue_type
		LIMIT ?
	`), topIssueTypes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.IssueTypeCount
		if err := rows.Scan(&c.IssueType, &c.Count); err != nil {
			return nil, err
		}
		s.TopIssueTypes = append(s.TopIssueTypes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.TotalClaims > 0 {
		s.AvgIssuesPerClaim = float64(s.TotalIssues) / float64(s.TotalClaims)
	}
	return s, nil
}

func (r *SQLRepository) countBy(ctx context.Context, query string, into map[string]int) error {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

// AgentStats aggregates stored issues per validator.
func (r *SQLRepository) AgentStats(ctx context.Context) ([]domain.AgentStat, error) {
	query := `
		SELECT agent_name, COUNT(*), AVG(confidence_score), SUM(cost_impact)
		FROM validation_issues
		GROUP BY agent_name
		ORDER BY agent_name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []domain.AgentStat{}
	for rows.Next() {
		var s domain.AgentStat
		var cost sql.NullFloat64
		if err := rows.Scan(&s.AgentName, &s.TotalIssues, &s.AvgConfidence, &cost); err != nil {
			return nil, err
		}
		s.TotalCostImpact = cost.Float64
		stats = append(stats, s)
	}

	return stats, rows.Err()
}
