package repository

// Schema definitions for the ClaimGuard database.
// Compatible with both SQLite and PostgreSQL.

const schemaClaims = `
CREATE TABLE IF NOT EXISTS claims (
    claim_id TEXT PRIMARY KEY,
    patient_name TEXT,
    patient_dob TEXT NOT NULL,
    patient_gender TEXT NOT NULL,
    insurance_id TEXT NOT NULL,
    provider_name TEXT,
    provider_npi TEXT NOT NULL,
    provider_specialty TEXT,
    service_date TEXT NOT NULL,
    diagnosis_codes TEXT NOT NULL,
    procedure_codes TEXT NOT NULL,
    total_charge DOUBLE PRECISION NOT NULL,
    validation_status TEXT NOT NULL,
    risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(validation_status);
CREATE INDEX IF NOT EXISTS idx_claims_created ON claims(created_at);
`

// schemaValidationIssues stores the latest issues per claim. position keeps
// the ranked order of the validation run.
const schemaValidationIssues = `
CREATE TABLE IF NOT EXISTS validation_issues (
    id TEXT PRIMARY KEY,
    claim_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    agent_name TEXT NOT NULL,
    issue_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    description TEXT NOT NULL,
    explanation TEXT,
    confidence_score DOUBLE PRECISION NOT NULL,
    cost_impact DOUBLE PRECISION,
    suggested_fix TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_issues_claim ON validation_issues(claim_id);
CREATE INDEX IF NOT EXISTS idx_issues_agent ON validation_issues(agent_name);
CREATE INDEX IF NOT EXISTS idx_issues_severity ON validation_issues(severity);
`

const schemaCPTCodes = `
CREATE TABLE IF NOT EXISTS cpt_codes (
    code TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    category TEXT,
    avg_charge DOUBLE PRECISION,
    time_minutes INTEGER,
    complexity_level TEXT,
    requires_diagnosis INTEGER NOT NULL DEFAULT 1
);
`

const schemaICD10Codes = `
CREATE TABLE IF NOT EXISTS icd10_codes (
    code TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    category TEXT,
    age_min INTEGER,
    age_max INTEGER,
    gender_restriction TEXT
);
`

const schemaNCCIEdits = `
CREATE TABLE IF NOT EXISTS ncci_edits (
    column1_code TEXT NOT NULL,
    column2_code TEXT NOT NULL,
    modifier_indicator TEXT NOT NULL,
    PRIMARY KEY (column1_code, column2_code)
);
`

// schemaPolicyRules defines operator-managed CEL edits.
const schemaPolicyRules = `
CREATE TABLE IF NOT EXISTS policy_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    explanation TEXT,
    suggested_fix TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policy_rules_enabled ON policy_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaClaims,
		schemaValidationIssues,
		schemaCPTCodes,
		schemaICD10Codes,
		schemaNCCIEdits,
		schemaPolicyRules,
	}
}
