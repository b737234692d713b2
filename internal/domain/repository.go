// Package domain defines the core interfaces and types for ClaimGuard.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Claim operations
	SaveClaim(ctx context.Context, claim *Claim, result *ValidationResult) error
	GetClaim(ctx context.Context, claimID string) (*StoredClaim, error)
	ListClaims(ctx context.Context, filter ClaimFilter) ([]ClaimSummary, int, error)

	// Statistics
	Summary(ctx context.Context) (*StatsSummary, error)
	AgentStats(ctx context.Context) ([]AgentStat, error)

	// Reference tables
	SaveCPTCode(ctx context.Context, code *CPTCode) error
	SaveICD10Code(ctx context.Context, code *ICD10Code) error
	SaveBundlingEdit(ctx context.Context, edit *BundlingEdit) error
	ListCPTCodes(ctx context.Context) ([]*CPTCode, error)
	ListICD10Codes(ctx context.Context) ([]*ICD10Code, error)
	ListBundlingEdits(ctx context.Context) ([]*BundlingEdit, error)

	// Policy rule configuration
	SavePolicyRule(ctx context.Context, rule *PolicyRule) error
	ListPolicyRules(ctx context.Context) ([]*PolicyRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoredClaim is a persisted claim with its latest validation issues.
type StoredClaim struct {
	Claim            Claim             `json:"claim"`
	ValidationStatus string            `json:"validation_status"`
	RiskScore        float64           `json:"risk_score"`
	CreatedAt        time.Time         `json:"created_at"`
	Issues           []ValidationIssue `json:"validation_issues"`
}

// ClaimFilter pages and filters claim listings.
type ClaimFilter struct {
	Status string
	Skip   int
	Limit  int
}

// ClaimSummary is a row in a claim listing.
type ClaimSummary struct {
	ClaimID          string    `json:"claim_id"`
	ServiceDate      Date      `json:"service_date"`
	TotalCharge      float64   `json:"total_charge"`
	ValidationStatus string    `json:"validation_status"`
	RiskScore        float64   `json:"risk_score"`
	CreatedAt        time.Time `json:"created_at"`
}

// StatsSummary aggregates validation outcomes across stored claims.
type StatsSummary struct {
	TotalClaims       int              `json:"total_claims"`
	StatusBreakdown   map[string]int   `json:"status_breakdown"`
	TotalCostImpact   float64          `json:"total_cost_impact"`
	SeverityBreakdown map[string]int   `json:"severity_breakdown"`
	TopIssueTypes     []IssueTypeCount `json:"top_issue_types"`
	TotalIssues       int              `json:"total_issues"`
	AvgIssuesPerClaim float64          `json:"avg_issues_per_claim"`
}

// IssueTypeCount counts stored issues of one type.
type IssueTypeCount struct {
	IssueType string `json:"issue_type"`
	Count     int    `json:"count"`
}

// AgentStat aggregates stored issues for one validator.
type AgentStat struct {
	AgentName       string  `json:"agent_name"`
	TotalIssues     int     `json:"total_issues"`
	AvgConfidence   float64 `json:"avg_confidence"`
	TotalCostImpact float64 `json:"total_cost_impact"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
