package domain

// PolicyRule is an operator-defined CEL edit evaluated against every claim.
// A rule whose expression evaluates to true raises one issue.
type PolicyRule struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Version      string  `json:"version"`
	Expression   string  `json:"expression"`
	Severity     string  `json:"severity"`
	Confidence   float64 `json:"confidence"`
	Explanation  string  `json:"explanation"`
	SuggestedFix string  `json:"suggestedFix,omitempty"`
	Enabled      bool    `json:"enabled"`
}
