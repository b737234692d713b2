package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// StatsSummary handles GET /api/stats/summary.
func (h *Handler) StatsSummary(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	summary, err := h.repo.Summary(r.Context())
	if err != nil {
		slog.Error("failed to compute summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// AgentStats handles GET /api/stats/agents.
func (h *Handler) AgentStats(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	stats, err := h.repo.AgentStats(r.Context())
	if err != nil {
		slog.Error("failed to compute agent stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute agent stats")
		return
	}
	if stats == nil {
		stats = []domain.AgentStat{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": stats,
	})
}

// ListPolicyRules returns the policy rules currently loaded in the
// validator. Rules are loaded from the database at startup and can be
// reloaded via POST /api/policy-rules/reload.
func (h *Handler) ListPolicyRules(w http.ResponseWriter, r *http.Request) {
	if h.policy == nil {
		writeError(w, http.StatusServiceUnavailable, "policy validator not available")
		return
	}

	loaded := h.policy.LoadedRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// CreatePolicyRuleRequest is the request body for creating a policy rule.
type CreatePolicyRuleRequest struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Expression   string  `json:"expression"`
	Severity     string  `json:"severity"`
	Confidence   float64 `json:"confidence"`
	Explanation  string  `json:"explanation"`
	SuggestedFix string  `json:"suggestedFix,omitempty"`
	Enabled      bool    `json:"enabled"`
}

// CreatePolicyRule compiles a policy rule and saves it to the database.
// After saving, call POST /api/policy-rules/reload to apply it.
func (h *Handler) CreatePolicyRule(w http.ResponseWriter, r *http.Request) {
	if h.policy == nil || h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "policy rules not available")
		return
	}

	var req CreatePolicyRuleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}
	if req.Severity == "" {
		req.Severity = string(domain.SeverityMedium)
	}
	if _, ok := domain.ParseSeverity(req.Severity); !ok {
		writeError(w, http.StatusBadRequest, "severity must be one of critical, high, medium, low")
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		writeError(w, http.StatusBadRequest, "confidence must be between 0 and 1")
		return
	}

	rule := &domain.PolicyRule{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		Version:      "1.0.0",
		Expression:   req.Expression,
		Severity:     req.Severity,
		Confidence:   req.Confidence,
		Explanation:  req.Explanation,
		SuggestedFix: req.SuggestedFix,
		Enabled:      req.Enabled,
	}

	if err := h.policy.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}

	if err := h.repo.SavePolicyRule(r.Context(), rule); err != nil {
		slog.Error("failed to save policy rule", "id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save policy rule")
		return
	}

	slog.Info("policy rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Policy rule created. Call POST /api/policy-rules/reload to apply changes.",
	})
}

// ReloadPolicyRules reloads all policy rules from the database into the
// validator without a restart.
func (h *Handler) ReloadPolicyRules(w http.ResponseWriter, r *http.Request) {
	if h.policy == nil || h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "policy rules not available")
		return
	}

	dbRules, err := h.repo.ListPolicyRules(r.Context())
	if err != nil {
		slog.Error("failed to list policy rules from database", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load policy rules from database")
		return
	}

	if err := h.policy.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload policy rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload policy rules: "+err.Error())
		return
	}

	slog.Info("policy rules reloaded from database", "count", h.policy.RulesCount())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policy rules reloaded successfully",
		"count":   h.policy.RulesCount(),
	})
}
