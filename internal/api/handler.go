package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/orchestrator"
	"github.com/opensource-finance/claimguard/internal/reference"
	"github.com/opensource-finance/claimguard/internal/rules"
)

// maxBodyBytes bounds request bodies; a batch of a few thousand claims fits.
const maxBodyBytes = 8 << 20

// ClaimValidator runs the validation pipeline.
type ClaimValidator interface {
	Validate(ctx context.Context, claim *domain.Claim) (*domain.ValidationResult, error)
	ValidateRaw(ctx context.Context, raws []json.RawMessage) *orchestrator.RawBatch
}

// Assistant answers free-form questions about a claim and summarizes its
// issues.
type Assistant interface {
	AnswerQuestion(ctx context.Context, question string, claim *domain.Claim, issues []domain.ValidationIssue) (string, error)
	Summarize(ctx context.Context, issues []domain.ValidationIssue, riskScore float64) (string, error)
}

// ReferenceStore serves and reloads reference snapshots.
type ReferenceStore interface {
	Current() *reference.Snapshot
	Reload(ctx context.Context) (*reference.Snapshot, error)
}

// Dependencies are the collaborators the handlers use. Repo, Cache, Bus,
// Policy and Assistant may be nil; the routes that need them answer 503.
type Dependencies struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Validator ClaimValidator
	Reference ReferenceStore
	Policy    *rules.PolicyValidator
	Assistant Assistant
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	validator ClaimValidator
	refs      ReferenceStore
	policy    *rules.PolicyValidator
	assistant Assistant
	version   string
	started   time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies, version string) *Handler {
	return &Handler{
		repo:      deps.Repo,
		cache:     deps.Cache,
		bus:       deps.Bus,
		validator: deps.Validator,
		refs:      deps.Reference,
		policy:    deps.Policy,
		assistant: deps.Assistant,
		version:   version,
		started:   time.Now(),
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string              `json:"status"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptimeSeconds"`
	Checks        map[string]string   `json:"checks"`
	Reference     []domain.LoadStatus `json:"reference,omitempty"`
}

// Health returns server health status. A failed dependency or a rule table
// that did not load cleanly makes the status "degraded"; the endpoint
// still answers 200 so the validators keep serving.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Checks:        make(map[string]string),
	}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			return
		}
		resp.Checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventBus", h.bus.Ping)
	}

	if h.refs != nil {
		snap := h.refs.Current()
		resp.Reference = snap.Status()
		if !snap.Healthy() {
			resp.Checks["reference"] = "degraded"
			resp.Status = "degraded"
		} else {
			resp.Checks["reference"] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ReloadReference rebuilds the reference snapshot from the repository and
// the rule table directory. Runs already in flight keep their snapshot.
func (h *Handler) ReloadReference(w http.ResponseWriter, r *http.Request) {
	if h.refs == nil {
		writeError(w, http.StatusServiceUnavailable, "reference store not available")
		return
	}

	snap, err := h.refs.Reload(r.Context())
	if err != nil {
		slog.Error("failed to reload reference data", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload reference data: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "reference data reloaded",
		"healthy":  snap.Healthy(),
		"tables":   snap.Status(),
		"loadedAt": snap.LoadedAt(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
