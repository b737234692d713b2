package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/intake"
	"github.com/opensource-finance/claimguard/internal/llm"
	"github.com/opensource-finance/claimguard/internal/repository"
	"github.com/opensource-finance/claimguard/internal/worker"
)

const (
	defaultListLimit = 20
	maxListLimit     = 1000
)

// ValidateResponse is the body of POST /api/claims/validate.
type ValidateResponse struct {
	*domain.ValidationResult
	Summary string `json:"summary,omitempty"`
}

// ValidateClaim handles POST /api/claims/validate. The claim and its issues
// are stored before the result is returned. With ?summary=true a short
// narrative summary is attached when the assistant is available.
func (h *Handler) ValidateClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	claim, err := intake.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.validator.Validate(ctx, claim)
	if err != nil {
		slog.Error("validation failed", "claim_id", claim.ClaimID, "error", err)
		writeError(w, http.StatusInternalServerError, "validation failed: "+err.Error())
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveClaim(ctx, claim, result); err != nil {
			slog.Error("failed to save claim", "claim_id", claim.ClaimID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save claim")
			return
		}
	}

	resp := ValidateResponse{ValidationResult: result}
	if wantSummary, _ := strconv.ParseBool(r.URL.Query().Get("summary")); wantSummary && h.assistant != nil {
		summary, err := h.assistant.Summarize(ctx, result.Issues, result.RiskScore)
		if err != nil {
			slog.Warn("summary unavailable", "claim_id", claim.ClaimID, "error", err)
		}
		resp.Summary = summary
	}

	writeJSON(w, http.StatusOK, resp)
}

// BatchResponse is the body of POST /api/claims/batch-validate.
type BatchResponse struct {
	Total      int                `json:"total"`
	Successful int                `json:"successful"`
	Failed     int                `json:"failed"`
	Results    []domain.BatchItem `json:"results"`
	Errors     []domain.BatchItem `json:"errors"`
}

// BatchValidate handles POST /api/claims/batch-validate. The body is a JSON
// array of claims. A claim that fails intake, validation or storage is
// reported under errors without affecting the others; both lists keep
// input order.
func (h *Handler) BatchValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON array of claims")
		return
	}

	batch := h.validator.ValidateRaw(ctx, raws)
	items := batch.Result.Items
	for i, item := range items {
		if item.Status != domain.BatchSuccess || h.repo == nil {
			continue
		}
		if err := h.repo.SaveClaim(ctx, batch.Claims[i], item.Result); err != nil {
			slog.Error("failed to save claim", "claim_id", item.ClaimID, "error", err)
			items[i] = domain.BatchItem{ClaimID: item.ClaimID, Status: domain.BatchFailed, Error: "failed to save claim"}
		}
	}

	resp := BatchResponse{
		Total:   len(raws),
		Results: []domain.BatchItem{},
		Errors:  []domain.BatchItem{},
	}
	for _, item := range items {
		if item.Status == domain.BatchSuccess {
			resp.Results = append(resp.Results, item)
		} else {
			resp.Errors = append(resp.Errors, item)
		}
	}
	resp.Successful = len(resp.Results)
	resp.Failed = len(resp.Errors)

	writeJSON(w, http.StatusOK, resp)
}

// SubmitClaim handles POST /api/claims/submit. The claim is checked and
// queued on the event bus for the intake worker; the validated result is
// published on claimguard.claim.validated.
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	claim, err := intake.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	requestID := GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	payload, err := json.Marshal(worker.SubmittedClaim{RequestID: requestID, Claim: body})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode claim")
		return
	}

	if err := h.bus.Publish(ctx, domain.TopicClaimSubmitted, payload); err != nil {
		slog.Error("failed to queue claim", "claim_id", claim.ClaimID, "error", err)
		switch {
		case errors.Is(err, domain.ErrNoSubscribers):
			writeError(w, http.StatusServiceUnavailable, "no intake worker is running")
		case errors.Is(err, domain.ErrDropped):
			writeError(w, http.StatusServiceUnavailable, "intake queue is full")
		default:
			writeError(w, http.StatusServiceUnavailable, "failed to queue claim")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"claim_id":   claim.ClaimID,
		"request_id": requestID,
		"status":     "queued",
	})
}

// GetClaim handles GET /api/claims/{id}.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	stored, ok := h.loadClaim(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// ClaimListResponse is the body of GET /api/claims.
type ClaimListResponse struct {
	Total  int                   `json:"total"`
	Skip   int                   `json:"skip"`
	Limit  int                   `json:"limit"`
	Claims []domain.ClaimSummary `json:"claims"`
}

// ListClaims handles GET /api/claims?status=&skip=&limit=.
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	q := r.URL.Query()
	skip, err := queryInt(q.Get("skip"), 0)
	if err != nil || skip < 0 {
		writeError(w, http.StatusBadRequest, "skip must be a non-negative integer")
		return
	}
	limit, err := queryInt(q.Get("limit"), defaultListLimit)
	if err != nil || limit < 1 || limit > maxListLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	status := q.Get("status")
	switch status {
	case "", domain.StatusPassed, domain.StatusFlagged, domain.StatusRejected, domain.StatusPending:
	default:
		writeError(w, http.StatusBadRequest, "unknown status: "+status)
		return
	}

	claims, total, err := h.repo.ListClaims(r.Context(), domain.ClaimFilter{Status: status, Skip: skip, Limit: limit})
	if err != nil {
		slog.Error("failed to list claims", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list claims")
		return
	}
	if claims == nil {
		claims = []domain.ClaimSummary{}
	}

	writeJSON(w, http.StatusOK, ClaimListResponse{Total: total, Skip: skip, Limit: limit, Claims: claims})
}

// SummarizeClaim handles GET /api/claims/{id}/summary.
func (h *Handler) SummarizeClaim(w http.ResponseWriter, r *http.Request) {
	if h.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant not available")
		return
	}

	stored, ok := h.loadClaim(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	summary, err := h.assistant.Summarize(r.Context(), stored.Issues, stored.RiskScore)
	if err != nil {
		writeAssistantError(w, stored.Claim.ClaimID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claim_id":   stored.Claim.ClaimID,
		"risk_score": stored.RiskScore,
		"summary":    summary,
	})
}

// AskRequest is the body of POST /api/chat/ask.
type AskRequest struct {
	ClaimID  string `json:"claim_id"`
	Question string `json:"question"`
}

// AskResponse is the answer to a question about a stored claim.
type AskResponse struct {
	ClaimID  string `json:"claim_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Ask handles POST /api/chat/ask.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ClaimID == "" || req.Question == "" {
		writeError(w, http.StatusBadRequest, "claim_id and question are required")
		return
	}
	if h.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant not available")
		return
	}

	stored, ok := h.loadClaim(w, r, req.ClaimID)
	if !ok {
		return
	}

	answer, err := h.assistant.AnswerQuestion(r.Context(), req.Question, &stored.Claim, stored.Issues)
	if err != nil {
		writeAssistantError(w, req.ClaimID, err)
		return
	}

	writeJSON(w, http.StatusOK, AskResponse{ClaimID: req.ClaimID, Question: req.Question, Answer: answer})
}

// loadClaim fetches a stored claim and writes the error response itself
// when it cannot.
func (h *Handler) loadClaim(w http.ResponseWriter, r *http.Request, claimID string) (*domain.StoredClaim, bool) {
	if claimID == "" {
		writeError(w, http.StatusBadRequest, "claim id is required")
		return nil, false
	}
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return nil, false
	}

	stored, err := h.repo.GetClaim(r.Context(), claimID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "claim not found")
		return nil, false
	case err != nil:
		slog.Error("failed to load claim", "claim_id", claimID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load claim")
		return nil, false
	}
	return stored, true
}

func writeAssistantError(w http.ResponseWriter, claimID string, err error) {
	if errors.Is(err, llm.ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "assistant not configured")
		return
	}
	slog.Error("assistant request failed", "claim_id", claimID, "error", err)
	var perr *llm.ProviderError
	if errors.As(err, &perr) {
		writeError(w, http.StatusBadGateway, perr.Error())
		return
	}
	writeError(w, http.StatusBadGateway, "assistant request failed")
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func queryInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
