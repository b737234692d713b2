package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func testClaim() *domain.Claim {
	return &domain.Claim{
		ClaimID:     "CLM-1",
		Patient:     domain.Patient{DOB: domain.NewDate(1980, 3, 15), Gender: "F", InsuranceID: "INS-1"},
		Provider:    domain.Provider{Name: "Dr. Lee", NPI: "1234567890", Specialty: "Family Medicine"},
		ServiceDate: domain.NewDate(2025, 6, 1),
		DiagnosisCodes: []string{"Z00.00"},
		ProcedureCodes: []domain.ProcedureCode{
			{CPT: "99215", Units: 1, Charge: 250},
		},
		TotalCharge: 250,
	}
}

func testIssue() domain.ValidationIssue {
	return domain.ValidationIssue{
		IssueType:   domain.IssuePreventiveComplexity,
		Severity:    domain.SeverityHigh,
		Description: "High complexity E/M with routine diagnosis",
	}
}

type captured struct {
	headers http.Header
	path    string
	body    messagesRequest
}

func newServer(t *testing.T, status int, response string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			got.headers = r.Header.Clone()
			got.path = r.URL.Path
			raw, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(raw, &got.body); err != nil {
				t.Errorf("request body is not valid JSON: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(endpoint string) *Client {
	return NewClient(domain.LLMConfig{
		APIKey:    "test-key",
		Endpoint:  endpoint,
		Model:     "test-model",
		MaxTokens: 300,
		Timeout:   5 * time.Second,
	})
}

const okResponse = `{"content":[{"type":"text","text":"Bill 99395 for a preventive visit."}]}`

func TestExplain(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusOK, okResponse, &got)
	client := newTestClient(srv.URL)

	text, err := client.Explain(context.Background(), testIssue(), testClaim())
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if text != "Bill 99395 for a preventive visit." {
		t.Errorf("unexpected text %q", text)
	}

	if got.path != "/messages" {
		t.Errorf("expected /messages, got %s", got.path)
	}
	if got.headers.Get("x-api-key") != "test-key" {
		t.Errorf("missing api key header")
	}
	if got.headers.Get("anthropic-version") != anthropicVersion {
		t.Errorf("unexpected anthropic-version %q", got.headers.Get("anthropic-version"))
	}
	if got.body.Model != "test-model" || got.body.MaxTokens != 300 {
		t.Errorf("unexpected model/max_tokens: %s/%d", got.body.Model, got.body.MaxTokens)
	}
	if len(got.body.System) != 1 {
		t.Fatalf("expected 1 system block, got %d", len(got.body.System))
	}
	system := got.body.System[0].Text
	for _, want := range []string{"CLM-1", "Age 45", "Z00.00", "99215 ($250.00)", "2025-06-01"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	user := got.body.Messages[0].Content
	if !strings.Contains(user, "High complexity E/M") || !strings.Contains(user, "Severity: high") {
		t.Errorf("unexpected user prompt %q", user)
	}
}

func TestAnswerQuestion(t *testing.T) {
	t.Run("with issues", func(t *testing.T) {
		var got captured
		srv := newServer(t, http.StatusOK, okResponse, &got)
		client := newTestClient(srv.URL)

		_, err := client.AnswerQuestion(context.Background(), "Why was this flagged?", testClaim(), []domain.ValidationIssue{testIssue()})
		if err != nil {
			t.Fatalf("AnswerQuestion failed: %v", err)
		}
		if got.body.MaxTokens != answerMaxTokens {
			t.Errorf("expected max_tokens %d, got %d", answerMaxTokens, got.body.MaxTokens)
		}
		system := got.body.System[0].Text
		if !strings.Contains(system, "Dr. Lee (Family Medicine)") {
			t.Error("system prompt missing provider")
		}
		if !strings.Contains(system, "- HIGH: High complexity E/M") {
			t.Error("system prompt missing issue line")
		}
		if got.body.Messages[0].Content != "Question: Why was this flagged?" {
			t.Errorf("unexpected user prompt %q", got.body.Messages[0].Content)
		}
	})

	t.Run("no issues", func(t *testing.T) {
		var got captured
		srv := newServer(t, http.StatusOK, okResponse, &got)
		client := newTestClient(srv.URL)

		if _, err := client.AnswerQuestion(context.Background(), "Is it ok?", testClaim(), nil); err != nil {
			t.Fatalf("AnswerQuestion failed: %v", err)
		}
		if !strings.Contains(got.body.System[0].Text, "No issues found - claim passed validation") {
			t.Error("expected passed marker in system prompt")
		}
	})
}

func TestSummarize(t *testing.T) {
	t.Run("no issues skips the call", func(t *testing.T) {
		client := newTestClient("http://127.0.0.1:1")
		text, err := client.Summarize(context.Background(), nil, 0)
		if err != nil || text != "" {
			t.Errorf("expected empty summary, got %q, %v", text, err)
		}
	})

	t.Run("groups by severity", func(t *testing.T) {
		var got captured
		srv := newServer(t, http.StatusOK, okResponse, &got)
		client := newTestClient(srv.URL)

		issues := []domain.ValidationIssue{
			{Severity: domain.SeverityLow, Description: "too many lines"},
			{Severity: domain.SeverityCritical, Description: "TC and 26 together"},
		}
		if _, err := client.Summarize(context.Background(), issues, 28); err != nil {
			t.Fatalf("Summarize failed: %v", err)
		}
		user := got.body.Messages[0].Content
		if !strings.Contains(user, "Risk Score: 28/100") {
			t.Errorf("missing risk score in %q", user)
		}
		if strings.Index(user, "CRITICAL") > strings.Index(user, "LOW") {
			t.Error("expected critical section before low")
		}
	})
}

func TestErrors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		client := NewClient(domain.LLMConfig{})
		if client.Configured() {
			t.Fatal("expected unconfigured client")
		}
		_, err := client.Explain(context.Background(), testIssue(), testClaim())
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("expected ErrNotConfigured, got %v", err)
		}
	})

	t.Run("provider error", func(t *testing.T) {
		srv := newServer(t, http.StatusTooManyRequests,
			`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`, nil)
		client := newTestClient(srv.URL)

		_, err := client.Explain(context.Background(), testIssue(), testClaim())
		var perr *ProviderError
		if !errors.As(err, &perr) {
			t.Fatalf("expected ProviderError, got %v", err)
		}
		if perr.StatusCode != http.StatusTooManyRequests || perr.Type != "rate_limit_error" || perr.Message != "slow down" {
			t.Errorf("unexpected provider error %+v", perr)
		}
	})

	t.Run("unstructured error body", func(t *testing.T) {
		srv := newServer(t, http.StatusBadGateway, "upstream down", nil)
		client := newTestClient(srv.URL)

		_, err := client.Explain(context.Background(), testIssue(), testClaim())
		var perr *ProviderError
		if !errors.As(err, &perr) || perr.Message != "upstream down" {
			t.Errorf("expected raw body in provider error, got %v", err)
		}
	})

	t.Run("empty content", func(t *testing.T) {
		srv := newServer(t, http.StatusOK, `{"content":[]}`, nil)
		client := newTestClient(srv.URL)

		_, err := client.Explain(context.Background(), testIssue(), testClaim())
		if !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("expected ErrEmptyResponse, got %v", err)
		}
	})
}
