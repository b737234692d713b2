// Package llm talks to the Anthropic messages API to explain validation
// issues and answer questions about stored claims.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("llm: api key not configured")

// ErrEmptyResponse is returned when the API answers with no text.
var ErrEmptyResponse = errors.New("llm: empty response")

const (
	defaultEndpoint  = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	answerMaxTokens  = 500
	summaryMaxTokens = 200
)

// ProviderError is a non-2xx response from the API.
type ProviderError struct {
	StatusCode int    `json:"status_code"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

// Error returns formatted provider error with status code context.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("anthropic error (status %d): %s", e.StatusCode, e.Message)
}

// Client is an Anthropic messages API client.
type Client struct {
	cfg  domain.LLMConfig
	http *http.Client
}

// NewClient creates a client. A client without an API key is valid but
// every call returns ErrNotConfigured.
func NewClient(cfg domain.LLMConfig) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// Explain returns a short explanation of issue in the context of claim.
func (c *Client) Explain(ctx context.Context, issue domain.ValidationIssue, claim *domain.Claim) (string, error) {
	return c.complete(ctx, explainSystemPrompt(claim), explainUserPrompt(issue), c.cfg.MaxTokens)
}

// AnswerQuestion answers a free-form question about a claim and its issues.
func (c *Client) AnswerQuestion(ctx context.Context, question string, claim *domain.Claim, issues []domain.ValidationIssue) (string, error) {
	return c.complete(ctx, answerSystemPrompt(claim, issues), "Question: "+question, answerMaxTokens)
}

// Summarize writes a short summary of a validation outcome for claims managers.
// It returns "" without calling the API when there are no issues.
func (c *Client) Summarize(ctx context.Context, issues []domain.ValidationIssue, riskScore float64) (string, error) {
	if len(issues) == 0 {
		return "", nil
	}
	return c.complete(ctx, summarySystemPrompt, summaryUserPrompt(issues, riskScore), summaryMaxTokens)
}

type systemBlock struct {
	Type         string            `json:"type"`
	Text         string            `json:"text"`
	CacheControl map[string]string `json:"cache_control,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    []systemBlock `json:"system,omitempty"`
	Messages  []message     `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// complete sends one user turn. The system prompt is marked cacheable so
// repeated calls for the same claim reuse it.
func (c *Client) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		System: []systemBlock{{
			Type:         "text",
			Text:         system,
			CacheControl: map[string]string{"type": "ephemeral"},
		}},
		Messages: []message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.Endpoint, "/")+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", parseError(resp.StatusCode, raw)
	}

	var out messagesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Content) == 0 || strings.TrimSpace(out.Content[0].Text) == "" {
		return "", ErrEmptyResponse
	}
	return out.Content[0].Text, nil
}

func parseError(status int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &ProviderError{StatusCode: status, Type: errResp.Error.Type, Message: errResp.Error.Message}
	}
	return &ProviderError{StatusCode: status, Message: string(body)}
}
