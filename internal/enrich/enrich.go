// Package enrich replaces terse issue explanations with generated ones.
package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Enricher asks an Explainer for longer explanations. A failure for one
// issue leaves that issue's explanation as it was and never fails the run.
type Enricher struct {
	explainer domain.Explainer
	cache     domain.Cache
	limiter   *rate.Limiter
	cfg       domain.EnrichmentConfig
}

// New creates an enricher. cache may be nil. A zero RatePerSecond
// disables rate limiting.
func New(explainer domain.Explainer, cache domain.Cache, cfg domain.EnrichmentConfig) *Enricher {
	if cfg.MinLength <= 0 {
		cfg.MinLength = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.IssueTimeout <= 0 {
		cfg.IssueTimeout = 15 * time.Second
	}

	e := &Enricher{explainer: explainer, cache: cache, cfg: cfg}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return e
}

// NeedsEnrichment reports whether an explanation is shorter than the threshold.
func (e *Enricher) NeedsEnrichment(issue domain.ValidationIssue) bool {
	return utf8.RuneCountInString(issue.Explanation) < e.cfg.MinLength
}

// Enrich returns a copy of issues with short explanations replaced.
// Results apply only if the whole pass finishes before ctx is done;
// otherwise issues is returned unchanged.
func (e *Enricher) Enrich(ctx context.Context, claim *domain.Claim, issues []domain.ValidationIssue) []domain.ValidationIssue {
	if e == nil || e.explainer == nil || len(issues) == 0 {
		return issues
	}

	out := make([]domain.ValidationIssue, len(issues))
	copy(out, issues)

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)

	pending := 0
	for i := range out {
		if !e.NeedsEnrichment(out[i]) {
			continue
		}
		pending++
		g.Go(func() error {
			if text, ok := e.explain(ctx, claim, out[i]); ok {
				out[i].Explanation = text
			}
			return nil
		})
	}
	if pending == 0 {
		return issues
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		metrics.EnrichmentOutcomes.WithLabelValues(metrics.OutcomeAborted).Add(float64(pending))
		slog.Warn("enrichment abandoned", "claim_id", claim.ClaimID, "error", err)
		return issues
	}
	return out
}

func (e *Enricher) explain(ctx context.Context, claim *domain.Claim, issue domain.ValidationIssue) (string, bool) {
	key := CacheKey(claim.ClaimID, issue)

	if e.cache != nil {
		if text, ok, err := e.cache.GetExplanation(ctx, key); err == nil && ok {
			metrics.EnrichmentOutcomes.WithLabelValues(metrics.OutcomeCached).Inc()
			return text, true
		}
	}

	ictx, cancel := context.WithTimeout(ctx, e.cfg.IssueTimeout)
	defer cancel()

	if e.limiter != nil {
		if err := e.limiter.Wait(ictx); err != nil {
			metrics.EnrichmentOutcomes.WithLabelValues(metrics.OutcomeSkipped).Inc()
			return "", false
		}
	}

	text, err := e.explainer.Explain(ictx, issue, claim)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		metrics.EnrichmentOutcomes.WithLabelValues(metrics.OutcomeFailed).Inc()
		slog.Debug("explanation not generated", "claim_id", claim.ClaimID, "issue_type", issue.IssueType, "error", err)
		return "", false
	}

	metrics.EnrichmentOutcomes.WithLabelValues(metrics.OutcomeEnriched).Inc()
	if e.cache != nil && e.cfg.CacheTTL > 0 {
		if err := e.cache.SetExplanation(ctx, key, text, e.cfg.CacheTTL); err != nil {
			slog.Debug("failed to cache explanation", "claim_id", claim.ClaimID, "error", err)
		}
	}
	return text, true
}

// CacheKey identifies an explanation by claim, issue type and description.
func CacheKey(claimID string, issue domain.ValidationIssue) string {
	sum := sha256.Sum256([]byte(claimID + "\x00" + issue.IssueType + "\x00" + issue.Description))
	return "explain:" + hex.EncodeToString(sum[:])
}
