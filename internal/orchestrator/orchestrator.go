// Package orchestrator runs the validators concurrently and assembles the
// validation result.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/opensource-finance/claimguard/internal/decision"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/enrich"
	"github.com/opensource-finance/claimguard/internal/intake"
	"github.com/opensource-finance/claimguard/internal/metrics"
	"github.com/opensource-finance/claimguard/internal/reference"
	"github.com/opensource-finance/claimguard/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrNilClaim is returned when no claim is given.
var ErrNilClaim = errors.New("claim is nil")

// SnapshotSource provides the reference snapshot for a run.
type SnapshotSource interface {
	Current() *reference.Snapshot
}

// Options configures an Orchestrator.
type Options struct {
	// Validators run in this order. Defaults to rules.DefaultValidators().
	Validators []rules.Validator

	// Policy runs after the built-in validators when set.
	Policy *rules.PolicyValidator

	// Enricher rewrites short explanations when set.
	Enricher *enrich.Enricher

	// BatchConcurrency bounds concurrent claims in ValidateBatch.
	BatchConcurrency int
}

// Orchestrator fans a claim out to every validator and joins the results.
type Orchestrator struct {
	refs       SnapshotSource
	validators []rules.Validator
	enricher   *enrich.Enricher
	processor  *decision.Processor
	batchLimit int
	tracer     trace.Tracer
}

// New creates an orchestrator.
func New(refs SnapshotSource, opts Options) *Orchestrator {
	validators := opts.Validators
	if validators == nil {
		validators = rules.DefaultValidators()
	}
	if opts.Policy != nil {
		validators = append(append([]rules.Validator{}, validators...), opts.Policy)
	}
	limit := opts.BatchConcurrency
	if limit <= 0 {
		limit = 8
	}

	return &Orchestrator{
		refs:       refs,
		validators: validators,
		enricher:   opts.Enricher,
		processor:  decision.NewProcessor(),
		batchLimit: limit,
		tracer:     otel.Tracer("claimguard/orchestrator"),
	}
}

// Validators returns the validator names in canonical order.
func (o *Orchestrator) Validators() []string {
	names := make([]string, len(o.validators))
	for i, v := range o.validators {
		names[i] = v.Name()
	}
	return names
}

// Validate runs every validator against one snapshot, waits for all of
// them, then sorts, scores and enriches. If ctx ends before the
// validators finish, no result is produced.
func (o *Orchestrator) Validate(ctx context.Context, claim *domain.Claim) (*domain.ValidationResult, error) {
	if claim == nil {
		return nil, ErrNilClaim
	}
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "claimguard.validate",
		trace.WithAttributes(
			attribute.String("claim.id", claim.ClaimID),
			attribute.Int("claim.procedures", len(claim.ProcedureCodes)),
		),
	)
	defer span.End()

	snap := o.refs.Current()

	issues, err := o.runValidators(ctx, claim, snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ValidationFailures.Inc()
		return nil, err
	}

	result := o.processor.Process(ctx, &decision.DecisionInput{
		ClaimID:   claim.ClaimID,
		Issues:    issues,
		Reference: snap.Status(),
		StartTime: start,
	})

	if o.enricher != nil {
		_, espan := o.tracer.Start(ctx, "claimguard.enrich")
		result.Issues = o.enricher.Enrich(ctx, claim, result.Issues)
		espan.End()
	}
	if err := ctx.Err(); err != nil {
		metrics.ValidationFailures.Inc()
		return nil, fmt.Errorf("validation of claim %s abandoned: %w", claim.ClaimID, err)
	}
	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.String("claim.status", result.OverallStatus),
		attribute.Float64("claim.risk_score", result.RiskScore),
		attribute.Int("claim.issues", len(result.Issues)),
	)
	metrics.ValidationsTotal.WithLabelValues(result.OverallStatus).Inc()
	metrics.ValidationDuration.Observe(time.Since(start).Seconds())
	for _, issue := range result.Issues {
		metrics.IssuesRaised.WithLabelValues(issue.AgentName, string(issue.Severity)).Inc()
	}

	slog.Info("claim validated",
		"claim_id", claim.ClaimID,
		"status", result.OverallStatus,
		"risk_score", result.RiskScore,
		"issues", len(result.Issues),
		"duration_ms", result.ProcessingTimeMs,
	)
	return result, nil
}

// runValidators runs each validator in its own goroutine. Each goroutine
// writes only its own slot; slots are concatenated in validator order
// after the barrier.
func (o *Orchestrator) runValidators(ctx context.Context, claim *domain.Claim, ref domain.ReferenceData) ([]domain.ValidationIssue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([][]domain.ValidationIssue, len(o.validators))
	errs := make([]error, len(o.validators))

	var wg sync.WaitGroup
	for i, v := range o.validators {
		wg.Add(1)
		go func(idx int, v rules.Validator) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[idx] = fmt.Errorf("validator %s panicked: %v", v.Name(), r)
					slog.Error("validator panicked", "validator", v.Name(), "claim_id", claim.ClaimID,
						"panic", r, "stack", string(debug.Stack()))
				}
			}()
			results[idx] = v.Validate(claim, ref)
		}(i, v)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("validation of claim %s abandoned: %w", claim.ClaimID, ctx.Err())
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	var merged []domain.ValidationIssue
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged, nil
}

// ValidateBatch validates claims concurrently. A failure or panic for one
// claim is reported in its item and does not affect the others. Items
// keep input order.
func (o *Orchestrator) ValidateBatch(ctx context.Context, claims []*domain.Claim) *domain.BatchResult {
	ctx, span := o.tracer.Start(ctx, "claimguard.validate_batch",
		trace.WithAttributes(attribute.Int("batch.size", len(claims))))
	defer span.End()

	items := make([]domain.BatchItem, len(claims))

	var g errgroup.Group
	g.SetLimit(o.batchLimit)
	for i, claim := range claims {
		g.Go(func() error {
			items[i] = o.validateItem(ctx, claim)
			return nil
		})
	}
	_ = g.Wait()

	out := &domain.BatchResult{Total: len(claims), Items: items}
	for _, item := range items {
		if item.Status == domain.BatchSuccess {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	span.SetAttributes(attribute.Int("batch.failed", out.Failed))
	return out
}

// RawBatch is the outcome of ValidateRaw. Claims is parallel to
// Result.Items and nil where intake failed.
type RawBatch struct {
	Result *domain.BatchResult
	Claims []*domain.Claim
}

// ValidateRaw runs each raw element through intake, validates the ones that
// pass with ValidateBatch and merges both into one result in input order.
// An element that fails intake is reported with its claim ID when one can
// be recovered.
func (o *Orchestrator) ValidateRaw(ctx context.Context, raws []json.RawMessage) *RawBatch {
	out := &RawBatch{
		Result: &domain.BatchResult{Total: len(raws), Items: make([]domain.BatchItem, len(raws))},
		Claims: make([]*domain.Claim, len(raws)),
	}

	valid := make([]*domain.Claim, 0, len(raws))
	slots := make([]int, 0, len(raws))
	for i, raw := range raws {
		claim, err := intake.Decode(raw)
		if err != nil {
			out.Result.Items[i] = domain.BatchItem{ClaimID: intake.PeekClaimID(raw), Status: domain.BatchFailed, Error: err.Error()}
			continue
		}
		out.Claims[i] = claim
		valid = append(valid, claim)
		slots = append(slots, i)
	}

	batch := o.ValidateBatch(ctx, valid)
	for j, item := range batch.Items {
		out.Result.Items[slots[j]] = item
	}
	out.Recount()
	return out
}

// Recount refreshes the success and failure totals from the items.
func (b *RawBatch) Recount() {
	b.Result.Successful, b.Result.Failed = 0, 0
	for _, item := range b.Result.Items {
		if item.Status == domain.BatchSuccess {
			b.Result.Successful++
		} else {
			b.Result.Failed++
		}
	}
}

func (o *Orchestrator) validateItem(ctx context.Context, claim *domain.Claim) (item domain.BatchItem) {
	if claim != nil {
		item.ClaimID = claim.ClaimID
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("batch item panicked", "claim_id", item.ClaimID, "panic", r)
			item.Status = domain.BatchFailed
			item.Result = nil
			item.Error = fmt.Sprintf("internal error: %v", r)
		}
	}()

	result, err := o.Validate(ctx, claim)
	if err != nil {
		item.Status = domain.BatchFailed
		item.Error = err.Error()
		return item
	}
	item.Status = domain.BatchSuccess
	item.Result = result
	return item
}
