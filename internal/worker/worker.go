// Package worker validates claims submitted over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/claimguard/internal/decision"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/intake"
	"github.com/opensource-finance/claimguard/internal/metrics"
)

// ClaimValidator runs one validation.
type ClaimValidator interface {
	Validate(ctx context.Context, claim *domain.Claim) (*domain.ValidationResult, error)
}

// ClaimStore persists a claim and its result.
type ClaimStore interface {
	SaveClaim(ctx context.Context, claim *domain.Claim, result *domain.ValidationResult) error
}

// Worker consumes claimguard.claim.submitted, validates each claim, stores
// the outcome and publishes it.
type Worker struct {
	bus       domain.EventBus
	store     ClaimStore
	validator ClaimValidator

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// SubmittedClaim is the payload of claimguard.claim.submitted.
type SubmittedClaim struct {
	RequestID string          `json:"request_id,omitempty"`
	Claim     json.RawMessage `json:"claim"`
}

// ValidatedClaim is the payload of claimguard.claim.validated and
// claimguard.claim.rejected, and the reply to a request.
type ValidatedClaim struct {
	RequestID string                   `json:"request_id,omitempty"`
	ClaimID   string                   `json:"claim_id"`
	Result    *domain.ValidationResult `json:"result,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// NewWorker creates a worker. store may be nil.
func NewWorker(eventBus domain.EventBus, store ClaimStore, validator ClaimValidator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		store:     store,
		validator: validator,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to submitted claims.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicClaimSubmitted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicClaimSubmitted, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("claim intake worker started",
		"topic", domain.TopicClaimSubmitted,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var submitted SubmittedClaim
	if err := json.Unmarshal(msg.Payload, &submitted); err != nil {
		metrics.IntakeMessages.WithLabelValues(metrics.IntakeInvalid).Inc()
		w.reply(ctx, msg, ValidatedClaim{Error: "malformed message: " + err.Error()})
		return fmt.Errorf("failed to parse claim message %s: %w", msg.ID, err)
	}
	requestID := submitted.RequestID
	if requestID == "" {
		requestID = msg.ID
	}

	claim, err := intake.Decode(submitted.Claim)
	if err != nil {
		metrics.IntakeMessages.WithLabelValues(metrics.IntakeInvalid).Inc()
		w.reply(ctx, msg, ValidatedClaim{RequestID: requestID, Error: err.Error()})
		return err
	}

	result, err := w.validator.Validate(ctx, claim)
	if err != nil {
		metrics.IntakeMessages.WithLabelValues(metrics.IntakeFailed).Inc()
		w.reply(ctx, msg, ValidatedClaim{RequestID: requestID, ClaimID: claim.ClaimID, Error: err.Error()})
		return fmt.Errorf("validation failed for claim %s: %w", claim.ClaimID, err)
	}

	if w.store != nil {
		if err := w.store.SaveClaim(ctx, claim, result); err != nil {
			slog.Error("failed to save claim",
				"claim_id", claim.ClaimID,
				"error", err,
			)
		}
	}

	out := ValidatedClaim{RequestID: requestID, ClaimID: claim.ClaimID, Result: result}
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	w.publishOutcome(ctx, domain.TopicClaimValidated, claim.ClaimID, payload)
	if decision.IsRejected(result) {
		w.publishOutcome(ctx, domain.TopicClaimRejected, claim.ClaimID, payload)
	}
	w.replyRaw(ctx, msg, payload)

	metrics.IntakeMessages.WithLabelValues(metrics.IntakeProcessed).Inc()
	slog.Info("claim processed",
		"claim_id", claim.ClaimID,
		"request_id", requestID,
		"status", result.OverallStatus,
		"risk_score", result.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// publishOutcome announces a result. Nobody listening is normal for the
// outcome topics and only logged at debug.
func (w *Worker) publishOutcome(ctx context.Context, topic, claimID string, payload []byte) {
	err := w.bus.Publish(ctx, topic, payload)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNoSubscribers):
		slog.Debug("no subscribers for outcome", "topic", topic, "claim_id", claimID)
	default:
		slog.Error("failed to publish outcome",
			"topic", topic,
			"claim_id", claimID,
			"error", err,
		)
	}
}

// reply answers a request-reply caller, if the message carried a reply topic.
func (w *Worker) reply(ctx context.Context, msg *domain.Message, out ValidatedClaim) {
	payload, err := json.Marshal(out)
	if err != nil {
		return
	}
	w.replyRaw(ctx, msg, payload)
}

func (w *Worker) replyRaw(ctx context.Context, msg *domain.Message, payload []byte) {
	replyTo := msg.ReplyTo()
	if replyTo == "" {
		return
	}
	if err := w.bus.Publish(ctx, replyTo, payload); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("failed to send reply",
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("claim intake worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
