// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimguard_validations_total",
			Help: "Total number of claim validations by overall status",
		},
		[]string{"status"},
	)

	ValidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claimguard_validation_failures_total",
			Help: "Total number of validation runs that did not produce a result",
		},
	)

	IssuesRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimguard_issues_raised_total",
			Help: "Total number of issues raised by validator and severity",
		},
		[]string{"validator", "severity"},
	)

	EnrichmentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimguard_enrichment_outcomes_total",
			Help: "Explanation enrichment attempts by outcome",
		},
		[]string{"outcome"},
	)

	ValidationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "claimguard_validation_duration_seconds",
			Help:    "Time taken to validate a claim",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReferenceTableState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "claimguard_reference_table_ok",
			Help: "1 when the reference table loaded cleanly, 0 otherwise",
		},
		[]string{"table"},
	)

	IntakeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimguard_intake_messages_total",
			Help: "Claims received from the event bus by outcome",
		},
		[]string{"outcome"},
	)

	BusDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimguard_bus_messages_dropped_total",
			Help: "Messages dropped because a subscriber buffer was full",
		},
		[]string{"topic"},
	)

	BusHandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimguard_bus_handler_errors_total",
			Help: "Bus handlers that returned an error or panicked",
		},
		[]string{"topic"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimguard_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// Enrichment outcome labels.
const (
	OutcomeEnriched = "enriched"
	OutcomeCached   = "cached"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomeAborted  = "aborted"
)

// Intake outcome labels.
const (
	IntakeProcessed = "processed"
	IntakeInvalid   = "invalid"
	IntakeFailed    = "failed"
)
