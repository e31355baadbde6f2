// internal/infrastructure/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RateMetrics holds the collectors of the rate providers
type RateMetrics struct {
	// One per attempt against a remote endpoint
	FetchAttemptsTotal *prometheus.CounterVec
	// Backoff waits between attempts
	BackoffWaitSeconds *prometheus.HistogramVec

	// Cycles that committed a table, by outcome (live/cached/fallback)
	CyclesTotal *prometheus.CounterVec
	// Periodic ticks dropped because a cycle was still running
	CyclesSkippedTotal *prometheus.CounterVec
	// Cycles whose result was thrown away after cancellation or supersession
	CyclesDiscardedTotal *prometheus.CounterVec

	FallbackTotal    *prometheus.CounterVec
	UsingFallback    *prometheus.GaugeVec
	CycleDuration    *prometheus.HistogramVec
	InvalidRateTotal *prometheus.CounterVec
}

// NewRateMetrics registers the collectors on reg. A nil reg uses a private registry.
func NewRateMetrics(reg prometheus.Registerer) *RateMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &RateMetrics{
		FetchAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_fetch_attempts_total",
				Help: "Attempts against remote rate endpoints by outcome",
			},
			[]string{"domain", "outcome"},
		),

		BackoffWaitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_backoff_wait_seconds",
				Help:    "Backoff waits scheduled between fetch attempts",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s, 1s, 2s...
			},
			[]string{"domain"},
		),

		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_cycles_total",
				Help: "Committed refresh cycles by trigger and outcome",
			},
			[]string{"domain", "trigger", "outcome"},
		),

		CyclesSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_cycles_skipped_total",
				Help: "Periodic ticks skipped because a cycle was in flight",
			},
			[]string{"domain"},
		),

		CyclesDiscardedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_cycles_discarded_total",
				Help: "Cycles whose result was discarded after cancellation or supersession",
			},
			[]string{"domain", "reason"},
		),

		FallbackTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_fallback_total",
				Help: "Cycles that substituted the built-in fallback table",
			},
			[]string{"domain"},
		),

		UsingFallback: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rate_using_fallback",
				Help: "1 when the current table of a domain is the fallback table",
			},
			[]string{"domain"},
		),

		CycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_cycle_duration_seconds",
				Help:    "Duration of committed refresh cycles",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"domain"},
		),

		InvalidRateTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_invalid_conversions_total",
				Help: "Conversions refused because a rate was missing or non-positive",
			},
			[]string{"domain"},
		),
	}
}

// ObserveAttempt counts one attempt
func (m *RateMetrics) ObserveAttempt(domain, outcome string) {
	if m == nil {
		return
	}
	m.FetchAttemptsTotal.WithLabelValues(domain, outcome).Inc()
}

// ObserveBackoff records a scheduled wait
func (m *RateMetrics) ObserveBackoff(domain string, wait time.Duration) {
	if m == nil {
		return
	}
	m.BackoffWaitSeconds.WithLabelValues(domain).Observe(wait.Seconds())
}

// ObserveCycle records a committed cycle
func (m *RateMetrics) ObserveCycle(domain, trigger, outcome string, fallback bool, took time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(domain, trigger, outcome).Inc()
	m.CycleDuration.WithLabelValues(domain).Observe(took.Seconds())
	if fallback {
		m.FallbackTotal.WithLabelValues(domain).Inc()
		m.UsingFallback.WithLabelValues(domain).Set(1)
		return
	}
	m.UsingFallback.WithLabelValues(domain).Set(0)
}

// ObserveSkipped counts a skipped periodic tick
func (m *RateMetrics) ObserveSkipped(domain string) {
	if m == nil {
		return
	}
	m.CyclesSkippedTotal.WithLabelValues(domain).Inc()
}

// ObserveDiscarded counts a cycle whose result was dropped
func (m *RateMetrics) ObserveDiscarded(domain, reason string) {
	if m == nil {
		return
	}
	m.CyclesDiscardedTotal.WithLabelValues(domain, reason).Inc()
}

// ObserveInvalidRate counts a refused conversion
func (m *RateMetrics) ObserveInvalidRate(domain string) {
	if m == nil {
		return
	}
	m.InvalidRateTotal.WithLabelValues(domain).Inc()
}
