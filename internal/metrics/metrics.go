// Package metrics exposes Prometheus counters for the session core.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests and one-shot CLI commands.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "allin"

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess     = "success"
	OutcomeAuthFailure = "auth_failure"
	OutcomeTransient   = "transient"
	OutcomeDiscarded   = "discarded"
)

// Metrics holds the session core's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Auth state metrics
	TransitionsTotal *prometheus.CounterVec
	CurrentState     *prometheus.GaugeVec

	// Bootstrap metrics
	ConfirmationsTotal    *prometheus.CounterVec
	ReadinessTimeoutTotal prometheus.Counter

	// Refresh metrics
	RefreshTotal prometheus.Counter
	RefreshRuns  *prometheus.CounterVec

	// Cache metrics
	PermissionLookupsTotal *prometheus.CounterVec

	// Stale results dropped after a logout or re-login
	RaceDiscardsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them on registry. A nil registry
// gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_transitions_total",
				Help:      "Total number of auth state transitions",
			},
			[]string{"from", "to"},
		),
		CurrentState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "auth_state",
				Help:      "1 for the current auth state, 0 otherwise",
			},
			[]string{"state"},
		),
		ConfirmationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bootstrap_confirmations_total",
				Help:      "Total number of server profile confirmations by outcome",
			},
			[]string{"outcome"},
		),
		ReadinessTimeoutTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bootstrap_readiness_timeouts_total",
				Help:      "Total number of readiness resolutions forced by the timeout",
			},
		),
		RefreshTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_scheduled_total",
				Help:      "Total number of refresh schedules started",
			},
		),
		RefreshRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_runs_total",
				Help:      "Total number of token refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		PermissionLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_lookups_total",
				Help:      "Total number of entitlement lookups by result",
			},
			[]string{"result"},
		),
		RaceDiscardsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "race_discards_total",
				Help:      "Total number of stale results dropped",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.TransitionsTotal,
		m.CurrentState,
		m.ConfirmationsTotal,
		m.ReadinessTimeoutTotal,
		m.RefreshTotal,
		m.RefreshRuns,
		m.PermissionLookupsTotal,
		m.RaceDiscardsTotal,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordTransition counts a state change and updates the state gauge.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
	m.CurrentState.WithLabelValues(from).Set(0)
	m.CurrentState.WithLabelValues(to).Set(1)
}

// RecordConfirmation counts a Step 2 profile confirmation outcome.
func (m *Metrics) RecordConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.ConfirmationsTotal.WithLabelValues(outcome).Inc()
}

// RecordReadinessTimeout counts a readiness resolved by the timeout.
func (m *Metrics) RecordReadinessTimeout() {
	if m == nil {
		return
	}
	m.ReadinessTimeoutTotal.Inc()
}

// RecordRefreshScheduled counts a refresh schedule start.
func (m *Metrics) RecordRefreshScheduled() {
	if m == nil {
		return
	}
	m.RefreshTotal.Inc()
}

// RecordRefresh counts a refresh attempt outcome.
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.RefreshRuns.WithLabelValues(outcome).Inc()
}

// RecordPermissionLookup counts a cache "hit" or "miss".
func (m *Metrics) RecordPermissionLookup(result string) {
	if m == nil {
		return
	}
	m.PermissionLookupsTotal.WithLabelValues(result).Inc()
}

// RecordRaceDiscard counts a stale result of operation that was dropped.
func (m *Metrics) RecordRaceDiscard(operation string) {
	if m == nil {
		return
	}
	m.RaceDiscardsTotal.WithLabelValues(operation).Inc()
}
