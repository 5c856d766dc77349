package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request Dispatch Metrics
var (
	// RequestsTotal tracks dispatched requests by outcome
	// (ok, http_error, transport_error, auth_error)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dash_requests_total",
			Help: "Total dispatched requests by outcome",
		},
		[]string{"outcome"},
	)

	// RequestRetriesTotal tracks requests re-issued after a credential refresh
	RequestRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dash_request_retries_total",
			Help: "Total requests re-issued once after a 401 and successful refresh",
		},
	)

	// RequestDuration tracks round trip latency in seconds
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dash_request_duration_seconds",
			Help:    "Dispatched request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method"},
	)
)

// Refresh Coordinator Metrics
var (
	// RefreshExchangesTotal counts refresh endpoint calls by result
	// (ok, no_refresh_token, rejected, unreachable, timeout)
	RefreshExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dash_refresh_exchanges_total",
			Help: "Total refresh exchanges by result",
		},
		[]string{"result"},
	)

	// RefreshSharedTotal counts callers that joined an exchange already in flight
	// or found the credential already rotated
	RefreshSharedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dash_refresh_shared_total",
			Help: "Total refresh callers served without starting a new exchange",
		},
	)
)

// Session Metrics
var (
	// BootstrapAttemptsTotal tracks bootstrap attempts by result
	// (committed, noop, failed, unauthenticated)
	BootstrapAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dash_bootstrap_attempts_total",
			Help: "Total session bootstrap attempts by result",
		},
		[]string{"result"},
	)

	// SessionInvalidationsTotal tracks forced logouts by reason
	SessionInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dash_session_invalidations_total",
			Help: "Total session invalidations by reason",
		},
		[]string{"reason"},
	)

	// SelectionLoadsTotal tracks selection scoped loads by result (applied, discarded)
	SelectionLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dash_selection_loads_total",
			Help: "Total selection scoped loads by result",
		},
		[]string{"result"},
	)
)
