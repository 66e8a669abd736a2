package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Orchestrator, ledger and relay metrics, partitioned by route where a
// route label is meaningful.

var (
	// Orchestrator
	SwapsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "orchestrator",
		Name:      "swaps_submitted_total",
		Help:      "Total swap intents accepted by submit",
	}, []string{"route"})

	SwapsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "orchestrator",
		Name:      "swaps_rejected_total",
		Help:      "Total swap intents rejected before any state was created",
	}, []string{"reason"})

	SwapTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "orchestrator",
		Name:      "transitions_total",
		Help:      "Total state transitions by from/to state",
	}, []string{"from", "to"})

	SwapsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "orchestrator",
		Name:      "swaps_terminal_total",
		Help:      "Total swaps reaching a terminal state",
	}, []string{"status"})

	SwapsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "jetswap",
		Subsystem: "orchestrator",
		Name:      "swaps_in_flight",
		Help:      "Swaps currently between submit and a terminal state",
	})

	SwapDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jetswap",
		Subsystem: "orchestrator",
		Name:      "swap_duration_seconds",
		Help:      "Time from submit to terminal state",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"status"})

	ResidencyForceFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "orchestrator",
		Name:      "residency_force_flags_total",
		Help:      "Swaps force-flagged after exceeding a state's maximum residency",
	}, []string{"state"})

	AdminOverrides = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "orchestrator",
		Name:      "admin_overrides_total",
		Help:      "Administrative status overrides applied",
	}, []string{"to"})

	// Relay
	RelayAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "relay",
		Name:      "attempts_total",
		Help:      "Relay attempts including retries",
	}, []string{"route"})

	RelayFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "relay",
		Name:      "failures_total",
		Help:      "Relay attempts that returned an error",
	}, []string{"route", "class"})

	RelayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jetswap",
		Subsystem: "relay",
		Name:      "attempt_duration_seconds",
		Help:      "Relay attempt duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"route"})

	// Ledger
	LedgerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Ledger operations by op and outcome",
	}, []string{"op", "outcome"})

	LedgerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "ledger",
		Name:      "retries_total",
		Help:      "Transient ledger failures that were retried",
	}, []string{"op"})

	LedgerRetryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "ledger",
		Name:      "retry_exhausted_total",
		Help:      "Ledger operations that failed closed after the retry budget",
	}, []string{"op"})

	LedgerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jetswap",
		Subsystem: "ledger",
		Name:      "operation_duration_seconds",
		Help:      "Ledger operation duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"op"})

	LedgerFallbackServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "ledger",
		Name:      "fallback_served_total",
		Help:      "Reads served from the degraded local fallback log",
	}, []string{"op"})

	LedgerBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "jetswap",
		Subsystem: "ledger",
		Name:      "breaker_state",
		Help:      "Primary-store circuit breaker state (0 closed, 1 open, 2 half-open)",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Alerts successfully sent per channel",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Alerts suppressed by cooldown per channel",
	}, []string{"channel", "type"})

	// Advice collaborator
	AdviceFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jetswap",
		Subsystem: "advice",
		Name:      "fallbacks_total",
		Help:      "Advice requests that degraded to the static fallback",
	})
)
