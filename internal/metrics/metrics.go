package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Controller, gate and RPC instruments for the mining loop.

var (
	// Controller
	BatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "miner",
		Subsystem: "controller",
		Name:      "batch_size",
		Help:      "Current number of mining actions submitted per cycle",
	})

	Utilization = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "miner",
		Subsystem: "controller",
		Name:      "cpu_utilization_ratio",
		Help:      "Last sampled CPU quota utilization (used/max)",
	})

	EmaFast = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "miner",
		Subsystem: "controller",
		Name:      "cpu_utilization_ema_fast",
		Help:      "Fast exponential moving average of CPU utilization",
	})

	EmaSlow = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "miner",
		Subsystem: "controller",
		Name:      "cpu_utilization_ema_slow",
		Help:      "Slow exponential moving average of CPU utilization",
	})

	RetunesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miner",
		Subsystem: "controller",
		Name:      "retunes_total",
		Help:      "Total re-tuning decisions by action",
	}, []string{"action"})

	EmergencyClampsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "miner",
		Subsystem: "controller",
		Name:      "emergency_clamps_total",
		Help:      "Total emergency clamps of batch size to the minimum",
	})

	// Gate
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miner",
		Subsystem: "gate",
		Name:      "submissions_total",
		Help:      "Total submission attempts by outcome (submitted/failed/skipped)",
	}, []string{"outcome"})

	MinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "miner",
		Subsystem: "gate",
		Name:      "reward_tokens_mined_total",
		Help:      "Total reward tokens observed as mined (balance increases)",
	})

	// Orchestrator
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miner",
		Subsystem: "orchestrator",
		Name:      "ticks_total",
		Help:      "Total ticks by kind (submit/retune)",
	}, []string{"tick"})

	TickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miner",
		Subsystem: "orchestrator",
		Name:      "tick_errors_total",
		Help:      "Total aborted ticks by kind",
	}, []string{"tick"})

	TickLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "miner",
		Subsystem: "orchestrator",
		Name:      "tick_duration_seconds",
		Help:      "Tick processing duration",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"tick"})

	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miner",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total chain API calls by endpoint, method and status",
	}, []string{"endpoint", "method", "status"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miner",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total chain API calls delayed by the endpoint rate limiter",
	}, []string{"endpoint"})

	RPCBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miner",
		Subsystem: "rpc",
		Name:      "breaker_trips_total",
		Help:      "Total circuit breaker trips by endpoint",
	}, []string{"endpoint"})

	// Alerting
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miner",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent by type",
	}, []string{"type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miner",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by the cooldown window",
	}, []string{"type"})
)
