package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_requests_total",
		Help: "The total number of settlement requests by variant and outcome",
	}, []string{"variant", "status"})

	SettlementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_duration_seconds",
		Help:    "Time taken from request to terminal state",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // Start at 250ms with 10 buckets doubling in size
	}, []string{"variant"})

	SettlementAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_attempts_total",
		Help: "The total number of settlement attempts, including retries",
	}, []string{"variant"})

	RetryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_retries_total",
		Help: "The total number of retried settlement attempts by error class",
	}, []string{"error_type"})

	MaxAttemptsReached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_max_attempts_reached_total",
		Help: "Number of settlements that exhausted their attempts",
	}, []string{"error_type"})

	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_failures_total",
		Help: "Total number of failed settlements by failure kind",
	}, []string{"variant", "kind"})

	GasUsed = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_gas_used",
		Help:    "Gas used by settlement transactions",
		Buckets: prometheus.ExponentialBuckets(21000, 2, 10), // Start at 21000 with 10 buckets doubling in size
	}, []string{"variant"})

	GasPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_gas_price_gwei",
		Help: "Gas price used for the most recent settlement transaction in gwei",
	})

	InFlightSettlements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_in_flight",
		Help: "The number of settlements currently being processed",
	})

	NonceAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_nonce_acquisitions_total",
		Help: "Chain nonces handed out, by whether the value was freshly issued or reused to fill a gap",
	}, []string{"source"})

	NonceReleases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_nonce_releases_total",
		Help: "Chain nonce reservations released after a failed attempt",
	})

	NonceResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_nonce_resyncs_total",
		Help: "Times the coordinator reconciled against the chain pending nonce",
	})

	CoordinatorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_nonce_coordinator_errors_total",
		Help: "Nonce store operations that failed",
	})

	SafetyBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_safety_blocks_total",
		Help: "Settlements blocked by the pre-flight safety gate by reason code",
	}, []string{"code"})

	VerificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_verification_failures_total",
		Help: "Intents rejected by the verifier by reason code",
	}, []string{"reason"})

	ProviderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_rpc_provider_failures_total",
		Help: "RPC calls that failed with a connectivity error, by provider",
	}, []string{"provider", "operation"})

	ProviderFailovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_rpc_failovers_total",
		Help: "RPC calls that moved on to a lower ranked provider",
	}, []string{"operation"})
)
