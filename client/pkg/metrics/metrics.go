package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notes_client_build_info",
			Help: "Build information of the notes client",
		},
		[]string{"version", "commit", "date"},
	)

	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_client_rpc_requests_total",
			Help: "Total number of Solana RPC requests",
		},
		[]string{"cluster", "method", "status"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notes_client_rpc_request_duration_seconds",
			Help:    "Duration of Solana RPC requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"cluster", "method"},
	)

	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_client_mutations_total",
			Help: "Total number of note mutations by outcome",
		},
		[]string{"operation", "status"}, // status: "applied", "rejected", "program_error", "discarded", "invalid", "busy"
	)

	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_client_fetches_total",
			Help: "Total number of note list fetches",
		},
		[]string{"status"},
	)

	SubscriptionUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_client_subscription_updates_total",
			Help: "Total number of pushed slot and balance updates",
		},
		[]string{"kind"}, // "slot", "account"
	)

	SubscriptionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_client_subscription_errors_total",
			Help: "Total number of subscriptions that ended with an error",
		},
		[]string{"kind"},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notes_client_active_subscriptions",
			Help: "Number of currently attached push subscriptions",
		},
	)

	ClusterSwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_client_cluster_switches_total",
			Help: "Total number of cluster switches",
		},
		[]string{"cluster"},
	)
)

// RecordRPC records metrics for a single RPC call.
func RecordRPC(cluster, method string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RPCRequestsTotal.WithLabelValues(cluster, method, status).Inc()
	RPCRequestDuration.WithLabelValues(cluster, method).Observe(duration.Seconds())
}

// RecordMutation records the outcome of a note mutation.
func RecordMutation(operation, status string) {
	MutationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordFetch records the outcome of a note list fetch.
func RecordFetch(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	FetchesTotal.WithLabelValues(status).Inc()
}
