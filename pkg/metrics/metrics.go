package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciler metrics, one series per topology name.
	ReconcileCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_reconcile_cycles_total",
			Help: "Total number of reconcile cycles completed, by topology",
		},
		[]string{"topology"},
	)

	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "topology_reconcile_duration_seconds",
			Help:    "Time taken for a reconcile cycle in seconds, by topology",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topology"},
	)

	MembershipSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "topology_membership_size",
			Help: "Current carry-forward membership set size, by topology",
		},
		[]string{"topology"},
	)

	ConnectFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_connect_failures_total",
			Help: "Total connect callback failures (non-OK result or error), by topology",
		},
		[]string{"topology"},
	)

	DisconnectFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_disconnect_failures_total",
			Help: "Total disconnect callback failures that will be retried, by topology",
		},
		[]string{"topology"},
	)

	// Gossip strategy metrics.
	GossipPacketsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_gossip_packets_sent_total",
			Help: "Total heartbeat packets sent, by topology",
		},
		[]string{"topology"},
	)

	GossipPacketsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_gossip_packets_received_total",
			Help: "Total heartbeat packets received and accepted, by topology",
		},
		[]string{"topology"},
	)

	GossipPacketsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_gossip_packets_dropped_total",
			Help: "Total heartbeat packets dropped, by topology and reason",
		},
		[]string{"topology", "reason"},
	)

	// Poll-based strategies (DNS, Kubernetes, Rancher, Nomad).
	DiscoveryPollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "topology_discovery_poll_duration_seconds",
			Help:    "Time taken for one discovery poll, by topology and strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topology", "strategy"},
	)

	DiscoveryPollErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_discovery_poll_errors_total",
			Help: "Total discovery poll failures, by topology, strategy, and kind",
		},
		[]string{"topology", "strategy", "kind"},
	)

	// Supervisor metrics.
	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_worker_restarts_total",
			Help: "Total number of times the supervisor restarted a worker, by topology",
		},
		[]string{"topology"},
	)

	WorkersRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "topology_workers_running",
			Help: "Whether a topology's worker is currently running (1) or not (0)",
		},
		[]string{"topology"},
	)
)

func init() {
	prometheus.MustRegister(
		ReconcileCyclesTotal,
		ReconcileDuration,
		MembershipSize,
		ConnectFailuresTotal,
		DisconnectFailuresTotal,
		GossipPacketsSentTotal,
		GossipPacketsReceivedTotal,
		GossipPacketsDroppedTotal,
		DiscoveryPollDuration,
		DiscoveryPollErrorsTotal,
		WorkerRestartsTotal,
		WorkersRunning,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
