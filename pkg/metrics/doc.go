/*
Package metrics provides Prometheus metrics collection and exposition for the
topology discovery system.

Metrics are registered at package init and exposed via an HTTP handler for
scraping.

# Catalog

Reconciler (one series per topology):
  - topology_reconcile_cycles_total{topology}
  - topology_reconcile_duration_seconds{topology}
  - topology_membership_size{topology}
  - topology_connect_failures_total{topology}
  - topology_disconnect_failures_total{topology}

Gossip strategy:
  - topology_gossip_packets_sent_total{topology}
  - topology_gossip_packets_received_total{topology}
  - topology_gossip_packets_dropped_total{topology,reason}

Poll-based strategies (DNS, Kubernetes, Rancher, Nomad):
  - topology_discovery_poll_duration_seconds{topology,strategy}
  - topology_discovery_poll_errors_total{topology,strategy,kind}

Supervisor:
  - topology_worker_restarts_total{topology}
  - topology_workers_running{topology}

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.ReconcileDuration.WithLabelValues("lan"))

	http.Handle("/metrics", metrics.Handler())

# Health

The health.go helpers (RegisterComponent, GetHealth, GetReadiness) back the
/healthz, /readyz, and /livez endpoints served by cmd/topologyd. Every
registered component is treated as critical for readiness — there is no
fixed list of "important" subsystems, since any topology worker failing to
report in is equally load-bearing.
*/
package metrics
