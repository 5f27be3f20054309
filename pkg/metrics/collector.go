package metrics

import "time"

// WorkerState describes one topology worker's supervision state at the
// moment the collector samples it.
type WorkerState struct {
	Running      bool
	RestartCount int
}

// SupervisorStats is the subset of supervisor state the collector samples
// periodically. It is satisfied by *topology.Supervisor; defined here
// instead of imported to avoid a pkg/metrics -> pkg/topology import cycle
// (pkg/topology already imports pkg/metrics for per-cycle counters).
type SupervisorStats interface {
	// WorkerStatus returns, for every configured topology, its current
	// supervision state.
	WorkerStatus() map[string]WorkerState
}

// Collector periodically samples supervisor-wide state into gauges that
// the per-cycle Reconcile call can't update itself (worker up/down,
// restart counts survive across crashes).
type Collector struct {
	stats  SupervisorStats
	stopCh chan struct{}
}

// NewCollector creates a metrics collector over the given supervisor.
func NewCollector(stats SupervisorStats) *Collector {
	return &Collector{
		stats:  stats,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for topology, status := range c.stats.WorkerStatus() {
		if status.Running {
			WorkersRunning.WithLabelValues(topology).Set(1)
		} else {
			WorkersRunning.WithLabelValues(topology).Set(0)
		}
		WorkerRestartsTotal.WithLabelValues(topology).Add(0) // ensure series exists even with zero restarts
	}
}
