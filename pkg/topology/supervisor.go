package topology

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/topology/pkg/log"
	"github.com/cuemby/topology/pkg/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TopologySpec is one entry of the Configuration Root: a strategy binding
// plus its private config and its Callbacks, all three of which are
// required (see Callbacks.Validate).
type TopologySpec struct {
	Strategy Strategy
	// Self is this process's own Peer identity, passed through to the
	// Reconciler so it never connects or disconnects itself.
	Self          Peer
	Config        map[string]any
	Callbacks     Callbacks
	RestartPolicy RestartPolicy // zero value defers to the strategy's ChildSpec
}

// Supervisor owns one running Worker per configured topology, restarts a
// Worker that fails with a one-for-one policy, and propagates shutdown.
type Supervisor struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	children map[Name]*supervisedChild
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type supervisedChild struct {
	spec         TopologySpec
	state        *State
	running      bool
	restartCount int
}

// NewSupervisor creates an empty Supervisor. Call Start to launch workers.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		logger:   log.WithComponent("supervisor"),
		children: make(map[Name]*supervisedChild),
	}
}

// Start builds a State for each (name, spec) pair in configurations and
// launches its Strategy. It returns once every topology has been launched
// (not once every topology has converged — polling strategies keep running).
func (s *Supervisor) Start(ctx context.Context, configurations map[Name]TopologySpec) error {
	s.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	for name, spec := range configurations {
		if err := spec.Callbacks.Validate(); err != nil {
			return fmt.Errorf("topology %q: %w", name, err)
		}
		child := &supervisedChild{
			spec: spec,
			state: &State{
				Topology:  name,
				SelfPeer:  spec.Self,
				Callbacks: spec.Callbacks,
				Config:    spec.Config,
			},
		}
		s.mu.Lock()
		s.children[name] = child
		s.mu.Unlock()

		s.wg.Add(1)
		go s.runChild(ctx, name, child)
	}

	return nil
}

// runChild launches a topology's Strategy and, if it returns a running
// Worker, supervises it: a crash restarts the Strategy with exponential
// backoff capped at 30s, under a one-for-one policy that never touches
// other topologies. The restart policy is the spec's RestartPolicy, or the
// Strategy's ChildSpec when that is unset; RestartTemporary never restarts.
func (s *Supervisor) runChild(ctx context.Context, name Name, child *supervisedChild) {
	defer s.wg.Done()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	policy := child.spec.RestartPolicy
	if policy == "" {
		policy = child.spec.Strategy.ChildSpec(child.state).Restart
	}

	for {
		instanceID := uuid.New().String()
		logger := log.WithTopology(string(name)).With().
			Str("component", fmt.Sprintf("strategy.%s", name)).
			Str("instance_id", instanceID).
			Logger()

		s.setRunning(name, true)
		metrics.WorkersRunning.WithLabelValues(string(name)).Set(1)

		worker, err := safeStart(ctx, child.spec.Strategy, child.state)
		if err != nil {
			logger.Error().Err(err).Msg("strategy failed to start")
			s.setRunning(name, false)
			metrics.WorkersRunning.WithLabelValues(string(name)).Set(0)

			if policy == RestartTemporary || !s.sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			s.incRestart(name)
			metrics.WorkerRestartsTotal.WithLabelValues(string(name)).Inc()
			continue
		}

		if worker == nil {
			// One-shot strategy: it performed its work during Start and is
			// done. Nothing to supervise.
			logger.Info().Msg("one-shot strategy completed")
			s.setRunning(name, false)
			metrics.WorkersRunning.WithLabelValues(string(name)).Set(0)
			return
		}

		// Running worker: wait for shutdown or a crash reported by its
		// background goroutine.
		select {
		case <-ctx.Done():
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := worker.Stop(stopCtx); err != nil {
				logger.Warn().Err(err).Msg("worker stop returned error")
			}
			stopCancel()
			s.setRunning(name, false)
			metrics.WorkersRunning.WithLabelValues(string(name)).Set(0)
			return

		case crashErr := <-worker.Crashed():
			logger.Error().Err(crashErr).Msg("worker crashed, restarting")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = worker.Stop(stopCtx)
			stopCancel()
			s.setRunning(name, false)
			metrics.WorkersRunning.WithLabelValues(string(name)).Set(0)

			if policy == RestartTemporary || !s.sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			s.incRestart(name)
			metrics.WorkerRestartsTotal.WithLabelValues(string(name)).Inc()
			continue
		}
	}
}

// safeStart runs a Strategy's Start under recover so a panic during setup
// restarts the topology through the normal backoff path instead of taking
// down the process.
func safeStart(ctx context.Context, strat Strategy, state *State) (worker Worker, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panicked during start: %v", r)
		}
	}()
	return strat.Start(ctx, state)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func (s *Supervisor) sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Supervisor) setRunning(name Name, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.children[name]; ok {
		c.running = running
	}
}

func (s *Supervisor) incRestart(name Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.children[name]; ok {
		c.restartCount++
	}
}

// Stop terminates all Workers and waits for each to release its owned
// resources before returning.
func (s *Supervisor) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// WorkerStatus satisfies metrics.SupervisorStats: the current running/
// restart-count state of every configured topology, sampled by the
// periodic metrics collector.
func (s *Supervisor) WorkerStatus() map[string]metrics.WorkerState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]metrics.WorkerState, len(s.children))
	for name, c := range s.children {
		out[string(name)] = metrics.WorkerState{
			Running:      c.running,
			RestartCount: c.restartCount,
		}
	}
	return out
}
