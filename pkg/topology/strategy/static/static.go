// Package static implements the Static Host strategy: a fixed list of
// peers, reconciled once (or periodically, if a timeout is configured).
package static

import (
	"context"
	"time"

	"github.com/cuemby/topology/pkg/log"
	"github.com/cuemby/topology/pkg/topology"
	"github.com/rs/zerolog"
)

// Strategy reconciles against a fixed host list. With no timeout it is a
// one-shot: it reconciles once and reports "done". With a timeout it
// becomes a periodic Worker that re-reconciles to recover from transient
// connection failures.
type Strategy struct{}

// New returns a Static strategy.
func New() *Strategy { return &Strategy{} }

func (s *Strategy) ChildSpec(state *topology.State) topology.ChildSpec {
	return topology.ChildSpec{ID: state.Topology, Restart: topology.RestartPermanent}
}

func (s *Strategy) Start(ctx context.Context, state *topology.State) (topology.Worker, error) {
	logger := log.WithComponent("strategy.static")
	hosts := configHosts(state.Config)

	if len(hosts) == 0 {
		logger.Info().Str("topology", string(state.Topology)).Msg("no hosts configured, nothing to do")
		return nil, nil
	}

	timeout := configTimeout(state.Config)
	if timeout <= 0 {
		if err := reconcileOnce(ctx, state, hosts, logger); err != nil {
			return nil, err
		}
		return nil, nil
	}

	w := &periodicWorker{
		Crasher: topology.NewCrasher(),
		state:   state,
		hosts:   hosts,
		timeout: timeout,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.Go(func() { w.run(ctx) })
	return w, nil
}

func reconcileOnce(ctx context.Context, state *topology.State, hosts []topology.Peer, logger zerolog.Logger) error {
	previous := topology.NewMembershipSet(state.PreviousSlice()...)
	next, err := topology.Reconcile(ctx, state.Topology, state.Self(), topology.NewMembershipSet(hosts...), previous, state.Callbacks, logger)
	if err != nil {
		return err
	}
	state.SetPreviousSlice(next.Slice())
	return nil
}

// periodicWorker re-runs the static reconcile every timeout, to recover
// from transient connection failures without ever touching the committed
// host list.
type periodicWorker struct {
	*topology.Crasher

	state   *topology.State
	hosts   []topology.Peer
	timeout time.Duration
	logger  zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

func (w *periodicWorker) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if err := reconcileOnce(ctx, w.state, w.hosts, w.logger); err != nil {
				w.logger.Warn().Err(err).Str("topology", string(w.state.Topology)).Msg("reconcile failed, will retry")
			}
		}
	}
}

func (w *periodicWorker) Stop(ctx context.Context) error {
	close(w.stop)
	select {
	case <-w.done:
	case <-ctx.Done():
	}
	return nil
}

func configHosts(cfg map[string]any) []topology.Peer {
	var raw []string
	switch v := cfg["hosts"].(type) {
	case []string:
		raw = v
	case []any:
		// The shape a YAML list takes when decoded into map[string]any.
		for _, h := range v {
			if s, ok := h.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	out := make([]topology.Peer, 0, len(raw))
	for _, h := range raw {
		out = append(out, topology.Peer(h))
	}
	return out
}

func configTimeout(cfg map[string]any) time.Duration {
	ms, ok := cfg["timeout"].(int)
	if !ok || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
