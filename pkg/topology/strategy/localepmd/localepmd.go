// Package localepmd implements the Local Discovery strategy: connect to
// every name the ambient registry knows about on the local host.
package localepmd

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/topology/pkg/log"
	"github.com/cuemby/topology/pkg/topology"
)

// Strategy is a one-shot: it asks the LocalRegistry for names registered
// on this host, appends the local host suffix, and reconciles once.
type Strategy struct {
	Registry topology.LocalRegistry
}

// New returns a LocalDiscovery strategy backed by reg.
func New(reg topology.LocalRegistry) *Strategy {
	return &Strategy{Registry: reg}
}

func (s *Strategy) ChildSpec(state *topology.State) topology.ChildSpec {
	return topology.ChildSpec{ID: state.Topology, Restart: topology.RestartPermanent}
}

func (s *Strategy) Start(ctx context.Context, state *topology.State) (topology.Worker, error) {
	logger := log.WithComponent("strategy.localepmd")

	names, err := s.Registry.LocalNames(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("topology", string(state.Topology)).Msg("failed to list local names")
		return nil, nil
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("localepmd: cannot determine local hostname: %w", err)
	}

	desired := make([]topology.Peer, 0, len(names))
	for _, n := range names {
		desired = append(desired, topology.Peer(fmt.Sprintf("%s@%s", n, host)))
	}

	previous := topology.NewMembershipSet(state.PreviousSlice()...)
	next, err := topology.Reconcile(ctx, state.Topology, state.Self(), topology.NewMembershipSet(desired...), previous, state.Callbacks, logger)
	if err != nil {
		return nil, err
	}
	state.SetPreviousSlice(next.Slice())
	return nil, nil
}
