// Package hostsfile implements the Hosts-File strategy: read a
// line-delimited file of hostnames, resolve each host's registered names
// through the local registry, and reconcile against the union.
package hostsfile

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/topology/pkg/log"
	"github.com/cuemby/topology/pkg/topology"
	"github.com/rs/zerolog"
)

// Strategy reads a path from config.path, reconciles once, and optionally
// re-runs on a config.timeout interval.
type Strategy struct {
	Registry topology.LocalRegistry
}

// New returns a HostsFile strategy backed by reg.
func New(reg topology.LocalRegistry) *Strategy {
	return &Strategy{Registry: reg}
}

func (s *Strategy) ChildSpec(state *topology.State) topology.ChildSpec {
	return topology.ChildSpec{ID: state.Topology, Restart: topology.RestartPermanent}
}

func (s *Strategy) Start(ctx context.Context, state *topology.State) (topology.Worker, error) {
	logger := log.WithComponent("strategy.hostsfile")
	path, _ := state.Config["path"].(string)

	if err := s.reconcileOnce(ctx, state, path, logger); err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Str("path", path).Msg("hosts file missing, nothing to do")
			return nil, nil
		}
		return nil, err
	}

	timeout := configTimeout(state.Config)
	if timeout <= 0 {
		return nil, nil
	}

	w := &periodicWorker{Crasher: topology.NewCrasher(), strategy: s, state: state, path: path, timeout: timeout, logger: logger, stop: make(chan struct{}), done: make(chan struct{})}
	w.Go(func() { w.run(ctx) })
	return w, nil
}

func (s *Strategy) reconcileOnce(ctx context.Context, state *topology.State, path string, logger zerolog.Logger) error {
	hosts, err := readHosts(path)
	if err != nil {
		return err
	}

	var desired []topology.Peer
	for _, host := range hosts {
		names, err := s.Registry.NamesOnHost(ctx, host)
		if err != nil {
			logger.Warn().Err(err).Str("host", host).Msg("failed to list names on host")
			continue
		}
		for _, n := range names {
			peer := topology.Peer(fmt.Sprintf("%s@%s", n, host))
			if peer == state.Self() {
				continue
			}
			desired = append(desired, peer)
		}
	}

	previous := topology.NewMembershipSet(state.PreviousSlice()...)
	next, err := topology.Reconcile(ctx, state.Topology, state.Self(), topology.NewMembershipSet(desired...), previous, state.Callbacks, logger)
	if err != nil {
		return err
	}
	state.SetPreviousSlice(next.Slice())
	return nil
}

func readHosts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	return hosts, scanner.Err()
}

type periodicWorker struct {
	*topology.Crasher

	strategy *Strategy
	state    *topology.State
	path     string
	timeout  time.Duration
	logger   zerolog.Logger

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
			if err := w.strategy.reconcileOnce(ctx, w.state, w.path, w.logger); err != nil {
				w.logger.Warn().Err(err).Msg("hosts file reconcile failed, will retry")
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

func configTimeout(cfg map[string]any) time.Duration {
	ms, ok := cfg["timeout"].(int)
	if !ok || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
