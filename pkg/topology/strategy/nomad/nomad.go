// Package nomad implements the Nomad strategy: periodic HTTP GET against
// a Nomad server's service-discovery API, reconciled against the
// addresses it returns.
package nomad

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/topology/pkg/log"
	"github.com/cuemby/topology/pkg/metrics"
	"github.com/cuemby/topology/pkg/topology"
	"github.com/rs/zerolog"
)

const (
	defaultPollingInterval = 5 * time.Second
	requestTimeout         = 15 * time.Second
)

// Strategy polls a Nomad server for a service's registered addresses.
type Strategy struct {
	Client *http.Client
}

// New returns a Nomad strategy. A nil client gets a default with a 15s
// timeout.
func New(client *http.Client) *Strategy {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Strategy{Client: client}
}

func (s *Strategy) ChildSpec(state *topology.State) topology.ChildSpec {
	return topology.ChildSpec{ID: state.Topology, Restart: topology.RestartPermanent}
}

func (s *Strategy) Start(ctx context.Context, state *topology.State) (topology.Worker, error) {
	logger := log.WithComponent("strategy.nomad")
	interval := pollingInterval(state.Config)
	w := &worker{Crasher: topology.NewCrasher(), strategy: s, state: state, logger: logger, interval: interval, stop: make(chan struct{}), done: make(chan struct{})}
	w.Go(func() { w.run(ctx) })
	return w, nil
}

type nomadServiceEntry struct {
	Address string `json:"Address"`
}

type worker struct {
	*topology.Crasher

	strategy *Strategy
	state    *topology.State
	logger   zerolog.Logger
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	w.tick(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *worker) Stop(ctx context.Context) error {
	close(w.stop)
	select {
	case <-w.done:
	case <-ctx.Done():
	}
	return nil
}

func (w *worker) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DiscoveryPollDuration.WithLabelValues(string(w.state.Topology), "nomad"))

	basename, _ := w.state.Config["basename"].(string)
	serviceName, _ := w.state.Config["service_name"].(string)
	namespace, _ := w.state.Config["namespace"].(string)
	token, _ := w.state.Config["token"].(string)
	serverURL, _ := w.state.Config["nomad_server_url"].(string)

	if basename == "" || serviceName == "" || serverURL == "" {
		w.logger.Warn().Str("topology", string(w.state.Topology)).Msg("nomad strategy missing required config, leaving membership unchanged")
		return
	}

	entries, err := w.fetch(ctx, serverURL, serviceName, namespace, token)
	if err != nil {
		metrics.DiscoveryPollErrorsTotal.WithLabelValues(string(w.state.Topology), "nomad", "request").Inc()
		w.logger.Warn().Err(err).Msg("nomad api request failed, preserving membership")
		return
	}

	var desired []topology.Peer
	for _, e := range entries {
		if e.Address == "" {
			continue
		}
		peer := topology.Peer(fmt.Sprintf("%s@%s", basename, e.Address))
		if peer == w.state.Self() {
			continue
		}
		desired = append(desired, peer)
	}

	previous := topology.NewMembershipSet(w.state.PreviousSlice()...)
	next, err := topology.Reconcile(ctx, w.state.Topology, w.state.Self(), topology.NewMembershipSet(desired...), previous, w.state.Callbacks, w.logger)
	if err != nil {
		w.logger.Warn().Err(err).Msg("reconcile failed, preserving membership")
		return
	}
	w.state.SetPreviousSlice(next.Slice())
}

func (w *worker) fetch(ctx context.Context, serverURL, serviceName, namespace, token string) ([]nomadServiceEntry, error) {
	q := url.Values{}
	if namespace != "" {
		q.Set("namespace", namespace)
	}
	reqURL := fmt.Sprintf("%s/v1/service/%s", serverURL, url.PathEscape(serviceName))
	if enc := q.Encode(); enc != "" {
		reqURL += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("X-Nomad-Token", token)
	}

	resp, err := w.strategy.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nomad api status %d: %s", resp.StatusCode, string(body))
	}

	var entries []nomadServiceEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func pollingInterval(cfg map[string]any) time.Duration {
	if ms, ok := cfg["polling_interval"].(int); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultPollingInterval
}
