// Package rancher implements the Rancher metadata-service strategy:
// periodic HTTP GET against the Rancher metadata API, reconciled against
// the container IPs it returns.
package rancher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/topology/pkg/log"
	"github.com/cuemby/topology/pkg/metrics"
	"github.com/cuemby/topology/pkg/topology"
	"github.com/rs/zerolog"
)

const (
	defaultMetadataURL     = "http://rancher-metadata/2016-07-29"
	defaultPollingInterval = 5 * time.Second
	requestTimeout         = 15 * time.Second
)

// Strategy polls the Rancher metadata service for running containers
// belonging to a service, optionally narrowed to a single stack, and
// reconciles against their IPs. Only one stack name is matched; a list of
// stacks is not read from config.
type Strategy struct {
	Client *http.Client
}

// New returns a Rancher strategy. A nil client gets a default with a 15s
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
	logger := log.WithComponent("strategy.rancher")
	interval := pollingInterval(state.Config)
	w := &worker{Crasher: topology.NewCrasher(), strategy: s, state: state, logger: logger, interval: interval, stop: make(chan struct{}), done: make(chan struct{})}
	w.Go(func() { w.run(ctx) })
	return w, nil
}

type rancherContainer struct {
	Name          string `json:"name"`
	PrimaryIP     string `json:"primary_ip"`
	ServiceName   string `json:"service_name"`
	StackName     string `json:"stack_name"`
	State         string `json:"state"`
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
	defer timer.ObserveDuration(metrics.DiscoveryPollDuration.WithLabelValues(string(w.state.Topology), "rancher"))

	basename, _ := w.state.Config["basename"].(string)
	service, _ := w.state.Config["service"].(string)
	stack, _ := w.state.Config["stack"].(string)
	baseURL, _ := w.state.Config["metadata_url"].(string)
	if baseURL == "" {
		baseURL = defaultMetadataURL
	}

	if basename == "" || service == "" {
		w.logger.Warn().Str("topology", string(w.state.Topology)).Msg("rancher strategy missing basename or service, leaving membership unchanged")
		return
	}

	containers, err := w.fetch(ctx, baseURL)
	if err != nil {
		metrics.DiscoveryPollErrorsTotal.WithLabelValues(string(w.state.Topology), "rancher", "request").Inc()
		w.logger.Warn().Err(err).Msg("rancher metadata request failed, preserving membership")
		return
	}

	var desired []topology.Peer
	for _, c := range containers {
		if c.State != "running" || c.PrimaryIP == "" {
			continue
		}
		if c.ServiceName != service {
			continue
		}
		if stack != "" && c.StackName != stack {
			continue
		}
		peer := topology.Peer(fmt.Sprintf("%s@%s", basename, c.PrimaryIP))
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

func (w *worker) fetch(ctx context.Context, baseURL string) ([]rancherContainer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/containers.json", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.strategy.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rancher metadata status %d: %s", resp.StatusCode, string(body))
	}

	var containers []rancherContainer
	if err := json.Unmarshal(body, &containers); err != nil {
		return nil, err
	}
	return containers, nil
}

func pollingInterval(cfg map[string]any) time.Duration {
	if ms, ok := cfg["polling_interval"].(int); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultPollingInterval
}
