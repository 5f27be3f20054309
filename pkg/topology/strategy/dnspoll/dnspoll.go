// Package dnspoll implements the DNS-Poll-A and DNS-Poll-SRV strategies:
// periodic DNS resolution of a query name, reconciled against the result.
package dnspoll

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cuemby/topology/pkg/log"
	"github.com/cuemby/topology/pkg/metrics"
	"github.com/cuemby/topology/pkg/topology"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
)

const defaultPollingInterval = 5 * time.Second

// Resolver abstracts DNS lookups so strategies can be driven by a fake in
// tests, per spec's "optional resolver override for testability".
type Resolver interface {
	LookupHost(ctx context.Context, fqdn string) ([]net.IP, error)
	LookupSRV(ctx context.Context, fqdn string) ([]*net.SRV, error)
}

// miekgResolver is the default Resolver, issuing A/AAAA/SRV queries with
// miekg/dns against the system-configured nameserver.
type miekgResolver struct {
	client  *dns.Client
	servers []string
}

func newMiekgResolver() *miekgResolver {
	servers := []string{"127.0.0.1:53"}
	if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cfg.Servers) > 0 {
		servers = nil
		for _, s := range cfg.Servers {
			servers = append(servers, net.JoinHostPort(s, cfg.Port))
		}
	}
	return &miekgResolver{client: &dns.Client{Net: "udp", Timeout: 5 * time.Second}, servers: servers}
}

func (r *miekgResolver) exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func (r *miekgResolver) LookupHost(ctx context.Context, fqdn string) ([]net.IP, error) {
	var ips []net.IP
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(fqdn), qtype)
		resp, err := r.exchange(ctx, m)
		if err != nil {
			return nil, err
		}
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				ips = append(ips, rec.A)
			case *dns.AAAA:
				ips = append(ips, rec.AAAA)
			}
		}
	}
	return ips, nil
}

func (r *miekgResolver) LookupSRV(ctx context.Context, fqdn string) ([]*net.SRV, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(fqdn), dns.TypeSRV)
	resp, err := r.exchange(ctx, m)
	if err != nil {
		return nil, err
	}
	var out []*net.SRV
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			out = append(out, &net.SRV{Target: srv.Target, Port: srv.Port, Priority: srv.Priority, Weight: srv.Weight})
		}
	}
	return out, nil
}

func clusterDomain(fallback string) string {
	if v := os.Getenv("CLUSTER_DOMAIN"); v != "" {
		return v
	}
	return fallback
}

// AStrategy is the DNS-Poll-A strategy.
type AStrategy struct {
	Resolver Resolver
}

// NewA returns a DNS-Poll-A strategy. A nil resolver uses the system DNS
// client.
func NewA(resolver Resolver) *AStrategy {
	if resolver == nil {
		resolver = newMiekgResolver()
	}
	return &AStrategy{Resolver: resolver}
}

func (s *AStrategy) ChildSpec(state *topology.State) topology.ChildSpec {
	return topology.ChildSpec{ID: state.Topology, Restart: topology.RestartPermanent}
}

func (s *AStrategy) Start(ctx context.Context, state *topology.State) (topology.Worker, error) {
	logger := log.WithComponent("strategy.dnspoll.a")
	interval := pollingInterval(state.Config)

	w := &aWorker{Crasher: topology.NewCrasher(), strategy: s, state: state, logger: logger, interval: interval, stop: make(chan struct{}), done: make(chan struct{})}
	w.Go(func() { w.run(ctx) })
	return w, nil
}

type aWorker struct {
	*topology.Crasher

	strategy *AStrategy
	state    *topology.State
	logger   zerolog.Logger
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func (w *aWorker) run(ctx context.Context) {
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

func (w *aWorker) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DiscoveryPollDuration.WithLabelValues(string(w.state.Topology), "dns-a"))

	query, _ := w.state.Config["query"].(string)
	basename, _ := w.state.Config["node_basename"].(string)
	prune := true
	if v, ok := w.state.Config["prune"].(bool); ok {
		prune = v
	}

	if query == "" || basename == "" {
		w.logger.Warn().Str("topology", string(w.state.Topology)).Msg("dns-a strategy missing query or node_basename, leaving membership unchanged")
		return
	}

	ips, err := w.strategy.Resolver.LookupHost(ctx, query)
	if err != nil {
		metrics.DiscoveryPollErrorsTotal.WithLabelValues(string(w.state.Topology), "dns-a", "resolve").Inc()
		w.logger.Warn().Err(err).Str("query", query).Msg("dns resolution failed, preserving membership")
		return
	}

	var desired []topology.Peer
	for _, ip := range ips {
		peer := topology.Peer(fmt.Sprintf("%s@%s", basename, ip.String()))
		if peer == w.state.Self() {
			continue
		}
		desired = append(desired, peer)
	}

	previous := topology.NewMembershipSet(w.state.PreviousSlice()...)
	desiredSet := topology.NewMembershipSet(desired...)

	var next topology.MembershipSet
	if prune {
		next, err = topology.Reconcile(ctx, w.state.Topology, w.state.Self(), desiredSet, previous, w.state.Callbacks, w.logger)
	} else {
		next, err = topology.ReconcileConnectOnly(ctx, w.state.Topology, w.state.Self(), desiredSet, previous, w.state.Callbacks, w.logger)
	}
	if err != nil {
		w.logger.Warn().Err(err).Msg("reconcile failed, preserving membership")
		return
	}
	w.state.SetPreviousSlice(next.Slice())
}

func (w *aWorker) Stop(ctx context.Context) error {
	close(w.stop)
	select {
	case <-w.done:
	case <-ctx.Done():
	}
	return nil
}

// SRVStrategy is the DNS-Poll-SRV (headless-service style) strategy.
type SRVStrategy struct {
	Resolver Resolver
}

// NewSRV returns a DNS-Poll-SRV strategy. A nil resolver uses the system
// DNS client.
func NewSRV(resolver Resolver) *SRVStrategy {
	if resolver == nil {
		resolver = newMiekgResolver()
	}
	return &SRVStrategy{Resolver: resolver}
}

func (s *SRVStrategy) ChildSpec(state *topology.State) topology.ChildSpec {
	return topology.ChildSpec{ID: state.Topology, Restart: topology.RestartPermanent}
}

func (s *SRVStrategy) Start(ctx context.Context, state *topology.State) (topology.Worker, error) {
	logger := log.WithComponent("strategy.dnspoll.srv")
	interval := pollingInterval(state.Config)
	w := &srvWorker{Crasher: topology.NewCrasher(), strategy: s, state: state, logger: logger, interval: interval, stop: make(chan struct{}), done: make(chan struct{})}
	w.Go(func() { w.run(ctx) })
	return w, nil
}

type srvWorker struct {
	*topology.Crasher

	strategy *SRVStrategy
	state    *topology.State
	logger   zerolog.Logger
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func (w *srvWorker) run(ctx context.Context) {
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

func (w *srvWorker) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DiscoveryPollDuration.WithLabelValues(string(w.state.Topology), "dns-srv"))

	service, _ := w.state.Config["service"].(string)
	namespace, _ := w.state.Config["namespace"].(string)
	appName, _ := w.state.Config["application_name"].(string)

	if service == "" || namespace == "" || appName == "" {
		w.logger.Warn().Str("topology", string(w.state.Topology)).Msg("dns-srv strategy missing required config, leaving membership unchanged")
		return
	}

	domain := clusterDomain("cluster.local.")
	fqdn := fmt.Sprintf("%s.%s.svc.%s", service, namespace, strings.TrimSuffix(domain, "."))

	targets, err := w.strategy.Resolver.LookupSRV(ctx, fqdn)
	if err != nil {
		metrics.DiscoveryPollErrorsTotal.WithLabelValues(string(w.state.Topology), "dns-srv", "resolve").Inc()
		w.logger.Warn().Err(err).Str("query", fqdn).Msg("srv resolution failed, preserving membership")
		return
	}

	var desired []topology.Peer
	for _, t := range targets {
		peer := topology.Peer(fmt.Sprintf("%s@%s", appName, strings.TrimSuffix(t.Target, ".")))
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

func (w *srvWorker) Stop(ctx context.Context) error {
	close(w.stop)
	select {
	case <-w.done:
	case <-ctx.Done():
	}
	return nil
}

func pollingInterval(cfg map[string]any) time.Duration {
	if ms, ok := cfg["polling_interval"].(int); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultPollingInterval
}
