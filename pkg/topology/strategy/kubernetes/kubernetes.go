// Package kubernetes implements the Kubernetes API strategy: periodic
// polling of the Endpoints or Pods API for a label selector, reconciled
// against the formed peer set.
package kubernetes

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/topology/pkg/log"
	"github.com/cuemby/topology/pkg/metrics"
	"github.com/cuemby/topology/pkg/topology"
	"github.com/rs/zerolog"
)

const (
	defaultServiceAccountPath = "/var/run/secrets/kubernetes.io/serviceaccount"
	defaultMaster             = "kubernetes.default.svc"
	defaultClusterName        = "cluster"
	defaultPollingInterval    = 5 * time.Second
	requestTimeout            = 15 * time.Second
)

// Strategy polls the Kubernetes API server for endpoint/pod addresses
// matching a label selector.
type Strategy struct{}

// New returns a Kubernetes strategy.
func New() *Strategy { return &Strategy{} }

func (s *Strategy) ChildSpec(state *topology.State) topology.ChildSpec {
	return topology.ChildSpec{ID: state.Topology, Restart: topology.RestartPermanent}
}

func (s *Strategy) Start(ctx context.Context, state *topology.State) (topology.Worker, error) {
	logger := log.WithComponent("strategy.kubernetes")
	cfg, err := parseConfig(state.Config)
	if err != nil {
		return nil, err
	}

	client, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: cannot build HTTP client: %w", err)
	}

	w := &worker{Crasher: topology.NewCrasher(), state: state, cfg: cfg, client: client, logger: logger, stop: make(chan struct{}), done: make(chan struct{})}
	w.Go(func() { w.run(ctx) })
	return w, nil
}

type config struct {
	basename            string
	selector            string
	namespace           string
	master              string
	serviceName         string
	serviceAccountPath  string
	ipLookupMode        string // endpoints | pods
	useCachedResources  bool
	clusterName         string
	mode                string // ip | hostname | dns
	pollingInterval     time.Duration
	tokenPath, caPath   string
}

func parseConfig(raw map[string]any) (config, error) {
	str := func(key, def string) string {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
		return def
	}

	sap := str("kubernetes_service_account_path", defaultServiceAccountPath)
	cfg := config{
		basename:           str("kubernetes_node_basename", ""),
		selector:           str("kubernetes_selector", ""),
		namespace:          str("kubernetes_namespace", ""),
		master:             str("kubernetes_master", defaultMaster),
		serviceName:        str("kubernetes_service_name", ""),
		serviceAccountPath: sap,
		ipLookupMode:       str("kubernetes_ip_lookup_mode", "endpoints"),
		clusterName:        str("kubernetes_cluster_name", defaultClusterName),
		mode:               str("mode", "ip"),
		tokenPath:          filepath.Join(sap, "token"),
		caPath:             filepath.Join(sap, "ca.crt"),
	}
	if v, ok := raw["kubernetes_use_cached_resources"].(bool); ok {
		cfg.useCachedResources = v
	}
	if ms, ok := raw["polling_interval"].(int); ok && ms > 0 {
		cfg.pollingInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.pollingInterval = defaultPollingInterval
	}
	if cfg.namespace == "" {
		if b, err := os.ReadFile(filepath.Join(sap, "namespace")); err == nil {
			cfg.namespace = strings.TrimSpace(string(b))
		}
	}
	return cfg, nil
}

func buildHTTPClient(cfg config) (*http.Client, error) {
	tlsConfig := &tls.Config{}
	if data, err := os.ReadFile(cfg.caPath); err == nil {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM(data) {
			tlsConfig.RootCAs = pool
		}
	} else {
		tlsConfig.InsecureSkipVerify = true
	}
	return &http.Client{
		Timeout:   requestTimeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}, nil
}

func clusterDomainFor(cfg config) string {
	if v := os.Getenv("CLUSTER_DOMAIN"); v != "" {
		return v
	}
	return cfg.clusterName + ".local"
}

func apiBase(cfg config) string {
	domain := clusterDomainFor(cfg)
	if strings.HasSuffix(cfg.master, domain) || strings.HasSuffix(cfg.master, ".") {
		return "https://" + cfg.master
	}
	return fmt.Sprintf("https://%s.%s", cfg.master, domain)
}

func readToken(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

type worker struct {
	*topology.Crasher

	state  *topology.State
	cfg    config
	client *http.Client
	logger zerolog.Logger
	stop   chan struct{}
	done   chan struct{}

	// baseURLOverride replaces apiBase(cfg) when set, so tests can point
	// the worker at an httptest server instead of a real API server.
	baseURLOverride string
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	w.tick(ctx)
	ticker := time.NewTicker(w.cfg.pollingInterval)
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

type addressTriple struct {
	ip, namespace, hostname string
}

func (w *worker) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DiscoveryPollDuration.WithLabelValues(string(w.state.Topology), "kubernetes"))

	if w.cfg.basename == "" || w.cfg.selector == "" {
		w.logger.Warn().Str("topology", string(w.state.Topology)).Msg("kubernetes strategy missing basename or selector, leaving membership unchanged")
		return
	}

	triples, err := w.fetch(ctx)
	if err != nil {
		kind := "request"
		if apiErr, ok := err.(*apiError); ok {
			kind = "status"
			if apiErr.status == http.StatusForbidden {
				kind = "forbidden"
				w.logger.Warn().Str("message", apiErr.message).Msg("kubernetes api forbidden, preserving membership")
			} else {
				w.logger.Warn().Int("status", apiErr.status).Str("body", apiErr.message).Msg("kubernetes api error, preserving membership")
			}
		} else {
			w.logger.Error().Err(err).Msg("kubernetes api request failed, preserving membership")
		}
		metrics.DiscoveryPollErrorsTotal.WithLabelValues(string(w.state.Topology), "kubernetes", kind).Inc()
		return
	}

	var desired []topology.Peer
	for _, t := range triples {
		if t.ip == "" {
			continue
		}
		peer := w.formPeer(t)
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

func (w *worker) formPeer(t addressTriple) topology.Peer {
	switch w.cfg.mode {
	case "hostname":
		return topology.Peer(fmt.Sprintf("%s@%s.%s.%s.svc.%s.local", w.cfg.basename, t.hostname, w.cfg.serviceName, t.namespace, w.cfg.clusterName))
	case "dns":
		dashedIP := strings.ReplaceAll(t.ip, ".", "-")
		return topology.Peer(fmt.Sprintf("%s@%s.%s.pod.%s.local", w.cfg.basename, dashedIP, t.namespace, w.cfg.clusterName))
	default:
		return topology.Peer(fmt.Sprintf("%s@%s", w.cfg.basename, t.ip))
	}
}

type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("kubernetes api status %d: %s", e.status, e.message)
}

func (w *worker) fetch(ctx context.Context) ([]addressTriple, error) {
	resource := "endpoints"
	if w.cfg.ipLookupMode == "pods" {
		resource = "pods"
	}

	q := url.Values{}
	q.Set("labelSelector", w.cfg.selector)
	if w.cfg.useCachedResources {
		q.Set("resourceVersion", "0")
	}

	base := w.baseURLOverride
	if base == "" {
		base = apiBase(w.cfg)
	}
	reqURL := fmt.Sprintf("%s/api/v1/namespaces/%s/%s?%s", base, w.cfg.namespace, resource, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if token := readToken(w.cfg.tokenPath); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusForbidden {
		return nil, &apiError{status: resp.StatusCode, message: apiMessage(body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{status: resp.StatusCode, message: string(body)}
	}

	if resource == "pods" {
		return parsePods(body)
	}
	return parseEndpoints(body)
}

func apiMessage(body []byte) string {
	var status struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &status); err == nil && status.Message != "" {
		return status.Message
	}
	return string(body)
}

func parseEndpoints(body []byte) ([]addressTriple, error) {
	var list struct {
		Items []struct {
			Subsets []struct {
				Addresses []struct {
					IP       string `json:"ip"`
					Hostname string `json:"hostname"`
					TargetRef struct {
						Namespace string `json:"namespace"`
					} `json:"targetRef"`
				} `json:"addresses"`
			} `json:"subsets"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}
	var out []addressTriple
	for _, item := range list.Items {
		for _, subset := range item.Subsets {
			for _, addr := range subset.Addresses {
				out = append(out, addressTriple{ip: addr.IP, namespace: addr.TargetRef.Namespace, hostname: addr.Hostname})
			}
		}
	}
	return out, nil
}

func parsePods(body []byte) ([]addressTriple, error) {
	var list struct {
		Items []struct {
			Status struct {
				PodIP string `json:"podIP"`
			} `json:"status"`
			Metadata struct {
				Namespace string `json:"namespace"`
			} `json:"metadata"`
			Spec struct {
				Hostname string `json:"hostname"`
			} `json:"spec"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}
	var out []addressTriple
	for _, item := range list.Items {
		if item.Status.PodIP == "" {
			continue
		}
		out = append(out, addressTriple{ip: item.Status.PodIP, namespace: item.Metadata.Namespace, hostname: item.Spec.Hostname})
	}
	return out, nil
}
