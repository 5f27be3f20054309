package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/topology/pkg/config"
	"github.com/cuemby/topology/pkg/log"
	"github.com/cuemby/topology/pkg/metrics"
	"github.com/cuemby/topology/pkg/topology"
	"github.com/cuemby/topology/pkg/topology/strategy/dnspoll"
	"github.com/cuemby/topology/pkg/topology/strategy/gossip"
	"github.com/cuemby/topology/pkg/topology/strategy/hostsfile"
	"github.com/cuemby/topology/pkg/topology/strategy/kubernetes"
	"github.com/cuemby/topology/pkg/topology/strategy/localepmd"
	"github.com/cuemby/topology/pkg/topology/strategy/nomad"
	"github.com/cuemby/topology/pkg/topology/strategy/rancher"
	"github.com/cuemby/topology/pkg/topology/strategy/static"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the topology daemon",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "configuration file (required)")
	runCmd.Flags().String("listen", ":9090", "address to serve /metrics and /healthz on")
	_ = runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	listenAddr, _ := cmd.Flags().GetString("listen")

	logger := log.WithComponent("topologyd")

	root, err := config.Load(configPath)
	if err != nil {
		return err
	}

	registry := topology.NewInProcessRegistry()
	sup := topology.NewSupervisor()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := startSupervisor(ctx, sup, root, registry); err != nil {
		return err
	}
	metrics.RegisterComponent("supervisor", true, "")

	collector := metrics.NewCollector(sup)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

	server := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		logger.Info().Str("address", listenAddr).Msg("serving metrics and health endpoints")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server exited")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigCh
		if sig == syscall.SIGHUP {
			logger.Info().Msg("received SIGHUP, reloading configuration")
			newRoot, err := config.Load(configPath)
			if err != nil {
				logger.Warn().Err(err).Msg("config reload failed, keeping running configuration")
				continue
			}
			sup.Stop()
			sup = topology.NewSupervisor()
			if err := startSupervisor(ctx, sup, newRoot, registry); err != nil {
				logger.Error().Err(err).Msg("failed to restart supervisor with reloaded configuration")
				return err
			}
			collector.Stop()
			collector = metrics.NewCollector(sup)
			collector.Start()
			continue
		}

		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = server.Shutdown(shutdownCtx)
		shutdownCancel()
		sup.Stop()
		return nil
	}
}

func startSupervisor(ctx context.Context, sup *topology.Supervisor, root *config.Root, registry topology.LocalRegistry) error {
	configurations := make(map[topology.Name]topology.TopologySpec, len(root.Topologies))
	for name, t := range root.Topologies {
		strat, err := buildStrategy(t.Strategy, registry)
		if err != nil {
			return fmt.Errorf("topology %q: %w", name, err)
		}
		configurations[topology.Name(name)] = topology.TopologySpec{
			Strategy:  strat,
			Self:      topology.Peer(root.Self),
			Config:    t.Config,
			Callbacks: topology.DefaultCallbacks(registry),
		}
	}
	return sup.Start(ctx, configurations)
}

func buildStrategy(id string, registry topology.LocalRegistry) (topology.Strategy, error) {
	switch id {
	case "static":
		return static.New(), nil
	case "localepmd":
		return localepmd.New(registry), nil
	case "hostsfile":
		return hostsfile.New(registry), nil
	case "gossip":
		return gossip.New(), nil
	case "dns-a":
		return dnspoll.NewA(nil), nil
	case "dns-srv":
		return dnspoll.NewSRV(nil), nil
	case "kubernetes":
		return kubernetes.New(), nil
	case "rancher":
		return rancher.New(nil), nil
	case "nomad":
		return nomad.New(nil), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", id)
	}
}
