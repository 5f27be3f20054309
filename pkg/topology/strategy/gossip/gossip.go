// Package gossip implements the Gossip strategy: a UDP multicast
// heartbeat that announces the local node and connects to any peer it
// hears from, with optional AES-256-CBC encryption.
package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/cuemby/topology/pkg/log"
	"github.com/cuemby/topology/pkg/metrics"
	"github.com/cuemby/topology/pkg/topology"
	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

const (
	// heartbeatSentinel must be preserved byte-exactly for wire
	// compatibility with prior deployments.
	heartbeatSentinel = "heartbeat::"

	defaultPort          = 45892
	defaultIfAddr        = "0.0.0.0"
	defaultMulticastAddr = "233.252.1.32"
	defaultMulticastTTL  = 1
	maxJitterMillis      = 5000
	minJitterMillis      = 1
	maxPacketSize        = 4096
)

// Strategy is the Gossip multicast discovery strategy.
type Strategy struct{}

// New returns a Gossip strategy.
func New() *Strategy { return &Strategy{} }

func (s *Strategy) ChildSpec(state *topology.State) topology.ChildSpec {
	return topology.ChildSpec{ID: state.Topology, Restart: topology.RestartPermanent}
}

func (s *Strategy) Start(ctx context.Context, state *topology.State) (topology.Worker, error) {
	logger := log.WithComponent("strategy.gossip")
	cfg := parseConfig(state.Config)

	conn, err := bind(cfg)
	if err != nil {
		return nil, fmt.Errorf("gossip: cannot bind socket: %w", err)
	}

	w := &worker{
		Crasher: topology.NewCrasher(),
		state:   state,
		cfg:     cfg,
		conn:    conn,
		logger:  logger,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.Go(func() { w.run(ctx) })
	return w, nil
}

type config struct {
	port          int
	ifAddr        string
	multicastAddr string
	multicastTTL  int
	multicastIf   string
	broadcastOnly bool
	secret        string
}

func parseConfig(raw map[string]any) config {
	str := func(key, def string) string {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
		return def
	}
	intOpt := func(key string, def int) int {
		if v, ok := raw[key].(int); ok {
			return v
		}
		return def
	}

	cfg := config{
		port:          intOpt("port", defaultPort),
		ifAddr:        str("if_addr", defaultIfAddr),
		multicastAddr: str("multicast_addr", defaultMulticastAddr),
		multicastTTL:  intOpt("multicast_ttl", defaultMulticastTTL),
		multicastIf:   str("multicast_if", ""),
		secret:        str("secret", ""),
	}
	if v, ok := raw["broadcast_only"].(bool); ok {
		cfg.broadcastOnly = v
	}
	return cfg
}

type heartbeatRecord struct {
	Node string `json:"node"`
}

// worker owns one UDP socket and serializes heartbeat emission, packet
// receipt, and shutdown through a single goroutine's select loop.
type worker struct {
	*topology.Crasher

	state  *topology.State
	cfg    config
	conn   *net.UDPConn
	dest   *net.UDPAddr
	logger zerolog.Logger
	rnd    *rand.Rand

	stop chan struct{}
	done chan struct{}
}

func bind(cfg config) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseAddrAndPort}
	listenAddr := fmt.Sprintf("%s:%d", cfg.ifAddr, cfg.port)

	if cfg.broadcastOnly {
		pc, err := lc.ListenPacket(context.Background(), "udp4", listenAddr)
		if err != nil {
			return nil, err
		}
		conn := pc.(*net.UDPConn)
		if err := setBroadcast(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enable broadcast: %w", err)
		}
		return conn, nil
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", listenAddr)
	if err != nil {
		return nil, err
	}
	conn := pc.(*net.UDPConn)

	group := &net.UDPAddr{IP: net.ParseIP(cfg.multicastAddr)}
	var iface *net.Interface
	if cfg.multicastIf != "" {
		iface, _ = net.InterfaceByName(cfg.multicastIf)
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.JoinGroup(iface, group); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join multicast group %s: %w", cfg.multicastAddr, err)
	}
	_ = pconn.SetMulticastTTL(cfg.multicastTTL)
	_ = pconn.SetMulticastLoopback(true)

	return conn, nil
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.conn.Close()

	destIP := w.cfg.multicastAddr
	if w.cfg.broadcastOnly {
		destIP = "255.255.255.255"
	}
	w.dest = &net.UDPAddr{IP: net.ParseIP(destIP), Port: w.cfg.port}

	recvCh := make(chan []byte, 16)
	w.Go(func() { w.receiveLoop(recvCh) })

	// Immediate heartbeat on start.
	w.sendHeartbeat()
	timer := time.NewTimer(w.nextJitter())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case packet := <-recvCh:
			w.handlePacket(ctx, packet)
		case <-timer.C:
			w.sendHeartbeat()
			timer.Reset(w.nextJitter())
		}
	}
}

func (w *worker) nextJitter() time.Duration {
	ms := minJitterMillis + w.rnd.Intn(maxJitterMillis-minJitterMillis+1)
	return time.Duration(ms) * time.Millisecond
}

func (w *worker) receiveLoop(out chan<- []byte) {
	buf := make([]byte, maxPacketSize)
	for {
		n, _, err := w.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		select {
		case out <- packet:
		case <-w.stop:
			return
		}
	}
}

func (w *worker) sendHeartbeat() {
	record, err := json.Marshal(heartbeatRecord{Node: string(w.state.Self())})
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to encode heartbeat, skipping send")
		return
	}
	payload := append([]byte(heartbeatSentinel), record...)

	if w.cfg.secret != "" {
		payload, err = encrypt(w.cfg.secret, payload)
		if err != nil {
			w.logger.Warn().Err(err).Msg("failed to encrypt heartbeat, skipping send")
			return
		}
	}

	if _, err := w.conn.WriteToUDP(payload, w.dest); err != nil {
		w.logger.Warn().Err(err).Msg("failed to send heartbeat, will retry on next tick")
		return
	}
	metrics.GossipPacketsSentTotal.WithLabelValues(string(w.state.Topology)).Inc()
}

func (w *worker) handlePacket(ctx context.Context, packet []byte) {
	topic := string(w.state.Topology)
	metrics.GossipPacketsReceivedTotal.WithLabelValues(topic).Inc()

	payload := packet
	if w.cfg.secret != "" {
		plain, err := decrypt(w.cfg.secret, packet)
		if err != nil {
			w.logger.Debug().Err(err).Msg("failed to decrypt gossip packet, dropping")
			metrics.GossipPacketsDroppedTotal.WithLabelValues(topic, "decrypt").Inc()
			return
		}
		payload = plain
	}

	if len(payload) < len(heartbeatSentinel) || string(payload[:len(heartbeatSentinel)]) != heartbeatSentinel {
		w.logger.Debug().Msg("gossip packet missing heartbeat sentinel, dropping")
		metrics.GossipPacketsDroppedTotal.WithLabelValues(topic, "sentinel").Inc()
		return
	}

	var record heartbeatRecord
	if err := json.Unmarshal(payload[len(heartbeatSentinel):], &record); err != nil {
		w.logger.Debug().Err(err).Msg("failed to decode heartbeat record, dropping")
		metrics.GossipPacketsDroppedTotal.WithLabelValues(topic, "decode").Inc()
		return
	}

	peer := topology.Peer(record.Node)
	if peer == "" || peer == w.state.Self() {
		return
	}

	current, err := w.state.Callbacks.ListConnected(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to list connected peers")
		return
	}
	if topology.NewMembershipSet(current...).Contains(peer) {
		return
	}

	previous := topology.NewMembershipSet(w.state.PreviousSlice()...)
	desired := previous.Add(peer)
	next, err := topology.Reconcile(ctx, w.state.Topology, w.state.Self(), desired, previous, w.state.Callbacks, w.logger)
	if err != nil {
		w.logger.Warn().Err(err).Msg("reconcile failed after hearing a new peer")
		return
	}
	w.state.SetPreviousSlice(next.Slice())
}

func (w *worker) Stop(ctx context.Context) error {
	close(w.stop)
	select {
	case <-w.done:
	case <-ctx.Done():
	}
	return nil
}
