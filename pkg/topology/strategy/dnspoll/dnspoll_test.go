package dnspoll

import (
	"context"
	"net"
	"testing"

	"github.com/cuemby/topology/pkg/topology"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	hostAnswers [][]net.IP
	hostCalls   int
	srvAnswers  [][]*net.SRV
	srvCalls    int
}

func (f *fakeResolver) LookupHost(ctx context.Context, fqdn string) ([]net.IP, error) {
	answer := f.hostAnswers[f.hostCalls]
	if f.hostCalls < len(f.hostAnswers)-1 {
		f.hostCalls++
	}
	return answer, nil
}

func (f *fakeResolver) LookupSRV(ctx context.Context, fqdn string) ([]*net.SRV, error) {
	answer := f.srvAnswers[f.srvCalls]
	if f.srvCalls < len(f.srvAnswers)-1 {
		f.srvCalls++
	}
	return answer, nil
}

func newState(cfg map[string]any) *topology.State {
	return &topology.State{
		Topology: "dns-a-test",
		SelfPeer: "self@0",
		Config:   cfg,
		Callbacks: topology.Callbacks{
			Connect:       func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) { return topology.ResultOK, nil },
			Disconnect:    func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) { return topology.ResultOK, nil },
			ListConnected: func(ctx context.Context) ([]topology.Peer, error) { return nil, nil },
		},
	}
}

// Scenario B: resolver returns two addresses then one; tick 2 disconnects
// the one that dropped out.
func TestAWorker_Churn_PruneTrue(t *testing.T) {
	var connected, disconnected []topology.Peer
	state := newState(map[string]any{"query": "svc.local", "node_basename": "node"})
	state.Callbacks.Connect = func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) {
		connected = append(connected, p)
		return topology.ResultOK, nil
	}
	state.Callbacks.Disconnect = func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) {
		disconnected = append(disconnected, p)
		return topology.ResultOK, nil
	}

	resolver := &fakeResolver{hostAnswers: [][]net.IP{
		{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2")},
		{net.ParseIP("10.0.0.1")},
	}}

	w := &aWorker{strategy: &AStrategy{Resolver: resolver}, state: state, logger: zerolog.Nop(), interval: defaultPollingInterval}

	w.tick(context.Background())
	assert.ElementsMatch(t, []topology.Peer{"node@10.0.0.1", "node@10.0.0.2"}, connected)

	connected = nil
	w.tick(context.Background())
	assert.ElementsMatch(t, []topology.Peer{"node@10.0.0.2"}, disconnected)
}

// Scenario C: same churn, prune=false — no disconnect on tick 2.
func TestAWorker_Churn_PruneFalse(t *testing.T) {
	var disconnected []topology.Peer
	state := newState(map[string]any{"query": "svc.local", "node_basename": "node", "prune": false})
	state.Callbacks.Disconnect = func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) {
		disconnected = append(disconnected, p)
		return topology.ResultOK, nil
	}

	resolver := &fakeResolver{hostAnswers: [][]net.IP{
		{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2")},
		{net.ParseIP("10.0.0.1")},
	}}

	w := &aWorker{strategy: &AStrategy{Resolver: resolver}, state: state, logger: zerolog.Nop(), interval: defaultPollingInterval}

	w.tick(context.Background())
	w.tick(context.Background())

	assert.Empty(t, disconnected)
}

func TestAWorker_MissingConfig_LeavesMembershipUnchanged(t *testing.T) {
	state := newState(map[string]any{})
	resolver := &fakeResolver{hostAnswers: [][]net.IP{{net.ParseIP("10.0.0.1")}}}
	w := &aWorker{strategy: &AStrategy{Resolver: resolver}, state: state, logger: zerolog.Nop(), interval: defaultPollingInterval}

	w.tick(context.Background())

	assert.Equal(t, 0, resolver.hostCalls)
	require.Empty(t, state.PreviousSlice())
}

func TestSRVWorker_FormsPeerFromTarget(t *testing.T) {
	var connected []topology.Peer
	state := newState(map[string]any{"service": "cluster", "namespace": "default", "application_name": "app"})
	state.Callbacks.Connect = func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) {
		connected = append(connected, p)
		return topology.ResultOK, nil
	}

	resolver := &fakeResolver{srvAnswers: [][]*net.SRV{
		{{Target: "app-0.cluster.default.svc.cluster.local.", Port: 4369}},
	}}

	w := &srvWorker{strategy: &SRVStrategy{Resolver: resolver}, state: state, logger: zerolog.Nop(), interval: defaultPollingInterval}
	w.tick(context.Background())

	assert.Equal(t, []topology.Peer{"app@app-0.cluster.default.svc.cluster.local"}, connected)
}
