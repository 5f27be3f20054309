package static

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/topology/pkg/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(t *testing.T, cfg map[string]any, connectFn topology.ConnectFunc) *topology.State {
	t.Helper()
	state := &topology.State{
		Topology: "static-test",
		SelfPeer: "self@0",
		Config:   cfg,
		Callbacks: topology.Callbacks{
			Connect:       connectFn,
			Disconnect:    func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) { return topology.ResultOK, nil },
			ListConnected: func(ctx context.Context) ([]topology.Peer, error) { return nil, nil },
		},
	}
	require.NoError(t, state.Callbacks.Validate())
	return state
}

func TestStrategy_OneShot_ConnectsConfiguredHosts(t *testing.T) {
	var connected []topology.Peer
	state := newState(t, map[string]any{"hosts": []string{"a@1.1.1.1", "b@2.2.2.2"}}, func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) {
		connected = append(connected, p)
		return topology.ResultOK, nil
	})

	w, err := New().Start(context.Background(), state)

	require.NoError(t, err)
	assert.Nil(t, w)
	assert.ElementsMatch(t, []topology.Peer{"a@1.1.1.1", "b@2.2.2.2"}, connected)
	assert.ElementsMatch(t, []topology.Peer{"a@1.1.1.1", "b@2.2.2.2"}, state.PreviousSlice())
}

func TestStrategy_NoHosts_ReturnsNoWorker(t *testing.T) {
	var connected []topology.Peer
	state := newState(t, map[string]any{}, func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) {
		connected = append(connected, p)
		return topology.ResultOK, nil
	})

	w, err := New().Start(context.Background(), state)

	require.NoError(t, err)
	assert.Nil(t, w)
	assert.Empty(t, connected)
}

func TestStrategy_WithTimeout_RetriesPeriodically(t *testing.T) {
	calls := make(chan topology.Peer, 8)
	state := newState(t, map[string]any{"hosts": []string{"a@1.1.1.1"}, "timeout": 10}, func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) {
		calls <- p
		return topology.ResultIgnored, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := New().Start(ctx, state)
	require.NoError(t, err)
	require.NotNil(t, w)
	defer w.Stop(context.Background())

	require.Eventually(t, func() bool { return len(calls) >= 2 }, time.Second, 5*time.Millisecond)
}
