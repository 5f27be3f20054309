package nomad

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/topology/pkg/topology"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serviceBody = `[
  {"Address": "10.3.0.1"},
  {"Address": "10.3.0.2"}
]`

func newState(t *testing.T, cfg map[string]any) (*topology.State, *[]topology.Peer) {
	t.Helper()
	var connected []topology.Peer
	state := &topology.State{
		Topology: "nomad-test",
		SelfPeer: "self@0",
		Config:   cfg,
		Callbacks: topology.Callbacks{
			Connect: func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) {
				connected = append(connected, p)
				return topology.ResultOK, nil
			},
			Disconnect:    func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) { return topology.ResultOK, nil },
			ListConnected: func(ctx context.Context) ([]topology.Peer, error) { return nil, nil },
		},
	}
	require.NoError(t, state.Callbacks.Validate())
	return state, &connected
}

func TestWorker_ConnectsServiceAddresses(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Nomad-Token")
		_, _ = w.Write([]byte(serviceBody))
	}))
	defer server.Close()

	state, connected := newState(t, map[string]any{
		"basename":         "node",
		"service_name":     "web",
		"nomad_server_url": server.URL,
		"token":            "secret-token",
	})
	w := &worker{strategy: New(server.Client()), state: state, logger: zerolog.Nop(), interval: defaultPollingInterval}

	w.tick(context.Background())

	assert.ElementsMatch(t, []topology.Peer{"node@10.3.0.1", "node@10.3.0.2"}, *connected)
	assert.Equal(t, "secret-token", gotToken)
}

func TestWorker_MissingConfig_LeavesMembershipUnchanged(t *testing.T) {
	state, connected := newState(t, map[string]any{})
	w := &worker{strategy: New(nil), state: state, logger: zerolog.Nop(), interval: defaultPollingInterval}

	w.tick(context.Background())

	assert.Empty(t, *connected)
}
