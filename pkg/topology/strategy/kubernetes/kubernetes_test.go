package kubernetes

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

func newState(t *testing.T) (*topology.State, *[]topology.Peer, *[]topology.Peer) {
	t.Helper()
	var connected, disconnected []topology.Peer
	state := &topology.State{
		Topology: "k8s-test",
		SelfPeer: "self@0",
		Config: map[string]any{
			"kubernetes_node_basename": "node",
			"kubernetes_selector":      "app=demo",
		},
		Callbacks: topology.Callbacks{
			Connect: func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) {
				connected = append(connected, p)
				return topology.ResultOK, nil
			},
			Disconnect: func(ctx context.Context, p topology.Peer) (topology.CallbackResult, error) {
				disconnected = append(disconnected, p)
				return topology.ResultOK, nil
			},
			ListConnected: func(ctx context.Context) ([]topology.Peer, error) { return nil, nil },
		},
	}
	require.NoError(t, state.Callbacks.Validate())
	return state, &connected, &disconnected
}

const endpointsBody = `{
  "items": [
    {"subsets": [{"addresses": [
      {"ip": "10.1.1.1", "hostname": "a", "targetRef": {"namespace": "default"}},
      {"ip": "10.1.1.2", "hostname": "b", "targetRef": {"namespace": "default"}}
    ]}]}
  ]
}`

// Scenario F: API returns 500 on tick 2 after establishing two peers on
// tick 1. Membership is preserved, no disconnects, warn logged.
func TestKubernetesWorker_ScenarioF_TransientServerError(t *testing.T) {
	tick := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tick++
		if tick == 1 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(endpointsBody))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer server.Close()

	state, connected, disconnected := newState(t)
	cfg := config{
		basename:     "node",
		selector:     "app=demo",
		ipLookupMode: "endpoints",
		mode:         "ip",
		clusterName:  "cluster",
	}
	w := &worker{state: state, cfg: cfg, client: server.Client(), logger: zerolog.Nop(), baseURLOverride: server.URL}

	w.tick(context.Background())
	assert.ElementsMatch(t, []topology.Peer{"node@10.1.1.1", "node@10.1.1.2"}, *connected)

	*connected = nil
	w.tick(context.Background())

	assert.Empty(t, *disconnected)
	assert.ElementsMatch(t, []topology.Peer{"node@10.1.1.1", "node@10.1.1.2"}, topology.NewMembershipSet(state.PreviousSlice()...).Slice())
}

func TestKubernetesWorker_MissingConfig_LeavesMembershipUnchanged(t *testing.T) {
	state, connected, _ := newState(t)
	state.Config = map[string]any{}
	w := &worker{state: state, cfg: config{}, client: http.DefaultClient, logger: zerolog.Nop()}

	w.tick(context.Background())

	assert.Empty(t, *connected)
}

func TestFormPeer_Modes(t *testing.T) {
	w := &worker{cfg: config{basename: "node", clusterName: "cluster", serviceName: "svc"}}
	triple := addressTriple{ip: "10.1.1.1", namespace: "default", hostname: "host-a"}

	w.cfg.mode = "ip"
	assert.Equal(t, topology.Peer("node@10.1.1.1"), w.formPeer(triple))

	w.cfg.mode = "hostname"
	assert.Equal(t, topology.Peer("node@host-a.svc.default.svc.cluster.local"), w.formPeer(triple))

	w.cfg.mode = "dns"
	assert.Equal(t, topology.Peer("node@10-1-1-1.default.pod.cluster.local"), w.formPeer(triple))
}
