package topology

import (
	"context"
	"fmt"
	"sync"
)

// LocalRegistry stands in for the ambient node-to-node transport spec.md
// assumes: "connect by name" / "disconnect by name" / "list currently
// connected names" primitives, plus the local name registry that
// LocalDiscovery and HostsFile strategies query for names registered on a
// host. The core never mutates a LocalRegistry directly — it is reached
// only through Callbacks built from it.
type LocalRegistry interface {
	// LocalNames returns the names registered on this host (for
	// LocalDiscovery).
	LocalNames(ctx context.Context) ([]string, error)
	// NamesOnHost returns the names registered on the given remote host
	// (for HostsFile).
	NamesOnHost(ctx context.Context, host string) ([]string, error)
	// Connect and Disconnect implement the default Callbacks.
	Connect(ctx context.Context, peer Peer) (CallbackResult, error)
	Disconnect(ctx context.Context, peer Peer) (CallbackResult, error)
	ListConnected(ctx context.Context) ([]Peer, error)
}

// InProcessRegistry is a default LocalRegistry suitable for embedding: it
// tracks a set of "connected" peers in memory. Connect always succeeds;
// Disconnect reports ResultFailed for a peer that is not connected, and
// NamesOnHost returns an error for a host that was never seeded. Real
// deployments supply their own LocalRegistry (or build Callbacks directly)
// backed by whatever transport actually dials peers.
type InProcessRegistry struct {
	mu        sync.RWMutex
	connected map[Peer]struct{}
	hostNames map[string][]string // host -> registered local names, test/embedding fixture
	selfNames []string
}

// NewInProcessRegistry creates an empty in-memory registry. selfNames are
// the names this process considers registered locally (used by
// LocalNames).
func NewInProcessRegistry(selfNames ...string) *InProcessRegistry {
	return &InProcessRegistry{
		connected: make(map[Peer]struct{}),
		hostNames: make(map[string][]string),
		selfNames: selfNames,
	}
}

// SetNamesOnHost seeds the names the registry reports for a given host,
// for strategies like HostsFile that query per-host name registries.
func (r *InProcessRegistry) SetNamesOnHost(host string, names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostNames[host] = names
}

func (r *InProcessRegistry) LocalNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.selfNames))
	copy(out, r.selfNames)
	return out, nil
}

func (r *InProcessRegistry) NamesOnHost(ctx context.Context, host string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names, ok := r.hostNames[host]
	if !ok {
		return nil, fmt.Errorf("topology: no registered names known for host %q", host)
	}
	out := make([]string, len(names))
	copy(out, names)
	return out, nil
}

func (r *InProcessRegistry) Connect(ctx context.Context, peer Peer) (CallbackResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[peer] = struct{}{}
	return ResultOK, nil
}

func (r *InProcessRegistry) Disconnect(ctx context.Context, peer Peer) (CallbackResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connected[peer]; !ok {
		return ResultFailed, nil
	}
	delete(r.connected, peer)
	return ResultOK, nil
}

func (r *InProcessRegistry) ListConnected(ctx context.Context) ([]Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.connected))
	for p := range r.connected {
		out = append(out, p)
	}
	return out, nil
}

// DefaultCallbacks builds a Callbacks triple from a LocalRegistry. This is
// the explicit stand-in the resolved Open Question (spec.md §9) calls for:
// there is no silent fallback inside Reconcile itself — a caller must
// either supply its own Callbacks or opt into this default.
func DefaultCallbacks(reg LocalRegistry) Callbacks {
	return Callbacks{
		Connect:       reg.Connect,
		Disconnect:    reg.Disconnect,
		ListConnected: reg.ListConnected,
	}
}
