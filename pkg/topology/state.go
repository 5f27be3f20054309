package topology

import "sync"

// Name is a short symbolic tag for log prefixes and supervisor child ids.
// It must be unique within a Supervisor.
type Name string

// State is the per-worker immutable handle a Strategy is started with.
// Only the owning Worker mutates Meta and the previous membership set, and
// only from its serialized event loop.
type State struct {
	Topology Name
	// SelfPeer is this process's own identity, never a target of connect
	// or disconnect.
	SelfPeer Peer
	Callbacks Callbacks
	// Config holds strategy-private options, as decoded from the
	// configuration root (see pkg/config).
	Config map[string]any

	mu       sync.Mutex
	meta     any
	previous MembershipSet
}

// Self returns the local node's own Peer identity.
func (s *State) Self() Peer {
	return s.SelfPeer
}

// Meta returns the strategy-private payload (socket handle, cached
// hostnames, last-seen resolver answer, ...). Only the owning Worker's event
// loop should call this.
func (s *State) Meta() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// SetMeta replaces the strategy-private payload.
func (s *State) SetMeta(meta any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
}

// PreviousSlice returns the membership set carried forward from the last
// reconcile cycle, as a slice suitable for feeding back into Reconcile.
func (s *State) PreviousSlice() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous.Slice()
}

// SetPreviousSlice replaces the carried-forward membership set.
func (s *State) SetPreviousSlice(peers []Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previous = NewMembershipSet(peers...)
}
