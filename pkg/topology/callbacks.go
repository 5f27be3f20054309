package topology

import "context"

// CallbackResult classifies the outcome of a connect or disconnect callback.
type CallbackResult int

const (
	// ResultOK means the operation succeeded (connected, or already
	// connected; disconnected).
	ResultOK CallbackResult = iota
	// ResultFailed means the peer was unreachable (connect) or already
	// disconnected for a reason other than success (disconnect).
	ResultFailed
	// ResultIgnored means the transport refused to consider the peer part
	// of its network.
	ResultIgnored
)

func (r CallbackResult) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultFailed:
		return "failed"
	case ResultIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// ConnectFunc attempts to connect to peer. A non-nil error represents the
// "any other value" case from the original contract: a transport-specific
// failure that should be retried on the next reconcile cycle.
type ConnectFunc func(ctx context.Context, peer Peer) (CallbackResult, error)

// DisconnectFunc attempts to disconnect from peer. Semantics mirror
// ConnectFunc: a non-nil error means "keep retrying".
type DisconnectFunc func(ctx context.Context, peer Peer) (CallbackResult, error)

// ListConnectedFunc returns the peers the transport currently considers
// connected.
type ListConnectedFunc func(ctx context.Context) ([]Peer, error)

// Callbacks is the triple of invocables the Reconciler treats as opaque. The
// caller, not the core, decides how Connect/Disconnect/ListConnected talk to
// the actual transport; fixed arguments (module/target, entry point) are
// captured by the closures themselves.
type Callbacks struct {
	Connect       ConnectFunc
	Disconnect    DisconnectFunc
	ListConnected ListConnectedFunc
}

// Validate reports an error if any required callback is missing. Per the
// resolved Open Question in spec.md §9, ListConnected has no silent
// ambient fallback — a topology spec lacking it is rejected when the
// Supervisor starts it, not papered over here.
func (c Callbacks) Validate() error {
	if c.Connect == nil {
		return errMissingCallback("connect")
	}
	if c.Disconnect == nil {
		return errMissingCallback("disconnect")
	}
	if c.ListConnected == nil {
		return errMissingCallback("list_connected")
	}
	return nil
}

type missingCallbackError string

func errMissingCallback(name string) error {
	return missingCallbackError(name)
}

func (e missingCallbackError) Error() string {
	return "topology: missing required callback: " + string(e)
}
