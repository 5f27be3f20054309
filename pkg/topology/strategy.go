package topology

import (
	"context"
	"fmt"
)

// RestartPolicy mirrors the supervision policy a Strategy's ChildSpec
// requests. "permanent" restarts on any exit; "transient" restarts only on
// abnormal exit; "temporary" never restarts.
type RestartPolicy string

const (
	RestartPermanent RestartPolicy = "permanent"
	RestartTransient RestartPolicy = "transient"
	RestartTemporary RestartPolicy = "temporary"
)

// ChildSpec is the identity and restart policy a Strategy reports to the
// Supervisor. The default, used unless a Strategy overrides it, is
// RestartPermanent.
type ChildSpec struct {
	ID      Name
	Restart RestartPolicy
}

// Worker is the running handle a Strategy returns from Start when its work
// is ongoing rather than one-shot. Stop must close any owned socket, cancel
// pending timers, and return; it may abandon an in-flight HTTP request.
type Worker interface {
	Stop(ctx context.Context) error

	// Crashed reports a Worker's background goroutine terminating
	// unexpectedly (a recovered panic). The Supervisor restarts the
	// topology exactly as it would a Start failure. A Worker with no
	// background goroutine to crash can return a nil channel; receiving
	// from a nil channel blocks forever, which never fires.
	Crashed() <-chan error
}

// Crasher gives a Worker a Crashed channel and a Go launcher that recovers
// a panic in the goroutine it starts instead of letting it take down the
// process. Strategies with a background run loop embed one.
type Crasher struct {
	crashed chan error
}

// NewCrasher creates a Crasher ready to be embedded in a Worker.
func NewCrasher() *Crasher {
	return &Crasher{crashed: make(chan error, 1)}
}

// Crashed satisfies Worker.
func (c *Crasher) Crashed() <-chan error {
	return c.crashed
}

// Go runs fn on a new goroutine. A panic inside fn is recovered and
// reported once on the channel Crashed returns.
func (c *Crasher) Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				select {
				case c.crashed <- fmt.Errorf("worker panicked: %v", r):
				default:
				}
			}
		}()
		fn()
	}()
}

// Strategy is the capability set every discovery mechanism implements:
// report a ChildSpec, and start once under a Supervisor. A Strategy whose
// work is a one-shot (Static with no timeout, Local Discovery, Hosts-File
// with no timeout) performs that work during Start and returns a nil
// Worker; the Supervisor then considers that topology "done" and does not
// restart it.
type Strategy interface {
	ChildSpec(state *State) ChildSpec
	Start(ctx context.Context, state *State) (Worker, error)
}

// WorkerFunc adapts a stop function to the Worker interface for workers
// with no background goroutine to crash.
type WorkerFunc func(ctx context.Context) error

func (f WorkerFunc) Stop(ctx context.Context) error { return f(ctx) }
func (f WorkerFunc) Crashed() <-chan error          { return nil }
