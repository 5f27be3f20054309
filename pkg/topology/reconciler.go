package topology

import (
	"context"

	"github.com/cuemby/topology/pkg/metrics"
	"github.com/rs/zerolog"
)

// Reconcile is the pure routine shared by every polling Strategy. Given the
// desired set, the previously carried-forward set, and the Callbacks triple,
// it diffs desired against the transport's current connections, invokes
// Disconnect for everything no longer wanted and Connect for everything
// wanted but missing, and returns the new carry-forward set.
//
// Disconnects always run before connects within one cycle; between cycles no
// ordering is guaranteed. Iteration order of the input sets never affects
// the result — everything here is set arithmetic.
func Reconcile(ctx context.Context, topology Name, self Peer, desired, previous MembershipSet, callbacks Callbacks, logger zerolog.Logger) (MembershipSet, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration.WithLabelValues(string(topology)))
		metrics.ReconcileCyclesTotal.WithLabelValues(string(topology)).Inc()
	}()

	current, err := callbacks.ListConnected(ctx)
	if err != nil {
		return previous, err
	}
	currentSet := NewMembershipSet(current...)

	carryForward := previous.Clone()

	// Step 1: disconnect everything previously tracked that is no longer
	// desired.
	toRemove := previous.Difference(desired)
	for _, peer := range toRemove.Slice() {
		result, err := callbacks.Disconnect(ctx, peer)
		switch {
		case err != nil:
			// Any other value: transport-specific error, retry next cycle.
			logger.Warn().Err(err).Str("peer", string(peer)).Msg("disconnect failed, will retry")
			metrics.DisconnectFailuresTotal.WithLabelValues(string(topology)).Inc()
		case result == ResultOK:
			carryForward = carryForward.Remove(peer)
		case result == ResultFailed || result == ResultIgnored:
			logger.Info().Str("peer", string(peer)).Str("result", result.String()).Msg("peer already gone, dropping from membership")
			carryForward = carryForward.Remove(peer)
		}
	}

	// Step 2: connect everything desired that we don't already have, minus
	// ourselves.
	toAdd := desired.Difference(currentSet).Remove(self)
	for _, peer := range toAdd.Slice() {
		result, err := callbacks.Connect(ctx, peer)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("peer", string(peer)).Msg("connect failed, will retry")
			metrics.ConnectFailuresTotal.WithLabelValues(string(topology)).Inc()
		case result == ResultOK:
			carryForward = carryForward.Add(peer)
		case result == ResultFailed || result == ResultIgnored:
			logger.Warn().Str("peer", string(peer)).Str("result", result.String()).Msg("connect unsuccessful, will retry next cycle")
		}
	}

	metrics.MembershipSize.WithLabelValues(string(topology)).Set(float64(len(carryForward)))

	return carryForward, nil
}

// ReconcileConnectOnly runs only the Reconciler's connect step: it never
// disconnects a peer, no matter how previous and desired relate. This is
// what DNS-Poll-A's `prune=false` option asks for (spec: "skip step 1
// entirely") — once connected, a peer stays in the carried-forward set
// until the strategy itself is reconfigured.
func ReconcileConnectOnly(ctx context.Context, topology Name, self Peer, desired, previous MembershipSet, callbacks Callbacks, logger zerolog.Logger) (MembershipSet, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration.WithLabelValues(string(topology)))
		metrics.ReconcileCyclesTotal.WithLabelValues(string(topology)).Inc()
	}()

	current, err := callbacks.ListConnected(ctx)
	if err != nil {
		return previous, err
	}
	currentSet := NewMembershipSet(current...)

	carryForward := previous.Clone()

	toAdd := desired.Difference(currentSet).Remove(self)
	for _, peer := range toAdd.Slice() {
		result, err := callbacks.Connect(ctx, peer)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("peer", string(peer)).Msg("connect failed, will retry")
			metrics.ConnectFailuresTotal.WithLabelValues(string(topology)).Inc()
		case result == ResultOK:
			carryForward = carryForward.Add(peer)
		case result == ResultFailed || result == ResultIgnored:
			logger.Warn().Str("peer", string(peer)).Str("result", result.String()).Msg("connect unsuccessful, will retry next cycle")
		}
	}

	metrics.MembershipSize.WithLabelValues(string(topology)).Set(float64(len(carryForward)))

	return carryForward, nil
}
