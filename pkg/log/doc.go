/*
Package log provides structured logging for the topology discovery system
using zerolog.

It wraps zerolog to provide JSON or console-formatted logging with
component-specific child loggers, a configurable global level, and helper
functions for common logging patterns. The Supervisor and every Strategy
worker log through a child logger scoped to their own name, so a single
topology's output can be grepped or filtered without noise from the rest of
the cluster.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("topology.gossip")
	logger.Info().Str("topology", "lan").Msg("worker started")

# Levels

debug is used for parse/format errors (malformed packets, bad JSON) that are
expected to happen occasionally and should not page anyone. warn is used for
configuration errors and callback "false"/"ignored" results. error is
reserved for conditions that cause a reconcile cycle to abort.
*/
package log
