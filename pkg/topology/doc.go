/*
Package topology provides automatic peer discovery and membership maintenance
for a cluster of application nodes.

Given a set of named topologies, each bound to a discovery Strategy, the
Supervisor continuously reconciles the set of peers the local node believes it
should be connected to with the set of peers it is currently connected to,
invoking connect and disconnect callbacks supplied by the embedding
application to drive convergence.

# Architecture

	┌──────────────────────────────────────────────────────────┐
	│                   Topology Supervisor                    │
	│        (one Worker goroutine per configured topology)    │
	└───────────────┬────────────────────────┬─────────────────┘
	                │                        │
	                ▼                        ▼
	        ┌───────────────┐        ┌───────────────┐
	        │ Worker "lan"  │        │ Worker "k8s"  │
	        │ strategy=gossip│       │ strategy=k8s  │
	        └───────┬───────┘        └───────┬───────┘
	                │                        │
	                ▼                        ▼
	              Reconcile(desired, previous, callbacks)

Each Worker owns its own state (socket, timer, membership snapshot) and runs
on a single logical goroutine; events within a Worker — timer ticks, received
packets, shutdown — are processed one at a time, so MembershipSet and any
strategy-private state are race-free without locks.

# Strategies

Static, LocalDiscovery, HostsFile, Gossip (multicast UDP, optionally
AES-256-CBC encrypted), DNSPollA, DNSPollSRV, Kubernetes, Rancher, and Nomad
strategies live under pkg/topology/strategy. Each reduces to "produce a
desired peer set, hand it to Reconcile".

# Non-goals

This package does not implement message delivery, RPC, replication,
consensus, or leader election. It drives a transport's connect/disconnect
calls; it is not the transport.
*/
package topology
