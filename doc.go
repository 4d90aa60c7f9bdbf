// Package rcluster implements a client for a sharded, in-memory
// key/value cluster: each node owns a contiguous range of a fixed
// 16384-slot hash space, and the client transparently routes commands
// to the node that currently owns the relevant slot.
//
// Cluster
//
// The Cluster type is the entry point. Create one with New, giving it
// the seed addresses of any known members:
//
//	c, err := rcluster.New(rcluster.Options{
//		ClusterNodes: []string{"10.0.0.1:6379", "10.0.0.2:6379"},
//	})
//
// Call Call for a single command, Pipelined or Multi to send a batch of
// commands that all resolve to the same slot, and EachNode, Keys, Info,
// FlushDB, MGet or Reconnect for administrative fan-outs across every
// known node. Close releases every connection the Cluster opened.
//
// Routing and redirection
//
// Every call derives a slot from its key arguments (see Slot) and asks
// the cluster's Topology which node owns it. If that node replies with
// MOVED, the Cluster updates its topology and retries at the new owner;
// if it replies with ASK, the next attempt at the target carries a
// one-shot ASKING preamble, and ownership is not assumed to have
// changed. A node that refuses the connection is retried against
// another known node, with bounded attempts and exponential backoff
// once every known node has been tried once within the call.
//
// Connection adapters
//
// The wire protocol is delegated to an Adapter, selected by symbolic
// name (the default, "redis", is built on
// github.com/gomodule/redigo/redis). Adapters register themselves with
// RegisterAdapter; Options.ConnectionAdapter picks one by name.
package rcluster
