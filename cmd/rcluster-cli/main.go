// Command rcluster-cli is an operator tool for a cluster managed by the
// rcluster package: it can run a single command, a pipelined batch, or
// one of the administrative fan-outs (each_node, keys, info, flushdb)
// against a live cluster.
package main

func main() {
	Execute()
}
