package rcluster

import (
	"net"
	"strconv"
)

// Node describes one member of the cluster. Name is the canonical
// identifier, "host:port", and is what the Pool and Topology key on;
// two nodes are equal iff their Names are equal.
type Node struct {
	Host string
	Port int
	Name string
}

func newNode(host string, port int) Node {
	name := net.JoinHostPort(host, strconv.Itoa(port))
	return Node{Host: host, Port: port, Name: name}
}

// parseAddr splits an "host:port" address into a Node, defaulting the
// port to 6379 if addr carries no port.
func parseAddr(addr string) (Node, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// no port specified, default to 6379
		host = addr
		portStr = "6379"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Node{}, &ConfigurationError{Msg: "invalid node address " + addr}
	}
	return newNode(host, port), nil
}
