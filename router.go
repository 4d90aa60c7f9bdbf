package rcluster

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// a *rand.Rand is not safe for concurrent access; guard the package's
// single source behind a mutex.
var rnd = struct {
	sync.Mutex
	*rand.Rand
}{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}

func randomPick(s []string) string {
	rnd.Lock()
	i := rnd.Intn(len(s))
	rnd.Unlock()
	return s[i]
}

func removeName(s []string, name string) []string {
	for i, v := range s {
		if v == name {
			out := make([]string, 0, len(s)-1)
			out = append(out, s[:i]...)
			out = append(out, s[i+1:]...)
			return out
		}
	}
	return s
}

// router drives the redirection/retry state machine. It owns no
// I/O itself; it asks the topology for a
// slot's owner, the pool for a connection, and the adapter to execute,
// then classifies the reply and decides what to do next.
type router struct {
	topology *Topology
	pool     *pool
	adapter  Adapter
	logger   Logger

	maxRedirections   int
	maxConnectionErrs int
	retryInterval     time.Duration
	retryRandomFactor float64

	refreshMu   sync.Mutex
	needsReload bool
}

// setRefreshFlag latches the global refresh flag. It is cleared under
// refreshMu the next time refresh() runs, so of the callers that see a
// given latch only one probes; every other caller observes it already
// cleared.
func (r *router) setRefreshFlag() {
	r.refreshMu.Lock()
	r.needsReload = true
	r.refreshMu.Unlock()
}

// maybeAutoRefresh runs the refresh protocol if the flag is set,
// logging (but never propagating) any failure: the router recovers
// locally from a stale topology via redirects on the next attempt.
func (r *router) maybeAutoRefresh() {
	if err := r.refresh(false); err != nil {
		r.logger.Warnf("auto-refresh: %v", err)
	}
}

// refresh reloads the topology from CLUSTER SLOTS. When force is false it first
// snapshots and clears the refresh flag under refreshMu, returning
// immediately if it was already clear; when force is true (the public,
// caller-invoked Refresh) it always probes, regardless of the flag.
func (r *router) refresh(force bool) error {
	if !force {
		r.refreshMu.Lock()
		needed := r.needsReload
		r.needsReload = false
		r.refreshMu.Unlock()
		if !needed {
			return nil
		}
	} else {
		r.refreshMu.Lock()
		r.needsReload = false
		r.refreshMu.Unlock()
	}

	var lastErr error
	for _, node := range r.topology.Nodes() {
		conn, err := r.pool.fetch(node)
		if err != nil {
			lastErr = err
			r.logger.Warnf("refresh: connect to %s failed: %v", node.Name, err)
			continue
		}

		layout, err := clusterSlots(conn)
		if err != nil {
			if pa, ok := err.(*ProtocolAssertion); ok {
				r.logger.Warnf("refresh: %v", pa)
				return pa
			}
			lastErr = err
			r.logger.Warnf("refresh: CLUSTER SLOTS on %s failed: %v", node.Name, err)
			continue
		}

		r.topology.LoadSlots(layout)
		valid := make(map[string]struct{}, len(layout))
		for _, sm := range layout {
			valid[sm.master.Name] = struct{}{}
		}
		r.pool.evictMissing(valid)
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no known nodes to refresh from")
	}
	return fmt.Errorf("rcluster: refresh failed, all nodes unreachable: %w", lastErr)
}

// dispatch resolves slot to a node and drives the redirection/retry
// loop for cmds. It returns the last command's value
// on success, or one of RedirectionError/ConnectionError
// (ConfigurationError if the topology knows no nodes).
func (r *router) dispatch(slot int, cmds []Command) (interface{}, error) {
	r.maybeAutoRefresh()

	candidates := r.topology.NodeNames()
	if len(candidates) == 0 {
		return nil, &ConfigurationError{Msg: "no known cluster nodes"}
	}

	var current string
	if owner := r.topology.SlotOwner(slot); owner != "" {
		current = owner
	} else {
		current = randomPick(candidates)
	}

	var redirectCount, connErrorCount, connRetryCount int
	asking := false

	for {
		candidates = removeName(candidates, current)

		// current usually names a node already known to the topology:
		// it came from SlotOwner, from candidates (built from
		// NodeNames), or from AddNode on a redirect, which registers
		// the node before returning its name. But a concurrent refresh
		// can rebuild the node set with only the masters of its fresh
		// layout in between, dropping a just-added redirect target
		// before this lookup runs, so the miss is still checked.
		node, ok := r.topology.Node(current)
		if !ok {
			connErrorCount++
			if connErrorCount > r.maxConnectionErrs {
				return nil, &ConnectionError{
					Count: connErrorCount,
					Cause: fmt.Errorf("rcluster: node %s vanished from the topology mid-dispatch", current),
				}
			}
			current, candidates, connRetryCount = r.afterConnError(current, candidates, connRetryCount)
			asking = false
			continue
		}

		conn, err := r.pool.fetch(node)
		if err != nil {
			connErrorCount++
			if connErrorCount > r.maxConnectionErrs {
				return nil, &ConnectionError{Count: connErrorCount, Cause: err}
			}
			current, candidates, connRetryCount = r.afterConnError(current, candidates, connRetryCount)
			asking = false
			continue
		}

		reply := conn.Execute(cmds, asking)
		asking = false

		switch reply.Kind {
		case ValueReply:
			return reply.Value, nil

		case RedirectReply:
			redirectCount++
			if redirectCount > r.maxRedirections {
				return nil, &RedirectionError{
					Count: redirectCount,
					Last:  fmt.Errorf("%s %d %s", reply.Redirect.Kind, slot, reply.Redirect.Addr()),
				}
			}
			current = r.topology.AddNode(reply.Redirect.IP, reply.Redirect.Port)
			if reply.Redirect.Kind == Moved {
				r.setRefreshFlag()
			} else {
				asking = true
			}

		case ConnErrorReply:
			connErrorCount++
			if connErrorCount > r.maxConnectionErrs {
				return nil, &ConnectionError{Count: connErrorCount, Cause: reply.Err}
			}
			current, candidates, connRetryCount = r.afterConnError(current, candidates, connRetryCount)
		}
	}
}

// afterConnError rotates to a fresh random candidate while any remain.
// Once the candidate set is exhausted it is never refilled for the rest
// of this call: every later failure just sleeps with growing backoff
// against the same current node, it never rotates again. This is
// deliberate and must not be "fixed" by refilling candidates.
func (r *router) afterConnError(current string, candidates []string, connRetryCount int) (next string, rest []string, retries int) {
	if len(candidates) > 0 {
		next = randomPick(candidates)
		return next, removeName(candidates, next), connRetryCount
	}

	retries = connRetryCount + 1
	time.Sleep(r.backoff(retries))
	return current, candidates, retries
}

// backoff computes connect_retry_interval * 2^(n-1) * (1 + u), with u
// uniform in [-f, f].
func (r *router) backoff(n int) time.Duration {
	mult := math.Pow(2, float64(n-1))

	rnd.Lock()
	u := rnd.Float64()*2 - 1
	rnd.Unlock()

	jitter := 1 + u*r.retryRandomFactor
	return time.Duration(float64(r.retryInterval) * mult * jitter)
}
