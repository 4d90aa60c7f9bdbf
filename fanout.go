package rcluster

import (
	"github.com/gomodule/redigo/redis"
)

// EachNode forces a topology refresh, so administrative fan-outs see
// current membership, then calls visitor once per known node with
// its canonical name and the adapter's raw per-node handle.
func (c *Cluster) EachNode(visitor func(name string, raw interface{}) error) error {
	if err := c.router.refresh(true); err != nil {
		c.logger.Warnf("each_node: refresh failed, continuing with stale topology: %v", err)
	}

	for _, node := range c.topology.Nodes() {
		conn, err := c.pool.fetch(node)
		if err != nil {
			return err
		}
		if err := visitor(node.Name, conn.Raw()); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns the union of KEYS pattern across every node. It is a
// convenience fan-out, not an atomic cluster-wide operation: the result
// can be stale with respect to any in-flight migration.
func (c *Cluster) Keys(pattern string) ([]string, error) {
	var all []string
	err := c.EachNode(func(_ string, raw interface{}) error {
		rc, ok := raw.(redis.Conn)
		if !ok {
			return nil
		}
		keys, err := redis.Strings(rc.Do("KEYS", pattern))
		if err != nil {
			return err
		}
		all = append(all, keys...)
		return nil
	})
	return all, err
}

// Info returns the INFO reply of every node, keyed by node name.
func (c *Cluster) Info() (map[string]string, error) {
	out := make(map[string]string)
	err := c.EachNode(func(name string, raw interface{}) error {
		rc, ok := raw.(redis.Conn)
		if !ok {
			return nil
		}
		s, err := redis.String(rc.Do("INFO"))
		if err != nil {
			return err
		}
		out[name] = s
		return nil
	})
	return out, err
}

// FlushDB issues FLUSHDB on every node.
func (c *Cluster) FlushDB() error {
	return c.EachNode(func(_ string, raw interface{}) error {
		rc, ok := raw.(redis.Conn)
		if !ok {
			return nil
		}
		_, err := rc.Do("FLUSHDB")
		return err
	})
}

// MGet fetches every key, grouping the lookups by slot so each group is
// sent as a single MGET to the node that owns it, and reassembles the
// results in the caller's original key order.
func (c *Cluster) MGet(keys ...string) ([]interface{}, error) {
	bySlot := make(map[int][]int) // slot -> indices into keys
	for i, k := range keys {
		slot := Slot(k)
		bySlot[slot] = append(bySlot[slot], i)
	}

	out := make([]interface{}, len(keys))
	for slot, indices := range bySlot {
		args := make([]interface{}, len(indices))
		for i, idx := range indices {
			args[i] = keys[idx]
		}
		v, err := c.router.dispatch(slot, []Command{{Name: "MGET", Args: args}})
		if err != nil {
			return nil, err
		}
		values, ok := v.([]interface{})
		if !ok {
			continue
		}
		for i, idx := range indices {
			if i < len(values) {
				out[idx] = values[i]
			}
		}
	}
	return out, nil
}

// Reconnect closes every connection the pool currently holds; the next
// command to reach each node dials it again, lazily.
func (c *Cluster) Reconnect() {
	c.pool.closeAll()
}
