package rcluster

import "sync"

// pool is a lazy, mutex-protected map of node name to a live Connection.
// The fast path (an existing entry) holds the lock only for the map
// lookup, never across a dial; insertion re-checks under the lock
// before dialing (double-checked locking).
type pool struct {
	adapter Adapter
	options interface{}

	mu    sync.Mutex
	conns map[string]Connection
}

func newPool(adapter Adapter, options interface{}) *pool {
	return &pool{adapter: adapter, options: options, conns: make(map[string]Connection)}
}

// fetch returns the live connection for node, dialing it lazily on
// first use. Concurrent fetches for the same new node block on the
// mutex; only one of them dials, the rest observe the freshly inserted
// entry on their double-check.
func (p *pool) fetch(node Node) (Connection, error) {
	p.mu.Lock()
	c, ok := p.conns[node.Name]
	p.mu.Unlock()
	if ok {
		return c, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// double-check: another goroutine may have raced us to the lock
	if c, ok := p.conns[node.Name]; ok {
		return c, nil
	}

	c, err := p.adapter.Open(node.Host, node.Port, p.options)
	if err != nil {
		return nil, err
	}
	p.conns[node.Name] = c
	return c, nil
}

// evictMissing closes and removes every connection whose node name is
// not in valid, typically called right after a topology reload.
func (p *pool) evictMissing(valid map[string]struct{}) {
	p.mu.Lock()
	var stale []Connection
	for name, c := range p.conns {
		if _, ok := valid[name]; !ok {
			stale = append(stale, c)
			delete(p.conns, name)
		}
	}
	p.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
}

// closeAll drains the pool, closing every connection. Idempotent: a
// pool with no connections left is a no-op.
func (p *pool) closeAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]Connection)
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// stats reports the number of live connections per node, used by
// Cluster.Stats.
func (p *pool) stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.conns))
	for name := range p.conns {
		out[name] = 1
	}
	return out
}
