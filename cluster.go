package rcluster

import (
	"time"
)

// Options configures a Cluster. ClusterNodes is the only required
// field; everything else has a sensible default.
type Options struct {
	// ClusterNodes is the seed list of known members, each as
	// "host:port" (port defaults to 6379 if omitted). Must be
	// non-empty.
	ClusterNodes []string

	// MaxRedirections caps the MOVED+ASK chain a single call will
	// follow before failing with RedirectionError. Default 10.
	MaxRedirections int

	// MaxConnectionErrors caps the connection errors a single call
	// will tolerate before failing with ConnectionError. Default 5.
	MaxConnectionErrors int

	// ConnectRetryInterval is the base backoff once a call has tried
	// every known node and still fails to connect. Default 1ms.
	ConnectRetryInterval time.Duration

	// ConnectRetryRandomFactor is the jitter fraction applied to the
	// backoff, in [0,1]. Default 0.1.
	ConnectRetryRandomFactor float64

	// ConnectionAdapter names the registered Adapter to use. Default
	// "redis".
	ConnectionAdapter string

	// AdapterOptions is passed through verbatim to the chosen
	// Adapter's Open method. For the default "redis" adapter this is
	// a []redis.DialOption.
	AdapterOptions interface{}

	// Logger receives Warnf calls for refresh failures and Debugf
	// calls for routing decisions. Defaults to a logger that writes to
	// stderr via the standard log package.
	Logger Logger
}

func (o Options) withDefaults() Options {
	if o.MaxRedirections == 0 {
		o.MaxRedirections = 10
	}
	if o.MaxConnectionErrors == 0 {
		o.MaxConnectionErrors = 5
	}
	if o.ConnectRetryInterval == 0 {
		o.ConnectRetryInterval = time.Millisecond
	}
	if o.ConnectRetryRandomFactor == 0 {
		o.ConnectRetryRandomFactor = 0.1
	}
	if o.ConnectionAdapter == "" {
		o.ConnectionAdapter = "redis"
	}
	if o.Logger == nil {
		o.Logger = newStdLogger()
	}
	return o
}

// Cluster is the client's entry point: it owns the Topology, the Pool,
// and the router that ties them together. A Cluster must be closed
// after use to release its connections.
type Cluster struct {
	topology *Topology
	pool     *pool
	adapter  Adapter
	router   *router
	logger   Logger
}

// New builds a Cluster from opts. It registers every seed node in the
// topology but does not connect to any of them or load slot ownership;
// call Refresh right after New to populate the mapping before issuing
// commands.
func New(opts Options) (*Cluster, error) {
	opts = opts.withDefaults()

	if len(opts.ClusterNodes) == 0 {
		return nil, &ConfigurationError{Msg: "ClusterNodes must not be empty"}
	}
	adapter, err := lookupAdapter(opts.ConnectionAdapter)
	if err != nil {
		return nil, err
	}

	topology := NewTopology()
	for _, addr := range opts.ClusterNodes {
		node, err := parseAddr(addr)
		if err != nil {
			return nil, err
		}
		topology.AddNode(node.Host, node.Port)
	}

	p := newPool(adapter, opts.AdapterOptions)
	r := &router{
		topology:          topology,
		pool:              p,
		adapter:           adapter,
		logger:            opts.Logger,
		maxRedirections:   opts.MaxRedirections,
		maxConnectionErrs: opts.MaxConnectionErrors,
		retryInterval:     opts.ConnectRetryInterval,
		retryRandomFactor: opts.ConnectRetryRandomFactor,
	}

	return &Cluster{topology: topology, pool: p, adapter: adapter, router: r, logger: opts.Logger}, nil
}

// Refresh forces an immediate topology reload, regardless of the
// internal refresh flag, and returns an error if every known node
// failed to answer CLUSTER SLOTS or if a node answered with a protocol
// violation (see ProtocolAssertion). It should typically be called once
// right after New.
func (c *Cluster) Refresh() error {
	return c.router.refresh(true)
}

// Call routes a single command by the slot of its key arguments and
// returns its result. Commands without a routable key (PING, TIME, ...)
// cannot be routed this way; use EachNode instead.
func (c *Cluster) Call(name string, args ...interface{}) (interface{}, error) {
	cmd := Command{Name: name, Args: args}
	keys := c.adapter.KeysOf(cmd)
	if len(keys) == 0 {
		return nil, errNoWayToDispatch
	}

	slot := Slot(keys[0])
	for _, k := range keys[1:] {
		if Slot(k) != slot {
			return nil, errNoWayToDispatch
		}
	}

	return c.router.dispatch(slot, []Command{cmd})
}

// Pipelined accumulates every command issued inside scope and sends
// them as a single batch to the node owning their shared slot. Every
// command must resolve to the same slot, or the call fails with
// RoutingError before any network I/O happens.
func (c *Cluster) Pipelined(scope func(p *Pipeline)) (interface{}, error) {
	return c.dispatchPipeline(scope, false)
}

// Multi is like Pipelined, but wraps the accumulated batch in
// MULTI/EXEC so the node executes it as a single transaction.
func (c *Cluster) Multi(scope func(p *Pipeline)) (interface{}, error) {
	return c.dispatchPipeline(scope, true)
}

func (c *Cluster) dispatchPipeline(scope func(p *Pipeline), transactional bool) (interface{}, error) {
	p := newPipeline()
	defer p.release()
	scope(p)

	slot, err := slotForBatch(c.adapter, p.cmds)
	if err != nil {
		return nil, err
	}

	batch := p.cmds
	if transactional {
		batch = make([]Command, 0, len(p.cmds)+2)
		batch = append(batch, Command{Name: "MULTI"})
		batch = append(batch, p.cmds...)
		batch = append(batch, Command{Name: "EXEC"})
	}

	c.logger.Debugf("dispatching batch to slot %d: %s", slot, p.summary())
	return c.router.dispatch(slot, batch)
}

// Close drains the connection pool, closing every connection it holds.
// Idempotent: closing an already-closed Cluster is a no-op.
func (c *Cluster) Close() error {
	c.pool.closeAll()
	return nil
}

// Stats reports the number of live connections the pool currently
// holds for each node name.
func (c *Cluster) Stats() map[string]int {
	return c.pool.stats()
}
