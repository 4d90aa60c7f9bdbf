package rcluster

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/gomodule/redigo/redis"
)

// Command is one command to dispatch: a name and its ordered arguments.
type Command struct {
	Name string
	Args []interface{}
}

// ReplyKind classifies the outcome of executing a batch of commands.
type ReplyKind int

const (
	// ValueReply means the batch succeeded; Value carries the last
	// command's result.
	ValueReply ReplyKind = iota
	// RedirectReply means the server asked that the batch be retried
	// against a different node.
	RedirectReply
	// ConnErrorReply means a socket-level failure occurred talking to
	// the node; the batch was not necessarily executed.
	ConnErrorReply
)

// RedirectKind distinguishes a durable MOVED from a transient ASK.
type RedirectKind int

const (
	// Moved means ownership of the slot changed permanently; the
	// client should refresh its topology.
	Moved RedirectKind = iota
	// Ask means this one request should be retried at the target with
	// an ASKING preamble; ownership has not changed.
	Ask
)

func (k RedirectKind) String() string {
	if k == Ask {
		return "ASK"
	}
	return "MOVED"
}

// RedirectInfo carries the target of a MOVED or ASK reply.
type RedirectInfo struct {
	Kind RedirectKind
	IP   string
	Port int
}

// Addr returns the "ip:port" address the redirect points to.
func (r RedirectInfo) Addr() string {
	return net.JoinHostPort(r.IP, strconv.Itoa(r.Port))
}

// Reply is the tagged outcome of Connection.Execute.
type Reply struct {
	Kind     ReplyKind
	Value    interface{}
	Redirect RedirectInfo
	Err      error
}

// Adapter is the pluggable wire layer the router depends on. The core
// never touches a socket directly; it asks the Adapter to open
// connections and to execute batches, and classifies the result via the
// Reply it gets back.
type Adapter interface {
	// KeysOf returns the ordered key arguments of cmd, or an empty slice
	// if cmd carries no routable key.
	KeysOf(cmd Command) []string
	// Open connects to host:port. options is adapter-specific (for the
	// default redis adapter, []redis.DialOption).
	Open(host string, port int, options interface{}) (Connection, error)
}

// Connection is a single, adapter-owned handle to one node. The Pool is
// the only thing that creates and closes Connections; the router only
// executes batches against whatever the Pool hands it.
type Connection interface {
	// Execute runs cmds as one batch against the node. If asking is
	// true, the adapter prepends ASKING to the batch. The flag is
	// one-shot: it applies only to this call.
	Execute(cmds []Command, asking bool) Reply
	// Raw returns the adapter's underlying per-node handle, for fan-out
	// helpers that need direct access (e.g. redis.Conn).
	Raw() interface{}
	Close() error
}

// adapter registry, keyed by symbolic name and populated at init time.
var (
	adapterMu sync.Mutex
	adapters  = map[string]Adapter{}
)

// RegisterAdapter makes an Adapter available under name. Adapters
// register themselves from an init function; registering under a name
// that is already taken panics, matching the standard library's
// database/sql registration idiom.
func RegisterAdapter(name string, a Adapter) {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	if _, dup := adapters[name]; dup {
		panic("rcluster: RegisterAdapter called twice for adapter " + name)
	}
	adapters[name] = a
}

func lookupAdapter(name string) (Adapter, error) {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	a, ok := adapters[name]
	if !ok {
		return nil, &ConfigurationError{Msg: "unknown connection adapter " + strconv.Quote(name)}
	}
	return a, nil
}

func init() {
	RegisterAdapter("redis", &redisAdapter{})
}

// redisAdapter is the default Adapter, built directly on top of
// github.com/gomodule/redigo/redis.
type redisAdapter struct{}

func (redisAdapter) KeysOf(cmd Command) []string {
	if len(cmd.Args) == 0 {
		return nil
	}
	switch strings.ToUpper(cmd.Name) {
	case "PING", "TIME", "INFO", "CLUSTER", "FLUSHALL", "FLUSHDB", "SCAN", "KEYS", "RANDOMKEY", "DBSIZE":
		return nil
	case "MSET", "MSETNX":
		keys := make([]string, 0, (len(cmd.Args)+1)/2)
		for i := 0; i < len(cmd.Args); i += 2 {
			keys = append(keys, toString(cmd.Args[i]))
		}
		return keys
	case "MGET", "DEL", "EXISTS":
		keys := make([]string, len(cmd.Args))
		for i, a := range cmd.Args {
			keys[i] = toString(a)
		}
		return keys
	default:
		return []string{toString(cmd.Args[0])}
	}
}

func toString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func (redisAdapter) Open(host string, port int, options interface{}) (Connection, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var opts []redis.DialOption
	if options != nil {
		opts, _ = options.([]redis.DialOption)
	}
	c, err := redis.Dial("tcp", addr, opts...)
	if err != nil {
		return nil, err
	}
	return &redisConn{c: c}, nil
}

// redisConn adapts a redigo redis.Conn to the Connection interface,
// translating MOVED/ASK/network errors into the Reply classification
// the router depends on. The cluster keeps at most one redisConn per
// node (see pool.go) and every caller routed to that node shares it, so
// Execute serializes access with mu: redigo's redis.Conn is not safe
// for concurrent use by itself.
type redisConn struct {
	mu sync.Mutex
	c  redis.Conn
}

func (rc *redisConn) Raw() interface{} { return rc.c }

func (rc *redisConn) Close() error { return rc.c.Close() }

func (rc *redisConn) Execute(cmds []Command, asking bool) Reply {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if len(cmds) == 0 {
		return Reply{Kind: ConnErrorReply, Err: errors.New("rcluster: empty batch")}
	}

	if asking {
		if _, err := rc.c.Do("ASKING"); err != nil {
			return classifyErr(err)
		}
	}

	var last interface{}
	var lastErr error
	for _, cmd := range cmds {
		v, err := rc.c.Do(cmd.Name, cmd.Args...)
		if err != nil {
			lastErr = err
			break
		}
		last = v
	}
	if lastErr != nil {
		return classifyErr(lastErr)
	}
	return Reply{Kind: ValueReply, Value: last}
}

// classifyErr turns a redigo error into a Reply: a MOVED/ASK
// redis.Error becomes RedirectReply, anything else is ConnErrorReply.
func classifyErr(err error) Reply {
	if re, ok := parseRedirect(err); ok {
		return Reply{Kind: RedirectReply, Redirect: re}
	}
	return Reply{Kind: ConnErrorReply, Err: err}
}

// parseRedirect recognizes the "MOVED <slot> <ip>:<port>" and
// "ASK <slot> <ip>:<port>" reply forms the cluster emits as a
// redis.Error.
func parseRedirect(err error) (RedirectInfo, bool) {
	re, ok := err.(redis.Error)
	if !ok {
		return RedirectInfo{}, false
	}
	fields := strings.Fields(string(re))
	if len(fields) != 3 {
		return RedirectInfo{}, false
	}

	var kind RedirectKind
	switch fields[0] {
	case "MOVED":
		kind = Moved
	case "ASK":
		kind = Ask
	default:
		return RedirectInfo{}, false
	}

	ip, portStr, err2 := net.SplitHostPort(fields[2])
	if err2 != nil {
		return RedirectInfo{}, false
	}
	port, err2 := strconv.Atoi(portStr)
	if err2 != nil {
		return RedirectInfo{}, false
	}
	return RedirectInfo{Kind: kind, IP: ip, Port: port}, true
}

// clusterSlots runs CLUSTER SLOTS through conn.Execute, so it works
// against any Adapter's Connection rather than reaching for a redigo
// conn directly, and parses the reply into the router's internal
// slotMapping form with redis.Scan, a pure decoder not tied to
// redigo's transport.
func clusterSlots(conn Connection) ([]slotMapping, error) {
	reply := conn.Execute([]Command{{Name: "CLUSTER", Args: []interface{}{"SLOTS"}}}, false)
	switch reply.Kind {
	case RedirectReply:
		return nil, &ProtocolAssertion{
			Msg:   "CLUSTER SLOTS returned a redirect",
			Reply: fmt.Errorf("%s %s", reply.Redirect.Kind, reply.Redirect.Addr()),
		}
	case ConnErrorReply:
		return nil, reply.Err
	}

	vals, ok := reply.Value.([]interface{})
	if !ok {
		return nil, errors.New("rcluster: CLUSTER SLOTS returned an unexpected reply shape")
	}

	var err error
	out := make([]slotMapping, 0, len(vals))
	for len(vals) > 0 {
		var slotRange []interface{}
		vals, err = redis.Scan(vals, &slotRange)
		if err != nil {
			return nil, err
		}

		// the elements after start and end are the address arrays, master
		// first, then replicas.
		var start, end int
		var nodes []interface{}
		if nodes, err = redis.Scan(slotRange, &start, &end); err != nil {
			return nil, err
		}

		sm := slotMapping{start: start, end: end}
		for len(nodes) > 0 {
			var addr []interface{}
			nodes, err = redis.Scan(nodes, &addr)
			if err != nil {
				return nil, err
			}
			var ip string
			var port int
			if _, err = redis.Scan(addr, &ip, &port); err != nil {
				return nil, err
			}
			n := newNode(ip, port)
			if sm.master.Name == "" {
				sm.master = n
			} else {
				sm.replicas = append(sm.replicas, n)
			}
		}
		out = append(out, sm)
	}
	return out, nil
}
