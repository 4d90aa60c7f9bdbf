package rcluster

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAdapter is a test double for Adapter: each node address has a
// queue of canned Replies to return, in order, and an open-error
// counter that lets a test simulate a node refusing the connection a
// fixed number of times before it starts accepting.
type scriptedAdapter struct {
	mu         sync.Mutex
	openErrors map[string]int
	replies    map[string][]Reply
	executions []execRecord
	opens      []string
}

type execRecord struct {
	addr   string
	asking bool
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{
		openErrors: make(map[string]int),
		replies:    make(map[string][]Reply),
	}
}

func (a *scriptedAdapter) KeysOf(cmd Command) []string {
	if len(cmd.Args) == 0 {
		return nil
	}
	s, _ := cmd.Args[0].(string)
	return []string{s}
}

func (a *scriptedAdapter) Open(host string, port int, _ interface{}) (Connection, error) {
	addr := newNode(host, port).Name
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opens = append(a.opens, addr)
	if a.openErrors[addr] > 0 {
		a.openErrors[addr]--
		return nil, errors.New("connection refused")
	}
	return &scriptedConn{addr: addr, adapter: a}, nil
}

func (a *scriptedAdapter) queue(addr string, replies ...Reply) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies[addr] = append(a.replies[addr], replies...)
}

type scriptedConn struct {
	addr    string
	adapter *scriptedAdapter
}

func (c *scriptedConn) Raw() interface{} { return c.addr }
func (c *scriptedConn) Close() error     { return nil }

func (c *scriptedConn) Execute(cmds []Command, asking bool) Reply {
	a := c.adapter
	a.mu.Lock()
	defer a.mu.Unlock()
	a.executions = append(a.executions, execRecord{addr: c.addr, asking: asking})

	q := a.replies[c.addr]
	if len(q) == 0 {
		return Reply{Kind: ValueReply, Value: "OK"}
	}
	next := q[0]
	a.replies[c.addr] = q[1:]
	return next
}

func newTestRouter(t *testing.T, adapter *scriptedAdapter, nodes ...string) (*router, *Topology) {
	topo := NewTopology()
	for _, addr := range nodes {
		n, err := parseAddr(addr)
		require.NoError(t, err)
		topo.AddNode(n.Host, n.Port)
	}
	r := &router{
		topology:          topo,
		pool:              newPool(adapter, nil),
		adapter:           adapter,
		logger:            nopLogger{},
		maxRedirections:   10,
		maxConnectionErrs: 5,
		retryInterval:     time.Millisecond,
		retryRandomFactor: 0.1,
	}
	return r, topo
}

func TestRouterMovedFollowsOnceAndSetsRefresh(t *testing.T) {
	adapter := newScriptedAdapter()
	r, _ := newTestRouter(t, adapter, "a:6379")

	adapter.queue("a:6379", Reply{Kind: RedirectReply, Redirect: RedirectInfo{Kind: Moved, IP: "b", Port: 6379}})
	adapter.queue("b:6379", Reply{Kind: ValueReply, Value: "FOO"})

	v, err := r.dispatch(7000, []Command{{Name: "GET", Args: []interface{}{"x"}}})
	require.NoError(t, err)
	assert.Equal(t, "FOO", v)
	assert.True(t, r.needsReload, "MOVED must set the refresh flag")

	// after the flag is cleared by a refresh, the next call for the
	// same slot should go straight to the new owner without another
	// redirect.
	r.needsReload = false
	r.topology.LoadSlots([]slotMapping{{start: 7000, end: 7000, master: Node{Host: "b", Port: 6379, Name: "b:6379"}}})

	adapter.queue("b:6379", Reply{Kind: ValueReply, Value: "FOO2"})
	v, err = r.dispatch(7000, []Command{{Name: "GET", Args: []interface{}{"x"}}})
	require.NoError(t, err)
	assert.Equal(t, "FOO2", v)
}

func TestRouterAskIsOneShot(t *testing.T) {
	adapter := newScriptedAdapter()
	r, _ := newTestRouter(t, adapter, "a:6379")

	adapter.queue("a:6379",
		Reply{Kind: RedirectReply, Redirect: RedirectInfo{Kind: Ask, IP: "a", Port: 6379}},
		Reply{Kind: ValueReply, Value: "OK"},
	)

	_, err := r.dispatch(1, []Command{{Name: "GET", Args: []interface{}{"x"}}})
	require.NoError(t, err)
	assert.False(t, r.needsReload, "ASK must not set the refresh flag")

	require.Len(t, adapter.executions, 2)
	assert.False(t, adapter.executions[0].asking, "first attempt carries no ASKING")
	assert.True(t, adapter.executions[1].asking, "retry after ASK carries ASKING")

	// a third attempt (fresh dispatch) must not carry ASKING again.
	adapter.queue("a:6379", Reply{Kind: ValueReply, Value: "OK2"})
	_, err = r.dispatch(1, []Command{{Name: "GET", Args: []interface{}{"x"}}})
	require.NoError(t, err)
	assert.False(t, adapter.executions[2].asking)
}

func TestRouterRedirectionBudgetExhausted(t *testing.T) {
	adapter := newScriptedAdapter()
	r, _ := newTestRouter(t, adapter, "a:6379")
	r.maxRedirections = 3

	for i := 0; i < 5; i++ {
		adapter.queue("a:6379", Reply{Kind: RedirectReply, Redirect: RedirectInfo{Kind: Moved, IP: "a", Port: 6379}})
	}

	_, err := r.dispatch(1, []Command{{Name: "GET", Args: []interface{}{"x"}}})
	require.Error(t, err)
	var rerr *RedirectionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 4, rerr.Count)
}

func TestRouterConnErrorRotatesThenExhaustsCandidates(t *testing.T) {
	adapter := newScriptedAdapter()
	r, _ := newTestRouter(t, adapter, "a:6379", "b:6379", "c:6379")
	r.retryInterval = 5 * time.Millisecond

	adapter.openErrors["a:6379"] = 1
	adapter.openErrors["b:6379"] = 1
	adapter.queue("c:6379", Reply{Kind: ConnErrorReply, Err: errors.New("boom")})
	adapter.queue("c:6379", Reply{Kind: ValueReply, Value: "OK"})

	start := time.Now()
	v, err := r.dispatch(1, []Command{{Name: "GET", Args: []interface{}{"x"}}})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "OK", v)
	// three nodes, three scripted failures (a and b each fail to open
	// once, c returns one ConnErrorReply): whichever order the router
	// rotates through them, the third failure always finds the
	// candidate set exhausted and sleeps one backoff(1) before the
	// fourth attempt succeeds.
	assert.GreaterOrEqual(t, elapsed, 4*time.Millisecond)
}

func TestRouterConnectionErrorBudget(t *testing.T) {
	adapter := newScriptedAdapter()
	r, _ := newTestRouter(t, adapter, "a:6379", "b:6379", "c:6379")
	r.maxConnectionErrs = 5
	r.retryInterval = time.Millisecond

	adapter.openErrors["a:6379"] = 100
	adapter.openErrors["b:6379"] = 100
	adapter.openErrors["c:6379"] = 100

	_, err := r.dispatch(1, []Command{{Name: "GET", Args: []interface{}{"x"}}})
	require.Error(t, err)
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 6, cerr.Count)
}

// TestRouterDispatchSurvivesConcurrentLoadSlots races a node just
// added by a MOVED redirect against a concurrent LoadSlots that keeps
// rebuilding the node set without it. Whichever way the race falls,
// dispatch must either succeed or fail with ConnectionError, never
// panic or dial a zero-value node.
func TestRouterDispatchSurvivesConcurrentLoadSlots(t *testing.T) {
	adapter := newScriptedAdapter()
	r, topo := newTestRouter(t, adapter, "a:6379")
	r.maxConnectionErrs = 5
	r.retryInterval = time.Microsecond

	adapter.queue("a:6379", Reply{Kind: RedirectReply, Redirect: RedirectInfo{Kind: Ask, IP: "ghost", Port: 6379}})
	adapter.queue("ghost:6379", Reply{Kind: ValueReply, Value: "OK"})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		master := Node{Host: "a", Port: 6379, Name: "a:6379"}
		for {
			select {
			case <-stop:
				return
			default:
				topo.LoadSlots([]slotMapping{{start: 0, end: hashSlots - 1, master: master}})
			}
		}
	}()

	require.NotPanics(t, func() {
		v, err := r.dispatch(1, []Command{{Name: "GET", Args: []interface{}{"x"}}})
		if err != nil {
			var cerr *ConnectionError
			require.ErrorAs(t, err, &cerr, "a vanished node must surface as ConnectionError, not any other failure")
		} else {
			assert.Equal(t, "OK", v)
		}
	})

	close(stop)
	wg.Wait()
}

func TestRouterBackoffShape(t *testing.T) {
	r := &router{retryInterval: 10 * time.Millisecond, retryRandomFactor: 0.1}
	for n := 1; n <= 4; n++ {
		d := r.backoff(n)
		mult := float64(int(1) << (n - 1))
		lo := time.Duration(float64(r.retryInterval) * mult * 0.9)
		hi := time.Duration(float64(r.retryInterval) * mult * 1.1)
		assert.GreaterOrEqualf(t, d, lo, "n=%d", n)
		assert.LessOrEqualf(t, d, hi, "n=%d", n)
	}
}

func TestRefreshSerialization(t *testing.T) {
	adapter := newScriptedAdapter()
	r, topo := newTestRouter(t, adapter, "a:6379")
	topo.LoadSlots([]slotMapping{{start: 0, end: hashSlots - 1, master: Node{Host: "a", Port: 6379, Name: "a:6379"}}})

	adapter.queue("a:6379", Reply{Kind: ValueReply, Value: []interface{}{
		[]interface{}{int64(0), int64(hashSlots - 1), []interface{}{"a", int64(6379)}},
	}}) // one slot range, one master node, no replicas

	r.setRefreshFlag()

	var wg sync.WaitGroup
	const n = 10
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.maybeAutoRefresh()
		}()
	}
	wg.Wait()

	adapter.mu.Lock()
	execCount := len(adapter.executions)
	adapter.mu.Unlock()
	assert.Equal(t, 1, execCount, "exactly one goroutine should have probed CLUSTER SLOTS")
}
