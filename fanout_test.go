package rcluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMGetGroupsBySlotAndReassemblesOrder(t *testing.T) {
	adapter := newScriptedAdapter()
	r, topo := newTestRouter(t, adapter, "a:6379")
	topo.LoadSlots([]slotMapping{
		{start: 0, end: hashSlots - 1, master: Node{Host: "a", Port: 6379, Name: "a:6379"}},
	})

	// MGet groups by exact slot, so give every key the same hash tag:
	// they land in one bucket and go out as a single MGET.
	adapter.queue("a:6379", Reply{Kind: ValueReply, Value: []interface{}{"X", "Y", "Z"}})

	c := &Cluster{topology: topo, router: r, adapter: adapter}
	got, err := c.MGet("{g}x", "{g}y", "{g}z")
	require.NoError(t, err)
	require.Equal(t, []interface{}{"X", "Y", "Z"}, got)
	require.Len(t, adapter.executions, 1, "keys sharing a hash tag must be sent as a single MGET")
}

func TestReconnectDrainsPool(t *testing.T) {
	adapter := newScriptedAdapter()
	p := newPool(adapter, nil)
	_, err := p.fetch(Node{Host: "a", Port: 6379, Name: "a:6379"})
	require.NoError(t, err)
	require.Len(t, p.stats(), 1)

	c := &Cluster{pool: p}
	c.Reconnect()
	require.Len(t, p.stats(), 0)
}
