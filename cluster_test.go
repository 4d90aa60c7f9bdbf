package rcluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClusterPipelinedRejectsMultiSlot(t *testing.T) {
	c := &Cluster{adapter: redisAdapter{}}
	_, err := c.dispatchPipeline(func(p *Pipeline) {
		p.Command("SET", "a", "1")
		p.Command("SET", "b", "2")
	}, false)
	require.Error(t, err)
	var rerr *RoutingError
	require.ErrorAs(t, err, &rerr)
}
