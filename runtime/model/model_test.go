package model

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func mkInfo(id string, threads uint16) ToolServerInfo {
	return ToolServerInfo{ServerId: id, Host: "10.0.0.1", Port: 9000, TotalThreads: threads, ToolIds: []string{"gcc9"}}
}

func TestCoordinatorInfoUpdateAddsNew(t *testing.T) {
	var c CoordinatorInfo
	changed := c.Update([]ToolServerInfo{mkInfo("s1", 4)})
	require.Len(t, changed, 1)
	require.Len(t, c.ToolServers, 1)
}

func TestCoordinatorInfoUpdateReplacesChanged(t *testing.T) {
	var c CoordinatorInfo
	c.Update([]ToolServerInfo{mkInfo("s1", 4)})
	changed := c.Update([]ToolServerInfo{mkInfo("s1", 8)})
	require.Len(t, changed, 1)
	require.EqualValues(t, 8, c.ToolServers[0].TotalThreads)
}

func TestCoordinatorInfoUpdateSkipsUnchanged(t *testing.T) {
	var c CoordinatorInfo
	c.Update([]ToolServerInfo{mkInfo("s1", 4)})
	changed := c.Update([]ToolServerInfo{mkInfo("s1", 4)})
	require.Empty(t, changed)
}

func TestCoordinatorInfoRemove(t *testing.T) {
	var c CoordinatorInfo
	c.Update([]ToolServerInfo{mkInfo("s1", 4)})
	require.True(t, c.Remove(mkInfo("s1", 4)))
	require.Empty(t, c.ToolServers)
	require.False(t, c.Remove(mkInfo("s1", 4)))
}

// TestUpdateIdempotence verifies spec §8: "for all sequences of
// update_client calls with identical input, the resulting view is
// identical (idempotence of merge)" — applied here to CoordinatorInfo.Update.
func TestUpdateIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated Update with identical input changes nothing after the first call", prop.ForAll(
		func(threads uint16, repeats int) bool {
			var c CoordinatorInfo
			info := mkInfo("s1", threads)
			c.Update([]ToolServerInfo{info})
			for i := 0; i < repeats; i++ {
				changed := c.Update([]ToolServerInfo{info})
				if len(changed) != 0 {
					return false
				}
			}
			return len(c.ToolServers) == 1
		},
		gen.UInt16Range(0, 64),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// TestUpdateReturnsExactlyChangedSubset verifies spec §8: "for all
// ToolServerInfo updates, CoordinatorInfo::update returns exactly the
// subset whose contents differ from what was stored."
func TestUpdateReturnsExactlyChangedSubset(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("changed subset matches expectation", prop.ForAll(
		func(threadsA, threadsB uint16) bool {
			var c CoordinatorInfo
			c.Update([]ToolServerInfo{mkInfo("s1", threadsA), mkInfo("s2", threadsA)})

			changed := c.Update([]ToolServerInfo{mkInfo("s1", threadsB), mkInfo("s2", threadsA)})

			if threadsA == threadsB {
				return len(changed) == 0
			}
			return len(changed) == 1 && changed[0].ServerId == "s1"
		},
		gen.UInt16Range(0, 32),
		gen.UInt16Range(0, 32),
	))

	properties.TestingRun(t)
}
