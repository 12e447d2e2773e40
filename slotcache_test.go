package redixcluster

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotCacheEmptyCache(t *testing.T) {
	c := NewSlotCache()
	_, _, ok := c.GetPool(0)
	assert.False(t, ok)
	assert.Equal(t, TopologyVersion(0), c.Version())
	assert.Nil(t, c.Snapshot())
}

func TestSlotCachePublishIsAtomic(t *testing.T) {
	c := NewSlotCache()
	sm := NewSlotMap(1, []SlotRange{{Start: 0, End: HashSlots - 1, Node: Node{Pool: "PoolA"}}})
	c.Publish(sm)

	version, pool, ok := c.GetPool(42)
	require.True(t, ok)
	assert.Equal(t, TopologyVersion(1), version)
	assert.Equal(t, PoolName("PoolA"), pool)
}

func TestSlotCacheUnmappedSlotIsRetriableMiss(t *testing.T) {
	c := NewSlotCache()
	sm := NewSlotMap(1, []SlotRange{{Start: 0, End: 100, Node: Node{Pool: "PoolA"}}})
	c.Publish(sm)

	version, _, ok := c.GetPool(200)
	assert.False(t, ok)
	assert.Equal(t, TopologyVersion(1), version)
}

// TestSlotCacheNeverObservesTornMap publishes new maps concurrently with
// readers and asserts that every read observes a self-consistent
// (version, pool) pair -- never a version from one map paired with a
// pool from another.
func TestSlotCacheNeverObservesTornMap(t *testing.T) {
	c := NewSlotCache()
	var wg sync.WaitGroup

	for v := TopologyVersion(1); v <= 50; v++ {
		wg.Add(1)
		go func(v TopologyVersion) {
			defer wg.Done()
			pool := PoolName("Pool" + string(rune('A'+int(v)%26)))
			sm := NewSlotMap(v, []SlotRange{{Start: 0, End: HashSlots - 1, Node: Node{Pool: pool}}})
			c.Publish(sm)
		}(v)
	}

	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm := c.Snapshot()
			if sm == nil {
				return
			}
			r, ok := sm.RangeForSlot(0)
			if !ok {
				return
			}
			// Each map was built with exactly one range naming exactly
			// one pool derived from its version; checking that pool
			// against sm.Version is the consistency check -- it can only
			// fail if a reader saw a partially-written SlotMap, which
			// atomic.Pointer prevents.
			assert.Equal(t, PoolName("Pool"+string(rune('A'+int(sm.Version)%26))), r.Node.Pool)
		}()
	}
	wg.Wait()
}
