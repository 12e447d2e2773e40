package redixcluster

import "sync/atomic"

// SlotCache is a read-mostly, lock-free snapshot of the current SlotMap.
// Readers observe a consistent version and ranges together because the
// whole map is swapped atomically on refresh, so a reader never observes
// a torn mix of the old and new mapping.
type SlotCache struct {
	cur atomic.Pointer[SlotMap]
}

// NewSlotCache creates an empty SlotCache. Until the first successful
// Monitor refresh publishes a map, GetPool reports every slot as
// unmapped.
func NewSlotCache() *SlotCache {
	return &SlotCache{}
}

// Publish atomically replaces the current SlotMap snapshot. Called only
// by Monitor, after a successful refresh.
func (c *SlotCache) Publish(sm *SlotMap) {
	c.cur.Store(sm)
}

// Snapshot returns the current SlotMap, or nil if none has been
// published yet.
func (c *SlotCache) Snapshot() *SlotMap {
	return c.cur.Load()
}

// Version returns the current topology version, or 0 if no map has been
// published yet.
func (c *SlotCache) Version() TopologyVersion {
	sm := c.cur.Load()
	if sm == nil {
		return 0
	}
	return sm.Version
}

// GetPool resolves slot to a pool name at the current topology version.
// A false ok return means the slot is unmapped at this version -- the
// Dispatcher treats this as a retriable miss that forces a refresh.
func (c *SlotCache) GetPool(slot Slot) (version TopologyVersion, pool PoolName, ok bool) {
	sm := c.cur.Load()
	if sm == nil {
		return 0, "", false
	}
	r, found := sm.RangeForSlot(slot)
	if !found || r.Node.Pool == "" {
		return sm.Version, "", false
	}
	return sm.Version, r.Node.Pool, true
}

// GetSlotMap exposes the raw map for administrative operations, such as
// the flushdb fan-out.
func (c *SlotCache) GetSlotMap() *SlotMap {
	return c.cur.Load()
}
