package redixcluster

import "fmt"

// PoolName is a stable, derivable identifier for a connection pool,
// conventionally "Pool" + host + ":" + port.
type PoolName string

// NewPoolName derives the deterministic pool name for a host:port
// endpoint.
func NewPoolName(host string, port int) PoolName {
	return PoolName(fmt.Sprintf("Pool%s:%d", host, port))
}

// Node is a single cluster endpoint.
type Node struct {
	Host string
	Port int
	Pool PoolName
}

// Addr returns the "host:port" dial address for the node.
func (n Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// SlotRange is a contiguous range of slots owned by one node, as returned
// by CLUSTER SLOTS (inclusive bounds).
type SlotRange struct {
	Start    Slot
	End      Slot
	Node     Node
	Replicas []Node
}

// SlotMap is an immutable snapshot of the slot-to-node mapping at a given
// topology version. It is never mutated in place: Monitor builds a new
// SlotMap on every successful refresh and the SlotCache swaps it in
// atomically.
type SlotMap struct {
	Version TopologyVersion
	Ranges  []SlotRange

	// slotIndex[s] is the 1-based index into Ranges of the range owning
	// slot s, or 0 if the slot is unassigned at this version.
	slotIndex [HashSlots]uint16
}

// TopologyVersion is a monotonically non-decreasing counter identifying a
// SlotMap snapshot, bumped on every successful refresh.
type TopologyVersion int64

// NewSlotMap builds a SlotMap from a set of ranges, populating the slot
// index. Ranges must not overlap; later ranges win on overlap (mirrors
// CLUSTER SLOTS, which never reports overlapping ranges for live slots).
func NewSlotMap(version TopologyVersion, ranges []SlotRange) *SlotMap {
	sm := &SlotMap{Version: version, Ranges: ranges}
	for i, r := range ranges {
		for s := r.Start; s <= r.End; s++ {
			sm.slotIndex[s] = uint16(i + 1)
		}
	}
	return sm
}

// RangeForSlot returns the SlotRange owning slot, and whether the slot is
// currently mapped.
func (sm *SlotMap) RangeForSlot(slot Slot) (SlotRange, bool) {
	if sm == nil || slot < 0 || int(slot) >= HashSlots {
		return SlotRange{}, false
	}
	ix := sm.slotIndex[slot]
	if ix == 0 {
		return SlotRange{}, false
	}
	return sm.Ranges[ix-1], true
}

// UniquePools returns the set of distinct pool names owning at least one
// slot in the map, used by the administrative flushdb fan-out.
func (sm *SlotMap) UniquePools() []PoolName {
	if sm == nil {
		return nil
	}
	seen := make(map[PoolName]bool, len(sm.Ranges))
	var names []PoolName
	for _, r := range sm.Ranges {
		if r.Node.Pool == "" || seen[r.Node.Pool] {
			continue
		}
		seen[r.Node.Pool] = true
		names = append(names, r.Node.Pool)
	}
	return names
}
