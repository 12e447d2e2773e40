// Package redixcluster implements the routing core of a Redis Cluster
// client: given a command or pipeline, it determines which cluster shard
// owns the referenced key(s), routes the request to a pooled connection to
// that shard, and interprets the cluster redirection and failure protocol
// (MOVED, ASK, CLUSTERDOWN, connection loss) to drive retries and ad-hoc
// pool creation. See http://redis.io/topics/cluster-spec for the protocol
// this package implements against.
//
// Hash and KeyExtractor
//
// SlotOf computes the hash slot for a key, honoring the {tag} hash-tag
// convention. Extract and ExtractAll derive the routing key from a raw
// command or pipeline, rejecting commands that cannot be safely routed.
//
// SlotCache and Monitor
//
// SlotCache holds an immutable, atomically-published snapshot of the
// cluster's slot-to-node mapping. Monitor is the single writer of that
// snapshot: it refreshes the mapping by querying seed nodes with CLUSTER
// SLOTS, coalescing concurrent refresh requests that target the same
// topology version.
//
// Dispatcher
//
// Dispatcher ties the pieces together. Command, Pipeline and Transaction
// resolve a slot, check out a connection from the pool that owns it, and
// classify the result: passthrough responses are returned verbatim,
// redirections (ASK) are followed inline, and transient cluster errors
// (MOVED, CLUSTERDOWN, connection loss, unmapped slot) trigger a topology
// refresh and are surfaced as ErrRetry, leaving retry scheduling to the
// caller. See Retry for a simple bounded-retry wrapper.
//
// The package never sleeps and never retries on its own.
package redixcluster
