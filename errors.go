package redixcluster

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the Dispatcher, matching the caller/transient
// error taxonomy: callers can compare with errors.Is.
var (
	// ErrRetry is returned when a command hit a transient cluster
	// condition (MOVED, CLUSTERDOWN, connection loss, unmapped slot). A
	// topology refresh has already been requested; the caller decides
	// whether and when to retry.
	ErrRetry = errors.New("redixcluster: retry")

	// ErrKeyMustSameSlot is returned when a pipeline or transaction's
	// commands hash to more than one slot.
	ErrKeyMustSameSlot = errors.New("redixcluster: keys must belong to the same slot")

	// ErrNoSupportTransaction is returned when a pipeline's first command
	// is MULTI; transactions are constructed by Dispatcher.Transaction,
	// not submitted directly.
	ErrNoSupportTransaction = errors.New("redixcluster: transactions must be submitted via Transaction, not as a pipeline")

	// ErrInvalidClusterCommand is returned for commands that cannot be
	// routed to a single slot: info, config, shutdown, slaveof.
	ErrInvalidClusterCommand = errors.New("redixcluster: command cannot be routed without an explicit key")

	// ErrNoNodeForSlot is logged by the Dispatcher when a slot has no
	// pool assigned yet; the call itself returns ErrRetry after
	// requesting a refresh.
	ErrNoNodeForSlot = errors.New("redixcluster: no node for slot")

	// ErrClosed is returned by Monitor.RefreshMapping after the Monitor
	// has been closed.
	ErrClosed = errors.New("redixcluster: closed")
)

// DispatchError wraps a passthrough server or transport error with the
// slot and pool that produced it, so callers can inspect the underlying
// cause with errors.As/errors.Unwrap while still seeing a useful message.
type DispatchError struct {
	Slot Slot
	Pool PoolName
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("redixcluster: slot %d on %s: %v", e.Slot, e.Pool, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
