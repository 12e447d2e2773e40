package redixcluster

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
)

// DispatchOptions carries per-call options, at minimum a timeout
// applied to the pool checkout.
type DispatchOptions struct {
	// Timeout bounds the pool checkout: it is the deadline of the context
	// passed to Pool.Get. Command execution on the checked-out connection
	// does not see it and is bounded only by the connection's own
	// read/write timeouts. Zero means no timeout beyond the pool's and
	// connection's own.
	Timeout time.Duration

	// Keys, if non-empty, is used as the explicit routing key selector
	// for commands that carry no natural key (info, config, shutdown,
	// slaveof). Without it, Command rejects those verbs with
	// ErrInvalidClusterCommand instead of silently hashing a nil key to
	// slot 0.
	Keys []string
}

func (o *DispatchOptions) context() (context.Context, context.CancelFunc) {
	if o == nil || o.Timeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), o.Timeout)
}

// askRedirectDepth bounds the Dispatcher's own recursion on ASK
// redirections. One hop is the practical depth of cluster redirections;
// this guards against a misbehaving or flapping cluster looping forever.
const askRedirectDepth = 3

// Dispatcher is the command/pipeline/transaction entry point: it resolves
// a slot, checks out a connection from the pool that owns it, executes
// the command(s), and classifies the result to drive retries and ASK
// redirections.
type Dispatcher struct {
	Cache    *SlotCache
	Monitor  *Monitor
	Registry *PoolRegistry
	Logger   *slog.Logger
}

// NewDispatcher wires the three collaborating components into one
// Dispatcher.
func NewDispatcher(cache *SlotCache, monitor *Monitor, registry *PoolRegistry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	return &Dispatcher{Cache: cache, Monitor: monitor, Registry: registry, Logger: logger}
}

// Command extracts the routing key, resolves its slot, and dispatches cmd
// to the pool owning that slot.
func (d *Dispatcher) Command(cmd Command, opts *DispatchOptions) (interface{}, error) {
	key, err := d.resolveCommandKey(cmd, opts)
	if err != nil {
		return nil, err
	}

	slot := SlotOfBytes(key)
	return d.dispatchSingle(slot, cmd, opts, askRedirectDepth)
}

func (d *Dispatcher) resolveCommandKey(cmd Command, opts *DispatchOptions) ([]byte, error) {
	if opts != nil && len(opts.Keys) > 0 {
		return []byte(opts.Keys[0]), nil
	}
	key, err := Extract(cmd)
	if err != nil {
		return nil, err
	}
	if key == nil {
		// info/config/shutdown/slaveof without an explicit key opt-in:
		// reject rather than silently routing to whatever owns slot 0.
		if len(cmd) > 0 && noKeyVerbs[lowerVerb(cmd)] {
			return nil, ErrInvalidClusterCommand
		}
	}
	return key, nil
}

// Pipeline requires every extracted key to hash to the same slot, then
// dispatches the whole batch as one round trip to the pool owning that
// slot.
func (d *Dispatcher) Pipeline(cmds []Command, opts *DispatchOptions) ([]interface{}, error) {
	slot, err := d.coherentSlot(cmds)
	if err != nil {
		return nil, err
	}
	return d.dispatchBatch(slot, cmds, opts, askRedirectDepth)
}

// Transaction applies the same key-coherence check as Pipeline, but
// wraps the payload as [[MULTI]] ++ cmds ++ [[EXEC]] before dispatch --
// the wrapping is why user-submitted MULTI is forbidden in Pipeline.
func (d *Dispatcher) Transaction(cmds []Command, opts *DispatchOptions) ([]interface{}, error) {
	slot, err := d.coherentSlot(cmds)
	if err != nil {
		return nil, err
	}

	wrapped := make([]Command, 0, len(cmds)+2)
	wrapped = append(wrapped, Command{[]byte("MULTI")})
	wrapped = append(wrapped, cmds...)
	wrapped = append(wrapped, Command{[]byte("EXEC")})

	results, err := d.dispatchBatch(slot, wrapped, opts, askRedirectDepth)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	// EXEC's reply is the last one and carries the per-command results
	// (or nil if the transaction was aborted server-side).
	exec := results[len(results)-1]
	if arr, ok := exec.([]interface{}); ok {
		return arr, nil
	}
	return results, nil
}

// coherentSlot extracts every command's routing key via ExtractAll and
// requires all non-nil keys to hash to the same slot. No network I/O
// occurs before this check passes.
func (d *Dispatcher) coherentSlot(cmds []Command) (Slot, error) {
	keys, err := ExtractAll(cmds)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, ErrInvalidClusterCommand
	}

	slot := SlotOfBytes(keys[0])
	for _, k := range keys[1:] {
		if SlotOfBytes(k) != slot {
			return 0, ErrKeyMustSameSlot
		}
	}
	return slot, nil
}

// dispatchSingle implements the single-command dispatch algorithm:
// resolve the owning pool, check out a connection, execute, classify.
func (d *Dispatcher) dispatchSingle(slot Slot, cmd Command, opts *DispatchOptions, asksLeft int) (interface{}, error) {
	version, poolName, ok := d.Cache.GetPool(slot)
	if !ok {
		d.Logger.Info("dispatch: slot unmapped", "slot", int(slot), "error", ErrNoNodeForSlot)
		d.requestRefresh(version)
		return nil, ErrRetry
	}

	pool, found := d.Registry.Get(poolName)
	if !found {
		d.Logger.Info("dispatch: slot unmapped", "slot", int(slot), "error", ErrNoNodeForSlot)
		d.requestRefresh(version)
		return nil, ErrRetry
	}

	ctx, cancel := opts.context()
	defer cancel()

	conn, err := pool.Get(ctx)
	if err != nil {
		d.requestRefresh(version)
		return nil, ErrRetry
	}
	defer conn.Close()

	reply, err := conn.Do(string(cmd.Verb()), toArgs(cmd[1:])...)
	return d.classifySingle(slot, poolName, version, reply, err, cmd, opts, asksLeft)
}

func (d *Dispatcher) classifySingle(slot Slot, poolName PoolName, version TopologyVersion, reply interface{}, err error, cmd Command, opts *DispatchOptions, asksLeft int) (interface{}, error) {
	if err == nil {
		return reply, nil
	}

	if isConnectionError(err) {
		d.requestRefresh(version)
		return nil, ErrRetry
	}

	if redir, ok := ParseRedirect(err); ok {
		switch redir.Type {
		case RedirAsk:
			return d.followAsk(redir, version, cmd, opts, asksLeft)
		case RedirMoved:
			d.requestRefresh(version)
			return nil, ErrRetry
		}
	}

	if IsClusterDown(err) {
		d.requestRefresh(version)
		return nil, ErrRetry
	}

	return nil, &DispatchError{Slot: slot, Pool: poolName, Err: err}
}

// followAsk ensures a pool exists for the redirect's target and
// re-dispatches cmd on it, at the same topology version -- no refresh is
// triggered for an ASK redirection, unlike MOVED or CLUSTERDOWN.
func (d *Dispatcher) followAsk(redir *Redirect, version TopologyVersion, cmd Command, opts *DispatchOptions, asksLeft int) (interface{}, error) {
	if asksLeft <= 0 {
		return nil, &DispatchError{Err: errors.New("redixcluster: too many ASK redirections")}
	}

	poolName, err := d.Registry.EnsurePool(redir.Host, redir.Port)
	if err != nil {
		return nil, err
	}
	d.Logger.Info("following ASK redirect", "slot", int(redir.Slot), "addr", redir.Addr(), "pool", poolName)

	pool, _ := d.Registry.Get(poolName)
	ctx, cancel := opts.context()
	defer cancel()

	conn, err := pool.Get(ctx)
	if err != nil {
		return nil, &DispatchError{Slot: redir.Slot, Pool: poolName, Err: err}
	}
	defer conn.Close()

	if _, err := conn.Do("ASKING"); err != nil {
		return nil, &DispatchError{Slot: redir.Slot, Pool: poolName, Err: err}
	}

	reply, err := conn.Do(string(cmd.Verb()), toArgs(cmd[1:])...)
	return d.classifySingle(redir.Slot, poolName, version, reply, err, cmd, opts, asksLeft-1)
}

// dispatchBatch runs the pipeline-aware equivalent of dispatchSingle: one
// round trip for the whole batch, classified as a unit (a redirection or
// connection error anywhere in the batch is treated as affecting the
// whole batch, since every command in it addresses the same slot).
func (d *Dispatcher) dispatchBatch(slot Slot, cmds []Command, opts *DispatchOptions, asksLeft int) ([]interface{}, error) {
	version, poolName, ok := d.Cache.GetPool(slot)
	if !ok {
		d.requestRefresh(version)
		return nil, ErrRetry
	}

	pool, found := d.Registry.Get(poolName)
	if !found {
		d.requestRefresh(version)
		return nil, ErrRetry
	}

	ctx, cancel := opts.context()
	defer cancel()

	conn, err := pool.Get(ctx)
	if err != nil {
		d.requestRefresh(version)
		return nil, ErrRetry
	}
	defer conn.Close()

	replies, batchErr := sendBatch(conn, cmds)
	if batchErr != nil {
		if isConnectionError(batchErr) {
			d.requestRefresh(version)
			return nil, ErrRetry
		}
		return nil, &DispatchError{Slot: slot, Pool: poolName, Err: batchErr}
	}

	for _, reply := range replies {
		replyErr, isErr := reply.(error)
		if !isErr {
			continue
		}

		if redir, ok := ParseRedirect(replyErr); ok && redir.Type == RedirAsk {
			return d.followAskBatch(redir, cmds, opts, asksLeft)
		}
		if redir, ok := ParseRedirect(replyErr); ok && redir.Type == RedirMoved {
			d.requestRefresh(version)
			return nil, ErrRetry
		}
		if IsClusterDown(replyErr) {
			d.requestRefresh(version)
			return nil, ErrRetry
		}
	}

	return replies, nil
}

func (d *Dispatcher) followAskBatch(redir *Redirect, cmds []Command, opts *DispatchOptions, asksLeft int) ([]interface{}, error) {
	if asksLeft <= 0 {
		return nil, &DispatchError{Err: errors.New("redixcluster: too many ASK redirections")}
	}

	poolName, err := d.Registry.EnsurePool(redir.Host, redir.Port)
	if err != nil {
		return nil, err
	}
	d.Logger.Info("following ASK redirect for batch", "slot", int(redir.Slot), "addr", redir.Addr(), "pool", poolName)

	pool, _ := d.Registry.Get(poolName)
	ctx, cancel := opts.context()
	defer cancel()

	conn, err := pool.Get(ctx)
	if err != nil {
		return nil, &DispatchError{Slot: redir.Slot, Pool: poolName, Err: err}
	}
	defer conn.Close()

	if _, err := conn.Do("ASKING"); err != nil {
		return nil, &DispatchError{Slot: redir.Slot, Pool: poolName, Err: err}
	}

	replies, batchErr := sendBatch(conn, cmds)
	if batchErr != nil {
		return nil, &DispatchError{Slot: redir.Slot, Pool: poolName, Err: batchErr}
	}
	return replies, nil
}

// sendBatch pipelines every command over conn in a single Send/Flush
// round trip and collects one reply per command, in order -- each reply
// may itself be an error value (e.g. a MOVED for that particular key),
// which the caller inspects without the batch call itself returning an
// error.
func sendBatch(conn RedisConn, cmds []Command) ([]interface{}, error) {
	pipeliner, ok := conn.(redis.Conn)
	if !ok {
		// Fake connections in tests may not support pipelining; fall
		// back to issuing each command with Do.
		replies := make([]interface{}, len(cmds))
		for i, cmd := range cmds {
			reply, err := conn.Do(string(cmd.Verb()), toArgs(cmd[1:])...)
			if err != nil {
				if _, ok := err.(redis.Error); !ok {
					return nil, err
				}
				replies[i] = err
				continue
			}
			replies[i] = reply
		}
		return replies, nil
	}

	for _, cmd := range cmds {
		if err := pipeliner.Send(string(cmd.Verb()), toArgs(cmd[1:])...); err != nil {
			return nil, err
		}
	}
	if err := pipeliner.Flush(); err != nil {
		return nil, err
	}

	replies := make([]interface{}, len(cmds))
	for i := range cmds {
		reply, err := pipeliner.Receive()
		if err != nil {
			if _, ok := err.(redis.Error); !ok {
				return nil, err
			}
			replies[i] = err
			continue
		}
		replies[i] = reply
	}
	return replies, nil
}

// Flushdb issues FLUSHDB against every unique pool named in the current
// slot map. Per-node errors are absorbed; this operation is best-effort
// because no single-key extraction can target "all shards".
func (d *Dispatcher) Flushdb() (string, error) {
	sm := d.Cache.GetSlotMap()
	for _, name := range sm.UniquePools() {
		pool, ok := d.Registry.Get(name)
		if !ok {
			continue
		}
		func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn, err := pool.Get(ctx)
			if err != nil {
				d.Logger.Warn("flushdb: failed to get connection", "pool", name, "error", err)
				return
			}
			defer conn.Close()
			if _, err := conn.Do("FLUSHDB"); err != nil {
				d.Logger.Warn("flushdb: command failed", "pool", name, "error", err)
			}
		}()
	}
	return "OK", nil
}

// requestRefresh asks the Monitor to refresh, without waiting for the
// result: the caller already knows to return ErrRetry regardless of how
// the refresh turns out.
func (d *Dispatcher) requestRefresh(seenVersion TopologyVersion) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.Monitor.RefreshMapping(ctx, seenVersion); err != nil {
			d.Logger.Warn("topology refresh request failed", "version", int64(seenVersion), "error", err)
		}
	}()
}

func toArgs(args [][]byte) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

// isConnectionError reports whether err represents a connection-level
// failure (closed connection, no connection, transport error) rather
// than a server-side logical error.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, redis.ErrPoolExhausted) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "closed network connection") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "redixcluster: closed")
}
