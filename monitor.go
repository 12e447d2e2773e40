package redixcluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
)

// SeedDialer connects to a seed node address to issue administrative
// commands (CLUSTER SLOTS) during a topology refresh. It is the
// Monitor's only network dependency, injected so tests can supply a
// fake.
type SeedDialer func(ctx context.Context, addr string) (RedisConn, error)

// DefaultSeedDialer dials addr with redigo, honoring the given timeout as
// a connect timeout, bounding each seed attempt.
func DefaultSeedDialer(timeout time.Duration) SeedDialer {
	return func(ctx context.Context, addr string) (RedisConn, error) {
		opts := []redis.DialOption{redis.DialConnectTimeout(timeout)}
		if ctx != nil {
			return redis.DialContext(ctx, "tcp", addr, opts...)
		}
		return redis.Dial("tcp", addr, opts...)
	}
}

// refreshRequest is a request sent to the Monitor's single worker
// goroutine: "refresh, unless the current version has already moved past
// seenVersion". done is closed once the request (or the refresh it
// coalesced into) completes.
type refreshRequest struct {
	seenVersion TopologyVersion
	done        chan error
}

// Monitor owns the single writer of the cluster's SlotMap. All refresh
// requests are serialized through a single worker goroutine reached over
// a channel, which is what makes concurrent callers carrying the same
// observed version collapse into one real network round-trip.
type Monitor struct {
	seeds    []string
	dialer   SeedDialer
	cache    *SlotCache
	registry *PoolRegistry
	timeout  time.Duration
	logger   *slog.Logger

	reqCh    chan refreshRequest
	resultCh chan error
	quitCh   chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once
}

// NewMonitor creates a Monitor that refreshes cache by querying seeds in
// order, registering a pool for every discovered endpoint via registry.
func NewMonitor(seeds []string, dialer SeedDialer, cache *SlotCache, registry *PoolRegistry, seedTimeout time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	m := &Monitor{
		seeds:    seeds,
		dialer:   dialer,
		cache:    cache,
		registry: registry,
		timeout:  seedTimeout,
		logger:   logger,
		reqCh:    make(chan refreshRequest),
		resultCh: make(chan error, 1),
		quitCh:   make(chan struct{}),
	}
	m.wg.Add(1)
	go m.loop()
	return m
}

// Close stops the Monitor's worker goroutine. An in-flight refresh is
// allowed to finish; its result is discarded.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() { close(m.quitCh) })
	m.wg.Wait()
}

// RefreshMapping requests a refresh of the topology, coalesced against
// other concurrent requests carrying the same seenVersion. If the current
// version has already advanced past seenVersion, it returns immediately
// because another refresh has already happened. Otherwise it blocks until
// the refresh it triggered (or coalesced into) completes.
func (m *Monitor) RefreshMapping(ctx context.Context, seenVersion TopologyVersion) error {
	req := refreshRequest{seenVersion: seenVersion, done: make(chan error, 1)}

	select {
	case m.reqCh <- req:
	case <-m.quitCh:
		return ErrClosed
	case <-ctxDone(ctx):
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctxDone(ctx):
		return ctx.Err()
	}
}

func ctxDone(ctx context.Context) <-chan struct{} {
	if ctx == nil {
		return nil
	}
	return ctx.Done()
}

// loop is the Monitor's single-writer actor: the only goroutine allowed
// to read or write `refreshing`/`waiters`, which is what gives the
// coalescing its correctness (no locks needed on this state).
func (m *Monitor) loop() {
	defer m.wg.Done()

	var (
		refreshing bool
		waiters    []refreshRequest
	)

	for {
		select {
		case <-m.quitCh:
			for _, w := range waiters {
				w.done <- ErrClosed
			}
			return

		case req := <-m.reqCh:
			if req.seenVersion != m.cache.Version() {
				req.done <- nil
				continue
			}
			waiters = append(waiters, req)
			if !refreshing {
				refreshing = true
				go func() {
					m.resultCh <- m.refresh(context.Background())
				}()
			}

		case err := <-m.resultCh:
			refreshing = false
			for _, w := range waiters {
				w.done <- err
			}
			waiters = nil
		}
	}
}

func (m *Monitor) refresh(ctx context.Context) error {
	var lastErr error
	for _, addr := range m.seeds {
		ctx2, cancel := context.WithTimeout(ctx, m.timeout)
		ranges, err := m.fetchSlots(ctx2, addr)
		cancel()
		if err != nil {
			lastErr = err
			m.logger.Warn("cluster slots refresh failed for seed", "addr", addr, "error", err)
			continue
		}

		next := m.cache.Version() + 1
		sm := NewSlotMap(next, ranges)
		for _, r := range ranges {
			if _, err := m.registry.EnsurePool(r.Node.Host, r.Node.Port); err != nil {
				m.logger.Warn("failed to register pool for node", "addr", r.Node.Addr(), "error", err)
			}
			for _, rep := range r.Replicas {
				if _, err := m.registry.EnsurePool(rep.Host, rep.Port); err != nil {
					m.logger.Warn("failed to register pool for replica", "addr", rep.Addr(), "error", err)
				}
			}
		}
		m.cache.Publish(sm)
		m.logger.Info("topology refreshed", "version", int64(next), "ranges", len(ranges), "via", addr)
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("redixcluster: no seed nodes configured")
	}
	return fmt.Errorf("redixcluster: all seed nodes failed: %w", lastErr)
}

// fetchSlots issues CLUSTER SLOTS against addr and parses the reply into
// SlotRanges.
func (m *Monitor) fetchSlots(ctx context.Context, addr string) ([]SlotRange, error) {
	conn, err := m.dialer(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Bound the reply wait by ctx too: on expiry the deferred Close
	// unblocks the pending Do.
	type slotsResult struct {
		reply interface{}
		err   error
	}
	resCh := make(chan slotsResult, 1)
	go func() {
		reply, err := conn.Do("CLUSTER", "SLOTS")
		resCh <- slotsResult{reply, err}
	}()
	var reply interface{}
	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		reply = res.reply
	case <-ctxDone(ctx):
		return nil, ctx.Err()
	}

	vals, err := redis.Values(reply, nil)
	if err != nil {
		return nil, err
	}

	ranges := make([]SlotRange, 0, len(vals))
	for _, v := range vals {
		entry, ok := v.([]interface{})
		if !ok {
			return nil, errors.New("redixcluster: unexpected CLUSTER SLOTS entry")
		}
		r, err := parseSlotRangeEntry(entry)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func parseSlotRangeEntry(entry []interface{}) (SlotRange, error) {
	if len(entry) < 3 {
		return SlotRange{}, errors.New("redixcluster: malformed CLUSTER SLOTS entry")
	}
	start, err := redis.Int(entry[0], nil)
	if err != nil {
		return SlotRange{}, err
	}
	end, err := redis.Int(entry[1], nil)
	if err != nil {
		return SlotRange{}, err
	}

	nodes := make([]Node, 0, len(entry)-2)
	for _, raw := range entry[2:] {
		nodeInfo, ok := raw.([]interface{})
		if !ok || len(nodeInfo) < 2 {
			continue
		}
		host, err := redis.String(nodeInfo[0], nil)
		if err != nil {
			return SlotRange{}, err
		}
		port, err := redis.Int(nodeInfo[1], nil)
		if err != nil {
			return SlotRange{}, err
		}
		nodes = append(nodes, Node{Host: host, Port: port, Pool: NewPoolName(host, port)})
	}
	if len(nodes) == 0 {
		return SlotRange{}, errors.New("redixcluster: CLUSTER SLOTS entry has no nodes")
	}

	return SlotRange{
		Start:    Slot(start),
		End:      Slot(end),
		Node:     nodes[0],
		Replicas: nodes[1:],
	}, nil
}
