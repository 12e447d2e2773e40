package redixcluster

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDialer returns a SeedDialer whose Do("CLUSTER", "SLOTS") call
// is answered by fn, counting how many times a real dial happened.
func scriptedDialer(calls *int32, fn func() (interface{}, error)) SeedDialer {
	return func(ctx context.Context, addr string) (RedisConn, error) {
		atomic.AddInt32(calls, 1)
		return &fakeConn{do: func(cmd string, args ...interface{}) (interface{}, error) {
			return fn()
		}}, nil
	}
}

func clusterSlotsReply(start, end int, host string, port int) interface{} {
	return []interface{}{
		[]interface{}{
			int64(start), int64(end),
			[]interface{}{[]byte(host), int64(port)},
		},
	}
}

func TestMonitorRefreshPublishesMapping(t *testing.T) {
	var calls int32
	dialer := scriptedDialer(&calls, func() (interface{}, error) {
		return clusterSlotsReply(0, HashSlots-1, "10.0.0.1", 7000), nil
	})

	cache := NewSlotCache()
	registry := NewPoolRegistry(fakeFactory(new(int32)), PoolConfig{})
	m := NewMonitor([]string{"seed:7000"}, dialer, cache, registry, time.Second, nil)
	defer m.Close()

	require.NoError(t, m.RefreshMapping(context.Background(), cache.Version()))

	version, pool, ok := cache.GetPool(100)
	require.True(t, ok)
	assert.Equal(t, TopologyVersion(1), version)
	assert.Equal(t, PoolName("Pool10.0.0.1:7000"), pool)

	names := registry.Names()
	assert.Contains(t, names, PoolName("Pool10.0.0.1:7000"))
}

func TestMonitorRefreshStaleVersionReturnsImmediately(t *testing.T) {
	var calls int32
	dialer := scriptedDialer(&calls, func() (interface{}, error) {
		return clusterSlotsReply(0, HashSlots-1, "10.0.0.1", 7000), nil
	})

	cache := NewSlotCache()
	registry := NewPoolRegistry(fakeFactory(new(int32)), PoolConfig{})
	m := NewMonitor([]string{"seed:7000"}, dialer, cache, registry, time.Second, nil)
	defer m.Close()

	require.NoError(t, m.RefreshMapping(context.Background(), cache.Version()))
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// Now the version has advanced to 1; a request carrying the stale
	// version 0 must not trigger another real refresh.
	require.NoError(t, m.RefreshMapping(context.Background(), 0))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMonitorCoalescesConcurrentRequestsForSameVersion(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	dialer := func(ctx context.Context, addr string) (RedisConn, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			close(started)
			<-release
		}
		return &fakeConn{do: func(cmd string, args ...interface{}) (interface{}, error) {
			return clusterSlotsReply(0, HashSlots-1, "10.0.0.1", 7000), nil
		}}, nil
	}

	cache := NewSlotCache()
	registry := NewPoolRegistry(fakeFactory(new(int32)), PoolConfig{})
	m := NewMonitor([]string{"seed:7000"}, dialer, cache, registry, time.Second, nil)
	defer m.Close()

	var wg sync.WaitGroup
	results := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.RefreshMapping(context.Background(), 0)
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "exactly one real refresh for 5 concurrent same-version requests")
}

func TestMonitorRefreshAllSeedsFailLeavesVersionUnchanged(t *testing.T) {
	dialer := func(ctx context.Context, addr string) (RedisConn, error) {
		return nil, errors.New("connection refused")
	}

	cache := NewSlotCache()
	registry := NewPoolRegistry(fakeFactory(new(int32)), PoolConfig{})
	m := NewMonitor([]string{"seed1:7000", "seed2:7000"}, dialer, cache, registry, time.Second, slog.New(discardHandler{}))
	defer m.Close()

	err := m.RefreshMapping(context.Background(), cache.Version())
	assert.Error(t, err)
	assert.Equal(t, TopologyVersion(0), cache.Version())
}

func TestMonitorFallsThroughToSecondSeed(t *testing.T) {
	dialer := func(ctx context.Context, addr string) (RedisConn, error) {
		if addr == "bad:7000" {
			return nil, errors.New("connection refused")
		}
		return &fakeConn{do: func(cmd string, args ...interface{}) (interface{}, error) {
			return clusterSlotsReply(0, HashSlots-1, "10.0.0.1", 7000), nil
		}}, nil
	}

	cache := NewSlotCache()
	registry := NewPoolRegistry(fakeFactory(new(int32)), PoolConfig{})
	m := NewMonitor([]string{"bad:7000", "good:7000"}, dialer, cache, registry, time.Second, nil)
	defer m.Close()

	require.NoError(t, m.RefreshMapping(context.Background(), cache.Version()))
	assert.Equal(t, TopologyVersion(1), cache.Version())
}
