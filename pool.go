package redixcluster

import (
	"context"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
)

// RedisConn is the subset of redigo's redis.Conn the Dispatcher needs to
// execute commands. It is satisfied directly by *redigo's connections.
type RedisConn interface {
	Do(cmd string, args ...interface{}) (interface{}, error)
	Close() error
}

// Pool is a named bag of connections to one cluster node, with scoped
// checkout. Satisfied by *redigo's redis.Pool via the default factory in
// NewRedigoPool, but callers may supply any implementation (e.g. a fake
// in tests).
type Pool interface {
	// Get checks out a connection, blocking according to the pool's own
	// policy if ctx is non-nil and the pool is exhausted.
	Get(ctx context.Context) (RedisConn, error)
	Close() error
}

// redigoPool adapts *redigo's redis.Pool to the Pool interface.
type redigoPool struct {
	p *redis.Pool
}

func (rp *redigoPool) Get(ctx context.Context) (RedisConn, error) {
	if ctx != nil {
		return rp.p.GetContext(ctx)
	}
	c := rp.p.Get()
	return c, c.Err()
}

func (rp *redigoPool) Close() error { return rp.p.Close() }

// PoolConfig mirrors the per-node pool options of the dispatch core's
// configuration table.
type PoolConfig struct {
	Size         int
	MaxOverflow  int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedigoPool builds a *redigo redis.Pool against addr: MaxIdle,
// MaxActive, IdleTimeout, and a PING TestOnBorrow to evict dead
// connections before they're handed to a caller.
func NewRedigoPool(addr string, cfg PoolConfig) Pool {
	dial := func() (redis.Conn, error) {
		opts := []redis.DialOption{}
		if cfg.DialTimeout > 0 {
			opts = append(opts, redis.DialConnectTimeout(cfg.DialTimeout))
		}
		if cfg.ReadTimeout > 0 {
			opts = append(opts, redis.DialReadTimeout(cfg.ReadTimeout))
		}
		if cfg.WriteTimeout > 0 {
			opts = append(opts, redis.DialWriteTimeout(cfg.WriteTimeout))
		}
		return redis.Dial("tcp", addr, opts...)
	}

	size := cfg.Size
	if size <= 0 {
		size = 10
	}
	maxActive := size + cfg.MaxOverflow

	return &redigoPool{p: &redis.Pool{
		MaxIdle:     size,
		MaxActive:   maxActive,
		IdleTimeout: time.Minute,
		Dial:        dial,
		TestOnBorrow: func(c redis.Conn, _ time.Time) error {
			_, err := c.Do("PING")
			return err
		},
	}}
}

// PoolFactory constructs a Pool for an address. It is injected into
// PoolRegistry so tests can supply fakes without dialing real
// connections.
type PoolFactory func(addr string, cfg PoolConfig) Pool

// PoolRegistry lazily creates and registers connection pools, used both
// by Monitor after a topology refresh and by the Dispatcher when
// following an ASK redirection to a previously unknown endpoint. Pools
// are never destroyed during a process run.
type PoolRegistry struct {
	mu      sync.Mutex
	pools   map[PoolName]Pool
	factory PoolFactory
	cfg     PoolConfig
}

// NewPoolRegistry creates a registry that builds pools with factory,
// using cfg for every pool it creates.
func NewPoolRegistry(factory PoolFactory, cfg PoolConfig) *PoolRegistry {
	if factory == nil {
		factory = func(addr string, cfg PoolConfig) Pool { return NewRedigoPool(addr, cfg) }
	}
	return &PoolRegistry{
		pools:   make(map[PoolName]Pool),
		factory: factory,
		cfg:     cfg,
	}
}

// EnsurePool idempotently creates (if needed) and returns the pool for
// host:port, under its deterministic name.
func (r *PoolRegistry) EnsurePool(host string, port int) (PoolName, error) {
	name := NewPoolName(host, port)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pools[name]; ok {
		return name, nil
	}
	p := r.factory(Node{Host: host, Port: port}.Addr(), r.cfg)
	r.pools[name] = p
	return name, nil
}

// Get returns the pool registered under name, or false if no such pool
// exists.
func (r *PoolRegistry) Get(name PoolName) (Pool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[name]
	return p, ok
}

// Names returns the set of currently registered pool names.
func (r *PoolRegistry) Names() []PoolName {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]PoolName, 0, len(r.pools))
	for n := range r.pools {
		names = append(names, n)
	}
	return names
}

// Close closes every registered pool, returning the first error
// encountered, if any.
func (r *PoolRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, p := range r.pools {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
