package redixcluster

import (
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the set of options recognized by the dispatch core. It is
// loaded from YAML: read the file, unmarshal with goccy/go-yaml, fall
// back to Default() if the file does not exist.
type Config struct {
	// ClusterNodes is the seed node list used by Monitor for CLUSTER
	// SLOTS.
	ClusterNodes []NodeAddr `yaml:"cluster_nodes"`

	// PoolSize is the per-node pool size.
	PoolSize int `yaml:"pool_size"`

	// PoolMaxOverflow is the transient extra connections allowed beyond
	// PoolSize (0 for a hard cap).
	PoolMaxOverflow int `yaml:"pool_max_overflow"`

	// SocketOpts is passed through to the underlying Redis client as
	// dial timeouts.
	SocketOpts SocketOpts `yaml:"socket_opts"`

	// BackoffInitial and BackoffMax bound the outer retry helper's
	// reconnect backoff (see retry.go).
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`

	// SeedTimeout bounds each seed node attempt during a topology
	// refresh, so a hung seed can never block a refresh indefinitely.
	SeedTimeout time.Duration `yaml:"seed_timeout"`

	Logger LoggerConfig `yaml:"logger"`
}

// NodeAddr is a seed node entry.
type NodeAddr struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SocketOpts mirrors the socket-level options redigo's DialOption family
// exposes.
type SocketOpts struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// LoggerConfig holds a log level and a text/JSON format switch. Nothing
// in this module reads it: cmd/clustercheck picks its slog handler from
// its -json flag.
type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline configuration suitable for a single-node
// development cluster at 127.0.0.1:7000.
func Default() Config {
	return Config{
		ClusterNodes:    []NodeAddr{{Host: "127.0.0.1", Port: 7000}},
		PoolSize:        10,
		PoolMaxOverflow: 0,
		SocketOpts: SocketOpts{
			ConnectTimeout: 2 * time.Second,
			ReadTimeout:    time.Second,
			WriteTimeout:   time.Second,
		},
		BackoffInitial: 50 * time.Millisecond,
		BackoffMax:     2 * time.Second,
		SeedTimeout:    2 * time.Second,
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
	}
}

// Load reads cfg from path. A missing file is not an error: it returns
// Default() instead, matching the init.go pattern this is grounded on.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SeedAddrs returns the "host:port" dial addresses of the configured
// seed nodes.
func (c Config) SeedAddrs() []string {
	addrs := make([]string, len(c.ClusterNodes))
	for i, n := range c.ClusterNodes {
		addrs[i] = Node{Host: n.Host, Port: n.Port}.Addr()
	}
	return addrs
}

// PoolConfig derives the PoolConfig used by PoolRegistry from this
// Config.
func (c Config) PoolConfig() PoolConfig {
	return PoolConfig{
		Size:         c.PoolSize,
		MaxOverflow:  c.PoolMaxOverflow,
		DialTimeout:  c.SocketOpts.ConnectTimeout,
		ReadTimeout:  c.SocketOpts.ReadTimeout,
		WriteTimeout: c.SocketOpts.WriteTimeout,
	}
}
