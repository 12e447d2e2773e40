package redixcluster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	const yamlDoc = `
cluster_nodes:
  - host: 10.0.0.1
    port: 7000
  - host: 10.0.0.2
    port: 7001
pool_size: 25
pool_max_overflow: 5
seed_timeout: 3s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.PoolSize)
	assert.Equal(t, 5, cfg.PoolMaxOverflow)
	assert.Equal(t, []string{"10.0.0.1:7000", "10.0.0.2:7001"}, cfg.SeedAddrs())
}

func TestConfigPoolConfigDerivation(t *testing.T) {
	cfg := Default()
	pc := cfg.PoolConfig()
	assert.Equal(t, cfg.PoolSize, pc.Size)
	assert.Equal(t, cfg.SocketOpts.ConnectTimeout, pc.DialTimeout)
}
