package redixcluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cmd(parts ...string) Command {
	c := make(Command, len(parts))
	for i, p := range parts {
		c[i] = []byte(p)
	}
	return c
}

func TestExtractDefaultVerb(t *testing.T) {
	key, err := Extract(cmd("GET", "foo"))
	require.NoError(t, err)
	assert.Equal(t, []byte("foo"), key)
}

func TestExtractNoKeyVerbs(t *testing.T) {
	for _, verb := range []string{"info", "config", "shutdown", "slaveof"} {
		key, err := Extract(cmd(verb, "x"))
		require.NoError(t, err)
		assert.Nil(t, key, verb)
	}
}

func TestExtractSecondArgVerbs(t *testing.T) {
	key, err := Extract(cmd("BITOP", "AND", "dest", "src1", "src2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("dest"), key)
}

func TestExtractEvalVerbs(t *testing.T) {
	key, err := Extract(cmd("EVAL", "return 1", "1", "mykey"))
	require.NoError(t, err)
	assert.Equal(t, []byte("mykey"), key)
}

func TestExtractXreadStreams(t *testing.T) {
	key, err := Extract(cmd("XREAD", "COUNT", "2", "STREAMS", "mystream", "0"))
	require.NoError(t, err)
	assert.Equal(t, []byte("mystream"), key)
}

func TestExtractXreadStreamsCaseInsensitive(t *testing.T) {
	key, err := Extract(cmd("XREADGROUP", "GROUP", "g", "c", "Streams", "s1", ">"))
	require.NoError(t, err)
	assert.Equal(t, []byte("s1"), key)
}

func TestExtractMemoryUsage(t *testing.T) {
	key, err := Extract(cmd("MEMORY", "USAGE", "mykey"))
	require.NoError(t, err)
	assert.Equal(t, []byte("mykey"), key)
}

func TestExtractMemoryOtherSubcommand(t *testing.T) {
	key, err := Extract(cmd("MEMORY", "STATS"))
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestExtractEmptyCommand(t *testing.T) {
	key, err := Extract(Command{})
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestExtractAllRejectsLeadingMulti(t *testing.T) {
	_, err := ExtractAll([]Command{cmd("MULTI"), cmd("SET", "a", "1")})
	assert.ErrorIs(t, err, ErrNoSupportTransaction)
}

func TestExtractAllRejectsForbiddenVerbs(t *testing.T) {
	for _, verb := range []string{"info", "config", "shutdown", "slaveof"} {
		_, err := ExtractAll([]Command{cmd("GET", "a"), cmd(verb, "x")})
		assert.ErrorIs(t, err, ErrInvalidClusterCommand, verb)
	}
}

func TestExtractAllSkipsShortCommands(t *testing.T) {
	keys, err := ExtractAll([]Command{cmd("PING"), cmd("GET", "a")})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a")}, keys)
}

func TestExtractAllCoherentKeys(t *testing.T) {
	keys, err := ExtractAll([]Command{cmd("SET", "{user42}.name", "x"), cmd("SET", "{user42}.age", "7")})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, SlotOfBytes(keys[0]), SlotOfBytes(keys[1]))
}
