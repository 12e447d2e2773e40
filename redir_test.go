package redixcluster

import (
	"io"
	"testing"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRedirectMoved(t *testing.T) {
	err := redis.Error("MOVED 1234 10.0.0.2:6380")
	redir, ok := ParseRedirect(err)
	require.True(t, ok)
	assert.Equal(t, RedirMoved, redir.Type)
	assert.Equal(t, Slot(1234), redir.Slot)
	assert.Equal(t, "10.0.0.2:6380", redir.Addr())
}

func TestParseRedirectAsk(t *testing.T) {
	err := redis.Error("ASK 1234 10.0.0.9:6390")
	redir, ok := ParseRedirect(err)
	require.True(t, ok)
	assert.Equal(t, RedirAsk, redir.Type)
	assert.Equal(t, "10.0.0.9", redir.Host)
	assert.Equal(t, 6390, redir.Port)
}

func TestParseRedirectRejectsOtherErrors(t *testing.T) {
	_, ok := ParseRedirect(redis.Error("WRONGTYPE Operation against a key"))
	assert.False(t, ok)

	_, ok = ParseRedirect(io.EOF)
	assert.False(t, ok)
}

func TestIsClusterDownErrors(t *testing.T) {
	err := error(redis.Error("CLUSTERDOWN The cluster is down"))
	assert.True(t, IsClusterDown(err))
	assert.False(t, IsCrossSlot(err))
	assert.False(t, IsTryAgain(err))
}

func TestIsCrossSlotAndTryAgain(t *testing.T) {
	err := error(redis.Error("CROSSSLOT Keys in request don't hash to the same slot"))
	assert.True(t, IsCrossSlot(err))
	assert.False(t, IsTryAgain(err))

	err = redis.Error("TRYAGAIN some message")
	assert.False(t, IsCrossSlot(err))
	assert.True(t, IsTryAgain(err))

	err = io.EOF
	assert.False(t, IsCrossSlot(err))
	assert.False(t, IsTryAgain(err))

	err = redis.Error("ERR some error")
	assert.False(t, IsCrossSlot(err))
	assert.False(t, IsTryAgain(err))
}
