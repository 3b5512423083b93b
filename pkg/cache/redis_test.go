package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := NewRedisClient(mr.Addr(), "", 0, 5, 0)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestJSONRoundTripAndMiss(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	type page struct {
		IDs []string `json:"ids"`
	}

	var out page
	err := client.GetJSON(ctx, "feed:missing", &out)
	assert.True(t, IsMiss(err))

	require.NoError(t, client.SetJSON(ctx, "feed:1", page{IDs: []string{"a", "b"}}, time.Minute))
	require.NoError(t, client.GetJSON(ctx, "feed:1", &out))
	assert.Equal(t, []string{"a", "b"}, out.IDs)
}

func TestGetIntDefaultsToZero(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	n, err := client.GetInt(ctx, "ver:content")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = client.Incr(ctx, "ver:content")
	require.NoError(t, err)
	n, err = client.GetInt(ctx, "ver:content")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIncrWindowExpires(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		cnt, err := client.IncrWindow(ctx, "rl:login:ip:1.2.3.4", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(i), cnt)
	}
	assert.Equal(t, time.Minute, mr.TTL("rl:login:ip:1.2.3.4"))

	mr.FastForward(2 * time.Minute)
	cnt, err := client.IncrWindow(ctx, "rl:login:ip:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cnt)
}
