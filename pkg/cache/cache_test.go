package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissesAfterTTL(t *testing.T) {
	c := NewCache(time.Hour)
	c.Set("k", "v", 10*time.Millisecond)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	time.Sleep(20 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestInvalidateByPrefix(t *testing.T) {
	c := NewCache(time.Hour)
	c.Set("rooms:list", 1, 0)
	c.Set("rooms:r1", 2, 0)
	c.Set("peers:p1", 3, 0)

	c.Invalidate("rooms:")

	_, ok := c.Get("rooms:list")
	assert.False(t, ok)
	_, ok = c.Get("peers:p1")
	assert.True(t, ok)
}

func TestGetOrSetCachesLoaderResult(t *testing.T) {
	c := NewCacheWithFallback(time.Hour)
	calls := 0
	loader := func(context.Context) (interface{}, error) {
		calls++
		return "snapshot", nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.GetOrSet(context.Background(), "k", loader, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, "snapshot", got)
	}
	assert.Equal(t, 1, calls)
}

func TestGetOrSetDoesNotCacheErrors(t *testing.T) {
	c := NewCacheWithFallback(time.Hour)
	boom := errors.New("registry down")
	calls := 0

	loader := func(context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return "ok", nil
	}

	_, err := c.GetOrSet(context.Background(), "k", loader, time.Hour)
	assert.ErrorIs(t, err, boom)

	got, err := c.GetOrSet(context.Background(), "k", loader, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}
