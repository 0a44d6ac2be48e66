package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache[string, int](nil)

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache[string, string](nil)

	c.Set("short", "lived", 10*time.Millisecond)
	_, ok := c.Get("short")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("short")
	assert.False(t, ok)

	// Zero TTL never expires
	c.Set("forever", "value", 0)
	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("forever")
	assert.True(t, ok)
}

func TestMemoryCacheDeleteAndClear(t *testing.T) {
	c := NewMemoryCache[string, int](nil)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestWithTTLAppliesDefault(t *testing.T) {
	c := WithTTL(NewMemoryCache[string, int](nil), 10*time.Millisecond)

	c.Set("a", 1, 0)
	_, ok := c.Get("a")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok)

	// An explicit TTL overrides the default
	c.Set("b", 2, time.Minute)
	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("b")
	assert.True(t, ok)
}
