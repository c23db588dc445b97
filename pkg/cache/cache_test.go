package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetAndExpire(t *testing.T) {
	c := New(10, 0)
	defer c.Close()
	key := KeyFromStrings("unit", "expire")

	_, ok := c.Get(key)
	assert.False(t, ok, "expected no value initially")

	c.SetTTL(key, "hello", 50*time.Millisecond)
	v, ok := c.GetString(key)
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get(key)
	assert.False(t, ok, "expected expired value to be gone")
	assert.Equal(t, 0, c.Len())
}

func TestDefaultTTLAndJanitor(t *testing.T) {
	c := New(10, 30*time.Millisecond)
	defer c.Close()
	c.Set("k", 42)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestDelete(t *testing.T) {
	c := New(0, 0)
	c.Set("k", 42)
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	// touch a so b becomes the eviction candidate
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestGetStringWrongType(t *testing.T) {
	c := New(0, 0)
	c.Set("n", 7)
	_, ok := c.GetString("n")
	assert.False(t, ok)
}

func TestNilCache(t *testing.T) {
	var c *Cache
	c.Set("k", 1)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	c.Close()
}

func TestKeyFromStringsStability(t *testing.T) {
	assert.Equal(t, KeyFromStrings("a", "b", "c"), KeyFromStrings("a", "b", "c"))
	assert.NotEqual(t, KeyFromStrings("a", "b", "c"), KeyFromStrings("a", "b", "d"))
	assert.NotEqual(t, KeyFromStrings("ab", "c"), KeyFromStrings("a", "bc"))
}
