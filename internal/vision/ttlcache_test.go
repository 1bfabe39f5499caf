package vision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheHitMissExpired(t *testing.T) {
	c := NewCache[State](20 * time.Millisecond)

	st, _ := c.GetWithMeta("k")
	assert.Equal(t, ReadMiss, st)

	c.Set("k", Hidden)
	st, v := c.GetWithMeta("k")
	assert.Equal(t, ReadHit, st)
	assert.Equal(t, Hidden, v)

	time.Sleep(30 * time.Millisecond)
	st, _ = c.GetWithMeta("k")
	assert.Equal(t, ReadExpired, st)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCacheSetRefreshes(t *testing.T) {
	c := NewCache[bool](20 * time.Millisecond)
	c.Set("k", true)
	time.Sleep(15 * time.Millisecond)
	c.Set("k", false)
	time.Sleep(10 * time.Millisecond)

	st, v := c.GetWithMeta("k")
	assert.Equal(t, ReadHit, st)
	assert.False(t, v)
}

func TestCachePruneRateLimited(t *testing.T) {
	c := NewCache[State](5 * time.Millisecond)
	c.Set("a", Hidden)
	c.Set("b", Concealed)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 2, c.PruneIfDue(time.Millisecond))
	assert.Equal(t, 0, c.Len())

	c.Set("c", Hidden)
	time.Sleep(10 * time.Millisecond)
	// within the rate-limit window nothing is pruned
	assert.Equal(t, 0, c.PruneIfDue(time.Hour))
	assert.Equal(t, 1, c.Len())
}

func TestCacheClear(t *testing.T) {
	c := NewCache[State](time.Minute)
	c.Set("a", Hidden)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	st, _ := c.GetWithMeta("a")
	assert.Equal(t, ReadMiss, st)
}

func TestReadStateString(t *testing.T) {
	assert.Equal(t, "hit", ReadHit.String())
	assert.Equal(t, "miss", ReadMiss.String())
	assert.Equal(t, "expired", ReadExpired.String())
}
