package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheMarksAndExpires(t *testing.T) {
	c := New(10, 50*time.Millisecond)
	key := Key("read", 7, 2)

	assert.False(t, c.Seen(key))
	c.Mark(key)
	assert.True(t, c.Seen(key))

	assert.Eventually(t, func() bool { return !c.Seen(key) }, time.Second, 10*time.Millisecond)
}

func TestCacheIsBounded(t *testing.T) {
	c := New(2, time.Minute)
	c.Mark("a")
	c.Mark("b")
	c.Mark("c")

	assert.False(t, c.Seen("a"))
	assert.True(t, c.Seen("b"))
	assert.True(t, c.Seen("c"))
}

func TestDisabledCacheNeverHits(t *testing.T) {
	c := New(0, time.Minute)
	c.Mark("a")
	assert.False(t, c.Seen("a"))

	var nilCache *Cache
	nilCache.Mark("a")
	assert.False(t, nilCache.Seen("a"))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "delivered:1:2", Key("delivered", 1, 2))
}
