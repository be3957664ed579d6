package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riffstore/pkg/models"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()

	c.Set("a", 1, c.Generation())
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Invalidate()
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache(10 * time.Millisecond)
	defer c.Close()

	c.Set("a", 1, c.Generation())
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestMemoryCacheDropsStaleGeneration(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()

	gen := c.Generation()
	c.Invalidate()
	c.Set("a", 1, gen)

	_, ok := c.Get("a")
	assert.False(t, ok, "value computed before invalidation must not be served")

	c.Set("a", 2, c.Generation())
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestMemoryCacheZeroTTLDisables(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()

	c.Set("a", 1, c.Generation())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestStatsCacheReturnsCopies(t *testing.T) {
	sc := NewStatsCache(time.Minute)
	defer sc.Close()

	sc.SetStatistics(sc.Generation(), &models.Statistics{
		TotalDownloads:    2,
		DownloadsBySource: map[string]int64{"youtube": 2},
	})

	first, ok := sc.GetStatistics()
	require.True(t, ok)
	first.DownloadsBySource["youtube"] = 99
	first.TotalDownloads = 99

	second, ok := sc.GetStatistics()
	require.True(t, ok)
	assert.Equal(t, int64(2), second.TotalDownloads)
	assert.Equal(t, int64(2), second.DownloadsBySource["youtube"])
}
