package vision

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingOCR struct {
	calls  int
	result *OCRResult
	err    error
}

func (c *countingOCR) Analyze(context.Context, *Frame) (*OCRResult, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func TestOCRCacheHitSkipsProvider(t *testing.T) {
	inner := &countingOCR{result: &OCRResult{Words: []OCRWord{{Text: "hello"}}}}
	cached := NewCachedOCR(inner, NewOCRCache(8, time.Minute))
	frame := &Frame{Hash: "abc"}

	first, err := cached.Analyze(context.Background(), frame)
	require.NoError(t, err)
	second, err := cached.Analyze(context.Background(), frame)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)
}

func TestOCRCacheMissOnDifferentContent(t *testing.T) {
	inner := &countingOCR{result: &OCRResult{}}
	cached := NewCachedOCR(inner, NewOCRCache(8, time.Minute))

	_, _ = cached.Analyze(context.Background(), &Frame{Hash: "a"})
	_, _ = cached.Analyze(context.Background(), &Frame{Hash: "b"})
	assert.Equal(t, 2, inner.calls)
}

func TestOCRCacheDoesNotCacheErrors(t *testing.T) {
	inner := &countingOCR{err: errors.New("down")}
	cached := NewCachedOCR(inner, NewOCRCache(8, time.Minute))
	frame := &Frame{Hash: "x"}

	_, err := cached.Analyze(context.Background(), frame)
	require.Error(t, err)

	inner.err = nil
	inner.result = &OCRResult{}
	_, err = cached.Analyze(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestOCRCacheEvictsOldestAtCapacity(t *testing.T) {
	cache := NewOCRCache(3, time.Minute)
	for i := 0; i < 4; i++ {
		cache.Put(fmt.Sprintf("h%d", i), &OCRResult{})
	}
	assert.Equal(t, 3, cache.Len())
	assert.Nil(t, cache.Get("h0"))
	assert.NotNil(t, cache.Get("h3"))
}

func TestOCRCacheExpiresByTTL(t *testing.T) {
	cache := NewOCRCache(8, 10*time.Millisecond)
	cache.Put("h", &OCRResult{})
	require.NotNil(t, cache.Get("h"))
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, cache.Get("h"))
}

func TestOCRCacheReAddAfterExpiryKeepsEvictionOrder(t *testing.T) {
	cache := NewOCRCache(2, 30*time.Millisecond)
	cache.Put("a", &OCRResult{})
	time.Sleep(60 * time.Millisecond)
	require.Nil(t, cache.Get("a")) // lazily expired

	// Re-adding the expired key must not leave a stale eviction slot:
	// with b older than the fresh a, capacity pressure evicts b.
	cache.Put("b", &OCRResult{})
	cache.Put("a", &OCRResult{})
	cache.Put("c", &OCRResult{})

	assert.Equal(t, 2, cache.Len())
	assert.NotNil(t, cache.Get("a"))
	assert.NotNil(t, cache.Get("c"))
	assert.Nil(t, cache.Get("b"))
}
