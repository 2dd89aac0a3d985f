package apicall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpieflow/magpie/internal/workflow"
)

func cachedResult(data any) *workflow.StepResult {
	return &workflow.StepResult{
		Success: true,
		Output:  callOutput(data, 200, map[string]any{"Content-Type": "application/json"}, "success", ""),
	}
}

func TestResponseCache_RoundTrip(t *testing.T) {
	t.Parallel()

	rc := newResponseCache()
	key := cacheKey("GET", "https://api.example.test/v1?x=1", nil, "")

	_, ok := rc.get(key)
	assert.False(t, ok)

	rc.set(key, cachedResult("payload"), time.Minute)
	got, ok := rc.get(key)
	require.True(t, ok)
	assert.True(t, got.Success)
	assert.Equal(t, "payload", got.Output["data"])
	assert.Equal(t, 1, rc.len())
}

func TestResponseCache_Expiry(t *testing.T) {
	t.Parallel()

	rc := newResponseCache()
	key := cacheKey("GET", "https://api.example.test", nil, "")
	rc.set(key, cachedResult(nil), time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	_, ok := rc.get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, rc.len(), "expired entry evicted on access")
}

func TestResponseCache_NonPositiveTTLNotStored(t *testing.T) {
	t.Parallel()

	rc := newResponseCache()
	key := cacheKey("GET", "https://api.example.test", nil, "")
	rc.set(key, cachedResult(nil), 0)
	assert.Equal(t, 0, rc.len())
}

func TestResponseCache_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	rc := newResponseCache()
	key := cacheKey("GET", "https://api.example.test", nil, "")
	rc.set(key, cachedResult("original"), time.Minute)

	first, ok := rc.get(key)
	require.True(t, ok)
	first.Output["data"] = "tampered"

	second, ok := rc.get(key)
	require.True(t, ok)
	assert.Equal(t, "original", second.Output["data"])
}

func TestResponseCache_SetDoesNotAliasCaller(t *testing.T) {
	t.Parallel()

	rc := newResponseCache()
	key := cacheKey("GET", "https://api.example.test", nil, "")
	res := cachedResult("original")
	rc.set(key, res, time.Minute)

	res.Output["data"] = "mutated after store"

	got, ok := rc.get(key)
	require.True(t, ok)
	assert.Equal(t, "original", got.Output["data"])
}

func TestCacheKey_Distinctness(t *testing.T) {
	t.Parallel()

	base := cacheKey("GET", "https://api.example.test/v1?a=1", nil, "")

	assert.Equal(t, base, cacheKey("GET", "https://api.example.test/v1?a=1", nil, ""))
	assert.NotEqual(t, base, cacheKey("POST", "https://api.example.test/v1?a=1", nil, ""))
	assert.NotEqual(t, base, cacheKey("GET", "https://api.example.test/v1?a=2", nil, ""))
	assert.NotEqual(t, base, cacheKey("GET", "https://api.example.test/v1?a=1", []byte(`{"b":2}`), ""))
	assert.NotEqual(t, base, cacheKey("GET", "https://api.example.test/v1?a=1", nil, "jwt:tok"))
}

func TestCacheKey_FieldBoundaries(t *testing.T) {
	t.Parallel()

	// The separator prevents adjacent fields from bleeding into each other.
	a := cacheKey("GET", "https://x/ab", nil, "")
	b := cacheKey("GETh", "ttps://x/ab", nil, "")
	assert.NotEqual(t, a, b)
}
