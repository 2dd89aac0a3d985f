package apicall

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/magpieflow/magpie/internal/workflow"
)

// responseCache is a TTL cache over successful call results. Expired
// entries are evicted lazily on access; failures are never stored.
type responseCache struct {
	mu      sync.Mutex
	entries map[uint64]cacheEntry
}

type cacheEntry struct {
	result  workflow.StepResult
	expires time.Time
}

func newResponseCache() *responseCache {
	return &responseCache{entries: make(map[uint64]cacheEntry)}
}

// get returns a stored result and whether it was found and still fresh.
func (rc *responseCache) get(key uint64) (*workflow.StepResult, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	e, ok := rc.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(rc.entries, key)
		return nil, false
	}
	res := e.result
	res.Output = copyOutput(e.result.Output)
	return &res, true
}

// set stores a result for ttl. Non-positive TTLs disable storage so a
// misconfigured step never caches forever or negatively.
func (rc *responseCache) set(key uint64, res *workflow.StepResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()

	stored := *res
	stored.Output = copyOutput(res.Output)
	rc.entries[key] = cacheEntry{result: stored, expires: time.Now().Add(ttl)}
}

// len reports the live entry count, for tests.
func (rc *responseCache) len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}

// copyOutput shallow-copies the output map so a cache hit and its caller
// never alias the same top-level map. Nested values are shared and treated
// as read-only.
func copyOutput(out map[string]any) map[string]any {
	cp := make(map[string]any, len(out))
	for k, v := range out {
		cp[k] = v
	}
	return cp
}

// cacheKey hashes the canonical request identity: method, full URL with the
// sorted query string, body bytes, and auth principal. A zero byte
// separates fields so concatenation cannot collide across boundaries.
func cacheKey(method, fullURL string, body []byte, principal string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(method)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(fullURL)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(body)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(principal)
	return d.Sum64()
}
