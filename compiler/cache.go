package compiler

import (
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of compiled rules kept in memory.
const DefaultCacheSize = 256

// DefaultTimeBucket is the width of the time slot folded into cache keys.
const DefaultTimeBucket = 10 * time.Second

// resultCache memoizes compiled rules keyed by format, options, content
// hash and time bucket. A key holds at most one entry.
type resultCache struct {
	entries *lru.Cache[string, CompiledRule]
	hits    atomic.Uint64
	misses  atomic.Uint64
	purges  atomic.Uint64
}

func newResultCache(size int) (*resultCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, CompiledRule](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile cache: %w", err)
	}
	return &resultCache{entries: entries}, nil
}

func cacheKey(format Format, opts Options, contentHash string, bucket int64) string {
	return fmt.Sprintf("%s|%s|%s|%d", format, opts.key(), contentHash, bucket)
}

func (c *resultCache) get(key string) (CompiledRule, bool) {
	rule, ok := c.entries.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return rule, ok
}

func (c *resultCache) add(key string, rule CompiledRule) {
	c.entries.Add(key, rule)
}

func (c *resultCache) purge() {
	c.entries.Purge()
	c.purges.Add(1)
}

// CacheStats reports compile cache counters.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Purges  uint64 `json:"purges"`
}

func (c *resultCache) stats() CacheStats {
	return CacheStats{
		Entries: c.entries.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Purges:  c.purges.Load(),
	}
}
