package cache

import (
	"container/list"
	"sync"
)

// BytesPerSample is the in-memory width of one decoded float32 sample
const BytesPerSample = 4

// Cost returns the memory footprint charged against the budget for samples
func Cost(samples []float32) int64 {
	return int64(len(samples)) * BytesPerSample
}

// SampleCache is a least-recently-used cache of decoded sample sequences
// bounded by total byte cost rather than entry count.
type SampleCache struct {
	budget int64
	used   int64
	order  *list.List // front is most recently used
	items  map[string]*list.Element

	hits       uint64
	misses     uint64
	evictions  uint64
	rejections uint64
	onEvict    func(key string, cost int64)

	mu sync.Mutex
}

type entry struct {
	key     string
	samples []float32
	cost    int64
}

// Stats is a point-in-time snapshot of cache counters
type Stats struct {
	Entries     int    `json:"entries"`
	Bytes       int64  `json:"bytes"`
	BudgetBytes int64  `json:"budget_bytes"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Rejections  uint64 `json:"rejections"`
}

// New creates a cache holding at most budget bytes of samples.
// A non-positive budget disables caching: every Put is rejected.
func New(budget int64) *SampleCache {
	return &SampleCache{
		budget: budget,
		order:  list.New(),
		items:  make(map[string]*list.Element),
	}
}

// OnEvict registers a callback invoked, under the cache lock, for every
// entry evicted to make room. It must not call back into the cache.
func (c *SampleCache) OnEvict(fn func(key string, cost int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get returns the cached samples for key and marks the entry as recently used.
// The returned slice is shared with the cache and must not be modified.
func (c *SampleCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return elem.Value.(*entry).samples, true
}

// Put inserts or replaces the samples for key and evicts least recently used
// entries until the budget holds. An entry whose own cost exceeds the budget
// is rejected; any previous entry for key is removed in that case so a stale
// sequence is never served. Put reports whether the entry was stored.
func (c *SampleCache) Put(key string, samples []float32) bool {
	cost := Cost(samples)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	if cost > c.budget {
		c.rejections++
		return false
	}

	for c.used+cost > c.budget {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		e := oldest.Value.(*entry)
		c.removeElement(oldest)
		c.evictions++
		if c.onEvict != nil {
			c.onEvict(e.key, e.cost)
		}
	}

	c.items[key] = c.order.PushFront(&entry{key: key, samples: samples, cost: cost})
	c.used += cost
	return true
}

// Invalidate removes the entry for key, if present
func (c *SampleCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Len returns the number of cached entries
func (c *SampleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Bytes returns the combined cost of all cached entries
func (c *SampleCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Stats returns current cache counters
func (c *SampleCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:     len(c.items),
		Bytes:       c.used,
		BudgetBytes: c.budget,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Rejections:  c.rejections,
	}
}

func (c *SampleCache) removeElement(elem *list.Element) {
	e := c.order.Remove(elem).(*entry)
	delete(c.items, e.key)
	c.used -= e.cost
}
