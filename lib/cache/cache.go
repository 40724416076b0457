package cache

import (
	"sync"

	"github.com/acceldata-io/ozone-sub000/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// DataCache holds WriteChunk payloads by log index so the leader can serve replication
// catch-up without touching the disk. The cache is bounded by the sum of the payload
// sizes, the oldest index is evicted first when the budget is exceeded.
//
// Reads are lock-free. Writes and evictions take a small mutex that only guards the
// index ordering and the size accounting.
type DataCache struct {
	maxBytes int
	entries  *xsync.MapOf[uint64, []byte]

	mu    sync.Mutex
	order *util.IndexHeap
}

// NewDataCache creates a cache that holds at most maxBytes of payload.
func NewDataCache(maxBytes int) *DataCache {
	return &DataCache{
		maxBytes: maxBytes,
		entries:  xsync.NewMapOf[uint64, []byte](),
		order:    util.NewIndexHeap(),
	}
}

// Put stores the payload of index and returns the indices that had to be evicted to stay
// within the budget. A payload larger than the whole budget is not cached at all.
func (c *DataCache) Put(index uint64, data []byte) (evicted []uint64) {
	if len(data) > c.maxBytes {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Add(index, len(data))
	c.entries.Store(index, data)

	for c.order.TotalSize() > c.maxBytes {
		idx, _, ok := c.order.PopMin()
		if !ok {
			break
		}
		c.entries.Delete(idx)
		evicted = append(evicted, idx)
	}
	return evicted
}

// Get returns the payload cached for index.
//
// Thread-safety: This method is lock-free and can be called concurrently.
func (c *DataCache) Get(index uint64) ([]byte, bool) {
	return c.entries.Load(index)
}

// Evict drops every entry with an index <= upTo. It is called once entries are durably
// acknowledged by the followers or compacted out of the log.
func (c *DataCache) Evict(upTo uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for {
		idx, _, ok := c.order.Peek()
		if !ok || idx > upTo {
			return n
		}
		c.order.PopMin()
		c.entries.Delete(idx)
		n++
	}
}

// Truncate drops every entry with an index >= from. It is called when the consensus
// layer removes a conflicting suffix of the log.
func (c *DataCache) Truncate(from uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.order.Indices(func(idx uint64) bool { return idx >= from })
	for _, idx := range removed {
		c.order.Remove(idx)
		c.entries.Delete(idx)
	}
	return len(removed)
}

// Clear drops all entries, e.g. after leadership was lost.
func (c *DataCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Clear()
	c.order = util.NewIndexHeap()
}

// SizeBytes returns the sum of the cached payload sizes.
func (c *DataCache) SizeBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.TotalSize()
}

// Len returns the number of cached entries.
func (c *DataCache) Len() int {
	return c.entries.Size()
}

// MaxBytes returns the configured budget.
func (c *DataCache) MaxBytes() int {
	return c.maxBytes
}
