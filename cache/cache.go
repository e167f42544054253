// Package cache implements the shared response cache: the hard core of
// the caching proxy. It composes a Robin Hood hash index (package
// index), a circular recency list (package list), and an Entry type
// behind a reader/writer Access Coordinator that admits concurrent
// readers, serializes writers, and keeps an entry's bytes alive for as
// long as any ReadHandle still refers to it — even after the entry has
// been evicted.
package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ashgrove/cacheproxy/index"
	"github.com/ashgrove/cacheproxy/list"
	"github.com/ashgrove/cacheproxy/shared"
)

// InsertResult reports the outcome of Insert. None of these values is an
// error in the Go sense: TooLarge and AlreadyPresent are ordinary,
// expected outcomes the caller acts on directly.
type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyPresent
	TooLarge
	OutOfMemory
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "Inserted"
	case AlreadyPresent:
		return "AlreadyPresent"
	case TooLarge:
		return "TooLarge"
	case OutOfMemory:
		return "OutOfMemory"
	default:
		return "InsertResult(?)"
	}
}

// ErrHandleOutstanding is wrapped by the error Close panics with if any
// ReadHandle has not yet been released. This is a programmer error, not a
// runtime-recoverable condition.
var ErrHandleOutstanding = errors.New("cache: close called with outstanding read handles")

// Cache is the cache core: it enforces the size budget over live entries
// and exposes find/insert/delete plus read-handles that keep an entry's
// bytes valid past a structural unlink.
type Cache struct {
	maxSize   int
	bytesUsed int

	idx  *index.Index[*entry]
	lst  *list.List[*entry]
	free []*entry // recycled, fully-drained entries ready for reuse

	listMu sync.Mutex // guards lst and free; never held across coord admission

	coord *coordinator

	closed      bool
	outstanding int64 // atomic count of live ReadHandles, for Close's safety check

	stats Stats
}

// Stats are plain counters updated with atomic adds (see Cache.Stats);
// they are observational only and never gate cache behavior.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// New constructs a Cache with the given byte budget. The index starts at
// its minimum capacity and grows on demand.
func New(maxSize int) *Cache {
	return &Cache{
		maxSize: maxSize,
		idx:     index.New[*entry](shared.Minsize, shared.MaxCapacity),
		lst:     list.New[*entry](),
		coord:   newCoordinator(),
	}
}

// MaxSize returns the configured byte budget.
func (c *Cache) MaxSize() int { return c.maxSize }

// BytesUsed returns the sum of sizes of currently live entries. Safe to
// call concurrently: it takes read admission from the coordinator, so it
// waits behind any active or queued writer.
func (c *Cache) BytesUsed() int {
	c.coord.acquireRead()
	n := c.bytesUsed
	c.coord.releaseRead()
	return n
}

// Stats returns a snapshot of the hit/miss/eviction counters. The fields
// are updated with atomic adds rather than under the coordinator, since
// Find runs under concurrent *read* admission and must not serialize
// readers against each other just to bump a counter.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadInt64(&c.stats.Hits),
		Misses:    atomic.LoadInt64(&c.stats.Misses),
		Evictions: atomic.LoadInt64(&c.stats.Evictions),
	}
}

// ReadHandle is a scoped borrow of a cached value's bytes. The bytes
// remain valid until Release is called, even if the entry is evicted by
// a concurrent writer in the meantime.
type ReadHandle struct {
	c        *Cache
	e        *entry
	released int32
}

// Value returns the cached bytes. The slice must not be retained or
// mutated past Release.
func (h *ReadHandle) Value() []byte {
	return h.e.value
}

// Release ends the borrow. It is idempotent; calling it more than once
// is a no-op rather than a double-decrement.
func (h *ReadHandle) Release() {
	if !atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		return
	}
	if h.e.releaseReader() {
		h.c.recycle(h.e)
	}
	h.c.addOutstanding(-1)
}

// Find looks up key. On a hit it promotes the entry to MRU and returns a
// ReadHandle that keeps the entry's bytes valid until released; on a
// miss it returns false.
func (c *Cache) Find(key []byte) (*ReadHandle, bool) {
	c.coord.acquireRead()

	hash := shared.HashKey(key)
	e, ok := c.idx.Find(string(key), hash)
	if !ok {
		atomic.AddInt64(&c.stats.Misses, 1)
		c.coord.releaseRead()
		return nil, false
	}

	c.listMu.Lock()
	c.lst.MoveToFront(e.node)
	c.listMu.Unlock()

	e.addReader()
	c.addOutstanding(1)
	atomic.AddInt64(&c.stats.Hits, 1)
	c.coord.releaseRead()

	return &ReadHandle{c: c, e: e}, true
}

// Insert adds key/value to the cache. Duplicate keys are a no-op
// (first-write-wins): the existing entry, including its recency
// position, is left untouched.
func (c *Cache) Insert(key, value []byte) InsertResult {
	if len(value) > c.maxSize {
		return TooLarge
	}

	c.coord.acquireWrite()
	defer c.coord.releaseWrite()

	if c.closed {
		return OutOfMemory
	}

	hash := shared.HashKey(key)
	keyStr := string(key)

	if _, ok := c.idx.Find(keyStr, hash); ok {
		return AlreadyPresent
	}

	e := c.allocEntry(keyStr, value, hash)

	c.bytesUsed += e.size
	for c.bytesUsed > c.maxSize {
		victimID, ok := c.lst.Back()
		if !ok {
			break
		}
		// The entry we are inserting is not linked into the list yet
		// (see below), so it can never be its own eviction victim.
		c.evict(c.lst.Value(victimID))
	}

	c.listMu.Lock()
	node := c.lst.PushFront(e)
	c.listMu.Unlock()
	e.node = node

	if err := c.idx.Insert(keyStr, hash, e); err != nil {
		// Roll back the new entry: it never became reachable, so it can
		// be recycled without waiting on readers (there cannot be any).
		// Entries already evicted by the loop above to make room for it
		// stay evicted. The index insert fails only once the index has
		// reached shared.MaxCapacity.
		c.listMu.Lock()
		c.lst.Unlink(node)
		c.listMu.Unlock()
		c.bytesUsed -= e.size
		c.recycle(e)
		return OutOfMemory
	}

	return Inserted
}

// Delete removes key if present, unlinking it from both the index and
// the recency list; the entry is recycled once its reader count drains
// to zero.
func (c *Cache) Delete(key []byte) bool {
	c.coord.acquireWrite()
	defer c.coord.releaseWrite()

	if c.closed {
		return false
	}

	hash := shared.HashKey(key)
	e, ok := c.idx.Find(string(key), hash)
	if !ok {
		return false
	}

	c.idx.Delete(e.key, e.hash)
	c.listMu.Lock()
	c.lst.Unlink(e.node)
	c.listMu.Unlock()
	c.bytesUsed -= e.size

	if e.tombstone() {
		c.recycle(e)
	}
	return true
}

// evict unlinks e (already known to be the current LRU tail) from the
// index and list and tombstones it. Eviction never waits on readers: an
// entry with outstanding ReadHandles is unlinked immediately and
// recycled later, once the last handle releases.
func (c *Cache) evict(e *entry) {
	c.idx.Delete(e.key, e.hash)
	c.listMu.Lock()
	c.lst.Unlink(e.node)
	c.listMu.Unlock()
	c.bytesUsed -= e.size
	atomic.AddInt64(&c.stats.Evictions, 1)

	if e.tombstone() {
		c.recycle(e)
	}
}

// allocEntry takes an entry from the free list if one is available,
// otherwise allocates a fresh one. Key and value bytes are copied so the
// caller may reuse or free its originals immediately.
func (c *Cache) allocEntry(key string, value []byte, hash uint64) *entry {
	v := make([]byte, len(value))
	copy(v, value)

	c.listMu.Lock()
	defer c.listMu.Unlock()

	if n := len(c.free); n > 0 {
		e := c.free[n-1]
		c.free = c.free[:n-1]
		e.reset(key, v, hash)
		return e
	}
	e := &entry{}
	e.reset(key, v, hash)
	return e
}

// recycle returns a drained (tombstoned, reader count zero) entry to the
// free list so a later insert can reuse its allocation. Entries are
// recycled only after the last ReadHandle has released.
func (c *Cache) recycle(e *entry) {
	c.listMu.Lock()
	c.free = append(c.free, e)
	c.listMu.Unlock()
}

func (c *Cache) addOutstanding(delta int64) {
	atomic.AddInt64(&c.outstanding, delta)
}

// Close destroys all entries. It panics if any ReadHandle is still
// outstanding: this is a programmer error, never a runtime-recoverable
// condition.
func (c *Cache) Close() {
	c.coord.acquireWrite()
	defer c.coord.releaseWrite()

	if atomic.LoadInt64(&c.outstanding) != 0 {
		panic(fmt.Errorf("%w", ErrHandleOutstanding))
	}

	c.idx = index.New[*entry](shared.Minsize, shared.MaxCapacity)
	c.lst = list.New[*entry]()
	c.free = nil
	c.bytesUsed = 0
	c.closed = true
}
