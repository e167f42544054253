// Package index implements the cache's hash index: an open-addressed
// Robin Hood hash table keyed by opaque byte strings (carried as Go
// strings, so a key is copied once and never mutated underneath the
// index).
//
// The collision strategy is classic Robin Hood hashing (probe-sequence-
// length tracking, "takes from the rich, gives to the poor" displacement,
// backward-shift deletion) adapted in two ways: a
// real modulus replaces the power-of-two bitmask so capacity can shrink
// to arbitrary sizes, and both upsize and downsize triggers are driven by
// explicit load-factor thresholds instead of a single doubling rule.
package index

import (
	"errors"

	"github.com/ashgrove/cacheproxy/shared"
)

// ErrOutOfMemory is returned by Insert when the table needs to grow but is
// already at the configured capacity ceiling.
var ErrOutOfMemory = errors.New("index: out of memory")

const emptyPSL = -1

type bin[V any] struct {
	key   string
	hash  uint64
	psl   int32
	value V
}

// Index is a Robin Hood open-addressed hash table from string keys to
// values of type V. It is not safe for concurrent use; callers (the
// cache core) are expected to serialize access under their own admission
// control.
type Index[V any] struct {
	bins    []bin[V]
	length  int
	minsize int
	maxCap  int
}

// New creates an Index starting at the given minimum capacity (clamped
// to at least shared.Minsize) with the given ceiling on capacity.
func New[V any](minsize, maxCapacity int) *Index[V] {
	if minsize < shared.Minsize {
		minsize = shared.Minsize
	}
	return &Index[V]{
		bins:    newBins[V](minsize),
		minsize: minsize,
		maxCap:  maxCapacity,
	}
}

func newBins[V any](n int) []bin[V] {
	bins := make([]bin[V], n)
	for i := range bins {
		bins[i].psl = emptyPSL
	}
	return bins
}

// Len returns the number of live entries.
func (ix *Index[V]) Len() int { return ix.length }

// Cap returns the current bin array capacity.
func (ix *Index[V]) Cap() int { return len(ix.bins) }

func (ix *Index[V]) loadFactor() float32 {
	return float32(ix.length) / float32(len(ix.bins))
}

// Find looks up key by its precomputed hash. The Robin Hood early-exit
// applies: probing stops as soon as the current probe distance exceeds
// the stored psl of the occupied bin, since no equal-or-longer psl key
// can occur further along the probe sequence.
func (ix *Index[V]) Find(key string, hash uint64) (V, bool) {
	capacity := len(ix.bins)
	idx := int(hash % uint64(capacity))
	for psl := int32(0); psl <= ix.bins[idx].psl; psl++ {
		b := &ix.bins[idx]
		if b.hash == hash && b.key == key {
			return b.value, true
		}
		idx = (idx + 1) % capacity
	}
	var zero V
	return zero, false
}

// Insert places key/value into the table, displacing richer incumbents
// along the way. An existing key's value is overwritten in place; the
// cache core only calls Insert after confirming the key is absent, so
// this overwrite path is exercised only by lower-level tests of Index
// itself.
func (ix *Index[V]) Insert(key string, hash uint64, value V) error {
	capacity := len(ix.bins)
	idx := int(hash % uint64(capacity))
	for psl := int32(0); psl <= ix.bins[idx].psl; psl++ {
		b := &ix.bins[idx]
		if b.hash == hash && b.key == key {
			b.value = value
			return nil
		}
		idx = (idx + 1) % capacity
	}

	if err := ix.maybeUpsize(); err != nil {
		return err
	}

	ix.length++
	cur := bin[V]{key: key, hash: hash, psl: 0, value: value}
	ix.emplace(cur, int(hash%uint64(len(ix.bins))))
	return nil
}

// emplace walks forward from idx applying the Robin Hood creed until an
// empty bin is found.
func (ix *Index[V]) emplace(cur bin[V], idx int) {
	capacity := len(ix.bins)
	for {
		b := &ix.bins[idx]
		if b.psl == emptyPSL {
			*b = cur
			return
		}
		if cur.psl > b.psl {
			cur, *b = *b, cur
		}
		cur.psl++
		idx = (idx + 1) % capacity
	}
}

// Delete removes key if present and applies backward-shift deletion to
// the following run of displaced bins.
func (ix *Index[V]) Delete(key string, hash uint64) (V, bool) {
	capacity := len(ix.bins)
	idx := int(hash % uint64(capacity))
	found := -1
	for psl := int32(0); psl <= ix.bins[idx].psl; psl++ {
		if ix.bins[idx].hash == hash && ix.bins[idx].key == key {
			found = idx
			break
		}
		idx = (idx + 1) % capacity
	}

	var zero V
	if found < 0 {
		return zero, false
	}

	val := ix.bins[found].value
	ix.length--
	ix.bins[found].psl = emptyPSL

	cur := found
	next := (found + 1) % capacity
	for ix.bins[next].psl > 0 {
		ix.bins[next].psl--
		ix.bins[cur], ix.bins[next] = ix.bins[next], ix.bins[cur]
		cur = next
		next = (next + 1) % capacity
	}

	ix.maybeDownsize()
	return val, true
}

// maybeUpsize grows the table before an insert would push the load
// factor past shared.UpsizeLoadFactor. New capacity is capped by
// shared.GrowthStep and by the configured ceiling.
func (ix *Index[V]) maybeUpsize() error {
	capacity := len(ix.bins)
	threshold := int(float32(capacity) * shared.UpsizeLoadFactor)
	if ix.length+1 <= threshold {
		return nil
	}

	newCap := capacity * 2
	if stepped := capacity + shared.GrowthStep; stepped < newCap {
		newCap = stepped
	}
	if newCap > ix.maxCap {
		if capacity >= ix.maxCap {
			return ErrOutOfMemory
		}
		newCap = ix.maxCap
	}
	return ix.resize(newCap)
}

// maybeDownsize shrinks the table once a delete has left the load factor
// below shared.DownsizeLoadFactor, as long as length still exceeds
// minsize. No hysteresis band is applied here — see
// shared.DownsizeLoadFactor's doc comment for why.
func (ix *Index[V]) maybeDownsize() {
	capacity := len(ix.bins)
	if capacity <= ix.minsize || ix.length <= ix.minsize {
		return
	}
	if ix.loadFactor() >= shared.DownsizeLoadFactor {
		return
	}

	newCap := capacity / 2
	if newCap < ix.minsize {
		newCap = ix.minsize
	}
	if newCap == capacity {
		return
	}
	_ = ix.resize(newCap)
}

// resize rebuilds the table at the new capacity, re-probing every live
// bin from scratch: psl values are regenerated, never copied, because
// the modulus changes.
func (ix *Index[V]) resize(newCap int) error {
	if newCap < ix.minsize {
		newCap = ix.minsize
	}
	old := ix.bins
	ix.bins = newBins[V](newCap)

	for i := range old {
		if old[i].psl == emptyPSL {
			continue
		}
		idx := int(old[i].hash % uint64(newCap))
		old[i].psl = 0
		ix.emplace(old[i], idx)
	}
	return nil
}

// Each calls fn for every live key/value pair in unspecified order. If fn
// returns true, iteration stops early.
func (ix *Index[V]) Each(fn func(key string, hash uint64, value V) bool) {
	for i := range ix.bins {
		if ix.bins[i].psl == emptyPSL {
			continue
		}
		if fn(ix.bins[i].key, ix.bins[i].hash, ix.bins[i].value) {
			return
		}
	}
}
