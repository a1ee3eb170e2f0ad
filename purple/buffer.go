// ABOUTME: Candidate ("purple") buffer holding suspect objects while they age
// ABOUTME: Small direct-mapped cache in front of an overflow map, with generations

// Package purple implements the collector's candidate buffer. Suspect and
// Forget hit it on every refcount decrement, so membership changes go to a
// small set-associative cache first and only spill into a map when the set
// for a reference is full.
package purple

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/prateek/cyclecollector/graph"
)

const (
	// DefaultSets is the number of cache sets used by NewDefault
	DefaultSets = 64
	// DefaultWays is the associativity used by NewDefault
	DefaultWays = 4
)

// Entry is a buffered candidate and the generation it was inserted at
type Entry struct {
	Ref        graph.ObjRef
	Generation uint32
}

type slot struct {
	entry Entry
	used  bool
}

// Buffer is the candidate buffer. It is not safe for concurrent use.
type Buffer struct {
	sets       int
	ways       int
	cache      []slot
	cached     int
	overflow   map[graph.ObjRef]uint32
	generation uint32
}

// New creates a buffer with a sets x ways cache. Non-positive sizes
// disable the cache, leaving a plain map.
func New(sets, ways int) *Buffer {
	if sets <= 0 || ways <= 0 {
		sets, ways = 0, 0
	}
	return &Buffer{
		sets:     sets,
		ways:     ways,
		cache:    make([]slot, sets*ways),
		overflow: make(map[graph.ObjRef]uint32),
	}
}

// NewDefault creates a buffer with the default cache geometry
func NewDefault() *Buffer {
	return New(DefaultSets, DefaultWays)
}

// setFor returns the cache slots that ref may occupy
func (b *Buffer) setFor(ref graph.ObjRef) []slot {
	if b.sets == 0 {
		return nil
	}
	var key [9]byte
	key[0] = byte(ref.Tag)
	binary.LittleEndian.PutUint64(key[1:], uint64(ref.ID))
	idx := int(xxhash.Sum64(key[:]) % uint64(b.sets))
	return b.cache[idx*b.ways : (idx+1)*b.ways]
}

// Generation returns the current generation counter
func (b *Buffer) Generation() uint32 {
	return b.generation
}

// Len returns the number of buffered candidates
func (b *Buffer) Len() int {
	return b.cached + len(b.overflow)
}

// Contains reports whether ref is buffered
func (b *Buffer) Contains(ref graph.ObjRef) bool {
	for _, s := range b.setFor(ref) {
		if s.used && s.entry.Ref == ref {
			return true
		}
	}
	_, ok := b.overflow[ref]
	return ok
}

// Put adds ref at the current generation. Adding a member again is a
// no-op and does not refresh its generation.
func (b *Buffer) Put(ref graph.ObjRef) {
	set := b.setFor(ref)
	free := -1
	for i := range set {
		if !set[i].used {
			if free < 0 {
				free = i
			}
			continue
		}
		if set[i].entry.Ref == ref {
			return
		}
	}
	if _, ok := b.overflow[ref]; ok {
		return
	}
	if free < 0 {
		b.overflow[ref] = b.generation
		return
	}
	set[free] = slot{entry: Entry{Ref: ref, Generation: b.generation}, used: true}
	b.cached++
}

// Remove drops ref from the buffer. Removing a non-member is a no-op.
func (b *Buffer) Remove(ref graph.ObjRef) {
	set := b.setFor(ref)
	for i := range set {
		if set[i].used && set[i].entry.Ref == ref {
			set[i] = slot{}
			b.cached--
			return
		}
	}
	delete(b.overflow, ref)
}

// SelectAged returns every candidate whose age is at least minAge.
// Nothing is removed.
func (b *Buffer) SelectAged(minAge uint32) []graph.ObjRef {
	var out []graph.ObjRef
	for i := range b.cache {
		s := &b.cache[i]
		if s.used && b.generation-s.entry.Generation >= minAge {
			out = append(out, s.entry.Ref)
		}
	}
	for ref, gen := range b.overflow {
		if b.generation-gen >= minAge {
			out = append(out, ref)
		}
	}
	return out
}

// Entries returns a copy of every buffered entry
func (b *Buffer) Entries() []Entry {
	out := make([]Entry, 0, b.Len())
	for i := range b.cache {
		if b.cache[i].used {
			out = append(out, b.cache[i].entry)
		}
	}
	for ref, gen := range b.overflow {
		out = append(out, Entry{Ref: ref, Generation: gen})
	}
	return out
}

// BumpGeneration flushes the cache into the overflow map and advances the
// generation. When the counter wraps, every stored generation is reset to
// zero so that no entry looks older than it is.
func (b *Buffer) BumpGeneration() {
	b.flush()
	if b.generation == math.MaxUint32 {
		b.generation = 0
		for ref := range b.overflow {
			b.overflow[ref] = 0
		}
		return
	}
	b.generation++
}

// Reset empties the buffer without touching the generation
func (b *Buffer) Reset() {
	clear(b.cache)
	b.cached = 0
	clear(b.overflow)
}

func (b *Buffer) flush() {
	if b.cached == 0 {
		return
	}
	for i := range b.cache {
		s := &b.cache[i]
		if s.used {
			b.overflow[s.entry.Ref] = s.entry.Generation
			*s = slot{}
		}
	}
	b.cached = 0
}
