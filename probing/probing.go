// Package probing implements C4: a fixed-capacity, open-addressed hash
// table keyed by a 64-bit n-gram (or string) hash, linearly probed on
// collision. Capacity is decided once, up front, from an expected
// entry count and a load-factor multiplier; there is no resize, which
// keeps its memory layout mmap-friendly and matches the loader's
// "insertion assumed unique" contract.
package probing

import (
	"errors"

	"github.com/kho/kenlm/packed"
)

// ErrFull is returned by Insert when every slot the table could
// possibly probe is occupied, which should only happen if the table
// was sized from a wrong entry count.
var ErrFull = errors.New("probing: table is full")

// ErrReservedKey is returned for the one key (2^64-1) that cannot be
// stored because shifting it to distinguish it from the empty marker
// wraps around to zero. This affects at most one of 2^64 possible
// chain-hash keys; Insert returns this error for it, and the build
// package passes it on as a build failure.
var ErrReservedKey = errors.New("probing: key 2^64-1 collides with the empty-slot marker")

// Capacity returns the number of slots a table for n entries needs
// given a probing load-factor multiplier (> 1): ceil(n * multiplier).
func Capacity(n int, multiplier float32) int {
	if multiplier <= 1 {
		multiplier = 1.5
	}
	c := int(float64(n)*float64(multiplier) + 0.999999)
	if c <= n {
		c = n + 1
	}
	return c
}

// Size returns the number of bytes a probing table of the given
// capacity occupies for the given value codec.
func Size[V any](capacity int, codec packed.Codec[V]) int {
	return packed.Size(capacity, codec)
}

// shift maps a real key to its on-disk representation, reserving 0 to
// mean "empty slot" even though 0 is itself a legal hash value.
func shift(key uint64) uint64 { return key + 1 }

const emptyMarker = 0

// Table is a read view of a probing table backed by packed records.
// Find is the only operation available once a table is built; it never
// allocates and is safe to call concurrently from many goroutines
// since it only reads.
type Table[V any] struct {
	records packed.Table[V]
}

// View wraps an already-populated packed.Table (e.g. one obtained by
// memory-mapping a binary model file) as a probing Table.
func View[V any](records packed.Table[V]) Table[V] {
	return Table[V]{records: records}
}

// Find returns the value stored for key, and whether it was found.
func (t Table[V]) Find(key uint64) (V, bool) {
	n := t.records.Len()
	if n == 0 {
		var zero V
		return zero, false
	}
	want := shift(key)
	i := int(key % uint64(n))
	for {
		stored := t.records.Key(i)
		if stored == want {
			return t.records.Value(i), true
		}
		if stored == emptyMarker {
			var zero V
			return zero, false
		}
		i++
		if i == n {
			i = 0
		}
	}
}

// Len returns the table's capacity (including empty slots).
func (t Table[V]) Len() int { return t.records.Len() }

// Builder populates a fixed-capacity probing table in place, meant to
// be used only while constructing a model from an ARPA file or during
// ARPA-to-binary conversion. Every key must be inserted at most once;
// behavior is undefined (and will eventually manifest as probe loops
// returning the wrong record) if a duplicate key is inserted.
type Builder[V any] struct {
	records packed.Table[V]
	used    int
}

// NewBuilder allocates a probing table with room for capacity records,
// over buf (which must be exactly packed.Size(capacity, codec) bytes,
// typically a slice of a freshly created or mmap'd file region).
func NewBuilder[V any](buf []byte, codec packed.Codec[V]) *Builder[V] {
	t := packed.NewTable[V](buf, codec)
	for i := 0; i < t.Len(); i++ {
		t.SetKey(i, emptyMarker)
	}
	return &Builder[V]{records: t}
}

// Insert adds key -> value, assumed not already present. It returns
// ErrFull if the table has no empty slot left to probe into.
func (b *Builder[V]) Insert(key uint64, value V) error {
	if key == ^uint64(0) {
		return ErrReservedKey
	}
	n := b.records.Len()
	if n == 0 || b.used >= n {
		return ErrFull
	}
	want := shift(key)
	i := int(key % uint64(n))
	for probes := 0; probes < n; probes++ {
		stored := b.records.Key(i)
		if stored == emptyMarker {
			b.records.Set(i, want, value)
			b.used++
			return nil
		}
		i++
		if i == n {
			i = 0
		}
	}
	return ErrFull
}

// Table returns the (read-capable) view of the table built so far.
func (b *Builder[V]) Table() Table[V] { return Table[V]{records: b.records} }

// Bytes returns the raw backing slice, for writing to a binary file.
func (b *Builder[V]) Bytes() []byte { return b.records.Bytes() }

// Used returns the number of entries inserted so far.
func (b *Builder[V]) Used() int { return b.used }
