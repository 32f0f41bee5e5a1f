// Package sorted implements C5: a sorted array of n-gram keys searched
// by interpolation rather than binary search. Because chain-hash keys
// are close to uniformly distributed over the 64-bit space, the
// interpolation pivot lands close to the true position and the table
// is found in expected O(log log n) probes instead of O(log n).
package sorted

import (
	"math/bits"

	"github.com/kho/kenlm/packed"
)

// Table is a read view over records sorted ascending by key. Entries
// must have been written in ascending key order (see the build package's
// sortByKey); Find's result is undefined otherwise.
type Table[V any] struct {
	records packed.Table[V]
}

// View wraps an already key-sorted packed.Table as a sorted Table.
func View[V any](records packed.Table[V]) Table[V] {
	return Table[V]{records: records}
}

// Len returns the number of records.
func (t Table[V]) Len() int { return t.records.Len() }

// Find performs interpolation search for key, handling the degenerate
// spans a uniform-key assumption doesn't actually guarantee: an empty
// table, a key outside the stored range, and single-record spans.
func (t Table[V]) Find(key uint64) (V, bool) {
	var zero V
	n := t.records.Len()
	if n == 0 {
		return zero, false
	}
	left, right := 0, n-1
	for left <= right {
		kl, kr := t.records.Key(left), t.records.Key(right)
		if key <= kl {
			if key == kl {
				return t.records.Value(left), true
			}
			return zero, false
		}
		if key >= kr {
			if key == kr {
				return t.records.Value(right), true
			}
			return zero, false
		}
		// kl < key < kr and left < right, so kr > kl: no division by zero.
		pivot := interpolate(left, right, kl, kr, key)
		if pivot <= left {
			pivot = left + 1
		} else if pivot >= right {
			pivot = right - 1
		}
		pk := t.records.Key(pivot)
		switch {
		case pk > key:
			right = pivot - 1
		case pk < key:
			left = pivot + 1
		default:
			return t.records.Value(pivot), true
		}
	}
	return zero, false
}

// interpolate computes left + (key-kl)*(right-left)/(kr-kl) using a
// widened 128-bit intermediate product so that the multiply cannot
// overflow even though key, kl and kr span the full uint64 range.
func interpolate(left, right int, kl, kr, key uint64) int {
	off := key - kl
	denom := kr - kl
	span := uint64(right - left)
	hi, lo := bits.Mul64(off, span)
	if hi >= denom {
		// Should not happen for any real span/denom pair (span is an
		// array length, far smaller than a hash range), but fall back
		// to plain bisection rather than let bits.Div64 panic.
		return left + (right-left)/2
	}
	quo, _ := bits.Div64(hi, lo, denom)
	return left + int(quo)
}
