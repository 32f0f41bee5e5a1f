// Package hash provides the two stable 64-bit hashes the rest of the
// toolkit builds on: a string hash used for vocabulary lookups and a
// chain hash used to turn a sequence of word ids into a single n-gram
// table key. Both must be bit-for-bit identical between the ARPA loader
// and the scoring engine, and between compilers/platforms, since the
// resulting keys round-trip through a memory-mapped binary file.
package hash

import "github.com/cespare/xxhash/v2"

// WordIndex mirrors vocab.WordIndex without importing it, to keep this
// package dependency-free except for the hash library.
type WordIndex = uint32

// Chain hash constants, fixed odd 64-bit numbers: chainA is the
// golden-ratio constant (2^64*phi mod 2^64), chainB is xxhash's second
// 64-bit prime. They are arbitrary except for being odd and differing,
// so the multiply and xor steps mix in new word ids instead of
// cancelling old ones out.
const (
	chainA uint64 = 0x9E3779B97F4A7C15
	chainB uint64 = 0xC2B2AE3D27D4EB4F
)

// StringHash is the 64-bit stable hash of a vocabulary string. It is a
// pure function of the bytes: same input, same output, forever, on any
// platform, which is the only property vocabulary lookups need.
func StringHash(s []byte) uint64 {
	return xxhash.Sum64(s)
}

// ChainHash combines a sequence of word ids into a single n-gram key.
// ids[0] is the innermost element of the chain (conventionally the
// predicted word); ids[1:] extend the chain outward (conventionally the
// context, nearest word first). The same sequence, in the same order,
// always yields the same key.
func ChainHash(ids []WordIndex) uint64 {
	if len(ids) == 0 {
		return 0
	}
	current := uint64(ids[0])
	for _, id := range ids[1:] {
		current = (current * chainA) ^ (uint64(id) * chainB)
	}
	return current
}

// ChainHashIncremental returns, for ids of length n >= 1, the n-1 keys
// of every prefix of length 2..n: result[i] is ChainHash(ids[:i+2]) for
// i in [0, n-1). It computes them in a single linear pass, since each
// key is derived from the previous one by one more combine step.
func ChainHashIncremental(ids []WordIndex) []uint64 {
	if len(ids) < 2 {
		return nil
	}
	keys := make([]uint64, len(ids)-1)
	current := uint64(ids[0])
	for i, id := range ids[1:] {
		current = (current * chainA) ^ (uint64(id) * chainB)
		keys[i] = current
	}
	return keys
}
