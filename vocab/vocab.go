// Package vocab implements C2: the bijection between byte strings and
// compact WordIndex values. Like the teacher's own Vocab (vocab.go), it
// distinguishes three special tokens up front and hands back <unk> for
// anything never seen; unlike the teacher's single gob-backed map, it
// comes in two on-disk flavors so that it can sit directly inside a
// mmap'd binary model built on either the probing (C4) or sorted (C5)
// n-gram backend.
package vocab

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/kho/kenlm/hash"
	"github.com/kho/kenlm/packed"
	"github.com/kho/kenlm/probing"
	"github.com/kho/kenlm/sorted"
)

// WordIndex identifies a word. By convention <unk> is always 0.
type WordIndex = hash.WordIndex

const (
	// Unk is the out-of-vocabulary word id, fixed at 0.
	Unk WordIndex = 0
)

// Strings used to look up the three special tokens during load. These
// match the conventional ARPA/KenLM spellings; a caller loading a model
// with different spellings can still Insert them as ordinary words, but
// then BeginSentence/EndSentence below won't resolve them.
const (
	BeginSentenceWord = "<s>"
	EndSentenceWord   = "</s>"
	UnknownWord       = "<unk>"
)

// ErrMissingBeginSentence is returned by FinishLoading if "<s>" was
// never inserted.
var ErrMissingBeginSentence = errors.New("vocab: <s> never appeared in the vocabulary")

// ErrMissingEndSentence is returned by FinishLoading if "</s>" was never
// inserted.
var ErrMissingEndSentence = errors.New("vocab: </s> never appeared in the vocabulary")

// Vocab is the read-only lookup contract shared by both backends, used
// by the scoring engine once a model is built or loaded.
type Vocab interface {
	// Index returns the WordIndex for s, or Unk if s was never inserted.
	Index(s []byte) WordIndex
	// Size is the number of distinct words, including <unk>.
	Size() int
	// BeginSentence is the WordIndex of "<s>".
	BeginSentence() WordIndex
	// EndSentence is the WordIndex of "</s>".
	EndSentence() WordIndex
}

// Loader is implemented by both backend builders during ARPA ingestion.
type Loader interface {
	Vocab
	// Insert assigns a fresh WordIndex to s if not already present, and
	// returns it either way. Only valid before FinishLoading.
	Insert(s []byte) WordIndex
	// FinishLoading validates that <s> and </s> were seen and performs
	// any backend-specific finalization (e.g. sorting the hash array).
	// It returns, for the sorted backend, the permutation that must be
	// applied to the unigram array so that it stays indexed by the
	// final WordIndex; for the probing backend the permutation is
	// always identity (nil).
	FinishLoading() (permutation []WordIndex, err error)
	// SetMessages directs hash-collision warnings (two distinct strings
	// sharing a 64-bit hash, per §9) to w; a nil w discards them.
	SetMessages(w io.Writer)
}

// ---------------------------------------------------------------------
// Probing-backed vocabulary.
// ---------------------------------------------------------------------

// ProbingBuilder builds a probing-backed vocabulary: string hash ->
// WordIndex, stored in a C4 table. Grounded in the teacher's
// IdOrAdd/Bound pattern (vocab.go), but keyed by hash instead of by a
// Go map so the final table is mmap-ready.
type ProbingBuilder struct {
	strs   [][]byte // index i holds the bytes inserted for WordIndex i
	lookup map[uint64]WordIndex
	bos    WordIndex
	eos    WordIndex
	bosSet bool
	eosSet bool
	msgs   io.Writer
}

func (b *ProbingBuilder) SetMessages(w io.Writer) { b.msgs = w }

func (b *ProbingBuilder) messages() io.Writer {
	if b.msgs != nil {
		return b.msgs
	}
	return io.Discard
}

// NewProbingBuilder starts an empty builder with <unk> pre-assigned id 0.
func NewProbingBuilder(expected int) *ProbingBuilder {
	b := &ProbingBuilder{
		strs:   make([][]byte, 1, expected+1),
		lookup: make(map[uint64]WordIndex, expected+1),
	}
	b.strs[0] = []byte(UnknownWord)
	b.lookup[hash.StringHash(b.strs[0])] = Unk
	return b
}

func (b *ProbingBuilder) Insert(s []byte) WordIndex {
	return b.insertHash(hash.StringHash(s), s)
}

// insertHash is Insert with the hash computed by the caller, split out
// so a test can force a collision between two distinct strings without
// needing to brute-force a real 64-bit xxhash collision.
func (b *ProbingBuilder) insertHash(h uint64, s []byte) WordIndex {
	if id, ok := b.lookup[h]; ok {
		if !bytes.Equal(b.strs[id], s) {
			fmt.Fprintf(b.messages(), "vocab: hash collision between %q and %q (hash %#x); keeping %q\n", b.strs[id], s, h, b.strs[id])
		}
		return id
	}
	id := WordIndex(len(b.strs))
	owned := append([]byte(nil), s...)
	b.strs = append(b.strs, owned)
	b.lookup[h] = id
	switch string(s) {
	case BeginSentenceWord:
		b.bos, b.bosSet = id, true
	case EndSentenceWord:
		b.eos, b.eosSet = id, true
	}
	return id
}

func (b *ProbingBuilder) Index(s []byte) WordIndex {
	if id, ok := b.lookup[hash.StringHash(s)]; ok {
		return id
	}
	return Unk
}

func (b *ProbingBuilder) Size() int { return len(b.strs) }

func (b *ProbingBuilder) BeginSentence() WordIndex { return b.bos }
func (b *ProbingBuilder) EndSentence() WordIndex   { return b.eos }

// FinishLoading validates <s>/</s> were seen. The probing backend never
// reorders word ids, so the returned permutation is always nil.
func (b *ProbingBuilder) FinishLoading() ([]WordIndex, error) {
	if !b.bosSet {
		return nil, ErrMissingBeginSentence
	}
	if !b.eosSet {
		return nil, ErrMissingEndSentence
	}
	return nil, nil
}

// BuildTable packs the accumulated strings into a C4 probing table of
// (string hash -> WordIndex), sized with multiplier m, ready to be
// written into a binary model's vocabulary block.
func (b *ProbingBuilder) BuildTable(m float32) (probing.Table[WordIndex], []byte, error) {
	cap := probing.Capacity(len(b.strs), m)
	buf := make([]byte, probing.Size(cap, wordIndexCodec{}))
	builder := probing.NewBuilder[WordIndex](buf, wordIndexCodec{})
	for id, s := range b.strs {
		if err := builder.Insert(hash.StringHash(s), WordIndex(id)); err != nil {
			return probing.Table[WordIndex]{}, nil, err
		}
	}
	return builder.Table(), buf, nil
}

// ProbingVocab is the read-only view over a packed probing vocabulary
// table, used once a model is opened (built fresh or mmap'd).
type ProbingVocab struct {
	table probing.Table[WordIndex]
	size  int
	bos   WordIndex
	eos   WordIndex
}

// NewProbingVocab wraps an already-populated probing table (e.g. a view
// into a memory-mapped file) as a ProbingVocab.
func NewProbingVocab(table probing.Table[WordIndex], size int, bos, eos WordIndex) ProbingVocab {
	return ProbingVocab{table: table, size: size, bos: bos, eos: eos}
}

func (v ProbingVocab) Index(s []byte) WordIndex {
	val, ok := v.table.Find(hash.StringHash(s))
	if !ok {
		return Unk
	}
	return val
}

func (v ProbingVocab) Size() int               { return v.size }
func (v ProbingVocab) BeginSentence() WordIndex { return v.bos }
func (v ProbingVocab) EndSentence() WordIndex   { return v.eos }

// ---------------------------------------------------------------------
// Sorted-backed vocabulary.
// ---------------------------------------------------------------------

// SortedBuilder builds a sorted-array vocabulary (C5): the final
// WordIndex of every word (other than <unk>) is its 1-based offset into
// the ascending array of string hashes, per §4.2. Because that offset
// isn't known until every word has been seen, callers must use the
// returned permutation to reindex anything keyed by the provisional ids
// Insert hands out (in particular, the unigram ProbBackoff array).
type SortedBuilder struct {
	strs   [][]byte
	lookup map[uint64]WordIndex
	bos    string
	eos    string
	bosSet bool
	eosSet bool
	msgs   io.Writer
}

func (b *SortedBuilder) SetMessages(w io.Writer) { b.msgs = w }

func (b *SortedBuilder) messages() io.Writer {
	if b.msgs != nil {
		return b.msgs
	}
	return io.Discard
}

func NewSortedBuilder(expected int) *SortedBuilder {
	b := &SortedBuilder{
		strs:   make([][]byte, 1, expected+1),
		lookup: make(map[uint64]WordIndex, expected+1),
	}
	b.strs[0] = []byte(UnknownWord)
	b.lookup[hash.StringHash(b.strs[0])] = Unk
	return b
}

func (b *SortedBuilder) Insert(s []byte) WordIndex {
	return b.insertHash(hash.StringHash(s), s)
}

// insertHash is Insert with the hash computed by the caller; see
// ProbingBuilder.insertHash for why this split exists.
func (b *SortedBuilder) insertHash(h uint64, s []byte) WordIndex {
	if id, ok := b.lookup[h]; ok {
		if !bytes.Equal(b.strs[id], s) {
			fmt.Fprintf(b.messages(), "vocab: hash collision between %q and %q (hash %#x); keeping %q\n", b.strs[id], s, h, b.strs[id])
		}
		return id
	}
	id := WordIndex(len(b.strs))
	owned := append([]byte(nil), s...)
	b.strs = append(b.strs, owned)
	b.lookup[h] = id
	switch string(s) {
	case BeginSentenceWord:
		b.bosSet = true
	case EndSentenceWord:
		b.eosSet = true
	}
	return id
}

func (b *SortedBuilder) Index(s []byte) WordIndex {
	if id, ok := b.lookup[hash.StringHash(s)]; ok {
		return id
	}
	return Unk
}

func (b *SortedBuilder) Size() int { return len(b.strs) }

// BeginSentence/EndSentence return the provisional (pre-permutation) id
// of "<s>"/"</s>", before and after FinishLoading alike: FinishLoading
// does not remap them, so they are not the final ids.
func (b *SortedBuilder) BeginSentence() WordIndex { return b.lookup[hash.StringHash([]byte(BeginSentenceWord))] }
func (b *SortedBuilder) EndSentence() WordIndex   { return b.lookup[hash.StringHash([]byte(EndSentenceWord))] }

// FinishLoading computes the hash-ascending order of every word except
// <unk> (which always keeps id 0) and returns the permutation mapping
// provisional id -> final id: permutation[provisional] = final. The
// caller must apply this permutation to the unigram ProbBackoff array
// and to every WordIndex recorded so far (e.g. already-inserted n-gram
// contexts) before building higher-order tables.
func (b *SortedBuilder) FinishLoading() ([]WordIndex, error) {
	if !b.bosSet {
		return nil, ErrMissingBeginSentence
	}
	if !b.eosSet {
		return nil, ErrMissingEndSentence
	}

	n := len(b.strs)
	order := make([]int, n-1)
	for i := range order {
		order[i] = i + 1 // provisional ids 1..n-1, excluding <unk> at 0
	}
	hashes := make([]uint64, n)
	for i, s := range b.strs {
		hashes[i] = hash.StringHash(s)
	}
	sort.Slice(order, func(i, j int) bool { return hashes[order[i]] < hashes[order[j]] })

	permutation := make([]WordIndex, n)
	permutation[Unk] = Unk
	for finalOffset, provisional := range order {
		permutation[provisional] = WordIndex(finalOffset + 1)
	}
	return permutation, nil
}

// BuildTable packs the accumulated strings into a C5 sorted table of
// string hashes, keyed by hash with value = final WordIndex (the array
// offset, already reflected by permutation). Records are sorted by hash
// here, so Insert order is irrelevant.
func (b *SortedBuilder) BuildTable(permutation []WordIndex) (sorted.Table[WordIndex], []byte) {
	n := len(b.strs) - 1 // excludes <unk>, which has no array entry
	buf := make([]byte, packed.Size(n, wordIndexCodec{}))
	records := packed.NewTable[WordIndex](buf, wordIndexCodec{})

	type kv struct {
		h   uint64
		idx WordIndex
	}
	kvs := make([]kv, n)
	for provisional := 1; provisional < len(b.strs); provisional++ {
		kvs[provisional-1] = kv{hash.StringHash(b.strs[provisional]), permutation[provisional]}
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].h < kvs[j].h })
	for i, e := range kvs {
		records.Set(i, e.h, e.idx)
	}
	return sorted.View(records), buf
}

// SortedVocab is the read-only view over a packed sorted vocabulary
// array, used once a model is opened.
type SortedVocab struct {
	table sorted.Table[WordIndex]
	size  int
	bos   WordIndex
	eos   WordIndex
}

func NewSortedVocab(table sorted.Table[WordIndex], size int, bos, eos WordIndex) SortedVocab {
	return SortedVocab{table: table, size: size, bos: bos, eos: eos}
}

func (v SortedVocab) Index(s []byte) WordIndex {
	val, ok := v.table.Find(hash.StringHash(s))
	if !ok {
		return Unk
	}
	return val
}

func (v SortedVocab) Size() int               { return v.size }
func (v SortedVocab) BeginSentence() WordIndex { return v.bos }
func (v SortedVocab) EndSentence() WordIndex   { return v.eos }

// ---------------------------------------------------------------------
// Byte-size and open helpers for model.Open, which needs to slice a
// vocabulary's bytes out of a memory-mapped file before it can build
// either backend's view over them.
// ---------------------------------------------------------------------

// ProbingTableByteSize returns the number of bytes a probing vocabulary
// table occupies for vocabSize words (including <unk>) at the given
// probing multiplier - exactly what was written at build time by
// ProbingBuilder.BuildTable, so model.Open can compute the same size
// without re-deriving the capacity formula itself.
func ProbingTableByteSize(vocabSize int, multiplier float32) int {
	return probing.Size(probing.Capacity(vocabSize, multiplier), wordIndexCodec{})
}

// SortedTableByteSize returns the number of bytes a sorted vocabulary
// array occupies for vocabSize words (including <unk>, which has no
// array entry of its own).
func SortedTableByteSize(vocabSize int) int {
	return packed.Size(vocabSize-1, wordIndexCodec{})
}

// OpenProbingVocab wraps a raw probing vocabulary byte section (e.g.
// sliced out of a memory-mapped file) as a ProbingVocab.
func OpenProbingVocab(buf []byte, vocabSize int, bos, eos WordIndex) ProbingVocab {
	table := probing.View(packed.NewTable[WordIndex](buf, wordIndexCodec{}))
	return NewProbingVocab(table, vocabSize, bos, eos)
}

// OpenSortedVocab wraps a raw sorted vocabulary byte section as a
// SortedVocab.
func OpenSortedVocab(buf []byte, vocabSize int, bos, eos WordIndex) SortedVocab {
	table := sorted.View(packed.NewTable[WordIndex](buf, wordIndexCodec{}))
	return NewSortedVocab(table, vocabSize, bos, eos)
}

// StringHash re-exports hash.StringHash so callers that only import
// vocab (not hash) can still compute the key a word would occupy, e.g.
// to resolve "<s>"/"</s>" against a just-opened table.
func StringHash(s []byte) uint64 { return hash.StringHash(s) }

// ---------------------------------------------------------------------
// wordIndexCodec lets both vocab backends reuse the C3 packed.Table
// machinery (designed for Key64 -> value records) to store
// Key64(stringHash) -> WordIndex, a 4-byte little-endian uint32.
// ---------------------------------------------------------------------

type wordIndexCodec struct{}

func (wordIndexCodec) Size() int { return 4 }

func (wordIndexCodec) Encode(buf []byte, v WordIndex) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(v))
}

func (wordIndexCodec) Decode(buf []byte) WordIndex {
	return WordIndex(binary.LittleEndian.Uint32(buf[0:4]))
}
