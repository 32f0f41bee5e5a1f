// Package binfmt implements C6: the on-disk binary layout a model is
// written to and mmap'd from. Sections are written contiguously and
// byte-packed, little-endian, with no further parsing needed once the
// file is mapped (§4.6) - magic and config header, vocabulary block,
// unigram array, middle-order tables, and the longest-order table.
//
// Writing goes through a temporary file that is renamed into place only
// once complete, the same atomic-publish pattern the teacher's io.go
// uses for its own binary dumps, so a reader never observes a
// partially-written model file.
package binfmt

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"

	"github.com/kho/kenlm/probing"
)

// Backend identifies which n-gram table implementation (C4 or C5) the
// middle and longest sections, and the vocabulary block, are encoded
// with. Both share the same section layout; only the table encoding
// inside each section differs.
type Backend uint8

const (
	BackendProbing Backend = 1
	BackendSorted  Backend = 2
)

func (b Backend) String() string {
	switch b {
	case BackendProbing:
		return "probing"
	case BackendSorted:
		return "sorted"
	default:
		return fmt.Sprintf("Backend(%d)", b)
	}
}

const (
	magic          = "kenlmbin"
	formatVersion  = uint32(1)
	headerFixedLen = 8 + 4 + 1 + 1 + 4 // magic + version + backend + order + probing multiplier
)

// ErrBadMagic is returned by Open when the file does not start with the
// expected magic tag, most likely because it is not a model file at all.
var ErrBadMagic = fmt.Errorf("binfmt: bad magic, not a kenlm binary model")

// ErrVersion is returned by Open when the file's format version is one
// this build of the package does not know how to read.
type ErrVersion struct{ Found uint32 }

func (e *ErrVersion) Error() string {
	return fmt.Sprintf("binfmt: unsupported format version %d (this build supports %d)", e.Found, formatVersion)
}

// Header is the fixed-size section every model file begins with.
type Header struct {
	Backend            Backend
	Order              int
	ProbingMultiplier  float32
	Counts             []int // len(Counts) == Order; Counts[i] = count of (i+1)-grams
}

func (h Header) encode() []byte {
	buf := make([]byte, headerFixedLen+8*len(h.Counts))
	copy(buf[0:8], magic)
	binary.LittleEndian.PutUint32(buf[8:12], formatVersion)
	buf[12] = byte(h.Backend)
	buf[13] = byte(h.Order)
	binary.LittleEndian.PutUint32(buf[14:18], math.Float32bits(h.ProbingMultiplier))
	for i, c := range h.Counts {
		binary.LittleEndian.PutUint64(buf[headerFixedLen+8*i:headerFixedLen+8*i+8], uint64(c))
	}
	return buf
}

// parseHeader decodes a Header from the start of buf and returns the
// number of bytes it occupied (headerFixedLen + 8*Order).
func parseHeader(buf []byte) (Header, int, error) {
	if len(buf) < headerFixedLen {
		return Header{}, 0, fmt.Errorf("binfmt: file too short for a header")
	}
	if string(buf[0:8]) != magic {
		return Header{}, 0, ErrBadMagic
	}
	version := binary.LittleEndian.Uint32(buf[8:12])
	if version != formatVersion {
		return Header{}, 0, &ErrVersion{Found: version}
	}
	h := Header{
		Backend:           Backend(buf[12]),
		Order:             int(buf[13]),
		ProbingMultiplier: math.Float32frombits(binary.LittleEndian.Uint32(buf[14:18])),
	}
	countsOff := headerFixedLen
	countsLen := 8 * h.Order
	if len(buf) < countsOff+countsLen {
		return Header{}, 0, fmt.Errorf("binfmt: file too short for %d-order counts", h.Order)
	}
	h.Counts = make([]int, h.Order)
	for i := range h.Counts {
		h.Counts[i] = int(binary.LittleEndian.Uint64(buf[countsOff+8*i : countsOff+8*i+8]))
	}
	return h, countsOff + countsLen, nil
}

// Sections is the set of byte ranges a Writer lays out after the
// header: vocab, unigrams, one per middle order, and longest. Write
// callers build these byte slices (via probing/sorted/packed) and hand
// them to Write, which writes them in file order.
type Sections struct {
	Vocab    []byte
	Unigrams []byte
	Middle   [][]byte // one per order in [2, Order-1]
	Longest  []byte
}

// Write atomically publishes a complete model file at path: it writes
// to a fresh temp file in path's directory, named after path's base name
// plus ".tmp-" and a random suffix, then renames over path, so a
// concurrent reader either sees the old file or the complete new one,
// never a partial write.
func Write(path string, h Header, s Sections) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("binfmt: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(h.encode()); err != nil {
		return fmt.Errorf("binfmt: writing header: %w", err)
	}
	if _, err = tmp.Write(s.Vocab); err != nil {
		return fmt.Errorf("binfmt: writing vocab section: %w", err)
	}
	if _, err = tmp.Write(s.Unigrams); err != nil {
		return fmt.Errorf("binfmt: writing unigram section: %w", err)
	}
	for i, m := range s.Middle {
		if _, err = tmp.Write(m); err != nil {
			return fmt.Errorf("binfmt: writing middle section %d: %w", i+2, err)
		}
	}
	if _, err = tmp.Write(s.Longest); err != nil {
		return fmt.Errorf("binfmt: writing longest section: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("binfmt: syncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("binfmt: closing temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("binfmt: renaming into place: %w", err)
	}
	return nil
}

// Mapped is an open, memory-mapped model file: the header plus a raw
// view of every section's bytes, ready for a caller (the model package)
// to wrap in probing/sorted/packed table types according to h.Backend.
// Close must be called to unmap and close the backing file.
type Mapped struct {
	Header   Header
	Vocab    []byte
	Unigrams []byte
	Middle   [][]byte
	Longest  []byte

	file *os.File
	mm   mmap.MMap
}

// Open memory-maps path read-only and slices out each section's bytes
// according to the header's declared counts, vocabulary size, and
// backend. No further parsing of section contents happens here; that
// is the model package's job once it knows the value codec for each
// section.
func Open(path string, vocabSize func(h Header) int) (*Mapped, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	closeOnErr := true
	defer func() {
		if closeOnErr {
			f.Close()
		}
	}()

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("binfmt: mmap: %w", err)
	}

	h, off, err := parseHeader(mm)
	if err != nil {
		mm.Unmap()
		return nil, err
	}

	vocabBytes := vocabSize(h)
	sect := func(n int) []byte {
		b := mm[off : off+n]
		off += n
		return b
	}

	m := &Mapped{Header: h, file: f, mm: mm}
	m.Vocab = sect(vocabBytes)
	// Counts[0] excludes <unk> (build.Build's convention: counts[0] =
	// len(s.unigrams)-1), but the unigram array itself has one record per
	// WordIndex including <unk> at index 0, so the section is one record
	// longer than Counts[0].
	m.Unigrams = sect((h.Counts[0] + 1) * 8) // 8 = ProbBackoffCodec size
	// A probing table of n entries occupies probing.Capacity(n, multiplier)
	// records, empty slots included; a sorted table occupies exactly n.
	records := func(n int) int {
		if h.Backend == BackendProbing {
			return probing.Capacity(n, h.ProbingMultiplier)
		}
		return n
	}
	for k := 2; k < h.Order; k++ {
		m.Middle = append(m.Middle, sect(records(h.Counts[k-1])*16)) // 16 = key(8)+ProbBackoff(8)
	}
	if h.Order >= 1 {
		m.Longest = sect(records(h.Counts[h.Order-1]) * 12) // 12 = key(8)+Prob(4)
	}

	closeOnErr = false
	return m, nil
}

func (m *Mapped) Close() error {
	if err := m.mm.Unmap(); err != nil {
		return err
	}
	return m.file.Close()
}
