// Package build implements C8 (the external sorter) and the model
// builder that drives an arpa.Sink to populate a vocabulary and, for
// each n-gram order, a sorted or probing-ready table, then writes the
// result through binfmt.
package build

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/kho/kenlm/vocab"
)

// Record is one n-gram entry as read from ARPA, before its words are
// resolved to final ids (that happens after the vocabulary's
// FinishLoading permutation is known) or its chain-hash key is
// computed. Words is in ARPA order: context oldest-first, predicted
// word last.
type Record struct {
	Words      []vocab.WordIndex
	Prob       float32
	Backoff    float32
	HasBackoff bool
}

// reversedLess implements the comparator spec §4.8 calls for:
// lexicographic on the reversed (history-major) word sequence. This is
// the scoring engine's own search order, so runs sorted this way also
// happen to group entries that share a chain-hash prefix.
func reversedLess(a, b Record) bool {
	n := len(a.Words)
	for i := 0; i < n; i++ {
		wa, wb := a.Words[n-1-i], b.Words[n-1-i]
		if wa != wb {
			return wa < wb
		}
	}
	return false
}

// RAMBudgetRecords is the default number of records held in memory per
// sort run before it is flushed to a temporary file, chosen to keep a
// single run comfortably small without the caller having to tune it.
const RAMBudgetRecords = 1 << 20

// Sorter performs the external merge-sort sequence described in §4.8:
// fill an in-memory buffer up to a record budget, sort it, flush it to
// a run file in TMPDIR (or the directory the caller names), then
// k-way-merge every run back into sorted order.
type Sorter struct {
	ramBudget int
	tmpDir    string
	order     int

	buf      []Record
	runFiles []string
}

// NewSorter starts a sorter for n-grams of the given order (len(Words)
// for every Record it will see). ramBudget is the number of records
// held in memory before a run is flushed; 0 selects RAMBudgetRecords.
// tmpDir is where run files are created; "" uses os.TempDir (which
// itself honors $TMPDIR, matching the budget's "honors TMPDIR" intent).
func NewSorter(order int, ramBudget int, tmpDir string) *Sorter {
	if ramBudget <= 0 {
		ramBudget = RAMBudgetRecords
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Sorter{ramBudget: ramBudget, tmpDir: tmpDir, order: order}
}

// Add appends one record, flushing the in-memory buffer to a run file
// once it reaches the configured RAM budget.
func (s *Sorter) Add(r Record) error {
	s.buf = append(s.buf, r)
	if len(s.buf) >= s.ramBudget {
		return s.flush()
	}
	return nil
}

func (s *Sorter) flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	sort.Slice(s.buf, func(i, j int) bool { return reversedLess(s.buf[i], s.buf[j]) })

	f, err := os.CreateTemp(s.tmpDir, "kenlm-sort-run-*")
	if err != nil {
		return fmt.Errorf("build: creating sort run file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range s.buf {
		if err := encodeRecord(w, r); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("build: flushing sort run %s: %w", f.Name(), err)
	}
	s.runFiles = append(s.runFiles, f.Name())
	s.buf = s.buf[:0]
	return nil
}

// Finish flushes any remaining buffered records, k-way merges every run
// file in increasing reversed-word order, removes the run files, and
// returns the fully merged, history-major-sorted record set. Callers
// that want the final sorted-uniform backend's ascending-key order must
// sort this result by chain-hash key themselves (§4.8's two orderings
// serve different purposes: this one is the scoring engine's search
// order used while merging; the stored table needs key order).
func (s *Sorter) Finish() ([]Record, error) {
	if err := s.flush(); err != nil {
		return nil, err
	}
	defer func() {
		for _, name := range s.runFiles {
			os.Remove(name)
		}
	}()

	if len(s.runFiles) == 0 {
		return nil, nil
	}
	if len(s.runFiles) == 1 {
		return decodeRecordFile(s.runFiles[0], s.order)
	}
	return s.kWayMerge()
}

type mergeItem struct {
	rec      Record
	runIndex int
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return reversedLess(h[i].rec, h[j].rec) }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)         { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (s *Sorter) kWayMerge() ([]Record, error) {
	readers := make([]*recordReader, len(s.runFiles))
	for i, name := range s.runFiles {
		r, err := newRecordReader(name, s.order)
		if err != nil {
			for _, opened := range readers[:i] {
				if opened != nil {
					opened.Close()
				}
			}
			return nil, err
		}
		readers[i] = r
	}
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	h := make(mergeHeap, 0, len(readers))
	for i, r := range readers {
		rec, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			h = append(h, mergeItem{rec, i})
		}
	}
	heap.Init(&h)

	var out []Record
	for h.Len() > 0 {
		top := heap.Pop(&h).(mergeItem)
		out = append(out, top.rec)
		rec, ok, err := readers[top.runIndex].Next()
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Push(&h, mergeItem{rec, top.runIndex})
		}
	}
	return out, nil
}

// --- fixed-width record encoding for run files ---

func recordStride(order int) int {
	return 4*order + 4 + 4 + 1 // words + prob + backoff + hasBackoff flag
}

func encodeRecord(w *bufio.Writer, r Record) error {
	buf := make([]byte, recordStride(len(r.Words)))
	for i, word := range r.Words {
		binary.LittleEndian.PutUint32(buf[4*i:4*i+4], uint32(word))
	}
	off := 4 * len(r.Words)
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(r.Prob))
	binary.LittleEndian.PutUint32(buf[off+4:off+8], math.Float32bits(r.Backoff))
	if r.HasBackoff {
		buf[off+8] = 1
	}
	_, err := w.Write(buf)
	return err
}

func decodeRecord(buf []byte, order int) Record {
	words := make([]vocab.WordIndex, order)
	for i := range words {
		words[i] = vocab.WordIndex(binary.LittleEndian.Uint32(buf[4*i : 4*i+4]))
	}
	off := 4 * order
	return Record{
		Words:      words,
		Prob:       math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4])),
		Backoff:    math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4 : off+8])),
		HasBackoff: buf[off+8] == 1,
	}
}

type recordReader struct {
	f      *os.File
	r      *bufio.Reader
	stride int
	order  int
}

func newRecordReader(name string, order int) (*recordReader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return &recordReader{f: f, r: bufio.NewReader(f), stride: recordStride(order), order: order}, nil
}

func (rr *recordReader) Next() (Record, bool, error) {
	buf := make([]byte, rr.stride)
	if _, err := io.ReadFull(rr.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return decodeRecord(buf, rr.order), true, nil
}

func (rr *recordReader) Close() error { return rr.f.Close() }

func decodeRecordFile(name string, order int) ([]Record, error) {
	rr, err := newRecordReader(name, order)
	if err != nil {
		return nil, err
	}
	defer rr.Close()
	var out []Record
	for {
		rec, ok, err := rr.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, rec)
	}
}
