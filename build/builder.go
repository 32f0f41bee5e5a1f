package build

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/kho/kenlm/arpa"
	"github.com/kho/kenlm/binfmt"
	"github.com/kho/kenlm/hash"
	"github.com/kho/kenlm/packed"
	"github.com/kho/kenlm/probing"
	"github.com/kho/kenlm/vocab"
)

// ln10 converts an ARPA file's log10 probabilities and back-off weights
// (spec §4.1) to the natural-log values the scoring engine (C9) works
// in, so FullScore never has to care which base the on-disk model was
// written in.
const ln10 = math.Ln10

// UnknownMissingPolicy selects what happens when an ARPA file never
// defines a "<unk>" unigram, per §4.10's unknown_missing config option.
type UnknownMissingPolicy int

const (
	// UnknownMissingThrow fails the build if "<unk>" is undefined.
	UnknownMissingThrow UnknownMissingPolicy = iota
	// UnknownMissingComplain substitutes UnknownMissingProb and writes a
	// warning to Options.Messages.
	UnknownMissingComplain
	// UnknownMissingSilent substitutes UnknownMissingProb without warning.
	UnknownMissingSilent
)

// Options configures a build from ARPA text to a binary model file.
type Options struct {
	Backend           binfmt.Backend
	ProbingMultiplier float32 // only consulted when Backend == BackendProbing
	RAMBudgetRecords  int     // per-order sort buffer size; 0 uses Sorter's default
	TempDir           string  // "" uses os.TempDir

	UnknownMissing     UnknownMissingPolicy
	UnknownMissingProb float32 // substitute natural-log prob for UnknownMissingComplain/Silent

	// Messages receives load-time warnings (hash collisions, a missing
	// <unk> under UnknownMissingComplain). A nil Messages discards them.
	Messages io.Writer
}

func (o Options) messages() io.Writer {
	if o.Messages != nil {
		return o.Messages
	}
	return io.Discard
}

// sink implements arpa.Sink, accumulating everything needed to write a
// binary model: the vocabulary builder, the provisional unigram array,
// and one Sorter per higher order.
type sink struct {
	opts     Options
	vocab    vocab.Loader
	order    int
	unigrams []packed.ProbBackoff // indexed by provisional WordIndex
	sorters  []*Sorter            // sorters[0] is bigrams (order 2), ...
	unkSeen  bool
}

func newSink(opts Options) *sink {
	return &sink{opts: opts}
}

func (s *sink) Counts(counts []int) error {
	s.order = len(counts)
	if s.opts.Backend == binfmt.BackendSorted {
		s.vocab = vocab.NewSortedBuilder(counts[0])
	} else {
		s.vocab = vocab.NewProbingBuilder(counts[0])
	}
	s.vocab.SetMessages(s.opts.messages())
	s.unigrams = make([]packed.ProbBackoff, 1, counts[0]+1)
	s.sorters = make([]*Sorter, 0, s.order-1)
	for k := 2; k <= s.order; k++ {
		s.sorters = append(s.sorters, NewSorter(k, s.opts.RAMBudgetRecords, s.opts.TempDir))
	}
	return nil
}

func (s *sink) Unigram(word []byte, prob, backoff float32, hasBackoff bool) error {
	id := s.vocab.Insert(word)
	for int(id) >= len(s.unigrams) {
		s.unigrams = append(s.unigrams, packed.ProbBackoff{})
	}
	p := prob * ln10
	switch string(word) {
	case vocab.BeginSentenceWord:
		// "<s>" is never a legal predicted word (§3); forcing its
		// unigram prob to -Inf means it can never be returned as a
		// score even if the ARPA file supplies some other value.
		p = float32(math.Inf(-1))
	case vocab.UnknownWord:
		s.unkSeen = true
	}
	s.unigrams[id] = packed.ProbBackoff{Prob: p, Backoff: backoff * ln10}
	return nil
}

func (s *sink) Ngram(order int, words [][]byte, prob, backoff float32, hasBackoff bool) error {
	ids := make([]vocab.WordIndex, len(words))
	for i, w := range words {
		ids[i] = s.vocab.Index(w)
	}
	return s.sorters[order-2].Add(Record{Words: ids, Prob: prob * ln10, Backoff: backoff * ln10, HasBackoff: hasBackoff})
}

// Build reads an ARPA file and writes a complete binary model to
// outPath, per §4.7 (load) and §4.6 (layout): unigrams first, then for
// each higher order the provisional records are sorted (§4.8),
// re-keyed by chain hash, and packed into the configured backend's
// table shape.
func Build(arpaLoader func(arpa.Sink) error, outPath string, opts Options) error {
	if opts.Backend == 0 {
		opts.Backend = binfmt.BackendProbing
	}
	if opts.ProbingMultiplier <= 1 {
		opts.ProbingMultiplier = 1.5
	}

	s := newSink(opts)
	if err := arpaLoader(s); err != nil {
		return err
	}

	if !s.unkSeen {
		switch opts.UnknownMissing {
		case UnknownMissingThrow:
			return fmt.Errorf("build: ARPA file has no <unk> unigram entry")
		case UnknownMissingComplain:
			fmt.Fprintf(opts.messages(), "build: ARPA file has no <unk> unigram entry; substituting configured probability\n")
			s.unigrams[vocab.Unk] = packed.ProbBackoff{Prob: opts.UnknownMissingProb}
		case UnknownMissingSilent:
			s.unigrams[vocab.Unk] = packed.ProbBackoff{Prob: opts.UnknownMissingProb}
		}
	}

	permutation, err := s.vocab.FinishLoading()
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	if permutation != nil {
		s.unigrams = applyPermutation(s.unigrams, permutation)
		// Higher-order records are reindexed by permutation below, once
		// each order's Sorter has finished merging (records are still
		// keyed by provisional word id on disk in the run files).
	}

	counts := make([]int, s.order)
	counts[0] = len(s.unigrams) - 1

	var vocabBytes []byte
	switch v := s.vocab.(type) {
	case *vocab.ProbingBuilder:
		_, buf, err := v.BuildTable(opts.ProbingMultiplier)
		if err != nil {
			return fmt.Errorf("build: packing vocabulary: %w", err)
		}
		vocabBytes = buf
	case *vocab.SortedBuilder:
		_, buf := v.BuildTable(permutation)
		vocabBytes = buf
	}

	unigramBuf := make([]byte, packed.ArraySize(len(s.unigrams), packed.ProbBackoffCodec{}))
	unigramArr := packed.NewArray[packed.ProbBackoff](unigramBuf, packed.ProbBackoffCodec{})
	for i, u := range s.unigrams {
		unigramArr.Set(i, u)
	}

	var middleBufs [][]byte
	var longestBuf []byte
	for k := 2; k <= s.order; k++ {
		records, err := s.sorters[k-2].Finish()
		if err != nil {
			return fmt.Errorf("build: sorting order %d: %w", k, err)
		}
		if permutation != nil {
			for i := range records {
				for j, w := range records[i].Words {
					records[i].Words[j] = permutation[w]
				}
			}
		}
		counts[k-1] = len(records)

		if k < s.order {
			buf, err := packMiddleOrder(records, opts)
			if err != nil {
				return fmt.Errorf("build: packing order %d: %w", k, err)
			}
			middleBufs = append(middleBufs, buf)
		} else {
			buf, err := packLongestOrder(records, opts)
			if err != nil {
				return fmt.Errorf("build: packing order %d: %w", k, err)
			}
			longestBuf = buf
		}
	}

	header := binfmt.Header{
		Backend:           opts.Backend,
		Order:             s.order,
		ProbingMultiplier: opts.ProbingMultiplier,
		Counts:            counts,
	}
	return binfmt.Write(outPath, header, binfmt.Sections{
		Vocab:    vocabBytes,
		Unigrams: unigramBuf,
		Middle:   middleBufs,
		Longest:  longestBuf,
	})
}

func applyPermutation(unigrams []packed.ProbBackoff, permutation []vocab.WordIndex) []packed.ProbBackoff {
	out := make([]packed.ProbBackoff, len(unigrams))
	for provisional, final := range permutation {
		out[final] = unigrams[provisional]
	}
	return out
}

// ngramKey computes the Key64 for a Record stored in ARPA word order
// (context oldest-first, predicted last): the chain hash input is the
// reverse of that (predicted first, nearest context next, ...), the same
// nearest-first order the model package's contextKey hashes at scoring
// time, so loader and scorer compute the same key.
func ngramKey(words []vocab.WordIndex) uint64 {
	ids := make([]hash.WordIndex, len(words))
	for i, w := range words {
		ids[len(words)-1-i] = hash.WordIndex(w)
	}
	return hash.ChainHash(ids)
}

func packMiddleOrder(records []Record, opts Options) ([]byte, error) {
	if opts.Backend == binfmt.BackendSorted {
		sortByKey(records)
		buf := make([]byte, packed.Size(len(records), packed.ProbBackoffCodec{}))
		table := packed.NewTable[packed.ProbBackoff](buf, packed.ProbBackoffCodec{})
		for i, r := range records {
			table.Set(i, ngramKey(r.Words), packed.ProbBackoff{Prob: r.Prob, Backoff: r.Backoff})
		}
		return buf, nil
	}

	cap := probing.Capacity(len(records), opts.ProbingMultiplier)
	buf := make([]byte, probing.Size(cap, packed.ProbBackoffCodec{}))
	builder := probing.NewBuilder[packed.ProbBackoff](buf, packed.ProbBackoffCodec{})
	for _, r := range records {
		if err := builder.Insert(ngramKey(r.Words), packed.ProbBackoff{Prob: r.Prob, Backoff: r.Backoff}); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func packLongestOrder(records []Record, opts Options) ([]byte, error) {
	if opts.Backend == binfmt.BackendSorted {
		sortByKey(records)
		buf := make([]byte, packed.Size(len(records), packed.ProbCodec{}))
		table := packed.NewTable[packed.Prob](buf, packed.ProbCodec{})
		for i, r := range records {
			table.Set(i, ngramKey(r.Words), packed.Prob{Prob: r.Prob})
		}
		return buf, nil
	}

	cap := probing.Capacity(len(records), opts.ProbingMultiplier)
	buf := make([]byte, probing.Size(cap, packed.ProbCodec{}))
	builder := probing.NewBuilder[packed.Prob](buf, packed.ProbCodec{})
	for _, r := range records {
		if err := builder.Insert(ngramKey(r.Words), packed.Prob{Prob: r.Prob}); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// sortByKey re-sorts records by Key64 ascending, the order the
// sorted-uniform backend's interpolation search requires - distinct
// from the history-major order the external merge in Sorter produced,
// per §4.8's note that the two orderings serve different purposes.
func sortByKey(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return ngramKey(records[i].Words) < ngramKey(records[j].Words)
	})
}
