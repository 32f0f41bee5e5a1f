// Package model implements C9 (the scoring engine) and C10 (the Model
// facade): construction from an ARPA file or a binary model, ownership
// of the mmap region, and the begin/null starting states every caller
// needs before it can call FullScore.
package model

import (
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kho/kenlm/arpa"
	"github.com/kho/kenlm/binfmt"
	"github.com/kho/kenlm/build"
	"github.com/kho/kenlm/packed"
	"github.com/kho/kenlm/probing"
	"github.com/kho/kenlm/sorted"
	"github.com/kho/kenlm/vocab"
)

// Config controls how a Model is constructed and how it reports
// problems it can recover from (as opposed to the load errors that
// NewFromARPA and Open return, which are always fatal).
type Config struct {
	// UnknownMissing selects what happens when an ARPA file never
	// defines "<unk>": fail the build, substitute with a warning, or
	// substitute silently.
	UnknownMissing build.UnknownMissingPolicy
	// UnknownMissingProb is the natural-log probability substituted for
	// <unk> when UnknownMissing allows a missing "<unk>" line.
	UnknownMissingProb float32
	// ProbingMultiplier is the load factor used when building a probing
	// table from ARPA; ignored when opening an existing binary.
	ProbingMultiplier float32
	// WriteMmap, if non-empty, is a path to also write a binary model to
	// while loading from ARPA (so a later run can Open it directly).
	WriteMmap string
	// Backend selects the n-gram table implementation used when
	// building fresh from ARPA (irrelevant when opening a binary, whose
	// own header says which backend it used).
	Backend binfmt.Backend
	// Messages receives load-time warnings (hash collisions, a missing
	// <unk> under the complain policy). A nil sink discards them.
	Messages io.Writer
	// MessageLog, if non-empty, additionally sends every load-time
	// message to a rotating log file at this path (100MB per file, 3
	// backups, 28 days retention) via lumberjack, alongside Messages if
	// both are set.
	MessageLog string
}

// messageWriter returns the combined destination for load-time warnings
// (Messages, MessageLog, both, or io.Discard) and, when MessageLog was
// set, the *lumberjack.Logger the caller must Close once the load that
// used it has finished.
func (c Config) messageWriter() (io.Writer, io.Closer) {
	var logger *lumberjack.Logger
	if c.MessageLog != "" {
		logger = &lumberjack.Logger{Filename: c.MessageLog, MaxSize: 100, MaxBackups: 3, MaxAge: 28}
	}
	switch {
	case c.Messages != nil && logger != nil:
		return io.MultiWriter(c.Messages, logger), logger
	case logger != nil:
		return logger, logger
	case c.Messages != nil:
		return c.Messages, nil
	default:
		return io.Discard, nil
	}
}

// Model owns a vocabulary, a contiguous unigram array, middle-order
// tables, and a longest-order table, all backed by a mmap region it also
// owns (a binary file, or the scratch file NewFromARPA builds), so every
// Model must be Close'd.
type Model struct {
	cfg    Config
	vocab  vocab.Vocab
	scorer *scorer
	mapped *binfmt.Mapped // set by Open, which every constructor ends in
}

// Order returns the configured n-gram order (e.g. 3 for a trigram model).
func (m *Model) Order() int { return m.scorer.order }

// Vocab exposes the model's vocabulary for callers that need to
// resolve strings to WordIndex themselves (e.g. a query CLI tokenizer).
func (m *Model) Vocab() vocab.Vocab { return m.vocab }

// BeginSentenceState is the state to start scoring a sentence from: its
// context is exactly the sentence-begin marker, per §4.9.
func (m *Model) BeginSentenceState() State {
	var s State
	s.Length = 1
	s.Words[0] = m.vocab.BeginSentence()
	if m.scorer.order > 1 {
		s.Backoffs[0] = m.scorer.unigrams.Get(int(s.Words[0])).Backoff
	}
	return s
}

// NullContextState is the state representing no known history at all,
// as opposed to BeginSentenceState's explicit "<s>" context; per §8
// property 2, scoring from NullContextState and then feeding "<s>"
// manually must reproduce BeginSentenceState's behavior modulo the
// forced -inf unigram term for "<s>" itself.
func (m *Model) NullContextState() State {
	return State{}
}

// FullScore implements C9's public contract: Score(state, word) ->
// (prob, matched_order, next_state), in natural log.
func (m *Model) FullScore(state State, word vocab.WordIndex) (prob float32, matchedOrder int, next State) {
	return m.scorer.FullScore(state, word)
}

// Close unmaps and closes the backing file. It is a no-op for a Model
// with no mapping.
func (m *Model) Close() error {
	if m.mapped != nil {
		return m.mapped.Close()
	}
	return nil
}

// NewFromARPA builds a Model directly from ARPA text, per C10's
// "construction from ARPA" lifecycle. If cfg.WriteMmap is set, it also
// writes a binary model to that path via build.Build and then opens it
// (so the returned Model's tables are the mmap'd ones); otherwise it
// builds into a scratch file via buildInMemory, maps that, and removes
// the file, so no binary is left on disk.
func NewFromARPA(r io.Reader, cfg Config) (*Model, error) {
	if cfg.ProbingMultiplier <= 1 {
		cfg.ProbingMultiplier = 1.5
	}
	if cfg.Backend == 0 {
		cfg.Backend = binfmt.BackendProbing
	}

	if cfg.WriteMmap == "" {
		return buildInMemory(r, cfg)
	}

	msgWriter, msgCloser := cfg.messageWriter()
	opts := build.Options{
		Backend:            cfg.Backend,
		ProbingMultiplier:  cfg.ProbingMultiplier,
		UnknownMissing:     cfg.UnknownMissing,
		UnknownMissingProb: cfg.UnknownMissingProb,
		Messages:           msgWriter,
	}
	buildErr := build.Build(func(sink arpa.Sink) error { return arpa.Load(r, sink) }, cfg.WriteMmap, opts)
	if msgCloser != nil {
		msgCloser.Close()
	}
	if buildErr != nil {
		return nil, fmt.Errorf("model: building %s: %w", cfg.WriteMmap, buildErr)
	}
	return Open(cfg.WriteMmap, cfg)
}

// buildInMemory drives the same build.Build path but against an
// anonymous temp file so callers that don't want a persistent binary
// still get the one code path that knows how to assemble tables from
// ARPA; the temp file is removed once mmap'd, which is safe because the
// mapping keeps the pages resident via the file's inode.
func buildInMemory(r io.Reader, cfg Config) (*Model, error) {
	tmp, err := os.CreateTemp("", "kenlm-inmemory-*.bin")
	if err != nil {
		return nil, fmt.Errorf("model: creating scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	msgWriter, msgCloser := cfg.messageWriter()
	opts := build.Options{
		Backend:            cfg.Backend,
		ProbingMultiplier:  cfg.ProbingMultiplier,
		UnknownMissing:     cfg.UnknownMissing,
		UnknownMissingProb: cfg.UnknownMissingProb,
		Messages:           msgWriter,
	}
	buildErr := build.Build(func(sink arpa.Sink) error { return arpa.Load(r, sink) }, tmpPath, opts)
	if msgCloser != nil {
		msgCloser.Close()
	}
	if buildErr != nil {
		return nil, fmt.Errorf("model: building in-memory model: %w", buildErr)
	}
	return Open(tmpPath, cfg)
}

// Open memory-maps an existing binary model file built by build.Build,
// per C10's "construction from binary" lifecycle.
func Open(path string, cfg Config) (*Model, error) {
	// The vocabulary section's byte length depends on its own backend
	// and, for the probing backend, the capacity chosen at build time;
	// both are recoverable from the header's declared unigram count and
	// probing multiplier without re-parsing the vocabulary itself.
	sizeFn := func(h binfmt.Header) int {
		vocabSize := h.Counts[0] + 1 // +1 for <unk>, which isn't counted in Counts[0]
		if h.Backend == binfmt.BackendSorted {
			return vocab.SortedTableByteSize(vocabSize)
		}
		return vocab.ProbingTableByteSize(vocabSize, h.ProbingMultiplier)
	}

	mapped, err := binfmt.Open(path, sizeFn)
	if err != nil {
		return nil, fmt.Errorf("model: opening %s: %w", path, err)
	}

	h := mapped.Header
	m := &Model{cfg: cfg, mapped: mapped}

	unigramArr := packed.NewArray[packed.ProbBackoff](mapped.Unigrams, packed.ProbBackoffCodec{})

	vocabSize := h.Counts[0] + 1

	var v vocab.Vocab
	if h.Backend == binfmt.BackendSorted {
		probe := vocab.OpenSortedVocab(mapped.Vocab, vocabSize, vocab.Unk, vocab.Unk)
		bos := probe.Index([]byte(vocab.BeginSentenceWord))
		eos := probe.Index([]byte(vocab.EndSentenceWord))
		v = vocab.OpenSortedVocab(mapped.Vocab, vocabSize, bos, eos)
	} else {
		probe := vocab.OpenProbingVocab(mapped.Vocab, vocabSize, vocab.Unk, vocab.Unk)
		bos := probe.Index([]byte(vocab.BeginSentenceWord))
		eos := probe.Index([]byte(vocab.EndSentenceWord))
		v = vocab.OpenProbingVocab(mapped.Vocab, vocabSize, bos, eos)
	}
	m.vocab = v

	middle := make([]MiddleTable, 0, len(mapped.Middle))
	for _, buf := range mapped.Middle {
		count := len(buf) / 16
		if h.Backend == binfmt.BackendSorted {
			middle = append(middle, sorted.View(packed.NewTable[packed.ProbBackoff](buf[:count*16], packed.ProbBackoffCodec{})))
		} else {
			middle = append(middle, probing.View(packed.NewTable[packed.ProbBackoff](buf[:count*16], packed.ProbBackoffCodec{})))
		}
	}

	var longest LongestTable
	if h.Backend == binfmt.BackendSorted {
		longest = sorted.View(packed.NewTable[packed.Prob](mapped.Longest, packed.ProbCodec{}))
	} else {
		longest = probing.View(packed.NewTable[packed.Prob](mapped.Longest, packed.ProbCodec{}))
	}

	m.scorer = &scorer{
		vocab:    v,
		order:    h.Order,
		unigrams: unigramArr,
		middle:   middle,
		longest:  longest,
	}

	glog.V(1).Infof("model: opened %s (order=%d, backend=%s, unigrams=%d)", path, h.Order, h.Backend, h.Counts[0])
	return m, nil
}
