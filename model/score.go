package model

import (
	"github.com/kho/kenlm/hash"
	"github.com/kho/kenlm/packed"
	"github.com/kho/kenlm/vocab"
)

// MiddleTable is satisfied by both probing.Table[packed.ProbBackoff]
// and sorted.Table[packed.ProbBackoff]: the scoring engine (C9) never
// needs to know which n-gram backend (C4 or C5) produced a given
// order's table, only that it can Find a key.
type MiddleTable interface {
	Find(key uint64) (packed.ProbBackoff, bool)
}

// LongestTable is the analogous backend-agnostic view for the highest
// order, whose entries carry no back-off weight.
type LongestTable interface {
	Find(key uint64) (packed.Prob, bool)
}

// scorer holds everything FullScore needs, independent of how the
// caller assembled it (fresh from ARPA, or mmap'd from a binary file).
// Model holds a pointer to one of these.
type scorer struct {
	vocab    vocab.Vocab
	order    int // total configured order, e.g. 3 for a trigram model
	unigrams packed.Array[packed.ProbBackoff]
	middle   []MiddleTable // indexed by order-2: middle[0] is bigrams, ...
	longest  LongestTable
}

// contextKey returns the chain-hash key of the nearest-first word list
// words[:n], used both to look up an n-gram entry that predicts
// words[0] from context words[1:n], and (when the "predicted" word is
// itself the nearest context word) to look up that shorter context's
// own cached back-off weight. Both uses are the same hash because a
// context of length n, viewed as an n-gram in its own right, has its
// nearest word as its predicted word and the rest as its context -
// exactly the shape hash.ChainHash expects.
func contextKey(words []vocab.WordIndex) uint64 {
	ids := make([]hash.WordIndex, len(words))
	for i, w := range words {
		ids[i] = hash.WordIndex(w)
	}
	return hash.ChainHash(ids)
}

// FullScore implements C9: Score(state, word) -> (prob, matched_order,
// next_state). prob is natural-log (ln); matchedOrder is in [0, order]
// per §8 property 1 (0 only for an unknown word scored against no
// n-gram at all, per the documented <unk> convention in DESIGN.md).
func (s *scorer) FullScore(state State, word vocab.WordIndex) (prob float32, matchedOrder int, next State) {
	known := word != vocab.Unk

	var accumulated float32
	highest := int(state.Length) + 1
	if highest > s.order {
		highest = s.order
	}

	// <unk> is defined to never match a stored n-gram (DESIGN.md's Open
	// Question decision), but it still backs off through every context
	// level on its way down to the unigram, the same as any other word
	// that matches nothing: each skipped level still contributes its
	// cached back-off weight to the final probability.
	matched := 0
	for length := highest; length >= 2; length-- {
		ctxLen := length - 1
		found := false
		var entryProb float32
		if known {
			ids := make([]vocab.WordIndex, ctxLen+1)
			ids[0] = word
			copy(ids[1:], state.Words[:ctxLen])
			key := contextKey(ids)
			if length == s.order {
				if entry, ok := s.longest.Find(key); ok {
					found, entryProb = true, entry.Prob
				}
			} else if entry, ok := s.middle[length-2].Find(key); ok {
				found, entryProb = true, entry.Prob
			}
		}
		if found {
			prob = accumulated + entryProb
			matched = length
			break
		}
		accumulated += state.Backoffs[ctxLen-1]
	}

	if matched == 0 {
		entry := s.unigrams.Get(int(word))
		prob = accumulated + entry.Prob
		if known {
			matched = 1
		}
		// matched stays 0 for an unknown word: no stored n-gram
		// contributed to this score, per the documented convention.
	}

	next = s.nextState(state, word, matched)
	return prob, matched, next
}

// nextState builds the successor state: the new nearest-first context
// (word prepended, truncated to min(matched, order-1) words) with every
// cached back-off weight recomputed fresh against that new context.
func (s *scorer) nextState(state State, word vocab.WordIndex, matched int) State {
	var next State
	newLength := matched
	if newLength > MaxOrder-1 {
		newLength = MaxOrder - 1
	}
	if newLength > s.order-1 {
		newLength = s.order - 1
	}
	next.Length = uint8(newLength)

	next.Words[0] = word
	for i := 1; i < newLength; i++ {
		next.Words[i] = state.Words[i-1]
	}

	if s.order > 1 {
		next.Backoffs[0] = s.unigrams.Get(int(word)).Backoff
	}
	for k := 1; k < newLength; k++ {
		ctx := next.Words[:k+1]
		key := contextKey(ctx)
		length := k + 1
		var backoff float32
		if length == s.order {
			// The highest order never carries a back-off weight (it is
			// never itself backed off from), so this slot stays 0.
		} else if entry, ok := s.middle[length-2].Find(key); ok {
			backoff = entry.Backoff
		}
		next.Backoffs[k] = backoff
	}

	return next
}
