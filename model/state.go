package model

import "github.com/kho/kenlm/vocab"

// MaxOrder bounds the n-gram order this package supports, matching the
// fixed-capacity State representation required by spec §3 (two
// fixed-size arrays, no allocation per Score call).
const MaxOrder = 6

// State is an opaque score-chaining token: the most recent words (most
// recent first) plus the cached back-off weight of each of their
// suffixes. Two states are equal iff Length and the meaningful prefix
// of Words match; positions at or past Length are unspecified, per §3.
type State struct {
	Words    [MaxOrder - 1]vocab.WordIndex
	Backoffs [MaxOrder - 1]float32
	Length   uint8
}

// Equal reports whether s and other represent the same scoring context.
func (s State) Equal(other State) bool {
	if s.Length != other.Length {
		return false
	}
	for i := 0; i < int(s.Length); i++ {
		if s.Words[i] != other.Words[i] {
			return false
		}
	}
	return true
}
