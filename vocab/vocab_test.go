package vocab

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kho/kenlm/packed"
)

func TestProbingBuilderRoundTrip(t *testing.T) {
	b := NewProbingBuilder(8)
	unk := b.Index([]byte("never seen"))
	require.Equal(t, Unk, unk)

	bos := b.Insert([]byte(BeginSentenceWord))
	eos := b.Insert([]byte(EndSentenceWord))
	a := b.Insert([]byte("a"))
	same := b.Insert([]byte("a"))
	require.Equal(t, a, same)

	perm, err := b.FinishLoading()
	require.NoError(t, err)
	require.Nil(t, perm)
	require.Equal(t, bos, b.BeginSentence())
	require.Equal(t, eos, b.EndSentence())

	table, _, err := b.BuildTable(1.5)
	require.NoError(t, err)
	vocab := NewProbingVocab(table, b.Size(), bos, eos)
	require.Equal(t, a, vocab.Index([]byte("a")))
	require.Equal(t, Unk, vocab.Index([]byte("nope")))
	require.Equal(t, b.Size(), vocab.Size())
}

func TestProbingBuilderMissingSentenceMarkers(t *testing.T) {
	b := NewProbingBuilder(4)
	b.Insert([]byte("a"))
	_, err := b.FinishLoading()
	require.ErrorIs(t, err, ErrMissingBeginSentence)

	b2 := NewProbingBuilder(4)
	b2.Insert([]byte(BeginSentenceWord))
	_, err = b2.FinishLoading()
	require.ErrorIs(t, err, ErrMissingEndSentence)
}

func TestSortedBuilderPermutationReindexesWords(t *testing.T) {
	b := NewSortedBuilder(8)
	provBOS := b.Insert([]byte(BeginSentenceWord))
	provEOS := b.Insert([]byte(EndSentenceWord))
	provA := b.Insert([]byte("a"))
	provB := b.Insert([]byte("b"))

	perm, err := b.FinishLoading()
	require.NoError(t, err)
	require.Equal(t, Unk, perm[Unk])

	// Every non-unk provisional id must map to a distinct id in [1, n-1].
	seen := map[WordIndex]bool{}
	for _, prov := range []WordIndex{provBOS, provEOS, provA, provB} {
		final := perm[prov]
		require.False(t, seen[final], "duplicate final id %d", final)
		seen[final] = true
		require.GreaterOrEqual(t, int(final), 1)
		require.LessOrEqual(t, int(final), 4)
	}

	table, _ := b.BuildTable(perm)
	vocab := NewSortedVocab(table, b.Size(), perm[provBOS], perm[provEOS])
	require.Equal(t, perm[provA], vocab.Index([]byte("a")))
	require.Equal(t, perm[provB], vocab.Index([]byte("b")))
	require.Equal(t, Unk, vocab.Index([]byte("unknown-word")))
}

func TestProbingBuilderWarnsOnHashCollision(t *testing.T) {
	b := NewProbingBuilder(4)
	var msgs strings.Builder
	b.SetMessages(&msgs)

	first := b.insertHash(42, []byte("alpha"))
	second := b.insertHash(42, []byte("beta")) // forced collision: same hash, different string

	require.Equal(t, first, second, "a colliding insert must keep the first entry's id")
	require.Contains(t, msgs.String(), "alpha")
	require.Contains(t, msgs.String(), "beta")
}

func TestSortedBuilderWarnsOnHashCollision(t *testing.T) {
	b := NewSortedBuilder(4)
	var msgs strings.Builder
	b.SetMessages(&msgs)

	first := b.insertHash(42, []byte("alpha"))
	second := b.insertHash(42, []byte("beta"))

	require.Equal(t, first, second)
	require.Contains(t, msgs.String(), "alpha")
	require.Contains(t, msgs.String(), "beta")
}

func TestSortedVocabIterationIsHashSorted(t *testing.T) {
	b := NewSortedBuilder(8)
	b.Insert([]byte(BeginSentenceWord))
	b.Insert([]byte(EndSentenceWord))
	for _, w := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
		b.Insert([]byte(w))
	}
	perm, err := b.FinishLoading()
	require.NoError(t, err)
	_, buf := b.BuildTable(perm)
	require.NotEmpty(t, buf)

	records := packed.NewTable[WordIndex](buf, wordIndexCodec{})
	require.Equal(t, b.Size()-1, records.Len())
	for i := 1; i < records.Len(); i++ {
		require.Less(t, records.Key(i-1), records.Key(i), "hashes not ascending at index %d", i)
	}
}
