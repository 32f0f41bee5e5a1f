package model

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/kho/kenlm/binfmt"
	"github.com/kho/kenlm/build"
	"github.com/kho/kenlm/vocab"
)

const toyARPA = `
\data\
ngram 1=5
ngram 2=4
ngram 3=3

\1-grams:
-2.0	<unk>
-99	<s>	0.0
-1.0	</s>
-0.5	a	-0.2
-0.7	b	-0.3

\2-grams:
-0.1	<s> a	-0.05
-0.2	a </s>
-0.3	a b	-0.1

\3-grams:
-0.25	<s> a b

\end\
`

func ln10(x float32) float32 { return x * float32(math.Ln10) }

func buildToyModel(t *testing.T, backend binfmt.Backend) *Model {
	t.Helper()
	m, err := NewFromARPA(strings.NewReader(toyARPA), Config{Backend: backend})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func toyScenarios(t *testing.T, m *Model) {
	t.Helper()

	a := m.Vocab().Index([]byte("a"))
	b := m.Vocab().Index([]byte("b"))
	unk := m.Vocab().Index([]byte("<unk>"))
	eos := m.Vocab().Index([]byte("</s>"))
	require.Equal(t, vocab.Unk, unk)

	s0 := m.BeginSentenceState()

	prob, matched, s1 := m.FullScore(s0, a)
	require.InDelta(t, ln10(-0.1), prob, 1e-4)
	require.Equal(t, 2, matched)

	prob, matched, _ = m.FullScore(s1, b)
	require.InDelta(t, ln10(-0.25), prob, 1e-4)
	require.Equal(t, 3, matched)

	prob, matched, _ = m.FullScore(s0, unk)
	require.InDelta(t, ln10(-2.0), prob, 1e-4)
	require.Equal(t, 0, matched)

	prob, matched, _ = m.FullScore(s0, eos)
	require.InDelta(t, ln10(-1.0), prob, 1e-4)
	require.Equal(t, 1, matched)
}

func TestToyARPAScenariosProbingBackend(t *testing.T) {
	toyScenarios(t, buildToyModel(t, binfmt.BackendProbing))
}

func TestToyARPAScenariosSortedBackend(t *testing.T) {
	toyScenarios(t, buildToyModel(t, binfmt.BackendSorted))
}

func TestNullContextStateMatchesBeginSentenceAfterFeedingBOS(t *testing.T) {
	// §8 property 2: scoring from the null-context state and then
	// explicitly feeding "<s>" reproduces BeginSentenceState's behavior,
	// modulo the forced -inf unigram term for "<s>" itself.
	m := buildToyModel(t, binfmt.BackendProbing)
	bos := m.Vocab().BeginSentence()

	_, _, viaFeed := m.FullScore(m.NullContextState(), bos)
	viaBegin := m.BeginSentenceState()

	require.True(t, viaFeed.Equal(viaBegin))
}

func TestOrderReportsConfiguredOrder(t *testing.T) {
	m := buildToyModel(t, binfmt.BackendProbing)
	require.Equal(t, 3, m.Order())
}

func TestRejectsBackoffOnHighestOrder(t *testing.T) {
	bad := strings.Replace(toyARPA, "-0.25\t<s> a b", "-0.25\t<s> a b\t-0.1", 1)
	_, err := NewFromARPA(strings.NewReader(bad), Config{})
	require.Error(t, err)
}

func TestRejectsMissingEndSentence(t *testing.T) {
	bad := strings.Replace(toyARPA, "-1.0\t</s>\n", "", 1)
	bad = strings.Replace(bad, "ngram 1=5", "ngram 1=4", 1)
	_, err := NewFromARPA(strings.NewReader(bad), Config{})
	require.Error(t, err)
}

func TestRoundTripThroughBinaryFile(t *testing.T) {
	for _, backend := range []binfmt.Backend{binfmt.BackendProbing, binfmt.BackendSorted} {
		backend := backend
		t.Run(backend.String(), func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "toy.bin")

			built, err := NewFromARPA(strings.NewReader(toyARPA), Config{Backend: backend, WriteMmap: path})
			require.NoError(t, err)
			defer built.Close()

			reopened, err := Open(path, Config{})
			require.NoError(t, err)
			defer reopened.Close()

			a := built.Vocab().Index([]byte("a"))
			b := built.Vocab().Index([]byte("b"))
			s0 := built.BeginSentenceState()

			wantProb1, wantMatched1, s1 := built.FullScore(s0, a)
			gotProb1, gotMatched1, gotS1 := reopened.FullScore(reopened.BeginSentenceState(), a)
			require.Equal(t, wantProb1, gotProb1) // §8 property 3: bitwise-identical f32
			require.Equal(t, wantMatched1, gotMatched1)
			require.True(t, cmp.Equal(s1, gotS1))

			wantProb2, wantMatched2, _ := built.FullScore(s1, b)
			gotProb2, gotMatched2, _ := reopened.FullScore(gotS1, b)
			require.Equal(t, wantProb2, gotProb2)
			require.Equal(t, wantMatched2, gotMatched2)
		})
	}
}

func TestUnknownMissingThrowsByDefault(t *testing.T) {
	noUnk := strings.Replace(toyARPA, "-2.0\t<unk>\n", "", 1)
	noUnk = strings.Replace(noUnk, "ngram 1=5", "ngram 1=4", 1)
	_, err := NewFromARPA(strings.NewReader(noUnk), Config{})
	require.Error(t, err)
}

func TestUnknownMissingSilentSubstitutes(t *testing.T) {
	noUnk := strings.Replace(toyARPA, "-2.0\t<unk>\n", "", 1)
	noUnk = strings.Replace(noUnk, "ngram 1=5", "ngram 1=4", 1)

	m, err := NewFromARPA(strings.NewReader(noUnk), Config{
		UnknownMissing:     build.UnknownMissingSilent,
		UnknownMissingProb: -13.8,
	})
	require.NoError(t, err)
	defer m.Close()

	prob, matched, _ := m.FullScore(m.BeginSentenceState(), vocab.Unk)
	require.InDelta(t, -13.8, prob, 1e-4)
	require.Equal(t, 0, matched)
}

// TestMessagesSinkStaysQuietOnCleanLoad checks Config.Messages is wired
// through to the build but never fires for a collision-free file; the
// collision path itself (which needs a forced hash, not a real one) is
// covered by vocab_test.go's white-box insertHash test.
func TestMessagesSinkStaysQuietOnCleanLoad(t *testing.T) {
	var buf strings.Builder
	m, err := NewFromARPA(strings.NewReader(toyARPA), Config{Messages: &buf})
	require.NoError(t, err)
	defer m.Close()
	require.Empty(t, buf.String())
}

// TestMessageLogWritesToRotatingFile checks Config.MessageLog is wired
// through to the build's message sink via lumberjack, alongside any
// explicit Config.Messages, per SPEC_FULL.md's DOMAIN STACK entry for
// gopkg.in/natefinch/lumberjack.v2.
func TestMessageLogWritesToRotatingFile(t *testing.T) {
	noUnk := strings.Replace(toyARPA, "-2.0\t<unk>\n", "", 1)
	noUnk = strings.Replace(noUnk, "ngram 1=5", "ngram 1=4", 1)

	dir := t.TempDir()
	logPath := filepath.Join(dir, "kenlm-messages.log")

	var buf strings.Builder
	m, err := NewFromARPA(strings.NewReader(noUnk), Config{
		UnknownMissing:     build.UnknownMissingComplain,
		UnknownMissingProb: -13.8,
		Messages:           &buf,
		MessageLog:         logPath,
	})
	require.NoError(t, err)
	defer m.Close()

	require.Contains(t, buf.String(), "<unk>")

	logged, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(logged), "<unk>")
}

func TestRandomChainHashCrossCheck(t *testing.T) {
	// §8 property 4: the loader's key for a stored n-gram must match the
	// scorer's key for the same word sequence. Build a model from a
	// randomly generated small ARPA file and confirm every n-gram it
	// declares is actually found by the scorer at its expected order
	// (anything else would mean the keys diverged and every higher-order
	// lookup silently degraded to a lower one).
	rng := rand.New(rand.NewSource(1))
	vocabWords := []string{"a", "b", "c", "d", "e"}

	var sb strings.Builder
	sb.WriteString("\\data\\\nngram 1=8\nngram 2=6\nngram 3=6\n\n\\1-grams:\n")
	sb.WriteString("-2.0\t<unk>\n-99\t<s>\t0.0\n-1.0\t</s>\n")
	for _, w := range vocabWords {
		sb.WriteString(fmt.Sprintf("-1.0\t%s\t-0.1\n", w))
	}
	sb.WriteString("\n\\2-grams:\n")
	type pair struct{ x, y string }
	var bigrams []pair
	seen := map[pair]bool{}
	for len(bigrams) < 6 {
		p := pair{vocabWords[rng.Intn(len(vocabWords))], vocabWords[rng.Intn(len(vocabWords))]}
		if seen[p] {
			continue
		}
		seen[p] = true
		bigrams = append(bigrams, p)
		sb.WriteString(fmt.Sprintf("-0.2\t%s %s\t-0.05\n", p.x, p.y))
	}
	sb.WriteString("\n\\3-grams:\n")
	type triple struct{ x, y, z string }
	var trigrams []triple
	for i := 0; i < 6; i++ {
		p := bigrams[i]
		third := vocabWords[rng.Intn(len(vocabWords))]
		trigrams = append(trigrams, triple{p.x, p.y, third})
		sb.WriteString(fmt.Sprintf("-0.3\t%s %s %s\n", p.x, p.y, third))
	}
	sb.WriteString("\n\\end\\\n")

	m, err := NewFromARPA(strings.NewReader(sb.String()), Config{})
	require.NoError(t, err)
	defer m.Close()

	for _, p := range bigrams {
		wx := m.Vocab().Index([]byte(p.x))
		wy := m.Vocab().Index([]byte(p.y))
		var s State
		s.Length = 1
		s.Words[0] = wx
		_, matched, _ := m.FullScore(s, wy)
		require.GreaterOrEqualf(t, matched, 2, "bigram %s %s did not match at order >= 2", p.x, p.y)
	}
	for _, tr := range trigrams {
		var s State
		s.Length = 2
		s.Words[0] = m.Vocab().Index([]byte(tr.y))
		s.Words[1] = m.Vocab().Index([]byte(tr.x))
		_, matched, _ := m.FullScore(s, m.Vocab().Index([]byte(tr.z)))
		require.Equalf(t, 3, matched, "trigram %s %s %s did not match at order 3", tr.x, tr.y, tr.z)
	}
}
