package arpa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordedUnigram struct {
	word          string
	prob, backoff float32
	hasBackoff    bool
}

type recordedNgram struct {
	order         int
	words         []string
	prob, backoff float32
	hasBackoff    bool
}

type recordingSink struct {
	counts   []int
	unigrams []recordedUnigram
	ngrams   []recordedNgram
}

func (s *recordingSink) Counts(counts []int) error {
	s.counts = append([]int(nil), counts...)
	return nil
}

func (s *recordingSink) Unigram(word []byte, prob, backoff float32, hasBackoff bool) error {
	s.unigrams = append(s.unigrams, recordedUnigram{string(word), prob, backoff, hasBackoff})
	return nil
}

func (s *recordingSink) Ngram(order int, words [][]byte, prob, backoff float32, hasBackoff bool) error {
	strs := make([]string, len(words))
	for i, w := range words {
		strs[i] = string(w)
	}
	s.ngrams = append(s.ngrams, recordedNgram{order, strs, prob, backoff, hasBackoff})
	return nil
}

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

func TestLoadToyARPA(t *testing.T) {
	var sink recordingSink
	require.NoError(t, Load(strings.NewReader(toyARPA), &sink))

	require.Equal(t, []int{5, 4, 3}, sink.counts)
	require.Len(t, sink.unigrams, 5)
	require.Equal(t, recordedUnigram{"<unk>", -2.0, 0, false}, sink.unigrams[0])
	require.Equal(t, recordedUnigram{"<s>", -99, 0, true}, sink.unigrams[1])
	require.Equal(t, recordedUnigram{"</s>", -1.0, 0, false}, sink.unigrams[2])
	require.Equal(t, recordedUnigram{"a", -0.5, -0.2, true}, sink.unigrams[3])
	require.Equal(t, recordedUnigram{"b", -0.7, -0.3, true}, sink.unigrams[4])

	require.Len(t, sink.ngrams, 4)
	require.Equal(t, recordedNgram{2, []string{"<s>", "a"}, -0.1, -0.05, true}, sink.ngrams[0])
	require.Equal(t, recordedNgram{2, []string{"a", "</s>"}, -0.2, 0, false}, sink.ngrams[1])
	require.Equal(t, recordedNgram{2, []string{"a", "b"}, -0.3, -0.1, true}, sink.ngrams[2])
	require.Equal(t, recordedNgram{3, []string{"<s>", "a", "b"}, -0.25, 0, false}, sink.ngrams[3])
}

func TestLoadRejectsBackoffOnHighestOrder(t *testing.T) {
	bad := strings.Replace(toyARPA, "-0.25\t<s> a b", "-0.25\t<s> a b\t-0.1", 1)
	var sink recordingSink
	err := Load(strings.NewReader(bad), &sink)
	require.Error(t, err)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	require.Contains(t, fe.Message, "highest n-gram order")
}

func TestLoadRejectsMissingEndSentinel(t *testing.T) {
	bad := strings.Replace(toyARPA, `\end\`, "", 1)
	var sink recordingSink
	err := Load(strings.NewReader(bad), &sink)
	require.Error(t, err)
}

func TestLoadRejectsMalformedCounts(t *testing.T) {
	bad := strings.Replace(toyARPA, "ngram 1=5", "ngram one=5", 1)
	var sink recordingSink
	err := Load(strings.NewReader(bad), &sink)
	require.Error(t, err)
}

func TestLoadRejectsTruncatedNgramLine(t *testing.T) {
	bad := strings.Replace(toyARPA, "-0.3\ta b\t-0.1", "-0.3\ta", 1)
	var sink recordingSink
	err := Load(strings.NewReader(bad), &sink)
	require.Error(t, err)
}
