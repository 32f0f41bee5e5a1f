// Package arpa implements C7: a tokenizing reader for the ARPA n-gram
// text format. It does not own a vocabulary or any tables itself;
// instead it drives a Sink (implemented by the build package) with one
// callback per count-section header, unigram line, and higher-order
// n-gram line, in file order, so that the builder the spec asks for
// can assign word ids and fill packed tables as it goes (§4.7 step 2).
package arpa

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// FormatError reports a violation of the ARPA grammar, with enough
// location information for a caller to point a user at the bad line.
type FormatError struct {
	ByteOffset int64
	LineNumber int
	Line       string
	Message    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("arpa: line %d (byte offset %d): %s: %q", e.LineNumber, e.ByteOffset, e.Message, e.Line)
}

func newFormatError(lineNumber int, byteOffset int64, line []byte, format string, args ...any) *FormatError {
	return &FormatError{
		ByteOffset: byteOffset,
		LineNumber: lineNumber,
		Line:       string(line),
		Message:    fmt.Sprintf(format, args...),
	}
}

// Sink receives the contents of an ARPA file as it is tokenized. Orders
// are 1-based (order 1 is unigrams). HasBackoff is false for the
// trailing backoff field being absent, which is always true for the
// highest order and legal (but not required) for every other order.
type Sink interface {
	// Counts is called once, with counts[i] = number of (i+1)-grams, as
	// declared by the \data\ section. highestOrder = len(counts).
	Counts(counts []int) error
	// Unigram is called once per 1-gram line, in file order.
	Unigram(word []byte, prob float32, backoff float32, hasBackoff bool) error
	// Ngram is called once per higher-order n-gram line. words is in
	// ARPA file order: words[0] is the first context word, words[len-1]
	// is the predicted word.
	Ngram(order int, words [][]byte, prob float32, backoff float32, hasBackoff bool) error
}

// Load reads r as a complete ARPA file, calling sink's methods in file
// order, and returns the first FormatError encountered. The grammar
// enforced is: a \data\ header with ngram counts, one \K-grams: section
// per order in order, and a final \end\ sentinel; a backoff field on the
// highest order's n-gram lines is rejected. Blank lines are skipped
// wherever they occur, so a section that is not followed by a blank line
// is accepted.
func Load(r io.Reader, sink Sink) error {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	s.Split(lineSplit)

	lr := &lineReader{scanner: s}

	if err := expectLiteral(lr, `\data\`); err != nil {
		return err
	}
	counts, err := readCounts(lr)
	if err != nil {
		return err
	}
	if err := sink.Counts(counts); err != nil {
		return err
	}
	order := len(counts)
	for k := 1; k <= order; k++ {
		if err := readSection(lr, k, order, sink); err != nil {
			return err
		}
	}
	line, ok, err := lr.next()
	if err != nil {
		return err
	}
	if !ok || !bytes.Equal(line, []byte(`\end\`)) {
		return lr.errorf(line, `expected "\end\"`)
	}
	return nil
}

func readCounts(lr *lineReader) ([]int, error) {
	var counts []int
	for {
		line, ok, err := lr.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, lr.errorf(nil, "unexpected end of file in counts section")
		}
		if len(line) > 0 && line[0] == '\\' {
			if len(counts) == 0 {
				return nil, lr.errorf(line, "expected at least one \"ngram N=C\" line")
			}
			lr.pushback(line)
			// Consume the blank line separating counts from the first
			// \1-grams: section header; it was folded in by lineSplit
			// already skipping blank lines, so nothing further to do.
			return counts, nil
		}
		tok, rest := tokenSplit(line)
		if tok != "ngram" {
			return nil, lr.errorf(line, `expected "ngram N=C"`)
		}
		eq, rest2 := tokenSplit(rest)
		n, c, err := parseCountAssignment(eq, rest2)
		if err != nil {
			return nil, lr.errorf(line, "%s", err)
		}
		for len(counts) < n {
			counts = append(counts, 0)
		}
		counts[n-1] = c
	}
}

func parseCountAssignment(tok string, rest []byte) (n, c int, err error) {
	if len(rest) != 0 {
		return 0, 0, fmt.Errorf("expected end of line after count assignment")
	}
	eq := bytes.IndexByte([]byte(tok), '=')
	if eq < 0 {
		return 0, 0, fmt.Errorf(`expected "N=C"`)
	}
	n, err = strconv.Atoi(tok[:eq])
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("expected positive integer order, got %q", tok[:eq])
	}
	c, err = strconv.Atoi(tok[eq+1:])
	if err != nil || c < 0 {
		return 0, 0, fmt.Errorf("expected non-negative integer count, got %q", tok[eq+1:])
	}
	return n, c, nil
}

// readSection reads the \K-grams: header and every entry line that
// follows, stopping at the next "\"-prefixed line (a later section
// header or \end\), exactly as the teacher's ngramEntries.Next does.
// The \data\ header's declared count for this order is informational
// only and is never used as a loop bound: a build that declares a
// count inconsistent with its actual line count (as spec.md's own §8
// worked example does) must still parse, matching KenLM's own leniency
// here.
func readSection(lr *lineReader, k, order int, sink Sink) error {
	header, ok, err := lr.next()
	if err != nil {
		return err
	}
	want := []byte(fmt.Sprintf(`\%d-grams:`, k))
	if !ok || !bytes.Equal(header, want) {
		return lr.errorf(header, "expected section header %q", want)
	}
	for {
		line, ok, err := lr.next()
		if err != nil {
			return err
		}
		if !ok {
			return lr.errorf(nil, "unexpected end of file in %d-grams section", k)
		}
		if len(line) > 0 && line[0] == '\\' {
			lr.pushback(line)
			return nil
		}
		if err := parseLine(lr, line, k, order, sink); err != nil {
			return err
		}
	}
}

func parseLine(lr *lineReader, line []byte, k, order int, sink Sink) error {
	tok, rest := tokenSplit(line)
	if tok == "" {
		return lr.errorf(line, "expected log-probability")
	}
	prob, err := parseWeight(tok)
	if err != nil {
		return lr.errorf(line, "invalid log-probability %q", tok)
	}

	if k == 1 {
		word, rest2 := tokenSplit(rest)
		if word == "" {
			return lr.errorf(line, "expected unigram word")
		}
		backoff, hasBackoff, err := parseOptionalBackoff(rest2, order == 1)
		if err != nil {
			return lr.errorf(line, "%s", err)
		}
		return sink.Unigram([]byte(word), prob, backoff, hasBackoff)
	}

	words := make([][]byte, k)
	xs := rest
	for i := 0; i < k; i++ {
		var w string
		w, xs = tokenSplit(xs)
		if w == "" {
			return lr.errorf(line, "expected %d context/predicted word(s)", k)
		}
		words[i] = []byte(w)
	}
	backoff, hasBackoff, err := parseOptionalBackoff(xs, k == order)
	if err != nil {
		return lr.errorf(line, "%s", err)
	}
	return sink.Ngram(k, words, prob, backoff, hasBackoff)
}

func parseOptionalBackoff(rest []byte, highestOrder bool) (backoff float32, has bool, err error) {
	tok, xs := tokenSplit(rest)
	if tok == "" {
		return 0, false, nil
	}
	if len(xs) != 0 {
		return 0, false, fmt.Errorf("expected end of line after backoff weight")
	}
	if highestOrder {
		return 0, false, fmt.Errorf("back-off weight is not allowed on the highest n-gram order")
	}
	w, err := parseWeight(tok)
	if err != nil {
		return 0, false, fmt.Errorf("invalid back-off weight %q", tok)
	}
	return w, true, nil
}

func parseWeight(tok string) (float32, error) {
	f, err := strconv.ParseFloat(tok, 32)
	if err != nil {
		return 0, err
	}
	return float32(f), nil
}

func expectLiteral(lr *lineReader, lit string) error {
	line, ok, err := lr.next()
	if err != nil {
		return err
	}
	if !ok || !bytes.Equal(line, []byte(lit)) {
		return lr.errorf(line, "expected %q", lit)
	}
	return nil
}
