package arpa

import "bufio"

// isSpace reports whether b is ARPA-insignificant horizontal
// whitespace. Newline is handled separately by lineSplit since it is
// the line terminator, not intra-line whitespace.
func isSpace(b byte) bool {
	switch b {
	case '\t', '\v', '\f', '\r', ' ':
		return true
	default:
		return false
	}
}

// lineSplit is a bufio.SplitFunc that yields one non-blank, trimmed
// line per token, silently skipping blank lines (and leading/trailing
// whitespace on every line). Blank lines are never materialized as
// tokens, so the reader cannot check that one follows each grams
// section; their presence or absence is not verified.
func lineSplit(data []byte, atEOF bool) (int, []byte, error) {
	l, r, n := -1, -1, 0
	for i, b := range data {
		if !isSpace(b) && b != '\n' {
			l = i
			break
		}
	}
	if l < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	for i, b := range data[l+1:] {
		if b == '\n' {
			r, n = l+i, l+i+2
			break
		}
	}
	if r < 0 {
		if !atEOF {
			return l, nil, nil
		}
		r, n = len(data)-1, len(data)
	}
	for r > l && isSpace(data[r]) {
		r--
	}
	return n, data[l : r+1], nil
}

func tokenSplit(line []byte) (string, []byte) {
	r := -1
	for i, b := range line {
		if isSpace(b) {
			r = i
			break
		}
	}
	if r < 0 {
		r = len(line)
	}
	token := string(line[:r])
	for i, b := range line[r:] {
		if !isSpace(b) {
			return token, line[r+i:]
		}
	}
	return token, nil
}

// lineReader wraps a bufio.Scanner split on lineSplit with one line of
// pushback (needed by readCounts, which must peek at the line that
// ends the count section without consuming it) and running byte/line
// position tracking for FormatError.
type lineReader struct {
	scanner    *bufio.Scanner
	pending    []byte
	hasPending bool
	byteOffset int64
	lineNumber int
}

func (lr *lineReader) next() ([]byte, bool, error) {
	if lr.hasPending {
		lr.hasPending = false
		return lr.pending, true, nil
	}
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	line := lr.scanner.Bytes()
	lr.byteOffset += int64(len(line))
	lr.lineNumber++
	out := make([]byte, len(line))
	copy(out, line)
	return out, true, nil
}

func (lr *lineReader) pushback(line []byte) {
	lr.pending = line
	lr.hasPending = true
}

func (lr *lineReader) errorf(line []byte, format string, args ...any) error {
	return newFormatError(lr.lineNumber, lr.byteOffset, line, format, args...)
}
