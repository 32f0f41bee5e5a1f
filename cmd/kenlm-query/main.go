// Command kenlm-query implements the "query" CLI named in spec §6: it
// opens a model (ARPA or binary, detected by a quick magic-byte sniff)
// and scores newline-separated sentences read from stdin, printing one
// score per token plus a sentence total.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/peterbourgon/ff/v3"

	"github.com/kho/kenlm/model"
	"github.com/kho/kenlm/vocab"
)

const (
	exitSuccess = 0
	exitFormat  = 1
	exitIO      = 2
	exitConfig  = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin *os.File, stdout *os.File) int {
	fs := flag.NewFlagSet("kenlm-query", flag.ContinueOnError)
	cacheSize := fs.Int("cache", 1<<16, "number of (state,word) score results to cache")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("KENLM")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	positional := fs.Args()
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "usage: kenlm-query <model>")
		return exitConfig
	}
	modelPath := positional[0]

	m, err := openEither(modelPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kenlm-query:", err)
		return exitIO
	}
	defer m.Close()

	cache, err := lru.New[scoreKey, scoreResult](*cacheSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kenlm-query:", err)
		return exitConfig
	}

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	w := bufio.NewWriter(stdout)
	defer w.Flush()

	for scanner.Scan() {
		scoreSentence(m, cache, scanner.Bytes(), w)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "kenlm-query:", err)
		return exitIO
	}
	return exitSuccess
}

// openEither opens path as a binary model if it carries the binfmt
// magic tag, or as ARPA text otherwise; this mirrors kenlm's own
// "either format, sniffed" loading convenience.
func openEither(path string) (*model.Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var magic [8]byte
	_, readErr := f.Read(magic[:])
	f.Close()
	if readErr == nil && string(magic[:]) == "kenlmbin" {
		return model.Open(path, model.Config{Messages: os.Stderr})
	}

	f, err = os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return model.NewFromARPA(f, model.Config{Messages: os.Stderr})
}

type scoreKey struct {
	state model.State
	word  vocab.WordIndex
}

type scoreResult struct {
	prob    float32
	matched int
	next    model.State
}

func scoreSentence(m *model.Model, cache *lru.Cache[scoreKey, scoreResult], line []byte, w *bufio.Writer) {
	state := m.BeginSentenceState()
	var total float64
	for _, tok := range bytes.Fields(line) {
		word := m.Vocab().Index(tok)
		key := scoreKey{state: state, word: word}
		res, ok := cache.Get(key)
		if !ok {
			prob, matched, next := m.FullScore(state, word)
			res = scoreResult{prob: prob, matched: matched, next: next}
			cache.Add(key, res)
		}
		total += float64(res.prob)
		fmt.Fprintf(w, "%s\t%g\t%d\n", tok, res.prob, res.matched)
		state = res.next
	}
	eos := m.Vocab().EndSentence()
	prob, matched, _ := m.FullScore(state, eos)
	total += float64(prob)
	fmt.Fprintf(w, "</s>\t%g\t%d\n", prob, matched)
	fmt.Fprintf(w, "total\t%g\n\n", total)
}
