// Command kenlm-build implements the "build" CLI named in spec §6: it
// reads an ARPA file and writes a binary model a later kenlm-query run
// (or any model.Open caller) can mmap directly.
package main

import (
	"flag"
	"fmt"
	"os"

	humanize "github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"

	"github.com/kho/kenlm/arpa"
	"github.com/kho/kenlm/binfmt"
	"github.com/kho/kenlm/build"
)

// Exit codes, per spec §6.
const (
	exitSuccess = 0
	exitFormat  = 1
	exitIO      = 2
	exitConfig  = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("kenlm-build", flag.ContinueOnError)
	probing := fs.Bool("probing", false, "use the probing hash table backend (default)")
	sorted := fs.Bool("sorted", false, "use the sorted-uniform backend")
	probingMultiplier := fs.Float64("probing-multiplier", 1.5, "load factor for the probing backend")
	memory := fs.Int64("memory", build.RAMBudgetRecords, "number of records (not bytes) held in memory per order before spilling to a temp run file")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("KENLM")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	positional := fs.Args()
	if len(positional) != 2 {
		fmt.Fprintln(os.Stderr, "usage: kenlm-build [--probing|--sorted] [--probing-multiplier=F] [--memory=RECORDS] <arpa> <binary>")
		return exitConfig
	}
	arpaPath, binPath := positional[0], positional[1]

	if *probing && *sorted {
		fmt.Fprintln(os.Stderr, "kenlm-build: --probing and --sorted are mutually exclusive")
		return exitConfig
	}
	if *probingMultiplier <= 1 {
		fmt.Fprintln(os.Stderr, "kenlm-build: --probing-multiplier must be > 1")
		return exitConfig
	}

	backend := binfmt.BackendProbing
	if *sorted {
		backend = binfmt.BackendSorted
	}

	in, err := os.Open(arpaPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kenlm-build:", err)
		return exitIO
	}
	defer in.Close()

	opts := build.Options{
		Backend:           backend,
		ProbingMultiplier: float32(*probingMultiplier),
		RAMBudgetRecords:  int(*memory),
		UnknownMissing:    build.UnknownMissingComplain,
		Messages:          os.Stderr,
	}

	if err := build.Build(func(sink arpa.Sink) error { return arpa.Load(in, sink) }, binPath, opts); err != nil {
		if _, ok := err.(*arpa.FormatError); ok {
			fmt.Fprintln(os.Stderr, "kenlm-build:", err)
			return exitFormat
		}
		fmt.Fprintln(os.Stderr, "kenlm-build:", err)
		return exitIO
	}

	info, err := os.Stat(binPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kenlm-build:", err)
		return exitIO
	}
	glog.Infof("kenlm-build: wrote %s backend=%s size=%s", binPath, backend, humanize.Bytes(uint64(info.Size())))
	return exitSuccess
}
