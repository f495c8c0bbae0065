// Package main implements chainck, the taskchain maintenance tool, which
// verifies and repairs the linked-list invariant of every branch stored in
// a bolt-backed task chain file.
//
// The multi-write operations of the chain layer (append, delete, drag)
// have no cross-item atomicity: a crash or lost race between sibling
// writes can orphan a member node or leave two nodes pointing at the same
// successor. chainck is the offline mitigation for that window:
//
//   - In its default mode it walks every branch and reports whether the
//     chain invariant holds (the head reaches the tail marker visiting
//     every live member exactly once).
//   - With --repair it rewrites the pointers: unreachable members are
//     re-linked at the tail in key order, duplicate pointers are resolved,
//     and a missing head sentinel is recreated.
//
// Configuration:
//   - --db / CHAINCK_DB: Path to the bolt file (required)
//   - --branch:          Branch to examine, repeatable (default: all)
//   - --repair:          Apply fixes instead of only reporting
//   - --verbose:         Enable backend debug logging
//
// Example usage:
//
//	# Report only
//	chainck --db tasks.db
//
//	# Fix one branch
//	chainck --db tasks.db --branch inbox --repair
//
// Exit codes:
//   - 0: All examined branches clean (or repaired)
//   - 1: Usage or backend error
//   - 2: Corruption found and --repair not given
package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/exp/slices"

	"github.com/dreamware/taskchain/internal/backend"
	"github.com/dreamware/taskchain/internal/chain"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

// getenv returns the environment value for key, or fallback if unset.
func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		dbPath   = pflag.String("db", getenv("CHAINCK_DB", ""), "path to the bolt file (or $CHAINCK_DB)")
		branches = pflag.StringSlice("branch", nil, "branch to examine, repeatable (default: all)")
		repair   = pflag.Bool("repair", false, "apply fixes instead of only reporting")
		verbose  = pflag.Bool("verbose", false, "enable backend debug logging")
	)
	pflag.Parse()

	if *dbPath == "" {
		logFatal("chainck: no database given (use --db or $CHAINCK_DB)")
		return
	}

	code, err := run(*dbPath, *branches, *repair, *verbose, os.Stdout)
	if err != nil {
		logFatal("chainck: %v", err)
		return
	}
	os.Exit(code)
}

// run opens the backend and checks (or repairs) the selected branches,
// writing one summary line per branch plus a storage footer to out.
// Returns the process exit code.
func run(dbPath string, only []string, repair, verbose bool, out io.Writer) (int, error) {
	var opts []backend.BoltOption
	if verbose {
		opts = append(opts, backend.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))))
	}

	b, err := backend.OpenBolt(dbPath, opts...)
	if err != nil {
		return 0, err
	}
	defer b.Close()

	branches := only
	if len(branches) == 0 {
		branches, err = b.Branches()
		if err != nil {
			return 0, err
		}
	}
	slices.Sort(branches)

	store := chain.New(b)
	dirty := 0
	for _, branch := range branches {
		var report chain.RepairReport
		if repair {
			report, err = store.Repair(branch)
		} else {
			report, err = store.Check(branch)
		}
		if err != nil {
			return 0, fmt.Errorf("branch %s: %w", branch, err)
		}

		fmt.Fprintln(out, summarize(report, repair))
		if !report.Clean() {
			dirty++
		}
	}

	stats, err := b.Stats()
	if err != nil {
		return 0, err
	}
	fmt.Fprintf(out, "%d nodes across %d branches\n", stats.Nodes, stats.Branches)

	// Corruption that was only reported, not fixed, is an actionable
	// outcome for scripts
	if dirty > 0 && !repair {
		return 2, nil
	}
	return 0, nil
}

// summarize renders one branch report as a single line.
func summarize(r chain.RepairReport, applied bool) string {
	if r.Clean() {
		return fmt.Sprintf("branch %s: clean (%d members)", r.Branch, r.Members)
	}

	verb := "needs"
	if applied {
		verb = "applied"
	}
	line := fmt.Sprintf("branch %s: %s %d pointer fixes, %d reattached", r.Branch, verb, r.Relinked, len(r.Reattached))
	if r.HeadCreated {
		line += ", head missing"
	}
	return fmt.Sprintf("%s (%d members)", line, r.Members)
}
