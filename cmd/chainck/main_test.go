package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dreamware/taskchain/internal/backend"
	"github.com/dreamware/taskchain/internal/chain"
)

// seedBranch opens the bolt file, appends the given titles to a branch,
// and closes it again so run() can take the file lock.
func seedBranch(t *testing.T, path, branch string, titles []string) []string {
	t.Helper()

	b, err := backend.OpenBolt(path, backend.WithNoSync(true))
	if err != nil {
		t.Fatalf("Failed to open backend: %v", err)
	}
	defer b.Close()

	store := chain.New(b)
	var keys []string
	for _, title := range titles {
		key, err := chain.NewKey()
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		if err := store.Put(key, branch, map[string]string{"title": title}); err != nil {
			t.Fatalf("Failed to append %s: %v", title, err)
		}
		keys = append(keys, key)
	}
	return keys
}

// orphanNode plants an unreachable member node in a branch.
func orphanNode(t *testing.T, path, branch string) {
	t.Helper()

	b, err := backend.OpenBolt(path, backend.WithNoSync(true))
	if err != nil {
		t.Fatalf("Failed to open backend: %v", err)
	}
	defer b.Close()

	ok, err := b.PutIfAbsent(&backend.Node{
		Key:     "zz-orphan",
		Branch:  branch,
		Next:    chain.TailMarker,
		Payload: map[string]string{"title": "stray"},
	})
	if err != nil || !ok {
		t.Fatalf("Failed to plant orphan: ok=%v err=%v", ok, err)
	}
}

// TestRunCleanDatabase verifies a healthy file exits 0 and reports clean
func TestRunCleanDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	seedBranch(t, path, "inbox", []string{"A", "B"})
	seedBranch(t, path, "done", []string{"C"})

	var out bytes.Buffer
	code, err := run(path, nil, false, false, &out)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if code != 0 {
		t.Errorf("Expected exit code 0, got %d", code)
	}

	got := out.String()
	if !strings.Contains(got, "branch done: clean (1 members)") {
		t.Errorf("Missing done summary in output:\n%s", got)
	}
	if !strings.Contains(got, "branch inbox: clean (2 members)") {
		t.Errorf("Missing inbox summary in output:\n%s", got)
	}
	// 3 members + 2 head sentinels
	if !strings.Contains(got, "5 nodes across 2 branches") {
		t.Errorf("Missing stats footer in output:\n%s", got)
	}
}

// TestRunReportsCorruption verifies a dirty branch exits 2 without --repair
func TestRunReportsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	seedBranch(t, path, "inbox", []string{"A"})
	orphanNode(t, path, "inbox")

	var out bytes.Buffer
	code, err := run(path, nil, false, false, &out)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if code != 2 {
		t.Errorf("Expected exit code 2, got %d", code)
	}
	if !strings.Contains(out.String(), "1 reattached") {
		t.Errorf("Missing corruption summary in output:\n%s", out.String())
	}
}

// TestRunRepairs verifies --repair fixes the branch and exits 0
func TestRunRepairs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	seedBranch(t, path, "inbox", []string{"A"})
	orphanNode(t, path, "inbox")

	var out bytes.Buffer
	code, err := run(path, nil, true, false, &out)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if code != 0 {
		t.Errorf("Expected exit code 0 after repair, got %d", code)
	}
	if !strings.Contains(out.String(), "applied") {
		t.Errorf("Missing applied summary in output:\n%s", out.String())
	}

	// A second pass must find nothing left to fix
	out.Reset()
	code, err = run(path, nil, false, false, &out)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if code != 0 {
		t.Errorf("Expected clean exit after repair, got %d", code)
	}
}

// TestRunBranchSelection verifies --branch limits the pass
func TestRunBranchSelection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	seedBranch(t, path, "inbox", []string{"A"})
	seedBranch(t, path, "done", []string{"B"})

	var out bytes.Buffer
	code, err := run(path, []string{"inbox"}, false, false, &out)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if code != 0 {
		t.Errorf("Expected exit code 0, got %d", code)
	}
	if strings.Contains(out.String(), "branch done") {
		t.Errorf("Unselected branch appeared in output:\n%s", out.String())
	}
}

// TestSummarize verifies the one-line report rendering
func TestSummarize(t *testing.T) {
	clean := chain.RepairReport{Branch: "b", Members: 3}
	if got := summarize(clean, false); got != "branch b: clean (3 members)" {
		t.Errorf("Clean summary wrong: %q", got)
	}

	dirty := chain.RepairReport{
		Branch:      "b",
		Members:     4,
		Relinked:    2,
		Reattached:  []string{"x"},
		HeadCreated: true,
	}
	want := "branch b: needs 2 pointer fixes, 1 reattached, head missing (4 members)"
	if got := summarize(dirty, false); got != want {
		t.Errorf("Dirty summary wrong:\n got %q\nwant %q", got, want)
	}

	applied := summarize(dirty, true)
	if !strings.Contains(applied, "applied 2 pointer fixes") {
		t.Errorf("Applied summary wrong: %q", applied)
	}
}
