package backend

import (
	"path/filepath"
	"testing"
)

// openTestBolt opens a throwaway bolt backend under t.TempDir
func openTestBolt(t *testing.T) *BoltBackend {
	t.Helper()

	b, err := OpenBolt(filepath.Join(t.TempDir(), "chain.db"), WithNoSync(true))
	if err != nil {
		t.Fatalf("Failed to open bolt backend: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("Failed to close bolt backend: %v", err)
		}
	})
	return b
}

// TestBoltBackend tests the persistent backend against the same contract
// the memory backend satisfies
func TestBoltBackend(t *testing.T) {
	t.Run("put get round trip", func(t *testing.T) {
		b := openTestBolt(t)

		ok, err := b.PutIfAbsent(node("k1", "b1", "~", map[string]string{"title": "first"}))
		if err != nil || !ok {
			t.Fatalf("PutIfAbsent failed: ok=%v err=%v", ok, err)
		}

		n, err := b.Get("k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if n.Branch != "b1" || n.Next != "~" || n.Payload["title"] != "first" {
			t.Errorf("Stored node mismatch: %+v", n)
		}

		_, err = b.Get("missing")
		if err != ErrNodeNotFound {
			t.Errorf("Expected ErrNodeNotFound, got %v", err)
		}
	})

	t.Run("conditional semantics", func(t *testing.T) {
		b := openTestBolt(t)
		b.PutIfAbsent(node("k1", "b1", "~", nil))

		ok, err := b.PutIfAbsent(node("k1", "b1", "other", nil))
		if err != nil {
			t.Fatalf("PutIfAbsent errored: %v", err)
		}
		if ok {
			t.Error("PutIfAbsent on existing key should be false")
		}

		next := "k2"
		if ok, _ := b.UpdateIf("k1", Patch{Next: &next}, "stale"); ok {
			t.Error("UpdateIf with stale expectation should be false")
		}
		if ok, _ := b.UpdateIf("k1", Patch{Next: &next}, "~"); !ok {
			t.Error("UpdateIf with correct expectation should succeed")
		}

		if ok, _ := b.DeleteIf("k1", "stale"); ok {
			t.Error("DeleteIf with stale expectation should be false")
		}
		if ok, _ := b.DeleteIf("k1", "k2"); !ok {
			t.Error("DeleteIf with correct expectation should succeed")
		}
		if ok, _ := b.DeleteIf("k1", "k2"); ok {
			t.Error("DeleteIf on missing key should be false")
		}
	})

	t.Run("reverse index queries", func(t *testing.T) {
		b := openTestBolt(t)
		b.PutIfAbsent(node("a", "b1", "c", nil))
		b.PutIfAbsent(node("c", "b1", "~", nil))
		b.PutIfAbsent(node("x", "b2", "~", nil))

		nodes, err := b.QueryByBranchNext("b1", "~", 1)
		if err != nil {
			t.Fatalf("QueryByBranchNext failed: %v", err)
		}
		if len(nodes) != 1 || nodes[0].Key != "c" {
			t.Errorf("Expected tail [c], got %v", nodes)
		}

		nodes, _ = b.QueryByBranchNext("b1", "c", 1)
		if len(nodes) != 1 || nodes[0].Key != "a" {
			t.Errorf("Expected predecessor [a], got %v", nodes)
		}

		// Index must move with the pointer
		next := "z"
		b.Update("a", Patch{Next: &next})
		nodes, _ = b.QueryByBranchNext("b1", "c", 1)
		if len(nodes) != 0 {
			t.Errorf("Stale index entry after update: %v", nodes)
		}
		nodes, _ = b.QueryByBranchNext("b1", "z", 1)
		if len(nodes) != 1 || nodes[0].Key != "a" {
			t.Errorf("Missing index entry after update: %v", nodes)
		}
	})

	t.Run("branch scan ordering", func(t *testing.T) {
		b := openTestBolt(t)
		b.PutIfAbsent(node("m", "b1", "~", nil))
		b.PutIfAbsent(node("#head#b1", "b1", "a", nil))
		b.PutIfAbsent(node("a", "b1", "m", nil))
		b.PutIfAbsent(node("other", "b2", "~", nil))

		nodes, err := b.QueryByBranch("b1", false)
		if err != nil {
			t.Fatalf("QueryByBranch failed: %v", err)
		}
		want := []string{"#head#b1", "a", "m"}
		if len(nodes) != len(want) {
			t.Fatalf("Expected %d nodes, got %d", len(want), len(nodes))
		}
		for i, w := range want {
			if nodes[i].Key != w {
				t.Errorf("Position %d: expected %s, got %s", i, w, nodes[i].Key)
			}
		}

		nodes, _ = b.QueryByBranch("b1", true)
		if nodes[0].Key != "m" {
			t.Error("Descending scan not reversed")
		}
	})

	t.Run("branches and stats", func(t *testing.T) {
		b := openTestBolt(t)
		b.PutIfAbsent(node("a", "b1", "~", nil))
		b.PutIfAbsent(node("b", "b2", "~", nil))
		b.PutIfAbsent(node("c", "b2", "b", nil))

		branches, err := b.Branches()
		if err != nil {
			t.Fatalf("Branches failed: %v", err)
		}
		if len(branches) != 2 || branches[0] != "b1" || branches[1] != "b2" {
			t.Errorf("Expected [b1 b2], got %v", branches)
		}

		stats, err := b.Stats()
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.Nodes != 3 || stats.Branches != 2 {
			t.Errorf("Expected 3 nodes / 2 branches, got %+v", stats)
		}
	})
}

// TestBoltBackendReopen verifies data survives a close and reopen
func TestBoltBackendReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.db")

	b, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("Failed to open bolt backend: %v", err)
	}
	if ok, err := b.PutIfAbsent(node("k1", "b1", "~", map[string]string{"title": "persisted"})); err != nil || !ok {
		t.Fatalf("PutIfAbsent failed: ok=%v err=%v", ok, err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b2, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("Failed to reopen bolt backend: %v", err)
	}
	defer b2.Close()

	n, err := b2.Get("k1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if n.Payload["title"] != "persisted" {
		t.Errorf("Payload lost across reopen: %+v", n)
	}

	nodes, err := b2.QueryByBranchNext("b1", "~", 1)
	if err != nil {
		t.Fatalf("QueryByBranchNext after reopen failed: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Key != "k1" {
		t.Errorf("Index lost across reopen: %v", nodes)
	}
}
