package chain

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dreamware/taskchain/internal/backend"
)

// ErrNotFound is returned when an operation needs a node that doesn't
// exist: the target of an update, or a drag participant.
var ErrNotFound = errors.New("node not found")

// ErrConflict is returned when a conditional write of a multi-write
// operation lost its race, or when the chain is in a state the operation
// can't splice (a node with no predecessor). The operation did not fully
// apply; the caller decides whether to retry or abandon. Nothing is
// retried here.
var ErrConflict = errors.New("conflicting write")

// Store is the ordered task store: a mutable, reorderable, linearly
// ordered list of task nodes per branch, maintained as a singly linked
// list over a Backend that offers only per-item conditional writes and a
// (branch, next) reverse index.
//
// Pointer discipline:
//   - Every branch with data has exactly one head sentinel, keyed
//     deterministically from the branch id.
//   - Following Next from the head visits every live member exactly once
//     and ends at TailMarker.
//   - The tail of a branch is found by a reverse-index lookup for
//     Next == TailMarker; the predecessor of any node by a lookup for
//     Next == its key. Neither requires a traversal.
//
// Concurrency model:
//   - No in-process locks. Conflict detection is delegated entirely to
//     the backend's per-item conditions; first writer wins, the loser
//     observes a condition failure and the operation reports ErrConflict.
//   - Multi-write operations (Put, Delete, Drag) fan their writes out in
//     parallel and join; all must succeed. There is no cross-item
//     atomicity, so a crash or lost race between sibling writes can leave
//     the chain inconsistent. That window is detected (joint failure) but
//     never compensated here; Repair walks a branch and mends it.
type Store struct {
	backend backend.Backend
	stats   OperationStats
}

// OperationStats tracks operation counts
type OperationStats struct {
	Gets    uint64 // Number of get operations
	Puts    uint64 // Number of put (append) operations
	Updates uint64 // Number of update operations
	Deletes uint64 // Number of delete operations
	Drags   uint64 // Number of drag operations
	Lists   uint64 // Number of list operations
	Repairs uint64 // Number of repair passes
}

// New creates a store over the given backend. The store is stateless
// beyond its counters; construct one per process and share it.
func New(b backend.Backend) *Store {
	return &Store{backend: b}
}

// Stats returns current operation counts.
func (s *Store) Stats() OperationStats {
	return OperationStats{
		Gets:    atomic.LoadUint64(&s.stats.Gets),
		Puts:    atomic.LoadUint64(&s.stats.Puts),
		Updates: atomic.LoadUint64(&s.stats.Updates),
		Deletes: atomic.LoadUint64(&s.stats.Deletes),
		Drags:   atomic.LoadUint64(&s.stats.Drags),
		Lists:   atomic.LoadUint64(&s.stats.Lists),
		Repairs: atomic.LoadUint64(&s.stats.Repairs),
	}
}

// Get retrieves a node by key.
// Returns ErrNotFound if the key doesn't exist.
func (s *Store) Get(key string) (*backend.Node, error) {
	atomic.AddUint64(&s.stats.Gets, 1)

	n, err := s.backend.Get(key)
	if errors.Is(err, backend.ErrNodeNotFound) {
		return nil, ErrNotFound
	}
	return n, err
}

// Tail finds the last member node of a branch via the reverse index
// (the one node whose Next is the tail marker). Returns nil with no error
// when the branch has no tail, which means it is empty or was never
// written. Note that an emptied branch's head sentinel carries the tail
// marker itself and is returned here; Put splices onto it like any tail.
func (s *Store) Tail(branch string) (*backend.Node, error) {
	nodes, err := s.backend.QueryByBranchNext(branch, TailMarker, 1)
	if err != nil {
		return nil, fmt.Errorf("tail lookup for branch %s: %w", branch, err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

// PointingTo finds the predecessor of a node: the one node in the branch
// whose Next equals key. This is the reverse index's whole purpose: O(1)
// predecessor discovery instead of walking the branch. Returns nil with
// no error when nothing points at key.
func (s *Store) PointingTo(key, branch string) (*backend.Node, error) {
	nodes, err := s.backend.QueryByBranchNext(branch, key, 1)
	if err != nil {
		return nil, fmt.Errorf("predecessor lookup for %s: %w", key, err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

// Put appends a new member node at the tail of the branch.
//
// Empty branch: the head sentinel and the member are created together,
// both conditioned on non-existence. Non-empty branch: the current tail is
// re-pointed at the new key, conditioned on its Next still being the tail
// marker (a concurrent append racing on the same tail loses), while the
// member is created conditioned on non-existence.
//
// The two writes run in parallel and both must succeed; if either loses
// its condition the append reports ErrConflict with no rollback of the
// sibling write.
func (s *Store) Put(key, branch string, payload map[string]string) error {
	atomic.AddUint64(&s.stats.Puts, 1)

	tail, err := s.Tail(branch)
	if err != nil {
		return err
	}

	member := &backend.Node{
		Key:     key,
		Branch:  branch,
		Next:    TailMarker,
		Payload: payload,
	}

	if tail == nil {
		// First append ever: create the head sentinel alongside the
		// member. Lazy head creation, nothing initializes a branch.
		head := &backend.Node{
			Key:    HeadKey(branch),
			Branch: branch,
			Next:   key,
		}
		return s.join(
			func() (bool, error) { return s.backend.PutIfAbsent(head) },
			func() (bool, error) { return s.backend.PutIfAbsent(member) },
		)
	}

	next := key
	return s.join(
		func() (bool, error) { return s.backend.UpdateIf(tail.Key, backend.Patch{Next: &next}, TailMarker) },
		func() (bool, error) { return s.backend.PutIfAbsent(member) },
	)
}

// Update mutates a node's content fields. Pointer fields are never
// touched by this operation. An empty patch is a successful no-op.
// Returns ErrNotFound if the key doesn't exist.
func (s *Store) Update(key string, payload map[string]string) error {
	atomic.AddUint64(&s.stats.Updates, 1)

	if len(payload) == 0 {
		return nil
	}

	ok, err := s.backend.Update(key, backend.Patch{Payload: payload})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Delete removes a member node and splices its predecessor over the gap.
//
// An absent key is a no-op success. Otherwise the predecessor's Next is
// re-pointed at the node's successor, conditioned on it still pointing at
// the node, while the node is deleted conditioned on its Next being
// unchanged since it was read. Both writes run in parallel and both must
// succeed; a partial result (one applied, one lost) leaves the chain
// inconsistent and reports ErrConflict. Repair mends it, Delete doesn't.
func (s *Store) Delete(key string) error {
	atomic.AddUint64(&s.stats.Deletes, 1)

	node, err := s.backend.Get(key)
	if errors.Is(err, backend.ErrNodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pred, err := s.PointingTo(key, node.Branch)
	if err != nil {
		return err
	}
	if pred == nil {
		// Nothing points at the node: it is already orphaned and cannot
		// be spliced out cleanly.
		return fmt.Errorf("delete %s: no predecessor: %w", key, ErrConflict)
	}

	next := node.Next
	return s.join(
		func() (bool, error) { return s.backend.UpdateIf(pred.Key, backend.Patch{Next: &next}, key) },
		func() (bool, error) { return s.backend.DeleteIf(key, node.Next) },
	)
}

// Drag repositions a member node to immediately follow afterKey, or to
// the front of the branch when afterKey is empty.
//
// The node, the anchor (head sentinel for front-of-branch), and the
// node's current predecessor are fetched in parallel; if any cannot be
// resolved the drag fails. A drag that is already in place (the anchor
// points at the node) succeeds without writes.
//
// Otherwise three unconditional pointer writes run in parallel: the node
// takes over the anchor's successor, the anchor points at the node, and
// the old predecessor closes the gap the node left behind. Each write
// targets a distinct key (the self-referential cases are excluded above),
// so their order doesn't matter, and all three must succeed.
func (s *Store) Drag(fromKey, branch, afterKey string) error {
	atomic.AddUint64(&s.stats.Drags, 1)

	if fromKey == afterKey {
		return fmt.Errorf("drag %s: node cannot follow itself", fromKey)
	}

	anchorKey := afterKey
	if anchorKey == "" {
		anchorKey = HeadKey(branch)
	}

	var (
		from, anchor, pred          *backend.Node
		fromErr, anchorErr, predErr error
		wg                          sync.WaitGroup
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		from, fromErr = s.backend.Get(fromKey)
	}()
	go func() {
		defer wg.Done()
		anchor, anchorErr = s.backend.Get(anchorKey)
	}()
	go func() {
		defer wg.Done()
		pred, predErr = s.PointingTo(fromKey, branch)
	}()
	wg.Wait()

	for _, err := range []error{fromErr, anchorErr, predErr} {
		if errors.Is(err, backend.ErrNodeNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
	}
	if pred == nil {
		return fmt.Errorf("drag %s: no predecessor: %w", fromKey, ErrConflict)
	}

	// Already in place, nothing to move
	if anchor.Next == fromKey {
		return nil
	}

	fromNext := anchor.Next
	anchorNext := fromKey
	predNext := from.Next
	return s.join(
		func() (bool, error) { return s.backend.Update(from.Key, backend.Patch{Next: &fromNext}) },
		func() (bool, error) { return s.backend.Update(anchor.Key, backend.Patch{Next: &anchorNext}) },
		func() (bool, error) { return s.backend.Update(pred.Key, backend.Patch{Next: &predNext}) },
	)
}

// List returns the branch's member nodes in chain order.
//
// The branch is range-scanned once by primary key (the head sentinel
// sorts first), then the order is reconstructed by following Next from
// the head through a key -> node map until the tail marker. Nodes the
// walk can't reach, leftovers of an earlier partial failure, are
// silently excluded, not reported. An empty or unknown branch yields an
// empty slice.
func (s *Store) List(branch string) ([]*backend.Node, error) {
	atomic.AddUint64(&s.stats.Lists, 1)

	nodes, err := s.backend.QueryByBranch(branch, false)
	if err != nil {
		return nil, fmt.Errorf("list branch %s: %w", branch, err)
	}

	byKey := make(map[string]*backend.Node, len(nodes))
	for _, n := range nodes {
		byKey[n.Key] = n
	}

	head, ok := byKey[HeadKey(branch)]
	if !ok {
		return []*backend.Node{}, nil
	}

	result := make([]*backend.Node, 0, len(nodes)-1)
	seen := make(map[string]bool, len(nodes))
	for cur := head.Next; cur != "" && cur != TailMarker; {
		n, ok := byKey[cur]
		if !ok || seen[cur] {
			// Dangling pointer or cycle: stop rather than loop. The rest
			// of the branch is unreachable until a repair pass runs.
			break
		}
		seen[cur] = true
		result = append(result, n)
		cur = n.Next
	}
	return result, nil
}

// join runs the writes of one multi-write operation in parallel and
// waits for all of them. Backend faults win over condition failures; any
// condition failure yields ErrConflict. Nothing is rolled back; by the
// time the join observes a loser, the winners have already been applied.
func (s *Store) join(writes ...func() (bool, error)) error {
	type result struct {
		ok  bool
		err error
	}
	results := make([]result, len(writes))

	var wg sync.WaitGroup
	wg.Add(len(writes))
	for i, write := range writes {
		go func(i int, write func() (bool, error)) {
			defer wg.Done()
			results[i].ok, results[i].err = write()
		}(i, write)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return r.err
		}
	}
	for _, r := range results {
		if !r.ok {
			return ErrConflict
		}
	}
	return nil
}
