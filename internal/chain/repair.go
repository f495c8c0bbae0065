package chain

import (
	"fmt"
	"sync/atomic"

	"github.com/dreamware/taskchain/internal/backend"
)

// RepairReport describes what a reconciliation pass found, and with
// Repair, fixed, in one branch.
type RepairReport struct {
	// Branch is the branch the pass examined.
	Branch string

	// Members is the number of live member nodes in the branch.
	Members int

	// HeadCreated reports that the head sentinel was missing.
	HeadCreated bool

	// Reattached lists keys of members that were unreachable from the
	// head (orphans of a partial failure) in the order they were, or
	// would be, re-linked at the tail.
	Reattached []string

	// Relinked counts pointer writes that were, or would be, applied.
	Relinked int
}

// Clean reports whether the branch needed no fixing.
func (r RepairReport) Clean() bool {
	return !r.HeadCreated && len(r.Reattached) == 0 && r.Relinked == 0
}

// Check analyzes a branch without writing anything and reports what
// Repair would do. A clean report means the chain invariant holds: the
// head reaches the tail marker visiting every member exactly once.
func (s *Store) Check(branch string) (RepairReport, error) {
	return s.reconcile(branch, false)
}

// Repair reconciles a branch damaged by a multi-write partial failure.
//
// The pass scans the branch, walks the chain from the head, and rebuilds
// a single consistent order: the members the walk reached, in walk order,
// followed by every unreachable member in key order (keys are
// time-sortable, so strays land roughly where their creation time says).
// Pointer writes are applied only where the stored Next differs, a
// missing head sentinel is recreated, and duplicate Next targets resolve
// themselves because every pointer along the rebuilt chain is rewritten
// to its one correct value.
//
// Repair's writes are unconditional; it is an offline/administrative
// operation and racing it against live mutations of the same branch can
// undo either side's work. ErrConflict is returned only when a node
// vanishes mid-pass.
func (s *Store) Repair(branch string) (RepairReport, error) {
	return s.reconcile(branch, true)
}

// reconcile implements Check (apply=false) and Repair (apply=true).
func (s *Store) reconcile(branch string, apply bool) (RepairReport, error) {
	atomic.AddUint64(&s.stats.Repairs, 1)
	report := RepairReport{Branch: branch}

	nodes, err := s.backend.QueryByBranch(branch, false)
	if err != nil {
		return report, fmt.Errorf("scan branch %s: %w", branch, err)
	}
	if len(nodes) == 0 {
		return report, nil
	}

	byKey := make(map[string]*backend.Node, len(nodes))
	for _, n := range nodes {
		byKey[n.Key] = n
	}
	headKey := HeadKey(branch)
	head := byKey[headKey]

	// Walk the chain from the head, collecting the reachable members in
	// chain order. The walk stops at the tail marker, a dangling pointer,
	// or a revisit (cycle).
	var chain []*backend.Node
	seen := make(map[string]bool, len(nodes))
	if head != nil {
		for cur := head.Next; cur != "" && cur != TailMarker; {
			n, ok := byKey[cur]
			if !ok || seen[cur] || n.Key == headKey {
				break
			}
			seen[cur] = true
			chain = append(chain, n)
			cur = n.Next
		}
	}

	// Append the strays. The scan is in ascending key order already.
	for _, n := range nodes {
		if n.Key == headKey || seen[n.Key] {
			continue
		}
		report.Reattached = append(report.Reattached, n.Key)
		chain = append(chain, n)
	}
	report.Members = len(chain)

	// relink records one desired pointer, writing it only when it differs
	// from what is stored and the pass is applying.
	relink := func(n *backend.Node, next string) error {
		if n.Next == next {
			return nil
		}
		report.Relinked++
		if !apply {
			return nil
		}
		ok, err := s.backend.Update(n.Key, backend.Patch{Next: &next})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("repair %s: node %s vanished: %w", branch, n.Key, ErrConflict)
		}
		return nil
	}

	firstNext := TailMarker
	if len(chain) > 0 {
		firstNext = chain[0].Key
	}

	if head == nil {
		report.HeadCreated = true
		if apply {
			created := &backend.Node{Key: headKey, Branch: branch, Next: firstNext}
			ok, err := s.backend.PutIfAbsent(created)
			if err != nil {
				return report, err
			}
			if !ok {
				return report, fmt.Errorf("repair %s: head raced into existence: %w", branch, ErrConflict)
			}
		}
	} else if err := relink(head, firstNext); err != nil {
		return report, err
	}

	for i, n := range chain {
		next := TailMarker
		if i < len(chain)-1 {
			next = chain[i+1].Key
		}
		if err := relink(n, next); err != nil {
			return report, err
		}
	}

	return report, nil
}
