// Package chain implements the ordered task store: a mutable, reorderable,
// linearly ordered list of task nodes per branch, maintained as a singly
// linked list on top of a key-value backend that offers only per-item
// conditional writes and a (branch, next) reverse index.
//
// # Overview
//
// A key-value store has no native list type and no multi-item
// transactions, yet a task list must support append, content edits,
// arbitrary repositioning (drag), and deletion while staying a single
// coherent order under concurrent access. This package solves that with
// three ingredients:
//
//   - A head sentinel per branch, keyed deterministically from the branch
//     id, created lazily on the first append and never deleted.
//   - A forward pointer (Next) on every node, ending in a reserved tail
//     marker on the last node.
//   - A reverse index over (branch, next) pairs, so the tail of a branch
//     and the predecessor of any node are each one index lookup, never a
//     traversal.
//
// # Chain Shape
//
//	┌──────────┐     ┌────────┐     ┌────────┐     ┌────────┐
//	│   head   │────▶│ task A │────▶│ task C │────▶│ task D │────▶ ~
//	│ #head#B  │next │        │next │        │next │        │next
//	└──────────┘     └────────┘     └────────┘     └────────┘
//
// Listing scans the branch once by primary key (the head sorts first) and
// replays the pointers from the head; no per-node reads.
//
// # Operations
//
// Put appends at the tail: re-point the current tail (conditioned on it
// still being the tail) and create the member (conditioned on absence),
// in parallel. Delete splices the predecessor over the node while
// deleting it, both conditioned on the pointers read beforehand. Drag is
// a three-way pointer rotation: the moved node adopts the anchor's
// successor, the anchor adopts the moved node, the old predecessor closes
// the gap. Update touches content only and never moves pointers.
//
// # Consistency Model
//
// There are no locks and no transactions. Each multi-write operation fans
// its writes out in parallel, joins, and reports ErrConflict if any
// conditional write lost its race. First writer wins; losers are told,
// not retried. The deliberate gap: between the sibling writes of one
// operation there is no atomicity, so a crash or lost race can orphan a
// node or leave two nodes pointing at the same successor. List tolerates
// that (unreachable nodes are dropped from results), and Repair mends it:
// walk the branch, re-link every unreachable member at the tail in key
// order, rewrite any pointer that disagrees with the rebuilt order.
//
// # What This Is Not
//
// One list per branch, nothing more. No cross-branch moves, no bulk
// operations, no global ordering service, and no linearizability beyond
// what per-item conditions give. Retry policy belongs to the caller.
package chain
