// Package backend defines the key-value contract the ordered task chain is
// built on and provides concrete implementations of it, one in-memory and
// one persistent, with identical conditional-write semantics.
//
// # Overview
//
// The backend package is the persistence floor of taskchain. It knows
// nothing about linked lists, head sentinels, or ordering: it stores Node
// records by key, keeps a reverse index over each node's (branch, next)
// pair, and offers exactly the primitives a minimal key-value store does:
//
//   - single-item get
//   - single-item conditional put ("only if absent")
//   - single-item conditional update/delete ("only if next equals X")
//   - index-scoped range queries with a limit and sort direction
//
// There is deliberately no multi-item transaction. Everything the chain
// layer guarantees, it guarantees with these primitives alone, so any
// store that can express a per-item compare-and-set can sit behind this
// interface.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│           Chain Layer               │
//	│      (ordered task store)           │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│         Backend Interface           │
//	│  (get / conditional writes / scan)  │
//	└─────────────────────────────────────┘
//	                 │
//	        ┌────────┴────────┐
//	        ▼                 ▼
//	  ┌──────────┐      ┌──────────┐
//	  │  Memory  │      │   Bolt   │
//	  │ Backend  │      │ Backend  │
//	  └──────────┘      └──────────┘
//
// # Conditional Semantics
//
// Conditional operations never report a lost race as an error. The result
// is (bool, error):
//
//   - (true, nil): the write applied.
//   - (false, nil): the condition didn't hold: key already present for
//     PutIfAbsent, key absent or Next moved for UpdateIf/DeleteIf. The
//     caller decides whether that means retry, conflict, or no-op.
//   - (_, err): a real backend fault (I/O, serialization), propagated
//     verbatim.
//
// Each condition is evaluated and applied atomically per item: under the
// write lock in MemoryBackend, inside a single bbolt transaction in
// BoltBackend.
//
// # Reverse Index
//
// Both implementations maintain a secondary index keyed by (branch, next).
// This is what makes predecessor lookup O(1) for the chain layer: the node
// pointing at key K in branch B is found by one index lookup instead of a
// branch traversal. The index is write-amplified (every pointer move
// touches it), which is the accepted cost of cheap predecessor discovery.
//
// # Implementations
//
// MemoryBackend: map plus sync.RWMutex, defensive copies on every read and
// write. Fast, unpersisted, the default for tests.
//
// BoltBackend: a bbolt file with a nodes bucket (key -> JSON node) and an
// index bucket (branch \x00 next \x00 key -> nil). bbolt's byte-ordered
// cursors provide the primary-key ordering of QueryByBranch and the prefix
// scans of QueryByBranchNext directly.
package backend
