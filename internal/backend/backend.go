package backend

import "errors"

// ErrNodeNotFound is returned when a node key doesn't exist in the backend
var ErrNodeNotFound = errors.New("node not found")

// Node is the single persisted entity of the task chain. It plays two roles:
//
//   - Head node: Key is derived deterministically from the branch id and
//     sorts before every member key of the same branch. Next holds the key
//     of the first member, or the tail marker once the branch has been
//     emptied. Payload is always nil.
//   - Member node: Key is a globally unique time-sortable token. Next holds
//     the key of the following member, or the tail marker if this node is
//     last. Payload carries the task content fields.
//
// The backend treats both roles identically; the chain layer owns the
// distinction and the pointer discipline.
type Node struct {
	// Key is the primary key of the node.
	// Immutable after creation.
	Key string `json:"key"`

	// Branch groups nodes into one ordered list.
	// Immutable after creation.
	Branch string `json:"branch"`

	// Next is the forward pointer: the key of the following node, or the
	// chain layer's tail marker on the last node. Mutated only through
	// Update/UpdateIf; indexed for reverse lookup.
	Next string `json:"next,omitempty"`

	// Payload holds the task content fields. Opaque to the backend.
	Payload map[string]string `json:"payload,omitempty"`
}

// Clone returns a deep copy of the node so callers can't alias stored state.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Key:    n.Key,
		Branch: n.Branch,
		Next:   n.Next,
	}
	if n.Payload != nil {
		out.Payload = make(map[string]string, len(n.Payload))
		for k, v := range n.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

// Patch describes a partial mutation of a stored node. Zero-valued fields
// are left untouched:
//
//   - Payload, when non-nil, is merged field-by-field into the stored
//     payload (content edit).
//   - Next, when non-nil, replaces the stored forward pointer (splice).
//
// A zero Patch is valid and mutates nothing.
type Patch struct {
	Payload map[string]string
	Next    *string
}

// IsZero reports whether the patch carries no mutation at all.
func (p Patch) IsZero() bool {
	return p.Payload == nil && p.Next == nil
}

// apply merges the patch into a stored node. The node must already be a
// private copy; apply mutates it in place.
func (p Patch) apply(n *Node) {
	if p.Payload != nil {
		if n.Payload == nil {
			n.Payload = make(map[string]string, len(p.Payload))
		}
		for k, v := range p.Payload {
			n.Payload[k] = v
		}
	}
	if p.Next != nil {
		n.Next = *p.Next
	}
}

// Backend defines the key-value contract the task chain is built on.
// All implementations must be safe for concurrent use.
//
// The contract is deliberately narrow: single-item gets, single-item
// conditional writes, and index-scoped range queries. There is no
// multi-item transaction primitive; cross-item consistency is the chain
// layer's problem, solved with per-item conditions.
//
// Conditional operations report "condition not met" as (false, nil), never
// as an error. Errors are reserved for backend faults (I/O, serialization),
// which propagate verbatim to the caller.
type Backend interface {
	// Get retrieves a node by key.
	// Returns ErrNodeNotFound if the key doesn't exist.
	Get(key string) (*Node, error)

	// PutIfAbsent stores the node only if its key doesn't already exist.
	// Returns false if the key is taken.
	PutIfAbsent(n *Node) (bool, error)

	// Update applies the patch unconditionally.
	// Returns false if the key doesn't exist.
	Update(key string, patch Patch) (bool, error)

	// UpdateIf applies the patch only if the stored node's Next still
	// equals expectedNext. Returns false on condition failure or if the
	// key doesn't exist.
	UpdateIf(key string, patch Patch, expectedNext string) (bool, error)

	// DeleteIf removes the node only if its Next still equals
	// expectedNext. Returns false on condition failure or if the key
	// doesn't exist.
	DeleteIf(key string, expectedNext string) (bool, error)

	// QueryByBranchNext looks up nodes whose (branch, next) pair matches,
	// via the reverse index, returning at most limit nodes in key order.
	// A limit <= 0 means no limit.
	QueryByBranchNext(branch, next string, limit int) ([]*Node, error)

	// QueryByBranch returns every node of the branch ordered by primary
	// key, ascending by default, descending when requested.
	QueryByBranch(branch string, descending bool) ([]*Node, error)

	// Branches returns the distinct branch ids present in the backend.
	// Order is not guaranteed.
	Branches() ([]string, error)

	// Stats returns storage statistics.
	Stats() (Stats, error)
}

// Stats contains statistics about a backend
type Stats struct {
	Nodes    int // Number of stored nodes
	Branches int // Number of distinct branches
}
