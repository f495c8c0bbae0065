package backend

import (
	"sort"
	"sync"
)

// MemoryBackend implements Backend with in-memory storage.
// Uses sync.RWMutex for thread-safe concurrent access; conditional writes
// are evaluated and applied under the same lock, so each single-item
// condition is atomic exactly the way a remote key-value store's would be.
type MemoryBackend struct {
	mu    sync.RWMutex
	nodes map[string]*Node

	// index is the reverse-pointer index: branch -> next -> set of keys.
	// Every stored node appears in exactly one (branch, next) cell.
	// Maintained on every mutation so QueryByBranchNext never scans.
	index map[string]map[string]map[string]struct{}
}

// NewMemoryBackend creates a new in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nodes: make(map[string]*Node),
		index: make(map[string]map[string]map[string]struct{}),
	}
}

// Get retrieves a node by key
// Returns a copy of the node to prevent external modification
func (m *MemoryBackend) Get(key string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, exists := m.nodes[key]
	if !exists {
		return nil, ErrNodeNotFound
	}
	return n.Clone(), nil
}

// PutIfAbsent stores the node only if its key doesn't already exist
// Makes a copy of the node to prevent external modification
func (m *MemoryBackend) PutIfAbsent(n *Node) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[n.Key]; exists {
		return false, nil
	}

	stored := n.Clone()
	m.nodes[stored.Key] = stored
	m.indexAdd(stored)
	return true, nil
}

// Update applies the patch unconditionally
// Returns false if the key doesn't exist
func (m *MemoryBackend) Update(key string, patch Patch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(key, patch), nil
}

// UpdateIf applies the patch only if the stored node's Next still equals
// expectedNext, evaluated atomically under the write lock
func (m *MemoryBackend) UpdateIf(key string, patch Patch, expectedNext string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, exists := m.nodes[key]
	if !exists || n.Next != expectedNext {
		return false, nil
	}
	return m.applyLocked(key, patch), nil
}

// applyLocked patches a stored node and keeps the reverse index in step.
// Caller must hold the write lock.
func (m *MemoryBackend) applyLocked(key string, patch Patch) bool {
	n, exists := m.nodes[key]
	if !exists {
		return false
	}

	// Re-index only when the forward pointer actually moves
	if patch.Next != nil && *patch.Next != n.Next {
		m.indexRemove(n)
		patch.apply(n)
		m.indexAdd(n)
		return true
	}

	patch.apply(n)
	return true
}

// DeleteIf removes the node only if its Next still equals expectedNext
// Returns false if the key doesn't exist or the condition fails
func (m *MemoryBackend) DeleteIf(key string, expectedNext string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, exists := m.nodes[key]
	if !exists || n.Next != expectedNext {
		return false, nil
	}

	m.indexRemove(n)
	delete(m.nodes, key)
	return true, nil
}

// QueryByBranchNext looks up nodes via the reverse index
// Returns copies in key order, at most limit of them
func (m *MemoryBackend) QueryByBranchNext(branch, next string, limit int) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cell := m.index[branch][next]
	if len(cell) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(cell))
	for k := range cell {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	result := make([]*Node, 0, len(keys))
	for _, k := range keys {
		result = append(result, m.nodes[k].Clone())
	}
	return result, nil
}

// QueryByBranch returns every node of the branch ordered by primary key
func (m *MemoryBackend) QueryByBranch(branch string, descending bool) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k, n := range m.nodes {
		if n.Branch == branch {
			keys = append(keys, k)
		}
	}

	// Sort keys for consistent ordering
	sort.Strings(keys)
	if descending {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}

	result := make([]*Node, 0, len(keys))
	for _, k := range keys {
		result = append(result, m.nodes[k].Clone())
	}
	return result, nil
}

// Branches returns the distinct branch ids present in the backend
func (m *MemoryBackend) Branches() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	branches := make([]string, 0, len(m.index))
	for b := range m.index {
		branches = append(branches, b)
	}
	return branches, nil
}

// Stats returns storage statistics
func (m *MemoryBackend) Stats() (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		Nodes:    len(m.nodes),
		Branches: len(m.index),
	}, nil
}

// indexAdd records the node under its (branch, next) cell.
// Caller must hold the write lock.
func (m *MemoryBackend) indexAdd(n *Node) {
	byNext, ok := m.index[n.Branch]
	if !ok {
		byNext = make(map[string]map[string]struct{})
		m.index[n.Branch] = byNext
	}
	cell, ok := byNext[n.Next]
	if !ok {
		cell = make(map[string]struct{})
		byNext[n.Next] = cell
	}
	cell[n.Key] = struct{}{}
}

// indexRemove drops the node from its (branch, next) cell, pruning empty
// cells so Branches stays accurate. Caller must hold the write lock.
func (m *MemoryBackend) indexRemove(n *Node) {
	byNext, ok := m.index[n.Branch]
	if !ok {
		return
	}
	cell, ok := byNext[n.Next]
	if !ok {
		return
	}
	delete(cell, n.Key)
	if len(cell) == 0 {
		delete(byNext, n.Next)
	}
	if len(byNext) == 0 {
		delete(m.index, n.Branch)
	}
}
