package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

var (
	nodesBucket = []byte("nodes")
	indexBucket = []byte("index")
)

// indexSep separates the branch, next, and key segments of an index entry.
// Branch ids and keys must not contain NUL, which no caller-facing
// identifier in this system does.
const indexSep = "\x00"

// BoltBackend implements Backend on a bbolt file.
//
// Layout:
//
//	nodes bucket: node key -> JSON-encoded Node
//	index bucket: branch \x00 next \x00 key -> nil
//
// bbolt keys iterate in byte order, so the nodes bucket gives QueryByBranch
// its primary-key ordering for free, and the index bucket turns
// QueryByBranchNext into a prefix scan. Every Backend call runs in a single
// bbolt transaction, which makes each per-item condition atomic; nothing
// here offers atomicity across calls, matching the contract.
type BoltBackend struct {
	db     *bbolt.DB
	logger *slog.Logger
	noSync bool // disables fsync per transaction (for testing only)
}

// BoltOption configures a BoltBackend instance.
type BoltOption func(*BoltBackend)

// WithLogger sets the logger for the backend.
func WithLogger(logger *slog.Logger) BoltOption {
	return func(b *BoltBackend) {
		b.logger = logger
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) BoltOption {
	return func(b *BoltBackend) {
		b.noSync = noSync
	}
}

// OpenBolt opens (creating if necessary) the backend file at path and
// ensures both buckets exist.
func OpenBolt(path string, opts ...BoltOption) (*BoltBackend, error) {
	b := &BoltBackend{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt file %s: %w", path, err)
	}
	db.NoSync = b.noSync

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(nodesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(indexBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	b.db = db
	b.logger.Debug("bolt backend open", "path", path, "nosync", b.noSync)
	return b, nil
}

// Close closes the underlying bolt file.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// indexKey builds the composite reverse-index key for a node.
func indexKey(branch, next, key string) []byte {
	return []byte(branch + indexSep + next + indexSep + key)
}

// indexPrefix builds the scan prefix for all nodes of a (branch, next) pair.
func indexPrefix(branch, next string) []byte {
	return []byte(branch + indexSep + next + indexSep)
}

// getNode reads and decodes a node inside an open transaction.
// Returns nil (no error) when the key is absent.
func getNode(tx *bbolt.Tx, key string) (*Node, error) {
	raw := tx.Bucket(nodesBucket).Get([]byte(key))
	if raw == nil {
		return nil, nil
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode node %s: %w", key, err)
	}
	return &n, nil
}

// putNode encodes and writes a node plus its index entry inside an open
// transaction. Any prior index entry must already have been removed.
func putNode(tx *bbolt.Tx, n *Node) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode node %s: %w", n.Key, err)
	}
	if err := tx.Bucket(nodesBucket).Put([]byte(n.Key), raw); err != nil {
		return err
	}
	return tx.Bucket(indexBucket).Put(indexKey(n.Branch, n.Next, n.Key), nil)
}

// Get retrieves a node by key
// Returns ErrNodeNotFound if the key doesn't exist
func (b *BoltBackend) Get(key string) (*Node, error) {
	var n *Node
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		n, err = getNode(tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ErrNodeNotFound
	}
	return n, nil
}

// PutIfAbsent stores the node only if its key doesn't already exist
func (b *BoltBackend) PutIfAbsent(n *Node) (bool, error) {
	ok := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(nodesBucket).Get([]byte(n.Key)) != nil {
			return nil
		}
		ok = true
		return putNode(tx, n)
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Update applies the patch unconditionally
func (b *BoltBackend) Update(key string, patch Patch) (bool, error) {
	return b.update(key, patch, nil)
}

// UpdateIf applies the patch only if the stored node's Next still equals
// expectedNext
func (b *BoltBackend) UpdateIf(key string, patch Patch, expectedNext string) (bool, error) {
	return b.update(key, patch, &expectedNext)
}

// update is the shared conditional/unconditional patch path. A nil
// expectedNext skips the condition.
func (b *BoltBackend) update(key string, patch Patch, expectedNext *string) (bool, error) {
	ok := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		n, err := getNode(tx, key)
		if err != nil {
			return err
		}
		if n == nil {
			return nil
		}
		if expectedNext != nil && n.Next != *expectedNext {
			return nil
		}

		oldNext := n.Next
		patch.apply(n)
		if n.Next != oldNext {
			if err := tx.Bucket(indexBucket).Delete(indexKey(n.Branch, oldNext, n.Key)); err != nil {
				return err
			}
		}
		ok = true
		return putNode(tx, n)
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// DeleteIf removes the node only if its Next still equals expectedNext
func (b *BoltBackend) DeleteIf(key string, expectedNext string) (bool, error) {
	ok := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		n, err := getNode(tx, key)
		if err != nil {
			return err
		}
		if n == nil || n.Next != expectedNext {
			return nil
		}
		if err := tx.Bucket(nodesBucket).Delete([]byte(key)); err != nil {
			return err
		}
		if err := tx.Bucket(indexBucket).Delete(indexKey(n.Branch, n.Next, n.Key)); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// QueryByBranchNext looks up nodes via the reverse index prefix scan
func (b *BoltBackend) QueryByBranchNext(branch, next string, limit int) ([]*Node, error) {
	var result []*Node
	err := b.db.View(func(tx *bbolt.Tx) error {
		prefix := indexPrefix(branch, next)
		c := tx.Bucket(indexBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			nodeKey := string(k[len(prefix):])
			n, err := getNode(tx, nodeKey)
			if err != nil {
				return err
			}
			if n == nil {
				// Index entry with no node; skip it, the repair pass
				// rebuilds the chain from live nodes anyway.
				b.logger.Debug("dangling index entry", "branch", branch, "next", next, "key", nodeKey)
				continue
			}
			result = append(result, n)
			if limit > 0 && len(result) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// QueryByBranch returns every node of the branch ordered by primary key,
// leaning on bbolt's byte-ordered cursor for the ordering
func (b *BoltBackend) QueryByBranch(branch string, descending bool) ([]*Node, error) {
	var result []*Node
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(nodesBucket).Cursor()

		next := c.Next
		k, v := c.First()
		if descending {
			next = c.Prev
			k, v = c.Last()
		}

		for ; k != nil; k, v = next() {
			var n Node
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("decode node %s: %w", string(k), err)
			}
			if n.Branch == branch {
				result = append(result, &n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Branches returns the distinct branch ids present in the backend,
// read from the index bucket where the branch is the leading segment
func (b *BoltBackend) Branches() ([]string, error) {
	var branches []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(indexBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			branch, _, ok := bytes.Cut(k, []byte(indexSep))
			if !ok {
				continue
			}
			// The cursor is sorted, so deduplicating against the last
			// entry is enough.
			if len(branches) == 0 || branches[len(branches)-1] != string(branch) {
				branches = append(branches, string(branch))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return branches, nil
}

// Stats returns storage statistics
func (b *BoltBackend) Stats() (Stats, error) {
	var stats Stats
	branches, err := b.Branches()
	if err != nil {
		return Stats{}, err
	}
	stats.Branches = len(branches)

	err = b.db.View(func(tx *bbolt.Tx) error {
		stats.Nodes = tx.Bucket(nodesBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}
