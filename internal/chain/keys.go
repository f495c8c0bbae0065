package chain

import (
	"strings"

	"github.com/google/uuid"
)

// TailMarker is the reserved Next value of the last member node of a
// branch. It is a single character that can never appear in a member key
// (UUIDs are hex digits and dashes), so a reverse-index lookup for it is
// unambiguous.
const TailMarker = "~"

// headPrefix starts every head-sentinel key. '#' (0x23) sorts before '0'
// (0x30), so the head of a branch always precedes its member keys in the
// backend's byte ordering; List relies on this when it scans a branch by
// primary key.
const headPrefix = "#head#"

// HeadKey derives the head-sentinel key for a branch.
// The derivation is deterministic: one branch, one head key.
func HeadKey(branch string) string {
	return headPrefix + branch
}

// IsHeadKey reports whether key is a head-sentinel key.
func IsHeadKey(key string) bool {
	return strings.HasPrefix(key, headPrefix)
}

// NewKey generates a member-node key: a UUIDv7, globally unique and
// time-sortable, so keys created later sort after keys created earlier.
func NewKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
