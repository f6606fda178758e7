// Package ident encodes and parses the comment tags that bind broker
// positions to server-side sessions.
//
// A session is one contiguous accumulation cycle on one side, identified by
// "{side}_{hash}" where hash is 8 lowercase hex characters. Each position
// opened for the session carries the tag "{side}_{hash}_idx{n}" in its
// broker comment, where n is the grid row index. Comments that do not parse
// are foreign positions: not managed by this engine and ignored for
// identity checks.
package ident

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	"elastic-dca/pkg/types"
)

// tagPattern is the managed-comment grammar.
var tagPattern = regexp.MustCompile(`^(buy|sell)_([0-9a-f]{8})_idx(0|[1-9][0-9]*)$`)

// Tag is a parsed managed-position comment.
type Tag struct {
	Side  types.Side
	Hash  string // 8 lowercase hex characters
	Index int    // grid row index, >= 0
}

// SessionID returns the side-prefixed session identifier for this tag.
func (t Tag) SessionID() string {
	return SessionID(t.Side, t.Hash)
}

// NewHash allocates a fresh 8-hex session hash.
func NewHash() string {
	u := uuid.New()
	return fmt.Sprintf("%x", u[:4])
}

// SessionID builds "{side}_{hash}".
func SessionID(side types.Side, hash string) string {
	return string(side) + "_" + hash
}

// Encode builds the position comment "{side}_{hash}_idx{n}".
func Encode(side types.Side, hash string, index int) string {
	return fmt.Sprintf("%s_%s_idx%d", side, hash, index)
}

// Parse decodes a position comment. ok is false for foreign comments.
func Parse(comment string) (Tag, bool) {
	m := tagPattern.FindStringSubmatch(comment)
	if m == nil {
		return Tag{}, false
	}
	idx, err := strconv.Atoi(m[3])
	if err != nil {
		return Tag{}, false
	}
	return Tag{Side: types.Side(m[1]), Hash: m[2], Index: idx}, true
}
