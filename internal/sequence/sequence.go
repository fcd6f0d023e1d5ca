// Package sequence holds the request-side representation the block manager
// consumes and writes back into (§6): turns, an optional cache-group id, and
// the writable slots match_and_allocate fills in on success.
package sequence

import "github.com/agenthands/kvradix/internal/radixtree"

// Turn is one conversational exchange: a contiguous token-id sequence.
type Turn struct {
	TokenIDs []uint32
}

// Sequence is the opaque-to-everyone-else request shape the block manager
// reads turn shapes from and writes allocation results into. The manager
// never reads NumCachedTokens, BlockTable or TurnCacheNodes except to know
// whether a prior allocation needs releasing.
type Sequence struct {
	Turns        []Turn
	CacheGroupID string // empty string means "no cache-group"

	NumCachedTokens int
	BlockTable      []int
	TurnCacheNodes  []radixtree.CacheID

	// decodeLen tracks the sequence's current total token length for the
	// append path (§4.6), independent of the turns above: decode grows the
	// sequence one token at a time without touching Turns.
	decodeLen int
}

// Len returns the sequence's current total token length, as tracked across
// appended decode tokens (§4.6). It starts at the sum of turn lengths.
func (s *Sequence) Len() int {
	if s.decodeLen == 0 {
		for _, t := range s.Turns {
			s.decodeLen += len(t.TokenIDs)
		}
	}
	return s.decodeLen
}

// Grow records one more decode token having been appended to the sequence.
func (s *Sequence) Grow() {
	s.decodeLen = s.Len() + 1
}

// HasCacheGroup reports whether this sequence carries a cache-group id.
func (s *Sequence) HasCacheGroup() bool {
	return s.CacheGroupID != ""
}

// Allocated reports whether match_and_allocate has reserved blocks for this
// sequence that have not yet been released by deallocate.
func (s *Sequence) Allocated() bool {
	return len(s.TurnCacheNodes) > 0
}

// Reset clears the manager-owned slots, used by deallocate (§4.7). Idempotent
// only after this call: calling deallocate twice without an intervening
// match_and_allocate would otherwise double-release.
func (s *Sequence) Reset() {
	s.NumCachedTokens = 0
	s.BlockTable = nil
	s.TurnCacheNodes = nil
}
