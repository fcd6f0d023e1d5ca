// Package blockmanager implements the façade that ties the block pool and
// radix tree together: the two-phase MatchPlanner (§4.4), the Allocator's
// match_and_allocate (§4.5), the decode append path (§4.6) and the
// Deallocator (§4.7). It is the single-threaded cooperative component of
// §5: none of its methods suspend, and it performs no synchronization of
// its own — callers must serialize access.
package blockmanager

import (
	"fmt"

	"github.com/agenthands/kvradix/internal/blockpool"
	"github.com/agenthands/kvradix/internal/radixtree"
	"github.com/agenthands/kvradix/internal/sequence"
)

// Manager is the BlockManager façade described in §2.
type Manager struct {
	pool      *blockpool.Pool
	tree      *radixtree.Tree
	blockSize int
}

// New constructs a manager with a fresh pool and an empty tree.
func New(numBlocks, blockSize int) *Manager {
	if blockSize <= 0 {
		panic(fmt.Sprintf("blockmanager: block_size must be positive, got %d", blockSize))
	}
	return &Manager{
		pool:      blockpool.New(numBlocks),
		tree:      radixtree.NewTree(),
		blockSize: blockSize,
	}
}

// FreeBlocks reports the pool's current free-list size.
func (m *Manager) FreeBlocks() int { return m.pool.FreeCount() }

// NumBlocks reports the pool's total size.
func (m *Manager) NumBlocks() int { return m.pool.NumBlocks() }

func ceilDiv(a, b int) int {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// turnPlan is the per-turn output of the MatchPlanner (§4.4): the cache node
// to parent a new insertion on, and how many leading tokens of the turn are
// already covered by it.
type turnPlan struct {
	parentCache radixtree.CacheID
	matchedLen  int
}

// plan runs the two-phase MatchPlanner. Group-affinity mode runs first when
// the sequence carries a cache-group id and is final if at least one turn
// hit in-group; on a total miss (or with no cache-group id) sequential mode
// runs (§4.4).
func (m *Manager) plan(seq *sequence.Sequence) ([]turnPlan, bool) {
	plans := make([]turnPlan, len(seq.Turns))
	for i := range plans {
		plans[i] = turnPlan{parentCache: radixtree.RootCacheID, matchedLen: 0}
	}

	if seq.HasCacheGroup() {
		hit := false
		for i, turn := range seq.Turns {
			node, matchedLen := m.tree.FindLongestPrefixNode(turn.TokenIDs)
			if matchedLen == 0 {
				continue
			}
			cacheID := m.tree.NodeCache(node)
			if m.tree.HasCacheGroup(cacheID, seq.CacheGroupID) {
				plans[i] = turnPlan{parentCache: cacheID, matchedLen: matchedLen}
				hit = true
			}
		}
		if hit {
			return plans, false
		}
	}

	lastMatched := radixtree.RootNodeID
	for i, turn := range seq.Turns {
		node, matchedLen := m.tree.FindLongestPrefixNode(turn.TokenIDs)
		validSuccessor := node == radixtree.RootNodeID || m.tree.IsSequentialChild(lastMatched, node)
		if matchedLen == 0 || !validSuccessor {
			break
		}

		plans[i] = turnPlan{parentCache: m.tree.NodeCache(node), matchedLen: matchedLen}
		if matchedLen != len(turn.TokenIDs) {
			break
		}
		lastMatched = node
	}
	return plans, true
}

// allocDetail is the result of reconciling one turn's plan against block
// alignment (§4.5 steps 2-3), computed during the precheck pass before any
// pool or tree mutation happens.
type allocDetail struct {
	parentCache  radixtree.CacheID
	numNewBlocks int
	newSuffix    []uint32
	cachedPrefix []int
}

// reconcile applies the alignment check and computes how many new blocks a
// single turn needs, without mutating any state.
func (m *Manager) reconcile(turn sequence.Turn, p turnPlan) allocDetail {
	parentCache := p.parentCache
	matchedLen := p.matchedLen
	ancestorBlocks := m.tree.FullBlockTable(parentCache)
	blocksForPrefix := ceilDiv(matchedLen, m.blockSize)

	if matchedLen%m.blockSize != 0 {
		conflict := blocksForPrefix == 0 || m.pool.RefCount(ancestorBlocks[blocksForPrefix-1]) > 0
		if conflict {
			matchedLen -= matchedLen % m.blockSize
			blocksForPrefix = matchedLen / m.blockSize
			if matchedLen == 0 {
				parentCache = radixtree.RootCacheID
				ancestorBlocks = nil
			}
		}
	}

	cachedPrefix := append([]int(nil), ancestorBlocks[:blocksForPrefix]...)
	blocksForFullTurn := ceilDiv(len(turn.TokenIDs), m.blockSize)

	return allocDetail{
		parentCache:  parentCache,
		numNewBlocks: blocksForFullTurn - blocksForPrefix,
		newSuffix:    turn.TokenIDs[matchedLen:],
		cachedPrefix: cachedPrefix,
	}
}

// MatchAndAllocate reconciles a match plan with block alignment, allocates
// any new blocks needed, grafts new cache nodes into the tree, and updates
// the sequence's writable slots on success (§4.5). Returns false with no
// side effects at all if the free-block budget is insufficient.
func (m *Manager) MatchAndAllocate(seq *sequence.Sequence) bool {
	plans, isSequential := m.plan(seq)

	details := make([]allocDetail, len(seq.Turns))
	totalNewBlocks := 0
	totalMatchedTokens := 0
	for i, turn := range seq.Turns {
		d := m.reconcile(turn, plans[i])
		details[i] = d
		totalNewBlocks += d.numNewBlocks
		totalMatchedTokens += len(turn.TokenIDs) - len(d.newSuffix)
	}

	if totalNewBlocks > m.pool.FreeCount() {
		return false
	}

	finalBlockTable := make([]int, 0, len(seq.Turns))
	leafCacheNodes := make([]radixtree.CacheID, len(seq.Turns))
	leafNodes := make([]radixtree.NodeID, len(seq.Turns))

	for i, turn := range seq.Turns {
		d := details[i]
		turnBlocks := append([]int(nil), d.cachedPrefix...)
		leafCache := d.parentCache
		leafNode := m.tree.Cache(d.parentCache).NodeID

		if len(d.newSuffix) > 0 {
			newBlocks := make([]int, d.numNewBlocks)
			for j := range newBlocks {
				id, err := m.pool.Allocate()
				if err != nil {
					panic("blockmanager: budget precheck passed but allocate failed")
				}
				newBlocks[j] = id
			}
			node, cacheID := m.tree.Insert(turn.TokenIDs, d.parentCache, newBlocks)
			leafCache, leafNode = cacheID, node
			turnBlocks = append(turnBlocks, newBlocks...)
		}

		m.tree.Acquire(m.pool, leafCache)
		if seq.HasCacheGroup() {
			m.tree.AddCacheGroup(leafCache, seq.CacheGroupID)
		}

		leafCacheNodes[i] = leafCache
		leafNodes[i] = leafNode
		finalBlockTable = append(finalBlockTable, turnBlocks...)
	}

	if isSequential {
		current := radixtree.RootNodeID
		for _, node := range leafNodes {
			if node == radixtree.RootNodeID {
				continue
			}
			m.tree.AddSequentialChild(current, node)
			current = node
		}
	}

	seq.NumCachedTokens = totalMatchedTokens
	seq.BlockTable = finalBlockTable
	seq.TurnCacheNodes = leafCacheNodes
	return true
}

// Deallocate releases every turn's leaf cache node and clears the
// sequence's manager-owned slots (§4.7). Calling it again before a fresh
// match_and_allocate is a no-op since Reset already cleared TurnCacheNodes.
func (m *Manager) Deallocate(seq *sequence.Sequence) {
	for _, id := range seq.TurnCacheNodes {
		m.tree.Release(m.pool, id)
	}
	seq.Reset()
}

// CanAppend reports whether one more decode token can be appended without
// allocating: false only when the sequence sits exactly on a block boundary
// and no block is free (§4.6).
func (m *Manager) CanAppend(seq *sequence.Sequence) bool {
	need := 0
	if seq.Len()%m.blockSize == 0 {
		need = 1
	}
	return m.pool.FreeCount() >= need
}

// MayAppend allocates a fresh, exclusively-owned tail block when the
// sequence's current length sits at the start of a new block (§4.6). The
// caller is expected to have already grown the sequence's own length before
// calling this (CanAppend predicts forward from the old length, MayAppend
// acts on the new one); the newly allocated block is never inserted into the
// radix tree here — only a later full-sequence insert makes it cache-visible.
func (m *Manager) MayAppend(seq *sequence.Sequence) error {
	length := seq.Len()
	if length > 0 && (length-1)%m.blockSize == 0 {
		id, err := m.pool.Allocate()
		if err != nil {
			return err
		}
		m.pool.SetRefCount(id, 1)
		seq.BlockTable = append(seq.BlockTable, id)
	}
	return nil
}

// CheckInvariants validates the quantified invariants of §8 after a public
// operation. Intended for test use, not the hot path.
func (m *Manager) CheckInvariants() error {
	if m.pool.CountInUse()+m.pool.FreeCount() != m.pool.NumBlocks() {
		return fmt.Errorf("blockmanager: in-use (%d) + free (%d) != num_blocks (%d)",
			m.pool.CountInUse(), m.pool.FreeCount(), m.pool.NumBlocks())
	}

	for _, c := range m.tree.LiveCaches() {
		if c.RefCount > 0 {
			for _, blk := range c.BlockTable {
				if m.pool.RefCount(blk) < 1 {
					return fmt.Errorf("blockmanager: live cache node %d owns block %d with ref_count %d", c.ID, blk, m.pool.RefCount(blk))
				}
			}
		} else if c.ID != radixtree.RootCacheID {
			return fmt.Errorf("blockmanager: live cache node %d has ref_count 0 and is not root", c.ID)
		}
	}

	return m.tree.CheckCompressedTrie()
}
