package radixtree

import "fmt"

// BlockRefCounter is the minimal block-pool contract the reference-count
// cascade needs. Satisfied by *blockpool.Pool; kept as an interface so the
// cascade can be exercised with a fake in tests, the same separation the
// teacher draws with its MLXEngine interface (internal/radix/engine.go).
type BlockRefCounter interface {
	IncRef(id int)
	DecRef(id int) bool
}

// Tree is a compressed radix trie over token-id sequences, arena-backed: all
// nodes and cache records live in growing slices and are addressed by
// NodeID/CacheID rather than pointers. It performs no synchronization of its
// own; callers serialize access per §5.
type Tree struct {
	nodes  []radixNode
	caches []CacheNode
}

// NewTree creates an empty tree: a root node with an empty key fragment and
// a pinned root CacheNode (ref_count 1, no blocks, never freed).
func NewTree() *Tree {
	t := &Tree{}
	t.nodes = append(t.nodes, radixNode{
		children:           make(map[uint32]NodeID),
		sequentialChildren: make(map[NodeID]struct{}),
		data:               RootCacheID,
		parentNode:         noNode,
		live:               true,
	})
	t.caches = append(t.caches, CacheNode{
		ID:       RootCacheID,
		NodeID:   RootNodeID,
		Parent:   noCache,
		RefCount: 1,
		live:     true,
	})
	return t
}

// Cache returns a mutable pointer to a CacheNode record.
func (t *Tree) Cache(id CacheID) *CacheNode {
	return &t.caches[id]
}

// NodeCache returns the CacheID hosted at a radix node, or -1 (none) for a
// pure branching node created by a split.
func (t *Tree) NodeCache(id NodeID) CacheID {
	return t.nodes[id].data
}

// IsSequentialChild reports whether child has, at some point, followed
// parent as the next turn of some conversation.
func (t *Tree) IsSequentialChild(parent, child NodeID) bool {
	_, ok := t.nodes[parent].sequentialChildren[child]
	return ok
}

// AddSequentialChild records that child followed parent as a conversation's
// next turn.
func (t *Tree) AddSequentialChild(parent, child NodeID) {
	t.nodes[parent].sequentialChildren[child] = struct{}{}
}

// FindLongestPrefixNode descends the trie matching tokens against edge
// fragments, returning the deepest node that carries a CacheNode together
// with the number of tokens matched down to it (§4.1).
func (t *Tree) FindLongestPrefixNode(tokens []uint32) (NodeID, int) {
	node := RootNodeID
	pos := 0
	lastMatch := RootNodeID
	matchedLen := 0

	for pos < len(tokens) {
		tok := tokens[pos]
		childID, ok := t.nodes[node].children[tok]
		if !ok {
			break
		}

		fragment := t.nodes[childID].keyFragment
		common := commonPrefixLen(fragment, tokens[pos:])
		pos += common
		node = childID

		if t.nodes[node].data != noCache {
			lastMatch = node
			matchedLen = pos
		}

		if common < len(fragment) {
			break
		}
	}

	return lastMatch, matchedLen
}

// Insert attaches a new CacheNode (parented at parent, holding blockTable)
// for the full token sequence, performing a node split if the descent
// diverges mid-fragment (§4.1). If tokens exactly match an existing
// data-less node, the CacheNode is attached there instead of splitting; if
// tokens exactly match an existing key that already carries a CacheNode,
// that CacheNode is updated in place (idempotent reinsert).
func (t *Tree) Insert(tokens []uint32, parent CacheID, blockTable []int) (NodeID, CacheID) {
	if len(tokens) == 0 {
		panic("radixtree: insert requires a non-empty token sequence")
	}

	node := RootNodeID
	pos := 0

	for pos < len(tokens) {
		tok := tokens[pos]
		childID, ok := t.nodes[node].children[tok]
		if !ok {
			leaf := t.newRadixNode(node, tok, cloneTokens(tokens[pos:]))
			t.nodes[node].children[tok] = leaf
			cacheID := t.newCacheNode(leaf, parent, blockTable, len(tokens)-pos)
			t.nodes[leaf].data = cacheID
			return leaf, cacheID
		}

		fragment := t.nodes[childID].keyFragment
		common := commonPrefixLen(fragment, tokens[pos:])

		if common == len(fragment) {
			pos += common
			node = childID
			continue
		}

		return t.split(node, tok, childID, fragment, tokens[pos+common:], common, parent, blockTable)
	}

	if t.nodes[node].data == noCache {
		cacheID := t.newCacheNode(node, parent, blockTable, len(t.nodes[node].keyFragment))
		t.nodes[node].data = cacheID
		return node, cacheID
	}

	existing := t.nodes[node].data
	t.caches[existing].Parent = parent
	t.caches[existing].BlockTable = blockTable
	return node, existing
}

// split carves commonNode out of the edge leading to oldChild at the
// divergence point and attaches the new data either to a fresh leaf (if any
// input tokens remain) or to commonNode itself (exact boundary), re-parenting
// oldChild's existing CacheNode onto commonNode's new one in that case.
func (t *Tree) split(parentNode NodeID, key uint32, oldChild NodeID, oldFragment, remaining []uint32, common int, dataParent CacheID, blockTable []int) (NodeID, CacheID) {
	commonNode := t.newRadixNode(parentNode, key, cloneTokens(oldFragment[:common]))
	t.nodes[parentNode].children[key] = commonNode

	t.nodes[oldChild].keyFragment = cloneTokens(oldFragment[common:])
	t.nodes[oldChild].parentNode = commonNode
	t.nodes[oldChild].firstTok = t.nodes[oldChild].keyFragment[0]
	t.nodes[commonNode].children[t.nodes[oldChild].firstTok] = oldChild

	if len(remaining) > 0 {
		leaf := t.newRadixNode(commonNode, remaining[0], cloneTokens(remaining))
		t.nodes[commonNode].children[remaining[0]] = leaf
		cacheID := t.newCacheNode(leaf, dataParent, blockTable, len(remaining))
		t.nodes[leaf].data = cacheID
		return leaf, cacheID
	}

	cacheID := t.newCacheNode(commonNode, dataParent, blockTable, common)
	t.nodes[commonNode].data = cacheID
	if oldData := t.nodes[oldChild].data; oldData != noCache {
		t.caches[oldData].Parent = cacheID
	}
	return commonNode, cacheID
}

// FullBlockTable concatenates block tables from the root down to cacheID
// inclusive (§3 invariant 3).
func (t *Tree) FullBlockTable(cacheID CacheID) []int {
	var chain []CacheID
	curr := cacheID
	for {
		chain = append(chain, curr)
		if curr == RootCacheID {
			break
		}
		curr = t.caches[curr].Parent
	}

	var blocks []int
	for i := len(chain) - 1; i >= 0; i-- {
		blocks = append(blocks, t.caches[chain[i]].BlockTable...)
	}
	return blocks
}

// HasCacheGroup reports whether cacheID or any of its ancestors (root
// included) is marked with groupID.
func (t *Tree) HasCacheGroup(cacheID CacheID, groupID string) bool {
	curr := cacheID
	for {
		if _, ok := t.caches[curr].CacheGroupIDs[groupID]; ok {
			return true
		}
		if curr == RootCacheID {
			return false
		}
		curr = t.caches[curr].Parent
	}
}

// AddCacheGroup marks cacheID and every ancestor (root included) with
// groupID (§4.5 step 4).
func (t *Tree) AddCacheGroup(cacheID CacheID, groupID string) {
	curr := cacheID
	for {
		c := &t.caches[curr]
		if c.CacheGroupIDs == nil {
			c.CacheGroupIDs = make(map[string]struct{})
		}
		c.CacheGroupIDs[groupID] = struct{}{}
		if curr == RootCacheID {
			return
		}
		curr = c.Parent
	}
}

// Acquire walks the parent chain from cacheID up through the root,
// incrementing each ancestor's ref_count and, on a 0→1 transition,
// incrementing every block it owns (§4.3).
func (t *Tree) Acquire(pool BlockRefCounter, cacheID CacheID) {
	curr := cacheID
	for {
		c := &t.caches[curr]
		if c.RefCount == 0 {
			for _, blk := range c.BlockTable {
				pool.IncRef(blk)
			}
		}
		c.RefCount++
		if curr == RootCacheID {
			return
		}
		curr = c.Parent
	}
}

// Release walks the parent chain from cacheID up to (but not including) the
// root, decrementing ref_count and, on reaching zero, detaching the node
// from the tree and freeing its blocks (§4.3).
func (t *Tree) Release(pool BlockRefCounter, cacheID CacheID) {
	curr := cacheID
	for curr != RootCacheID {
		c := &t.caches[curr]
		if c.RefCount <= 0 {
			panic(fmt.Sprintf("radixtree: release on cache node %d with ref_count %d", curr, c.RefCount))
		}
		c.RefCount--
		parent := c.Parent
		nodeID := c.NodeID
		freed := c.RefCount == 0
		blocks := c.BlockTable

		if freed {
			t.detach(nodeID)
			for _, blk := range blocks {
				pool.DecRef(blk)
			}
		}

		curr = parent
	}
}

// detach removes a freed node's edge from its parent's children map so the
// key it represented no longer resolves (§3 invariant 5). The root is never
// detached.
func (t *Tree) detach(nodeID NodeID) {
	if nodeID == RootNodeID {
		return
	}
	n := &t.nodes[nodeID]
	cacheID := n.data
	n.live = false
	n.data = noCache
	if cacheID != noCache {
		t.caches[cacheID].live = false
	}
	parent := &t.nodes[n.parentNode]
	delete(parent.children, n.firstTok)
}

// LiveCaches returns every CacheNode still attached to the tree (root
// included), for invariant checks and deallocation sweeps (§8).
func (t *Tree) LiveCaches() []*CacheNode {
	var out []*CacheNode
	for i := range t.caches {
		if t.caches[i].live {
			out = append(out, &t.caches[i])
		}
	}
	return out
}

// CheckCompressedTrie validates §8 invariant 4: no two children of the same
// live node share a first fragment token (guaranteed by the map keying, so
// this checks the complementary condition: every live non-root node's key
// fragment is non-empty and is correctly keyed under its parent).
func (t *Tree) CheckCompressedTrie() error {
	for id := range t.nodes {
		n := &t.nodes[id]
		if !n.live {
			continue
		}
		if NodeID(id) == RootNodeID {
			continue
		}
		if len(n.keyFragment) == 0 {
			return fmt.Errorf("radixtree: node %d has an empty key fragment", id)
		}
		if n.keyFragment[0] != n.firstTok {
			return fmt.Errorf("radixtree: node %d keyed as %d but fragment starts with %d", id, n.firstTok, n.keyFragment[0])
		}
		parent := &t.nodes[n.parentNode]
		if parent.children[n.firstTok] != NodeID(id) {
			return fmt.Errorf("radixtree: node %d not reachable from parent %d under key %d", id, n.parentNode, n.firstTok)
		}
	}
	return nil
}

func (t *Tree) newRadixNode(parent NodeID, firstTok uint32, fragment []uint32) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, radixNode{
		keyFragment:        fragment,
		children:           make(map[uint32]NodeID),
		sequentialChildren: make(map[NodeID]struct{}),
		data:               noCache,
		parentNode:         parent,
		firstTok:           firstTok,
		live:               true,
	})
	return id
}

func (t *Tree) newCacheNode(nodeID NodeID, parent CacheID, blockTable []int, tokenCount int) CacheID {
	id := CacheID(len(t.caches))
	t.caches = append(t.caches, CacheNode{
		ID:         id,
		NodeID:     nodeID,
		Parent:     parent,
		BlockTable: blockTable,
		TokenCount: tokenCount,
		live:       true,
	})
	return id
}

func cloneTokens(tokens []uint32) []uint32 {
	out := make([]uint32, len(tokens))
	copy(out, tokens)
	return out
}
