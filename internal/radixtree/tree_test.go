package radixtree

import "testing"

func TestNewTreeRoot(t *testing.T) {
	tree := NewTree()

	if tree.Cache(RootCacheID).RefCount != 1 {
		t.Errorf("Expected root RefCount 1, got %d", tree.Cache(RootCacheID).RefCount)
	}

	node, matched := tree.FindLongestPrefixNode([]uint32{1, 2, 3})
	if node != RootNodeID || matched != 0 {
		t.Errorf("Expected (root, 0) on empty tree, got (%d, %d)", node, matched)
	}
}

func TestInsertThenFind(t *testing.T) {
	tree := NewTree()

	leaf, _ := tree.Insert([]uint32{1, 2, 3}, RootCacheID, []int{10, 11})

	node, matched := tree.FindLongestPrefixNode([]uint32{1, 2, 3})
	if node != leaf {
		t.Errorf("Expected find to return inserted leaf %d, got %d", leaf, node)
	}
	if matched != 3 {
		t.Errorf("Expected matched_len 3, got %d", matched)
	}
}

func TestFindLongestPrefixOfDeeperQuery(t *testing.T) {
	tree := NewTree()
	leaf, _ := tree.Insert([]uint32{1, 2, 3}, RootCacheID, []int{10})

	node, matched := tree.FindLongestPrefixNode([]uint32{1, 2, 3, 9, 9})
	if node != leaf || matched != 3 {
		t.Errorf("Expected (%d, 3), got (%d, %d)", leaf, node, matched)
	}
}

// A node with its own CacheNode still counts as "visited" even when the
// query only partially matches its fragment: the divergence stops descent,
// but the partially-entered node (and its partial matched length) is still
// returned since it carries a CacheNode (§4.1: "the returned node is still
// the last node whose CacheNode existed").
func TestFindPartiallyMatchedNodeWithOwnDataStillReturned(t *testing.T) {
	tree := NewTree()
	leaf, _ := tree.Insert([]uint32{1, 2, 3, 4, 5}, RootCacheID, []int{10})

	node, matched := tree.FindLongestPrefixNode([]uint32{1, 2, 3, 9, 9})
	if node != leaf || matched != 3 {
		t.Errorf("Expected (%d, 3), got (%d, %d)", leaf, node, matched)
	}
}

// When divergence happens at a bare interior node (no CacheNode of its own,
// created by a split), the match falls back to the nearest ancestor that
// does carry a CacheNode.
func TestFindFallsBackToAncestorWhenDivergingNodeHasNoData(t *testing.T) {
	tree := NewTree()
	tree.Insert([]uint32{1, 2, 3, 4}, RootCacheID, []int{0})
	tree.Insert([]uint32{1, 2, 5, 6}, RootCacheID, []int{1})

	// Splits [1,2,3,4]/[1,2,5,6] into a bare interior node fragment [1,2]
	// (no CacheNode) with two data-bearing leaf children [3,4] and [5,6].
	node, matched := tree.FindLongestPrefixNode([]uint32{1, 2, 7, 7})
	if node != RootNodeID || matched != 0 {
		t.Errorf("Expected fallback to root (no ancestor data), got (%d, %d)", node, matched)
	}
}

func TestInsertSplitsOnDivergence(t *testing.T) {
	tree := NewTree()
	first, _ := tree.Insert([]uint32{10, 11, 12, 13, 20, 21}, RootCacheID, []int{0, 1})

	// Diverges after 5 common tokens, inside the first node's fragment.
	second, secondCache := tree.Insert([]uint32{10, 11, 12, 13, 20, 99}, RootCacheID, []int{2})

	if second == first {
		t.Error("Expected split to produce a distinct leaf node")
	}

	if err := tree.CheckCompressedTrie(); err != nil {
		t.Errorf("Expected valid compressed trie after split, got: %v", err)
	}

	node, matched := tree.FindLongestPrefixNode([]uint32{10, 11, 12, 13, 20, 21})
	if node != first || matched != 6 {
		t.Errorf("Expected original key still resolves to (%d, 6), got (%d, %d)", first, node, matched)
	}

	node, matched = tree.FindLongestPrefixNode([]uint32{10, 11, 12, 13, 20, 99})
	if node != second || matched != 6 {
		t.Errorf("Expected new key resolves to (%d, 6), got (%d, %d)", second, node, matched)
	}

	if tree.Cache(secondCache).BlockTable[0] != 2 {
		t.Errorf("Expected new cache node to carry block 2")
	}
}

func TestInsertExactBoundarySplit(t *testing.T) {
	tree := NewTree()
	tree.Insert([]uint32{1, 2, 3, 4}, RootCacheID, []int{0})

	// Exactly matches the first 2 tokens of the existing fragment: split at
	// the boundary, no remaining input, so the interior node itself becomes
	// the new data holder and the old leaf's CacheNode is re-parented onto it.
	node, cacheID := tree.Insert([]uint32{1, 2}, RootCacheID, []int{9})

	if err := tree.CheckCompressedTrie(); err != nil {
		t.Errorf("Expected valid compressed trie, got: %v", err)
	}

	deepNode, matched := tree.FindLongestPrefixNode([]uint32{1, 2, 3, 4})
	if matched != 4 {
		t.Errorf("Expected full original key still matches 4 tokens, got %d", matched)
	}
	deepCache := tree.NodeCache(deepNode)
	if tree.Cache(deepCache).Parent != cacheID {
		t.Errorf("Expected old leaf's CacheNode re-parented onto new interior CacheNode %d, got parent %d", cacheID, tree.Cache(deepCache).Parent)
	}

	_, matched = tree.FindLongestPrefixNode([]uint32{1, 2})
	if matched != 2 || node == 0 {
		t.Errorf("Expected split key to match 2 tokens at a non-root node, got %d at node %d", matched, node)
	}
}

func TestAcquireReleaseCascade(t *testing.T) {
	tree := NewTree()
	pool := newFakePool(4)

	_, leaf := tree.Insert([]uint32{1, 2, 3, 4}, RootCacheID, []int{0, 1})
	tree.Acquire(pool, leaf)

	if tree.Cache(leaf).RefCount != 1 {
		t.Errorf("Expected leaf RefCount 1, got %d", tree.Cache(leaf).RefCount)
	}
	if tree.Cache(RootCacheID).RefCount != 2 {
		t.Errorf("Expected root RefCount bumped to 2, got %d", tree.Cache(RootCacheID).RefCount)
	}
	if pool.ref[0] != 1 || pool.ref[1] != 1 {
		t.Errorf("Expected both blocks ref'd once, got %v", pool.ref)
	}

	tree.Release(pool, leaf)

	if tree.Cache(RootCacheID).RefCount != 2 {
		t.Errorf("Expected root RefCount to stay at 2 (Release never decrements the root), got %d", tree.Cache(RootCacheID).RefCount)
	}
	if pool.ref[0] != 0 || pool.ref[1] != 0 {
		t.Errorf("Expected both blocks released, got %v", pool.ref)
	}

	node, matched := tree.FindLongestPrefixNode([]uint32{1, 2, 3, 4})
	if node != RootNodeID || matched != 0 {
		t.Errorf("Expected key to no longer resolve after release, got (%d, %d)", node, matched)
	}
}

func TestCacheGroupAffinity(t *testing.T) {
	tree := NewTree()
	_, leaf := tree.Insert([]uint32{1, 2, 3}, RootCacheID, []int{0})

	if tree.HasCacheGroup(leaf, "g1") {
		t.Error("Expected no group membership before AddCacheGroup")
	}

	tree.AddCacheGroup(leaf, "g1")

	if !tree.HasCacheGroup(leaf, "g1") {
		t.Error("Expected group membership after AddCacheGroup")
	}
	if !tree.HasCacheGroup(RootCacheID, "g1") {
		t.Error("Expected AddCacheGroup to mark ancestors (root included)")
	}
}

func TestSequentialChildren(t *testing.T) {
	tree := NewTree()
	a, _ := tree.Insert([]uint32{1, 2}, RootCacheID, []int{0})
	b, _ := tree.Insert([]uint32{3, 4}, RootCacheID, []int{1})

	if tree.IsSequentialChild(a, b) {
		t.Error("Expected no sequential link before AddSequentialChild")
	}

	tree.AddSequentialChild(a, b)

	if !tree.IsSequentialChild(a, b) {
		t.Error("Expected sequential link after AddSequentialChild")
	}

	// Links are directional: the reverse pair is not linked.
	if tree.IsSequentialChild(b, a) {
		t.Error("Sequential links are directional")
	}
}

func TestFullBlockTableConcatenatesAncestors(t *testing.T) {
	tree := NewTree()
	_, parent := tree.Insert([]uint32{1, 2, 3, 4}, RootCacheID, []int{0, 1})
	_, child := tree.Insert([]uint32{1, 2, 3, 4, 5, 6}, parent, []int{2})

	got := tree.FullBlockTable(tree.Cache(child).ID)
	want := []int{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
		}
	}
}

// fakePool is a minimal BlockRefCounter test double.
type fakePool struct {
	ref []int
}

func newFakePool(n int) *fakePool {
	return &fakePool{ref: make([]int, n)}
}

func (p *fakePool) IncRef(id int) { p.ref[id]++ }
func (p *fakePool) DecRef(id int) bool {
	p.ref[id]--
	return p.ref[id] == 0
}
