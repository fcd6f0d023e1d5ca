// Package blockpool implements the fixed-size physical KV-cache block pool
// (§4.2): an array of reference-counted blocks and a FIFO free-list.
package blockpool

import (
	"container/list"
	"errors"
	"fmt"
)

// ErrOutOfBlocks is returned when an allocation cannot be satisfied from the
// free-list. It is never raised for match_and_allocate's budget precheck,
// only from the decode append path (§7).
var ErrOutOfBlocks = errors.New("blockpool: out of free blocks")

// Pool is a fixed-size array of blocks plus a FIFO free-list seeded with all
// block ids at construction. It performs no synchronization of its own; the
// caller (blockmanager) serializes access per §5.
type Pool struct {
	refCounts []int
	free      *list.List
	elems     []*list.Element // elems[id] is non-nil iff id is currently in free
}

// New creates a pool of numBlocks blocks, all initially free. Panics if
// numBlocks is not positive (InvariantViolation per §7).
func New(numBlocks int) *Pool {
	if numBlocks <= 0 {
		panic(fmt.Sprintf("blockpool: num_blocks must be positive, got %d", numBlocks))
	}

	p := &Pool{
		refCounts: make([]int, numBlocks),
		free:      list.New(),
		elems:     make([]*list.Element, numBlocks),
	}
	for id := 0; id < numBlocks; id++ {
		p.elems[id] = p.free.PushBack(id)
	}
	return p
}

// NumBlocks returns the total pool size.
func (p *Pool) NumBlocks() int {
	return len(p.refCounts)
}

// FreeCount returns the number of currently unreferenced, allocatable blocks.
func (p *Pool) FreeCount() int {
	return p.free.Len()
}

// RefCount returns the current reference count of a block.
func (p *Pool) RefCount(id int) int {
	return p.refCounts[id]
}

// CountInUse returns the number of blocks with a positive reference count,
// for the testable property that this plus FreeCount always equals
// NumBlocks (§8 property 1).
func (p *Pool) CountInUse() int {
	n := 0
	for _, rc := range p.refCounts {
		if rc > 0 {
			n++
		}
	}
	return n
}

// Allocate pops one block id from the FIFO free-list. It does not touch the
// block's ref_count; callers that want an exclusively-owned block (the
// decode tail block, §4.6) must set it explicitly.
func (p *Pool) Allocate() (int, error) {
	front := p.free.Front()
	if front == nil {
		return 0, ErrOutOfBlocks
	}
	id := front.Value.(int)
	p.free.Remove(front)
	p.elems[id] = nil
	return id, nil
}

// IncRef increments a block's reference count.
func (p *Pool) IncRef(id int) {
	p.refCounts[id]++
}

// SetRefCount forcibly sets a block's reference count, used by the decode
// append path when a freshly allocated tail block becomes exclusively owned
// (§4.6: "set its refcount to 1").
func (p *Pool) SetRefCount(id, n int) {
	p.refCounts[id] = n
}

// DecRef decrements a block's reference count and returns the block to the
// free-list if it reaches zero. Reports whether the block was freed.
func (p *Pool) DecRef(id int) bool {
	if p.refCounts[id] <= 0 {
		panic(fmt.Sprintf("blockpool: decref on block %d with ref_count %d", id, p.refCounts[id]))
	}
	p.refCounts[id]--
	if p.refCounts[id] == 0 {
		p.elems[id] = p.free.PushBack(id)
		return true
	}
	return false
}

// Free unconditionally returns a block to the free-list regardless of its
// current ref_count, used only when unwinding a partially-committed
// allocation attempt (blockmanager never needs this in steady state since
// §4.5's budget precheck makes commit unconditional, but it keeps rollback
// code honest if that invariant is ever violated by a caller bug).
func (p *Pool) Free(id int) {
	if p.elems[id] != nil {
		return // already free
	}
	p.refCounts[id] = 0
	p.elems[id] = p.free.PushBack(id)
}
