package blockpool

import "testing"

func TestNewPool(t *testing.T) {
	p := New(16)

	if p.NumBlocks() != 16 {
		t.Errorf("Expected NumBlocks 16, got %d", p.NumBlocks())
	}

	if p.FreeCount() != 16 {
		t.Errorf("Expected FreeCount 16, got %d", p.FreeCount())
	}
}

func TestNewPoolPanicsOnZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for num_blocks = 0")
		}
	}()
	New(0)
}

func TestAllocateFIFO(t *testing.T) {
	p := New(4)

	ids := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		id, err := p.Allocate()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, id)
	}

	for i, id := range ids {
		if id != i {
			t.Errorf("Expected FIFO allocation order, block %d got id %d", i, id)
		}
	}

	if p.FreeCount() != 0 {
		t.Errorf("Expected FreeCount 0 after exhausting pool, got %d", p.FreeCount())
	}

	if _, err := p.Allocate(); err != ErrOutOfBlocks {
		t.Errorf("Expected ErrOutOfBlocks, got %v", err)
	}
}

func TestIncDecRef(t *testing.T) {
	p := New(2)
	id, _ := p.Allocate()

	p.IncRef(id)
	if p.RefCount(id) != 1 {
		t.Errorf("Expected RefCount 1, got %d", p.RefCount(id))
	}

	p.IncRef(id)
	if p.RefCount(id) != 2 {
		t.Errorf("Expected RefCount 2, got %d", p.RefCount(id))
	}

	if freed := p.DecRef(id); freed {
		t.Error("Expected DecRef to report not freed at refcount 1")
	}
	if freed := p.DecRef(id); !freed {
		t.Error("Expected DecRef to report freed at refcount 0")
	}

	if p.FreeCount() != 2 {
		t.Errorf("Expected block returned to free-list, FreeCount = %d", p.FreeCount())
	}
}

func TestDecRefPanicsAtZero(t *testing.T) {
	p := New(1)
	id, _ := p.Allocate()

	defer func() {
		if recover() == nil {
			t.Error("Expected panic decrementing a zero ref_count block")
		}
	}()
	p.DecRef(id)
}

func TestSetRefCount(t *testing.T) {
	p := New(1)
	id, _ := p.Allocate()

	p.SetRefCount(id, 1)
	if p.RefCount(id) != 1 {
		t.Errorf("Expected RefCount 1, got %d", p.RefCount(id))
	}
}

func TestRoundTripAllocateFree(t *testing.T) {
	p := New(8)

	var ids []int
	for i := 0; i < 5; i++ {
		id, _ := p.Allocate()
		ids = append(ids, id)
	}

	for _, id := range ids {
		p.Free(id)
	}

	if p.FreeCount() != 8 {
		t.Errorf("Expected pool restored to FreeCount 8, got %d", p.FreeCount())
	}
}
