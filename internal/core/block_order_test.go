package core

import (
	"errors"
	"testing"
)

func TestBlockOrderValidator(t *testing.T) {
	v := NewBlockOrderValidator()

	if err := v.Check("chain:pair:0", 100, false); err != nil {
		t.Fatalf("first block: %v", err)
	}
	v.Advance("chain:pair:0", 100)

	if err := v.Check("chain:pair:0", 100, false); err != nil {
		t.Errorf("same block should pass: %v", err)
	}
	if err := v.Check("chain:pair:0", 250, false); err != nil {
		t.Errorf("gap should pass: %v", err)
	}

	err := v.Check("chain:pair:0", 99, false)
	if !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("expected ErrOutOfOrder, got %v", err)
	}
	if err := v.Check("chain:pair:0", 99, true); err != nil {
		t.Errorf("late duplicate should pass: %v", err)
	}
	if v.OutOfOrder("chain:pair:0") != 1 {
		t.Errorf("out of order count: got %d", v.OutOfOrder("chain:pair:0"))
	}

	// partitions are independent
	if err := v.Check("chain:pair:1", 1, false); err != nil {
		t.Errorf("other partition: %v", err)
	}

	v.Advance("chain:pair:0", 50)
	if last, _ := v.LastBlock("chain:pair:0"); last != 100 {
		t.Errorf("advance must not move backwards, got %d", last)
	}
}

func TestIdempotencyLRU_Evicts(t *testing.T) {
	lru := NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Contains("a") // promote
	lru.Add("c")

	if !lru.Contains("a") || !lru.Contains("c") {
		t.Error("recent keys evicted")
	}
	if lru.Contains("b") {
		t.Error("oldest key kept")
	}
	if lru.Evictions() != 1 || lru.Size() != 2 {
		t.Errorf("evictions=%d size=%d", lru.Evictions(), lru.Size())
	}
}

func TestStateHasher_Chains(t *testing.T) {
	a, b := NewStateHasher(), NewStateHasher()
	if a.GetPrevHash() != b.GetPrevHash() {
		t.Fatal("genesis differs")
	}
	h1 := a.ComputeHash(0, []byte("x"))
	if a.GetPrevHash() != h1 {
		t.Error("tip not advanced")
	}
	if b.ComputeHash(0, []byte("y")) == h1 {
		t.Error("different digests produced the same hash")
	}
}
