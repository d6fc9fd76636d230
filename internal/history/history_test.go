package history

import (
	"fmt"
	"testing"

	"github.com/gateway-fm/stressor/pkg/types"
)

func makeTx(i int) types.TestTransaction {
	return types.TestTransaction{
		ID:        fmt.Sprintf("tx-%d", i),
		Iteration: i,
		Hash:      fmt.Sprintf("0x%064x", i),
		Status:    types.TxPending,
	}
}

func TestTxBufferCapacityNeverExceeded(t *testing.T) {
	b := NewTxBuffer(5)

	for i := 0; i < 23; i++ {
		b.Add(makeTx(i))
		if b.Len() > 5 {
			t.Fatalf("buffer exceeded capacity after %d inserts: len=%d", i+1, b.Len())
		}
	}

	if b.Len() != 5 {
		t.Errorf("expected len 5, got %d", b.Len())
	}
}

func TestTxBufferEvictsOldest(t *testing.T) {
	b := NewTxBuffer(3)
	for i := 0; i < 5; i++ {
		b.Add(makeTx(i))
	}

	snap := b.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	// Oldest first: 2, 3, 4 survive.
	for i, want := range []int{2, 3, 4} {
		if snap[i].Iteration != want {
			t.Errorf("entry %d: expected iteration %d, got %d", i, want, snap[i].Iteration)
		}
	}
}

func TestTxBufferUpdate(t *testing.T) {
	b := NewTxBuffer(3)
	b.Add(makeTx(1))
	b.Add(makeTx(2))

	updated := makeTx(1)
	updated.Status = types.TxConfirmed
	updated.GasUsed = 21000

	if !b.Update(updated) {
		t.Fatal("expected update of buffered entry to succeed")
	}

	got, ok := b.GetByID("tx-1")
	if !ok {
		t.Fatal("expected tx-1 to be present")
	}
	if got.Status != types.TxConfirmed || got.GasUsed != 21000 {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestTxBufferUpdateEvicted(t *testing.T) {
	b := NewTxBuffer(2)
	b.Add(makeTx(1))
	b.Add(makeTx(2))
	b.Add(makeTx(3)) // evicts tx-1

	if b.Update(makeTx(1)) {
		t.Error("expected update of evicted entry to report false")
	}
}

func TestTxBufferGetByHash(t *testing.T) {
	b := NewTxBuffer(4)
	for i := 1; i <= 3; i++ {
		b.Add(makeTx(i))
	}

	got, ok := b.GetByHash(fmt.Sprintf("0x%064x", 2))
	if !ok {
		t.Fatal("expected hash lookup to succeed")
	}
	if got.Iteration != 2 {
		t.Errorf("expected iteration 2, got %d", got.Iteration)
	}

	if _, ok := b.GetByHash("0xdeadbeef"); ok {
		t.Error("expected miss for unknown hash")
	}
	if _, ok := b.GetByHash(""); ok {
		t.Error("expected miss for empty hash")
	}
}

func TestTxBufferReset(t *testing.T) {
	b := NewTxBuffer(4)
	b.Add(makeTx(1))
	b.Add(makeTx(2))

	b.Reset()
	if b.Len() != 0 {
		t.Errorf("expected empty buffer after reset, got len %d", b.Len())
	}
	if snap := b.Snapshot(); len(snap) != 0 {
		t.Errorf("expected empty snapshot after reset, got %d entries", len(snap))
	}
}

func TestTxBufferDefaultCapacity(t *testing.T) {
	b := NewTxBuffer(0)
	if b.Capacity() != DefaultTxCapacity {
		t.Errorf("expected default capacity %d, got %d", DefaultTxCapacity, b.Capacity())
	}
}

func TestErrorBufferEviction(t *testing.T) {
	b := NewErrorBuffer(2)
	for i := 0; i < 4; i++ {
		b.Add(types.TestError{ID: fmt.Sprintf("err-%d", i), Iteration: i})
	}

	snap := b.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if snap[0].Iteration != 2 || snap[1].Iteration != 3 {
		t.Errorf("expected iterations [2 3], got [%d %d]", snap[0].Iteration, snap[1].Iteration)
	}
}

func TestResultBufferGetByID(t *testing.T) {
	b := NewResultBuffer(3)
	for i := 0; i < 3; i++ {
		b.Add(types.TestExecution{ID: fmt.Sprintf("exec-%d", i), Status: types.StatusCompleted})
	}

	if _, ok := b.GetByID("exec-1"); !ok {
		t.Error("expected exec-1 to be present")
	}

	b.Add(types.TestExecution{ID: "exec-3"})
	if _, ok := b.GetByID("exec-0"); ok {
		t.Error("expected exec-0 to have been evicted")
	}
}
