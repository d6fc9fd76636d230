package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/gateway-fm/stressor/pkg/types"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleExecution(id string) types.TestExecution {
	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	completed := started.Add(30 * time.Second)
	return types.TestExecution{
		ID:               id,
		Name:             "store(uint256) load",
		Status:           types.StatusCompleted,
		CurrentIteration: 10,
		TotalIterations:  10,
		SuccessCount:     9,
		FailureCount:     1,
		Config: types.TestConfiguration{
			ContractAddress: "0x1111111111111111111111111111111111111111",
			FunctionName:    "store(uint256)",
			TotalIterations: 10,
			Network:         "local",
		},
		TransactionsPerSecond: 0.33,
		StartedAt:             started,
		CompletedAt:           completed,
		Errors: []types.TestError{
			{
				ID:          id + "-err-1",
				ExecutionID: id,
				Iteration:   4,
				Type:        types.ErrorRevert,
				Message:     "execution reverted",
				Timestamp:   started.Add(12 * time.Second),
			},
		},
	}
}

func TestSaveAndGetExecution(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	want := sampleExecution("exec-1")
	if err := store.SaveExecution(ctx, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != want.ID || got.Name != want.Name || got.Status != want.Status {
		t.Errorf("identity mismatch: got %+v", got)
	}
	if got.SuccessCount != 9 || got.FailureCount != 1 {
		t.Errorf("counts mismatch: %d/%d", got.SuccessCount, got.FailureCount)
	}
	if got.Config.ContractAddress != want.Config.ContractAddress {
		t.Errorf("config not restored: %+v", got.Config)
	}
	if len(got.Errors) != 1 || got.Errors[0].Type != types.ErrorRevert {
		t.Errorf("errors not restored: %+v", got.Errors)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("startedAt mismatch: got %v, want %v", got.StartedAt, want.StartedAt)
	}
}

func TestSaveExecutionIsUpsert(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	exec := sampleExecution("exec-1")
	if err := store.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	exec.Status = types.StatusFailed
	exec.FailureCount = 5
	if err := store.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != types.StatusFailed || got.FailureCount != 5 {
		t.Errorf("upsert not applied: %+v", got)
	}

	list, err := store.ListExecutions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected a single row after upsert, got %d", len(list))
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.GetExecution(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListExecutionsNewestFirst(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		exec := sampleExecution(fmt.Sprintf("exec-%d", i))
		exec.Errors = nil
		exec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.SaveExecution(ctx, exec); err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
	}

	list, err := store.ListExecutions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(list))
	}
	for i, want := range []string{"exec-2", "exec-1", "exec-0"} {
		if list[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, list[i].ID)
		}
	}

	// Pagination.
	page, err := store.ListExecutions(ctx, 1, 1)
	if err != nil {
		t.Fatalf("paged list failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != "exec-1" {
		t.Errorf("expected exec-1 on page 2, got %+v", page)
	}
}

func TestBulkInsertAndGetTransactions(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	exec := sampleExecution("exec-1")
	exec.Errors = nil
	if err := store.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	txs := make([]types.TestTransaction, 5)
	for i := range txs {
		txs[i] = types.TestTransaction{
			ID:                 fmt.Sprintf("exec-1-tx-%d", i+1),
			ExecutionID:        "exec-1",
			Iteration:          i + 1,
			Account:            "0xaaaa000000000000000000000000000000000001",
			Hash:               fmt.Sprintf("0x%064x", i+1),
			Status:             types.TxConfirmed,
			GasUsed:            21000,
			ConfirmationTimeMs: int64(100 * (i + 1)),
			Timestamp:          time.Now().UTC().Truncate(time.Second),
		}
	}

	if err := store.BulkInsertTransactions(ctx, txs); err != nil {
		t.Fatalf("bulk insert failed: %v", err)
	}

	got, err := store.GetTransactions(ctx, "exec-1", 10, 0)
	if err != nil {
		t.Fatalf("get transactions failed: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 transactions, got %d", len(got))
	}
	for i, tx := range got {
		if tx.Iteration != i+1 {
			t.Errorf("expected iteration order, got %d at position %d", tx.Iteration, i)
		}
	}
	if got[0].GasUsed != 21000 || got[0].Status != types.TxConfirmed {
		t.Errorf("transaction fields not restored: %+v", got[0])
	}

	page, err := store.GetTransactions(ctx, "exec-1", 2, 2)
	if err != nil {
		t.Fatalf("paged get failed: %v", err)
	}
	if len(page) != 2 || page[0].Iteration != 3 {
		t.Errorf("expected iterations 3..4, got %+v", page)
	}
}

func TestBulkInsertEmptyIsNoop(t *testing.T) {
	store := newTestStorage(t)
	if err := store.BulkInsertTransactions(context.Background(), nil); err != nil {
		t.Errorf("expected nil error for empty batch, got %v", err)
	}
}

func TestDeleteExecutionCascades(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	exec := sampleExecution("exec-1")
	if err := store.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	txs := []types.TestTransaction{{
		ID:          "exec-1-tx-1",
		ExecutionID: "exec-1",
		Iteration:   1,
		Account:     "0xaaaa000000000000000000000000000000000001",
		Status:      types.TxConfirmed,
		Timestamp:   time.Now(),
	}}
	if err := store.BulkInsertTransactions(ctx, txs); err != nil {
		t.Fatalf("bulk insert failed: %v", err)
	}

	if err := store.DeleteExecution(ctx, "exec-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := store.GetExecution(ctx, "exec-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	remaining, err := store.GetTransactions(ctx, "exec-1", 10, 0)
	if err != nil {
		t.Fatalf("get transactions failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected cascade delete, %d transactions remain", len(remaining))
	}

	if err := store.DeleteExecution(ctx, "exec-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}
