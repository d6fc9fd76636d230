package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stressor/internal/gateway"
	"github.com/gateway-fm/stressor/pkg/types"
)

// mockGateway scripts submission results and receipts.
type mockGateway struct {
	mu          sync.Mutex
	submissions int
	submitErrs  []error // consumed per submission, nil entries succeed
	submitTimes []time.Time
	receipts    map[common.Hash]*gateway.Receipt
	autoConfirm bool // every submitted hash gets a confirmed receipt
}

var _ gateway.Gateway = (*mockGateway)(nil)

func newMockGateway() *mockGateway {
	return &mockGateway{receipts: make(map[common.Hash]*gateway.Receipt)}
}

func (g *mockGateway) SubmitCall(ctx context.Context, req gateway.CallRequest) (common.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.submissions++
	g.submitTimes = append(g.submitTimes, time.Now())
	if len(g.submitErrs) > 0 {
		err := g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]
		if err != nil {
			return common.Hash{}, err
		}
	}

	hash := common.BigToHash(common.Big1)
	hash[0] = byte(g.submissions)
	if g.autoConfirm {
		g.receipts[hash] = &gateway.Receipt{
			Status:        gateway.ReceiptSuccess,
			Confirmations: 1,
			GasUsed:       21000,
		}
	}
	return hash, nil
}

func (g *mockGateway) setReceipt(hash common.Hash, r *gateway.Receipt) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.receipts[hash] = r
}

func (g *mockGateway) confirmAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := 1; i <= g.submissions; i++ {
		hash := common.BigToHash(common.Big1)
		hash[0] = byte(i)
		g.receipts[hash] = &gateway.Receipt{Status: gateway.ReceiptSuccess, Confirmations: 1, GasUsed: 21000}
	}
}

func (g *mockGateway) submissionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submissions
}

func (g *mockGateway) submissionTimes() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]time.Time(nil), g.submitTimes...)
}

func (g *mockGateway) GetReceipt(ctx context.Context, txHash common.Hash) (*gateway.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.receipts[txHash], nil
}

func (g *mockGateway) GetReceipts(ctx context.Context, txHashes []common.Hash) ([]*gateway.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*gateway.Receipt, len(txHashes))
	for i, h := range txHashes {
		out[i] = g.receipts[h]
	}
	return out, nil
}

func (g *mockGateway) SubscribeNewBlocks(ctx context.Context, onBlock func(uint64)) (func(), error) {
	return nil, gateway.ErrPushUnsupported
}

const testContract = "0x1111111111111111111111111111111111111111"

func baseConfig() types.TestConfiguration {
	return types.TestConfiguration{
		ContractAddress: testContract,
		FunctionName:    "store(uint256)",
		FunctionArgs:    []string{"0x2a"},
		TotalIterations: 5,
		Network:         "local",
		ConcurrencyMode: types.ModeSequential,
		TimeoutMs:       5000,
	}
}

func newTestExecutor(gw gateway.Gateway) *Executor {
	return New(Config{
		Gateway:      gw,
		Accounts:     []string{"0xaaaa000000000000000000000000000000000001"},
		PollInterval: 10 * time.Millisecond,
	})
}

func waitForComplete(t *testing.T, done <-chan types.TestExecution, timeout time.Duration) types.TestExecution {
	t.Helper()
	select {
	case exec := <-done:
		return exec
	case <-time.After(timeout):
		t.Fatal("execution did not finish in time")
		return types.TestExecution{}
	}
}

func TestSequentialRunCompletes(t *testing.T) {
	gw := newMockGateway()
	gw.autoConfirm = true
	e := newTestExecutor(gw)

	done := make(chan types.TestExecution, 1)
	e.OnComplete(func(exec types.TestExecution) { done <- exec })

	var progressEvents int
	var progressMu sync.Mutex
	e.OnProgress(func(types.TestExecution) {
		progressMu.Lock()
		progressEvents++
		progressMu.Unlock()
	})

	if _, err := e.Start("seq run", baseConfig()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	final := waitForComplete(t, done, 10*time.Second)
	if final.Status != types.StatusCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}
	if final.CurrentIteration != 5 {
		t.Errorf("expected 5 iterations, got %d", final.CurrentIteration)
	}
	if final.SuccessCount+final.FailureCount != 5 {
		t.Errorf("expected success+failure == 5, got %d+%d", final.SuccessCount, final.FailureCount)
	}
	if final.SuccessCount != 5 {
		t.Errorf("expected 5 confirmed, got %d", final.SuccessCount)
	}
	if final.TransactionsPerSecond <= 0 {
		t.Errorf("expected positive tps, got %v", final.TransactionsPerSecond)
	}
	if final.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}

	progressMu.Lock()
	if progressEvents < 5 {
		t.Errorf("expected at least 5 progress events, got %d", progressEvents)
	}
	progressMu.Unlock()

	// Confirmation times recorded only on confirmed transactions.
	for _, tx := range e.RecentTransactions() {
		if tx.Status == types.TxConfirmed && tx.ConfirmationTimeMs < 0 {
			t.Errorf("negative confirmation time: %+v", tx)
		}
		if tx.Status != types.TxConfirmed && tx.ConfirmationTimeMs != 0 {
			t.Errorf("confirmation time on non-confirmed tx: %+v", tx)
		}
	}
}

func TestStopOnErrorRevert(t *testing.T) {
	gw := newMockGateway()
	e := newTestExecutor(gw)

	done := make(chan types.TestExecution, 1)
	e.OnComplete(func(exec types.TestExecution) { done <- exec })

	var errorEvents []types.TestError
	var errMu sync.Mutex
	e.OnError(func(te types.TestError) {
		errMu.Lock()
		errorEvents = append(errorEvents, te)
		errMu.Unlock()
	})

	// First tx confirms, second reverts.
	hash1 := common.BigToHash(common.Big1)
	hash1[0] = 1
	hash2 := common.BigToHash(common.Big1)
	hash2[0] = 2
	gw.setReceipt(hash1, &gateway.Receipt{Status: gateway.ReceiptSuccess, Confirmations: 1, GasUsed: 21000})
	gw.setReceipt(hash2, &gateway.Receipt{Status: gateway.ReceiptReverted, BlockNumber: 9})

	cfg := baseConfig()
	cfg.StopOnError = true

	if _, err := e.Start("stop on error", cfg); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	final := waitForComplete(t, done, 10*time.Second)
	if final.Status != types.StatusFailed {
		t.Errorf("expected failed, got %s", final.Status)
	}
	if final.SuccessCount != 1 || final.FailureCount != 1 {
		t.Errorf("expected 1 success / 1 failure, got %d/%d", final.SuccessCount, final.FailureCount)
	}
	if final.CurrentIteration != 2 {
		t.Errorf("expected stop after iteration 2, got %d", final.CurrentIteration)
	}

	errMu.Lock()
	defer errMu.Unlock()
	if len(errorEvents) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(errorEvents))
	}
	if errorEvents[0].Type != types.ErrorRevert {
		t.Errorf("expected revert error, got %s", errorEvents[0].Type)
	}
}

func TestPauseResumeIdempotent(t *testing.T) {
	gw := newMockGateway()
	gw.autoConfirm = true
	e := newTestExecutor(gw)

	cfg := baseConfig()
	cfg.TotalIterations = 1000
	cfg.DelayBetweenTxMs = 20

	if _, err := e.Start("pausable", cfg); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	e.Pause()
	if got := e.Status(); got != types.StatusPaused {
		t.Fatalf("expected paused, got %s", got)
	}
	// Repeated pause is a no-op.
	e.Pause()
	if got := e.Status(); got != types.StatusPaused {
		t.Errorf("expected paused after second pause, got %s", got)
	}

	// Iteration progress must stall while paused.
	before := e.Execution().CurrentIteration
	time.Sleep(150 * time.Millisecond)
	after := e.Execution().CurrentIteration
	if after > before+1 {
		t.Errorf("iterations advanced while paused: %d -> %d", before, after)
	}

	e.Resume()
	if got := e.Status(); got != types.StatusRunning {
		t.Errorf("expected running after resume, got %s", got)
	}
	// Repeated resume is a no-op.
	e.Resume()
	if got := e.Status(); got != types.StatusRunning {
		t.Errorf("expected running after second resume, got %s", got)
	}

	e.Stop()
}

func TestResumeWithoutPauseIsNoop(t *testing.T) {
	gw := newMockGateway()
	e := newTestExecutor(gw)

	// Idle: nothing to resume.
	e.Resume()
	if got := e.Status(); got != types.StatusIdle {
		t.Errorf("expected idle, got %s", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	gw := newMockGateway()
	gw.autoConfirm = true
	e := newTestExecutor(gw)

	var completions int
	var mu sync.Mutex
	e.OnComplete(func(types.TestExecution) {
		mu.Lock()
		completions++
		mu.Unlock()
	})

	cfg := baseConfig()
	cfg.TotalIterations = 1000
	cfg.DelayBetweenTxMs = 20

	if _, err := e.Start("stoppable", cfg); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	e.Stop()
	if got := e.Status(); got != types.StatusStopped {
		t.Fatalf("expected stopped, got %s", got)
	}

	e.Stop()
	e.Stop()
	if got := e.Status(); got != types.StatusStopped {
		t.Errorf("expected stopped after repeated stops, got %s", got)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if completions != 1 {
		t.Errorf("expected exactly one completion event, got %d", completions)
	}
}

func TestStartRejectsInvalidConfiguration(t *testing.T) {
	gw := newMockGateway()
	e := newTestExecutor(gw)

	tests := []struct {
		name   string
		mutate func(*types.TestConfiguration)
		field  string
	}{
		{"zero iterations", func(c *types.TestConfiguration) { c.TotalIterations = 0 }, "totalIterations"},
		{"bad address", func(c *types.TestConfiguration) { c.ContractAddress = "not-an-address" }, "contractAddress"},
		{"empty function", func(c *types.TestConfiguration) { c.FunctionName = " " }, "functionName"},
		{"unknown network", func(c *types.TestConfiguration) { c.Network = "atlantis" }, "network"},
		{"bad mode", func(c *types.TestConfiguration) { c.ConcurrencyMode = "sideways" }, "concurrencyMode"},
		{"bad tier", func(c *types.TestConfiguration) { c.GasPriceTier = "ludicrous" }, "gasPriceTier"},
		{"negative delay", func(c *types.TestConfiguration) { c.DelayBetweenTxMs = -1 }, "delayBetweenTxMs"},
		{"pool without size", func(c *types.TestConfiguration) {
			c.UseMultipleAccounts = true
			c.AccountPoolSize = 0
		}, "accountPoolSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)

			_, err := e.Start("invalid", cfg)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, cfgErr.Field)
			}
			// Nothing submitted on validation failure.
			if got := gw.submissionCount(); got != 0 {
				t.Errorf("expected no submissions, got %d", got)
			}
			if e.Status() != types.StatusIdle {
				t.Errorf("expected idle after rejected start, got %s", e.Status())
			}
		})
	}
}

func TestStartWhileRunningRejected(t *testing.T) {
	gw := newMockGateway()
	gw.autoConfirm = true
	e := newTestExecutor(gw)

	cfg := baseConfig()
	cfg.TotalIterations = 1000
	cfg.DelayBetweenTxMs = 20

	if _, err := e.Start("first", cfg); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	if _, err := e.Start("second", baseConfig()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRetryReusesIterationSlot(t *testing.T) {
	gw := newMockGateway()
	gw.autoConfirm = true
	// Two submission failures, then success.
	gw.submitErrs = []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		nil,
	}
	e := newTestExecutor(gw)

	done := make(chan types.TestExecution, 1)
	e.OnComplete(func(exec types.TestExecution) { done <- exec })

	cfg := baseConfig()
	cfg.TotalIterations = 1
	cfg.RetryFailedTx = true
	cfg.MaxRetries = 3

	if _, err := e.Start("retry", cfg); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	final := waitForComplete(t, done, 10*time.Second)
	if final.Status != types.StatusCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}
	if final.SuccessCount != 1 {
		t.Errorf("expected 1 success after retries, got %d", final.SuccessCount)
	}
	if final.CurrentIteration != 1 {
		t.Errorf("retries must not consume extra iterations, got %d", final.CurrentIteration)
	}
	if got := gw.submissionCount(); got != 3 {
		t.Errorf("expected 3 submission attempts, got %d", got)
	}
	if len(final.Errors) != 2 {
		t.Errorf("expected 2 recorded submission errors, got %d", len(final.Errors))
	}
}

func TestSubmissionFailureWithoutRetryCountsAsFailure(t *testing.T) {
	gw := newMockGateway()
	gw.submitErrs = []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		errors.New("connection refused"),
	}
	e := newTestExecutor(gw)

	done := make(chan types.TestExecution, 1)
	e.OnComplete(func(exec types.TestExecution) { done <- exec })

	cfg := baseConfig()
	cfg.TotalIterations = 3

	if _, err := e.Start("no retry", cfg); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	final := waitForComplete(t, done, 10*time.Second)
	if final.Status != types.StatusCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}
	if final.FailureCount != 3 {
		t.Errorf("expected 3 failures, got %d", final.FailureCount)
	}
	if final.SuccessCount != 0 {
		t.Errorf("expected no successes, got %d", final.SuccessCount)
	}
}

func TestParallelInFlightBoundedByPool(t *testing.T) {
	gw := newMockGateway()
	// No receipts: submissions stay in flight until confirmed manually.
	e := New(Config{
		Gateway: gw,
		Accounts: []string{
			"0xaaaa000000000000000000000000000000000001",
			"0xaaaa000000000000000000000000000000000002",
			"0xaaaa000000000000000000000000000000000003",
		},
		PollInterval: 10 * time.Millisecond,
	})

	done := make(chan types.TestExecution, 1)
	e.OnComplete(func(exec types.TestExecution) { done <- exec })

	cfg := baseConfig()
	cfg.TotalIterations = 6
	cfg.ConcurrencyMode = types.ModeParallel
	cfg.UseMultipleAccounts = true
	cfg.AccountPoolSize = 3
	cfg.TimeoutMs = 30000

	if _, err := e.Start("parallel", cfg); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// The pool has 3 slots; with nothing confirming, submissions must
	// stall at 3.
	time.Sleep(200 * time.Millisecond)
	if got := gw.submissionCount(); got != 3 {
		t.Fatalf("expected exactly 3 in-flight submissions, got %d", got)
	}

	// Confirm everything; the run drains and completes.
	for i := 0; i < 20 && e.Status() == types.StatusRunning; i++ {
		gw.confirmAll()
		time.Sleep(50 * time.Millisecond)
	}

	final := waitForComplete(t, done, 10*time.Second)
	if final.Status != types.StatusCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}
	if final.SuccessCount != 6 {
		t.Errorf("expected 6 confirmed, got %d", final.SuccessCount)
	}
}

func TestStopOnErrorLetsInFlightResolve(t *testing.T) {
	gw := newMockGateway()
	e := New(Config{
		Gateway: gw,
		Accounts: []string{
			"0xaaaa000000000000000000000000000000000001",
			"0xaaaa000000000000000000000000000000000002",
			"0xaaaa000000000000000000000000000000000003",
		},
		PollInterval: 10 * time.Millisecond,
	})

	done := make(chan types.TestExecution, 1)
	e.OnComplete(func(exec types.TestExecution) { done <- exec })

	cfg := baseConfig()
	cfg.TotalIterations = 3
	cfg.ConcurrencyMode = types.ModeParallel
	cfg.UseMultipleAccounts = true
	cfg.AccountPoolSize = 3
	cfg.StopOnError = true
	cfg.TimeoutMs = 30000

	if _, err := e.Start("stop with stragglers", cfg); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Let all three submissions go out before anything resolves.
	deadline := time.Now().Add(2 * time.Second)
	for gw.submissionCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := gw.submissionCount(); got != 3 {
		t.Fatalf("expected 3 submissions, got %d", got)
	}

	// The second transaction reverts, ending the run while the first and
	// third are still unresolved.
	hash2 := common.BigToHash(common.Big1)
	hash2[0] = 2
	gw.setReceipt(hash2, &gateway.Receipt{Status: gateway.ReceiptReverted, BlockNumber: 7})

	final := waitForComplete(t, done, 10*time.Second)
	if final.Status != types.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.FailureCount != 1 {
		t.Errorf("expected 1 failure at stop, got %d", final.FailureCount)
	}

	// The stragglers must still resolve: monitoring outlives the run loop
	// until its pending set drains.
	hash1 := common.BigToHash(common.Big1)
	hash1[0] = 1
	hash3 := common.BigToHash(common.Big1)
	hash3[0] = 3
	gw.setReceipt(hash1, &gateway.Receipt{Status: gateway.ReceiptSuccess, Confirmations: 1, GasUsed: 21000})
	gw.setReceipt(hash3, &gateway.Receipt{Status: gateway.ReceiptSuccess, Confirmations: 1, GasUsed: 21000})

	deadline = time.Now().Add(3 * time.Second)
	for e.InFlight() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := e.InFlight(); got != 0 {
		t.Fatalf("expected pending set to drain after failure, still tracking %d", got)
	}

	var confirmed, pending int
	for _, tx := range e.RecentTransactions() {
		switch tx.Status {
		case types.TxConfirmed:
			confirmed++
		case types.TxPending:
			pending++
		}
	}
	if pending != 0 {
		t.Errorf("expected no transaction left pending, got %d", pending)
	}
	if confirmed != 2 {
		t.Errorf("expected 2 late confirmations in history, got %d", confirmed)
	}

	// Late resolutions never mutate the finished execution.
	if snap := e.Execution(); snap.SuccessCount != final.SuccessCount || snap.FailureCount != final.FailureCount {
		t.Errorf("terminal counts changed after failure: %d/%d -> %d/%d",
			final.SuccessCount, final.FailureCount, snap.SuccessCount, snap.FailureCount)
	}
}

func TestRestartSurvivesPriorRunTeardown(t *testing.T) {
	gw := newMockGateway()
	e := New(Config{
		Gateway: gw,
		Accounts: []string{
			"0xaaaa000000000000000000000000000000000001",
			"0xaaaa000000000000000000000000000000000002",
			"0xaaaa000000000000000000000000000000000003",
		},
		PollInterval: 10 * time.Millisecond,
	})

	done := make(chan types.TestExecution, 1)
	e.OnComplete(func(exec types.TestExecution) { done <- exec })

	// First run fails on a revert with two submissions still unresolved,
	// leaving its deferred monitor teardown waiting on the drain.
	cfg := baseConfig()
	cfg.TotalIterations = 3
	cfg.ConcurrencyMode = types.ModeParallel
	cfg.UseMultipleAccounts = true
	cfg.AccountPoolSize = 3
	cfg.StopOnError = true
	cfg.TimeoutMs = 30000

	if _, err := e.Start("first", cfg); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for gw.submissionCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hash2 := common.BigToHash(common.Big1)
	hash2[0] = 2
	gw.setReceipt(hash2, &gateway.Receipt{Status: gateway.ReceiptReverted, BlockNumber: 7})

	final := waitForComplete(t, done, 10*time.Second)
	if final.Status != types.StatusFailed {
		t.Fatalf("expected first run failed, got %s", final.Status)
	}

	// Second run starts while the first run's stragglers are pending.
	gw.mu.Lock()
	gw.autoConfirm = true
	gw.mu.Unlock()

	cfg2 := baseConfig()
	cfg2.TotalIterations = 2
	if _, err := e.Start("second", cfg2); err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	// Resolving the stragglers now lets the first run's teardown fire;
	// it must not take the restarted monitor down with it.
	hash1 := common.BigToHash(common.Big1)
	hash1[0] = 1
	hash3 := common.BigToHash(common.Big1)
	hash3[0] = 3
	gw.setReceipt(hash1, &gateway.Receipt{Status: gateway.ReceiptSuccess, Confirmations: 1, GasUsed: 21000})
	gw.setReceipt(hash3, &gateway.Receipt{Status: gateway.ReceiptSuccess, Confirmations: 1, GasUsed: 21000})

	second := waitForComplete(t, done, 10*time.Second)
	if second.Status != types.StatusCompleted {
		t.Fatalf("expected second run completed, got %s", second.Status)
	}
	if second.SuccessCount != 2 {
		t.Errorf("expected 2 confirmed in second run, got %d", second.SuccessCount)
	}
}

func TestParallelDelayCapsSubmissionRate(t *testing.T) {
	gw := newMockGateway()
	gw.autoConfirm = true
	e := newTestExecutor(gw)

	done := make(chan types.TestExecution, 1)
	e.OnComplete(func(exec types.TestExecution) { done <- exec })

	cfg := baseConfig()
	cfg.TotalIterations = 4
	cfg.ConcurrencyMode = types.ModeParallel
	cfg.DelayBetweenTxMs = 60

	if _, err := e.Start("rate capped", cfg); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	final := waitForComplete(t, done, 10*time.Second)
	if final.Status != types.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}

	times := gw.submissionTimes()
	if len(times) != 4 {
		t.Fatalf("expected 4 submissions, got %d", len(times))
	}

	// The delay acts as a global rate cap: each submission is spaced at
	// least one interval from the previous, modulo scheduling jitter.
	const slack = 15 * time.Millisecond
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < 60*time.Millisecond-slack {
			t.Errorf("submissions %d and %d only %v apart, want >= ~60ms", i-1, i, gap)
		}
	}
	if spread := times[3].Sub(times[0]); spread < 3*60*time.Millisecond-slack {
		t.Errorf("4 submissions spread over %v, want >= ~180ms", spread)
	}
}

func TestResolvedCountsNeverExceedIterations(t *testing.T) {
	gw := newMockGateway()
	gw.autoConfirm = true
	e := New(Config{
		Gateway:      gw,
		Accounts:     []string{"0xaaaa000000000000000000000000000000000001"},
		PollInterval: time.Millisecond,
	})

	done := make(chan types.TestExecution, 1)
	e.OnComplete(func(exec types.TestExecution) { done <- exec })

	cfg := baseConfig()
	cfg.TotalIterations = 40
	cfg.ConcurrencyMode = types.ModeParallel

	if _, err := e.Start("counter ordering", cfg); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Sample execution snapshots while resolutions race submissions; the
	// iteration counter must always lead the resolved counts.
	stop := make(chan struct{})
	violations := make(chan string, 1)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if snap := e.Execution(); snap != nil {
				if resolved := snap.SuccessCount + snap.FailureCount; resolved > snap.CurrentIteration {
					select {
					case violations <- fmt.Sprintf("resolved %d > iteration %d", resolved, snap.CurrentIteration):
					default:
					}
					return
				}
			}
		}
	}()

	final := waitForComplete(t, done, 15*time.Second)
	close(stop)

	select {
	case v := <-violations:
		t.Fatal(v)
	default:
	}

	if final.Status != types.StatusCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}
	if final.SuccessCount != 40 {
		t.Errorf("expected 40 confirmed, got %d", final.SuccessCount)
	}
}

func TestRoundRobinAccounts(t *testing.T) {
	gw := newMockGateway()
	gw.autoConfirm = true
	accounts := []string{
		"0xaaaa000000000000000000000000000000000001",
		"0xaaaa000000000000000000000000000000000002",
	}
	e := New(Config{
		Gateway:      gw,
		Accounts:     accounts,
		PollInterval: 10 * time.Millisecond,
	})

	done := make(chan types.TestExecution, 1)
	e.OnComplete(func(exec types.TestExecution) { done <- exec })

	cfg := baseConfig()
	cfg.TotalIterations = 4
	cfg.UseMultipleAccounts = true
	cfg.AccountPoolSize = 2

	if _, err := e.Start("round robin", cfg); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitForComplete(t, done, 10*time.Second)

	txs := e.RecentTransactions()
	if len(txs) != 4 {
		t.Fatalf("expected 4 transactions, got %d", len(txs))
	}
	for i, tx := range txs {
		want := accounts[i%2]
		if tx.Account != want {
			t.Errorf("iteration %d: expected account %s, got %s", tx.Iteration, want, tx.Account)
		}
	}
}

func TestHistoryStatsAfterRuns(t *testing.T) {
	gw := newMockGateway()
	gw.autoConfirm = true
	e := newTestExecutor(gw)

	done := make(chan types.TestExecution, 1)
	e.OnComplete(func(exec types.TestExecution) { done <- exec })

	for i := 0; i < 2; i++ {
		cfg := baseConfig()
		cfg.TotalIterations = 2
		if _, err := e.Start(fmt.Sprintf("run %d", i), cfg); err != nil {
			t.Fatalf("start %d failed: %v", i, err)
		}
		waitForComplete(t, done, 10*time.Second)
	}

	hs := e.HistoryStats()
	if hs.TotalExecutions != 2 {
		t.Errorf("expected 2 executions, got %d", hs.TotalExecutions)
	}
	if hs.SuccessfulExecutions != 2 {
		t.Errorf("expected 2 completed, got %d", hs.SuccessfulExecutions)
	}
	if hs.TotalTransactions != 4 {
		t.Errorf("expected 4 transactions, got %d", hs.TotalTransactions)
	}
}
