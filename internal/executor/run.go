package executor

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stressor/internal/gateway"
	"github.com/gateway-fm/stressor/internal/monitor"
	"github.com/gateway-fm/stressor/internal/ratelimit"
	"github.com/gateway-fm/stressor/internal/stats"
	"github.com/gateway-fm/stressor/pkg/types"
)

// drainTimeout caps the wait for in-flight resolutions after the last
// submission, on top of the per-transaction timeout that guarantees every
// pending entry eventually resolves.
const drainTimeout = 10 * time.Second

// run is the iteration loop. It is the only goroutine that advances
// CurrentIteration; resolutions arrive concurrently via handleResolution.
func (e *Executor) run(ctx context.Context, session uint64) {
	defer close(e.runDone)

	e.mu.Lock()
	cfg := e.exec.Config
	execID := e.exec.ID
	e.mu.Unlock()

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	delay := time.Duration(cfg.DelayBetweenTxMs) * time.Millisecond

	// When the loop exits the monitor keeps polling until its pending set
	// drains or every entry times out, so in-flight transactions still
	// resolve after a stop-on-error failure. An explicit Stop releases the
	// monitor immediately instead.
	defer func() { e.mon.Retire(session, time.Now().Add(timeout+drainTimeout)) }()

	// In parallel mode the configured delay acts as a global submission
	// rate cap instead of a strict inter-transaction sleep.
	var limiter *ratelimit.Limiter
	if cfg.ConcurrencyMode == types.ModeParallel && delay > 0 {
		limiter = ratelimit.New(delay)
	}

	for i := 1; i <= cfg.TotalIterations; i++ {
		if !e.awaitRunnable() {
			return
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		// Admission control: one slot per unconfirmed transaction,
		// bounded by the account pool size.
		select {
		case e.inflight <- struct{}{}:
		case <-ctx.Done():
			return
		}

		account := e.nextAccount(cfg)
		hash, tx, ok := e.submitIteration(ctx, cfg, execID, i, account, timeout)
		if !ok {
			// Submission failed terminally for this iteration.
			<-e.inflight
			if e.recordSubmissionFailure(tx, cfg) {
				return
			}
			continue
		}

		e.reportIteration()

		if cfg.ConcurrencyMode == types.ModeSequential {
			if stopped := e.awaitResolution(ctx, hash, timeout); stopped {
				return
			}
			if e.sleepInterruptible(ctx, delay) {
				return
			}
		}
	}

	e.drainAndComplete(ctx, timeout)
}

// awaitRunnable parks while paused and reports whether submission may
// continue. Returns false once the execution is terminal or stop was
// requested.
func (e *Executor) awaitRunnable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		if e.exec == nil || e.exec.Status.IsTerminal() || e.stopRequested {
			return false
		}
		if e.exec.Status == types.StatusRunning {
			return true
		}
		e.cond.Wait()
	}
}

// submitIteration sends one contract call, retrying submission failures
// in place when the retry policy allows. Returns the transaction hash and
// record on success; ok is false when the iteration's submission budget
// is exhausted.
func (e *Executor) submitIteration(ctx context.Context, cfg types.TestConfiguration, execID string, iteration int, account string, timeout time.Duration) (common.Hash, types.TestTransaction, bool) {
	req := gateway.CallRequest{
		Contract: cfg.ContractAddress,
		Function: cfg.FunctionName,
		Args:     cfg.FunctionArgs,
		Account:  account,
		GasTier:  cfg.GasPriceTier,
	}

	tx := types.TestTransaction{
		ID:          fmt.Sprintf("%s-tx-%d", execID, e.txSeq.Add(1)),
		ExecutionID: execID,
		Iteration:   iteration,
		Account:     account,
		Status:      types.TxPending,
		Timestamp:   time.Now(),
	}

	attempts := 1
	if cfg.RetryFailedTx && cfg.MaxRetries > 0 {
		attempts += cfg.MaxRetries
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		hash, err := e.gw.SubmitCall(callCtx, req)
		cancel()
		if err == nil {
			tx.Hash = hash.Hex()
			e.registerPending(hash, tx)
			e.mon.Add(hash, execID, iteration, account)
			if e.metrics != nil {
				e.metrics.TxSubmitted()
			}
			e.emitTransaction(tx)
			return hash, tx, true
		}

		errType := gateway.Classify(err)
		e.recordError(execID, iteration, errType, err.Error())
		e.logger.Warn("submission failed",
			slog.Int("iteration", iteration),
			slog.Int("attempt", attempt),
			slog.String("errorType", string(errType)),
			slog.String("error", err.Error()),
		)

		if ctx.Err() != nil {
			break
		}
	}

	tx.Status = types.TxFailed
	return common.Hash{}, tx, false
}

// registerPending remembers the submission record so the resolution can
// update it, and mirrors it into the recent-transaction history. It also
// advances the iteration counter here, before the monitor learns of the
// hash, so success and failure counts never run ahead of it.
func (e *Executor) registerPending(hash common.Hash, tx types.TestTransaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingTx[hash] = tx
	e.recentTx.Add(tx)
	if e.exec != nil && !e.exec.Status.IsTerminal() && tx.Iteration > e.exec.CurrentIteration {
		e.exec.CurrentIteration = tx.Iteration
	}
}

// recordSubmissionFailure folds a terminally failed submission into the
// execution. Returns true when stop-on-error ends the run.
func (e *Executor) recordSubmissionFailure(tx types.TestTransaction, cfg types.TestConfiguration) bool {
	e.mu.Lock()
	if e.exec == nil || e.exec.Status.IsTerminal() {
		e.mu.Unlock()
		return true
	}
	e.exec.CurrentIteration++
	e.exec.FailureCount++
	e.resolvedCount++
	e.recentTx.Add(tx)
	if e.metrics != nil {
		e.metrics.TxResolved(string(types.TxFailed))
		e.metrics.SetProgress(stats.Progress(e.exec.CurrentIteration, e.exec.TotalIterations))
	}
	snapshot := *e.exec
	stop := cfg.StopOnError
	if stop {
		e.transitionLocked(types.StatusFailed)
	}
	e.mu.Unlock()

	e.emitTransaction(tx)
	e.emitProgress(snapshot)
	return stop
}

// reportIteration publishes progress after a successful submission. The
// iteration counter itself advances in registerPending.
func (e *Executor) reportIteration() {
	e.mu.Lock()
	if e.exec == nil || e.exec.Status.IsTerminal() {
		e.mu.Unlock()
		return
	}
	if e.metrics != nil {
		e.metrics.SetProgress(stats.Progress(e.exec.CurrentIteration, e.exec.TotalIterations))
		e.metrics.SetInFlight(len(e.inflight))
	}
	snapshot := *e.exec
	e.mu.Unlock()

	e.emitProgress(snapshot)
}

// awaitResolution blocks until the given transaction resolves, with the
// per-transaction timeout as a hard cap on the wait. The monitor emits a
// timeout resolution on its own cadence, so an expired wait here only
// stops blocking the loop, it never loses the transaction.
func (e *Executor) awaitResolution(ctx context.Context, hash common.Hash, timeout time.Duration) (stopped bool) {
	ch := make(chan monitor.Resolution, 1)
	e.mu.Lock()
	if _, pending := e.pendingTx[hash]; !pending {
		// Resolved before the waiter registered.
		e.mu.Unlock()
		return false
	}
	e.waiters[hash] = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.waiters, hash)
		e.mu.Unlock()
	}()

	// Grace on top of the timeout so the monitor's own expiry usually
	// arrives first and resolves the wait cleanly.
	timer := time.NewTimer(timeout + DefaultPollGrace)
	defer timer.Stop()

	select {
	case <-ch:
		return false
	case <-timer.C:
		return false
	case <-ctx.Done():
		return true
	}
}

// DefaultPollGrace pads sequential waits past the transaction timeout so
// the monitor's expiry fires before the local timer.
const DefaultPollGrace = 3 * time.Second

// sleepInterruptible pauses between sequential submissions; returns true
// when the run was cancelled during the sleep.
func (e *Executor) sleepInterruptible(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() != nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-ctx.Done():
		return true
	}
}

// drainAndComplete waits for outstanding resolutions after the last
// submission, then transitions to completed. The monitor's timeout expiry
// guarantees the resolved count converges.
func (e *Executor) drainAndComplete(ctx context.Context, timeout time.Duration) {
	deadline := time.Now().Add(timeout + drainTimeout)

	e.mu.Lock()
	for e.exec != nil && !e.exec.Status.IsTerminal() &&
		e.resolvedCount < e.exec.CurrentIteration && time.Now().Before(deadline) {
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}

		e.mu.Lock()
	}

	if e.exec != nil && !e.exec.Status.IsTerminal() {
		e.transitionLocked(types.StatusCompleted)
	}
	e.mu.Unlock()
}

// handleResolution is the monitor callback. It updates the submission's
// transaction record, folds the outcome into the execution, recomputes
// throughput on confirmations and wakes any sequential waiter. Terminal
// executions are never mutated; late resolutions only release resources.
func (e *Executor) handleResolution(res monitor.Resolution) {
	e.mu.Lock()

	// Release the admission slot regardless of outcome, but only for
	// resolutions belonging to the execution that owns the current pool;
	// a late resolution from a superseded run must not free a slot in
	// the new run's channel.
	if e.exec != nil && e.exec.ID == res.Record.ExecutionID {
		select {
		case <-e.inflight:
		default:
		}
	}

	tx, known := e.pendingTx[res.Record.Hash]
	if !known {
		tx = types.TestTransaction{
			ID:          fmt.Sprintf("%s-tx-%d", res.Record.ExecutionID, e.txSeq.Add(1)),
			ExecutionID: res.Record.ExecutionID,
			Iteration:   res.Record.Iteration,
			Account:     res.Record.Account,
			Hash:        res.Record.Hash.Hex(),
			Timestamp:   res.Record.SubmittedAt,
		}
	}
	delete(e.pendingTx, res.Record.Hash)

	tx.Status = res.Status
	tx.GasUsed = res.GasUsed
	if res.Status == types.TxConfirmed {
		tx.ConfirmationTimeMs = res.ConfirmationTime.Milliseconds()
	}
	e.recentTx.Update(tx)

	var (
		progress *types.TestExecution
		execErr  *types.TestError
		cancel   context.CancelFunc
	)

	current := e.exec != nil && !e.exec.Status.IsTerminal() && e.exec.ID == res.Record.ExecutionID
	if current {
		e.resolvedCount++
		switch res.Status {
		case types.TxConfirmed:
			e.exec.SuccessCount++
			e.latency.Add(float64(res.ConfirmationTime.Milliseconds()))
			e.exec.TransactionsPerSecond = stats.Throughput(e.exec.SuccessCount, e.exec.StartedAt, time.Now())
			if e.metrics != nil {
				e.metrics.TxResolved(string(types.TxConfirmed))
				e.metrics.ObserveConfirmation(res.ConfirmationTime)
			}
		case types.TxFailed:
			e.exec.FailureCount++
			te := e.newErrorLocked(res.Record.ExecutionID, res.Record.Iteration, res.ErrorType, res.Message)
			execErr = &te
			if e.metrics != nil {
				e.metrics.TxResolved(string(types.TxFailed))
				e.metrics.ErrorRecorded(string(res.ErrorType))
			}
		}
		if e.metrics != nil {
			e.metrics.SetInFlight(len(e.inflight))
		}

		if res.Status == types.TxFailed && e.exec.Config.StopOnError {
			e.stopRequested = true
			cancel = e.runCancel
			e.transitionLocked(types.StatusFailed)
		}
		if e.exec != nil {
			snapshot := *e.exec
			progress = &snapshot
		}
	}

	waiter := e.waiters[res.Record.Hash]
	e.mu.Unlock()

	if waiter != nil {
		select {
		case waiter <- res:
		default:
		}
	}

	e.emitTransaction(tx)
	if execErr != nil {
		e.emitError(*execErr)
	}
	if progress != nil && (res.Status == types.TxConfirmed || res.Status == types.TxFailed) {
		e.emitProgress(*progress)
	}
	if cancel != nil {
		cancel()
	}
}

// newErrorLocked appends a classified error to the execution record and
// the recent-error history. Caller holds e.mu.
func (e *Executor) newErrorLocked(execID string, iteration int, errType types.ErrorType, message string) types.TestError {
	te := types.TestError{
		ID:          fmt.Sprintf("%s-err-%d", execID, e.txSeq.Add(1)),
		ExecutionID: execID,
		Iteration:   iteration,
		Type:        errType,
		Message:     message,
		Timestamp:   time.Now(),
	}
	e.exec.Errors = append(e.exec.Errors, te)
	e.recentErrors.Add(te)
	return te
}

// recordError registers a submission-phase error without touching
// iteration counters.
func (e *Executor) recordError(execID string, iteration int, errType types.ErrorType, message string) {
	e.mu.Lock()
	var te types.TestError
	valid := e.exec != nil && !e.exec.Status.IsTerminal()
	if valid {
		te = e.newErrorLocked(execID, iteration, errType, message)
		if e.metrics != nil {
			e.metrics.ErrorRecorded(string(errType))
		}
	}
	e.mu.Unlock()

	if valid {
		e.emitError(te)
	}
}
