// Package executor drives a configured number of contract-call iterations
// to completion, honoring concurrency mode, delay, retry policy and user
// pause/stop requests. It owns the TestExecution record; the monitor only
// reports resolutions back through a callback.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stressor/internal/gateway"
	"github.com/gateway-fm/stressor/internal/history"
	"github.com/gateway-fm/stressor/internal/metrics"
	"github.com/gateway-fm/stressor/internal/monitor"
	"github.com/gateway-fm/stressor/internal/stats"
	"github.com/gateway-fm/stressor/pkg/types"
)

// ErrAlreadyRunning is returned by Start while an execution is active.
var ErrAlreadyRunning = errors.New("executor: a test execution is already active")

// ConfigurationError rejects an invalid test configuration at start time,
// before any submission occurs.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// DefaultInFlightCap bounds concurrent unconfirmed transactions in
// parallel mode when no account pool size is configured.
const DefaultInFlightCap = 5

// DefaultTimeout applies when the configuration leaves TimeoutMs unset.
const DefaultTimeout = 60 * time.Second

// Config for creating an Executor.
type Config struct {
	Gateway               gateway.Gateway
	Accounts              []string // account pool, round-robin order
	Networks              []string // accepted network identifiers
	PollInterval          time.Duration
	ConfirmationThreshold uint64
	TxBufferSize          int
	ErrorBufferSize       int
	ResultBufferSize      int
	Metrics               *metrics.Metrics // optional
	Logger                *slog.Logger
}

// Executor is the test engine: one active execution at a time.
type Executor struct {
	gw       gateway.Gateway
	mon      *monitor.Monitor
	accounts []string
	networks map[string]bool
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu   sync.Mutex
	cond *sync.Cond // signals pause/resume, stop and resolution progress

	exec          *types.TestExecution
	resolvedCount int  // terminal resolutions folded into the active execution
	stopRequested bool // set by Stop and by stop-on-error resolutions
	accountCursor int

	runCtx    context.Context
	runCancel context.CancelFunc
	runDone   chan struct{}

	// In-flight admission control: a semaphore channel sized to the
	// account pool in parallel mode.
	inflight chan struct{}

	// Sequential-mode waiters keyed by transaction hash.
	waiters map[common.Hash]chan monitor.Resolution

	// Pending transaction records keyed by hash, so resolutions update
	// the record created at submission time.
	pendingTx map[common.Hash]types.TestTransaction

	txSeq atomic.Int64 // transaction/error id sequence

	// Bounded history consumed by presentation layers.
	recentTx     *history.TxBuffer
	recentErrors *history.ErrorBuffer
	results      *history.ResultBuffer
	latency      *stats.LatencyTracker

	listeners listeners
}

// listeners is the registered event fan-out. Registration happens at
// construction time; invocation is synchronous, one event at a time.
type listeners struct {
	progress    []func(types.TestExecution)
	transaction []func(types.TestTransaction)
	errs        []func(types.TestError)
	complete    []func(types.TestExecution)
}

// DefaultNetworks are accepted when Config.Networks is empty.
var DefaultNetworks = []string{"mainnet", "sepolia", "holesky", "devnet", "local"}

// New creates an Executor and its internal monitor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	networks := cfg.Networks
	if len(networks) == 0 {
		networks = DefaultNetworks
	}
	networkSet := make(map[string]bool, len(networks))
	for _, n := range networks {
		networkSet[n] = true
	}

	e := &Executor{
		gw:           cfg.Gateway,
		accounts:     cfg.Accounts,
		networks:     networkSet,
		metrics:      cfg.Metrics,
		logger:       logger,
		waiters:      make(map[common.Hash]chan monitor.Resolution),
		pendingTx:    make(map[common.Hash]types.TestTransaction),
		recentTx:     history.NewTxBuffer(cfg.TxBufferSize),
		recentErrors: history.NewErrorBuffer(cfg.ErrorBufferSize),
		results:      history.NewResultBuffer(cfg.ResultBufferSize),
		latency:      stats.NewLatencyTracker(),
	}
	e.cond = sync.NewCond(&e.mu)

	e.mon = monitor.New(monitor.Config{
		Gateway:               cfg.Gateway,
		PollInterval:          cfg.PollInterval,
		ConfirmationThreshold: cfg.ConfirmationThreshold,
		OnResolution:          e.handleResolution,
		Logger:                logger,
	})

	return e
}

// OnProgress registers a listener fired on every iteration-count change.
func (e *Executor) OnProgress(fn func(types.TestExecution)) {
	e.listeners.progress = append(e.listeners.progress, fn)
}

// OnTransaction registers a listener fired on every submission and every
// status resolution.
func (e *Executor) OnTransaction(fn func(types.TestTransaction)) {
	e.listeners.transaction = append(e.listeners.transaction, fn)
}

// OnError registers a listener fired on every classified failure.
func (e *Executor) OnError(fn func(types.TestError)) {
	e.listeners.errs = append(e.listeners.errs, fn)
}

// OnComplete registers a listener fired exactly once per execution, on
// its terminal transition.
func (e *Executor) OnComplete(fn func(types.TestExecution)) {
	e.listeners.complete = append(e.listeners.complete, fn)
}

// Start validates the configuration and launches a new test execution.
// Fails fast with a ConfigurationError before any submission occurs.
func (e *Executor) Start(name string, cfg types.TestConfiguration) (*types.TestExecution, error) {
	if err := e.validate(cfg); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.exec != nil && !e.exec.Status.IsTerminal() {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	prevDone := e.runDone
	e.mu.Unlock()

	// The previous run goroutine may still be unwinding past its terminal
	// transition; wait it out so its final state updates cannot leak into
	// the new execution.
	if prevDone != nil {
		<-prevDone
	}

	e.mu.Lock()
	if e.exec != nil && !e.exec.Status.IsTerminal() {
		// Lost a concurrent Start race.
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}

	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = int(DefaultTimeout / time.Millisecond)
	}
	if cfg.ConcurrencyMode == "" {
		cfg.ConcurrencyMode = types.ModeSequential
	}

	if name == "" {
		name = fmt.Sprintf("%s %s on %s", cfg.FunctionName, cfg.ContractAddress[:10], cfg.Network)
	}

	exec := &types.TestExecution{
		ID:              fmt.Sprintf("exec-%d", time.Now().UnixNano()),
		Name:            name,
		Status:          types.StatusRunning,
		TotalIterations: cfg.TotalIterations,
		Config:          cfg,
		StartedAt:       time.Now(),
	}

	slots := e.inflightCap(cfg)
	e.exec = exec
	e.resolvedCount = 0
	e.stopRequested = false
	e.accountCursor = 0
	e.inflight = make(chan struct{}, slots)
	e.waiters = make(map[common.Hash]chan monitor.Resolution)
	e.pendingTx = make(map[common.Hash]types.TestTransaction)
	e.txSeq.Store(0)
	e.latency.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	e.runCtx = ctx
	e.runCancel = cancel
	e.runDone = make(chan struct{})
	snapshot := *exec
	e.mu.Unlock()

	session := e.mon.Start(&snapshot)
	if e.metrics != nil {
		e.metrics.SetStatus(string(types.StatusRunning))
	}

	e.logger.Info("test execution started",
		slog.String("id", exec.ID),
		slog.String("contract", cfg.ContractAddress),
		slog.String("function", cfg.FunctionName),
		slog.Int("iterations", cfg.TotalIterations),
		slog.String("mode", string(cfg.ConcurrencyMode)),
		slog.Int("inFlightCap", slots),
	)

	go e.run(ctx, session)

	return &snapshot, nil
}

// inflightCap derives the parallel-mode admission cap from the account
// pool size.
func (e *Executor) inflightCap(cfg types.TestConfiguration) int {
	if cfg.ConcurrencyMode != types.ModeParallel {
		return 1
	}
	if cfg.UseMultipleAccounts && cfg.AccountPoolSize > 0 {
		return cfg.AccountPoolSize
	}
	return DefaultInFlightCap
}

// Pause suspends iteration progress. No-op unless running. In-flight
// transactions keep confirming while paused.
func (e *Executor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exec == nil || e.exec.Status != types.StatusRunning {
		return
	}
	e.exec.Status = types.StatusPaused
	e.cond.Broadcast()
	e.logger.Info("test execution paused", slog.String("id", e.exec.ID))
	if e.metrics != nil {
		e.metrics.SetStatus(string(types.StatusPaused))
	}
}

// Resume continues a paused execution. No-op unless paused.
func (e *Executor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exec == nil || e.exec.Status != types.StatusPaused {
		return
	}
	e.exec.Status = types.StatusRunning
	e.cond.Broadcast()
	e.logger.Info("test execution resumed", slog.String("id", e.exec.ID))
	if e.metrics != nil {
		e.metrics.SetStatus(string(types.StatusRunning))
	}
}

// Stop terminates the active execution. Safe to call from any state and
// idempotent; pending monitor entries are released without waiting for
// their resolution.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.exec == nil || e.exec.Status.IsTerminal() {
		e.mu.Unlock()
		return
	}
	e.stopRequested = true
	e.transitionLocked(types.StatusStopped)
	cancel := e.runCancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.mon.Stop()
}

// Execution returns a snapshot copy of the current execution, nil when idle.
func (e *Executor) Execution() *types.TestExecution {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exec == nil {
		return nil
	}
	snapshot := *e.exec
	snapshot.Errors = append([]types.TestError(nil), e.exec.Errors...)
	return &snapshot
}

// Status returns the current execution status, StatusIdle when none ran yet.
func (e *Executor) Status() types.ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exec == nil {
		return types.StatusIdle
	}
	return e.exec.Status
}

// Stats derives the current execution statistics.
func (e *Executor) Stats() types.ExecutionStats {
	return stats.ForExecution(e.Execution(), time.Now())
}

// Latency returns confirmation latency statistics for the current run.
func (e *Executor) Latency() *types.LatencyStats {
	return e.latency.Stats()
}

// InFlight returns the number of transactions awaiting resolution.
func (e *Executor) InFlight() int {
	return e.mon.PendingCount()
}

// ActiveMonitors exposes the monitor's pending-record snapshot.
func (e *Executor) ActiveMonitors() []monitor.Record {
	return e.mon.ActiveMonitors()
}

// Recheck forces an immediate status query for one transaction hash.
func (e *Executor) Recheck(txHash common.Hash) {
	e.mon.Recheck(txHash)
}

// RecentTransactions returns the bounded recent-transaction history.
func (e *Executor) RecentTransactions() []types.TestTransaction {
	return e.recentTx.Snapshot()
}

// RecentErrors returns the bounded recent-error history.
func (e *Executor) RecentErrors() []types.TestError {
	return e.recentErrors.Snapshot()
}

// Results returns finished executions, oldest first.
func (e *Executor) Results() []types.TestExecution {
	return e.results.Snapshot()
}

// HistoryStats aggregates the finished-execution buffer.
func (e *Executor) HistoryStats() types.HistoryStats {
	return stats.ForHistory(e.results.Snapshot())
}

// transitionLocked moves the execution to a terminal status and fires
// OnComplete exactly once. Caller holds e.mu.
func (e *Executor) transitionLocked(status types.ExecutionStatus) {
	if e.exec == nil || e.exec.Status.IsTerminal() {
		return
	}

	e.exec.Status = status
	e.exec.CompletedAt = time.Now()
	snapshot := *e.exec
	snapshot.Errors = append([]types.TestError(nil), e.exec.Errors...)
	e.results.Add(snapshot)
	e.cond.Broadcast()

	e.logger.Info("test execution finished",
		slog.String("id", snapshot.ID),
		slog.String("status", string(status)),
		slog.Int("iterations", snapshot.CurrentIteration),
		slog.Int("success", snapshot.SuccessCount),
		slog.Int("failure", snapshot.FailureCount),
		slog.Float64("tps", snapshot.TransactionsPerSecond),
	)
	if e.metrics != nil {
		e.metrics.SetStatus(string(status))
	}

	// Listeners run without the lock: they may call back into the executor.
	listeners := e.listeners.complete
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(snapshot)
	}
	e.mu.Lock()
}

func (e *Executor) emitProgress(snapshot types.TestExecution) {
	for _, fn := range e.listeners.progress {
		fn(snapshot)
	}
}

func (e *Executor) emitTransaction(tx types.TestTransaction) {
	for _, fn := range e.listeners.transaction {
		fn(tx)
	}
}

func (e *Executor) emitError(te types.TestError) {
	for _, fn := range e.listeners.errs {
		fn(te)
	}
}

// nextAccount selects the submitting account: round-robin over the pool
// when multiple accounts are enabled, else the sole account.
func (e *Executor) nextAccount(cfg types.TestConfiguration) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !cfg.UseMultipleAccounts || len(e.accounts) == 1 {
		return e.accounts[0]
	}
	pool := len(e.accounts)
	if cfg.AccountPoolSize > 0 && cfg.AccountPoolSize < pool {
		pool = cfg.AccountPoolSize
	}
	account := e.accounts[e.accountCursor%pool]
	e.accountCursor++
	return account
}
