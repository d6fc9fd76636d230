// Package monitor tracks submitted transactions to resolution without
// blocking the submitter. It owns the pending-transaction set; receipt
// polling is the correctness baseline, block push only shortens latency.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stressor/internal/gateway"
	"github.com/gateway-fm/stressor/pkg/types"
)

// DefaultPollInterval is the receipt poll cadence.
const DefaultPollInterval = 2 * time.Second

// DefaultConfirmationThreshold is the minimum confirmation count for a
// transaction to count as confirmed.
const DefaultConfirmationThreshold = 1

// Record is one pending transaction being tracked.
// It exists only while pending and is removed on terminal resolution.
type Record struct {
	Hash         common.Hash
	ExecutionID  string
	Iteration    int
	Account      string
	Confirmed    bool
	SubmittedAt  time.Time
	PollAttempts int
}

// Resolution is the terminal outcome of a tracked transaction.
type Resolution struct {
	Record    Record
	Status    types.TxStatus // TxConfirmed or TxFailed
	ErrorType types.ErrorType
	Message   string
	GasUsed   uint64
	// ConfirmationTime is resolution minus submission; set only on success.
	ConfirmationTime time.Duration
}

// Config for creating a Monitor.
type Config struct {
	Gateway               gateway.Gateway
	PollInterval          time.Duration
	ConfirmationThreshold uint64
	OnResolution          func(Resolution)
	Logger                *slog.Logger
}

// Monitor polls the gateway for receipts of every pending hash on a
// fixed interval and reports terminal resolutions through a callback.
type Monitor struct {
	gw           gateway.Gateway
	pollInterval time.Duration
	threshold    uint64
	onResolution func(Resolution)
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[common.Hash]*Record
	timeout time.Duration // per-transaction timeout of the monitored execution
	session uint64        // increments on Start; stale stops are no-ops

	cancel      context.CancelFunc
	loopDone    chan struct{}
	kick        chan struct{} // push notification briefs an immediate poll pass
	unsubscribe func()
}

// New creates a Monitor. The resolution callback is invoked synchronously
// from the poll loop, one terminal event at a time.
func New(cfg Config) *Monitor {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	threshold := cfg.ConfirmationThreshold
	if threshold == 0 {
		threshold = DefaultConfirmationThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		gw:           cfg.Gateway,
		pollInterval: pollInterval,
		threshold:    threshold,
		onResolution: cfg.OnResolution,
		logger:       logger,
		pending:      make(map[common.Hash]*Record),
		kick:         make(chan struct{}, 1),
	}
}

// Add registers a pending record. A hash that is already tracked is
// logged and ignored.
func (m *Monitor) Add(txHash common.Hash, executionID string, iteration int, account string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pending[txHash]; exists {
		m.logger.Warn("transaction already tracked, ignoring",
			slog.String("txHash", txHash.Hex()),
			slog.Int("iteration", iteration),
		)
		return
	}

	m.pending[txHash] = &Record{
		Hash:        txHash,
		ExecutionID: executionID,
		Iteration:   iteration,
		Account:     account,
		SubmittedAt: time.Now(),
	}
}

// Start begins the tracking loop for an execution and returns the loop
// session id, which Retire uses to tell a live loop from one it has
// superseded. Idempotent: a running loop is stopped first. Pending
// records survive a restart.
func (m *Monitor) Start(exec *types.TestExecution) uint64 {
	m.mu.Lock()
	m.session++
	session := m.session
	m.mu.Unlock()

	m.stopLoop()

	m.mu.Lock()
	m.timeout = time.Duration(exec.Config.TimeoutMs) * time.Millisecond
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.loopDone = done
	m.mu.Unlock()

	// Best-effort push subscription; polling continues regardless.
	if unsub, err := m.gw.SubscribeNewBlocks(ctx, func(uint64) {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}); err == nil {
		m.mu.Lock()
		m.unsubscribe = unsub
		m.mu.Unlock()
	} else if err != gateway.ErrPushUnsupported {
		m.logger.Debug("block subscription unavailable, polling only",
			slog.String("error", err.Error()),
		)
	}

	go m.loop(ctx, done)

	m.logger.Info("monitoring started",
		slog.String("execution", exec.ID),
		slog.Duration("pollInterval", m.pollInterval),
	)

	return session
}

// Stop cancels the tracking loop and releases all pending records
// without waiting for their resolution. Safe to call when not
// monitoring, and safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	m.stop(session)
}

// Retire stops the given session once its pending set drains, checking
// periodically up to deadline. Unlike Stop it lets in-flight
// transactions keep resolving after their run has finished; the
// per-transaction timeout bounds the drain. A newer session supersedes
// the retirement.
func (m *Monitor) Retire(session uint64, deadline time.Time) {
	go func() {
		for time.Now().Before(deadline) {
			m.mu.Lock()
			stale := m.session != session
			drained := len(m.pending) == 0
			m.mu.Unlock()

			if stale {
				return
			}
			if drained {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		m.stop(session)
	}()
}

// stop tears down the loop and clears the pending set, unless a newer
// session has started meanwhile.
func (m *Monitor) stop(session uint64) {
	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.loopDone
	unsub := m.unsubscribe
	m.cancel = nil
	m.loopDone = nil
	m.unsubscribe = nil
	released := len(m.pending)
	m.pending = make(map[common.Hash]*Record)
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
		<-done
	}

	if released > 0 {
		m.logger.Info("monitoring stopped", slog.Int("released", released))
	}
}

func (m *Monitor) stopLoop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.loopDone
	unsub := m.unsubscribe
	m.cancel = nil
	m.loopDone = nil
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
		<-done
	}
}

// Recheck forces an immediate out-of-band status query for one hash,
// bypassing the poll cadence.
func (m *Monitor) Recheck(txHash common.Hash) {
	m.mu.Lock()
	rec, ok := m.pending[txHash]
	var snapshot Record
	if ok {
		snapshot = *rec
	}
	timeout := m.timeout
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("recheck for untracked transaction", slog.String("txHash", txHash.Hex()))
		return
	}

	ctx, cancelCtx := context.WithTimeout(context.Background(), m.pollInterval)
	defer cancelCtx()

	receipt, err := m.gw.GetReceipt(ctx, txHash)
	if err != nil {
		m.logger.Debug("recheck query failed",
			slog.String("txHash", txHash.Hex()),
			slog.String("error", err.Error()),
		)
		m.expireIfTimedOut(snapshot, timeout)
		return
	}

	m.applyReceipt(txHash, receipt, timeout)
}

// ActiveMonitors returns a snapshot copy of the pending records.
func (m *Monitor) ActiveMonitors() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.pending))
	for _, rec := range m.pending {
		out = append(out, *rec)
	}
	return out
}

// PendingCount returns the number of tracked transactions.
func (m *Monitor) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		case <-m.kick:
			m.pollOnce(ctx)
		}
	}
}

// pollOnce queries receipts for every pending hash and resolves what it can.
func (m *Monitor) pollOnce(ctx context.Context) {
	m.mu.Lock()
	hashes := make([]common.Hash, 0, len(m.pending))
	for hash, rec := range m.pending {
		hashes = append(hashes, hash)
		rec.PollAttempts++
	}
	timeout := m.timeout
	m.mu.Unlock()

	if len(hashes) == 0 {
		return
	}

	receipts, err := m.gw.GetReceipts(ctx, hashes)
	if err != nil {
		// Transient gateway faults are retried next tick; only the
		// per-transaction timeout turns them into failures.
		m.logger.Debug("receipt poll failed, retrying next tick",
			slog.Int("pending", len(hashes)),
			slog.String("error", err.Error()),
		)
		m.expireTimedOut(timeout)
		return
	}

	for i, hash := range hashes {
		m.applyReceipt(hash, receipts[i], timeout)
	}
	m.expireTimedOut(timeout)
}

// applyReceipt resolves one tracked hash against its receipt, if terminal.
func (m *Monitor) applyReceipt(txHash common.Hash, receipt *gateway.Receipt, timeout time.Duration) {
	if receipt == nil || receipt.Status == gateway.ReceiptUnknown {
		return
	}
	if receipt.Status == gateway.ReceiptSuccess && receipt.Confirmations < m.threshold {
		return // mined but below the confirmation threshold
	}

	m.mu.Lock()
	rec, ok := m.pending[txHash]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, txHash)
	snapshot := *rec
	m.mu.Unlock()

	res := Resolution{Record: snapshot, GasUsed: receipt.GasUsed}
	if receipt.Status == gateway.ReceiptSuccess {
		snapshot.Confirmed = true
		res.Record.Confirmed = true
		res.Status = types.TxConfirmed
		res.ConfirmationTime = time.Since(snapshot.SubmittedAt)
	} else {
		res.Status = types.TxFailed
		res.ErrorType = types.ErrorRevert
		res.Message = fmt.Sprintf("transaction %s reverted in block %d", txHash.Hex(), receipt.BlockNumber)
	}

	m.emit(res)
}

// expireTimedOut removes every record pending longer than the timeout and
// emits a timeout error for each. The monitor never retries; retry policy
// belongs to the executor.
func (m *Monitor) expireTimedOut(timeout time.Duration) {
	if timeout <= 0 {
		return
	}

	now := time.Now()
	m.mu.Lock()
	var expired []Record
	for hash, rec := range m.pending {
		if now.Sub(rec.SubmittedAt) > timeout {
			expired = append(expired, *rec)
			delete(m.pending, hash)
		}
	}
	m.mu.Unlock()

	for _, rec := range expired {
		m.emit(Resolution{
			Record:    rec,
			Status:    types.TxFailed,
			ErrorType: types.ErrorTimeout,
			Message: fmt.Sprintf("transaction %s pending for %s, removed from tracking",
				rec.Hash.Hex(), now.Sub(rec.SubmittedAt).Round(time.Millisecond)),
		})
	}
}

// expireIfTimedOut applies timeout expiry to a single record.
func (m *Monitor) expireIfTimedOut(snapshot Record, timeout time.Duration) {
	if timeout <= 0 || time.Since(snapshot.SubmittedAt) <= timeout {
		return
	}

	m.mu.Lock()
	_, still := m.pending[snapshot.Hash]
	if still {
		delete(m.pending, snapshot.Hash)
	}
	m.mu.Unlock()

	if still {
		m.emit(Resolution{
			Record:    snapshot,
			Status:    types.TxFailed,
			ErrorType: types.ErrorTimeout,
			Message: fmt.Sprintf("transaction %s pending for %s, removed from tracking",
				snapshot.Hash.Hex(), time.Since(snapshot.SubmittedAt).Round(time.Millisecond)),
		})
	}
}

func (m *Monitor) emit(res Resolution) {
	if m.onResolution != nil {
		m.onResolution(res)
	}
}
