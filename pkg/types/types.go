// Package types contains public API types for the contract stress tester.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// ConcurrencyMode controls how iterations are dispatched.
type ConcurrencyMode string

const (
	ModeSequential ConcurrencyMode = "sequential"
	ModeParallel   ConcurrencyMode = "parallel"
)

// GasPriceTier selects a gas price bracket relative to the node's suggestion.
type GasPriceTier string

const (
	GasTierLow      GasPriceTier = "low"
	GasTierStandard GasPriceTier = "standard"
	GasTierFast     GasPriceTier = "fast"
	GasTierInstant  GasPriceTier = "instant"
)

// ExecutionStatus represents the current state of a test execution.
type ExecutionStatus string

const (
	StatusIdle      ExecutionStatus = "idle"
	StatusRunning   ExecutionStatus = "running"
	StatusPaused    ExecutionStatus = "paused"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusStopped   ExecutionStatus = "stopped"
)

// IsTerminal returns true if no further transition is permitted from s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// TxStatus represents the lifecycle state of a single test transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxSimulated TxStatus = "simulated"
)

// IsTerminal returns true if the transaction can no longer change status.
func (s TxStatus) IsTerminal() bool {
	return s == TxConfirmed || s == TxFailed || s == TxSimulated
}

// ErrorType classifies a test error.
type ErrorType string

const (
	ErrorTimeout ErrorType = "timeout"
	ErrorRevert  ErrorType = "revert"
	ErrorNetwork ErrorType = "network"
	ErrorOther   ErrorType = "other"
)

// TestConfiguration describes one stress test run.
// It is immutable once the run starts.
type TestConfiguration struct {
	ContractAddress     string          `json:"contractAddress"`
	FunctionName        string          `json:"functionName"`
	FunctionArgs        []string        `json:"functionArgs,omitempty"` // fixed call-argument template
	TotalIterations     int             `json:"totalIterations"`
	Network             string          `json:"network"`
	ConcurrencyMode     ConcurrencyMode `json:"concurrencyMode"`
	AccountPoolSize     int             `json:"accountPoolSize,omitempty"`
	UseMultipleAccounts bool            `json:"useMultipleAccounts"`
	FundingAmountWei    string          `json:"fundingAmountWei,omitempty"` // per-account funding, decimal wei
	DelayBetweenTxMs    int             `json:"delayBetweenTxMs"`
	GasPriceTier        GasPriceTier    `json:"gasPriceTier,omitempty"`
	StopOnError         bool            `json:"stopOnError"`
	RetryFailedTx       bool            `json:"retryFailedTx"`
	MaxRetries          int             `json:"maxRetries,omitempty"`
	TimeoutMs           int             `json:"timeoutMs,omitempty"`
}

// TestExecution is the running (or finished) record of one stress test.
// Mutated in place by the executor until it reaches a terminal status.
type TestExecution struct {
	ID                    string            `json:"id"`
	Name                  string            `json:"name"`
	Status                ExecutionStatus   `json:"status"`
	CurrentIteration      int               `json:"currentIteration"`
	TotalIterations       int               `json:"totalIterations"`
	SuccessCount          int               `json:"successCount"`
	FailureCount          int               `json:"failureCount"`
	TransactionsPerSecond float64           `json:"transactionsPerSecond"`
	Config                TestConfiguration `json:"config"`
	Errors                []TestError       `json:"errors,omitempty"`
	StartedAt             time.Time         `json:"startedAt"`
	CompletedAt           time.Time         `json:"completedAt,omitempty"`
}

// TestTransaction records one submitted contract call.
// Created at submission time; status transitions at most once
// from pending to a terminal value.
type TestTransaction struct {
	ID                 string    `json:"id"`
	ExecutionID        string    `json:"executionId"`
	Iteration          int       `json:"iteration"`
	Account            string    `json:"account"`
	Hash               string    `json:"hash,omitempty"` // assigned once submitted
	Status             TxStatus  `json:"status"`
	GasUsed            uint64    `json:"gasUsed,omitempty"`
	ConfirmationTimeMs int64     `json:"confirmationTimeMs,omitempty"` // set only on success
	Timestamp          time.Time `json:"timestamp"`
}

// TestError is an append-only record of one classified failure.
type TestError struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"executionId"`
	Iteration   int       `json:"iteration"`
	Type        ErrorType `json:"errorType"`
	Message     string    `json:"message"`
	TxHash      string    `json:"txHash,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ExecutionStats holds metrics derived from a TestExecution snapshot.
type ExecutionStats struct {
	Progress              int     `json:"progress"`    // 0-100
	SuccessRate           int     `json:"successRate"` // 0-100
	TransactionsPerSecond float64 `json:"transactionsPerSecond"`
	EstimatedTimeLeftSec  int     `json:"estimatedTimeLeftSec"`
}

// LatencyBucket is one bar of the confirmation latency histogram.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds confirmation latency statistics in milliseconds.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`
	Max     float64         `json:"max"`
	Avg     float64         `json:"avg"`
	P50     float64         `json:"p50"`
	P90     float64         `json:"p90"`
	P95     float64         `json:"p95"`
	P99     float64         `json:"p99"`
	Buckets []LatencyBucket `json:"buckets,omitempty"`
}

// HistoryStats aggregates results across past executions.
type HistoryStats struct {
	TotalExecutions      int     `json:"totalExecutions"`
	SuccessfulExecutions int     `json:"successfulExecutions"`
	TotalTransactions    int     `json:"totalTransactions"`
	AverageSuccessRate   float64 `json:"averageSuccessRate"`
}

// StatusResponse is the API payload for GET /v1/status.
type StatusResponse struct {
	Status    ExecutionStatus `json:"status"`
	Execution *TestExecution  `json:"execution,omitempty"`
	Stats     ExecutionStats  `json:"stats"`
	Latency   *LatencyStats   `json:"latency,omitempty"`
	InFlight  int             `json:"inFlight"`
}

// StartTestRequest is the API request to start a test.
// It mirrors TestConfiguration plus an optional display name.
type StartTestRequest struct {
	Name   string            `json:"name,omitempty"`
	Config TestConfiguration `json:"config"`
}
