// Package gateway provides the network gateway the stress engine submits
// transactions through and queries receipts from.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stressor/pkg/types"
)

// ReceiptStatus is the terminal classification of an on-chain receipt.
type ReceiptStatus string

const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
	ReceiptUnknown  ReceiptStatus = "unknown"
)

// Receipt is the gateway's view of a transaction receipt.
type Receipt struct {
	Status        ReceiptStatus
	Confirmations uint64
	GasUsed       uint64
	BlockNumber   uint64
}

// CallRequest describes one contract call submission.
// Args are pre-encoded 32-byte hex words appended after the function
// selector; argument encoding is the caller's responsibility.
type CallRequest struct {
	Contract string
	Function string
	Args     []string
	Account  string
	GasTier  types.GasPriceTier
}

// Gateway is the narrow network interface the engine consumes.
// Submission assumes node-side signing (the engine never holds keys).
type Gateway interface {
	// SubmitCall submits a contract call and returns its transaction hash.
	SubmitCall(ctx context.Context, req CallRequest) (common.Hash, error)

	// GetReceipt returns the receipt for a transaction.
	// A nil receipt with nil error means the transaction is not yet mined.
	GetReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error)

	// GetReceipts fetches receipts for several hashes in one round trip.
	// Entries are positional; nil means not yet mined or individual failure.
	GetReceipts(ctx context.Context, txHashes []common.Hash) ([]*Receipt, error)

	// SubscribeNewBlocks starts a push subscription for new block numbers.
	// Returns a cancel func. Implementations that cannot push return
	// ErrPushUnsupported; callers must keep polling as the baseline.
	SubscribeNewBlocks(ctx context.Context, onBlock func(number uint64)) (func(), error)
}

// ErrPushUnsupported is returned by SubscribeNewBlocks when the endpoint
// has no push channel configured.
var ErrPushUnsupported = errors.New("gateway: block push not supported")

// SubmissionError wraps a failure to submit a call.
type SubmissionError struct {
	Account string
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission from %s failed: %v", e.Account, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// QueryError wraps a failure to query network state.
type QueryError struct {
	Method string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s failed: %v", e.Method, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Classify maps a gateway error to the engine's error taxonomy.
// Revert detection is message-based: nodes report execution failures
// as RPC errors mentioning "revert".
func Classify(err error) types.ErrorType {
	if err == nil {
		return types.ErrorOther
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Message)
		if strings.Contains(msg, "revert") || strings.Contains(msg, "execution failed") {
			return types.ErrorRevert
		}
		return types.ErrorOther
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return types.ErrorNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.ErrorNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrorTimeout
	}

	return types.ErrorOther
}

// TierMultiplier returns the gas price multiplier for a tier.
func TierMultiplier(tier types.GasPriceTier) float64 {
	switch tier {
	case types.GasTierLow:
		return 0.9
	case types.GasTierFast:
		return 1.25
	case types.GasTierInstant:
		return 1.5
	default: // standard or unset
		return 1.0
	}
}
