package executor

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stressor/pkg/types"
)

// validate rejects configurations that can never run. Checks are ordered
// so the first broken field is the one reported.
func (e *Executor) validate(cfg types.TestConfiguration) error {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return &ConfigurationError{Field: "contractAddress", Reason: "not a valid hex address"}
	}
	if strings.TrimSpace(cfg.FunctionName) == "" {
		return &ConfigurationError{Field: "functionName", Reason: "must not be empty"}
	}
	if cfg.TotalIterations <= 0 {
		return &ConfigurationError{Field: "totalIterations", Reason: "must be positive"}
	}
	if cfg.Network == "" {
		return &ConfigurationError{Field: "network", Reason: "must not be empty"}
	}
	if !e.networks[cfg.Network] {
		return &ConfigurationError{Field: "network", Reason: "unknown network " + cfg.Network}
	}
	switch cfg.ConcurrencyMode {
	case "", types.ModeSequential, types.ModeParallel:
	default:
		return &ConfigurationError{Field: "concurrencyMode", Reason: "must be sequential or parallel"}
	}
	switch cfg.GasPriceTier {
	case "", types.GasTierLow, types.GasTierStandard, types.GasTierFast, types.GasTierInstant:
	default:
		return &ConfigurationError{Field: "gasPriceTier", Reason: "unknown tier " + string(cfg.GasPriceTier)}
	}
	if cfg.DelayBetweenTxMs < 0 {
		return &ConfigurationError{Field: "delayBetweenTxMs", Reason: "must not be negative"}
	}
	if cfg.TimeoutMs < 0 {
		return &ConfigurationError{Field: "timeoutMs", Reason: "must not be negative"}
	}
	if cfg.RetryFailedTx && cfg.MaxRetries < 0 {
		return &ConfigurationError{Field: "maxRetries", Reason: "must not be negative"}
	}
	if cfg.UseMultipleAccounts {
		if cfg.AccountPoolSize <= 0 {
			return &ConfigurationError{Field: "accountPoolSize", Reason: "must be positive when useMultipleAccounts is set"}
		}
		if cfg.AccountPoolSize > len(e.accounts) {
			return &ConfigurationError{Field: "accountPoolSize", Reason: "exceeds configured account pool"}
		}
	}
	if len(e.accounts) == 0 {
		return &ConfigurationError{Field: "accounts", Reason: "no accounts configured"}
	}
	return nil
}
