// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the stress engine configuration.
type Config struct {
	RPCURL       string
	WSURL        string // WebSocket URL for newHeads push, optional
	ListenAddr   string
	DatabasePath string

	Network  string
	Networks []string // accepted network identifiers
	Accounts []string // node-managed account addresses for submission

	GasLimit              uint64
	PollIntervalMs        int
	ConfirmationThreshold uint64

	TxBufferSize     int
	ErrorBufferSize  int
	ResultBufferSize int

	LogLevel string
}

// Defaults
const (
	DefaultRPCURL                = "http://localhost:8545"
	DefaultListenAddr            = ":3001"
	DefaultDatabasePath          = "./data/stressor.db"
	DefaultGasLimit              = 150000
	DefaultPollIntervalMs        = 2000
	DefaultConfirmationThreshold = 1
	DefaultTxBufferSize          = 100
	DefaultErrorBufferSize       = 50
	DefaultResultBufferSize      = 20
	DefaultNetwork               = "local"
	DefaultLogLevel              = "info"
)

// Load reads configuration from environment variables and command-line
// flags. Flags win over environment.
func Load() (*Config, error) {
	cfg := &Config{
		RPCURL:                DefaultRPCURL,
		ListenAddr:            DefaultListenAddr,
		DatabasePath:          DefaultDatabasePath,
		Network:               DefaultNetwork,
		GasLimit:              DefaultGasLimit,
		PollIntervalMs:        DefaultPollIntervalMs,
		ConfirmationThreshold: DefaultConfirmationThreshold,
		TxBufferSize:          DefaultTxBufferSize,
		ErrorBufferSize:       DefaultErrorBufferSize,
		ResultBufferSize:      DefaultResultBufferSize,
		LogLevel:              DefaultLogLevel,
	}

	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("WS_URL"); v != "" {
		cfg.WSURL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := os.Getenv("ACCOUNTS"); v != "" {
		cfg.Accounts = splitList(v)
	}
	if v := os.Getenv("NETWORKS"); v != "" {
		cfg.Networks = splitList(v)
	}
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.PollIntervalMs = ms
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	var (
		rpcURL       = flag.String("rpc", cfg.RPCURL, "Execution node JSON-RPC URL")
		wsURL        = flag.String("ws", cfg.WSURL, "Execution node WebSocket URL for newHeads (optional)")
		listenAddr   = flag.String("listen", cfg.ListenAddr, "HTTP API listen address")
		databasePath = flag.String("database", cfg.DatabasePath, "SQLite database path")
		network      = flag.String("network", cfg.Network, "Target network identifier")
		accounts     = flag.String("accounts", strings.Join(cfg.Accounts, ","), "Comma-separated submission account addresses")
		gasLimit     = flag.Uint64("gaslimit", cfg.GasLimit, "Gas limit per contract call")
		pollInterval = flag.Int("poll-interval-ms", cfg.PollIntervalMs, "Receipt poll interval in milliseconds")
		confirm      = flag.Uint64("confirmations", cfg.ConfirmationThreshold, "Confirmations required before a transaction counts as confirmed")
		logLevel     = flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	)

	flag.Parse()

	cfg.RPCURL = *rpcURL
	cfg.WSURL = *wsURL
	cfg.ListenAddr = *listenAddr
	cfg.DatabasePath = *databasePath
	cfg.Network = *network
	cfg.GasLimit = *gasLimit
	cfg.PollIntervalMs = *pollInterval
	cfg.ConfirmationThreshold = *confirm
	cfg.LogLevel = *logLevel
	if *accounts != "" {
		cfg.Accounts = splitList(*accounts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for fatal inconsistencies.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url must not be empty")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one submission account is required (set -accounts or ACCOUNTS)")
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("poll interval must be positive, got %d", c.PollIntervalMs)
	}
	return nil
}

// PollInterval returns the receipt poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
