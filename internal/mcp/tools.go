package mcp

import (
	"context"
	"fmt"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/stressor/pkg/types"
)

// RegisterTools registers all stress engine tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerStart(s, client)
	registerPause(s, client)
	registerResume(s, client)
	registerStop(s, client)
	registerTransactions(s, client)
	registerErrors(s, client)
	registerHistory(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stressor_status",
		gomcp.WithDescription("Get current stress test status: execution state, iteration progress, success/failure counts, TPS and confirmation latency."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Stress engine unreachable: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	})
}

func registerStart(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stressor_start",
		gomcp.WithDescription("Start a contract stress test. This is a MUTATING operation. Modes: sequential, parallel."),
		gomcp.WithString("contract_address",
			gomcp.Required(),
			gomcp.Description("Target contract address (0x-prefixed hex)"),
		),
		gomcp.WithString("function_name",
			gomcp.Required(),
			gomcp.Description("Contract function to call, e.g. transfer(address,uint256)"),
		),
		gomcp.WithNumber("total_iterations",
			gomcp.Required(),
			gomcp.Description("Number of calls to submit (1 or more)"),
		),
		gomcp.WithString("network",
			gomcp.Required(),
			gomcp.Description("Target network identifier, e.g. sepolia"),
		),
		gomcp.WithString("name",
			gomcp.Description("Display name for the test run"),
		),
		gomcp.WithString("concurrency_mode",
			gomcp.Description("sequential (default) or parallel"),
		),
		gomcp.WithNumber("delay_between_tx_ms",
			gomcp.Description("Delay between submissions in milliseconds"),
		),
		gomcp.WithString("gas_price_tier",
			gomcp.Description("Gas tier: low, standard (default), fast, instant"),
		),
		gomcp.WithBoolean("stop_on_error",
			gomcp.Description("Abort the run on the first failed transaction"),
		),
		gomcp.WithBoolean("retry_failed_tx",
			gomcp.Description("Resubmit failed submissions in the same iteration slot"),
		),
		gomcp.WithNumber("max_retries",
			gomcp.Description("Resubmission budget per iteration when retrying"),
		),
		gomcp.WithNumber("timeout_ms",
			gomcp.Description("Per-transaction confirmation timeout in milliseconds"),
		),
		gomcp.WithNumber("account_pool_size",
			gomcp.Description("Accounts to rotate through when using multiple accounts"),
		),
		gomcp.WithBoolean("use_multiple_accounts",
			gomcp.Description("Round-robin submissions across the account pool"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		contract, err := req.RequireString("contract_address")
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}
		function, err := req.RequireString("function_name")
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}
		network, err := req.RequireString("network")
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}

		cfg := types.TestConfiguration{
			ContractAddress:     contract,
			FunctionName:        function,
			TotalIterations:     req.GetInt("total_iterations", 0),
			Network:             network,
			ConcurrencyMode:     types.ConcurrencyMode(req.GetString("concurrency_mode", "")),
			DelayBetweenTxMs:    req.GetInt("delay_between_tx_ms", 0),
			GasPriceTier:        types.GasPriceTier(req.GetString("gas_price_tier", "")),
			StopOnError:         req.GetBool("stop_on_error", false),
			RetryFailedTx:       req.GetBool("retry_failed_tx", false),
			MaxRetries:          req.GetInt("max_retries", 0),
			TimeoutMs:           req.GetInt("timeout_ms", 0),
			AccountPoolSize:     req.GetInt("account_pool_size", 0),
			UseMultipleAccounts: req.GetBool("use_multiple_accounts", false),
		}

		payload := types.StartTestRequest{
			Name:   req.GetString("name", ""),
			Config: cfg,
		}

		raw, err := client.Post("/v1/test/start", payload)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to start test: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatStartResult(raw)), nil
	})
}

func registerPause(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stressor_pause",
		gomcp.WithDescription("Pause the running stress test. In-flight transactions keep confirming."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Post("/v1/test/pause", nil)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to pause: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatControl("paused", raw)), nil
	})
}

func registerResume(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stressor_resume",
		gomcp.WithDescription("Resume a paused stress test."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Post("/v1/test/resume", nil)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to resume: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatControl("resumed", raw)), nil
	})
}

func registerStop(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stressor_stop",
		gomcp.WithDescription("Stop the active stress test. This is a MUTATING operation and cannot be undone."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Post("/v1/test/stop", nil)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to stop: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatControl("stopped", raw)), nil
	})
}

func registerTransactions(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stressor_transactions",
		gomcp.WithDescription("List recent transactions of the stress test with status, gas and confirmation time."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/transactions")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to fetch transactions: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatTransactions(raw)), nil
	})
}

func registerErrors(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stressor_errors",
		gomcp.WithDescription("List recent classified errors (timeout, revert, network, other)."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/errors")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to fetch errors: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatErrors(raw)), nil
	})
}

func registerHistory(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("stressor_history",
		gomcp.WithDescription("List finished stress test executions with aggregate statistics."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/history")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to fetch history: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(raw)), nil
	})
}
