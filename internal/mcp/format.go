package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gateway-fm/stressor/pkg/types"
)

// kv formats a key-value pair with aligned values.
func kv(key string, value any) string {
	return fmt.Sprintf("%-22s %v", key+":", value)
}

func section(title string) string {
	return "## " + title
}

func joinLines(lines ...string) string {
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return strings.Join(result, "\n")
}

func formatPct(v int) string {
	return fmt.Sprintf("%d%%", v)
}

func formatStatus(raw json.RawMessage) string {
	var resp types.StatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return string(raw)
	}

	lines := []string{
		section("Stress Test Status"),
		kv("Status", resp.Status),
	}

	if exec := resp.Execution; exec != nil {
		lines = append(lines,
			kv("Execution", exec.Name),
			kv("Iteration", fmt.Sprintf("%d / %d", exec.CurrentIteration, exec.TotalIterations)),
			kv("Progress", formatPct(resp.Stats.Progress)),
			kv("Confirmed", exec.SuccessCount),
			kv("Failed", exec.FailureCount),
			kv("Success rate", formatPct(resp.Stats.SuccessRate)),
			kv("TPS", fmt.Sprintf("%.2f", resp.Stats.TransactionsPerSecond)),
			kv("In flight", resp.InFlight),
		)
		if resp.Stats.EstimatedTimeLeftSec > 0 {
			lines = append(lines, kv("ETA", fmt.Sprintf("%ds", resp.Stats.EstimatedTimeLeftSec)))
		}
	}

	if lat := resp.Latency; lat != nil && lat.Count > 0 {
		lines = append(lines,
			"",
			section("Confirmation Latency"),
			kv("Count", lat.Count),
			kv("P50", fmt.Sprintf("%.0fms", lat.P50)),
			kv("P90", fmt.Sprintf("%.0fms", lat.P90)),
			kv("P99", fmt.Sprintf("%.0fms", lat.P99)),
		)
	}

	return joinLines(lines...)
}

func formatStartResult(raw json.RawMessage) string {
	var exec types.TestExecution
	if err := json.Unmarshal(raw, &exec); err != nil {
		return string(raw)
	}

	return joinLines(
		section("Test Started"),
		kv("ID", exec.ID),
		kv("Name", exec.Name),
		kv("Contract", exec.Config.ContractAddress),
		kv("Function", exec.Config.FunctionName),
		kv("Iterations", exec.TotalIterations),
		kv("Mode", exec.Config.ConcurrencyMode),
		kv("Network", exec.Config.Network),
	)
}

func formatControl(action string, raw json.RawMessage) string {
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return string(raw)
	}
	return fmt.Sprintf("Test %s. Current status: %s", action, resp.Status)
}

func formatTransactions(raw json.RawMessage) string {
	var resp struct {
		Transactions []types.TestTransaction `json:"transactions"`
		Count        int                     `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return string(raw)
	}

	if resp.Count == 0 {
		return "No transactions recorded yet."
	}

	lines := []string{section(fmt.Sprintf("Recent Transactions (%d)", resp.Count))}
	for _, tx := range resp.Transactions {
		line := fmt.Sprintf("#%d [%s] %s", tx.Iteration, tx.Status, shortHash(tx.Hash))
		if tx.Status == types.TxConfirmed {
			line += fmt.Sprintf(" gas=%d confirm=%dms", tx.GasUsed, tx.ConfirmationTimeMs)
		}
		lines = append(lines, line)
	}
	return joinLines(lines...)
}

func formatErrors(raw json.RawMessage) string {
	var resp struct {
		Errors []types.TestError `json:"errors"`
		Count  int               `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return string(raw)
	}

	if resp.Count == 0 {
		return "No errors recorded."
	}

	lines := []string{section(fmt.Sprintf("Recent Errors (%d)", resp.Count))}
	for _, e := range resp.Errors {
		lines = append(lines, fmt.Sprintf("#%d [%s] %s", e.Iteration, e.Type, e.Message))
	}
	return joinLines(lines...)
}

func formatHistory(raw json.RawMessage) string {
	var resp struct {
		Executions []types.TestExecution `json:"executions"`
		Stats      types.HistoryStats    `json:"stats"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return string(raw)
	}

	if len(resp.Executions) == 0 {
		return "No finished executions."
	}

	lines := []string{
		section("Execution History"),
		kv("Total executions", resp.Stats.TotalExecutions),
		kv("Completed", resp.Stats.SuccessfulExecutions),
		kv("Total transactions", resp.Stats.TotalTransactions),
		kv("Avg success rate", fmt.Sprintf("%.1f%%", resp.Stats.AverageSuccessRate)),
		"",
	}
	for _, exec := range resp.Executions {
		lines = append(lines, fmt.Sprintf("%s [%s] %s: %d/%d iterations, %d ok, %d failed, %.2f tps",
			exec.StartedAt.Format("2006-01-02 15:04:05"), exec.Status, exec.Name,
			exec.CurrentIteration, exec.TotalIterations,
			exec.SuccessCount, exec.FailureCount, exec.TransactionsPerSecond))
	}
	return joinLines(lines...)
}

func shortHash(hash string) string {
	if hash == "" {
		return "(no hash)"
	}
	if len(hash) > 14 {
		return hash[:10] + "..." + hash[len(hash)-4:]
	}
	return hash
}
