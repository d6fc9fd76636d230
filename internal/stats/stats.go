// Package stats derives progress, success-rate, throughput and history
// metrics from execution state. All functions are pure.
package stats

import (
	"math"
	"time"

	"github.com/gateway-fm/stressor/pkg/types"
)

// Progress returns the completed-iteration percentage, rounded.
// Zero total iterations yields 0.
func Progress(current, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(total) * 100))
}

// SuccessRate returns the confirmed percentage of resolved transactions,
// rounded. A zero denominator yields 0.
func SuccessRate(success, failure int) int {
	resolved := success + failure
	if resolved <= 0 {
		return 0
	}
	return int(math.Round(float64(success) / float64(resolved) * 100))
}

// Throughput returns confirmed transactions per second of elapsed wall
// clock since run start. Recomputed on every confirmation event rather
// than on a timer, so it never drifts from the true count.
func Throughput(confirmed int, startedAt, now time.Time) float64 {
	if confirmed <= 0 || !now.After(startedAt) {
		return 0
	}
	elapsed := now.Sub(startedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(confirmed) / elapsed
}

// EstimatedTimeLeft returns the projected seconds until completion,
// rounded. A zero rate yields 0.
func EstimatedTimeLeft(current, total int, tps float64) int {
	if tps <= 0 || total <= current {
		return 0
	}
	return int(math.Round(float64(total-current) / tps))
}

// ForExecution derives the full stat set for one execution snapshot.
// A nil execution yields zero stats.
func ForExecution(exec *types.TestExecution, now time.Time) types.ExecutionStats {
	if exec == nil {
		return types.ExecutionStats{}
	}

	tps := exec.TransactionsPerSecond
	if tps == 0 && !exec.Status.IsTerminal() {
		tps = Throughput(exec.SuccessCount, exec.StartedAt, now)
	}

	return types.ExecutionStats{
		Progress:              Progress(exec.CurrentIteration, exec.TotalIterations),
		SuccessRate:           SuccessRate(exec.SuccessCount, exec.FailureCount),
		TransactionsPerSecond: tps,
		EstimatedTimeLeftSec:  EstimatedTimeLeft(exec.CurrentIteration, exec.TotalIterations, tps),
	}
}

// ForHistory reduces past executions into aggregate history stats.
// Order-independent.
func ForHistory(execs []types.TestExecution) types.HistoryStats {
	out := types.HistoryStats{TotalExecutions: len(execs)}
	if len(execs) == 0 {
		return out
	}

	var rateSum float64
	for _, e := range execs {
		if e.Status == types.StatusCompleted {
			out.SuccessfulExecutions++
		}
		out.TotalTransactions += e.SuccessCount + e.FailureCount
		rateSum += float64(SuccessRate(e.SuccessCount, e.FailureCount))
	}
	out.AverageSuccessRate = rateSum / float64(len(execs))
	return out
}
