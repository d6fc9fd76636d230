package stats

import (
	"math"
	"sort"
	"sync"

	"github.com/gateway-fm/stressor/pkg/types"
)

// LatencyTracker provides streaming confirmation-latency percentiles.
// Uses reservoir sampling (Algorithm R) so memory stays bounded no
// matter how many confirmations arrive.
type LatencyTracker struct {
	mu sync.RWMutex

	count int64
	sum   float64
	min   float64
	max   float64

	reservoir     []float64
	reservoirSize int
	seen          int64

	// Histogram buckets: <500ms, 500ms-1s, 1-3s, 3-10s, 10s+
	buckets      []int64
	bucketBounds []float64

	// Per-instance xorshift64* state, avoids global rand contention.
	randState uint64
}

// DefaultReservoirSize balances percentile accuracy against memory.
const DefaultReservoirSize = 4096

// NewLatencyTracker creates a streaming latency tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{
		min:           math.MaxFloat64,
		reservoir:     make([]float64, 0, DefaultReservoirSize),
		reservoirSize: DefaultReservoirSize,
		buckets:       make([]int64, 5),
		bucketBounds:  []float64{500, 1000, 3000, 10000},
		randState:     1,
	}
}

// Add records one confirmation latency sample in milliseconds.
func (t *LatencyTracker) Add(latencyMs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++
	t.sum += latencyMs
	t.seen++

	if latencyMs < t.min {
		t.min = latencyMs
	}
	if latencyMs > t.max {
		t.max = latencyMs
	}

	t.buckets[t.bucketIndex(latencyMs)]++

	if len(t.reservoir) < t.reservoirSize {
		t.reservoir = append(t.reservoir, latencyMs)
	} else {
		j := t.fastRand() % uint64(t.seen)
		if j < uint64(t.reservoirSize) {
			t.reservoir[j] = latencyMs
		}
	}
}

func (t *LatencyTracker) bucketIndex(latencyMs float64) int {
	for i, bound := range t.bucketBounds {
		if latencyMs < bound {
			return i
		}
	}
	return len(t.bucketBounds)
}

// fastRand is xorshift64*; good enough for reservoir sampling.
func (t *LatencyTracker) fastRand() uint64 {
	t.randState ^= t.randState >> 12
	t.randState ^= t.randState << 25
	t.randState ^= t.randState >> 27
	return t.randState * 0x2545F4914F6CDD1D
}

// Stats returns the current latency statistics, nil when empty.
func (t *LatencyTracker) Stats() *types.LatencyStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.count == 0 {
		return nil
	}

	sorted := make([]float64, len(t.reservoir))
	copy(sorted, t.reservoir)
	sort.Float64s(sorted)

	return &types.LatencyStats{
		Count: int(t.count),
		Min:   t.min,
		Max:   t.max,
		Avg:   t.sum / float64(t.count),
		P50:   percentile(sorted, 0.50),
		P90:   percentile(sorted, 0.90),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
		Buckets: []types.LatencyBucket{
			{Label: "0-500ms", Count: int(t.buckets[0])},
			{Label: "500ms-1s", Count: int(t.buckets[1])},
			{Label: "1-3s", Count: int(t.buckets[2])},
			{Label: "3-10s", Count: int(t.buckets[3])},
			{Label: "10s+", Count: int(t.buckets[4])},
		},
	}
}

// percentile interpolates the p-th percentile from a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// Reset clears all samples.
func (t *LatencyTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count = 0
	t.sum = 0
	t.min = math.MaxFloat64
	t.max = 0
	t.reservoir = t.reservoir[:0]
	t.seen = 0
	for i := range t.buckets {
		t.buckets[i] = 0
	}
}
