// Package history holds bounded, query-able buffers of recent
// transactions, errors and finished executions. Buffers never exceed
// their configured capacity; insertion evicts the oldest entry.
package history

import (
	"sync"

	"github.com/gateway-fm/stressor/pkg/types"
)

const (
	// DefaultTxCapacity is the default recent-transaction buffer size.
	DefaultTxCapacity = 100

	// DefaultErrorCapacity is the default recent-error buffer size.
	DefaultErrorCapacity = 50

	// DefaultResultCapacity is the default finished-execution buffer size.
	DefaultResultCapacity = 20
)

// TxBuffer is a fixed-capacity ring of recent test transactions.
type TxBuffer struct {
	mu      sync.RWMutex
	entries []types.TestTransaction
	head    int // next write position
	size    int
}

// NewTxBuffer creates a transaction buffer with the given capacity.
func NewTxBuffer(capacity int) *TxBuffer {
	if capacity <= 0 {
		capacity = DefaultTxCapacity
	}
	return &TxBuffer{entries: make([]types.TestTransaction, capacity)}
}

// Add inserts a transaction, evicting the oldest entry at capacity.
func (b *TxBuffer) Add(tx types.TestTransaction) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = tx
	b.head = (b.head + 1) % len(b.entries)
	if b.size < len(b.entries) {
		b.size++
	}
}

// Update replaces the buffered entry with the same ID, if still present.
// Returns false when the entry was already evicted.
func (b *TxBuffer) Update(tx types.TestTransaction) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.entries {
		if b.entries[i].ID == tx.ID {
			b.entries[i] = tx
			return true
		}
	}
	return false
}

// GetByHash returns the most recent transaction with the given hash.
// Linear scan; acceptable at this capacity.
func (b *TxBuffer) GetByHash(hash string) (types.TestTransaction, bool) {
	if hash == "" {
		return types.TestTransaction{}, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	// Scan newest-first so duplicates resolve to the latest record.
	for off := 1; off <= b.size; off++ {
		idx := (b.head - off + len(b.entries)) % len(b.entries)
		if b.entries[idx].Hash == hash {
			return b.entries[idx], true
		}
	}
	return types.TestTransaction{}, false
}

// GetByID returns the buffered transaction with the given id.
func (b *TxBuffer) GetByID(id string) (types.TestTransaction, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for off := 1; off <= b.size; off++ {
		idx := (b.head - off + len(b.entries)) % len(b.entries)
		if b.entries[idx].ID == id {
			return b.entries[idx], true
		}
	}
	return types.TestTransaction{}, false
}

// Snapshot returns the buffered transactions in arrival order, oldest first.
func (b *TxBuffer) Snapshot() []types.TestTransaction {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.TestTransaction, 0, b.size)
	start := (b.head - b.size + len(b.entries)) % len(b.entries)
	for i := 0; i < b.size; i++ {
		out = append(out, b.entries[(start+i)%len(b.entries)])
	}
	return out
}

// Len returns the number of buffered transactions.
func (b *TxBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the fixed buffer capacity.
func (b *TxBuffer) Capacity() int {
	return len(b.entries)
}

// Reset clears the buffer.
func (b *TxBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// ErrorBuffer is a fixed-capacity ring of recent test errors.
type ErrorBuffer struct {
	mu      sync.RWMutex
	entries []types.TestError
	head    int
	size    int
}

// NewErrorBuffer creates an error buffer with the given capacity.
func NewErrorBuffer(capacity int) *ErrorBuffer {
	if capacity <= 0 {
		capacity = DefaultErrorCapacity
	}
	return &ErrorBuffer{entries: make([]types.TestError, capacity)}
}

// Add inserts an error, evicting the oldest entry at capacity.
func (b *ErrorBuffer) Add(e types.TestError) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = e
	b.head = (b.head + 1) % len(b.entries)
	if b.size < len(b.entries) {
		b.size++
	}
}

// Snapshot returns the buffered errors in arrival order, oldest first.
func (b *ErrorBuffer) Snapshot() []types.TestError {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.TestError, 0, b.size)
	start := (b.head - b.size + len(b.entries)) % len(b.entries)
	for i := 0; i < b.size; i++ {
		out = append(out, b.entries[(start+i)%len(b.entries)])
	}
	return out
}

// Len returns the number of buffered errors.
func (b *ErrorBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the fixed buffer capacity.
func (b *ErrorBuffer) Capacity() int {
	return len(b.entries)
}

// Reset clears the buffer.
func (b *ErrorBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// ResultBuffer is a fixed-capacity ring of finished execution records.
type ResultBuffer struct {
	mu      sync.RWMutex
	entries []types.TestExecution
	head    int
	size    int
}

// NewResultBuffer creates a result buffer with the given capacity.
func NewResultBuffer(capacity int) *ResultBuffer {
	if capacity <= 0 {
		capacity = DefaultResultCapacity
	}
	return &ResultBuffer{entries: make([]types.TestExecution, capacity)}
}

// Add inserts a finished execution, evicting the oldest at capacity.
func (b *ResultBuffer) Add(exec types.TestExecution) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = exec
	b.head = (b.head + 1) % len(b.entries)
	if b.size < len(b.entries) {
		b.size++
	}
}

// GetByID returns the buffered execution with the given id.
func (b *ResultBuffer) GetByID(id string) (types.TestExecution, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for off := 1; off <= b.size; off++ {
		idx := (b.head - off + len(b.entries)) % len(b.entries)
		if b.entries[idx].ID == id {
			return b.entries[idx], true
		}
	}
	return types.TestExecution{}, false
}

// Snapshot returns the buffered executions in arrival order, oldest first.
func (b *ResultBuffer) Snapshot() []types.TestExecution {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.TestExecution, 0, b.size)
	start := (b.head - b.size + len(b.entries)) % len(b.entries)
	for i := 0; i < b.size; i++ {
		out = append(out, b.entries[(start+i)%len(b.entries)])
	}
	return out
}

// Len returns the number of buffered executions.
func (b *ResultBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the fixed buffer capacity.
func (b *ResultBuffer) Capacity() int {
	return len(b.entries)
}
