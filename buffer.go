package tracelight

import "sync"

// recordBuffer is the mutable holding area for not-yet-sent records.
// It preserves insertion order and supports an atomic get-and-clear drain.
// All methods are safe for concurrent use and never block on I/O.
type recordBuffer struct {
	mu           sync.Mutex
	records      []Record
	shuttingDown bool
}

func newRecordBuffer(capacity int) *recordBuffer {
	return &recordBuffer{
		records: make([]Record, 0, capacity),
	}
}

// enqueue appends a record unless shutdown has begun.
// Returns whether the record was accepted.
func (b *recordBuffer) enqueue(rec Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.shuttingDown {
		return false
	}

	b.records = append(b.records, rec)
	return true
}

// drain atomically swaps and returns all buffered records.
// A record racing into enqueue lands either in this drain or the next one,
// never both.
func (b *recordBuffer) drain() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		return nil
	}

	records := b.records
	b.records = make([]Record, 0, cap(records))
	return records
}

// size returns the current record count. Only a scheduling hint under
// concurrency.
func (b *recordBuffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// beginShutdown makes all subsequent enqueue calls fail. Records already
// held are preserved for the final flush. Idempotent.
func (b *recordBuffer) beginShutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shuttingDown = true
}

// isShuttingDown reports whether beginShutdown has been called.
func (b *recordBuffer) isShuttingDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shuttingDown
}
