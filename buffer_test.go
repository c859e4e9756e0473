// Package tracelight tests the record buffer.
package tracelight

import (
	"strconv"
	"sync"
	"testing"
)

// TestBuffer_EnqueueDrain_Order verifies that a drain returns exactly the
// enqueued records in call order and empties the buffer.
func TestBuffer_EnqueueDrain_Order(t *testing.T) {
	b := newRecordBuffer(4)

	const n = 25
	for i := 0; i < n; i++ {
		if !b.enqueue(Record{ID: strconv.Itoa(i)}) {
			t.Fatalf("enqueue(%d) = false, want true", i)
		}
	}

	if got := b.size(); got != n {
		t.Fatalf("size() = %d, want %d", got, n)
	}

	batch := b.drain()
	if len(batch) != n {
		t.Fatalf("drain() returned %d records, want %d", len(batch), n)
	}
	for i, rec := range batch {
		if rec.ID != strconv.Itoa(i) {
			t.Errorf("batch[%d].ID = %q, want %q", i, rec.ID, strconv.Itoa(i))
		}
	}

	if got := b.size(); got != 0 {
		t.Errorf("size() after drain = %d, want 0", got)
	}
	if batch = b.drain(); batch != nil {
		t.Errorf("second drain() = %v, want nil", batch)
	}
}

// TestBuffer_BeginShutdown verifies that enqueue fails after shutdown and
// that held records are preserved.
func TestBuffer_BeginShutdown(t *testing.T) {
	b := newRecordBuffer(4)

	b.enqueue(Record{ID: "a"})
	b.enqueue(Record{ID: "b"})

	b.beginShutdown()
	b.beginShutdown() // idempotent

	if b.enqueue(Record{ID: "c"}) {
		t.Error("enqueue after beginShutdown = true, want false")
	}
	if !b.isShuttingDown() {
		t.Error("isShuttingDown() = false, want true")
	}

	batch := b.drain()
	if len(batch) != 2 || batch[0].ID != "a" || batch[1].ID != "b" {
		t.Errorf("drain() after shutdown = %v, want the two held records", batch)
	}
}

// TestBuffer_ConcurrentEnqueueDrain verifies that under concurrent
// enqueues and drains every accepted record appears in exactly one drain.
func TestBuffer_ConcurrentEnqueueDrain(t *testing.T) {
	b := newRecordBuffer(16)

	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.enqueue(Record{ID: strconv.Itoa(p*perProducer + i)})
			}
		}(p)
	}

	var mu sync.Mutex
	seen := make(map[string]int)

	// Two competing drainers: drains must never overlap.
	var drainWg sync.WaitGroup
	stopDraining := make(chan struct{})
	for d := 0; d < 2; d++ {
		drainWg.Add(1)
		go func() {
			defer drainWg.Done()
			for {
				for _, rec := range b.drain() {
					mu.Lock()
					seen[rec.ID]++
					mu.Unlock()
				}
				select {
				case <-stopDraining:
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
	close(stopDraining)
	drainWg.Wait()

	// Final drain picks up anything the loop missed before stopping.
	for _, rec := range b.drain() {
		seen[rec.ID]++
	}

	if len(seen) != producers*perProducer {
		t.Fatalf("observed %d distinct records, want %d", len(seen), producers*perProducer)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("record %s drained %d times, want exactly once", id, count)
		}
	}
}
