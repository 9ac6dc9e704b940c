package logbatch

import (
	"sync"
	"testing"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
)

type logSink struct {
	mu      sync.Mutex
	batches [][]automation.LogRecord
	notify  chan struct{}
}

func newLogSink() *logSink {
	return &logSink{notify: make(chan struct{}, 64)}
}

func (c *logSink) flush(batch []automation.LogRecord) {
	c.mu.Lock()
	c.batches = append(c.batches, batch)
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *logSink) snapshot() [][]automation.LogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]automation.LogRecord, len(c.batches))
	copy(out, c.batches)
	return out
}

func (c *logSink) waitForBatch(t *testing.T) {
	t.Helper()
	select {
	case <-c.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for flush")
	}
}

func TestAggregator_BatchesPreserveOrder(t *testing.T) {
	sink := newLogSink()
	agg := New(10*time.Millisecond, sink.flush)
	agg.Start()
	defer agg.Stop()

	agg.Append(automation.LogRecord{Level: automation.LogLevelInfo, Message: "a"})
	agg.Append(automation.LogRecord{Level: automation.LogLevelInfo, Message: "b"})
	sink.waitForBatch(t)

	agg.Append(automation.LogRecord{Level: automation.LogLevelWarn, Message: "c"})
	sink.waitForBatch(t)

	batches := sink.snapshot()
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if len(batches[0]) != 2 || batches[0][0].Message != "a" || batches[0][1].Message != "b" {
		t.Errorf("first batch wrong: %+v", batches[0])
	}
	if len(batches[1]) != 1 || batches[1][0].Message != "c" {
		t.Errorf("second batch wrong: %+v", batches[1])
	}
}

func TestAggregator_EmptyTicksDeliverNothing(t *testing.T) {
	sink := newLogSink()
	agg := New(5*time.Millisecond, sink.flush)
	agg.Start()
	defer agg.Stop()

	time.Sleep(50 * time.Millisecond)

	if got := sink.snapshot(); len(got) != 0 {
		t.Fatalf("expected no batches from empty ticks, got %d", len(got))
	}
}

func TestAggregator_StartIsIdempotent(t *testing.T) {
	sink := newLogSink()
	agg := New(10*time.Millisecond, sink.flush)
	agg.Start()
	agg.Start()
	defer agg.Stop()

	agg.Append(automation.LogRecord{Level: automation.LogLevelInfo, Message: "once"})
	sink.waitForBatch(t)

	// A doubled timer would deliver the record twice or split it across
	// racing drains; give any duplicate a chance to show up.
	time.Sleep(50 * time.Millisecond)
	batches := sink.snapshot()
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total != 1 {
		t.Fatalf("expected exactly 1 record delivered, got %d", total)
	}
}

func TestAggregator_StopHaltsTimer(t *testing.T) {
	sink := newLogSink()
	agg := New(5*time.Millisecond, sink.flush)
	agg.Start()
	agg.Stop()

	agg.Append(automation.LogRecord{Level: automation.LogLevelInfo, Message: "late"})
	time.Sleep(30 * time.Millisecond)

	if got := sink.snapshot(); len(got) != 0 {
		t.Fatalf("expected no flushes after Stop, got %d", len(got))
	}

	// Restart picks up what was appended while stopped.
	agg.Start()
	defer agg.Stop()
	sink.waitForBatch(t)
	batches := sink.snapshot()
	if len(batches) != 1 || batches[0][0].Message != "late" {
		t.Fatalf("expected pending record after restart, got %+v", batches)
	}
}

func TestAggregator_ConcurrentAppend(t *testing.T) {
	sink := newLogSink()
	agg := New(5*time.Millisecond, sink.flush)
	agg.Start()

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				agg.Append(automation.LogRecord{Level: automation.LogLevelInfo, Message: "m"})
			}
		}()
	}
	wg.Wait()
	agg.Stop()
	agg.Flush()

	total := 0
	for _, b := range sink.snapshot() {
		total += len(b)
	}
	if total != writers*perWriter {
		t.Fatalf("lost records: expected %d, got %d", writers*perWriter, total)
	}
}
