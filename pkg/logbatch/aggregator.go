// Package logbatch buffers embedded-server log records and delivers them in
// batches on a fixed interval. Empty ticks deliver nothing.
package logbatch

import (
	"sync"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
)

// DefaultInterval is the flush tick used when none is configured.
const DefaultInterval = 250 * time.Millisecond

// FlushFunc receives one non-empty batch per tick, in append order.
type FlushFunc func(batch []automation.LogRecord)

// Aggregator collects log records between flush ticks. Append is safe from
// any goroutine; Start is idempotent while running.
type Aggregator struct {
	interval time.Duration
	flush    FlushFunc

	mu      sync.Mutex
	pending []automation.LogRecord
	stop    chan struct{}
	done    chan struct{}
}

// New creates an Aggregator flushing to fn every interval. A non-positive
// interval falls back to DefaultInterval.
func New(interval time.Duration, fn FlushFunc) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Aggregator{
		interval: interval,
		flush:    fn,
	}
}

// Append adds a record to the pending batch.
func (a *Aggregator) Append(record automation.LogRecord) {
	a.mu.Lock()
	a.pending = append(a.pending, record)
	a.mu.Unlock()
}

// Start begins the flush timer. Calling Start while already running is a
// no-op, so a second timer can never exist.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(a.stop, a.done)
}

// Stop halts the flush timer and waits for the loop to exit. Records
// appended after Stop stay pending until the next Start. Idempotent.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop, a.done = nil, nil
	a.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Flush delivers any pending records immediately, outside the tick cycle.
func (a *Aggregator) Flush() {
	if batch := a.drain(); len(batch) > 0 {
		a.flush(batch)
	}
}

func (a *Aggregator) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if batch := a.drain(); len(batch) > 0 {
				a.flush(batch)
			}
		case <-stop:
			return
		}
	}
}

func (a *Aggregator) drain() []automation.LogRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return nil
	}
	batch := a.pending
	a.pending = nil
	return batch
}
