// internal/pipeline/queue.go

package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/orgoj/logrelay/internal/config"
	"github.com/orgoj/logrelay/internal/metrics"
	"github.com/orgoj/logrelay/internal/record"
)

// Bridge is the bounded FIFO between producers and the single dispatcher
// goroutine. Enqueue never blocks longer than the block timeout.
type Bridge struct {
	queue        chan *record.Record
	policy       string
	blockTimeout time.Duration
	metrics      *metrics.Pipeline

	mu     sync.RWMutex
	closed bool
}

// NewBridge creates a bridge holding at most capacity records.
func NewBridge(capacity int, policy string, blockTimeout time.Duration, m *metrics.Pipeline) (*Bridge, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", capacity)
	}
	switch policy {
	case config.OverflowDropNewest, config.OverflowDropOldest:
	case config.OverflowBlock:
		if blockTimeout <= 0 {
			return nil, fmt.Errorf("overflow policy '%s' requires a positive block timeout", policy)
		}
	default:
		return nil, fmt.Errorf("unknown overflow policy '%s'", policy)
	}
	return &Bridge{
		queue:        make(chan *record.Record, capacity),
		policy:       policy,
		blockTimeout: blockTimeout,
		metrics:      m,
	}, nil
}

// Enqueue offers rec to the queue and reports whether it was accepted.
// Under drop_oldest the new record always wins and the oldest queued one
// is counted as dropped instead.
func (b *Bridge) Enqueue(rec *record.Record) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.metrics.AddDropped(metrics.DropClosed, 1)
		return false
	}

	// Fast path
	select {
	case b.queue <- rec:
		b.metrics.IncEmitted()
		return true
	default:
	}

	switch b.policy {
	case config.OverflowBlock:
		timer := time.NewTimer(b.blockTimeout)
		defer timer.Stop()
		select {
		case b.queue <- rec:
			b.metrics.IncEmitted()
			return true
		case <-timer.C:
			b.metrics.AddDropped(metrics.DropTimeout, 1)
			return false
		}

	case config.OverflowDropOldest:
		for {
			// Queue full - try to drop oldest
			select {
			case <-b.queue:
				b.metrics.AddDropped(metrics.DropOverflow, 1)
			default:
			}
			select {
			case b.queue <- rec:
				b.metrics.IncEmitted()
				return true
			default:
				// another producer took the slot; evict again
			}
		}

	default:
		b.metrics.AddDropped(metrics.DropOverflow, 1)
		return false
	}
}

// C is the consumer side of the queue. It is closed by Close.
func (b *Bridge) C() <-chan *record.Record { return b.queue }

// Len returns the number of queued records.
func (b *Bridge) Len() int { return len(b.queue) }

// Cap returns the queue capacity.
func (b *Bridge) Cap() int { return cap(b.queue) }

// Close rejects further enqueues. Records already queued stay readable
// from C. Close waits for producers blocked in Enqueue, which is bounded by
// the block timeout.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.queue)
}

// Discard empties a closed queue and returns how many records it held.
func (b *Bridge) Discard() int {
	n := 0
	for range b.queue {
		n++
	}
	return n
}
