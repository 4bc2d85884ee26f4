// internal/pipeline/dispatcher.go

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/orgoj/logrelay/internal/backoff"
	"github.com/orgoj/logrelay/internal/logger"
	"github.com/orgoj/logrelay/internal/metrics"
	"github.com/orgoj/logrelay/internal/record"
	"github.com/orgoj/logrelay/internal/route"
	"github.com/orgoj/logrelay/internal/sink"
)

// ErrUnknownSink is returned for operations naming a sink that does not exist.
var ErrUnknownSink = errors.New("unknown sink")

// RetryPolicy bounds the delivery attempts of one record to one sink.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     backoff.Exponential
}

// DefaultRetryPolicy is 3 attempts with backoff from 100ms capped at 5s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Backoff:     backoff.Exponential{Base: 100 * time.Millisecond, Max: 5 * time.Second},
}

// SinkSpec binds a sink to its routing filter and write timeout.
type SinkSpec struct {
	Sink         sink.Sink
	Filter       *route.Filter // nil accepts everything
	WriteTimeout time.Duration // 0 means only the dispatcher context applies
}

type entry struct {
	SinkSpec
	name     string
	counters *metrics.SinkCounters
	failing  bool // last attempt ended in a transient give-up
}

// pendingReporter is implemented by sinks that hold undelivered records
// in memory.
type pendingReporter interface {
	Pending() int
}

// Dispatcher offers every record to every eligible sink in configuration
// order. It is driven by a single goroutine and is the only user of its
// sinks; only the degraded flags (in metrics) are shared.
type Dispatcher struct {
	entries []*entry
	retry   RetryPolicy
	metrics *metrics.Pipeline
	log     *logger.AppLogger

	allDegradedReported bool
}

// NewDispatcher creates a dispatcher. Sink names must be unique and every
// name must have counters in m.
func NewDispatcher(specs []SinkSpec, retry RetryPolicy, m *metrics.Pipeline, log *logger.AppLogger) (*Dispatcher, error) {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	d := &Dispatcher{retry: retry, metrics: m, log: log}
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		name := spec.Sink.Name()
		if seen[name] {
			return nil, fmt.Errorf("duplicate sink name '%s'", name)
		}
		seen[name] = true
		counters := m.Sink(name)
		if counters == nil {
			return nil, fmt.Errorf("no counters for sink '%s'", name)
		}
		d.entries = append(d.entries, &entry{SinkSpec: spec, name: name, counters: counters})
	}
	return d, nil
}

// Run consumes records from in until it is closed and drained or ctx is
// done. With a positive flushInterval every sink is flushed on each tick.
// A record whose delivery was cut short by ctx is counted as dropped.
func (d *Dispatcher) Run(ctx context.Context, in <-chan *record.Record, flushInterval time.Duration) {
	var tick <-chan time.Time
	if flushInterval > 0 {
		t := time.NewTicker(flushInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case rec, ok := <-in:
			if !ok {
				return
			}
			if !d.Dispatch(ctx, rec) {
				d.metrics.AddDropped(metrics.DropShutdown, 1)
			}
		case <-tick:
			d.Flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch offers rec to every sink. It returns false when ctx ended
// before every eligible sink had its chance.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *record.Record) bool {
	complete := true
	for _, e := range d.entries {
		if ctx.Err() != nil {
			return false
		}
		if !e.Filter.Allows(rec) {
			e.counters.IncFiltered()
			continue
		}
		if e.counters.Degraded() {
			e.counters.IncSkipped()
			continue
		}
		if !d.deliver(ctx, e, rec) {
			complete = false
		}
	}
	d.checkAllDegraded()
	return complete
}

// deliver writes rec to one sink, retrying transient failures. It returns
// false only when ctx cut the attempts short.
func (d *Dispatcher) deliver(ctx context.Context, e *entry, rec *record.Record) bool {
	for attempt := 1; ; attempt++ {
		wctx, cancel := e.writeContext(ctx)
		err := e.Sink.Write(wctx, rec)
		cancel()
		if err == nil {
			e.counters.IncWritten()
			if e.failing {
				e.failing = false
				d.log.Info("Sink '%s' recovered", e.name)
			}
			return true
		}

		se := sink.Classify(e.name, err)
		e.counters.RecordFailure(se)
		if se.Delivered {
			e.counters.IncWritten()
		}
		if se.Severity == sink.Permanent {
			if !se.Delivered {
				e.counters.IncGivenUp()
			}
			d.degrade(e, se)
			return true
		}
		if se.Delivered {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt >= d.retry.MaxAttempts {
			e.counters.IncGivenUp()
			if !e.failing {
				e.failing = true
				d.log.Warn("Sink '%s' dropped a record after %d attempts: %v", e.name, attempt, se)
			} else {
				d.log.Debug("Sink '%s' dropped a record after %d attempts: %v", e.name, attempt, se)
			}
			return true
		}
		e.counters.IncRetries()
		if err := backoff.Sleep(ctx, d.retry.Backoff.Delay(attempt)); err != nil {
			return false
		}
	}
}

func (d *Dispatcher) degrade(e *entry, err error) {
	if e.counters.MarkDegraded() {
		d.log.Error("Sink '%s' is degraded, further records are skipped until reset: %v", e.name, err)
	}
}

func (d *Dispatcher) checkAllDegraded() {
	if len(d.entries) == 0 {
		return
	}
	for _, e := range d.entries {
		if !e.counters.Degraded() {
			d.allDegradedReported = false
			return
		}
	}
	if !d.allDegradedReported {
		d.allDegradedReported = true
		d.log.Error("All %d sinks are degraded, records are being discarded", len(d.entries))
	}
}

func (e *entry) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.WriteTimeout > 0 {
		return context.WithTimeout(ctx, e.WriteTimeout)
	}
	return context.WithCancel(ctx)
}

// Flush flushes every non-degraded sink. A permanent flush failure
// degrades the sink.
func (d *Dispatcher) Flush(ctx context.Context) error {
	var errs error
	for _, e := range d.entries {
		if e.counters.Degraded() {
			continue
		}
		wctx, cancel := e.writeContext(ctx)
		err := e.Sink.Flush(wctx)
		cancel()
		if err == nil {
			continue
		}
		se := sink.Classify(e.name, err)
		e.counters.RecordFailure(se)
		if se.Severity == sink.Permanent {
			d.degrade(e, se)
		} else {
			d.log.Warn("Failed to flush sink '%s': %v", e.name, se)
		}
		errs = multierr.Append(errs, se)
	}
	return errs
}

// Close flushes and closes every sink. Records still held in sink buffers
// afterwards are counted as dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	errs := d.Flush(ctx)
	for _, e := range d.entries {
		if pr, ok := e.Sink.(pendingReporter); ok {
			if n := pr.Pending(); n > 0 {
				d.metrics.AddDropped(metrics.DropShutdown, uint64(n))
			}
		}
		if err := e.Sink.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close sink '%s': %w", e.name, err))
		}
	}
	return errs
}

// Reset clears the degraded state of the named sink. It is safe to call
// from any goroutine.
func (d *Dispatcher) Reset(name string) (bool, error) {
	for _, e := range d.entries {
		if e.name == name {
			cleared := e.counters.ClearDegraded()
			if cleared {
				d.log.Info("Sink '%s' reset by operator", name)
			}
			return cleared, nil
		}
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownSink, name)
}

// Names returns the sink names in dispatch order.
func (d *Dispatcher) Names() []string {
	names := make([]string, len(d.entries))
	for i, e := range d.entries {
		names[i] = e.name
	}
	return names
}
