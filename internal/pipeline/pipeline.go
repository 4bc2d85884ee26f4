// internal/pipeline/pipeline.go

// Package pipeline moves records from producers to sinks: a bounded queue
// in front of a single dispatcher goroutine.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/orgoj/logrelay/internal/backoff"
	"github.com/orgoj/logrelay/internal/config"
	"github.com/orgoj/logrelay/internal/logger"
	"github.com/orgoj/logrelay/internal/metrics"
	"github.com/orgoj/logrelay/internal/record"
	"github.com/orgoj/logrelay/internal/route"
	"github.com/orgoj/logrelay/internal/sink"
)

// Options configures a Pipeline.
type Options struct {
	QueueCapacity  int
	OverflowPolicy string
	BlockTimeout   time.Duration
	Retry          RetryPolicy
	GracePeriod    time.Duration
	FlushInterval  time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		QueueCapacity:  1024,
		OverflowPolicy: config.OverflowDropNewest,
		BlockTimeout:   100 * time.Millisecond,
		Retry:          DefaultRetryPolicy,
		GracePeriod:    5 * time.Second,
	}
}

// Pipeline owns the queue, the dispatcher and its consumer goroutine.
type Pipeline struct {
	bridge     *Bridge
	dispatcher *Dispatcher
	metrics    *metrics.Pipeline
	log        *logger.AppLogger
	grace      time.Duration

	cancelRun context.CancelFunc
	done      chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// Stats is the /stats payload.
type Stats struct {
	metrics.Snapshot
	QueueLength   int `json:"queue_length"`
	QueueCapacity int `json:"queue_capacity"`
}

// New starts a pipeline over the given sinks. The pipeline takes
// ownership of the sinks and closes them on Shutdown.
func New(specs []SinkSpec, opts Options, log *logger.AppLogger) (*Pipeline, error) {
	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.Sink.Name()
	}
	m, err := metrics.New(names)
	if err != nil {
		return nil, err
	}

	bridge, err := NewBridge(opts.QueueCapacity, opts.OverflowPolicy, opts.BlockTimeout, m)
	if err != nil {
		return nil, err
	}
	dispatcher, err := NewDispatcher(specs, opts.Retry, m, log.Named("dispatcher"))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		bridge:     bridge,
		dispatcher: dispatcher,
		metrics:    m,
		log:        log,
		grace:      opts.GracePeriod,
		cancelRun:  cancel,
		done:       make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		dispatcher.Run(ctx, bridge.C(), opts.FlushInterval)
	}()
	log.Info("Pipeline started with %d sinks (queue capacity %d, overflow policy %s)",
		len(specs), opts.QueueCapacity, opts.OverflowPolicy)
	return p, nil
}

// FromConfig builds every enabled sink of cfg and starts a pipeline over
// them.
func FromConfig(cfg *config.Config, log *logger.AppLogger) (*Pipeline, error) {
	var enabled []config.SinkConfig
	var filters []*route.Filter
	for _, sc := range cfg.Sinks {
		if !sc.IsEnabled() {
			continue
		}
		f, err := route.FromConfig(sc)
		if err != nil {
			return nil, err
		}
		enabled = append(enabled, sc)
		filters = append(filters, f)
	}

	sinks, err := sink.Build(enabled, log.Named("sink"))
	if err != nil {
		return nil, err
	}
	specs := make([]SinkSpec, len(sinks))
	for i, s := range sinks {
		specs[i] = SinkSpec{Sink: s, Filter: filters[i], WriteTimeout: enabled[i].Timeouts.Write.Std()}
		log.Debug("Sink '%s' routes %s", s.Name(), filters[i])
	}

	opts := Options{
		QueueCapacity:  cfg.Queue.Capacity,
		OverflowPolicy: cfg.Queue.OverflowPolicy,
		BlockTimeout:   cfg.Queue.BlockTimeout.Std(),
		Retry: RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff:     backoff.Exponential{Base: cfg.Retry.BaseDelay.Std(), Max: cfg.Retry.MaxDelay.Std()},
		},
		GracePeriod:   cfg.Shutdown.GracePeriod.Std(),
		FlushInterval: cfg.FlushInterval.Std(),
	}
	p, err := New(specs, opts, log)
	if err != nil {
		for _, s := range sinks {
			err = multierr.Append(err, s.Close())
		}
		return nil, err
	}
	return p, nil
}

// Emit enqueues rec for delivery. It never reports sink errors: false
// only means the record was dropped by the overflow policy or because
// the pipeline is shutting down.
func (p *Pipeline) Emit(rec *record.Record) bool {
	if rec == nil {
		return false
	}
	return p.bridge.Enqueue(rec)
}

// Shutdown stops accepting records and lets the dispatcher drain the
// queue for at most the grace period (or until ctx is done). The write in
// progress at that point is cancelled and every undelivered record is
// counted as dropped. Sinks are then flushed with whatever grace remains
// and closed. Calling Shutdown more than once returns the first result.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(ctx)
	})
	return p.shutdownErr
}

func (p *Pipeline) shutdown(ctx context.Context) error {
	start := time.Now()
	graceCtx, cancel := context.WithTimeout(ctx, p.grace)
	defer cancel()

	p.bridge.Close()
	select {
	case <-p.done:
	case <-graceCtx.Done():
		p.log.Warn("Grace period of %s expired with %d records queued, cancelling delivery", p.grace, p.bridge.Len())
		p.cancelRun()
		<-p.done
	}
	p.cancelRun()

	if n := p.bridge.Discard(); n > 0 {
		p.metrics.AddDropped(metrics.DropShutdown, uint64(n))
	}
	err := p.dispatcher.Close(graceCtx)
	err = multierr.Append(err, p.metrics.Shutdown(context.Background()))

	snap := p.metrics.Snapshot()
	p.log.Info("Pipeline stopped in %s: %d emitted, %d dropped during shutdown",
		time.Since(start).Round(time.Millisecond), snap.Emitted, snap.Dropped[string(metrics.DropShutdown)])
	if err != nil {
		return fmt.Errorf("pipeline shutdown: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the pipeline counters and queue depth.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Snapshot:      p.metrics.Snapshot(),
		QueueLength:   p.bridge.Len(),
		QueueCapacity: p.bridge.Cap(),
	}
}

// MetricsHandler serves the pipeline counters in the Prometheus text
// format.
func (p *Pipeline) MetricsHandler() http.Handler { return p.metrics.Handler() }

// ResetSink clears the degraded state of a sink so it is offered records
// again. It reports whether the sink was degraded.
func (p *Pipeline) ResetSink(name string) (bool, error) {
	return p.dispatcher.Reset(name)
}

// SinkNames returns the sink names in dispatch order.
func (p *Pipeline) SinkNames() []string { return p.dispatcher.Names() }
