// internal/metrics/metrics.go

// Package metrics holds the pipeline counters. They are exported to
// Prometheus through OpenTelemetry on /metrics and copied into the JSON
// snapshot served on /stats.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/orgoj/logrelay/internal/version"
)

// DropReason says why a record never reached the dispatcher, or was still
// undelivered when shutdown ended.
type DropReason string

const (
	DropOverflow DropReason = "overflow" // queue full under drop_oldest or drop_newest
	DropTimeout  DropReason = "timeout"  // queue still full after block_timeout
	DropClosed   DropReason = "closed"   // emitted after shutdown started
	DropShutdown DropReason = "shutdown" // queued or buffered when the grace period ran out
)

// DropReasons lists every reason in reporting order.
var DropReasons = []DropReason{DropOverflow, DropTimeout, DropClosed, DropShutdown}

// instruments are shared by the pipeline and every sink; attributes tell
// the series apart.
type instruments struct {
	emitted     metric.Int64Counter
	dropped     metric.Int64Counter
	written     metric.Int64Counter
	failures    metric.Int64Counter
	retries     metric.Int64Counter
	skipped     metric.Int64Counter
	filtered    metric.Int64Counter
	givenUp     metric.Int64Counter
	transitions metric.Int64Counter
}

func (in *instruments) create(meter metric.Meter) error {
	defs := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&in.emitted, "logrelay_records_emitted", "Records accepted into the queue"},
		{&in.dropped, "logrelay_records_dropped", "Records dropped before delivery, by reason"},
		{&in.written, "logrelay_sink_written", "Records accepted by a sink"},
		{&in.failures, "logrelay_sink_failures", "Failed write attempts"},
		{&in.retries, "logrelay_sink_retries", "Write attempts repeated after a transient failure"},
		{&in.skipped, "logrelay_sink_skipped", "Records not offered to a degraded sink"},
		{&in.filtered, "logrelay_sink_filtered", "Records rejected by the sink route filter"},
		{&in.givenUp, "logrelay_sink_given_up", "Records a sink failed to accept"},
		{&in.transitions, "logrelay_sink_degraded_transitions", "Times a sink became degraded"},
	}
	for _, d := range defs {
		c, err := meter.Int64Counter(d.name, metric.WithDescription(d.desc))
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", d.name, err)
		}
		*d.dst = c
	}
	return nil
}

// Pipeline tracks pipeline wide counters and one SinkCounters per sink.
type Pipeline struct {
	emitted uint64
	dropped [4]uint64

	order []string
	sinks map[string]*SinkCounters

	registry    *prometheus.Registry
	provider    *sdkmetric.MeterProvider
	in          *instruments
	reasonAttrs [4]metric.MeasurementOption
}

// New creates counters for the named sinks. The set of sinks is fixed.
// Every Pipeline has its own Prometheus registry.
func New(sinkNames []string) (*Pipeline, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry), otelprom.WithoutScopeInfo())
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", "logrelay"),
		attribute.String("service.version", version.Version),
	)
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter("logrelay")

	p := &Pipeline{
		order:    append([]string(nil), sinkNames...),
		sinks:    make(map[string]*SinkCounters, len(sinkNames)),
		registry: registry,
		provider: provider,
		in:       &instruments{},
	}
	if err := p.in.create(meter); err != nil {
		return nil, err
	}
	for i, r := range DropReasons {
		p.reasonAttrs[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("reason", string(r))))
	}
	for _, name := range sinkNames {
		p.sinks[name] = &SinkCounters{
			in:    p.in,
			attrs: metric.WithAttributeSet(attribute.NewSet(attribute.String("sink", name))),
		}
	}

	_, err = meter.Int64ObservableGauge(
		"logrelay_sink_degraded",
		metric.WithDescription("1 while writes to the sink are skipped"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for _, name := range p.order {
				c := p.sinks[name]
				var v int64
				if c.Degraded() {
					v = 1
				}
				o.Observe(v, c.attrs)
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create degraded gauge: %w", err)
	}
	return p, nil
}

// Handler serves the counters in the Prometheus text format.
func (p *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown stops the meter provider. Counters keep working for /stats.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

// IncEmitted counts a record accepted into the queue.
func (p *Pipeline) IncEmitted() {
	atomic.AddUint64(&p.emitted, 1)
	p.in.emitted.Add(context.Background(), 1)
}

// AddDropped counts n dropped records.
func (p *Pipeline) AddDropped(reason DropReason, n uint64) {
	if n == 0 {
		return
	}
	i := reasonIndex(reason)
	atomic.AddUint64(&p.dropped[i], n)
	p.in.dropped.Add(context.Background(), int64(n), p.reasonAttrs[i])
}

// Dropped returns the drop count for reason.
func (p *Pipeline) Dropped(reason DropReason) uint64 {
	return atomic.LoadUint64(&p.dropped[reasonIndex(reason)])
}

// Emitted returns the number of records accepted into the queue.
func (p *Pipeline) Emitted() uint64 { return atomic.LoadUint64(&p.emitted) }

// Sink returns the counters of the named sink, or nil.
func (p *Pipeline) Sink(name string) *SinkCounters { return p.sinks[name] }

func reasonIndex(r DropReason) int {
	switch r {
	case DropOverflow:
		return 0
	case DropTimeout:
		return 1
	case DropClosed:
		return 2
	default:
		return 3
	}
}

// SinkCounters tracks delivery of one sink.
type SinkCounters struct {
	written             uint64
	failures            uint64
	retries             uint64
	skipped             uint64
	filtered            uint64
	givenUp             uint64
	degradedTransitions uint64
	degraded            atomic.Bool

	in    *instruments
	attrs metric.MeasurementOption

	mu        sync.Mutex
	lastError string
}

func (c *SinkCounters) add(v *uint64, counter metric.Int64Counter) {
	atomic.AddUint64(v, 1)
	counter.Add(context.Background(), 1, c.attrs)
}

func (c *SinkCounters) IncWritten()  { c.add(&c.written, c.in.written) }
func (c *SinkCounters) IncRetries()  { c.add(&c.retries, c.in.retries) }
func (c *SinkCounters) IncSkipped()  { c.add(&c.skipped, c.in.skipped) }
func (c *SinkCounters) IncFiltered() { c.add(&c.filtered, c.in.filtered) }

// IncGivenUp counts a record the sink never accepted: retries ran out or
// the failure was permanent.
func (c *SinkCounters) IncGivenUp() { c.add(&c.givenUp, c.in.givenUp) }

// Written returns the number of records the sink accepted.
func (c *SinkCounters) Written() uint64 { return atomic.LoadUint64(&c.written) }

// Failures returns the number of failed write attempts.
func (c *SinkCounters) Failures() uint64 { return atomic.LoadUint64(&c.failures) }

// Skipped returns the number of records not offered because the sink was degraded.
func (c *SinkCounters) Skipped() uint64 { return atomic.LoadUint64(&c.skipped) }

// GivenUp returns the number of records lost on this sink.
func (c *SinkCounters) GivenUp() uint64 { return atomic.LoadUint64(&c.givenUp) }

// DegradedTransitions returns how often the sink became degraded.
func (c *SinkCounters) DegradedTransitions() uint64 {
	return atomic.LoadUint64(&c.degradedTransitions)
}

// RecordFailure counts a failed attempt and keeps its message.
func (c *SinkCounters) RecordFailure(err error) {
	c.add(&c.failures, c.in.failures)
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
}

// MarkDegraded flags the sink and reports whether this call made the
// transition.
func (c *SinkCounters) MarkDegraded() bool {
	if c.degraded.CompareAndSwap(false, true) {
		c.add(&c.degradedTransitions, c.in.transitions)
		return true
	}
	return false
}

// ClearDegraded resets the flag and reports whether it was set.
func (c *SinkCounters) ClearDegraded() bool {
	return c.degraded.CompareAndSwap(true, false)
}

// Degraded reports whether writes to the sink are being skipped.
func (c *SinkCounters) Degraded() bool { return c.degraded.Load() }

// Snapshot is a point in time copy of all counters.
type Snapshot struct {
	Emitted      uint64            `json:"emitted"`
	Dropped      map[string]uint64 `json:"dropped"`
	DroppedTotal uint64            `json:"dropped_total"`
	Sinks        []SinkSnapshot    `json:"sinks"`
}

// SinkSnapshot is the copy of one sink's counters.
type SinkSnapshot struct {
	Name                string `json:"name"`
	Written             uint64 `json:"written"`
	Failures            uint64 `json:"failures"`
	Retries             uint64 `json:"retries"`
	Skipped             uint64 `json:"skipped"`
	Filtered            uint64 `json:"filtered"`
	GivenUp             uint64 `json:"given_up"`
	DegradedTransitions uint64 `json:"degraded_transitions"`
	Degraded            bool   `json:"degraded"`
	LastError           string `json:"last_error,omitempty"`
}

// Snapshot copies every counter. Counters are read independently, so a
// snapshot taken under load is not a consistent cut.
func (p *Pipeline) Snapshot() Snapshot {
	s := Snapshot{
		Emitted: p.Emitted(),
		Dropped: make(map[string]uint64, len(DropReasons)),
		Sinks:   make([]SinkSnapshot, 0, len(p.order)),
	}
	for _, r := range DropReasons {
		n := p.Dropped(r)
		s.Dropped[string(r)] = n
		s.DroppedTotal += n
	}
	for _, name := range p.order {
		c := p.sinks[name]
		c.mu.Lock()
		lastErr := c.lastError
		c.mu.Unlock()
		s.Sinks = append(s.Sinks, SinkSnapshot{
			Name:                name,
			Written:             c.Written(),
			Failures:            c.Failures(),
			Retries:             atomic.LoadUint64(&c.retries),
			Skipped:             c.Skipped(),
			Filtered:            atomic.LoadUint64(&c.filtered),
			GivenUp:             c.GivenUp(),
			DegradedTransitions: c.DegradedTransitions(),
			Degraded:            c.Degraded(),
			LastError:           lastErr,
		})
	}
	return s
}
