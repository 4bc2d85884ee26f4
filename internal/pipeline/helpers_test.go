package pipeline

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orgoj/logrelay/internal/metrics"
	"github.com/orgoj/logrelay/internal/record"
)

var testTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func rec(logger, msg string) *record.Record {
	return record.New(testTime, record.INFO, logger, msg)
}

func newMetrics(t *testing.T, names ...string) *metrics.Pipeline {
	t.Helper()
	m, err := metrics.New(names)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func numbered(i int) *record.Record {
	return rec("app", fmt.Sprintf("m%d", i))
}

// fakeSink is safe for use from the dispatcher goroutine and the test.
// fail, when set, is consulted before every write with the 1-based
// attempt number across the sink's lifetime.
type fakeSink struct {
	name  string
	delay time.Duration
	fail  func(attempt int, r *record.Record) error

	mu       sync.Mutex
	attempts int
	written  []string
	flushes  int
	closed   bool
	pending  int
}

func (s *fakeSink) Write(ctx context.Context, r *record.Record) error {
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.fail != nil {
		if err := s.fail(attempt, r); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.written = append(s.written, r.Message())
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Flush(context.Context) error {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Pending() int { return s.pending }

func (s *fakeSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

func (s *fakeSink) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func expected(from, to int) []string {
	out := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, fmt.Sprintf("m%d", i))
	}
	return out
}

// stalledListener accepts connections and never reads from them.
func stalledListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().String()
}
