// internal/sink/buffered.go

package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/orgoj/logrelay/internal/record"
)

// BufferedSink holds up to capacity records in memory and hands them to
// its delegate in order when the buffer fills, when a record at or above
// the flush level arrives, or on Flush. Delegates implementing BatchWriter
// receive the whole buffer in one call.
type BufferedSink struct {
	delegate   Sink
	batch      BatchWriter
	capacity   int
	flushLevel record.Level // 0 disables level triggered flushes

	buf []*record.Record
}

// NewBufferedSink wraps delegate. capacity must be positive.
func NewBufferedSink(delegate Sink, capacity int, flushLevel record.Level) (*BufferedSink, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffered sink '%s': capacity must be positive", delegate.Name())
	}
	s := &BufferedSink{
		delegate:   delegate,
		capacity:   capacity,
		flushLevel: flushLevel,
		buf:        make([]*record.Record, 0, capacity),
	}
	s.batch, _ = delegate.(BatchWriter)
	return s, nil
}

// Write buffers rec. If the buffer is still full after an earlier failed
// flush, the flush is retried first and rec is rejected when it fails
// again. A failure of the flush triggered by rec itself is returned as a
// delivered error: rec stays buffered and must not be offered again.
func (s *BufferedSink) Write(ctx context.Context, rec *record.Record) error {
	if len(s.buf) >= s.capacity {
		if err := s.drain(ctx); err != nil {
			return err
		}
	}
	s.buf = append(s.buf, rec)
	if len(s.buf) >= s.capacity || (s.flushLevel > 0 && rec.Level() >= s.flushLevel) {
		if err := s.drain(ctx); err != nil {
			return delivered(s.Name(), err)
		}
	}
	return nil
}

// drain hands the buffer to the delegate. Records the delegate accepted
// are removed even when a later one fails.
func (s *BufferedSink) drain(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	if s.batch != nil {
		if err := s.batch.WriteBatch(ctx, s.buf); err != nil {
			var se *Error
			if errors.As(err, &se) && se.Delivered {
				s.discard(len(s.buf))
			}
			return err
		}
		s.discard(len(s.buf))
		return nil
	}
	for i, rec := range s.buf {
		if err := s.delegate.Write(ctx, rec); err != nil {
			var se *Error
			if errors.As(err, &se) && se.Delivered {
				i++
			}
			s.discard(i)
			return err
		}
	}
	s.discard(len(s.buf))
	return nil
}

// discard drops the first n buffered records.
func (s *BufferedSink) discard(n int) {
	rest := copy(s.buf, s.buf[n:])
	clear(s.buf[rest:])
	s.buf = s.buf[:rest]
}

// Flush drains the buffer and flushes the delegate. With nothing buffered
// the delegate sees no writes.
func (s *BufferedSink) Flush(ctx context.Context) error {
	if err := s.drain(ctx); err != nil {
		return err
	}
	return s.delegate.Flush(ctx)
}

// Pending returns the number of records waiting in the buffer.
func (s *BufferedSink) Pending() int { return len(s.buf) }

// Close closes the delegate. Records still buffered are discarded and
// reported in the returned error; call Flush first to deliver them.
func (s *BufferedSink) Close() error {
	err := s.delegate.Close()
	if n := len(s.buf); n > 0 {
		s.discard(n)
		return multierr.Append(fmt.Errorf("buffered sink '%s': discarded %d undelivered records", s.Name(), n), err)
	}
	return err
}

// Name returns the delegate's name.
func (s *BufferedSink) Name() string { return s.delegate.Name() }

// Unwrap returns the delegate.
func (s *BufferedSink) Unwrap() Sink { return s.delegate }
