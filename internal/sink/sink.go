// internal/sink/sink.go

package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/orgoj/logrelay/internal/record"
)

// Sink is a destination for records. A sink is owned by a single
// dispatcher goroutine, so implementations need no internal locking.
type Sink interface {
	// Write delivers one record. Implementations must honour ctx for any
	// blocking network I/O and must not retain or modify the record
	// beyond what their buffering contract states.
	Write(ctx context.Context, rec *record.Record) error

	// Flush pushes any buffered data to the underlying resource.
	Flush(ctx context.Context) error

	// Close flushes and releases the underlying resource.
	Close() error

	// Name returns the configured sink name.
	Name() string
}

// BatchWriter is implemented by sinks that can deliver several records in
// one operation (one HTTP request, one email). BufferedSink prefers it.
type BatchWriter interface {
	WriteBatch(ctx context.Context, recs []*record.Record) error
}

// Severity tells the dispatcher whether a failure is worth retrying.
type Severity int

const (
	// Transient failures are retried with backoff.
	Transient Severity = iota
	// Permanent failures move the sink to the degraded state.
	Permanent
)

func (s Severity) String() string {
	if s == Permanent {
		return "permanent"
	}
	return "transient"
}

// Kind is the failure category.
type Kind string

const (
	KindTimeout  Kind = "timeout"
	KindIO       Kind = "io"
	KindRotation Kind = "rotation"
	KindConfig   Kind = "config"
)

// Error is the error type returned by sinks.
type Error struct {
	Sink     string
	Kind     Kind
	Severity Severity
	// Delivered is set when the record was accepted despite the error,
	// e.g. written to the pre-rotation file. It must not be re-sent.
	Delivered bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink '%s': %s %s error: %v", e.Sink, e.Severity, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a sink error.
func NewError(sinkName string, kind Kind, sev Severity, err error) *Error {
	return &Error{Sink: sinkName, Kind: kind, Severity: sev, Err: err}
}

// IsPermanent reports whether err is a permanent sink failure.
func IsPermanent(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Severity == Permanent
}

// Classify converts an arbitrary error into a *Error. Errors that already
// carry a classification are returned unchanged.
func Classify(sinkName string, err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		if se.Sink == "" {
			se.Sink = sinkName
		}
		return se
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(sinkName, KindTimeout, Transient, err)
	case errors.Is(err, context.Canceled):
		return NewError(sinkName, KindIO, Transient, err)
	case errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EROFS),
		errors.Is(err, os.ErrPermission):
		return NewError(sinkName, KindIO, Permanent, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return NewError(sinkName, KindConfig, Permanent, err)
	}
	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return NewError(sinkName, KindConfig, Permanent, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(sinkName, KindTimeout, Transient, err)
	}
	return NewError(sinkName, KindIO, Transient, err)
}

// delivered marks err as raised after the record was accepted.
func delivered(sinkName string, err error) error {
	se := *Classify(sinkName, err)
	se.Delivered = true
	return &se
}
