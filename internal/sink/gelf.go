// internal/sink/gelf.go

package sink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/Graylog2/go-gelf.v2/gelf"

	"github.com/orgoj/logrelay/internal/record"
)

// gelfUDPWriterFactory is swapped out in tests.
var gelfUDPWriterFactory = func(addr string) (gelf.Writer, *gelf.UDPWriter, error) {
	w, err := gelf.NewUDPWriter(addr)
	return w, w, err
}

// GelfSink sends records to Graylog. UDP goes through the go-gelf writer,
// which is created on the first write and cannot be interrupted once a
// send has started. TCP frames are NUL terminated JSON written on a
// lazyConn, so the write deadline and cancellation apply to them. GELF
// over TCP is never compressed.
type GelfSink struct {
	name        string
	addr        string
	protocol    string
	compression gelf.CompressType
	hostName    string

	gate   dialGate
	writer gelf.Writer

	tcp *lazyConn
	buf bytes.Buffer
}

// NewGelfSink creates a GELF sink for addr (host:port).
func NewGelfSink(name, addr, protocol, compressionType string, connectTimeout time.Duration) (*GelfSink, error) {
	if addr == "" {
		return nil, fmt.Errorf("host:port is required for GELF sink '%s'", name)
	}
	hostName, err := os.Hostname()
	if err != nil {
		hostName = "unknown"
	}
	s := &GelfSink{
		name:     name,
		addr:     addr,
		protocol: protocol,
		hostName: hostName,
		gate:     dialGate{now: time.Now},
	}
	if protocol == "tcp" {
		s.tcp = newLazyConn("tcp", addr, connectTimeout)
	}
	switch compressionType {
	case "gzip":
		s.compression = gelf.CompressGzip
	case "zlib":
		s.compression = gelf.CompressZlib
	default:
		s.compression = gelf.CompressNone
	}
	return s, nil
}

func (s *GelfSink) connect() (gelf.Writer, error) {
	if s.writer != nil {
		return s.writer, nil
	}
	if err := s.gate.check("gelf " + s.addr); err != nil {
		return nil, err
	}
	w, udp, err := gelfUDPWriterFactory(s.addr)
	if err != nil {
		s.gate.failed()
		return nil, fmt.Errorf("failed to create GELF %s writer: %w", s.protocol, err)
	}
	if udp != nil {
		udp.CompressionType = s.compression
	}
	s.gate.succeeded()
	s.writer = w
	return w, nil
}

// Write sends a record to the Graylog server.
func (s *GelfSink) Write(ctx context.Context, rec *record.Record) error {
	if err := ctx.Err(); err != nil {
		return Classify(s.name, err)
	}
	if s.tcp != nil {
		return s.writeTCP(ctx, rec)
	}
	w, err := s.connect()
	if err != nil {
		return Classify(s.name, err)
	}
	if err := w.WriteMessage(s.message(rec)); err != nil {
		w.Close()
		s.writer = nil
		return Classify(s.name, err)
	}
	return nil
}

func (s *GelfSink) writeTCP(ctx context.Context, rec *record.Record) error {
	s.buf.Reset()
	if err := s.message(rec).MarshalJSONBuf(&s.buf); err != nil {
		return NewError(s.name, KindIO, Permanent, fmt.Errorf("failed to encode GELF message: %w", err))
	}
	s.buf.WriteByte(0)
	if err := s.tcp.write(ctx, s.buf.Bytes()); err != nil {
		return Classify(s.name, err)
	}
	return nil
}

func (s *GelfSink) message(rec *record.Record) *gelf.Message {
	t := rec.Time()
	msg := &gelf.Message{
		Version:  "1.1",
		Host:     s.hostName,
		Short:    rec.Message(),
		TimeUnix: float64(t.Unix()) + float64(t.Nanosecond())/1e9,
		Level:    int32(rec.Level().SyslogSeverity()),
		Extra:    make(map[string]interface{}, rec.NumAttrs()+1),
	}
	if rec.Logger() != "" {
		msg.Extra["_logger"] = rec.Logger()
	}
	rec.Attrs(func(a record.Attr) bool {
		// GELF requires additional fields to start with an underscore
		key := a.Key
		if key == "" || key[0] != '_' {
			key = "_" + key
		}
		if key == "_id" {
			key = "__id"
		}
		// GELF doesn't support complex data types
		switch v := a.Value.(type) {
		case string, float64, float32, int, int32, int64, uint, uint32, uint64:
			msg.Extra[key] = v
		default:
			msg.Extra[key] = record.FormatValue(v)
		}
		return true
	})
	return msg
}

// Flush is a no-op: messages are sent as they are written.
func (s *GelfSink) Flush(context.Context) error { return nil }

// Close closes the GELF writer or the TCP connection.
func (s *GelfSink) Close() error {
	if s.tcp != nil {
		return s.tcp.close()
	}
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}

// Name returns the sink name.
func (s *GelfSink) Name() string { return s.name }
