// internal/sink/syslog.go

package sink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/orgoj/logrelay/internal/record"
	"github.com/orgoj/logrelay/internal/truncate"
)

// SyslogSink sends RFC 3164 messages to a local socket or a remote
// daemon. Stream transports (tcp, unix) use newline framing.
type SyslogSink struct {
	name        string
	network     string
	facility    int
	tag         string
	hostname    string
	maxDatagram int

	conn *lazyConn
	buf  []byte
}

// SyslogOptions configures a SyslogSink.
type SyslogOptions struct {
	Network        string // unixgram, unix, udp or tcp
	Address        string
	Facility       int
	Tag            string
	MaxDatagram    int
	ConnectTimeout time.Duration
}

// NewSyslogSink creates a syslog sink. The socket is opened on first write.
func NewSyslogSink(name string, opts SyslogOptions) (*SyslogSink, error) {
	switch opts.Network {
	case "unixgram", "unix", "udp", "tcp":
	default:
		return nil, fmt.Errorf("syslog sink '%s': unsupported protocol '%s'", name, opts.Network)
	}
	s := &SyslogSink{
		name:        name,
		network:     opts.Network,
		facility:    opts.Facility,
		tag:         opts.Tag,
		maxDatagram: opts.MaxDatagram,
		conn:        newLazyConn(opts.Network, opts.Address, opts.ConnectTimeout),
	}
	// local daemons stamp the host themselves
	if opts.Network == "udp" || opts.Network == "tcp" {
		s.hostname, _ = os.Hostname()
		if s.hostname == "" {
			s.hostname = "localhost"
		}
	}
	return s, nil
}

// Write formats and sends one syslog message.
func (s *SyslogSink) Write(ctx context.Context, rec *record.Record) error {
	s.buf = s.appendMessage(s.buf[:0], rec)
	if s.maxDatagram > 0 && !s.stream() {
		s.buf = truncate.Bytes(s.buf, s.maxDatagram)
	}
	if s.stream() {
		// embedded newlines would split the frame
		s.buf = bytes.ReplaceAll(s.buf, []byte{'\n'}, []byte{' '})
		s.buf = append(s.buf, '\n')
	}
	if err := s.conn.write(ctx, s.buf); err != nil {
		return Classify(s.name, err)
	}
	return nil
}

// appendMessage renders <PRI>Mmm dd hh:mm:ss [host ]tag[pid]: text
func (s *SyslogSink) appendMessage(dst []byte, rec *record.Record) []byte {
	pri := s.facility*8 + rec.Level().SyslogSeverity()
	dst = append(dst, '<')
	dst = strconv.AppendInt(dst, int64(pri), 10)
	dst = append(dst, '>')
	dst = rec.Time().AppendFormat(dst, time.Stamp)
	dst = append(dst, ' ')
	if s.hostname != "" {
		dst = append(dst, s.hostname...)
		dst = append(dst, ' ')
	}
	dst = append(dst, s.tag...)
	dst = append(dst, '[')
	dst = strconv.AppendInt(dst, int64(os.Getpid()), 10)
	dst = append(dst, "]: "...)
	return record.AppendMessage(dst, rec)
}

func (s *SyslogSink) stream() bool {
	return s.network == "tcp" || s.network == "unix"
}

// Flush is a no-op: every message is sent immediately.
func (s *SyslogSink) Flush(context.Context) error { return nil }

// Close closes the socket.
func (s *SyslogSink) Close() error { return s.conn.close() }

// Name returns the sink name.
func (s *SyslogSink) Name() string { return s.name }
