// internal/sink/network.go

package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orgoj/logrelay/internal/record"
	"github.com/orgoj/logrelay/internal/truncate"
)

// NetworkSink streams records to a remote endpoint over TCP, UDP or a
// WebSocket. Connections are established lazily on the first write and
// re-established on the write after a failure.
//
// UDP is fire-and-forget: a datagram lost in transit is never reported,
// and a local send error is reported as delivered so it is not retried.
//
// TCP cannot see a peer close until the kernel reports it: the first
// write after the remote end went away usually lands in the send buffer
// and is lost without an error. The write after that fails, drops the
// connection, and the retry reconnects.
type NetworkSink struct {
	name        string
	protocol    string
	maxDatagram int

	conn *lazyConn
	ws   *wsConn
	buf  []byte
}

// NetworkOptions holds the settings shared by the stream transports.
type NetworkOptions struct {
	Protocol       string // tcp, udp or websocket
	Target         string // host:port
	URLPath        string // websocket only
	Headers        map[string]string
	MaxDatagram    int // udp only, 0 means unlimited
	ConnectTimeout time.Duration
}

// NewNetworkSink creates a network sink. No connection is made here.
func NewNetworkSink(name string, opts NetworkOptions) (*NetworkSink, error) {
	s := &NetworkSink{name: name, protocol: opts.Protocol, maxDatagram: opts.MaxDatagram}
	switch opts.Protocol {
	case "tcp", "udp":
		s.conn = newLazyConn(opts.Protocol, opts.Target, opts.ConnectTimeout)
	case "websocket":
		u := url.URL{Scheme: "ws", Host: opts.Target, Path: opts.URLPath}
		s.ws = newWSConn(u.String(), opts.Headers, opts.ConnectTimeout)
	default:
		return nil, fmt.Errorf("network sink '%s': unsupported protocol '%s'", name, opts.Protocol)
	}
	return s, nil
}

// Write sends one record: a newline terminated wire line for TCP and UDP,
// a JSON text message for WebSocket.
func (s *NetworkSink) Write(ctx context.Context, rec *record.Record) error {
	var err error
	switch s.protocol {
	case "websocket":
		s.buf = record.AppendJSON(s.buf[:0], rec)
		err = s.ws.write(ctx, s.buf)
	case "udp":
		err = s.writeDatagram(ctx, rec)
	default:
		s.buf = record.AppendWire(s.buf[:0], rec)
		err = s.conn.write(ctx, s.buf)
	}
	if err != nil {
		return Classify(s.name, err)
	}
	return nil
}

func (s *NetworkSink) writeDatagram(ctx context.Context, rec *record.Record) error {
	if s.maxDatagram > 0 {
		rec, _ = truncate.Record(rec, s.maxDatagram, wireSize)
	}
	s.buf = record.AppendWire(s.buf[:0], rec)
	if s.maxDatagram > 0 {
		s.buf = truncate.Bytes(s.buf, s.maxDatagram)
	}

	if _, err := s.conn.get(ctx); err != nil {
		return err
	}
	if err := s.conn.write(ctx, s.buf); err != nil {
		return delivered(s.name, err)
	}
	return nil
}

func wireSize(r *record.Record) int { return len(record.AppendWire(nil, r)) }

// Flush is a no-op: every write goes straight to the socket.
func (s *NetworkSink) Flush(context.Context) error { return nil }

// Close closes the cached connection, if any.
func (s *NetworkSink) Close() error {
	if s.ws != nil {
		return s.ws.close()
	}
	return s.conn.close()
}

// Name returns the sink name.
func (s *NetworkSink) Name() string { return s.name }

// wsConn is a lazily dialled WebSocket client connection.
type wsConn struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	gate   dialGate
	conn   *websocket.Conn
}

func newWSConn(rawURL string, headers map[string]string, connectTimeout time.Duration) *wsConn {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &wsConn{
		url:    rawURL,
		header: h,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: connectTimeout,
		},
		gate: dialGate{now: time.Now},
	}
}

func (c *wsConn) get(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	if err := c.gate.check(c.url); err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		c.gate.failed()
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &Error{Kind: KindConfig, Severity: Permanent,
				Err: fmt.Errorf("websocket handshake with %s rejected: %s", c.url, resp.Status)}
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	c.gate.succeeded()
	c.conn = conn
	return conn, nil
}

func (c *wsConn) write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := c.get(ctx)
	if err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		c.drop()
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		conn.UnderlyingConn().SetWriteDeadline(time.Unix(1, 0))
	})
	err = conn.WriteMessage(websocket.TextMessage, p)
	stop()
	if err != nil {
		c.drop()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("write to %s: %w", c.url, ctxErr)
		}
		return fmt.Errorf("write to %s: %w", c.url, err)
	}
	return nil
}

func (c *wsConn) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *wsConn) close() error {
	if c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return werr
	}
	return err
}
