// internal/sink/conn.go

package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/orgoj/logrelay/internal/backoff"
)

// reconnectBackoff spaces out dial attempts after consecutive failures.
var reconnectBackoff = backoff.Exponential{Base: 100 * time.Millisecond, Max: 5 * time.Second}

// errReconnectPending is returned while a connection is inside its
// reconnect backoff window.
var errReconnectPending = errors.New("reconnect backoff in progress")

// dialGate spaces out reconnect attempts after consecutive dial failures.
type dialGate struct {
	now     func() time.Time
	fails   int
	retryAt time.Time
}

func (g *dialGate) check(target string) error {
	if now := g.now(); now.Before(g.retryAt) {
		return fmt.Errorf("%s: %w (%s left)", target, errReconnectPending, g.retryAt.Sub(now).Round(time.Millisecond))
	}
	return nil
}

func (g *dialGate) failed() {
	g.fails++
	g.retryAt = g.now().Add(reconnectBackoff.Delay(g.fails))
}

func (g *dialGate) succeeded() {
	g.fails = 0
	g.retryAt = time.Time{}
}

// lazyConn dials on first use, caches the connection and drops it on the
// first write error so the next write reconnects.
type lazyConn struct {
	network        string
	addr           string
	connectTimeout time.Duration

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
	gate dialGate
	conn net.Conn
}

func newLazyConn(network, addr string, connectTimeout time.Duration) *lazyConn {
	d := &net.Dialer{}
	return &lazyConn{
		network:        network,
		addr:           addr,
		connectTimeout: connectTimeout,
		dial:           d.DialContext,
		gate:           dialGate{now: time.Now},
	}
}

func (c *lazyConn) get(ctx context.Context) (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	if err := c.gate.check(c.network + " " + c.addr); err != nil {
		return nil, err
	}

	dialCtx := ctx
	if c.connectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
	}
	conn, err := c.dial(dialCtx, c.network, c.addr)
	if err != nil {
		c.gate.failed()
		return nil, fmt.Errorf("failed to connect to %s %s: %w", c.network, c.addr, err)
	}
	c.gate.succeeded()
	c.conn = conn
	return conn, nil
}

// write sends p on the cached connection, bounded by ctx's deadline and
// interrupted by ctx cancellation.
func (c *lazyConn) write(ctx context.Context, p []byte) error {
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
		conn.SetWriteDeadline(time.Unix(1, 0))
	})
	_, err = conn.Write(p)
	stop()
	if err != nil {
		c.drop()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("write to %s %s: %w", c.network, c.addr, ctxErr)
		}
		return fmt.Errorf("write to %s %s: %w", c.network, c.addr, err)
	}
	return nil
}

func (c *lazyConn) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *lazyConn) close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
