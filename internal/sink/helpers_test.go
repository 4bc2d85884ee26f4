package sink

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orgoj/logrelay/internal/record"
)

var testTime = time.Date(2025, 3, 14, 9, 26, 53, 589000000, time.UTC)

func rec(msg string) *record.Record {
	return record.New(testTime, record.INFO, "app", msg)
}

func recAt(level record.Level, msg string) *record.Record {
	return record.New(testTime, level, "app", msg)
}

// memSink records every write and can be told to fail.
type memSink struct {
	name    string
	writes  []*record.Record
	flushes int
	closed  bool
	failErr error
}

func (m *memSink) Write(_ context.Context, r *record.Record) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.writes = append(m.writes, r)
	return nil
}

func (m *memSink) Flush(context.Context) error {
	m.flushes++
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func (m *memSink) Name() string { return m.name }

func (m *memSink) messages() []string {
	out := make([]string, len(m.writes))
	for i, r := range m.writes {
		out[i] = r.Message()
	}
	return out
}

// batchSink is a memSink that also accepts batches.
type batchSink struct {
	memSink
	batches [][]string
}

func (b *batchSink) WriteBatch(_ context.Context, recs []*record.Record) error {
	if b.failErr != nil {
		return b.failErr
	}
	batch := make([]string, len(recs))
	for i, r := range recs {
		batch[i] = r.Message()
	}
	b.batches = append(b.batches, batch)
	return nil
}

func msgs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("m%d", i)
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
