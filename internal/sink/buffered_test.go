package sink

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgoj/logrelay/internal/record"
)

func TestBufferedSink_FlushesAtCapacity(t *testing.T) {
	mem := &memSink{name: "mem"}
	s, err := NewBufferedSink(mem, 3, 0)
	require.NoError(t, err)
	ctx := context.Background()

	for i, m := range msgs(7) {
		require.NoError(t, s.Write(ctx, rec(m)), "write %d", i)
	}
	assert.Equal(t, msgs(6), mem.messages())
	assert.Equal(t, 1, s.Pending())
	assert.Equal(t, "mem", s.Name())
}

func TestBufferedSink_FlushIsIdempotent(t *testing.T) {
	mem := &memSink{name: "mem"}
	s, err := NewBufferedSink(mem, 10, 0)
	require.NoError(t, err)
	ctx := context.Background()

	for _, m := range msgs(4) {
		require.NoError(t, s.Write(ctx, rec(m)))
	}
	assert.Empty(t, mem.writes)

	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, msgs(4), mem.messages())

	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, msgs(4), mem.messages(), "second flush must not resend")
	assert.Equal(t, 0, s.Pending())
}

func TestBufferedSink_FlushLevel(t *testing.T) {
	mem := &memSink{name: "mem"}
	s, err := NewBufferedSink(mem, 100, record.ERROR)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, recAt(record.INFO, "a")))
	require.NoError(t, s.Write(ctx, recAt(record.WARN, "b")))
	assert.Empty(t, mem.writes)

	require.NoError(t, s.Write(ctx, recAt(record.ERROR, "c")))
	assert.Equal(t, []string{"a", "b", "c"}, mem.messages())
}

func TestBufferedSink_PrefersBatchWriter(t *testing.T) {
	bs := &batchSink{memSink: memSink{name: "batch"}}
	s, err := NewBufferedSink(bs, 2, 0)
	require.NoError(t, err)
	ctx := context.Background()

	for _, m := range msgs(5) {
		require.NoError(t, s.Write(ctx, rec(m)))
	}
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, [][]string{{"m0", "m1"}, {"m2", "m3"}, {"m4"}}, bs.batches)
	assert.Empty(t, bs.writes)
	assert.Equal(t, 1, bs.flushes)
}

func TestBufferedSink_FailedFlush(t *testing.T) {
	mem := &memSink{name: "mem", failErr: NewError("mem", KindIO, Transient, errors.New("down"))}
	s, err := NewBufferedSink(mem, 2, 0)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, rec("a")))

	// the write that fills the buffer triggers a failing flush: accepted
	err = s.Write(ctx, rec("b"))
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Delivered)
	assert.Equal(t, 2, s.Pending())

	// buffer still full: the retry fails and the new record is rejected
	err = s.Write(ctx, rec("c"))
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Delivered)
	assert.Equal(t, 2, s.Pending())

	// delegate recovers: the buffered records go first, then the new one
	mem.failErr = nil
	require.NoError(t, s.Write(ctx, rec("d")))
	assert.Equal(t, []string{"a", "b"}, mem.messages())
	assert.Equal(t, 1, s.Pending())
}

// flakySink fails every write after the first n.
type flakySink struct {
	memSink
	okWrites int
}

func (f *flakySink) Write(ctx context.Context, r *record.Record) error {
	if len(f.writes) >= f.okWrites {
		return fmt.Errorf("write %d failed", len(f.writes))
	}
	return f.memSink.Write(ctx, r)
}

func TestBufferedSink_PartialFlushKeepsTail(t *testing.T) {
	fs := &flakySink{memSink: memSink{name: "flaky"}, okWrites: 2}
	s, err := NewBufferedSink(fs, 10, 0)
	require.NoError(t, err)
	ctx := context.Background()

	for _, m := range msgs(5) {
		require.NoError(t, s.Write(ctx, rec(m)))
	}
	require.Error(t, s.Flush(ctx))
	assert.Equal(t, []string{"m0", "m1"}, fs.messages())
	assert.Equal(t, 3, s.Pending())

	fs.okWrites = 10
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, msgs(5), fs.messages(), "no duplicates after recovery")
}

func TestBufferedSink_CloseReportsDiscarded(t *testing.T) {
	mem := &memSink{name: "mem"}
	s, err := NewBufferedSink(mem, 10, 0)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), rec("pending")))

	err = s.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discarded 1 undelivered records")
	assert.True(t, mem.closed)
	assert.Empty(t, mem.writes)
}

func TestNewBufferedSink_InvalidCapacity(t *testing.T) {
	_, err := NewBufferedSink(&memSink{name: "mem"}, 0, 0)
	assert.Error(t, err)
}
