package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgoj/logrelay/internal/config"
	"github.com/orgoj/logrelay/internal/metrics"
)

func drain(b *Bridge) []string {
	b.Close()
	var out []string
	for r := range b.C() {
		out = append(out, r.Message())
	}
	return out
}

func TestNewBridge_Invalid(t *testing.T) {
	m := newMetrics(t)
	_, err := NewBridge(0, config.OverflowDropNewest, 0, m)
	assert.ErrorContains(t, err, "capacity must be positive")
	_, err = NewBridge(1, "drop_random", 0, m)
	assert.ErrorContains(t, err, "unknown overflow policy")
	_, err = NewBridge(1, config.OverflowBlock, 0, m)
	assert.ErrorContains(t, err, "requires a positive block timeout")
}

func TestBridge_DropNewest(t *testing.T) {
	m := newMetrics(t)
	b, err := NewBridge(3, config.OverflowDropNewest, 0, m)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ok := b.Enqueue(numbered(i))
		assert.Equal(t, i < 3, ok, "record %d", i)
	}
	assert.Equal(t, uint64(3), m.Emitted())
	assert.Equal(t, uint64(2), m.Dropped(metrics.DropOverflow))
	assert.Equal(t, expected(0, 3), drain(b))
}

func TestBridge_DropOldestKeepsNewest(t *testing.T) {
	const capacity, total = 8, 50
	m := newMetrics(t)
	b, err := NewBridge(capacity, config.OverflowDropOldest, 0, m)
	require.NoError(t, err)

	for i := 0; i < total; i++ {
		assert.True(t, b.Enqueue(numbered(i)))
	}
	assert.Equal(t, capacity, b.Len())
	assert.Equal(t, uint64(total), m.Emitted())
	assert.Equal(t, uint64(total-capacity), m.Dropped(metrics.DropOverflow))
	assert.Equal(t, expected(total-capacity, total), drain(b))
}

func TestBridge_DropOldestConcurrentProducers(t *testing.T) {
	const capacity = 16
	m := newMetrics(t)
	b, err := NewBridge(capacity, config.OverflowDropOldest, 0, m)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				b.Enqueue(numbered(i))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, capacity, b.Len())
	assert.Equal(t, uint64(1000), m.Emitted())
	assert.Equal(t, uint64(1000-capacity), m.Dropped(metrics.DropOverflow))
}

func TestBridge_BlockTimesOut(t *testing.T) {
	m := newMetrics(t)
	b, err := NewBridge(1, config.OverflowBlock, 30*time.Millisecond, m)
	require.NoError(t, err)

	require.True(t, b.Enqueue(numbered(0)))
	start := time.Now()
	assert.False(t, b.Enqueue(numbered(1)))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, uint64(1), m.Dropped(metrics.DropTimeout))
}

func TestBridge_BlockWaitsForConsumer(t *testing.T) {
	m := newMetrics(t)
	b, err := NewBridge(1, config.OverflowBlock, 5*time.Second, m)
	require.NoError(t, err)
	require.True(t, b.Enqueue(numbered(0)))

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-b.C()
	}()
	assert.True(t, b.Enqueue(numbered(1)))
	assert.Equal(t, uint64(0), m.Dropped(metrics.DropTimeout))
	assert.Equal(t, []string{"m1"}, drain(b))
}

func TestBridge_Closed(t *testing.T) {
	m := newMetrics(t)
	b, err := NewBridge(4, config.OverflowDropNewest, 0, m)
	require.NoError(t, err)
	b.Enqueue(numbered(0))
	b.Enqueue(numbered(1))

	b.Close()
	b.Close()
	assert.False(t, b.Enqueue(numbered(2)))
	assert.Equal(t, uint64(1), m.Dropped(metrics.DropClosed))
	assert.Equal(t, 2, b.Discard())
	assert.Equal(t, 0, b.Discard())
}
