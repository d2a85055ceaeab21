package profiler

import (
	"context"
	"testing"
	"time"

	"github.com/nvr-ai/chroma/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStats(t *testing.T) {
	p := New(0, nil)
	for i := 1; i <= 100; i++ {
		p.Record("detect", time.Duration(i)*time.Millisecond)
	}

	op, ok := p.Operation("detect")
	require.True(t, ok)
	assert.Equal(t, int64(100), op.Count)
	assert.Equal(t, time.Millisecond, op.Min)
	assert.Equal(t, 100*time.Millisecond, op.Max)
	assert.Equal(t, 50500*time.Microsecond, op.Mean)
	assert.Equal(t, 95*time.Millisecond, op.P95)

	_, ok = p.Operation("missing")
	assert.False(t, ok)
}

func TestRollingWindow(t *testing.T) {
	p := New(3, nil)
	for _, ms := range []int{100, 1, 2, 3} {
		p.Record("decode", time.Duration(ms)*time.Millisecond)
	}

	op, ok := p.Operation("decode")
	require.True(t, ok)
	assert.Equal(t, int64(4), op.Count, "count includes evicted samples")
	assert.Equal(t, 3*time.Millisecond, op.Max)
	assert.Equal(t, 2*time.Millisecond, op.Mean)
}

func TestStartOperation(t *testing.T) {
	p := New(10, nil)
	done := p.StartOperation("sleep")
	time.Sleep(5 * time.Millisecond)
	done()

	op, ok := p.Operation("sleep")
	require.True(t, ok)
	assert.GreaterOrEqual(t, op.Min, 5*time.Millisecond)
}

func TestSnapshotAndReport(t *testing.T) {
	p := New(10, logging.NewTestLogger(t))
	p.Record("a", time.Millisecond)
	p.Record("b", 2*time.Millisecond)

	s := p.Snapshot()
	assert.Len(t, s.Operations, 2)
	assert.Positive(t, s.Runtime.Goroutines)

	p.Report()
}

func TestRunStopsOnCancel(t *testing.T) {
	p := New(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
