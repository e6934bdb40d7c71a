package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTickerRunsAndStops(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count int64
	s.AddTicker("sweep", 5*time.Millisecond, func() { atomic.AddInt64(&count, 1) })
	assert.Equal(t, []string{"sweep"}, s.ListTickers())

	time.Sleep(40 * time.Millisecond)
	assert.Greater(t, atomic.LoadInt64(&count), int64(1))

	s.Remove("sweep")
	assert.Empty(t, s.ListTickers())
	settled := atomic.LoadInt64(&count)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, atomic.LoadInt64(&count))
}

func TestTickerReplacedByName(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var first, second int64
	s.AddTicker("sweep", 5*time.Millisecond, func() { atomic.AddInt64(&first, 1) })
	s.AddTicker("sweep", 5*time.Millisecond, func() { atomic.AddInt64(&second, 1) })
	assert.Len(t, s.ListTickers(), 1)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt64(&first), "the replaced task must not keep running")
	assert.Greater(t, atomic.LoadInt64(&second), int64(0))
}

func TestDelayRunsOnce(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count int64
	s.AddDelay("later", 5*time.Millisecond, func() { atomic.AddInt64(&count, 1) })
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&count))
}

func TestTaskPanicIsContained(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var after int64
	s.AddTicker("bad", 5*time.Millisecond, func() {
		atomic.AddInt64(&after, 1)
		panic("task exploded")
	})
	time.Sleep(25 * time.Millisecond)
	// The ticker keeps firing despite the panics.
	assert.Greater(t, atomic.LoadInt64(&after), int64(1))
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(zap.NewNop())
	s.Stop()
	assert.NotPanics(t, s.Stop)
}
