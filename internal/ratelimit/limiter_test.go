package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(limit, window).WithClock(clk.Now), clk
}

func TestAllow_LimitWithinWindow(t *testing.T) {
	l, clk := newLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("student-1"), "attempt %d", i+1)
		clk.Advance(time.Second)
	}
	assert.False(t, l.Allow("student-1"))
	assert.Equal(t, 0, l.Remaining("student-1"))

	// a different actor is unaffected
	assert.True(t, l.Allow("student-2"))
	assert.Equal(t, 4, l.Remaining("student-2"))
}

func TestAllow_RejectionIsNotRecorded(t *testing.T) {
	l, clk := newLimiter(1, time.Minute)
	require.True(t, l.Allow("a"))
	first := clk.Now()

	for i := 0; i < 10; i++ {
		clk.Advance(time.Second)
		assert.False(t, l.Allow("a"))
	}
	assert.Equal(t, first.Add(time.Minute), l.ResetTime("a"))
}

func TestAllow_WindowBoundary(t *testing.T) {
	l, clk := newLimiter(5, 60*time.Second)
	start := clk.Now()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("a"))
	}

	clk.t = start.Add(60*time.Second - time.Millisecond)
	assert.False(t, l.Allow("a"), "still inside the window")

	clk.t = start.Add(60 * time.Second)
	assert.True(t, l.Allow("a"), "exactly one window old has expired")
	assert.Equal(t, 4, l.Remaining("a"))
}

func TestRemainingAndResetTime(t *testing.T) {
	l, clk := newLimiter(3, 10*time.Second)

	assert.Equal(t, 3, l.Remaining("a"))
	assert.Equal(t, clk.Now(), l.ResetTime("a"))

	require.True(t, l.Allow("a"))
	first := clk.Now()
	clk.Advance(4 * time.Second)
	require.True(t, l.Allow("a"))

	assert.Equal(t, 1, l.Remaining("a"))
	assert.Equal(t, first.Add(10*time.Second), l.ResetTime("a"))

	clk.Advance(6 * time.Second)
	assert.Equal(t, 2, l.Remaining("a"))
	assert.Equal(t, first.Add(14*time.Second), l.ResetTime("a"))
}

func TestSweep_EvictsStaleActors(t *testing.T) {
	l, clk := newLimiter(2, time.Second)

	for i := 0; i < 50; i++ {
		l.Allow(fmt.Sprintf("actor-%d", i))
	}
	assert.Equal(t, 50, l.Len())

	clk.Advance(2 * time.Second)
	for i := 0; i < sweepEvery; i++ {
		l.Allow("active")
		clk.Advance(time.Millisecond)
	}
	assert.Equal(t, 1, l.Len())
}

func TestNew_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { New(0, time.Second) })
	assert.Panics(t, func() { New(1, 0) })
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(map[string]Class{
		OrderSubmit: {Limit: 5, Window: time.Minute},
	})
	require.NoError(t, err)

	l := r.Get(OrderSubmit)
	require.NotNil(t, l)
	assert.Equal(t, 5, l.Limit())
	assert.Equal(t, time.Minute, l.Window())
	assert.Nil(t, r.Get("unknown"))

	_, err = NewRegistry(map[string]Class{"bad": {Limit: 0, Window: time.Second}})
	assert.Error(t, err)
}
