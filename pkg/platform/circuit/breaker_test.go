package circuit

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBreakerIsClosed(t *testing.T) {
	b := New("ratelimit-redis")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "ratelimit-redis", b.Name())
	assert.Equal(t, "closed", b.State().String())
}

func TestNonPositiveThresholdsKeepDefaults(t *testing.T) {
	b := New("ratelimit-redis", WithFailureThreshold(0), WithSuccessThreshold(-1))
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen(), "default threshold is five failures")
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

// outcome is one bucket call against Redis: ok reports whether Redis answered.
type outcome struct {
	ok           bool
	wantFallback bool
	wantOpened   bool
	wantClosed   bool
}

// TestRedisOutageSequence walks the breaker through the states the rate limit
// store sees during an outage: errors until it opens, fallback while Redis is
// still flapping, then recovery once enough calls succeed in a row.
func TestRedisOutageSequence(t *testing.T) {
	b := New("ratelimit-redis", WithFailureThreshold(3), WithSuccessThreshold(2))

	steps := []outcome{
		{ok: false},                                       // first error, Redis still primary
		{ok: true},                                        // a success resets the streak
		{ok: false},                                       // streak 1
		{ok: false},                                       // streak 2
		{ok: false, wantFallback: true, wantOpened: true}, // streak 3 opens
		{ok: false, wantFallback: true},                   // open: no new transition
		{ok: true, wantFallback: true},                    // recovery 1 of 2
		{ok: false, wantFallback: true},                   // flap resets the recovery streak
		{ok: true, wantFallback: true},                    // recovery 1 of 2 again
		{ok: true, wantClosed: true},                      // recovery 2 closes
		{ok: true},                                        // closed and healthy
	}

	for i, step := range steps {
		if step.ok {
			usePrimary, change := b.RecordSuccess()
			assert.Equal(t, !step.wantFallback, usePrimary, "step %d", i)
			assert.Equal(t, step.wantClosed, change.Closed, "step %d", i)
			assert.False(t, change.Opened, "step %d", i)
			continue
		}
		useFallback, change := b.RecordFailure()
		assert.Equal(t, step.wantFallback, useFallback, "step %d", i)
		assert.Equal(t, step.wantOpened, change.Opened, "step %d", i)
		assert.False(t, change.Closed, "step %d", i)
	}
	assert.Equal(t, StateClosed, b.State())
}

// Many requests fail against Redis at once; only one of them may report the
// transition, so the fallback hook fires once per outage.
func TestConcurrentFailuresOpenOnce(t *testing.T) {
	b := New("ratelimit-redis", WithFailureThreshold(5))

	var opened, fallbacks atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			useFallback, change := b.RecordFailure()
			if change.Opened {
				opened.Add(1)
			}
			if useFallback {
				fallbacks.Add(1)
			}
		}()
	}
	wg.Wait()

	require.True(t, b.IsOpen())
	assert.Equal(t, int32(1), opened.Load())
	assert.Equal(t, int32(60), fallbacks.Load(), "every call from the threshold on falls back")
}

func TestResetClosesOpenBreaker(t *testing.T) {
	b := New("ratelimit-redis", WithFailureThreshold(1), WithSuccessThreshold(3))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())

	// Counters were cleared: one success while closed keeps Redis primary.
	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.False(t, change.Closed)
}
