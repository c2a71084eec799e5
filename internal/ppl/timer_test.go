package ppl

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func TestTimerStartLapStop(t *testing.T) {
	r := newTimerRegistry()
	r.clock = fakeClock(time.Unix(0, 0), time.Second)

	r.Start("t") // 1s

	d, err := r.Lap("t") // 2s
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	// lap keeps the timer running
	d, err = r.Stop("t") // 3s
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	// stop removed it
	_, err = r.Stop("t")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimerNotRunning))
}

func TestTimerLapWithoutStart(t *testing.T) {
	r := newTimerRegistry()
	_, err := r.Lap("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimerNotRunning))
	assert.Contains(t, err.Error(), "timer 'nope' was never started")
}

func TestTimerStartOverwrites(t *testing.T) {
	r := newTimerRegistry()
	r.clock = fakeClock(time.Unix(0, 0), time.Second)

	r.Start("t") // 1s
	r.Start("t") // 2s

	d, err := r.Stop("t") // 3s
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}

func TestTimerLabelsIndependent(t *testing.T) {
	r := newTimerRegistry()
	r.clock = fakeClock(time.Unix(0, 0), time.Second)

	r.Start("a") // 1s
	r.Start("b") // 2s

	_, err := r.Stop("a")
	require.NoError(t, err)

	_, err = r.Lap("b")
	require.NoError(t, err)
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "3.421s", formatElapsed(3421*time.Millisecond))
	assert.Equal(t, "0.000s", formatElapsed(0))
	assert.Equal(t, "2m 5.000s", formatElapsed(125*time.Second))
	assert.Equal(t, "1m 0.000s", formatElapsed(60*time.Second))
}
