package ppl

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// timerRegistry tracks named timers by start time. The clock is a field so
// tests can substitute a fixed one.
type timerRegistry struct {
	clock   func() time.Time
	running map[string]time.Time
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{clock: time.Now, running: make(map[string]time.Time)}
}

// Start begins (or restarts) the timer for label.
func (r *timerRegistry) Start(label string) {
	r.running[label] = r.clock()
}

// Lap returns the elapsed time for label without stopping it.
func (r *timerRegistry) Lap(label string) (time.Duration, error) {
	start, ok := r.running[label]
	if !ok {
		return 0, errors.Wrapf(ErrTimerNotRunning, "timer '%s' was never started", label)
	}
	return r.clock().Sub(start), nil
}

// Stop returns the elapsed time for label and removes it. Stopping twice
// is an error.
func (r *timerRegistry) Stop(label string) (time.Duration, error) {
	d, err := r.Lap(label)
	if err != nil {
		return 0, err
	}
	delete(r.running, label)
	return d, nil
}

// formatElapsed renders a duration as seconds, with a leading minute count
// once it passes a minute: "3.421s", "2m 5.003s".
func formatElapsed(d time.Duration) string {
	secs := d.Seconds()
	if secs >= 60 {
		mins := int(secs) / 60
		return fmt.Sprintf("%dm %.3fs", mins, secs-float64(mins*60))
	}
	return fmt.Sprintf("%.3fs", secs)
}
