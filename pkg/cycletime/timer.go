package cycletime

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/psantana5/cycletime/pkg/logging"
	"github.com/psantana5/cycletime/pkg/reporter"
)

// TimerOption tweaks a single timer
type TimerOption func(*Timer)

// WithSilent suppresses the console lines of this timer. Reports are unaffected.
func WithSilent() TimerOption {
	return func(t *Timer) { t.silent = true }
}

// WithFlushOnStop reports the pending window when the timer is stopped
func WithFlushOnStop() TimerOption {
	return func(t *Timer) { t.flushOnStop = true }
}

// withClock replaces time.Now
func withClock(now func() time.Time) TimerOption {
	return func(t *Timer) { t.now = now }
}

// Timer is a named stopwatch. With a positive pulse it also keeps a running
// average that a background loop reports and resets every pulse seconds.
type Timer struct {
	factory     *Factory
	logger      *logging.Logger
	name        string
	pulse       float64
	silent      bool
	flushOnStop bool
	now         func() time.Time

	mu      sync.Mutex
	started time.Time // zero while idle
	count   int
	sum     float64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newTimer(f *Factory, name string, pulse float64, opts ...TimerOption) *Timer {
	t := &Timer{
		factory: f,
		logger:  f.logger.WithField("timer", name),
		name:    name,
		pulse:   pulse,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the timer name
func (t *Timer) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Pulse returns the averaging interval in seconds, 0 when every cycle is reported
func (t *Timer) Pulse() float64 {
	if t == nil {
		return 0
	}
	return t.pulse
}

// Running reports whether a measurement is in flight
func (t *Timer) Running() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.started.IsZero()
}

// Pending returns the samples accumulated since the last flush
func (t *Timer) Pending() (count int, sum float64) {
	if t == nil {
		return 0, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count, t.sum
}

// Start begins a measurement. Calling it again before End restarts the measurement.
func (t *Timer) Start() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.started = t.now()
	t.mu.Unlock()
}

// End finishes the running measurement and returns its cycletime in seconds.
// Without a running measurement it does nothing and returns false.
func (t *Timer) End() (float64, bool) {
	if t == nil {
		return 0, false
	}

	t.mu.Lock()
	if t.started.IsZero() {
		t.mu.Unlock()
		return 0, false
	}
	now := t.now()
	cycletime := now.Sub(t.started).Seconds()
	t.started = time.Time{}
	if t.pulse > 0 {
		t.count++
		t.sum += cycletime
	}
	t.mu.Unlock()

	if t.pulse == 0 {
		t.factory.dispatch(reporter.Measurement{
			Name:      t.name,
			Value:     cycletime,
			Unit:      reporter.UnitSeconds,
			Timestamp: now,
		})
	}

	t.emit(cycletime, false)
	return cycletime, true
}

// Flush reports the average of the current window, if it has samples, and resets it.
// The pulse loop calls it every pulse seconds.
func (t *Timer) Flush() {
	if t == nil || t.pulse == 0 {
		return
	}

	t.mu.Lock()
	count, sum := t.count, t.sum
	t.count, t.sum = 0, 0
	t.mu.Unlock()

	if count == 0 {
		return
	}

	average := sum / float64(count)
	t.emit(average, true)
	t.factory.dispatch(reporter.Measurement{
		Name:      t.name,
		Value:     average,
		Unit:      reporter.UnitSeconds,
		Timestamp: t.now(),
		Average:   true,
	})
}

// Stop ends the pulse loop and waits for it to exit. Safe to call more than once.
func (t *Timer) Stop() {
	if t == nil || t.cancel == nil {
		return
	}
	t.stopOnce.Do(func() {
		t.cancel()
		<-t.done
		if t.flushOnStop {
			t.Flush()
		}
		t.logger.Debug("Pulse stopped")
	})
}

func (t *Timer) startPulse() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.pulseLoop(ctx, pulseInterval(t.pulse))
}

// pulseInterval converts seconds to a Duration, saturating at the largest Duration
// and never going below 1ms
func pulseInterval(pulse float64) time.Duration {
	if pulse >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	interval := time.Duration(pulse * float64(time.Second))
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return interval
}

// pulseLoop waits a full interval after each flush returns, so flush time adds drift
func (t *Timer) pulseLoop(ctx context.Context, interval time.Duration) {
	defer close(t.done)

	wait := time.NewTimer(interval)
	defer wait.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wait.C:
		}

		t.Flush()
		wait.Reset(interval)
	}
}

func (t *Timer) emit(seconds float64, average bool) {
	t.logger.Debug("Cycle measured", map[string]interface{}{
		"seconds": seconds,
		"average": average,
	})
	if !t.silent {
		t.factory.printer.print(t.name, seconds, average)
	}
}
