package cycletime

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/cycletime/pkg/logging"
	"github.com/psantana5/cycletime/pkg/reporter"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recorder struct {
	mu  sync.Mutex
	got []reporter.Measurement
	err error
}

func (r *recorder) Report(_ context.Context, m reporter.Measurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, m)
	return r.err
}

func (r *recorder) measurements() []reporter.Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reporter.Measurement(nil), r.got...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	factory *Factory
	rec     *recorder
	out     *syncBuffer
	logs    *syncBuffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logs := &syncBuffer{}
	logger := logging.NewLogger(logging.DEBUG, false)
	logger.SetOutput(logs)

	fx := &fixture{rec: &recorder{}, out: &syncBuffer{}, logs: logs}
	f, err := New(context.Background(), Config{
		Reporter: fx.rec,
		Logger:   logger,
		Output:   fx.out,
		Hostname: "testhost",
	})
	require.NoError(t, err)
	fx.factory = f

	t.Cleanup(func() {
		_ = f.Close(context.Background())
	})
	return fx
}

func (fx *fixture) close(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fx.factory.Close(ctx))
}

func TestGetTimerValidation(t *testing.T) {
	tests := []struct {
		desc    string
		name    string
		pulse   float64
		wantErr error
	}{
		{"empty name", "", 0, ErrInvalidName},
		{"negative pulse", "x", -1, ErrInvalidPulse},
		{"NaN pulse", "x", math.NaN(), ErrInvalidPulse},
		{"infinite pulse", "x", math.Inf(1), ErrInvalidPulse},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			fx := newFixture(t)

			timer, err := fx.factory.GetTimer(tt.name, tt.pulse)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, timer)
			assert.Contains(t, fx.logs.String(), "Invalid timer")

			// A nil timer must not interrupt the caller
			assert.NotPanics(t, func() {
				timer.Start()
				v, ok := timer.End()
				assert.False(t, ok)
				assert.Zero(t, v)
				timer.Flush()
				timer.Stop()
				assert.False(t, timer.Running())
			})
		})
	}
}

func TestValidPulses(t *testing.T) {
	fx := newFixture(t)

	for _, pulse := range []float64{0, 0.5, 1, 3600} {
		timer, err := fx.factory.GetTimer("ok", pulse)
		require.NoError(t, err)
		assert.Equal(t, pulse, timer.Pulse())
		assert.Equal(t, "ok", timer.Name())
	}
}

func TestEndWithoutStart(t *testing.T) {
	fx := newFixture(t)
	timer, err := fx.factory.GetTimer("idle", 0)
	require.NoError(t, err)

	v, ok := timer.End()
	assert.False(t, ok)
	assert.Zero(t, v)

	fx.close(t)
	assert.Empty(t, fx.rec.measurements())
	assert.Empty(t, fx.out.String())
}

func TestImmediateReport(t *testing.T) {
	fx := newFixture(t)
	clock := newFakeClock()

	timer, err := fx.factory.GetTimer("build", 0, withClock(clock.Now))
	require.NoError(t, err)

	timer.Start()
	assert.True(t, timer.Running())
	clock.Advance(250 * time.Millisecond)

	v, ok := timer.End()
	require.True(t, ok)
	assert.Equal(t, 0.25, v)
	assert.False(t, timer.Running())

	count, sum := timer.Pending()
	assert.Zero(t, count)
	assert.Zero(t, sum)

	fx.close(t)

	got := fx.rec.measurements()
	require.Len(t, got, 1)
	assert.Equal(t, "build", got[0].Name)
	assert.Equal(t, 0.25, got[0].Value)
	assert.Equal(t, reporter.UnitSeconds, got[0].Unit)
	assert.False(t, got[0].Average)
	assert.Equal(t, clock.Now(), got[0].Timestamp)

	assert.Equal(t, "⏱  build on testhost: Took 0.25 s\n", fx.out.String())
}

func TestImmediateReportWallClock(t *testing.T) {
	fx := newFixture(t)

	timer, err := fx.factory.GetTimer("build", 0)
	require.NoError(t, err)

	timer.Start()
	time.Sleep(250 * time.Millisecond)
	v, ok := timer.End()
	require.True(t, ok)

	assert.GreaterOrEqual(t, v, 0.25)
	assert.Less(t, v, 0.30)

	fx.close(t)
	got := fx.rec.measurements()
	require.Len(t, got, 1)
	assert.Equal(t, v, got[0].Value)
}

func TestRestartOverwritesStart(t *testing.T) {
	fx := newFixture(t)
	clock := newFakeClock()

	timer, err := fx.factory.GetTimer("restart", 0, withClock(clock.Now))
	require.NoError(t, err)

	timer.Start()
	clock.Advance(time.Second)
	timer.Start()
	clock.Advance(500 * time.Millisecond)

	v, ok := timer.End()
	require.True(t, ok)
	assert.Equal(t, 0.5, v)
}

func TestPulseAccumulatesAndFlushes(t *testing.T) {
	fx := newFixture(t)
	clock := newFakeClock()

	// Long pulse so the background loop stays out of the way
	timer, err := fx.factory.GetTimer("batch", 3600, withClock(clock.Now))
	require.NoError(t, err)

	for _, d := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond} {
		timer.Start()
		clock.Advance(d)
		_, ok := timer.End()
		require.True(t, ok)
	}

	count, sum := timer.Pending()
	assert.Equal(t, 2, count)
	assert.InDelta(t, 0.3, sum, 1e-9)

	timer.Flush()

	count, sum = timer.Pending()
	assert.Zero(t, count)
	assert.Zero(t, sum)

	fx.close(t)

	got := fx.rec.measurements()
	require.Len(t, got, 1, "pulsed timers only report averages")
	assert.Equal(t, "batch", got[0].Name)
	assert.InDelta(t, 0.15, got[0].Value, 1e-9)
	assert.True(t, got[0].Average)

	out := fx.out.String()
	assert.Contains(t, out, "⏱  batch on testhost: Took 0.1 s\n")
	assert.Contains(t, out, "⏱  batch on testhost: Took 0.2 s\n")
	assert.Contains(t, out, "⏱  batch on testhost: Taking 0.15")
	assert.Contains(t, out, "s on average\n")
}

func TestFlushEmptyWindow(t *testing.T) {
	fx := newFixture(t)

	timer, err := fx.factory.GetTimer("quiet", 3600)
	require.NoError(t, err)

	timer.Flush()

	count, sum := timer.Pending()
	assert.Zero(t, count)
	assert.Zero(t, sum)

	fx.close(t)
	assert.Empty(t, fx.rec.measurements())
	assert.NotContains(t, fx.out.String(), "on average")
}

func TestPulseLoopFires(t *testing.T) {
	fx := newFixture(t)

	timer, err := fx.factory.GetTimer("loop", 0.05)
	require.NoError(t, err)

	timer.Start()
	time.Sleep(5 * time.Millisecond)
	_, ok := timer.End()
	require.True(t, ok)

	require.Eventually(t, func() bool {
		for _, m := range fx.rec.measurements() {
			if m.Name == "loop" && m.Average {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	count, _ := timer.Pending()
	assert.Zero(t, count)

	timer.Stop()
	timer.Stop()
}

func TestPulseZeroNeverAccumulates(t *testing.T) {
	fx := newFixture(t)
	clock := newFakeClock()

	timer, err := fx.factory.GetTimer("direct", 0, withClock(clock.Now))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		timer.Start()
		clock.Advance(10 * time.Millisecond)
		timer.End()

		count, sum := timer.Pending()
		assert.Zero(t, count)
		assert.Zero(t, sum)
	}

	timer.Flush()
	fx.close(t)
	assert.Len(t, fx.rec.measurements(), 3)
}

func TestSilentTimer(t *testing.T) {
	fx := newFixture(t)

	timer, err := fx.factory.GetTimer("i-am-silent", 0, WithSilent())
	require.NoError(t, err)

	timer.Start()
	timer.End()

	fx.close(t)
	assert.Empty(t, fx.out.String())
	assert.Len(t, fx.rec.measurements(), 1)
}

func TestReportErrorCallback(t *testing.T) {
	boom := errors.New("access denied")
	rec := &recorder{err: boom}

	var mu sync.Mutex
	var failures []error
	f, err := New(context.Background(), Config{
		Reporter: rec,
		Logger:   logging.Nop(),
		Output:   &syncBuffer{},
		Hostname: "h",
		OnReportError: func(_ reporter.Measurement, err error) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, err)
		},
	})
	require.NoError(t, err)

	timer, err := f.GetTimer("x", 0)
	require.NoError(t, err)
	timer.Start()
	_, ok := timer.End()
	assert.True(t, ok, "a failing backend must not affect the caller")

	require.NoError(t, f.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], boom)
}

func TestDefaultReportErrorIsLogged(t *testing.T) {
	fx := newFixture(t)
	fx.rec.err = errors.New("throttled")

	timer, err := fx.factory.GetTimer("x", 0)
	require.NoError(t, err)
	timer.Start()
	timer.End()

	fx.close(t)
	assert.Contains(t, fx.logs.String(), `Could not upload to CloudWatch: {"message":"throttled"}`)
}

func TestCloseStopsTimersAndRefusesNew(t *testing.T) {
	fx := newFixture(t)
	clock := newFakeClock()

	timer, err := fx.factory.GetTimer("drain", 3600, withClock(clock.Now), WithFlushOnStop())
	require.NoError(t, err)

	timer.Start()
	clock.Advance(time.Second)
	timer.End()

	fx.close(t)

	got := fx.rec.measurements()
	require.Len(t, got, 1, "pending window is flushed on stop")
	assert.Equal(t, 1.0, got[0].Value)
	assert.True(t, got[0].Average)

	late, err := fx.factory.GetTimer("late", 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, late)
}

func TestEndAfterCloseDropsReport(t *testing.T) {
	fx := newFixture(t)

	timer, err := fx.factory.GetTimer("straggler", 0)
	require.NoError(t, err)

	fx.close(t)

	timer.Start()
	_, ok := timer.End()
	assert.True(t, ok)
	assert.Empty(t, fx.rec.measurements())
	assert.Contains(t, fx.logs.String(), "measurement dropped")
}

func TestFactoriesAreIsolated(t *testing.T) {
	a := newFixture(t)
	b := newFixture(t)

	ta, err := a.factory.GetTimer("a", 0)
	require.NoError(t, err)
	tb, err := b.factory.GetTimer("b", 0)
	require.NoError(t, err)

	ta.Start()
	ta.End()
	tb.Start()
	tb.End()

	a.close(t)
	b.close(t)

	require.Len(t, a.rec.measurements(), 1)
	require.Len(t, b.rec.measurements(), 1)
	assert.Equal(t, "a", a.rec.measurements()[0].Name)
	assert.Equal(t, "b", b.rec.measurements()[0].Name)
}

func TestNewBuildsCloudWatchReporter(t *testing.T) {
	f, err := New(context.Background(), Config{
		Region:    "eu-west-1",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
		Namespace: "namespace",
		Logger:    logging.Nop(),
		Hostname:  "h",
	})
	require.NoError(t, err)

	cw, ok := f.reporter.(*reporter.CloudWatch)
	require.True(t, ok)
	assert.Equal(t, "Cycletime/namespace", cw.Namespace())
	assert.Equal(t, "eu-west-1", cw.Region())
}

func TestFormatLine(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		average bool
		want    string
	}{
		{"build", 1.5, false, "⏱  build on host: Took 1.5 s"},
		{"build", 2, false, "⏱  build on host: Took 2 s"},
		{"batch", 0.125, true, "⏱  batch on host: Taking 0.125 s on average"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatLine(tt.name, "host", tt.seconds, tt.average))
	}
}

func TestResolveHostname(t *testing.T) {
	assert.NotEmpty(t, resolveHostname())
}

func TestPulseInterval(t *testing.T) {
	tests := []struct {
		pulse float64
		want  time.Duration
	}{
		{1, time.Second},
		{0.25, 250 * time.Millisecond},
		{1e-9, time.Millisecond},
		{1e10, time.Duration(math.MaxInt64)},
		{math.MaxFloat64, time.Duration(math.MaxInt64)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pulseInterval(tt.pulse), "pulse %v", tt.pulse)
	}
}

func TestHugePulseKeepsAccumulating(t *testing.T) {
	fx := newFixture(t)
	clock := newFakeClock()

	timer, err := fx.factory.GetTimer("huge", 1e10, withClock(clock.Now))
	require.NoError(t, err)

	timer.Start()
	clock.Advance(time.Second)
	timer.End()

	time.Sleep(100 * time.Millisecond)

	count, sum := timer.Pending()
	assert.Equal(t, 1, count)
	assert.Equal(t, 1.0, sum)
	assert.Empty(t, fx.rec.measurements(), "the window must not be flushed early")
}
