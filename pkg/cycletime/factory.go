package cycletime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/cycletime/pkg/logging"
	"github.com/psantana5/cycletime/pkg/reporter"
)

// DefaultReportTimeout bounds a single detached report
const DefaultReportTimeout = 10 * time.Second

var (
	// ErrInvalidName is returned by GetTimer for an empty timer name
	ErrInvalidName = errors.New("name must be a non-empty string")

	// ErrInvalidPulse is returned by GetTimer for a negative, NaN or infinite pulse
	ErrInvalidPulse = errors.New("pulse must be a non-negative number of seconds")

	// ErrClosed is returned by GetTimer after Close
	ErrClosed = errors.New("factory is closed")
)

// Config is the per-factory configuration
type Config struct {
	// Region, AccessKey, SecretKey and Namespace configure the default CloudWatch reporter.
	// Region defaults to reporter.DefaultRegion.
	Region    string
	AccessKey string
	SecretKey string
	Namespace string

	// Reporter replaces the CloudWatch reporter when set
	Reporter reporter.Reporter

	// Logger defaults to an INFO text logger on stderr
	Logger *logging.Logger

	// Output receives the console cycle lines; defaults to stdout
	Output io.Writer

	// Hostname overrides the host shown in console lines
	Hostname string

	// ReportTimeout bounds each detached report; defaults to DefaultReportTimeout
	ReportTimeout time.Duration

	// OnReportError observes failed reports. The default logs the error.
	OnReportError func(m reporter.Measurement, err error)
}

// Factory hands out timers sharing one reporter configuration
type Factory struct {
	reporter      reporter.Reporter
	logger        *logging.Logger
	printer       *printer
	reportTimeout time.Duration
	onReportError func(reporter.Measurement, error)

	inflight sync.WaitGroup

	mu     sync.Mutex
	timers []*Timer
	// closed refuses new timers; draining refuses new dispatches
	closed   bool
	draining bool
}

// New builds a Factory. Without Config.Reporter a CloudWatch reporter is created,
// which fails only if the AWS configuration cannot be loaded.
func New(ctx context.Context, cfg Config) (*Factory, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}

	rep := cfg.Reporter
	if rep == nil {
		cw, err := reporter.NewCloudWatch(ctx, reporter.CloudWatchConfig{
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			Namespace:       cfg.Namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create CloudWatch reporter: %w", err)
		}
		logger.Debug("CloudWatch reporter ready", map[string]interface{}{
			"region":    cw.Region(),
			"namespace": cw.Namespace(),
		})
		rep = cw
	}

	timeout := cfg.ReportTimeout
	if timeout <= 0 {
		timeout = DefaultReportTimeout
	}

	f := &Factory{
		reporter:      rep,
		logger:        logger,
		printer:       newPrinter(cfg.Output, cfg.Hostname),
		reportTimeout: timeout,
		onReportError: cfg.OnReportError,
	}
	if f.onReportError == nil {
		f.onReportError = f.logReportError
	}

	return f, nil
}

// GetTimer validates name and pulse (seconds, 0 = report every cycle) and returns a Timer.
// Invalid arguments are logged and returned as an error together with a nil Timer;
// every method of a nil Timer is a no-op.
func (f *Factory) GetTimer(name string, pulse float64, opts ...TimerOption) (*Timer, error) {
	if err := validate(name, pulse); err != nil {
		f.logger.Error("Invalid timer", map[string]interface{}{
			"name":  name,
			"pulse": fmt.Sprint(pulse),
			"error": err.Error(),
		})
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	t := newTimer(f, name, pulse, opts...)
	if t.pulse > 0 {
		t.startPulse()
	}
	f.timers = append(f.timers, t)

	f.logger.Debug("Timer created", map[string]interface{}{"timer": name, "pulse": pulse})
	return t, nil
}

func validate(name string, pulse float64) error {
	if name == "" {
		return ErrInvalidName
	}
	if math.IsNaN(pulse) || math.IsInf(pulse, 0) || pulse < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidPulse, pulse)
	}
	return nil
}

// Close stops every pulse loop and waits for in-flight reports or ctx, whichever comes first
func (f *Factory) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	timers := f.timers
	f.timers = nil
	f.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}

	f.mu.Lock()
	f.draining = true
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight reports: %w", ctx.Err())
	}
}

// dispatch hands m to the reporter on a detached goroutine
func (f *Factory) dispatch(m reporter.Measurement) {
	f.mu.Lock()
	if f.draining {
		f.mu.Unlock()
		f.logger.Warn("Factory closed, measurement dropped", map[string]interface{}{
			"metric": m.Name,
			"value":  m.Value,
		})
		return
	}
	f.inflight.Add(1)
	f.mu.Unlock()

	id := uuid.New().String()

	go func() {
		defer f.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), f.reportTimeout)
		defer cancel()

		if err := f.reporter.Report(ctx, m); err != nil {
			f.onReportError(m, err)
			return
		}

		f.logger.Debug("Measurement reported", map[string]interface{}{
			"report_id": id,
			"metric":    m.Name,
			"value":     m.Value,
			"kind":      m.Kind(),
		})
	}()
}

func (f *Factory) logReportError(m reporter.Measurement, err error) {
	serialized, jerr := json.Marshal(struct {
		Message string `json:"message"`
	}{Message: err.Error()})
	if jerr != nil {
		serialized = []byte(err.Error())
	}

	f.logger.Error("Could not upload to CloudWatch: "+string(serialized), map[string]interface{}{
		"metric": m.Name,
		"value":  m.Value,
	})
}
