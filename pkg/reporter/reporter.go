package reporter

import (
	"context"
	"errors"
	"time"
)

// UnitSeconds is the only unit cycletimes are reported in
const UnitSeconds = "Seconds"

var (
	// ErrRateLimited is returned by Limited when a measurement exceeds the budget and was dropped
	ErrRateLimited = errors.New("report dropped: rate limit exceeded")

	// ErrEmptyMetricName is returned when a measurement carries no name
	ErrEmptyMetricName = errors.New("metric name must not be empty")
)

// Measurement is one named value headed for a metrics backend
type Measurement struct {
	Name      string
	Value     float64
	Unit      string
	Timestamp time.Time
	// Average is true when Value is the mean of a pulse window
	Average bool
}

// Kind returns "average" or "single", used as a label by backends that support one
func (m Measurement) Kind() string {
	if m.Average {
		return "average"
	}
	return "single"
}

// Reporter delivers one measurement to a metrics backend
type Reporter interface {
	Report(ctx context.Context, m Measurement) error
}

// Func adapts a function to Reporter
type Func func(ctx context.Context, m Measurement) error

// Report calls f
func (f Func) Report(ctx context.Context, m Measurement) error {
	return f(ctx, m)
}

type nop struct{}

func (nop) Report(context.Context, Measurement) error { return nil }

// Nop returns a Reporter that discards every measurement
func Nop() Reporter { return nop{} }
