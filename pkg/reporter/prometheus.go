package reporter

import (
	"bytes"
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Default histogram buckets for cycletimes (in seconds).
var defaultBuckets = []float64{
	.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60,
}

// Prometheus records measurements into local collectors for scraping
type Prometheus struct {
	last     *prometheus.GaugeVec
	observed *prometheus.HistogramVec
	reports  *prometheus.CounterVec
	gatherer prometheus.Gatherer
}

// NewPrometheus registers the cycletime collectors on reg. When reg is also a
// Gatherer (a *prometheus.Registry is both) WriteText can render it.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		last: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cycletime_last_seconds",
				Help: "Most recently reported cycletime per timer",
			},
			[]string{"timer", "kind"},
		),
		observed: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cycletime_seconds",
				Help:    "Distribution of reported cycletimes",
				Buckets: defaultBuckets,
			},
			[]string{"timer", "kind"},
		),
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cycletime_reports_total",
				Help: "Total measurements reported per timer",
			},
			[]string{"timer", "kind"},
		),
	}

	for _, c := range []prometheus.Collector{p.last, p.observed, p.reports} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register cycletime collector: %w", err)
		}
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		p.gatherer = g
	}

	return p, nil
}

// Report records m
func (p *Prometheus) Report(_ context.Context, m Measurement) error {
	if m.Name == "" {
		return ErrEmptyMetricName
	}

	kind := m.Kind()
	p.last.WithLabelValues(m.Name, kind).Set(m.Value)
	p.observed.WithLabelValues(m.Name, kind).Observe(m.Value)
	p.reports.WithLabelValues(m.Name, kind).Inc()
	return nil
}

// WriteText renders every gathered metric family in the text exposition format
func (p *Prometheus) WriteText() (string, error) {
	if p.gatherer == nil {
		return "", fmt.Errorf("registerer is not a gatherer")
	}

	mfs, err := p.gatherer.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range mfs {
		if err := encoder.Encode(mf); err != nil {
			return "", fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}
