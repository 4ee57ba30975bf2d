package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/cycletime/pkg/cycletime"
	"github.com/psantana5/cycletime/pkg/logging"
	"github.com/psantana5/cycletime/pkg/reporter"
	"github.com/psantana5/cycletime/pkg/shutdown"
	"github.com/psantana5/cycletime/pkg/tracing"
)

const shutdownTimeout = 15 * time.Second

// app is everything a command needs to time things
type app struct {
	factory    *cycletime.Factory
	prometheus *reporter.Prometheus
	shutdown   *shutdown.Manager
	logger     *logging.Logger
}

// buildReporter assembles the reporter chain described by s
func buildReporter(ctx context.Context, s Settings, reg *prometheus.Registry, tracer *tracing.Provider) (reporter.Reporter, *reporter.Prometheus, error) {
	var (
		chain []reporter.Reporter
		prom  *reporter.Prometheus
	)

	for _, name := range s.Reporters {
		var r reporter.Reporter
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "cloudwatch":
			cw, err := reporter.NewCloudWatch(ctx, reporter.CloudWatchConfig{
				Region:          s.Region,
				AccessKeyID:     s.AccessKey,
				SecretAccessKey: s.SecretKey,
				Namespace:       s.Namespace,
			})
			if err != nil {
				return nil, nil, err
			}
			r = cw
		case "prometheus":
			if prom == nil {
				p, err := reporter.NewPrometheus(reg)
				if err != nil {
					return nil, nil, err
				}
				prom = p
			}
			r = prom
		case "none", "":
			r = reporter.Nop()
		default:
			return nil, nil, fmt.Errorf("unknown reporter %q", name)
		}

		if tracer != nil {
			r = reporter.NewTraced(r, tracer.Tracer(), name)
		}
		chain = append(chain, r)
	}

	var rep reporter.Reporter
	switch len(chain) {
	case 0:
		rep = reporter.Nop()
	case 1:
		rep = chain[0]
	default:
		rep = reporter.Multi(chain)
	}

	if s.MaxReportsPerSecond > 0 {
		rep = reporter.NewLimited(rep, s.MaxReportsPerSecond, 1)
	}

	return rep, prom, nil
}

// newLogger returns a stderr logger, or a file logger named after command when s.LogFile is set
func newLogger(s Settings, command string) (*logging.Logger, error) {
	level := logging.ParseLevel(s.LogLevel)
	jsonFormat := s.LogFormat == "json"
	if !s.LogFile {
		return logging.NewLogger(level, jsonFormat), nil
	}
	return logging.NewFileLoggerIn(s.LogDir, "cycletime", command, level, jsonFormat)
}

// setup builds the logger, tracing, reporters, metrics server and factory from s.
// command names the log file when file logging is on; out receives the console lines.
func setup(ctx context.Context, s Settings, command string, out io.Writer) (*app, error) {
	logger, err := newLogger(s, command)
	if err != nil {
		return nil, err
	}
	mgr := shutdown.New(shutdownTimeout, logger)
	// First registered, last to run: every other step can still log.
	mgr.Register("logger", func(context.Context) error { return logger.Close() })

	if logger.Level() == logging.DEBUG {
		logger.Debug("Effective settings", map[string]interface{}{"settings": s.Masked()})
	}

	var tracer *tracing.Provider
	if s.OTLPEndpoint != "" {
		p, err := tracing.InitTracer(ctx, tracing.Config{
			ServiceName:    "cycletime",
			ServiceVersion: Version,
			OTLPEndpoint:   s.OTLPEndpoint,
			Insecure:       true,
			Enabled:        true,
		}, logger)
		if err != nil {
			mgr.Shutdown()
			return nil, err
		}
		tracer = p
		mgr.Register("tracing", p.Shutdown)
	}

	reg := prometheus.NewRegistry()
	rep, prom, err := buildReporter(ctx, s, reg, tracer)
	if err != nil {
		mgr.Shutdown()
		return nil, err
	}

	if s.MetricsAddr != "" {
		if prom == nil {
			logger.Warn("--metrics-addr given without the prometheus reporter; endpoint will be empty")
		}
		srv := newMetricsServer(s.MetricsAddr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", map[string]interface{}{"error": err.Error()})
			}
		}()
		logger.Info("Serving Prometheus metrics", map[string]interface{}{"addr": s.MetricsAddr})
		mgr.Register("metrics server", shutdown.StopHTTPServer(srv, "metrics"))
	}

	factory, err := cycletime.New(ctx, cycletime.Config{
		Region:    s.Region,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Namespace: s.Namespace,
		Reporter:  rep,
		Logger:    logger,
		Output:    out,
	})
	if err != nil {
		mgr.Shutdown()
		return nil, err
	}
	// Registered last so it runs first: timers flush before tracing and the server stop.
	mgr.Register("timers", factory.Close)

	return &app{
		factory:    factory,
		prometheus: prom,
		shutdown:   mgr,
		logger:     logger,
	}, nil
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
