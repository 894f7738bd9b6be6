package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const readHeaderTimeout = 10 * time.Second

// Exporter serves lev metrics over HTTP for the lifetime of a suite run.
type Exporter struct {
	registry *prometheus.Registry
	server   *http.Server
	listener net.Listener
	done     chan error

	mu     sync.Mutex
	closed bool
}

// ExporterOption configures Serve.
type ExporterOption func(*exporterConfig)

type exporterConfig struct {
	suite   string
	runtime bool
}

// WithSuiteLabel adds a constant suite label to every lev metric.
func WithSuiteLabel(suite string) ExporterOption {
	return func(c *exporterConfig) { c.suite = suite }
}

// WithoutRuntimeMetrics leaves out the Go and process collectors.
func WithoutRuntimeMetrics() ExporterOption {
	return func(c *exporterConfig) { c.runtime = false }
}

// Serve registers the lev collectors on a fresh registry and serves them at
// /metrics on addr, with a liveness probe at /healthz. It returns once the
// listener is bound; serving continues in the background until Shutdown.
func Serve(addr string, opts ...ExporterOption) (*Exporter, error) {
	cfg := exporterConfig{runtime: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	reg := prometheus.NewRegistry()
	var target prometheus.Registerer = reg
	if cfg.suite != "" {
		target = prometheus.WrapRegistererWith(prometheus.Labels{"suite": cfg.suite}, reg)
	}
	if err := Register(target); err != nil {
		return nil, err
	}
	if cfg.runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          reg,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	e := &Exporter{
		registry: reg,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout},
		listener: ln,
		done:     make(chan error, 1),
	}
	go func() { e.done <- e.server.Serve(ln) }()
	return e, nil
}

// Addr returns the bound address, which differs from the requested one when
// port 0 was asked for.
func (e *Exporter) Addr() string {
	return e.listener.Addr().String()
}

// Gather returns the current metric families.
func (e *Exporter) Gather() ([]*dto.MetricFamily, error) {
	return e.registry.Gather()
}

// Shutdown stops serving. Calling it more than once is a no-op.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.server.Shutdown(ctx); err != nil {
		return err
	}
	if err := <-e.done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
