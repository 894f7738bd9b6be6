// Package httputil builds the HTTP clients used by the model providers so
// they share one timeout policy and carry trace context.
package httputil

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultProviderTimeout bounds a single provider HTTP request. Run
// deadlines still apply through the request context.
const DefaultProviderTimeout = 120 * time.Second

// NewHTTPClient returns an *http.Client with the given timeout whose
// transport emits client spans and injects the global propagator's headers.
// A non-positive timeout uses DefaultProviderTimeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
