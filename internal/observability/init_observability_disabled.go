//go:build !observability

package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var ErrObservabilityNotCompiledIn = fmt.Errorf("observability is not compiled in")

// Tracer returns the global no-op tracer so callers can record spans
// unconditionally.
func Tracer() trace.Tracer {
	return otel.Tracer("nats-client")
}

func MetricsEnabled() bool {
	return false
}

func TracingEnabled() bool {
	return false
}

func Init(ctx context.Context, cfg Config, l *slog.Logger) (func(context.Context) error, error) {
	if cfg.Metrics.Enabled {
		return nil, ErrObservabilityNotCompiledIn
	}

	if cfg.Tracing.Enabled {
		return nil, ErrObservabilityNotCompiledIn
	}

	return func(ctx context.Context) error {
		return nil
	}, nil
}

func IncMsgsIn()        {}
func IncMsgsOut()       {}
func AddBytesIn(n int)  {}
func AddBytesOut(n int) {}
func IncReconnects()    {}
func IncError(s string) {}
