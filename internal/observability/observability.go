//go:build observability

package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsEnabled atomic.Bool
	tracingEnabled atomic.Bool

	defaultTracer trace.Tracer

	msgsInTotal     prometheus.Counter
	msgsOutTotal    prometheus.Counter
	bytesInTotal    prometheus.Counter
	bytesOutTotal   prometheus.Counter
	reconnectsTotal prometheus.Counter
	errorsTotal     *prometheus.CounterVec

	httpSrv *http.Server
)

func MetricsEnabled() bool {
	return metricsEnabled.Load()
}

func TracingEnabled() bool {
	return tracingEnabled.Load()
}

func Tracer() trace.Tracer {
	if defaultTracer != nil {
		return defaultTracer
	}
	return otel.Tracer("nats-client")
}

func Init(ctx context.Context, cfg Config, l *slog.Logger) (func(context.Context) error, error) {
	shutdownFns := []func(context.Context) error{}

	if cfg.Metrics.Enabled {
		metricsEnabled.Store(true)
		msgsInTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nats_client_msgs_in_total",
			Help: "Messages received from the server",
		})
		msgsOutTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nats_client_msgs_out_total",
			Help: "Messages published to the server",
		})
		bytesInTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nats_client_bytes_in_total",
			Help: "Bytes read from the socket",
		})
		bytesOutTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nats_client_bytes_out_total",
			Help: "Bytes flushed to the socket",
		})
		reconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nats_client_reconnects_total",
			Help: "Completed reconnect cycles",
		})
		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nats_client_errors_total",
			Help: "Errors by stage",
		}, []string{"stage"})
		prometheus.MustRegister(msgsInTotal, msgsOutTotal, bytesInTotal, bytesOutTotal, reconnectsTotal, errorsTotal)

		mux := http.NewServeMux()
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, promhttp.Handler())
		httpSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				l.Error("metrics http server", "err", err)
			}
		}()
		l.Info("metrics server started", "addr", cfg.Metrics.Addr)
		shutdownFns = append(shutdownFns, func(ctx context.Context) error { return httpSrv.Shutdown(ctx) })
	}

	if cfg.Tracing.Enabled {
		tracingEnabled.Store(true)
		var opts []otlptracegrpc.Option
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Tracing.OTLPEndpoint))
		if cfg.Tracing.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			l.Error("init otlp exporter", "err", err)
		} else {
			sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))
			res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
				"",
				attribute.String("service.name", cfg.Tracing.Resource.ServiceName),
				attribute.String("service.version", cfg.Tracing.Resource.ServiceVersion),
				attribute.String("deployment.environment", cfg.Tracing.Resource.Environment),
			))
			tp := sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(exp),
				sdktrace.WithSampler(sampler),
				sdktrace.WithResource(res),
			)
			otel.SetTracerProvider(tp)
			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
			defaultTracer = tp.Tracer("nats-client")
			shutdownFns = append(shutdownFns, func(ctx context.Context) error { return tp.Shutdown(ctx) })
		}
	}

	return func(ctx context.Context) error {
		for i := len(shutdownFns) - 1; i >= 0; i-- {
			_ = shutdownFns[i](ctx)
		}
		return nil
	}, nil
}

func IncMsgsIn() {
	if metricsEnabled.Load() {
		msgsInTotal.Inc()
	}
}

func IncMsgsOut() {
	if metricsEnabled.Load() {
		msgsOutTotal.Inc()
	}
}

func AddBytesIn(n int) {
	if metricsEnabled.Load() {
		bytesInTotal.Add(float64(n))
	}
}

func AddBytesOut(n int) {
	if metricsEnabled.Load() {
		bytesOutTotal.Add(float64(n))
	}
}

func IncReconnects() {
	if metricsEnabled.Load() {
		reconnectsTotal.Inc()
	}
}

func IncError(stage string) {
	if metricsEnabled.Load() {
		errorsTotal.WithLabelValues(stage).Inc()
	}
}
