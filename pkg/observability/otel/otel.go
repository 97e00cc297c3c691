// Package otelobs wires OpenTelemetry trace and metric export for the
// HTTP surfaces. Export stays disabled unless OTEL_EXPORTER_OTLP_ENDPOINT
// is set, so local runs need no collector.
package otelobs

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"l1sentry/shared/logging"
)

var log = logging.New("otel")

// Init configures OTLP HTTP exporters for traces and metrics and returns
// a shutdown func. Without an endpoint both providers stay unset and the
// returned func is a no-op.
func Init(serviceName string) func(context.Context) error {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		log.WithField("service", serviceName).Debug("no OTLP endpoint, telemetry export disabled")
		return func(context.Context) error { return nil }
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		log.WithError(err).Warn("otel resource init failed")
	}

	var shutdowns []func(context.Context) error

	traceExp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		log.WithError(err).Warn("otel trace exporter init failed")
	} else {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	metricExp, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		log.WithError(err).Warn("otel metric exporter init failed")
	} else {
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(60*time.Second))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	log.WithFields(logrus.Fields{"service": serviceName, "endpoint": endpoint}).Info("otel export enabled")
	return func(ctx context.Context) error {
		var firstErr error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}

// WrapHTTPHandler decorates a handler with otelhttp server spans.
func WrapHTTPHandler(serviceName string, h http.Handler) http.Handler {
	return otelhttp.NewHandler(h, serviceName)
}

// WrapHTTPTransport decorates a client transport so outbound requests
// carry W3C trace context.
func WrapHTTPTransport(t http.RoundTripper) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	return otelhttp.NewTransport(t)
}

// AccessLog emits one structured line per request, with trace correlation
// when a span is active. Correlation ids are mirrored into the Trace-Id
// and Span-Id response headers before the handler writes.
func AccessLog(next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		fields := logrus.Fields{"method": r.Method, "path": r.URL.Path}
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
			sr.Header().Set("Trace-Id", sc.TraceID().String())
			sr.Header().Set("Span-Id", sc.SpanID().String())
		}

		next.ServeHTTP(sr, r)

		fields["status"] = sr.status
		fields["duration_ms"] = time.Since(start).Milliseconds()
		log.WithFields(fields).Info("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}
