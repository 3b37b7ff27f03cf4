// Package instrumentation provides OpenTelemetry tracing and metrics for the
// client library. Traces export via OTLP and metrics via a Prometheus reader.
// Everything degrades to no-ops when Init is never called, so library users
// who don't care about observability pay nothing.
package instrumentation

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
)

const (
	ServiceName    = "requests-pro"
	ServiceVersion = "1.0.0"
)

var (
	tracer trace.Tracer = otel.Tracer(ServiceName)
	meter  metric.Meter = otel.Meter(ServiceName)

	// Metrics
	requestCounter   metric.Int64Counter
	requestDuration  metric.Float64Histogram
	activeRequests   metric.Int64UpDownCounter
	retryCounter     metric.Int64Counter
	redirectCounter  metric.Int64Counter
	rotationCounter  metric.Int64Counter
	errorCounter     metric.Int64Counter
)

// Config holds instrumentation configuration.
type Config struct {
	// OTLPEndpoint is the OTLP trace exporter endpoint (e.g. "localhost:4318").
	OTLPEndpoint string
	// Environment is the deployment environment (e.g. "production").
	Environment string
	// SampleRate is the trace sampling rate (0.0 to 1.0), applied in
	// production environments only.
	SampleRate float64
	// MetricsEnabled enables the Prometheus metrics reader.
	MetricsEnabled bool
}

// DefaultConfig returns configuration derived from the environment.
func DefaultConfig() Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	sampleRate := 1.0
	if env == "production" || env == "prod" {
		sampleRate = 0.1
	}

	return Config{
		OTLPEndpoint:   getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		Environment:    env,
		SampleRate:     sampleRate,
		MetricsEnabled: os.Getenv("METRICS_ENABLED") != "false",
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Init initializes OpenTelemetry tracing and metrics. The returned function
// flushes and shuts the providers down.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		klog.Warningf("Failed to create OTLP trace exporter: %v, continuing without tracing", err)
		traceExporter = nil
	}

	var sampler sdktrace.Sampler
	if cfg.Environment == "production" || cfg.Environment == "prod" {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	} else {
		sampler = sdktrace.AlwaysSample()
	}

	var tracerProvider *sdktrace.TracerProvider
	if traceExporter != nil {
		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.NeverSample()),
		)
	}
	otel.SetTracerProvider(tracerProvider)
	tracer = otel.Tracer(ServiceName)

	var meterProvider *sdkmetric.MeterProvider
	if cfg.MetricsEnabled {
		promExporter, err := prometheus.New()
		if err != nil {
			klog.Warningf("Failed to create Prometheus exporter: %v, continuing without metrics", err)
		} else {
			meterProvider = sdkmetric.NewMeterProvider(
				sdkmetric.WithReader(promExporter),
				sdkmetric.WithResource(res),
			)
			otel.SetMeterProvider(meterProvider)
		}
	}
	meter = otel.Meter(ServiceName)

	if err := initMetrics(); err != nil {
		return nil, err
	}

	klog.Infof("OpenTelemetry initialized: env=%s, sample_rate=%.2f, metrics=%v",
		cfg.Environment, cfg.SampleRate, cfg.MetricsEnabled)

	return func(ctx context.Context) error {
		var errs []error
		if err := tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if meterProvider != nil {
			if err := meterProvider.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return errs[0]
		}
		return nil
	}, nil
}

func initMetrics() error {
	var err error

	requestCounter, err = meter.Int64Counter(
		"requestspro.requests.total",
		metric.WithDescription("Total outbound requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	requestDuration, err = meter.Float64Histogram(
		"requestspro.request.duration",
		metric.WithDescription("Request duration in milliseconds, one record per attempt"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	activeRequests, err = meter.Int64UpDownCounter(
		"requestspro.requests.active",
		metric.WithDescription("Requests currently in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	retryCounter, err = meter.Int64Counter(
		"requestspro.retries.total",
		metric.WithDescription("Retries performed by the middleware pipeline"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return err
	}

	redirectCounter, err = meter.Int64Counter(
		"requestspro.redirects.total",
		metric.WithDescription("Redirect hops followed by the middleware pipeline"),
		metric.WithUnit("{redirect}"),
	)
	if err != nil {
		return err
	}

	rotationCounter, err = meter.Int64Counter(
		"requestspro.proxy.rotations",
		metric.WithDescription("Proxy rotations performed on sessions"),
		metric.WithUnit("{rotation}"),
	)
	if err != nil {
		return err
	}

	errorCounter, err = meter.Int64Counter(
		"requestspro.errors.total",
		metric.WithDescription("Errors surfaced to callers"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Tracer returns the global tracer.
func Tracer() trace.Tracer { return tracer }

// Meter returns the global meter.
func Meter() metric.Meter { return meter }

// RequestTracer traces one outbound request attempt.
type RequestTracer struct {
	ctx       context.Context
	span      trace.Span
	startTime time.Time
	method    string
	url       string
}

// StartRequest starts tracing an outbound request attempt.
func StartRequest(ctx context.Context, method, url string) *RequestTracer {
	ctx, span := tracer.Start(ctx, "requestspro.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLFull(url),
		),
	)

	if activeRequests != nil {
		activeRequests.Add(ctx, 1)
	}

	return &RequestTracer{
		ctx:       ctx,
		span:      span,
		startTime: time.Now(),
		method:    method,
		url:       url,
	}
}

// End completes the attempt trace.
func (rt *RequestTracer) End(statusCode int, err error) {
	duration := time.Since(rt.startTime).Milliseconds()

	if rt.span != nil {
		rt.span.SetAttributes(
			semconv.HTTPResponseStatusCode(statusCode),
			attribute.Int64("http.duration_ms", duration),
		)
		if err != nil {
			rt.span.RecordError(err)
			rt.span.SetStatus(codes.Error, err.Error())
		} else if statusCode >= 400 {
			rt.span.SetStatus(codes.Error, http.StatusText(statusCode))
		} else {
			rt.span.SetStatus(codes.Ok, "")
		}
		rt.span.End()
	}

	ctx := rt.ctx
	attrs := []attribute.KeyValue{
		attribute.String("method", rt.method),
		attribute.Int("status_code", statusCode),
		attribute.Bool("success", err == nil && statusCode < 400),
	}

	if requestCounter != nil {
		requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if requestDuration != nil {
		requestDuration.Record(ctx, float64(duration), metric.WithAttributes(attrs...))
	}
	if activeRequests != nil {
		activeRequests.Add(ctx, -1)
	}
	if err != nil && errorCounter != nil {
		errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error_type", "request"),
		))
	}
}

// Context returns the span context.
func (rt *RequestTracer) Context() context.Context { return rt.ctx }

// RecordRetry records one retry decision made by the pipeline.
func RecordRetry(ctx context.Context, reason string, attempt int) {
	if retryCounter != nil {
		retryCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", reason),
			attribute.Int("attempt", attempt),
		))
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("retry",
			trace.WithAttributes(
				attribute.String("reason", reason),
				attribute.Int("attempt", attempt),
			),
		)
	}
}

// RecordRedirect records one followed redirect hop.
func RecordRedirect(ctx context.Context, statusCode int, location string) {
	if redirectCounter != nil {
		redirectCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("status_code", statusCode),
		))
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("redirect",
			trace.WithAttributes(
				attribute.Int("status_code", statusCode),
				attribute.String("location", location),
			),
		)
	}
}

// RecordProxyRotation records a proxy rotation on a session.
func RecordProxyRotation(ctx context.Context) {
	if rotationCounter != nil {
		rotationCounter.Add(ctx, 1)
	}
}

// RecordError records an error event.
func RecordError(ctx context.Context, errorType string, err error) {
	if errorCounter != nil {
		errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error_type", errorType),
		))
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err,
			trace.WithAttributes(
				attribute.String("error_type", errorType),
			),
		)
	}
}
