// Package otel wires pane-expect runs to an OTLP/HTTP collector.
//
// Each script run becomes a trace (one span per step) and every session
// reports expect outcomes and transport traffic as metrics. Without an
// endpoint the providers are no-ops and nothing leaves the process.
package otel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "pane-expect"

	// ScriptTracerName is the instrumentation scope of script and step spans.
	ScriptTracerName = "pane-expect/script"

	// DefaultInterval is how often metrics are pushed during a run.
	DefaultInterval = 15 * time.Second
)

// Settings selects where telemetry goes.
type Settings struct {
	Endpoint string        // collector base URL; /v1/traces and /v1/metrics are appended
	Headers  string        // "k=v,k2=v2", as in OTEL_EXPORTER_OTLP_HEADERS
	Interval time.Duration // metric push interval; 0 means DefaultInterval
	Version  string        // service.version resource attribute
}

// Telemetry is the set of providers for one pane-expect process.
type Telemetry struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	// ScriptTracer records script and step spans.
	ScriptTracer trace.Tracer
	// Metrics is handed to sessions as their expect.Observer.
	Metrics *Metrics
}

// Init builds the providers described by s. With no endpoint it returns
// no-op instruments that are still safe to use.
func Init(ctx context.Context, s Settings) (*Telemetry, error) {
	t := &Telemetry{}
	if s.Endpoint == "" {
		t.ScriptTracer = otel.GetTracerProvider().Tracer(ScriptTracerName)
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("otel metrics: %w", err)
		}
		t.Metrics = m
		return t, nil
	}

	ep, err := parseEndpoint(s.Endpoint)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, s.Version)
	if err != nil {
		return nil, err
	}
	headers := parseHeaders(s.Headers)

	traceExp, err := otlptracehttp.New(ctx, ep.traceOptions(headers)...)
	if err != nil {
		return nil, fmt.Errorf("otel trace exporter: %w", err)
	}
	metricExp, err := otlpmetrichttp.New(ctx, ep.metricOptions(headers)...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return nil, fmt.Errorf("otel metric exporter: %w", err)
	}

	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	t.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	t.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)

	t.ScriptTracer = t.tp.Tracer(ScriptTracerName)
	t.Metrics, err = NewMetrics(t.mp)
	if err != nil {
		t.Shutdown(ctx)
		return nil, fmt.Errorf("otel metrics: %w", err)
	}
	return t, nil
}

// Shutdown exports whatever is still batched and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t == nil {
		return
	}
	if t.tp != nil {
		_ = t.tp.Shutdown(ctx)
	}
	if t.mp != nil {
		_ = t.mp.Shutdown(ctx)
	}
}

func newResource(ctx context.Context, version string) (*resource.Resource, error) {
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	return res, nil
}

// endpoint is a collector URL split the way the HTTP exporters want it.
type endpoint struct {
	host     string // host:port
	basePath string // without trailing slash
	insecure bool
}

func parseEndpoint(raw string) (endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("otel: invalid endpoint URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return endpoint{}, fmt.Errorf("otel: endpoint %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return endpoint{}, fmt.Errorf("otel: endpoint %q: missing host", raw)
	}
	return endpoint{
		host:     u.Host,
		basePath: strings.TrimRight(u.Path, "/"),
		insecure: u.Scheme == "http",
	}, nil
}

func (e endpoint) traceOptions(headers map[string]string) []otlptracehttp.Option {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(e.host),
		otlptracehttp.WithURLPath(e.basePath + "/v1/traces"),
	}
	if e.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}
	return opts
}

func (e endpoint) metricOptions(headers map[string]string) []otlpmetrichttp.Option {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(e.host),
		otlpmetrichttp.WithURLPath(e.basePath + "/v1/metrics"),
	}
	if e.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(headers))
	}
	return opts
}

// parseHeaders reads "k=v,k2=v2". Pairs without a key are dropped.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers
}
