package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

// Option configures provider construction in New.
type Option func(*options)

type options struct {
	spanExporter trace.SpanExporter
	metricReader metric.Reader
}

// WithSpanExporter replaces the OTLP span exporter. Spans are exported
// synchronously so callers observe them as soon as they end.
func WithSpanExporter(exp trace.SpanExporter) Option {
	return func(o *options) {
		o.spanExporter = exp
	}
}

// WithMetricReader replaces the periodic OTLP metric reader.
func WithMetricReader(r metric.Reader) Option {
	return func(o *options) {
		o.metricReader = r
	}
}

// newResource creates a resource describing the service.
func newResource(cfg *Config) (*resource.Resource, error) {
	// Standalone resource avoids schema URL conflicts with resource.Default().
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	), nil
}

// newTracerProvider creates a TracerProvider exporting over OTLP unless
// o overrides the exporter.
func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource, o *options) (*trace.TracerProvider, error) {
	exporter := o.spanExporter
	export := trace.WithSyncer(exporter)
	if exporter == nil {
		var err error
		exporter, err = newSpanExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		export = trace.WithBatcher(exporter)
	}

	opts := []trace.TracerProviderOption{export, trace.WithResource(res)}
	sampler := newSampler(cfg.Sampling)
	if cfg.Sampling.AlwaysOnErrors && cfg.Sampling.Rate < 1.0 {
		sampler = recordAllSampler{sampler}
		opts = append(opts, trace.WithSpanProcessor(&errorSpanProcessor{exporter: exporter}))
	}
	opts = append(opts, trace.WithSampler(sampler))
	return trace.NewTracerProvider(opts...), nil
}

func newSpanExporter(ctx context.Context, cfg *Config) (trace.SpanExporter, error) {
	switch cfg.Protocol {
	case ProtocolHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(stripScheme(cfg.Endpoint)),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		} else if cfg.TLSSkipVerify {
			opts = append(opts, otlptracehttp.WithTLSClientConfig(skipVerify()))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else if cfg.TLSSkipVerify {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(skipVerify())))
		}
		return otlptracegrpc.New(ctx, opts...)
	}
}

// newSampler samples root spans at rate and follows the parent otherwise.
func newSampler(cfg SamplingConfig) trace.Sampler {
	var root trace.Sampler
	switch {
	case cfg.Rate >= 1.0:
		root = trace.AlwaysSample()
	case cfg.Rate <= 0:
		root = trace.NeverSample()
	default:
		root = trace.TraceIDRatioBased(cfg.Rate)
	}
	return trace.ParentBased(root)
}

// newMeterProvider creates a MeterProvider, or nil when metrics are off.
func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource, o *options) (*metric.MeterProvider, error) {
	reader := o.metricReader
	if reader == nil {
		if !cfg.Metrics.Enabled {
			return nil, nil
		}
		exporter, err := newMetricExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		reader = metric.NewPeriodicReader(exporter, metric.WithInterval(cfg.Metrics.ExportInterval.Duration()))
	}

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(reader),
	), nil
}

func newMetricExporter(ctx context.Context, cfg *Config) (metric.Exporter, error) {
	// Prometheus-compatible backends need cumulative sums regardless of
	// OTEL_EXPORTER_OTLP_METRICS_TEMPORALITY_PREFERENCE.
	cumulative := func(metric.InstrumentKind) metricdata.Temporality {
		return metricdata.CumulativeTemporality
	}

	switch cfg.Protocol {
	case ProtocolHTTP:
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint)),
			otlpmetrichttp.WithTemporalitySelector(cumulative),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		} else if cfg.TLSSkipVerify {
			opts = append(opts, otlpmetrichttp.WithTLSClientConfig(skipVerify()))
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithTemporalitySelector(cumulative),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		} else if cfg.TLSSkipVerify {
			opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(skipVerify())))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
}

func skipVerify() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicitly requested via tls_skip_verify
}

// stripScheme removes http:// or https:// from an endpoint URL.
// The OTLP exporters expect host:port.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return endpoint
}

// recordAllSampler turns Drop decisions into RecordOnly so that spans which
// end in error can still be exported.
type recordAllSampler struct {
	trace.Sampler
}

func (s recordAllSampler) ShouldSample(p trace.SamplingParameters) trace.SamplingResult {
	res := s.Sampler.ShouldSample(p)
	if res.Decision == trace.Drop {
		res.Decision = trace.RecordOnly
	}
	return res
}

func (s recordAllSampler) Description() string {
	return "RecordAll{" + s.Sampler.Description() + "}"
}

// errorSpanProcessor exports unsampled spans whose status is Error. Sampled
// spans are left to the regular processor.
type errorSpanProcessor struct {
	exporter trace.SpanExporter
}

func (p *errorSpanProcessor) OnStart(context.Context, trace.ReadWriteSpan) {}

func (p *errorSpanProcessor) OnEnd(s trace.ReadOnlySpan) {
	if s.SpanContext().IsSampled() || s.Status().Code != codes.Error {
		return
	}
	_ = p.exporter.ExportSpans(context.Background(), []trace.ReadOnlySpan{s})
}

// Shutdown leaves the shared exporter to the regular processor.
func (p *errorSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *errorSpanProcessor) ForceFlush(context.Context) error { return nil }
