package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-assess/internal/config"
	"github.com/loqalabs/loqa-assess/internal/stt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// Recognition latency buckets in seconds. Exec engines scoring phonemes on a
// long utterance routinely take tens of seconds.
var recognitionBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45}

// assessmentAttributes are the only labels kept on assessment instruments.
// Session and trace ids never reach a metric.
var assessmentAttributes = []attribute.Key{
	stt.AttrOutcome,
	stt.AttrGranularity,
	stt.AttrGradingSystem,
}

// setupTelemetry installs the global trace and meter providers for the
// assessment runtime. The returned handler serves Prometheus metrics and is
// nil when the exporter could not be created.
func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	tracerProvider, err := newTracerProvider(ctx, cfg.Telemetry, res, logger)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(tracerProvider)

	var (
		readers []sdkmetric.Reader
		handler http.Handler
	)
	if exporter, err := prometheus.New(prometheus.WithNamespace("loqa_assess")); err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
	} else {
		readers = append(readers, exporter)
		handler = promhttp.Handler()
	}
	meterProvider := newMeterProvider(res, readers...)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), tracerProvider.Shutdown(ctx))
	}
	return shutdown, handler, nil
}

// newResource identifies this node the same way the capability registry
// announces it.
func newResource(ctx context.Context, cfg config.Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.RuntimeName),
		semconv.ServiceNamespace("loqa"),
		attribute.String("deployment.environment", cfg.Environment),
		attribute.String("loqa.stt.mode", cfg.STT.Mode),
	}
	if cfg.Node.ID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.Node.ID))
	}
	if cfg.STT.Language != "" {
		attrs = append(attrs, attribute.String("loqa.stt.language", cfg.STT.Language))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

// newMeterProvider applies the assessment views to every reader.
func newMeterProvider(res *resource.Resource, readers ...sdkmetric.Reader) *sdkmetric.MeterProvider {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, view := range assessmentViews() {
		opts = append(opts, sdkmetric.WithView(view))
	}
	for _, reader := range readers {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	return sdkmetric.NewMeterProvider(opts...)
}

func assessmentViews() []sdkmetric.View {
	filter := attribute.NewAllowKeysFilter(assessmentAttributes...)
	return []sdkmetric.View{
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: stt.MetricAssessmentResults},
			sdkmetric.Stream{AttributeFilter: filter},
		),
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: stt.MetricRecognitionDuration},
			sdkmetric.Stream{
				Unit:            "s",
				AttributeFilter: filter,
				Aggregation:     sdkmetric.AggregationExplicitBucketHistogram{Boundaries: recognitionBuckets},
			},
		),
	}
}

// newTracerProvider exports to OTLP when an endpoint is set, to stdout when
// asked, and nowhere otherwise.
func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	name := "none"

	switch endpoint := strings.TrimSpace(cfg.OTLPEndpoint); {
	case endpoint != "":
		exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		name = "otlp"
	case cfg.TraceStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		name = "stdout"
	}

	logger.Info("telemetry initialized", slog.String("trace_exporter", name))
	return sdktrace.NewTracerProvider(opts...), nil
}
