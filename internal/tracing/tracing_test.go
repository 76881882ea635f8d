package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func shutdown(t *testing.T, p *Provider) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	// Invalid fields are ignored while disabled
	provider, err := NewProvider(Config{Enabled: false, SamplingRate: 7})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got %v", err)
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}
	if provider.Tracer("orbit") == nil {
		t.Error("disabled provider should still hand out a tracer")
	}
	shutdown(t, provider)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"missing service name", Config{Enabled: true, SamplingRate: 0.1}, ErrMissingServiceName},
		{"negative sampling rate", Config{Enabled: true, ServiceName: "orbit-api", SamplingRate: -0.1}, ErrInvalidSamplingRate},
		{"sampling rate above one", Config{Enabled: true, ServiceName: "orbit-api", SamplingRate: 1.5}, ErrInvalidSamplingRate},
		{"unsupported exporter", Config{Enabled: true, ServiceName: "orbit-api", ExporterType: "zipkin"}, ErrUnsupportedExporter},
		{"default exporter", Config{Enabled: true, ServiceName: "orbit-api"}, nil},
		{"grpc exporter", Config{Enabled: true, ServiceName: "orbit-api", ExporterType: ExporterOTLPGRPC, SamplingRate: 1}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if _, err := NewProvider(tt.cfg); !errors.Is(err, tt.wantErr) {
					t.Errorf("NewProvider() = %v, want %v", err, tt.wantErr)
				}
			}
		})
	}
}

func TestNewProvider_OTLPExporters(t *testing.T) {
	tests := []struct {
		name         string
		exporterType string
		endpoint     string
	}{
		{"otlp-http", ExporterOTLPHTTP, "localhost:4318"},
		{"otlp-grpc", ExporterOTLPGRPC, "localhost:4317"},
		{"default", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(Config{
				ServiceName:  "orbit-api",
				Enabled:      true,
				Environment:  "test",
				ExporterType: tt.exporterType,
				OTLPEndpoint: tt.endpoint,
				SamplingRate: 0.1,
				InsecureMode: true,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !provider.IsEnabled() {
				t.Error("expected tracing to be enabled")
			}
			shutdown(t, provider)
		})
	}
}

func TestProvider_ExportsWithServiceResource(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider, err := NewProvider(Config{
		ServiceName:  "orbit-api",
		Enabled:      true,
		Environment:  "test",
		SamplingRate: 1,
		Exporter:     exporter,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, span := provider.Tracer(TracerName).Start(context.Background(), "ingest")
	span.End()

	// Shutdown flushes the batcher into the exporter
	shutdown(t, provider)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 exported span, got %d", len(spans))
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["service.name"] != "orbit-api" {
		t.Errorf("service.name = %q", attrs["service.name"])
	}
	if attrs["service.version"] != ServiceVersion {
		t.Errorf("service.version = %q", attrs["service.version"])
	}
	if attrs["environment"] != "test" {
		t.Errorf("environment = %q", attrs["environment"])
	}
}

func TestNewSampler(t *testing.T) {
	sampledParent := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    trace.TraceID{1},
			SpanID:     trace.SpanID{1},
			TraceFlags: trace.FlagsSampled,
		}))

	tests := []struct {
		name string
		rate float64
		ctx  context.Context
		want sdktrace.SamplingDecision
	}{
		{"always", 1, context.Background(), sdktrace.RecordAndSample},
		{"never", 0, context.Background(), sdktrace.Drop},
		{"never but sampled parent", 0, sampledParent, sdktrace.RecordAndSample},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newSampler(tt.rate).ShouldSample(sdktrace.SamplingParameters{
				ParentContext: tt.ctx,
				TraceID:       trace.TraceID{2},
				Name:          "span",
			})
			if res.Decision != tt.want {
				t.Errorf("decision = %v, want %v", res.Decision, tt.want)
			}
		})
	}
}

func TestProvider_Shutdown_Nil(t *testing.T) {
	shutdown(t, &Provider{})
}
