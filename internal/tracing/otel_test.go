package tracing

import (
	"bytes"
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanSetsTraceID(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName: "toolflow-test",
		SampleRatio: 1,
		Processors:  []sdktrace.SpanProcessor{recorder},
	})
	if err != nil {
		t.Fatalf("InitProvider failed: %v", err)
	}
	defer shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "test.span", attribute.String("tool", "weather"))
	span.End()

	if !span.SpanContext().IsValid() {
		t.Fatal("Expected a valid span context")
	}
	if GetTraceID(ctx) != span.SpanContext().TraceID().String() {
		t.Error("Trace ID not taken from span")
	}

	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Name() != "test.span" {
		t.Fatalf("Expected one ended test.span, got %d", len(ended))
	}
}

func TestStartSpanKeepsExistingTraceID(t *testing.T) {
	ctx, span := StartSpan(WithTraceID(context.Background(), "trace-fixed"), "test.span")
	defer span.End()

	if GetTraceID(ctx) != "trace-fixed" {
		t.Error("Existing trace ID should be kept")
	}
}

func TestInitProviderStdoutExporter(t *testing.T) {
	var out bytes.Buffer
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName: "toolflow-test",
		Exporter:    ExporterStdout,
		SampleRatio: 1,
		Output:      &out,
	})
	if err != nil {
		t.Fatalf("InitProvider failed: %v", err)
	}

	_, span := StartSpan(context.Background(), "exported.span")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("exported.span")) {
		t.Errorf("Expected span in exporter output, got %q", out.String())
	}
}

func TestInitProviderErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  ProviderConfig
	}{
		{"unknown exporter", ProviderConfig{Exporter: "zipkin"}},
		{"otlp without endpoint", ProviderConfig{Exporter: ExporterOTLP}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := InitProvider(context.Background(), tt.cfg); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
