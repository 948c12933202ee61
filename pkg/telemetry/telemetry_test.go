package telemetry

import (
	"context"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/stretchr/testify/assert"
)

func TestInit_Disabled(t *testing.T) {
	resetGlobalConfig()
	t.Setenv("OTEL_ENABLED", "")

	ctx := context.Background()
	shutdown, err := Init(ctx)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if shutdown == nil {
		t.Fatal("Expected shutdown function to be non-nil")
	}
	if err := shutdown(ctx); err != nil {
		t.Errorf("Expected no error on shutdown, got %v", err)
	}
	if Enabled() {
		t.Error("Expected Enabled() to return false")
	}
}

func TestStartSpan_Noop(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "merge")
	defer span.End()
	if ctx == nil {
		t.Fatal("Expected context")
	}
}

func TestInjectExtractEnv(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	parent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	env := InjectEnv(parent)
	if len(env) != 1 {
		t.Fatalf("Expected one env entry, got %v", env)
	}
	key, value, _ := strings.Cut(env[0], "=")
	t.Setenv(key, value)

	got := trace.SpanContextFromContext(ExtractEnv(context.Background()))
	if got.TraceID() != traceID {
		t.Errorf("Expected trace id %s, got %s", traceID, got.TraceID())
	}
}

func resetGlobalConfig() {
	globalConfig = nil
	configOnce = sync.Once{}
}

func TestSplitEndpoint(t *testing.T) {
	host, plaintext := splitEndpoint("http://collector:4317")
	assert.Equal(t, "collector:4317", host)
	assert.True(t, plaintext)

	host, plaintext = splitEndpoint("https://otel.example.com")
	assert.Equal(t, "otel.example.com", host)
	assert.False(t, plaintext)

	host, _ = splitEndpoint("collector:4317")
	assert.Equal(t, "collector:4317", host)
}

func TestProcessRole(t *testing.T) {
	assert.Equal(t, "worker", processRole([]string{"worker", "--task", "t.bin"}))
	assert.Equal(t, "main", processRole([]string{"build", "-w", "8"}))
}
