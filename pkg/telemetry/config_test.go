package telemetry

import (
	"testing"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, k := range []string{"OTEL_ENABLED", "OTEL_SERVICE_NAME", "OTEL_EXPORTER_OTLP_PROTOCOL"} {
			t.Setenv(k, "")
		}
		cfg := LoadFromEnv()

		if cfg.Enabled {
			t.Error("Expected Enabled to be false by default")
		}
		if cfg.ServiceName != "assetgraph" {
			t.Errorf("Expected ServiceName 'assetgraph', got '%s'", cfg.ServiceName)
		}
		if cfg.Protocol != "grpc" {
			t.Errorf("Expected Protocol 'grpc', got '%s'", cfg.Protocol)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("OTEL_ENABLED", "TRUE")
		t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "Authorization=Bearer a=b, x-team=assets")
		t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment=ci")

		cfg := LoadFromEnv()
		if !cfg.Enabled {
			t.Error("Expected Enabled to be true")
		}
		if cfg.Headers["Authorization"] != "Bearer a=b" {
			t.Errorf("unexpected Authorization header %q", cfg.Headers["Authorization"])
		}
		if cfg.Headers["x-team"] != "assets" {
			t.Errorf("unexpected x-team header %q", cfg.Headers["x-team"])
		}
		if cfg.ResourceAttrs["deployment.environment"] != "ci" {
			t.Errorf("unexpected resource attrs %v", cfg.ResourceAttrs)
		}
	})
}

func TestParseKeyValuePairs(t *testing.T) {
	got := parseKeyValuePairs(" a=1 ,=skip, novalue ,b=")
	if len(got) != 2 || got["a"] != "1" || got["b"] != "" {
		t.Errorf("unexpected pairs %v", got)
	}
	if len(parseKeyValuePairs("")) != 0 {
		t.Error("Expected empty map for empty input")
	}
}

func TestParseRatio(t *testing.T) {
	tests := map[string]float64{
		"":     1.0,
		"0.25": 0.25,
		"-1":   0,
		"7":    1.0,
		"abc":  1.0,
	}
	for in, want := range tests {
		if got := parseRatio(in); got != want {
			t.Errorf("parseRatio(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCreateSampler(t *testing.T) {
	for _, name := range []string{"", "always_on", "always_off", "traceidratio",
		"parentbased_always_on", "parentbased_always_off", "parentbased_traceidratio"} {
		if createSampler(&Config{Sampler: name, SamplerArg: "0.5"}) == nil {
			t.Errorf("nil sampler for %q", name)
		}
	}
}
