package observability

import (
	"context"
	"testing"

	"deskify/internal/config"
)

func TestSetupTracingDisabledNoOp(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Monitoring.Tracing.Enabled = false

	shutdown, err := SetupTracing(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected non-nil shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error: %v", err)
	}
}

func TestGrpcTarget(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"http://localhost:4317", "localhost:4317"},
		{"https://otel-collector:4317", "otel-collector:4317"},
		{"127.0.0.1:4317", "127.0.0.1:4317"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := grpcTarget(tt.input); got != tt.expected {
			t.Errorf("grpcTarget(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestSampleRatioClamps(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		expected float64
	}{
		{"negative", -0.1, 0.1},
		{"zero", 0, 0.1},
		{"in range", 0.5, 0.5},
		{"one", 1, 1},
		{"above one", 1.5, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sampleRatio(tt.ratio); got != tt.expected {
				t.Fatalf("sampleRatio(%v) = %v, want %v", tt.ratio, got, tt.expected)
			}
		})
	}
}
