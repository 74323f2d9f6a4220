package logging

import (
	"context"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if logger := New(level, "json"); logger == nil {
			t.Fatalf("New(%q) returned nil", level)
		}
	}
}

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationID(ctx); got != "" {
		t.Fatalf("expected empty correlation id, got %q", got)
	}

	ctx = WithCorrelationID(ctx, "corr_abc123")
	if got := CorrelationID(ctx); got != "corr_abc123" {
		t.Fatalf("expected corr_abc123, got %q", got)
	}
}

func TestL_AttachesCorrelationID(t *testing.T) {
	logger := New("info", "text")
	ctx := WithLogger(context.Background(), logger)
	ctx = WithCorrelationID(ctx, "corr_xyz")

	// L must not return nil and must not panic when logging.
	l := L(ctx)
	if l == nil {
		t.Fatal("L returned nil")
	}
	l.Info("test message")
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext returned nil for empty context")
	}
}
