package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bdobrica/butai/common/trace"
)

func TestGenerateID(t *testing.T) {
	a, b := trace.GenerateID(), trace.GenerateID()
	if a == b {
		t.Fatal("expected distinct IDs")
	}
	if !strings.HasPrefix(a, "t_") || len(a) != 34 {
		t.Errorf("unexpected ID shape %q", a)
	}
}

func TestEnsureKeepsExistingID(t *testing.T) {
	ctx := trace.WithTraceID(context.Background(), "t_fixed")
	if got := trace.FromContext(trace.Ensure(ctx)); got != "t_fixed" {
		t.Errorf("expected t_fixed, got %q", got)
	}
	if got := trace.FromContext(trace.Ensure(context.Background())); got == "" {
		t.Error("expected a generated ID")
	}
}
