package logging

import (
	"context"
	"fmt"
	"testing"

	"github.com/vtpt/vtpt-meter/errors"
)

func TestNewLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger := NewLogger(Config{Level: level, Format: "text"})
		if logger == nil || logger.Logger == nil {
			t.Fatalf("NewLogger returned nil for level %q", level)
		}
	}
}

func TestWithComponent(t *testing.T) {
	logger := NewLogger(Config{Level: "debug", Format: "text"})
	child := logger.WithComponent(Component("outbox"))
	if child == nil || child.Logger == nil {
		t.Fatal("WithComponent returned nil logger")
	}
}

func TestLogOperation_PropagatesError(t *testing.T) {
	logger := NewLogger(Config{Level: "error", Format: "text"})
	want := errors.NewNetworkError(errors.OpFlush, fmt.Errorf("down"))

	got := logger.LogOperation(context.Background(), Operation("flush"), Component("outbox"), func() error {
		return want
	})
	if got != want {
		t.Fatalf("LogOperation should return the callback error, got %v", got)
	}

	if err := logger.LogOperation(context.Background(), Operation("flush"), Component("outbox"), func() error {
		return nil
	}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestMeterErrorValuer(t *testing.T) {
	meterErr := errors.NewNetworkError(errors.OpFetch, fmt.Errorf("timeout"))
	meterErr.Metadata = map[string]interface{}{"room": "A1-01"}

	v := MeterErrorValuer{MeterError: meterErr}.LogValue()
	if v.Kind().String() != "Group" {
		t.Fatalf("expected group value, got %s", v.Kind())
	}
}
