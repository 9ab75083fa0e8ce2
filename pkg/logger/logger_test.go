package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestInitAndGet(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	l := Get()
	if l == nil {
		t.Fatal("Get returned nil after Init")
	}

	// Must not panic.
	ctx := context.Background()
	l.Info(ctx, "info message", String("k", "v"))
	l.Debug(ctx, "debug message", Int("n", 1))
	l.Warn(ctx, "warn message", Bool("b", true))
	l.Error(ctx, "error message", Error(nil))
}

func TestNamed(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	child := Named("engine")
	if child == nil {
		t.Fatal("Named returned nil")
	}
	child.Info(context.Background(), "from child")
}

func TestSetLevelString(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}

	for _, c := range cases {
		err := SetLevelString(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("SetLevelString(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("SetLevelString(%q): unexpected error %v", c.in, err)
		}
		if got := levelVar.Level(); got != c.want {
			t.Errorf("SetLevelString(%q): level = %v, want %v", c.in, got, c.want)
		}
	}
}
