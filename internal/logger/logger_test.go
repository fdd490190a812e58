package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Development(t *testing.T) {
	log, err := New(true, "")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if log == nil {
		t.Fatal("expected non-nil logger")
	}

	// Should not panic
	log.Info("test message")
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("development logger should enable debug")
	}
}

func TestNew_Production(t *testing.T) {
	log, err := New(false, "")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("production logger should default to info")
	}
}

func TestNew_Level(t *testing.T) {
	tests := []struct {
		level string
		debug bool
		warn  bool
	}{
		{"debug", true, true},
		{"warn", false, true},
		{"nonsense", false, true},
	}
	for _, tt := range tests {
		log, err := New(false, tt.level)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.level, err)
		}
		if got := log.Core().Enabled(zapcore.DebugLevel); got != tt.debug {
			t.Errorf("level %q: debug enabled = %v, want %v", tt.level, got, tt.debug)
		}
		if got := log.Core().Enabled(zapcore.WarnLevel); got != tt.warn {
			t.Errorf("level %q: warn enabled = %v, want %v", tt.level, got, tt.warn)
		}
	}
}

func TestMust(t *testing.T) {
	// Should not panic
	log := Must(true, "info")
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
}
