package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "nil config", config: nil},
		{name: "debug level", config: &Config{Level: LevelDebug, Output: &bytes.Buffer{}}},
		{name: "error level", config: &Config{Level: LevelError, Output: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("expected no output below the configured level, got: %s", buf.String())
	}

	logger.Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message in output, got: %s", buf.String())
	}
}

func TestLoggerArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("task created", "id", 7, "priority", 5)
	output := buf.String()
	if !strings.Contains(output, "id=7") || !strings.Contains(output, "priority=5") {
		t.Errorf("expected key=value pairs in output, got: %s", output)
	}
}

func TestLoggerPrintf(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Errorf("mutex %d: owner task %d not found", 3, 12)
	output := buf.String()
	if !strings.Contains(output, "mutex 3: owner task 12 not found") {
		t.Errorf("expected formatted message in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") || !strings.Contains(output, "key=value") {
		t.Errorf("expected debug message and key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
