package logging

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"
)

// TestLineFormat verifies the full line format including the UTC timestamp
func TestLineFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("test", &buf)

	logger.Info("Test message")

	output := buf.String()
	// Format: 2026-08-29T03:00:01Z [test] INFO Test message
	pattern := `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z \[test\] INFO Test message\n$`
	matched, err := regexp.MatchString(pattern, output)
	if err != nil {
		t.Fatalf("Regex error: %v", err)
	}
	if !matched {
		t.Errorf("Output %q doesn't match expected format (pattern: %s)", output, pattern)
	}
}

func TestSourceTagInBrackets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("casesync", &buf)

	logger.Info("Sync started")

	if !strings.Contains(buf.String(), "[casesync]") {
		t.Errorf("Source tag [casesync] not found in output: %s", buf.String())
	}
}

func TestDifferentLogLevels(t *testing.T) {
	tests := []struct {
		levelStr string
		logFunc  func(*slog.Logger, string)
	}{
		{"DEBUG", func(l *slog.Logger, m string) { l.Debug(m) }},
		{"INFO", func(l *slog.Logger, m string) { l.Info(m) }},
		{"WARN", func(l *slog.Logger, m string) { l.Warn(m) }},
		{"ERROR", func(l *slog.Logger, m string) { l.Error(m) }},
	}

	for _, tt := range tests {
		t.Run(tt.levelStr, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithLevel("test", &buf, slog.LevelDebug)

			tt.logFunc(logger, "Test")

			if !strings.Contains(buf.String(), tt.levelStr) {
				t.Errorf("Level %s not found in output: %s", tt.levelStr, buf.String())
			}
		})
	}
}

func TestMessageWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("test", &buf)

	logger.Info("Batch complete", "created", 12, "procedure", 3051)

	output := buf.String()
	if !strings.Contains(output, "created=12") {
		t.Errorf("Attribute created=12 not found in output: %s", output)
	}
	if !strings.Contains(output, "procedure=3051") {
		t.Errorf("Attribute procedure=3051 not found in output: %s", output)
	}
}

func TestPreboundAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("test", &buf).With("stage", "cases")

	logger.Info("Checkpoint saved")

	if !strings.Contains(buf.String(), "stage=cases") {
		t.Errorf("Prebound attribute stage=cases not found in output: %s", buf.String())
	}
}

func TestInitSetsDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("myservice", &buf)

	slog.Info("Test message from default logger")

	output := buf.String()
	if !strings.Contains(output, "Test message from default logger") {
		t.Errorf("Message not found in output: %s", output)
	}
	if !strings.Contains(output, "[myservice]") {
		t.Errorf("Source tag [myservice] not found in output: %s", output)
	}
}

func TestDefaultLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("test", &buf)

	logger.Debug("Debug message")
	if buf.Len() > 0 {
		t.Errorf("DEBUG message should be filtered at INFO level, got: %s", buf.String())
	}

	logger.Info("Info message")
	if buf.Len() == 0 {
		t.Error("INFO message should be logged at INFO level")
	}
}

func TestElapsed(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)

	got := Elapsed(start)
	if got != "1m30s" {
		t.Errorf("Elapsed() = %q, want 1m30s", got)
	}
}
