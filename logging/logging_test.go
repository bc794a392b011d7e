package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	// Debug should be filtered
	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("log should contain INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestLogger_WithComponentSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	root := New()
	child := root.WithComponent("mongod")
	root.SetOutput(&buf)

	child.Info("ready")

	if !strings.Contains(buf.String(), "[mongod] ready") {
		t.Errorf("expected component output via parent writer, got: %s", buf.String())
	}
}

func TestLogger_FieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("state", map[string]interface{}{"to": "RUNNING", "from": "FRONTENDS_STARTING"})

	if !strings.Contains(buf.String(), "state from=FRONTENDS_STARTING to=RUNNING") {
		t.Errorf("expected sorted fields, got: %s", buf.String())
	}
}

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("app")
	logger.SetOutput(&buf)

	logger.Info("hello world", map[string]interface{}{"key": "value"})

	// Example: INFO  2026-02-05T04:00:00.000Z [app] hello world key=value
	output := buf.String()
	if !strings.HasPrefix(output, "INFO ") {
		t.Errorf("expected line to start with 'INFO ', got: %s", output)
	}
	if !strings.Contains(output, "[app] hello world key=value") {
		t.Errorf("unexpected format: %s", output)
	}
}

func TestLogger_Line(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Line("elec", Stdout, "  window ready\r\n")
	logger.Line("elec", Stderr, "deprecation warning\n")
	logger.Line("elec", Stdout, "   \n")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines (blank dropped), got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "INFO ") || !strings.HasSuffix(lines[0], "[elec] window ready") {
		t.Errorf("stdout line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "WARN ") || !strings.Contains(lines[1], "stream=stderr") {
		t.Errorf("stderr line = %q", lines[1])
	}
}

func TestLogger_ChildExit(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.ChildExit("sc", 42, 0, "")
	logger.ChildExit("mongod", 43, -1, "killed")

	out := buf.String()
	if !strings.Contains(out, "INFO ") || !strings.Contains(out, "[sc] exited code=0 pid=42") {
		t.Errorf("clean exit line missing: %s", out)
	}
	if !strings.Contains(out, "WARN ") || !strings.Contains(out, "signal=killed") {
		t.Errorf("signalled exit line missing: %s", out)
	}
}

func TestLogger_ShutdownStep(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.ShutdownStep("store", 1500*time.Millisecond, true, nil)
	logger.ShutdownStep("frontend", time.Millisecond, false, errors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, "[store] stopped duration=1.5s forced=true") {
		t.Errorf("missing success line: %s", out)
	}
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "error=boom") {
		t.Errorf("missing failure line: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{" WARN ", LevelWarn, true},
		{"error", LevelError, true},
		{"verbose", LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v,%v want %v,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
