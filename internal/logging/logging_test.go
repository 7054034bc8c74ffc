package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(slog.LevelInfo, "text", &buf)

	logger.With("component", "scheduler").Info("job started", "job_id", 7, "ncpus", 2)

	out := buf.String()
	for _, want := range []string{"job started", "component=scheduler", "job_id=7", "ncpus=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(slog.LevelInfo, "json", &buf)

	logger.Info("job finished", "job_id", 7, "exit_code", 0)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not one JSON object: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "job finished" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["job_id"] != float64(7) {
		t.Errorf("job_id = %v", rec["job_id"])
	}
}

func TestLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(slog.LevelWarn, "text", &buf)

	logger.Debug("scheduling pass")
	logger.Info("job submitted")
	logger.Warn("launch failed")

	out := buf.String()
	if strings.Contains(out, "job submitted") || strings.Contains(out, "scheduling pass") {
		t.Errorf("records below warn should be dropped: %s", out)
	}
	if !strings.Contains(out, "launch failed") {
		t.Errorf("warn record missing: %s", out)
	}
}
