package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := newLoggerTo(&buf, "info", "json")

	log.Info("session.set", "user_id", "u1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "session.set" || rec["user_id"] != "u1" {
		t.Fatalf("record=%v", rec)
	}
}

func TestNewLoggerPrettyFormat(t *testing.T) {
	var buf bytes.Buffer
	log := newLoggerTo(&buf, "debug", "pretty")

	log.Debug("realtime.state", "state", "open")

	out := buf.String()
	if !strings.Contains(out, "[DEBUG]") || !strings.Contains(out, "state=open") {
		t.Fatalf("pretty output=%q", out)
	}
	// A bytes.Buffer is not a terminal, so no escape codes leak.
	if out != stripANSI(out) {
		t.Fatalf("unexpected color codes in %q", out)
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLoggerTo(&buf, "warn", "json")

	log.Info("session.hydrated")
	if buf.Len() != 0 {
		t.Fatalf("info logged below warn level: %q", buf.String())
	}
	log.Warn("session.persist.fail")
	if buf.Len() == 0 {
		t.Fatal("warn record suppressed")
	}
}
