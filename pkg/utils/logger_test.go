package utils

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitLogger_JSONHandler(t *testing.T) {
	var buf bytes.Buffer
	l := InitLogger(LoggerOptions{Format: "json", Level: "debug", Output: &buf})
	t.Cleanup(func() { InitLogger(LoggerOptions{Output: &bytes.Buffer{}}) })

	l.Debug("turn committed", "sessionID", "abc")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "turn committed" || rec["sessionID"] != "abc" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if GetLogger() != l {
		t.Fatalf("GetLogger() did not return the initialized logger")
	}
}

func TestInitLogger_TextHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := InitLogger(LoggerOptions{Format: "text", Level: "warn", Output: &buf})
	t.Cleanup(func() { InitLogger(LoggerOptions{Output: &bytes.Buffer{}}) })

	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMaskSensitiveString(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"short":            "*****",
		"gsk_1234567890ab": "gsk_********90ab",
	}
	for in, want := range cases {
		if got := MaskSensitiveString(in); got != want {
			t.Fatalf("MaskSensitiveString(%q) = %q, want %q", in, got, want)
		}
	}
}
