package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-vitals/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %v, got %v", in, want, got)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestJSONLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(config.TelemetryConfig{LogLevel: "warn", LogFormat: "json"}, &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept", slog.String("error", errors.New("boom").Error()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["msg"] != "kept" || entry["error"] != "boom" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitals.log")
	var buf bytes.Buffer
	logger, closer, err := newLogger(config.TelemetryConfig{LogFormat: "text", LogFile: path}, &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hello", slog.String("component", "test"))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "msg=hello") || !strings.Contains(buf.String(), "component=test") {
		t.Fatalf("expected entry in both sinks, file=%q stdout=%q", data, buf.String())
	}
}
