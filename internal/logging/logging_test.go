package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for name, expected := range tests {
		if got := ParseLevel(name); got != expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", name, expected, got)
		}
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soundd.log")

	logger, closeFn, err := New(config.LoggingConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Debug("Hidden message")
	logger.Info("Segment completed", slog.String("filename", "speech_1_001.wav"))

	if err := closeFn(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Expected JSON log line: %v", err)
	}
	if entry["filename"] != "speech_1_001.wav" {
		t.Errorf("Expected filename attribute, got %v", entry["filename"])
	}
}

func TestNewInvalidPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "soundd.log")
	if _, _, err := New(config.LoggingConfig{Level: "info", Format: "text", Output: path}); err == nil {
		t.Error("Expected error for unwritable log path")
	}
}
