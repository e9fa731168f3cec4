package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "defaults are valid",
			modify: func(c *Config) {},
		},
		{
			name:        "unknown capture source",
			modify:      func(c *Config) { c.Capture.Source = "bluetooth" },
			expectError: true,
			errorMsg:    "source must be 'device' or 'network'",
		},
		{
			name:        "analysis rate above capture rate",
			modify:      func(c *Config) { c.Capture.AnalysisRate = 96000 },
			expectError: true,
			errorMsg:    "analysis_rate",
		},
		{
			name:        "chunk size too small",
			modify:      func(c *Config) { c.Capture.ChunkSize = 16 },
			expectError: true,
			errorMsg:    "chunk_size",
		},
		{
			name:        "sensitivity out of range",
			modify:      func(c *Config) { c.VAD.Sensitivity = 1.5 },
			expectError: true,
			errorMsg:    "sensitivity must be between 0 and 1",
		},
		{
			name:        "zero manual timeout",
			modify:      func(c *Config) { c.Segment.ManualTimeout = 0 },
			expectError: true,
			errorMsg:    "manual_timeout must be positive",
		},
		{
			name:        "negative crossfade",
			modify:      func(c *Config) { c.Playback.Crossfade = -1 },
			expectError: true,
			errorMsg:    "crossfade cannot be negative",
		},
		{
			name:        "upload enabled without endpoint",
			modify:      func(c *Config) { c.Upload.Enabled = true },
			expectError: true,
			errorMsg:    "endpoint cannot be empty",
		},
		{
			name: "network port checked only for network source",
			modify: func(c *Config) {
				c.Network.UDPPort = 70000
			},
		},
		{
			name: "invalid network port",
			modify: func(c *Config) {
				c.Capture.Source = "network"
				c.Network.UDPPort = 70000
			},
			expectError: true,
			errorMsg:    "udp_port must be between 1 and 65535",
		},
		{
			name:        "invalid log level",
			modify:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name: "disabled HTTP skips port check",
			modify: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "partial file keeps defaults",
			configYAML: `
capture:
  source: "network"
  sample_rate: 16000
  analysis_rate: 16000
segment:
  manual_timeout: 10.0
playback:
  crossfade: 2.5
`,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
capture:
  sample_rate: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid value",
			configYAML: `
vad:
  poll_timeout: 0
`,
			expectError: true,
			errorMsg:    "poll_timeout must be at least 1 ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}

			if config.Capture.SampleRate != 16000 {
				t.Errorf("Expected sample rate 16000, got %d", config.Capture.SampleRate)
			}
			if config.Capture.ChunkSize != 1024 {
				t.Errorf("Expected default chunk size 1024, got %d", config.Capture.ChunkSize)
			}
			if config.Segment.GetManualTimeout() != 10*time.Second {
				t.Errorf("Expected manual timeout 10s, got %v", config.Segment.GetManualTimeout())
			}
			if config.Playback.GetCrossfade() != 2500*time.Millisecond {
				t.Errorf("Expected crossfade 2.5s, got %v", config.Playback.GetCrossfade())
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestConfigLoadDefaults(t *testing.T) {
	config, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.VAD.Sensitivity != 0.3 {
		t.Errorf("Expected default sensitivity 0.3, got %f", config.VAD.Sensitivity)
	}
	if config.Capture.BufferCapacity != 64 || config.Capture.ChunkSize != 1024 {
		t.Errorf("Expected 64x1024 ring, got %dx%d", config.Capture.BufferCapacity, config.Capture.ChunkSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SOUNDD_LOG_LEVEL", "debug")
	t.Setenv("SOUNDD_HTTP_PORT", "9090")
	t.Setenv("SOUNDD_VAD_SENSITIVITY", "0.8")
	t.Setenv("SOUNDD_UPLOAD_ENABLED", "true")
	t.Setenv("SOUNDD_UPLOAD_ENDPOINT", "http://localhost:9000/segments")
	t.Setenv("SOUNDD_UDP_PORT", "not-a-number")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Logging.Level != "debug" {
		t.Errorf("Expected level debug, got %s", config.Logging.Level)
	}
	if config.HTTP.Port != 9090 {
		t.Errorf("Expected HTTP port 9090, got %d", config.HTTP.Port)
	}
	if config.VAD.Sensitivity != 0.8 {
		t.Errorf("Expected sensitivity 0.8, got %f", config.VAD.Sensitivity)
	}
	if !config.Upload.Enabled || config.Upload.Endpoint != "http://localhost:9000/segments" {
		t.Errorf("Expected upload enabled with endpoint, got %+v", config.Upload)
	}
	if config.Network.UDPPort != 4444 {
		t.Errorf("Expected unparsable override to be ignored, got %d", config.Network.UDPPort)
	}
}

func TestDurationHelpers(t *testing.T) {
	config := Default()

	// 1024 frames at 48kHz
	if got := config.GetChunkInterval(); got != 21333333*time.Nanosecond {
		t.Errorf("Expected derived chunk interval ~21.33ms, got %v", got)
	}

	config.Segment.ChunkInterval = 20
	if got := config.GetChunkInterval(); got != 20*time.Millisecond {
		t.Errorf("Expected configured chunk interval 20ms, got %v", got)
	}

	if got := config.GetAnalysisChunkSize(); got != 341 {
		t.Errorf("Expected 341 analysis frames, got %d", got)
	}

	if config.Segment.GetAutoSilence() != 500*time.Millisecond {
		t.Errorf("Expected 0.5 seconds, got %v", config.Segment.GetAutoSilence())
	}

	if config.Segment.GetPreRoll() != 600*time.Millisecond {
		t.Errorf("Expected 0.6 seconds, got %v", config.Segment.GetPreRoll())
	}

	if config.VAD.GetPollTimeout() != 50*time.Millisecond {
		t.Errorf("Expected 50ms, got %v", config.VAD.GetPollTimeout())
	}

	if config.Capture.GetTickInterval() != 10*time.Millisecond {
		t.Errorf("Expected 10ms, got %v", config.Capture.GetTickInterval())
	}

	if config.Upload.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", config.Upload.GetTimeoutDuration())
	}
}
