package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Capture sources
const (
	SourceDevice  = "device"
	SourceNetwork = "network"
)

// Config represents the complete engine configuration
type Config struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Segment  SegmentConfig  `yaml:"segment"`
	VAD      VADConfig      `yaml:"vad"`
	Playback PlaybackConfig `yaml:"playback"`
	Storage  StorageConfig  `yaml:"storage"`
	HTTP     HTTPConfig     `yaml:"http"`
	Network  NetworkConfig  `yaml:"network"`
	Upload   UploadConfig   `yaml:"upload"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CaptureConfig contains capture path configuration
type CaptureConfig struct {
	Source         string `yaml:"source"`  // device or network
	Backend        string `yaml:"backend"` // portaudio or null
	SampleRate     int    `yaml:"sample_rate"`
	AnalysisRate   int    `yaml:"analysis_rate"`
	ChunkSize      int    `yaml:"chunk_size"` // frames per device callback and ring slot
	BufferCapacity int    `yaml:"buffer_capacity"`
	TickInterval   int    `yaml:"tick_interval"` // milliseconds
}

// SegmentConfig contains segmentation configuration
type SegmentConfig struct {
	Dir           string  `yaml:"dir"`
	FinalRate     int     `yaml:"final_rate"`
	ManualTimeout float64 `yaml:"manual_timeout"` // seconds
	AutoSilence   float64 `yaml:"auto_silence"`   // seconds
	PreRoll       float64 `yaml:"pre_roll"`       // seconds
	MinTrim       float64 `yaml:"min_trim"`       // seconds
	ChunkInterval int     `yaml:"chunk_interval"` // milliseconds; 0 derives it from chunk size and rate
}

// VADConfig contains Voice Activity Detection configuration
type VADConfig struct {
	Sensitivity float32 `yaml:"sensitivity"`
	Smoothing   float64 `yaml:"smoothing"`
	PollTimeout int     `yaml:"poll_timeout"` // milliseconds
}

// PlaybackConfig contains playback scheduler configuration
type PlaybackConfig struct {
	SampleRate       int     `yaml:"sample_rate"`
	Crossfade        float64 `yaml:"crossfade"` // seconds
	FadeSteps        int     `yaml:"fade_steps"`
	ProgressInterval int     `yaml:"progress_interval"` // milliseconds
	EndMargin        int     `yaml:"end_margin"`        // milliseconds
	Loop             bool    `yaml:"loop"`
	Volume           float32 `yaml:"volume"`
}

// StorageConfig contains storage configuration
type StorageConfig struct {
	Root string `yaml:"root"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// NetworkConfig contains UDP network capture configuration
type NetworkConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
}

// UploadConfig contains segment upload configuration
type UploadConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Source:         SourceDevice,
			Backend:        "portaudio",
			SampleRate:     48000,
			AnalysisRate:   16000,
			ChunkSize:      1024,
			BufferCapacity: 64,
			TickInterval:   10,
		},
		Segment: SegmentConfig{
			Dir:           "segments",
			FinalRate:     48000,
			ManualTimeout: 15.0,
			AutoSilence:   0.5,
			PreRoll:       0.6,
			MinTrim:       2.0,
		},
		VAD: VADConfig{
			Sensitivity: 0.3,
			Smoothing:   1.0,
			PollTimeout: 50,
		},
		Playback: PlaybackConfig{
			SampleRate:       48000,
			Crossfade:        1.0,
			FadeSteps:        30,
			ProgressInterval: 60,
			EndMargin:        100,
			Loop:             true,
			Volume:           1.0,
		},
		Storage: StorageConfig{
			Root: "./data",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Network: NetworkConfig{
			UDPPort:     4444,
			BindAddress: "0.0.0.0",
			BufferSize:  65536,
		},
		Upload: UploadConfig{
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads a configuration file over the defaults, applies environment overrides
// and validates the result. An empty path uses the defaults alone.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides settings from SOUNDD_* environment variables
func (c *Config) ApplyEnv() {
	c.Capture.Source = envStr("SOUNDD_CAPTURE_SOURCE", c.Capture.Source)
	c.Capture.Backend = envStr("SOUNDD_BACKEND", c.Capture.Backend)
	c.Capture.SampleRate = envInt("SOUNDD_SAMPLE_RATE", c.Capture.SampleRate)
	c.VAD.Sensitivity = float32(envFloat("SOUNDD_VAD_SENSITIVITY", float64(c.VAD.Sensitivity)))
	c.Storage.Root = envStr("SOUNDD_STORAGE_ROOT", c.Storage.Root)
	c.HTTP.Address = envStr("SOUNDD_HTTP_ADDRESS", c.HTTP.Address)
	c.HTTP.Port = envInt("SOUNDD_HTTP_PORT", c.HTTP.Port)
	c.Network.UDPPort = envInt("SOUNDD_UDP_PORT", c.Network.UDPPort)
	c.Upload.Endpoint = envStr("SOUNDD_UPLOAD_ENDPOINT", c.Upload.Endpoint)
	c.Upload.APIKey = envStr("SOUNDD_UPLOAD_API_KEY", c.Upload.APIKey)
	c.Upload.Enabled = envBool("SOUNDD_UPLOAD_ENABLED", c.Upload.Enabled)
	c.Logging.Level = envStr("SOUNDD_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envStr("SOUNDD_LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = envStr("SOUNDD_LOG_OUTPUT", c.Logging.Output)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Segment.Validate(); err != nil {
		return fmt.Errorf("segment config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage config: root cannot be empty")
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if c.Capture.Source == SourceNetwork {
		if err := c.Network.Validate(); err != nil {
			return fmt.Errorf("network config: %w", err)
		}
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Source {
	case SourceDevice, SourceNetwork:
	default:
		return fmt.Errorf("source must be 'device' or 'network', got '%s'", c.Source)
	}

	switch c.Backend {
	case "portaudio", "null":
	default:
		return fmt.Errorf("backend must be 'portaudio' or 'null', got '%s'", c.Backend)
	}

	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", c.SampleRate)
	}

	if c.AnalysisRate < 8000 || c.AnalysisRate > c.SampleRate {
		return fmt.Errorf("analysis_rate must be between 8000 and sample_rate (%d), got %d", c.SampleRate, c.AnalysisRate)
	}

	if c.ChunkSize < 64 || c.ChunkSize > 8192 {
		return fmt.Errorf("chunk_size must be between 64 and 8192 frames, got %d", c.ChunkSize)
	}

	if c.BufferCapacity < 2 {
		return fmt.Errorf("buffer_capacity must be at least 2 chunks, got %d", c.BufferCapacity)
	}

	if c.TickInterval < 1 {
		return fmt.Errorf("tick_interval must be at least 1 ms, got %d", c.TickInterval)
	}

	return nil
}

// Validate validates segmentation configuration
func (s *SegmentConfig) Validate() error {
	if s.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	if s.FinalRate < 8000 || s.FinalRate > 192000 {
		return fmt.Errorf("final_rate must be between 8000 and 192000 Hz, got %d", s.FinalRate)
	}

	if s.ManualTimeout <= 0 {
		return fmt.Errorf("manual_timeout must be positive, got %f", s.ManualTimeout)
	}

	if s.AutoSilence <= 0 {
		return fmt.Errorf("auto_silence must be positive, got %f", s.AutoSilence)
	}

	if s.PreRoll < 0 {
		return fmt.Errorf("pre_roll cannot be negative, got %f", s.PreRoll)
	}

	if s.MinTrim < 0 {
		return fmt.Errorf("min_trim cannot be negative, got %f", s.MinTrim)
	}

	if s.ChunkInterval < 0 {
		return fmt.Errorf("chunk_interval cannot be negative, got %d", s.ChunkInterval)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Sensitivity < 0 || v.Sensitivity > 1 {
		return fmt.Errorf("sensitivity must be between 0 and 1, got %f", v.Sensitivity)
	}

	if v.Smoothing <= 0 || v.Smoothing > 1 {
		return fmt.Errorf("smoothing must be in (0, 1], got %f", v.Smoothing)
	}

	if v.PollTimeout < 1 {
		return fmt.Errorf("poll_timeout must be at least 1 ms, got %d", v.PollTimeout)
	}

	return nil
}

// Validate validates playback configuration
func (p *PlaybackConfig) Validate() error {
	if p.SampleRate < 8000 || p.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", p.SampleRate)
	}

	if p.Crossfade < 0 {
		return fmt.Errorf("crossfade cannot be negative, got %f", p.Crossfade)
	}

	if p.FadeSteps < 1 {
		return fmt.Errorf("fade_steps must be at least 1, got %d", p.FadeSteps)
	}

	if p.ProgressInterval < 1 {
		return fmt.Errorf("progress_interval must be at least 1 ms, got %d", p.ProgressInterval)
	}

	if p.Volume < 0 {
		return fmt.Errorf("volume cannot be negative, got %f", p.Volume)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates network capture configuration
func (n *NetworkConfig) Validate() error {
	if n.UDPPort < 1 || n.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", n.UDPPort)
	}

	if n.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if n.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", n.BufferSize)
	}

	return nil
}

// Validate validates upload configuration
func (u *UploadConfig) Validate() error {
	if !u.Enabled {
		return nil
	}

	if u.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty when upload is enabled")
	}

	if u.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", u.Timeout)
	}

	if u.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", u.MaxRetries)
	}

	if u.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", u.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetTickInterval returns the capture worker tick interval
func (c *CaptureConfig) GetTickInterval() time.Duration {
	return time.Duration(c.TickInterval) * time.Millisecond
}

// GetChunkInterval returns the audio duration of one capture chunk. It is derived
// from the chunk size and capture rate unless configured explicitly.
func (c *Config) GetChunkInterval() time.Duration {
	if c.Segment.ChunkInterval > 0 {
		return time.Duration(c.Segment.ChunkInterval) * time.Millisecond
	}
	return time.Duration(float64(c.Capture.ChunkSize) / float64(c.Capture.SampleRate) * float64(time.Second))
}

// GetAnalysisChunkSize returns the frames in one chunk after analysis resampling
func (c *Config) GetAnalysisChunkSize() int {
	return int(float64(c.Capture.ChunkSize)*float64(c.Capture.AnalysisRate)/float64(c.Capture.SampleRate) + 0.5)
}

// GetManualTimeout returns the default manual silence timeout
func (s *SegmentConfig) GetManualTimeout() time.Duration {
	return seconds(s.ManualTimeout)
}

// GetAutoSilence returns the silence that ends an automatic segment
func (s *SegmentConfig) GetAutoSilence() time.Duration {
	return seconds(s.AutoSilence)
}

// GetPreRoll returns the pre-roll length
func (s *SegmentConfig) GetPreRoll() time.Duration {
	return seconds(s.PreRoll)
}

// GetMinTrim returns the trailing silence a manual segment must exceed to be trimmed
func (s *SegmentConfig) GetMinTrim() time.Duration {
	return seconds(s.MinTrim)
}

// GetPollTimeout returns the VAD poll timeout
func (v *VADConfig) GetPollTimeout() time.Duration {
	return time.Duration(v.PollTimeout) * time.Millisecond
}

// GetCrossfade returns the loop crossfade length
func (p *PlaybackConfig) GetCrossfade() time.Duration {
	return seconds(p.Crossfade)
}

// GetProgressInterval returns the progress listener interval
func (p *PlaybackConfig) GetProgressInterval() time.Duration {
	return time.Duration(p.ProgressInterval) * time.Millisecond
}

// GetEndMargin returns how close to the end playback end fires
func (p *PlaybackConfig) GetEndMargin() time.Duration {
	return time.Duration(p.EndMargin) * time.Millisecond
}

// GetTimeoutDuration returns the upload timeout as a time.Duration
func (u *UploadConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(u.Timeout) * time.Second
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
