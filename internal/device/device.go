package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/metrics"
)

// ErrStaleFormat is returned when a stream can no longer run with the format it was
// opened with and has to be reopened
var ErrStaleFormat = errors.New("device stream format is stale")

// StreamConfig describes the stream to open
type StreamConfig struct {
	SampleRate      int
	FramesPerBuffer int
}

// Stream is an open device stream
type Stream interface {
	Start() error
	Stop() error
	Close() error
	Running() bool
}

// Backend opens device streams. A nil input or output callback opens the stream
// without that direction. Callbacks run on the device's real-time thread.
type Backend interface {
	Open(config StreamConfig, input func(in []float32), output func(out []float32)) (Stream, error)
}

// Manager owns one device stream and restarts it on demand
type Manager struct {
	backend Backend
	config  StreamConfig
	input   func([]float32)
	output  func([]float32)
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	stream Stream
}

// NewManager creates a manager; the stream is opened on first EnsureRunning
func NewManager(backend Backend, config StreamConfig, input, output func([]float32), logger *slog.Logger, m *metrics.Metrics) (*Manager, error) {
	if backend == nil {
		return nil, fmt.Errorf("device backend cannot be nil")
	}

	if config.SampleRate <= 0 || config.FramesPerBuffer <= 0 {
		return nil, fmt.Errorf("invalid stream config: %d Hz, %d frames", config.SampleRate, config.FramesPerBuffer)
	}

	if input == nil && output == nil {
		return nil, fmt.Errorf("stream needs an input or output callback")
	}

	return &Manager{
		backend: backend,
		config:  config,
		input:   input,
		output:  output,
		logger:  logger,
		metrics: m,
	}, nil
}

// EnsureRunning opens the stream if needed and starts it if it is stopped. When a
// restart fails because the format is stale the stream is torn down; the next call
// opens a fresh one.
func (m *Manager) EnsureRunning() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		stream, err := m.backend.Open(m.config, m.input, m.output)
		if err != nil {
			m.metrics.RecordDeviceRecovery("open_failed")
			return fmt.Errorf("failed to open device stream: %w", err)
		}
		m.stream = stream
		m.logger.Info("Device stream opened",
			slog.Int("sample_rate", m.config.SampleRate),
			slog.Int("frames_per_buffer", m.config.FramesPerBuffer),
			slog.Bool("input", m.input != nil),
			slog.Bool("output", m.output != nil),
		)
	}

	if m.stream.Running() {
		return nil
	}

	err := m.stream.Start()
	if err == nil {
		m.metrics.RecordDeviceRecovery("started")
		return nil
	}

	if errors.Is(err, ErrStaleFormat) {
		m.teardownLocked()
		m.metrics.RecordDeviceRecovery("torn_down")
		m.logger.Warn("Device stream format is stale, stream torn down",
			slog.String("error", err.Error()),
		)
		return err
	}

	m.metrics.RecordDeviceRecovery("start_failed")
	return fmt.Errorf("failed to start device stream: %w", err)
}

// Running reports whether the stream is open and running
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil && m.stream.Running()
}

// Stop halts the stream but keeps it open
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil || !m.stream.Running() {
		return nil
	}
	return m.stream.Stop()
}

// Close stops and releases the stream
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teardownLocked()
}

func (m *Manager) teardownLocked() error {
	if m.stream == nil {
		return nil
	}

	stream := m.stream
	m.stream = nil

	var errs []error
	if stream.Running() {
		errs = append(errs, stream.Stop())
	}
	errs = append(errs, stream.Close())
	return errors.Join(errs...)
}

// BufferDuration returns the audio duration of one device buffer
func (c StreamConfig) BufferDuration() time.Duration {
	return time.Duration(float64(c.FramesPerBuffer) / float64(c.SampleRate) * float64(time.Second))
}
