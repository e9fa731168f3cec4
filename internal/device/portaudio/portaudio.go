// Package portaudio provides a device Backend on top of the PortAudio library.
//
// For go build: requires portaudio installed via pkg-config (brew install portaudio).
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/device"
)

// Backend opens mono default-device streams. The library is initialized on first use
// and released by Terminate.
type Backend struct {
	initOnce sync.Once
	initErr  error
}

// New creates a PortAudio backend
func New() *Backend {
	return &Backend{}
}

func (b *Backend) init() error {
	b.initOnce.Do(func() {
		b.initErr = portaudio.Initialize()
	})
	return b.initErr
}

// Open implements device.Backend
func (b *Backend) Open(config device.StreamConfig, input func([]float32), output func([]float32)) (device.Stream, error) {
	if err := b.init(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	var (
		inChannels, outChannels int
		callback                interface{}
	)

	hb := device.NewHeartbeat(config)

	switch {
	case input != nil && output != nil:
		inChannels, outChannels = 1, 1
		callback = func(in, out []float32) {
			hb.Beat()
			input(in)
			output(out)
		}
	case input != nil:
		inChannels = 1
		callback = func(in []float32) {
			hb.Beat()
			input(in)
		}
	case output != nil:
		outChannels = 1
		callback = func(out []float32) {
			hb.Beat()
			output(out)
		}
	default:
		return nil, fmt.Errorf("stream needs an input or output callback")
	}

	stream, err := portaudio.OpenDefaultStream(inChannels, outChannels, float64(config.SampleRate), config.FramesPerBuffer, callback)
	if err != nil {
		return nil, classify(err)
	}

	return &paStream{stream: stream, heartbeat: hb}, nil
}

// Terminate releases the PortAudio library
func (b *Backend) Terminate() error {
	if b.init() != nil {
		return nil
	}
	return portaudio.Terminate()
}

// classify marks errors that mean the device no longer supports the stream format
func classify(err error) error {
	if errors.Is(err, portaudio.InvalidSampleRate) ||
		errors.Is(err, portaudio.SampleFormatNotSupported) ||
		errors.Is(err, portaudio.DeviceUnavailable) {
		return fmt.Errorf("%w: %v", device.ErrStaleFormat, err)
	}
	return err
}

type paStream struct {
	stream    *portaudio.Stream
	heartbeat *device.Heartbeat

	mu      sync.Mutex
	running bool
}

func (s *paStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A stalled stream is still started on the PortAudio side
	if s.running {
		s.stream.Stop()
		s.running = false
	}

	if err := s.stream.Start(); err != nil {
		return classify(err)
	}
	s.heartbeat.Beat()
	s.running = true
	return nil
}

func (s *paStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	return s.stream.Stop()
}

func (s *paStream) Close() error {
	return s.stream.Close()
}

// Running reports whether the stream is started and its callback is still firing
func (s *paStream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.heartbeat.Alive()
}
