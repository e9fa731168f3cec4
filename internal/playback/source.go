package playback

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/audio"
)

// ErrNoSource is returned when an operation needs a loaded source and there is none
var ErrNoSource = errors.New("no playback source loaded")

// Source is a fully decoded mono source at the output sample rate
type Source struct {
	URI     string
	Samples []float32
	Rate    int
}

// NewSource wraps decoded samples
func NewSource(uri string, samples []float32, rate int) (*Source, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("source %q has no audio", uri)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("source sample rate must be positive, got %d", rate)
	}
	return &Source{URI: uri, Samples: samples, Rate: rate}, nil
}

// LoadSource decodes a WAV file and converts it to outputRate
func LoadSource(uri string, outputRate int) (*Source, error) {
	path := strings.TrimPrefix(uri, "file://")

	samples, rate, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load source %q: %w", uri, err)
	}

	if rate != outputRate {
		samples, err = audio.Resample(samples, rate, outputRate)
		if err != nil {
			return nil, fmt.Errorf("failed to convert source %q to %d Hz: %w", uri, outputRate, err)
		}
	}

	return NewSource(uri, samples, outputRate)
}

// Frames returns the source length in frames
func (s *Source) Frames() int {
	return len(s.Samples)
}

// Duration returns the source length
func (s *Source) Duration() time.Duration {
	return time.Duration(float64(len(s.Samples)) / float64(s.Rate) * float64(time.Second))
}

func (s *Source) framesFor(d time.Duration) int {
	return int(d.Seconds() * float64(s.Rate))
}

func (s *Source) durationOf(frames int) time.Duration {
	return time.Duration(float64(frames) / float64(s.Rate) * float64(time.Second))
}
