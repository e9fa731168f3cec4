package segment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/audio"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/metrics"
)

// DefaultMinTrim is the trailing silence a finished manual segment must exceed before
// it is trimmed
const DefaultMinTrim = 2 * time.Second

// StoreConfig contains segment storage configuration
type StoreConfig struct {
	Root       string        // Storage root; relative paths are reported against it
	Dir        string        // Segment directory relative to Root
	RecordRate int           // Sample rate of audio written while recording
	FinalRate  int           // Sample rate of the finished file
	MinTrim    time.Duration // Trailing silence longer than this is trimmed
}

// Completion describes a finished segment
type Completion struct {
	Filename     string    `json:"filename"`
	RelativePath string    `json:"relative_path"`
	Path         string    `json:"path"`
	IsManual     bool      `json:"is_manual"`
	Duration     float64   `json:"duration_seconds"`
	CreatedAt    time.Time `json:"created_at"`
	Trimmed      float64   `json:"trimmed_seconds"`
}

// CompletionHandler is called once for every finished segment
type CompletionHandler func(c Completion)

// Segment is an open segment file
type Segment struct {
	writer    *audio.WAVWriter
	filename  string
	path      string
	relPath   string
	createdAt time.Time
	counter   int
	isManual  bool

	trailingSilent int // Samples written since the last speech chunk
}

// Write appends one chunk; speech marks whether the chunk reset the trailing silence run
func (s *Segment) Write(samples []float32, speech bool) error {
	if err := s.writer.Write(samples); err != nil {
		return err
	}

	if speech {
		s.trailingSilent = 0
	} else {
		s.trailingSilent += len(samples)
	}
	return nil
}

// Filename returns the segment file name
func (s *Segment) Filename() string {
	return s.filename
}

// IsManual reports whether the segment was opened by a manual start
func (s *Segment) IsManual() bool {
	return s.isManual
}

// Counter returns the per-session segment number
func (s *Segment) Counter() int {
	return s.counter
}

// Samples returns the number of samples written so far
func (s *Segment) Samples() int {
	return s.writer.Samples()
}

// TrailingSilence returns the number of samples written since the last speech chunk
func (s *Segment) TrailingSilence() int {
	return s.trailingSilent
}

// StoreStats represents segment store statistics
type StoreStats struct {
	SessionTimestamp int64   `json:"session_timestamp"`
	Counter          int     `json:"counter"`
	Completed        uint64  `json:"completed"`
	Failed           uint64  `json:"failed"`
	TotalDuration    float64 `json:"total_duration_seconds"`
}

// Store owns segment files from creation until they are finalized
type Store struct {
	config  StoreConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	sessionTimestamp int64
	counter          int

	mu         sync.RWMutex
	onComplete CompletionHandler
	completed  uint64
	failed     uint64
	totalDur   float64
}

// NewStore creates a segment store and its directory
func NewStore(config StoreConfig, logger *slog.Logger, m *metrics.Metrics) (*Store, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}

	if config.RecordRate <= 0 {
		return nil, fmt.Errorf("record rate must be positive, got %d", config.RecordRate)
	}

	if config.FinalRate <= 0 {
		config.FinalRate = config.RecordRate
	}

	if config.MinTrim <= 0 {
		config.MinTrim = DefaultMinTrim
	}

	if err := os.MkdirAll(filepath.Join(config.Root, config.Dir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	return &Store{
		config:           config,
		logger:           logger,
		metrics:          m,
		sessionTimestamp: time.Now().Unix(),
	}, nil
}

// SetCompletionHandler installs the segment completion callback
func (s *Store) SetCompletionHandler(fn CompletionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// BeginSession starts a new naming session; counters restart at 1
func (s *Store) BeginSession(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionTimestamp = at.Unix()
	s.counter = 0
}

// SegmentFilename returns the file name of segment counter in a session
func SegmentFilename(sessionTimestamp int64, counter int) string {
	return fmt.Sprintf("speech_%d_%03d.wav", sessionTimestamp, counter)
}

// Create opens a new segment file. On failure nothing is left on disk and the
// counter is not advanced.
func (s *Store) Create(isManual bool) (*Segment, error) {
	s.mu.Lock()
	stamp := s.sessionTimestamp
	counter := s.counter + 1
	s.mu.Unlock()

	filename := SegmentFilename(stamp, counter)
	relPath := filepath.Join(s.config.Dir, filename)
	path := filepath.Join(s.config.Root, relPath)

	writer, err := audio.CreateWAV(path, s.config.RecordRate)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to create segment %s: %w", filename, err)
	}

	s.mu.Lock()
	s.counter = counter
	s.mu.Unlock()

	s.logger.Info("Segment started",
		slog.String("filename", filename),
		slog.Bool("manual", isManual),
	)

	return &Segment{
		writer:    writer,
		filename:  filename,
		path:      path,
		relPath:   relPath,
		createdAt: time.Now(),
		counter:   counter,
		isManual:  isManual,
	}, nil
}

// Finish closes seg, trims trailing silence when trim is set and the silence run
// exceeds the minimum, resamples to the final rate and reports completion.
func (s *Store) Finish(seg *Segment, trim bool) (*Completion, error) {
	if err := seg.writer.Close(); err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to close segment %s: %w", seg.filename, err)
	}

	samples, rate, err := audio.ReadWAVFile(seg.path)
	if err != nil {
		s.recordFailure()
		return nil, err
	}

	trimmed := 0
	minTrim := int(s.config.MinTrim.Seconds() * float64(rate))
	if trim && seg.trailingSilent > minTrim {
		trimmed = seg.trailingSilent
		if trimmed > len(samples) {
			trimmed = len(samples)
		}
		samples = samples[:len(samples)-trimmed]
	}

	final := samples
	if rate != s.config.FinalRate {
		final, err = audio.Resample(samples, rate, s.config.FinalRate)
		if err != nil {
			s.recordFailure()
			return nil, fmt.Errorf("failed to resample segment %s: %w", seg.filename, err)
		}
	}

	if trimmed > 0 || rate != s.config.FinalRate {
		if err := audio.WriteWAVFile(seg.path, final, s.config.FinalRate); err != nil {
			s.recordFailure()
			return nil, err
		}
	}

	completion := &Completion{
		Filename:     seg.filename,
		RelativePath: seg.relPath,
		Path:         seg.path,
		IsManual:     seg.isManual,
		Duration:     float64(len(final)) / float64(s.config.FinalRate),
		CreatedAt:    seg.createdAt,
		Trimmed:      float64(trimmed) / float64(rate),
	}

	s.mu.Lock()
	s.completed++
	s.totalDur += completion.Duration
	handler := s.onComplete
	s.mu.Unlock()

	mode := ModeAutoVAD.String()
	if seg.isManual {
		mode = ModeManual.String()
	}
	s.metrics.RecordSegmentCompleted(mode, completion.Duration, trimmed > 0)

	s.logger.Info("Segment completed",
		slog.String("filename", completion.Filename),
		slog.String("relative_path", completion.RelativePath),
		slog.Bool("manual", completion.IsManual),
		slog.Float64("duration", completion.Duration),
		slog.Float64("trimmed", completion.Trimmed),
	)

	if handler != nil {
		handler(*completion)
	}

	return completion, nil
}

// GetStats returns store statistics
func (s *Store) GetStats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreStats{
		SessionTimestamp: s.sessionTimestamp,
		Counter:          s.counter,
		Completed:        s.completed,
		Failed:           s.failed,
		TotalDuration:    s.totalDur,
	}
}

// Root returns the storage root directory
func (s *Store) Root() string {
	return s.config.Root
}

func (s *Store) recordFailure() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
	s.metrics.RecordSegmentFailure()
}
