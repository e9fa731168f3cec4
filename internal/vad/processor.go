package vad

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/audio"
)

// Sensitivity maps onto an RMS level threshold between these bounds
const (
	leastSensitiveDB = -10.0
	mostSensitiveDB  = -60.0

	// DefaultSensitivity corresponds to a -25 dBFS threshold
	DefaultSensitivity = float32(0.3)
)

// Processor is an energy based voice activity detector. A chunk is speech when its
// RMS level exceeds a threshold derived from the sensitivity setting.
type Processor struct {
	sensitivity float32
	thresholdDB float64
	smoothing   float64 // Weight of the current chunk in the smoothed level

	// VAD state
	smoothedDB float64
	primed     bool

	// Statistics
	totalChunks   uint64
	speechChunks  uint64
	lastLevelDB   float64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result represents the result of voice activity detection on one chunk
type Result struct {
	Speech      bool      `json:"speech"`
	LevelDB     float64   `json:"level_db"`
	ThresholdDB float64   `json:"threshold_db"`
	Probability float32   `json:"probability"` // Level relative to threshold mapped to 0.0 - 1.0
	Timestamp   time.Time `json:"timestamp"`
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	Sensitivity      float32   `json:"sensitivity"`
	ThresholdDB      float64   `json:"threshold_db"`
	TotalChunks      uint64    `json:"total_chunks"`
	SpeechChunks     uint64    `json:"speech_chunks"`
	SpeechPercentage float64   `json:"speech_percentage"`
	LastLevelDB      float64   `json:"last_level_db"`
	LastProcessed    time.Time `json:"last_processed"`
}

// ClampSensitivity limits a sensitivity value to [0, 1]
func ClampSensitivity(s float32) float32 {
	if math.IsNaN(float64(s)) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// ThresholdDB returns the level threshold for a sensitivity in [0, 1]
func ThresholdDB(sensitivity float32) float64 {
	s := float64(ClampSensitivity(sensitivity))
	return leastSensitiveDB + (mostSensitiveDB-leastSensitiveDB)*s
}

// NewProcessor creates a detector with the given sensitivity (clamped to [0, 1]) and
// level smoothing factor in (0, 1]; 1 disables smoothing
func NewProcessor(sensitivity float32, smoothing float64) *Processor {
	if smoothing <= 0 || smoothing > 1 {
		smoothing = 1
	}

	s := ClampSensitivity(sensitivity)
	return &Processor{
		sensitivity: s,
		thresholdDB: ThresholdDB(s),
		smoothing:   smoothing,
		smoothedDB:  audio.SilenceFloorDB,
	}
}

// Process classifies one chunk of samples
func (p *Processor) Process(samples []float32) Result {
	level := audio.LevelDB(samples)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.primed {
		level = p.smoothing*level + (1-p.smoothing)*p.smoothedDB
	}
	p.smoothedDB = level
	p.primed = true

	speech := level > p.thresholdDB

	p.totalChunks++
	if speech {
		p.speechChunks++
	}
	p.lastLevelDB = level
	p.lastProcessed = time.Now()

	// 20 dB either side of the threshold spans the probability range
	prob := (level - p.thresholdDB + 20) / 40
	prob = math.Max(0, math.Min(1, prob))

	return Result{
		Speech:      speech,
		LevelDB:     level,
		ThresholdDB: p.thresholdDB,
		Probability: float32(prob),
		Timestamp:   p.lastProcessed,
	}
}

// Classify implements Classifier
func (p *Processor) Classify(ctx context.Context, samples []float32) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.Process(samples).Speech, nil
}

// SetSensitivity updates the sensitivity and returns the clamped value in effect
func (p *Processor) SetSensitivity(sensitivity float32) float32 {
	s := ClampSensitivity(sensitivity)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sensitivity = s
	p.thresholdDB = ThresholdDB(s)
	return s
}

// GetSensitivity returns the current sensitivity
func (p *Processor) GetSensitivity() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sensitivity
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	speechPercentage := float64(0)
	if p.totalChunks > 0 {
		speechPercentage = float64(p.speechChunks) / float64(p.totalChunks) * 100
	}

	return ProcessorStats{
		Sensitivity:      p.sensitivity,
		ThresholdDB:      p.thresholdDB,
		TotalChunks:      p.totalChunks,
		SpeechChunks:     p.speechChunks,
		SpeechPercentage: speechPercentage,
		LastLevelDB:      p.lastLevelDB,
		LastProcessed:    p.lastProcessed,
	}
}

// Reset resets the detector state and statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.smoothedDB = audio.SilenceFloorDB
	p.primed = false
	p.totalChunks = 0
	p.speechChunks = 0
	p.lastLevelDB = 0
	p.lastProcessed = time.Time{}
}
