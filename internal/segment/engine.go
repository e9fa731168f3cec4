package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/audio"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/metrics"
)

// Defaults for segmentation timing
const (
	DefaultManualTimeout = 15 * time.Second
	DefaultAutoSilence   = 500 * time.Millisecond
	DefaultPreRoll       = 600 * time.Millisecond
)

// ErrNotManual is returned when a manual segment operation is used outside manual mode
var ErrNotManual = errors.New("not in manual mode")

// Config contains configuration for the segmentation engine
type Config struct {
	ChunkInterval time.Duration // Audio duration of one processed chunk
	ChunkSize     int           // Samples per processed chunk, used to size the pre-roll
	AutoSilence   time.Duration // Silence that ends an automatic segment
	ManualTimeout time.Duration // Default silence that ends a manual segment
	PreRoll       time.Duration // Audio kept ahead of a segment start; 0 disables
}

// ChunksFor converts a duration into a whole number of chunks, at least one
func (c Config) ChunksFor(d time.Duration) int {
	if c.ChunkInterval <= 0 {
		return 1
	}

	n := int(math.Ceil(float64(d) / float64(c.ChunkInterval)))
	if n < 1 {
		return 1
	}
	return n
}

// EngineStats represents segmentation engine statistics
type EngineStats struct {
	Mode          string `json:"mode"`
	Recording     bool   `json:"recording"`
	SilentChunks  int    `json:"silent_chunks"`
	Threshold     int    `json:"threshold"`
	SegmentsOpen  uint64 `json:"segments_opened"`
	CurrentFile   string `json:"current_file,omitempty"`
	CurrentFrames int    `json:"current_frames"`
}

// Engine drives the segmentation state machine. It is owned by the capture worker
// and is not safe for concurrent use.
type Engine struct {
	config  Config
	store   *Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	state   state
	segment *Segment
	preroll *audio.PreRoll

	opened          uint64
	onManualSilence func()
}

// NewEngine creates an idle segmentation engine writing into store
func NewEngine(config Config, store *Store, logger *slog.Logger, m *metrics.Metrics) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("segment store cannot be nil")
	}

	if config.ChunkInterval <= 0 {
		return nil, fmt.Errorf("chunk interval must be positive, got %v", config.ChunkInterval)
	}

	if config.AutoSilence <= 0 {
		config.AutoSilence = DefaultAutoSilence
	}

	if config.ManualTimeout <= 0 {
		config.ManualTimeout = DefaultManualTimeout
	}

	prerollChunks := 0
	if config.PreRoll > 0 {
		prerollChunks = config.ChunksFor(config.PreRoll)
	}

	return &Engine{
		config:  config,
		store:   store,
		logger:  logger,
		metrics: m,
		state:   idleState{},
		preroll: audio.NewPreRoll(prerollChunks, config.ChunkSize),
	}, nil
}

// SetManualSilenceHandler installs the callback fired when a manual segment ends on
// its silence timeout
func (e *Engine) SetManualSilenceHandler(fn func()) {
	e.onManualSilence = fn
}

// Mode returns the active mode
func (e *Engine) Mode() Mode {
	return e.state.mode()
}

// IsRecording reports whether a segment file is open
func (e *Engine) IsRecording() bool {
	return e.segment != nil
}

// SetMode switches policy. Any open segment is finalized first; selecting the
// active mode again changes nothing.
func (e *Engine) SetMode(mode Mode) error {
	if e.state.mode() == mode {
		return nil
	}

	closeErr := e.closeSegment(false)

	switch mode {
	case ModeIdle:
		e.state = idleState{}
	case ModeManual:
		e.state = &manualState{threshold: e.config.ChunksFor(e.config.ManualTimeout)}
	case ModeAutoVAD:
		e.state = &autoState{threshold: e.config.ChunksFor(e.config.AutoSilence)}
	default:
		return fmt.Errorf("unknown segmentation mode %d", int(mode))
	}

	e.logger.Info("Segmentation mode changed", slog.String("mode", mode.String()))
	return closeErr
}

// StartManual switches to manual mode (if needed) and opens a segment that closes
// after timeout of continuous silence. A non-positive timeout uses the default.
func (e *Engine) StartManual(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = e.config.ManualTimeout
	}

	closeErr := e.closeSegment(false)

	st := &manualState{threshold: e.config.ChunksFor(timeout)}
	e.state = st

	if err := e.openSegment(true); err != nil {
		return errors.Join(closeErr, err)
	}
	st.recording = true

	e.logger.Info("Manual segment started",
		slog.Duration("silence_timeout", timeout),
		slog.Int("threshold_chunks", st.threshold),
	)
	return closeErr
}

// StopManual closes the open manual segment. Manual mode stays active.
func (e *Engine) StopManual() error {
	st, ok := e.state.(*manualState)
	if !ok {
		return ErrNotManual
	}

	st.recording = false
	st.silentChunks = 0
	return e.closeSegment(true)
}

// Process feeds one analysis-rate chunk and its speech verdict through the state
// machine, appending the chunk to the open segment when there is one.
func (e *Engine) Process(chunk []float32, speech bool) error {
	var err error

	switch st := e.state.(type) {
	case *manualState:
		err = e.processManual(st, chunk, speech)
	case *autoState:
		err = e.processAuto(st, chunk, speech)
	}

	if e.segment == nil {
		e.preroll.Push(chunk)
	}
	return err
}

func (e *Engine) processManual(st *manualState, chunk []float32, speech bool) error {
	if !st.recording {
		return nil
	}

	if speech {
		st.silentChunks = 0
	} else {
		st.silentChunks++
	}

	if st.silentChunks >= st.threshold {
		st.recording = false
		st.silentChunks = 0

		e.logger.Info("Manual segment silence timeout reached",
			slog.Int("threshold_chunks", st.threshold),
		)

		err := e.closeSegment(true)
		if e.onManualSilence != nil {
			e.onManualSilence()
		}
		return err
	}

	return e.write(chunk, speech)
}

func (e *Engine) processAuto(st *autoState, chunk []float32, speech bool) error {
	wasTriggered := st.triggered
	st.triggered = speech

	if speech {
		st.silentChunks = 0

		if e.segment == nil {
			if wasTriggered {
				// Still inside an utterance whose segment could not be opened
				return nil
			}
			if err := e.openSegment(false); err != nil {
				return err
			}
		}
		return e.write(chunk, true)
	}

	if e.segment == nil {
		return nil
	}

	st.silentChunks++
	if st.silentChunks >= st.threshold {
		st.silentChunks = 0
		return e.closeSegment(false)
	}

	return e.write(chunk, false)
}

// Flush finalizes any open segment without leaving the current mode
func (e *Engine) Flush() error {
	switch st := e.state.(type) {
	case *manualState:
		st.recording = false
		st.silentChunks = 0
	case *autoState:
		st.silentChunks = 0
		st.triggered = false
	}
	return e.closeSegment(false)
}

// EndSession finalizes any open segment and returns to idle
func (e *Engine) EndSession() error {
	err := e.closeSegment(false)
	e.state = idleState{}
	e.preroll.Clear()
	return err
}

// GetStats returns engine statistics
func (e *Engine) GetStats() EngineStats {
	stats := EngineStats{
		Mode:         e.state.mode().String(),
		Recording:    e.segment != nil,
		SegmentsOpen: e.opened,
	}

	switch st := e.state.(type) {
	case *manualState:
		stats.SilentChunks = st.silentChunks
		stats.Threshold = st.threshold
	case *autoState:
		stats.SilentChunks = st.silentChunks
		stats.Threshold = st.threshold
	}

	if e.segment != nil {
		stats.CurrentFile = e.segment.Filename()
		stats.CurrentFrames = e.segment.Samples()
	}

	return stats
}

func (e *Engine) openSegment(manual bool) error {
	seg, err := e.store.Create(manual)
	if err != nil {
		e.logger.Error("Failed to start segment",
			slog.Bool("manual", manual),
			slog.String("error", err.Error()),
		)
		return err
	}

	// Audio just before the onset goes in first
	if err := e.preroll.Each(func(chunk []float32) error {
		return seg.Write(chunk, false)
	}); err != nil {
		e.logger.Warn("Failed to write pre-roll",
			slog.String("filename", seg.Filename()),
			slog.String("error", err.Error()),
		)
	}
	e.preroll.Clear()

	e.segment = seg
	e.opened++

	mode := ModeAutoVAD.String()
	if manual {
		mode = ModeManual.String()
	}
	e.metrics.RecordSegmentStarted(mode)
	return nil
}

func (e *Engine) write(chunk []float32, speech bool) error {
	if e.segment == nil {
		return nil
	}

	if err := e.segment.Write(chunk, speech); err != nil {
		e.logger.Error("Failed to write segment audio",
			slog.String("filename", e.segment.Filename()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// closeSegment finalizes the open segment, if any. trim applies the trailing
// silence policy.
func (e *Engine) closeSegment(trim bool) error {
	if e.segment == nil {
		return nil
	}

	seg := e.segment
	e.segment = nil

	if _, err := e.store.Finish(seg, trim); err != nil {
		e.logger.Error("Failed to finalize segment",
			slog.String("filename", seg.Filename()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
