package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/audio"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/capture"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/config"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/device"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/metrics"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/playback"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/segment"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/sink"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/vad"
)

var (
	// ErrPlaybackOnly is returned by recording operations during a playback-only session
	ErrPlaybackOnly = errors.New("engine is in playback-only mode")

	// ErrNotInitialized is returned when an operation needs a session that is not running
	ErrNotInitialized = errors.New("engine session is not initialized")

	// ErrRecording is returned when playback-only mode is requested while recording
	ErrRecording = errors.New("recorder is running")
)

// SegmentHandler receives every finished segment
type SegmentHandler func(filename, relativePath string, isManual bool, durationSeconds float64)

// Stats represents a snapshot of the whole engine
type Stats struct {
	SessionID     string              `json:"session_id,omitempty"`
	Recording     bool                `json:"recording"`
	PlaybackOnly  bool                `json:"playback_only"`
	DeviceRunning bool                `json:"device_running"`
	Buffer        audio.BufferStats   `json:"buffer"`
	Capture       capture.Stats       `json:"capture"`
	Segmentation  segment.EngineStats `json:"segmentation"`
	Store         segment.StoreStats  `json:"store"`
	VAD           vad.ProcessorStats  `json:"vad"`
	Playback      playback.State      `json:"playback"`
	Upload        *sink.Stats         `json:"upload,omitempty"`
}

// Engine owns every audio component and the device stream
type Engine struct {
	config  *config.Config
	backend device.Backend
	logger  *slog.Logger
	metrics *metrics.Metrics

	buffer    *audio.TransferBuffer
	processor *vad.Processor
	poller    *vad.Poller
	store     *segment.Store
	worker    *capture.Worker
	scheduler *playback.Scheduler
	uploader  *sink.Uploader

	capturing atomic.Bool // Gates the producer side of the transfer buffer

	initMu       sync.Mutex
	device       *device.Manager
	deviceInput  bool
	recording    bool
	playbackOnly bool
	sessionID    string

	cbMu            sync.RWMutex
	onSegment       SegmentHandler
	onManualSilence func()
}

// New builds an engine from configuration. No device stream is opened until a
// recorder or player operation needs one.
func New(cfg *config.Config, backend device.Backend, logger *slog.Logger, m *metrics.Metrics) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if backend == nil {
		return nil, fmt.Errorf("device backend cannot be nil")
	}

	if cfg.Capture.Source == config.SourceDevice && cfg.Capture.SampleRate != cfg.Playback.SampleRate {
		return nil, fmt.Errorf("device capture runs a duplex stream: capture rate %d must match playback rate %d",
			cfg.Capture.SampleRate, cfg.Playback.SampleRate)
	}

	buffer, err := audio.NewTransferBuffer(cfg.Capture.BufferCapacity, cfg.Capture.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer buffer: %w", err)
	}

	processor := vad.NewProcessor(cfg.VAD.Sensitivity, cfg.VAD.Smoothing)
	poller := vad.NewPoller(processor, cfg.VAD.GetPollTimeout())

	store, err := segment.NewStore(segment.StoreConfig{
		Root:       cfg.Storage.Root,
		Dir:        cfg.Segment.Dir,
		RecordRate: cfg.Capture.AnalysisRate,
		FinalRate:  cfg.Segment.FinalRate,
		MinTrim:    cfg.Segment.GetMinTrim(),
	}, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment store: %w", err)
	}

	segmenter, err := segment.NewEngine(segment.Config{
		ChunkInterval: cfg.GetChunkInterval(),
		ChunkSize:     cfg.GetAnalysisChunkSize(),
		AutoSilence:   cfg.Segment.GetAutoSilence(),
		ManualTimeout: cfg.Segment.GetManualTimeout(),
		PreRoll:       cfg.Segment.GetPreRoll(),
	}, store, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create segmentation engine: %w", err)
	}

	worker, err := capture.NewWorker(capture.Config{
		TickInterval: cfg.Capture.GetTickInterval(),
		CaptureRate:  cfg.Capture.SampleRate,
		AnalysisRate: cfg.Capture.AnalysisRate,
	}, buffer, poller, segmenter, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture worker: %w", err)
	}

	scheduler, err := playback.NewScheduler(playback.Config{
		SampleRate:       cfg.Playback.SampleRate,
		Crossfade:        cfg.Playback.GetCrossfade(),
		FadeSteps:        cfg.Playback.FadeSteps,
		ProgressInterval: cfg.Playback.GetProgressInterval(),
		EndMargin:        cfg.Playback.GetEndMargin(),
	}, playback.SystemClock(), logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create playback scheduler: %w", err)
	}
	scheduler.SetLoop(cfg.Playback.Loop)
	scheduler.SetVolume(cfg.Playback.Volume)

	e := &Engine{
		config:    cfg,
		backend:   backend,
		logger:    logger,
		metrics:   m,
		buffer:    buffer,
		processor: processor,
		poller:    poller,
		store:     store,
		worker:    worker,
		scheduler: scheduler,
	}

	if cfg.Upload.Enabled {
		e.uploader, err = sink.NewUploader(sink.Config{
			Endpoint:      cfg.Upload.Endpoint,
			APIKey:        cfg.Upload.APIKey,
			Timeout:       cfg.Upload.GetTimeoutDuration(),
			MaxRetries:    cfg.Upload.MaxRetries,
			MaxConcurrent: cfg.Upload.MaxConcurrent,
		}, logger, m)
		if err != nil {
			return nil, fmt.Errorf("failed to create segment uploader: %w", err)
		}
	}

	store.SetCompletionHandler(e.handleCompletion)
	segmenter.SetManualSilenceHandler(e.handleManualSilence)

	return e, nil
}

// Config returns the configuration the engine was built with
func (e *Engine) Config() *config.Config {
	return e.config
}

// CaptureInput hands one capture chunk to the transfer buffer. It is the single
// producer entry point for both the device callback and network capture; chunks
// arriving while the recorder is stopped are discarded.
func (e *Engine) CaptureInput(samples []float32) bool {
	if !e.capturing.Load() {
		return false
	}
	return e.buffer.Write(samples)
}

// StartRecorder opens the capture path and starts the worker. A new naming session
// begins unless one is already in progress.
func (e *Engine) StartRecorder(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	if e.playbackOnly {
		return ErrPlaybackOnly
	}

	if e.recording {
		return capture.ErrAlreadyRunning
	}

	if e.sessionID == "" {
		e.beginSessionLocked()
	}

	if e.config.Capture.Source == config.SourceDevice {
		if err := e.ensureDeviceLocked(true); err != nil {
			return fmt.Errorf("failed to start device: %w", err)
		}
	}

	e.capturing.Store(true)
	if err := e.worker.Start(ctx); err != nil {
		e.capturing.Store(false)
		return err
	}
	e.recording = true

	e.logger.Info("Recorder started",
		slog.String("session_id", e.sessionID),
		slog.String("source", e.config.Capture.Source),
	)
	return nil
}

// StopRecorder stops capture, drains the buffer and finalizes any open segment.
// The segmentation mode and the device stream stay as they are.
func (e *Engine) StopRecorder() error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	return e.stopRecorderLocked()
}

func (e *Engine) stopRecorderLocked() error {
	if !e.recording {
		return nil
	}

	e.capturing.Store(false)
	e.worker.Stop()
	e.recording = false

	err := e.worker.Do(func(s *segment.Engine) error {
		return s.Flush()
	})

	e.logger.Info("Recorder stopped", slog.String("session_id", e.sessionID))
	return err
}

// EndEngineSession stops recording and playback, returns segmentation to idle and
// closes the device stream. The next StartRecorder begins a new naming session.
func (e *Engine) EndEngineSession() error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	stopErr := e.stopRecorderLocked()

	endErr := e.worker.Do(func(s *segment.Engine) error {
		return s.EndSession()
	})

	e.scheduler.Stop()
	e.scheduler.StopAmbient(0)
	closeErr := e.closeDeviceLocked()

	e.poller.Reset()
	e.processor.Reset()
	e.playbackOnly = false

	e.logger.Info("Engine session ended", slog.String("session_id", e.sessionID))
	e.sessionID = ""

	return errors.Join(stopErr, endErr, closeErr)
}

// InitializePlaybackOnly opens an output-only stream. Recording operations are
// refused until EndPlaybackOnlySession.
func (e *Engine) InitializePlaybackOnly() error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	if e.recording {
		return ErrRecording
	}

	if e.playbackOnly {
		return nil
	}

	if e.device != nil && e.deviceInput {
		if err := e.closeDeviceLocked(); err != nil {
			return err
		}
	}

	if err := e.ensureDeviceLocked(false); err != nil {
		return fmt.Errorf("failed to start device: %w", err)
	}
	e.playbackOnly = true

	e.logger.Info("Playback-only session initialized")
	return nil
}

// EndPlaybackOnlySession stops playback and closes the output-only stream
func (e *Engine) EndPlaybackOnlySession() error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	if !e.playbackOnly {
		return ErrNotInitialized
	}

	e.scheduler.Stop()
	e.scheduler.StopAmbient(0)
	err := e.closeDeviceLocked()
	e.playbackOnly = false

	e.logger.Info("Playback-only session ended")
	return err
}

// IsInPlaybackOnlyMode reports whether a playback-only session is active
func (e *Engine) IsInPlaybackOnlyMode() bool {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	return e.playbackOnly
}

// IsRecording reports whether the recorder is running
func (e *Engine) IsRecording() bool {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	return e.recording
}

// SessionID returns the current session identifier, empty between sessions
func (e *Engine) SessionID() string {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	return e.sessionID
}

// Close ends the session and waits up to timeout for pending uploads
func (e *Engine) Close(timeout time.Duration) error {
	err := e.EndEngineSession()
	if e.uploader != nil {
		err = errors.Join(err, e.uploader.Close(timeout))
	}
	return err
}

func (e *Engine) beginSessionLocked() {
	now := time.Now()
	e.sessionID = uuid.NewString()
	e.store.BeginSession(now)

	e.logger.Info("Engine session started",
		slog.String("session_id", e.sessionID),
		slog.Int64("session_timestamp", now.Unix()),
	)
}

// ensureDeviceLocked opens the device stream on first use and restarts it if it
// stopped. An output-only stream is reopened as duplex when capture needs input.
func (e *Engine) ensureDeviceLocked(input bool) error {
	input = input && e.config.Capture.Source == config.SourceDevice

	if e.device != nil && input && !e.deviceInput {
		if err := e.closeDeviceLocked(); err != nil {
			return err
		}
	}

	if e.device == nil {
		var in func([]float32)
		rate := e.config.Playback.SampleRate
		if input {
			in = func(samples []float32) { e.CaptureInput(samples) }
			rate = e.config.Capture.SampleRate
		}

		mgr, err := device.NewManager(e.backend, device.StreamConfig{
			SampleRate:      rate,
			FramesPerBuffer: e.config.Capture.ChunkSize,
		}, in, e.scheduler.Render, e.logger, e.metrics)
		if err != nil {
			return err
		}
		e.device = mgr
		e.deviceInput = input
	}

	return e.device.EnsureRunning()
}

func (e *Engine) closeDeviceLocked() error {
	if e.device == nil {
		return nil
	}

	err := e.device.Close()
	e.device = nil
	e.deviceInput = false
	return err
}

func (e *Engine) ensurePlayback() error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	if err := e.ensureDeviceLocked(false); err != nil {
		return fmt.Errorf("failed to start device: %w", err)
	}
	return nil
}

// SetSegmentCallback installs the handler for finished segments. Handlers run on the
// capture worker and must not call back into the engine synchronously.
func (e *Engine) SetSegmentCallback(fn SegmentHandler) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onSegment = fn
}

// SetManualSilenceCallback installs the handler fired when a manual segment ends on
// its silence timeout
func (e *Engine) SetManualSilenceCallback(fn func()) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onManualSilence = fn
}

func (e *Engine) handleCompletion(c segment.Completion) {
	if e.uploader != nil {
		e.uploader.Enqueue(c)
	}

	e.cbMu.RLock()
	fn := e.onSegment
	e.cbMu.RUnlock()

	if fn != nil {
		fn(c.Filename, c.RelativePath, c.IsManual, c.Duration)
	}
}

func (e *Engine) handleManualSilence() {
	e.cbMu.RLock()
	fn := e.onManualSilence
	e.cbMu.RUnlock()

	if fn != nil {
		fn()
	}
}

// GetStats returns a snapshot of every component
func (e *Engine) GetStats() Stats {
	e.initMu.Lock()
	stats := Stats{
		SessionID:     e.sessionID,
		Recording:     e.recording,
		PlaybackOnly:  e.playbackOnly,
		DeviceRunning: e.device != nil && e.device.Running(),
	}
	e.initMu.Unlock()

	e.worker.Do(func(s *segment.Engine) error {
		stats.Segmentation = s.GetStats()
		return nil
	})

	stats.Buffer = e.buffer.GetStats()
	stats.Capture = e.worker.GetStats()
	stats.Store = e.store.GetStats()
	stats.VAD = e.processor.GetStats()
	stats.Playback = e.scheduler.GetState()

	if e.uploader != nil {
		upload := e.uploader.GetStats()
		stats.Upload = &upload
	}

	return stats
}
