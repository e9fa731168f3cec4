package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/audio"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/metrics"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/segment"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/vad"
)

// DefaultTickInterval is how often the worker drains the transfer buffer
const DefaultTickInterval = 10 * time.Millisecond

// ErrAlreadyRunning is returned by Start when the worker loop is active
var ErrAlreadyRunning = errors.New("capture worker already running")

// Config contains capture worker configuration
type Config struct {
	TickInterval time.Duration
	CaptureRate  int // Rate of chunks written into the transfer buffer
	AnalysisRate int // Rate the VAD and segment files run at
}

// Stats represents capture worker statistics
type Stats struct {
	Running          bool   `json:"running"`
	Ticks            uint64 `json:"ticks"`
	ChunksProcessed  uint64 `json:"chunks_processed"`
	ResampleFailures uint64 `json:"resample_failures"`
	StaleVerdicts    uint64 `json:"stale_verdicts"`
	SegmentErrors    uint64 `json:"segment_errors"`
	Overflows        uint64 `json:"overflows"`
}

// Worker is the single consumer of a TransferBuffer and the owner of the segmentation
// engine. Commands that change segmentation state go through Do so they are
// serialized with chunk processing.
type Worker struct {
	config    Config
	buffer    *audio.TransferBuffer
	resampler *audio.StreamResampler
	poller    *vad.Poller
	engine    *segment.Engine
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu            sync.Mutex // Held while draining or running a command
	scratch       []float32
	lastOverflows uint64

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	ticks            atomic.Uint64
	chunksProcessed  atomic.Uint64
	resampleFailures atomic.Uint64
	staleVerdicts    atomic.Uint64
	segmentErrors    atomic.Uint64
}

// NewWorker creates a stopped worker
func NewWorker(config Config, buffer *audio.TransferBuffer, poller *vad.Poller, engine *segment.Engine, logger *slog.Logger, m *metrics.Metrics) (*Worker, error) {
	if buffer == nil || poller == nil || engine == nil {
		return nil, fmt.Errorf("buffer, poller and engine are required")
	}

	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}

	if config.AnalysisRate <= 0 {
		config.AnalysisRate = config.CaptureRate
	}

	resampler, err := audio.NewStreamResampler(config.CaptureRate, config.AnalysisRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	return &Worker{
		config:    config,
		buffer:    buffer,
		resampler: resampler,
		poller:    poller,
		engine:    engine,
		logger:    logger,
		metrics:   m,
		scratch:   make([]float32, buffer.ChunkSize()),
	}, nil
}

// Start launches the drain loop
func (w *Worker) Start(ctx context.Context) error {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if w.running.Load() {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running.Store(true)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(loopCtx)
	}()

	w.logger.Info("Capture worker started",
		slog.Duration("tick_interval", w.config.TickInterval),
		slog.Int("capture_rate", w.config.CaptureRate),
		slog.Int("analysis_rate", w.config.AnalysisRate),
	)
	return nil
}

// Stop cancels the loop, waits for it to exit and drains whatever is left in the
// buffer. It is safe to call on a stopped worker.
func (w *Worker) Stop() {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if w.running.Load() {
		w.cancel()
		w.wg.Wait()
		w.running.Store(false)
	}

	processed := w.Drain()

	w.logger.Info("Capture worker stopped",
		slog.Int("final_drain_chunks", processed),
		slog.Uint64("chunks_processed", w.chunksProcessed.Load()),
	)
}

// Running reports whether the drain loop is active
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Do runs fn with exclusive access to the segmentation engine
func (w *Worker) Do(fn func(e *segment.Engine) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn(w.engine)
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Capture loop stopping")
			return
		case <-ticker.C:
			w.ticks.Add(1)
			w.Drain()
		}
	}
}

// Drain processes chunks until the buffer is empty and returns how many it handled
func (w *Worker) Drain() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	available := w.buffer.Available()
	processed := 0

	for {
		n, ok := w.buffer.Read(w.scratch)
		if !ok {
			break
		}
		processed++
		w.process(w.scratch[:n])
	}

	if overflows := w.buffer.Overflows(); overflows > w.lastOverflows {
		delta := overflows - w.lastOverflows
		w.lastOverflows = overflows
		w.metrics.RecordOverflows(delta)
		w.logger.Warn("Transfer buffer overflow, chunks dropped",
			slog.Uint64("dropped", delta),
			slog.Uint64("total", overflows),
		)
	}

	if processed > 0 {
		w.metrics.RecordDrain(available, processed, time.Since(start).Seconds())
	}
	return processed
}

func (w *Worker) process(chunk []float32) {
	converted, err := w.resampler.Convert(chunk)
	if err != nil {
		w.resampleFailures.Add(1)
		w.metrics.RecordResampleFailure()
		w.logger.Debug("Dropping chunk after resample failure",
			slog.Int("frames", len(chunk)),
			slog.String("error", err.Error()),
		)
		return
	}

	verdict := w.poller.Verdict(converted)
	if verdict.Stale {
		w.staleVerdicts.Add(1)
		reason := "timeout"
		if verdict.Err != nil {
			reason = "error"
		}
		w.metrics.RecordVADStale(reason)
	}
	w.metrics.RecordVADVerdict(verdict.Speech)

	if err := w.engine.Process(converted, verdict.Speech); err != nil {
		w.segmentErrors.Add(1)
	}
	w.chunksProcessed.Add(1)
}

// GetStats returns worker statistics
func (w *Worker) GetStats() Stats {
	return Stats{
		Running:          w.running.Load(),
		Ticks:            w.ticks.Load(),
		ChunksProcessed:  w.chunksProcessed.Load(),
		ResampleFailures: w.resampleFailures.Load(),
		StaleVerdicts:    w.staleVerdicts.Load(),
		SegmentErrors:    w.segmentErrors.Load(),
		Overflows:        w.buffer.Overflows(),
	}
}
