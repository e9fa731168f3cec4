package capture

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/audio"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/segment"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/vad"
)

type classifierFunc func(ctx context.Context, samples []float32) (bool, error)

func (f classifierFunc) Classify(ctx context.Context, samples []float32) (bool, error) {
	return f(ctx, samples)
}

type harness struct {
	buffer *audio.TransferBuffer
	worker *Worker

	mu          sync.Mutex
	completions []segment.Completion
}

func (h *harness) completed() []segment.Completion {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]segment.Completion(nil), h.completions...)
}

func newHarness(t *testing.T, captureRate, analysisRate int, classifier vad.Classifier) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{}

	buffer, err := audio.NewTransferBuffer(16, 160)
	if err != nil {
		t.Fatalf("NewTransferBuffer failed: %v", err)
	}
	h.buffer = buffer

	store, err := segment.NewStore(segment.StoreConfig{
		Root:       t.TempDir(),
		Dir:        "segments",
		RecordRate: analysisRate,
	}, logger, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	store.SetCompletionHandler(func(c segment.Completion) {
		h.mu.Lock()
		h.completions = append(h.completions, c)
		h.mu.Unlock()
	})

	engine, err := segment.NewEngine(segment.Config{
		ChunkInterval: 10 * time.Millisecond,
		ChunkSize:     160,
		AutoSilence:   30 * time.Millisecond,
	}, store, logger, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if classifier == nil {
		classifier = vad.NewProcessor(vad.DefaultSensitivity, 1)
	}

	worker, err := NewWorker(Config{
		TickInterval: time.Millisecond,
		CaptureRate:  captureRate,
		AnalysisRate: analysisRate,
	}, buffer, vad.NewPoller(classifier, 20*time.Millisecond), engine, logger, nil)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	h.worker = worker
	return h
}

func chunk(n int, v float32) []float32 {
	c := make([]float32, n)
	for i := range c {
		c[i] = v
	}
	return c
}

func TestNewWorkerValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	buffer, _ := audio.NewTransferBuffer(4, 16)

	if _, err := NewWorker(Config{CaptureRate: 16000}, buffer, nil, nil, logger, nil); err == nil {
		t.Error("Expected error for missing collaborators")
	}
}

func TestDrainEmptiesBuffer(t *testing.T) {
	h := newHarness(t, 16000, 16000, nil)

	for i := 0; i < 5; i++ {
		h.buffer.Write(chunk(160, 0))
	}

	if n := h.worker.Drain(); n != 5 {
		t.Errorf("Expected 5 chunks drained, got %d", n)
	}
	if h.buffer.Available() != 0 {
		t.Errorf("Expected empty buffer, got %d available", h.buffer.Available())
	}
	if got := h.worker.GetStats().ChunksProcessed; got != 5 {
		t.Errorf("Expected 5 processed chunks, got %d", got)
	}
}

func TestAutoVADSegmentFromBuffer(t *testing.T) {
	h := newHarness(t, 16000, 16000, nil)

	if err := h.worker.Do(func(e *segment.Engine) error {
		return e.SetMode(segment.ModeAutoVAD)
	}); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}

	h.buffer.Write(chunk(160, 0))
	h.buffer.Write(chunk(160, 0.5))
	h.buffer.Write(chunk(160, 0.5))
	for i := 0; i < 3; i++ {
		h.buffer.Write(chunk(160, 0))
	}

	h.worker.Drain()

	if got := h.completed(); len(got) != 1 {
		t.Fatalf("Expected 1 completion, got %d", len(got))
	}
}

func TestStopPerformsFinalDrain(t *testing.T) {
	h := newHarness(t, 16000, 16000, nil)
	h.worker.Do(func(e *segment.Engine) error { return e.StartManual(time.Second) })

	if err := h.worker.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.worker.Start(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	for i := 0; i < 10; i++ {
		h.buffer.Write(chunk(160, 0.5))
	}
	h.worker.Stop()

	if h.worker.Running() {
		t.Error("Expected worker stopped")
	}
	if h.buffer.Available() != 0 {
		t.Errorf("Expected buffer drained on stop, got %d", h.buffer.Available())
	}
	if got := h.worker.GetStats().ChunksProcessed; got != 10 {
		t.Errorf("Expected 10 processed chunks, got %d", got)
	}

	// Stopping again is harmless
	h.worker.Stop()
}

func TestResampleFailureSkipsChunk(t *testing.T) {
	h := newHarness(t, 48000, 16000, nil)

	// One frame at 48kHz rounds to zero output frames at 16kHz
	h.buffer.Write(chunk(1, 0.5))
	h.buffer.Write(chunk(150, 0.5))

	h.worker.Drain()

	stats := h.worker.GetStats()
	if stats.ResampleFailures != 1 {
		t.Errorf("Expected 1 resample failure, got %d", stats.ResampleFailures)
	}
	if stats.ChunksProcessed != 1 {
		t.Errorf("Expected 1 processed chunk, got %d", stats.ChunksProcessed)
	}
}

func TestSlowClassifierKeepsPreviousVerdict(t *testing.T) {
	slow := classifierFunc(func(ctx context.Context, samples []float32) (bool, error) {
		<-ctx.Done()
		return true, ctx.Err()
	})
	h := newHarness(t, 16000, 16000, slow)

	h.buffer.Write(chunk(160, 0.5))
	h.buffer.Write(chunk(160, 0.5))
	h.worker.Drain()

	if got := h.worker.GetStats().StaleVerdicts; got != 2 {
		t.Errorf("Expected 2 stale verdicts, got %d", got)
	}
}

func TestOverflowCounted(t *testing.T) {
	h := newHarness(t, 16000, 16000, nil)

	for i := 0; i < 20; i++ {
		h.buffer.Write(chunk(160, 0))
	}

	h.worker.Drain()

	if got := h.worker.GetStats().Overflows; got != 4 {
		t.Errorf("Expected 4 overflows, got %d", got)
	}
}
