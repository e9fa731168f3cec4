package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/audio"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/capture"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/config"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/device"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/segment"
)

const testRate = 16000

type segmentRecord struct {
	filename string
	relPath  string
	manual   bool
	duration float64
}

type recorder struct {
	mu       sync.Mutex
	segments []segmentRecord
}

func (r *recorder) handle(filename, relPath string, isManual bool, duration float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments = append(r.segments, segmentRecord{filename, relPath, isManual, duration})
}

func (r *recorder) get() []segmentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]segmentRecord(nil), r.segments...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Capture.Backend = "null"
	cfg.Capture.SampleRate = testRate
	cfg.Capture.AnalysisRate = testRate
	cfg.Capture.ChunkSize = 160
	cfg.Segment.FinalRate = testRate
	cfg.Segment.AutoSilence = 0.05
	cfg.Playback.SampleRate = testRate
	cfg.Storage.Root = t.TempDir()
	return cfg
}

func newTestEngine(t *testing.T, fill func([]float32)) *Engine {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := New(testConfig(t), &device.Null{Fill: fill}, logger, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { e.Close(time.Second) })
	return e
}

func loud(in []float32) {
	for i := range in {
		in[i] = 0.5
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func writeTone(t *testing.T, seconds float64) string {
	t.Helper()

	n := int(seconds * testRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/testRate))
	}

	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := audio.WriteWAVFile(path, samples, testRate); err != nil {
		t.Fatalf("WriteWAVFile failed: %v", err)
	}
	return path
}

func TestNewValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := New(nil, &device.Null{}, logger, nil); err == nil {
		t.Error("Expected error for nil config")
	}

	if _, err := New(testConfig(t), nil, logger, nil); err == nil {
		t.Error("Expected error for nil backend")
	}

	cfg := testConfig(t)
	cfg.Playback.SampleRate = 48000
	if _, err := New(cfg, &device.Null{}, logger, nil); err == nil {
		t.Error("Expected error for mismatched duplex rates")
	}

	cfg.Capture.Source = config.SourceNetwork
	if _, err := New(cfg, &device.Null{}, logger, nil); err != nil {
		t.Errorf("Expected network capture to allow differing rates, got %v", err)
	}
}

func TestAutoVADRecording(t *testing.T) {
	e := newTestEngine(t, loud)
	rec := &recorder{}
	e.SetSegmentCallback(rec.handle)

	if err := e.SetVADMode(); err != nil {
		t.Fatalf("SetVADMode failed: %v", err)
	}
	if err := e.StartRecorder(context.Background()); err != nil {
		t.Fatalf("StartRecorder failed: %v", err)
	}

	if err := e.StartRecorder(context.Background()); !errors.Is(err, capture.ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	if e.SessionID() == "" {
		t.Error("Expected a session id")
	}

	waitFor(t, "segment to open", e.IsSegmentRecording)

	if err := e.StopRecorder(); err != nil {
		t.Fatalf("StopRecorder failed: %v", err)
	}

	segments := rec.get()
	if len(segments) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(segments))
	}
	if segments[0].manual {
		t.Error("Expected an automatic segment")
	}
	if segments[0].duration <= 0 {
		t.Errorf("Expected positive duration, got %f", segments[0].duration)
	}
	if filepath.Base(segments[0].relPath) != segments[0].filename {
		t.Errorf("Relative path %s does not end in %s", segments[0].relPath, segments[0].filename)
	}

	if e.CurrentMode() != segment.ModeAutoVAD {
		t.Errorf("Expected autoVAD mode to survive StopRecorder, got %s", e.CurrentMode())
	}
	if e.IsRecording() {
		t.Error("Expected recorder to be stopped")
	}
}

func TestManualSegment(t *testing.T) {
	e := newTestEngine(t, loud)
	rec := &recorder{}
	e.SetSegmentCallback(rec.handle)

	if err := e.StartManualSegment(time.Second); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized before recording, got %v", err)
	}

	if err := e.StartRecorder(context.Background()); err != nil {
		t.Fatalf("StartRecorder failed: %v", err)
	}
	if err := e.StartManualSegment(time.Second); err != nil {
		t.Fatalf("StartManualSegment failed: %v", err)
	}

	if !e.IsSegmentRecording() {
		t.Error("Expected an open segment")
	}
	if e.CurrentMode() != segment.ModeManual {
		t.Errorf("Expected manual mode, got %s", e.CurrentMode())
	}

	waitFor(t, "captured audio", func() bool {
		return e.GetStats().Capture.ChunksProcessed > 5
	})

	if err := e.StopManualSegment(); err != nil {
		t.Fatalf("StopManualSegment failed: %v", err)
	}

	// Stopping again is a no-op
	if err := e.StopManualSegment(); err != nil {
		t.Errorf("Second StopManualSegment returned error: %v", err)
	}

	segments := rec.get()
	if len(segments) != 1 || !segments[0].manual {
		t.Fatalf("Expected 1 manual segment, got %+v", segments)
	}
}

func TestManualSilenceCallback(t *testing.T) {
	e := newTestEngine(t, nil)
	fired := make(chan struct{}, 1)
	e.SetManualSilenceCallback(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	if err := e.StartRecorder(context.Background()); err != nil {
		t.Fatalf("StartRecorder failed: %v", err)
	}
	if err := e.StartManualSegment(50 * time.Millisecond); err != nil {
		t.Fatalf("StartManualSegment failed: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected manual silence callback")
	}

	if e.IsSegmentRecording() {
		t.Error("Expected segment closed after silence timeout")
	}
}

func TestPlaybackOnlyMode(t *testing.T) {
	e := newTestEngine(t, nil)

	if err := e.InitializePlaybackOnly(); err != nil {
		t.Fatalf("InitializePlaybackOnly failed: %v", err)
	}
	if !e.IsInPlaybackOnlyMode() {
		t.Error("Expected playback-only mode")
	}

	if err := e.StartRecorder(context.Background()); !errors.Is(err, ErrPlaybackOnly) {
		t.Errorf("Expected ErrPlaybackOnly from StartRecorder, got %v", err)
	}
	if err := e.SetVADMode(); !errors.Is(err, ErrPlaybackOnly) {
		t.Errorf("Expected ErrPlaybackOnly from SetVADMode, got %v", err)
	}
	if err := e.StartManualSegment(0); !errors.Is(err, ErrPlaybackOnly) {
		t.Errorf("Expected ErrPlaybackOnly from StartManualSegment, got %v", err)
	}

	if !e.GetStats().DeviceRunning {
		t.Error("Expected output stream running")
	}

	if err := e.EndPlaybackOnlySession(); err != nil {
		t.Fatalf("EndPlaybackOnlySession failed: %v", err)
	}
	if e.IsInPlaybackOnlyMode() {
		t.Error("Expected playback-only mode to end")
	}
	if err := e.EndPlaybackOnlySession(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}

	if err := e.StartRecorder(context.Background()); err != nil {
		t.Errorf("Expected recorder to start after playback-only session, got %v", err)
	}
	if err := e.InitializePlaybackOnly(); !errors.Is(err, ErrRecording) {
		t.Errorf("Expected ErrRecording, got %v", err)
	}
}

func TestEndEngineSession(t *testing.T) {
	e := newTestEngine(t, loud)
	rec := &recorder{}
	e.SetSegmentCallback(rec.handle)

	e.SetVADMode()
	if err := e.StartRecorder(context.Background()); err != nil {
		t.Fatalf("StartRecorder failed: %v", err)
	}
	waitFor(t, "segment to open", e.IsSegmentRecording)

	if err := e.EndEngineSession(); err != nil {
		t.Fatalf("EndEngineSession failed: %v", err)
	}

	if e.CurrentMode() != segment.ModeIdle {
		t.Errorf("Expected idle mode, got %s", e.CurrentMode())
	}
	if e.SessionID() != "" {
		t.Error("Expected session id to be cleared")
	}
	if len(rec.get()) != 1 {
		t.Errorf("Expected open segment to be finalized, got %d segments", len(rec.get()))
	}
	if e.GetStats().DeviceRunning {
		t.Error("Expected device stream closed")
	}
}

func TestCaptureInputGated(t *testing.T) {
	e := newTestEngine(t, nil)

	if e.CaptureInput(make([]float32, 160)) {
		t.Error("Expected capture input to be dropped while stopped")
	}

	if err := e.StartRecorder(context.Background()); err != nil {
		t.Fatalf("StartRecorder failed: %v", err)
	}
	if !e.CaptureInput(make([]float32, 160)) {
		t.Error("Expected capture input to be accepted while recording")
	}
}

func TestSetVADThreshold(t *testing.T) {
	e := newTestEngine(t, nil)

	tests := []struct {
		in       float32
		expected float32
	}{
		{0.5, 0.5},
		{2, 1},
		{-1, 0},
	}

	for _, tt := range tests {
		if got := e.SetVADThreshold(tt.in); got != tt.expected {
			t.Errorf("SetVADThreshold(%f): expected %f, got %f", tt.in, tt.expected, got)
		}
	}
}

func TestPlayerOperations(t *testing.T) {
	e := newTestEngine(t, nil)
	path := writeTone(t, 2)

	if err := e.StartPlayer(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing source")
	}

	if err := e.StartPlayer("file://" + path); err != nil {
		t.Fatalf("StartPlayer failed: %v", err)
	}

	if d := e.GetDuration(); math.Abs(d-2000) > 1 {
		t.Errorf("Expected duration 2000ms, got %f", d)
	}

	waitFor(t, "playback to advance", func() bool {
		return e.GetCurrentPosition() > 0
	})

	if err := e.PausePlayer(); err != nil {
		t.Fatalf("PausePlayer failed: %v", err)
	}
	if !e.GetStats().Playback.Paused {
		t.Error("Expected paused state")
	}
	if err := e.ResumePlayer(); err != nil {
		t.Fatalf("ResumePlayer failed: %v", err)
	}

	if err := e.SeekToPlayer(500 * time.Millisecond); err != nil {
		t.Fatalf("SeekToPlayer failed: %v", err)
	}
	if pos := e.GetCurrentPosition(); pos < 500 {
		t.Errorf("Expected position at least 500ms after seek, got %f", pos)
	}

	e.SetVolume(0.5)
	e.SetLoopEnabled(false)
	if state := e.GetStats().Playback; state.Volume != 0.5 || state.Loop {
		t.Errorf("Unexpected playback state %+v", state)
	}

	if err := e.StartAmbientLoop(path, 0.2, 0); err != nil {
		t.Fatalf("StartAmbientLoop failed: %v", err)
	}
	if !e.GetStats().Playback.AmbientPlaying {
		t.Error("Expected ambient voice playing")
	}
	e.StopAmbientLoop(0)

	e.StopPlayer()
	if e.GetStats().Playback.Playing {
		t.Error("Expected playback stopped")
	}
}

func TestPlaybackEndListener(t *testing.T) {
	e := newTestEngine(t, nil)
	path := writeTone(t, 0.2)

	ended := make(chan struct{}, 2)
	e.SetPlaybackEndListener(func() { ended <- struct{}{} })
	e.SetLoopEnabled(false)

	if err := e.StartPlayer(path); err != nil {
		t.Fatalf("StartPlayer failed: %v", err)
	}

	select {
	case <-ended:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected playback end")
	}

	select {
	case <-ended:
		t.Error("Expected playback end to fire once")
	case <-time.After(200 * time.Millisecond):
	}
}
