package engine

import (
	"log/slog"
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/segment"
)

// SetMode switches the segmentation mode, finalizing any open segment first
func (e *Engine) SetMode(mode segment.Mode) error {
	if e.IsInPlaybackOnlyMode() && mode != segment.ModeIdle {
		return ErrPlaybackOnly
	}

	return e.worker.Do(func(s *segment.Engine) error {
		return s.SetMode(mode)
	})
}

// SetVADMode selects automatic voice-activated segmentation
func (e *Engine) SetVADMode() error {
	return e.SetMode(segment.ModeAutoVAD)
}

// SetManualMode selects manual segmentation
func (e *Engine) SetManualMode() error {
	return e.SetMode(segment.ModeManual)
}

// SetIdleMode stops segmentation
func (e *Engine) SetIdleMode() error {
	return e.SetMode(segment.ModeIdle)
}

// CurrentMode returns the active segmentation mode
func (e *Engine) CurrentMode() segment.Mode {
	var mode segment.Mode
	e.worker.Do(func(s *segment.Engine) error {
		mode = s.Mode()
		return nil
	})
	return mode
}

// IsSegmentRecording reports whether a segment file is open
func (e *Engine) IsSegmentRecording() bool {
	var recording bool
	e.worker.Do(func(s *segment.Engine) error {
		recording = s.IsRecording()
		return nil
	})
	return recording
}

// StartManualSegment opens a manual segment that closes after timeout of continuous
// silence. A non-positive timeout uses the configured default.
func (e *Engine) StartManualSegment(timeout time.Duration) error {
	e.initMu.Lock()
	playbackOnly, recording := e.playbackOnly, e.recording
	e.initMu.Unlock()

	if playbackOnly {
		return ErrPlaybackOnly
	}
	if !recording {
		return ErrNotInitialized
	}

	return e.worker.Do(func(s *segment.Engine) error {
		return s.StartManual(timeout)
	})
}

// StopManualSegment closes the open manual segment
func (e *Engine) StopManualSegment() error {
	return e.worker.Do(func(s *segment.Engine) error {
		return s.StopManual()
	})
}

// SetVADThreshold updates the VAD sensitivity and returns the clamped value in effect
func (e *Engine) SetVADThreshold(sensitivity float32) float32 {
	applied := e.processor.SetSensitivity(sensitivity)

	e.logger.Info("VAD sensitivity changed",
		slog.Float64("requested", float64(sensitivity)),
		slog.Float64("sensitivity", float64(applied)),
	)
	return applied
}
