package playback

import (
	"log/slog"
	"time"
)

// StartAmbient loops src on the ambient voice, fading in to volume over fade. A
// running ambient source is replaced.
func (s *Scheduler) StartAmbient(src *Source, volume float32, fade time.Duration) error {
	if src == nil {
		return ErrNoSource
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ambFade.cancel()
	s.ambientStop = false
	s.ambient.start(src, 0, 0, true)
	s.ambientVolume = volume

	if rot, ok := s.rot.(*activeRotation); ok && rot.paused {
		// Resume fades it in
		s.ambient.setPaused(true)
	} else {
		s.startFadeLocked(&s.ambFade, fade, func(t float64) {
			s.ambient.setGain(FadeIn(t, volume))
		}, nil)
	}

	s.logger.Info("Ambient loop started",
		slog.String("source", src.URI),
		slog.Float64("volume", float64(volume)),
		slog.Duration("fade", fade),
	)
	return nil
}

// StopAmbient fades the ambient voice out over fade and stops it
func (s *Scheduler) StopAmbient(fade time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ambient.Playing() {
		return
	}

	if rot, ok := s.rot.(*activeRotation); ok && rot.paused {
		s.finishAmbientStopLocked()
		s.logger.Info("Ambient loop stopped")
		return
	}

	start := s.ambient.Gain()
	s.ambientStop = true
	s.startFadeLocked(&s.ambFade, fade, func(t float64) {
		s.ambient.setGain(FadeOut(t, start))
	}, func() {
		s.finishAmbientStopLocked()
	})

	s.logger.Info("Ambient loop stopping", slog.Duration("fade", fade))
}

// SetAmbientVolume changes the ambient gain immediately
func (s *Scheduler) SetAmbientVolume(volume float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ambientVolume = volume
	if s.ambientStop {
		return
	}
	if rot, ok := s.rot.(*activeRotation); ok && rot.paused {
		return
	}

	s.ambFade.cancel()
	if s.ambient.Playing() {
		s.ambient.setGain(volume)
	}
}

func (s *Scheduler) finishAmbientStopLocked() {
	s.ambFade.cancel()
	s.ambient.reset()
	s.ambientStop = false
}
