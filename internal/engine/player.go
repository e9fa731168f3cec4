package engine

import (
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/playback"
)

// StartPlayer loads uri and plays it from the beginning
func (e *Engine) StartPlayer(uri string) error {
	src, err := playback.LoadSource(uri, e.config.Playback.SampleRate)
	if err != nil {
		return err
	}

	if err := e.ensurePlayback(); err != nil {
		return err
	}
	return e.scheduler.Start(src)
}

// StopPlayer stops the main voices
func (e *Engine) StopPlayer() {
	e.scheduler.Stop()
}

// PausePlayer pauses playback
func (e *Engine) PausePlayer() error {
	return e.scheduler.Pause()
}

// ResumePlayer resumes paused playback
func (e *Engine) ResumePlayer() error {
	if err := e.ensurePlayback(); err != nil {
		return err
	}
	return e.scheduler.Resume()
}

// SeekToPlayer moves playback to position
func (e *Engine) SeekToPlayer(position time.Duration) error {
	return e.scheduler.Seek(position)
}

// SetVolume sets the playback gain
func (e *Engine) SetVolume(volume float32) {
	e.scheduler.SetVolume(volume)
}

// SetLoopEnabled turns looping on or off
func (e *Engine) SetLoopEnabled(enabled bool) {
	e.scheduler.SetLoop(enabled)
}

// FadeVolumeTo ramps the playback gain to target over d
func (e *Engine) FadeVolumeTo(target float32, d time.Duration) error {
	return e.scheduler.FadeVolumeTo(target, d)
}

// CrossfadeTo replaces the current source with uri over d, ending at volume. A
// non-positive d uses the configured crossfade.
func (e *Engine) CrossfadeTo(uri string, d time.Duration, volume float32) error {
	src, err := playback.LoadSource(uri, e.config.Playback.SampleRate)
	if err != nil {
		return err
	}

	if d <= 0 {
		d = e.config.Playback.GetCrossfade()
	}

	if err := e.ensurePlayback(); err != nil {
		return err
	}
	return e.scheduler.CrossfadeTo(src, d, volume)
}

// StartAmbientLoop loops uri on the ambient voice
func (e *Engine) StartAmbientLoop(uri string, volume float32, fade time.Duration) error {
	src, err := playback.LoadSource(uri, e.config.Playback.SampleRate)
	if err != nil {
		return err
	}

	if err := e.ensurePlayback(); err != nil {
		return err
	}
	return e.scheduler.StartAmbient(src, volume, fade)
}

// StopAmbientLoop fades the ambient voice out over fade
func (e *Engine) StopAmbientLoop(fade time.Duration) {
	e.scheduler.StopAmbient(fade)
}

// GetCurrentPosition returns the playback position in milliseconds
func (e *Engine) GetCurrentPosition() float64 {
	return float64(e.scheduler.Position()) / float64(time.Millisecond)
}

// GetDuration returns the loaded source duration in milliseconds
func (e *Engine) GetDuration() float64 {
	return float64(e.scheduler.Duration()) / float64(time.Millisecond)
}

// SetPlaybackListener installs the progress handler
func (e *Engine) SetPlaybackListener(fn func(playback.Progress)) {
	e.scheduler.SetProgressHandler(fn)
}

// SetPlaybackEndListener installs the handler fired once when playback ends
func (e *Engine) SetPlaybackEndListener(fn func()) {
	e.scheduler.SetEndHandler(fn)
}
