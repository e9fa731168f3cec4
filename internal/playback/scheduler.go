package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/metrics"
)

var (
	// ErrCrossfadeInProgress is returned when a transition is requested during a crossfade
	ErrCrossfadeInProgress = errors.New("crossfade already in progress")

	// ErrNotPlaying is returned by operations that need an active source
	ErrNotPlaying = errors.New("playback is not active")
)

// Config contains playback scheduler configuration
type Config struct {
	SampleRate       int
	Crossfade        time.Duration // Loop crossfade length; 0 loops gaplessly without fading
	FadeSteps        int
	MicroFade        time.Duration // Pause and resume fade
	ProgressInterval time.Duration
	EndMargin        time.Duration // Playback end fires this close to the end of the source
}

// Progress is reported on every progress tick while a source is loaded
type Progress struct {
	PositionMs float64 `json:"current_position"`
	DurationMs float64 `json:"duration"`
}

// State represents a snapshot of the scheduler
type State struct {
	Playing         bool    `json:"playing"`
	Paused          bool    `json:"paused"`
	ActiveVoice     string  `json:"active_voice,omitempty"`
	CrossfadeActive bool    `json:"crossfade_active"`
	Loop            bool    `json:"loop"`
	Volume          float32 `json:"volume"`
	Source          string  `json:"source,omitempty"`
	PositionMs      float64 `json:"position_ms"`
	DurationMs      float64 `json:"duration_ms"`
	AmbientPlaying  bool    `json:"ambient_playing"`
	AmbientSource   string  `json:"ambient_source,omitempty"`
	AmbientVolume   float32 `json:"ambient_volume"`
}

// rotation is the playback state: either idle or an active rotation
type rotation interface {
	isRotation()
}

type idleRotation struct{}

type activeRotation struct {
	source   *Source
	active   int // Index of the voice the listener hears
	outgoing int // Index of the voice fading out, -1 when none
	paused   bool
}

func (idleRotation) isRotation()    {}
func (*activeRotation) isRotation() {}

// fadeChannel serializes fades of one kind; starting a new fade supersedes the old one
type fadeChannel struct {
	gen   uint64
	timer Timer
}

func (c *fadeChannel) cancel() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Scheduler rotates voices A, B and C over a looping source and owns the ambient voice
type Scheduler struct {
	config  Config
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	voices  [3]*Voice
	ambient *Voice

	mu              sync.Mutex
	rot             rotation
	crossfadeActive bool
	generation      uint64 // Bumped whenever pending crossfade deadlines become stale
	deadline        Timer

	crossfade fadeChannel
	volFade   fadeChannel
	pauseFade fadeChannel
	ambFade   fadeChannel

	loop          bool
	volume        float32
	volFading     bool
	volLevel      float32 // Gain reached by the running volume fade
	ambientVolume float32
	ambientStop   bool // Ambient voice is fading out to stop
	endFired      bool

	progressGen   uint64
	progressTimer Timer
	onProgress    func(Progress)
	onEnd         func()
}

// NewScheduler creates an idle scheduler
func NewScheduler(config Config, clock Clock, logger *slog.Logger, m *metrics.Metrics) (*Scheduler, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.Crossfade < 0 {
		return nil, fmt.Errorf("crossfade must not be negative, got %v", config.Crossfade)
	}

	if config.FadeSteps <= 0 {
		config.FadeSteps = DefaultFadeSteps
	}
	if config.MicroFade <= 0 {
		config.MicroFade = DefaultMicroFade
	}
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = DefaultProgress
	}
	if config.EndMargin <= 0 {
		config.EndMargin = DefaultEndMargin
	}

	if clock == nil {
		clock = SystemClock()
	}

	return &Scheduler{
		config:  config,
		clock:   clock,
		logger:  logger,
		metrics: m,
		voices:  [3]*Voice{newVoice("A"), newVoice("B"), newVoice("C")},
		ambient: newVoice("D"),
		rot:     idleRotation{},
		loop:    true,
		volume:  1,
	}, nil
}

// SetProgressHandler installs the listener called on every progress tick
func (s *Scheduler) SetProgressHandler(fn func(Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onProgress = fn
}

// SetEndHandler installs the listener called once when a non-looping source ends
func (s *Scheduler) SetEndHandler(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnd = fn
}

// Render mixes every voice into out. It is called from the device output callback.
func (s *Scheduler) Render(out []float32) {
	clear(out)
	for _, v := range s.voices {
		v.Render(out)
	}
	s.ambient.Render(out)
}

// Start plays src on voice A from the beginning, replacing whatever was playing
func (s *Scheduler) Start(src *Source) error {
	if src == nil {
		return ErrNoSource
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	s.voices[0].start(src, s.volume, s.iterations(), false)
	s.rot = &activeRotation{source: src, active: 0, outgoing: -1}
	s.endFired = false

	s.armDeadlineLocked(0)
	s.startProgressLocked()
	s.metrics.RecordPlaybackStart()

	s.logger.Info("Playback started",
		slog.String("source", src.URI),
		slog.Duration("duration", src.Duration()),
		slog.Bool("loop", s.loop),
		slog.Duration("crossfade", s.config.Crossfade),
	)
	return nil
}

// Stop silences voices A, B and C and cancels every pending timer
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rot.(*activeRotation); ok {
		s.logger.Info("Playback stopped")
	}
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	s.generation++
	s.stopDeadlineLocked()
	s.crossfade.cancel()
	s.cancelVolumeFadeLocked()
	s.pauseFade.cancel()
	s.stopProgressLocked()

	for _, v := range s.voices {
		v.reset()
	}
	s.rot = idleRotation{}
	s.crossfadeActive = false
}

// Pause fades the output out briefly and holds every voice at its position
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rot, ok := s.rot.(*activeRotation)
	if !ok {
		return ErrNotPlaying
	}
	if rot.paused {
		return nil
	}

	s.generation++
	s.stopDeadlineLocked()
	s.finishCrossfadeLocked(rot)
	s.cancelVolumeFadeLocked()
	rot.paused = true

	if s.ambientStop {
		s.finishAmbientStopLocked()
	}

	active := s.voices[rot.active]
	mainGain := active.Gain()
	ambientGain := s.ambient.Gain()
	ambientOn := s.ambient.Playing()
	s.ambFade.cancel()

	s.startFadeLocked(&s.pauseFade, s.config.MicroFade, func(t float64) {
		active.setGain(FadeOut(t, mainGain))
		if ambientOn {
			s.ambient.setGain(FadeOut(t, ambientGain))
		}
	}, func() {
		active.setPaused(true)
		if ambientOn {
			s.ambient.setPaused(true)
		}
	})

	s.logger.Info("Playback paused", slog.Duration("position", s.positionLocked()))
	return nil
}

// Resume continues from the paused position with a short fade in
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rot, ok := s.rot.(*activeRotation)
	if !ok {
		return ErrNotPlaying
	}
	if !rot.paused {
		return nil
	}
	rot.paused = false

	active := s.voices[rot.active]
	active.setPaused(false)
	s.ambient.setPaused(false)
	ambientOn := s.ambient.Playing()

	// A pause fade still in flight is reversed from where it got to
	target, ambientTarget := s.volume, s.ambientVolume
	mainStart, ambientStart := active.Gain(), s.ambient.Gain()
	s.ambFade.cancel()
	s.startFadeLocked(&s.pauseFade, s.config.MicroFade, func(t float64) {
		active.setGain(FadeFrom(t, mainStart, target))
		if ambientOn {
			s.ambient.setGain(FadeFrom(t, ambientStart, ambientTarget))
		}
	}, nil)

	s.generation++
	s.armDeadlineLocked(s.positionLocked())

	s.logger.Info("Playback resumed", slog.Duration("position", s.positionLocked()))
	return nil
}

// Seek moves the active voice to position. Any crossfade in flight or scheduled is
// cancelled and the next deadline is computed from the new position.
func (s *Scheduler) Seek(position time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rot, ok := s.rot.(*activeRotation)
	if !ok {
		return ErrNotPlaying
	}

	if position < 0 {
		position = 0
	}
	if d := rot.source.Duration(); position > d {
		position = d
	}

	s.generation++
	s.stopDeadlineLocked()
	if s.crossfadeActive {
		s.crossfade.cancel()
		s.voices[rot.outgoing].reset()
		rot.outgoing = -1
		s.crossfadeActive = false
		if !rot.paused {
			s.voices[rot.active].setGain(s.playbackGainLocked())
		}
		s.metrics.RecordCrossfadeSkipped("seek")
	}

	s.voices[rot.active].seek(rot.source.framesFor(position))
	s.endFired = false

	if !rot.paused {
		s.armDeadlineLocked(position)
	}

	s.logger.Debug("Playback seek", slog.Duration("position", position))
	return nil
}

// SetLoop enables or disables looping of the current and future sources
func (s *Scheduler) SetLoop(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loop = enabled

	rot, ok := s.rot.(*activeRotation)
	if !ok {
		return
	}

	active := s.voices[rot.active]
	s.generation++
	s.stopDeadlineLocked()

	if !enabled {
		active.clearQueue()
		return
	}

	s.endFired = false
	s.topUpLocked(active)
	if !rot.paused && !s.crossfadeActive {
		s.armDeadlineLocked(s.positionLocked())
	}
}

// SetVolume sets the playback gain immediately, cancelling any volume fade
func (s *Scheduler) SetVolume(volume float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelVolumeFadeLocked()
	s.volume = volume

	if rot, ok := s.rot.(*activeRotation); ok && !s.crossfadeActive && !rot.paused {
		s.voices[rot.active].setGain(volume)
	}
}

// FadeVolumeTo ramps the playback gain linearly to target over d
func (s *Scheduler) FadeVolumeTo(target float32, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rot, ok := s.rot.(*activeRotation)
	if !ok {
		return ErrNotPlaying
	}
	if s.crossfadeActive {
		return ErrCrossfadeInProgress
	}

	start := s.voices[rot.active].Gain()
	s.volFading = true
	s.volLevel = start
	s.startFadeLocked(&s.volFade, d, func(t float64) {
		s.volLevel = Linear(t, start, target)
		// During a crossfade the incoming voice picks the level up from volLevel
		if r, ok := s.rot.(*activeRotation); ok && !s.crossfadeActive && !r.paused {
			s.voices[r.active].setGain(s.volLevel)
		}
	}, func() {
		s.volume = target
		s.volFading = false
	})
	return nil
}

// cancelVolumeFadeLocked stops a running volume fade and keeps the level it reached
func (s *Scheduler) cancelVolumeFadeLocked() {
	s.volFade.cancel()
	if s.volFading {
		s.volume = s.volLevel
		s.volFading = false
	}
}

// playbackGainLocked returns the gain the active voice should sit at
func (s *Scheduler) playbackGainLocked() float32 {
	if s.volFading {
		return s.volLevel
	}
	return s.volume
}

// CrossfadeTo replaces the current source with src, fading the active voice out and
// the next voice in to volume over d
func (s *Scheduler) CrossfadeTo(src *Source, d time.Duration, volume float32) error {
	if src == nil {
		return ErrNoSource
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rot, ok := s.rot.(*activeRotation)
	if !ok || rot.paused {
		return ErrNotPlaying
	}
	if s.crossfadeActive {
		s.metrics.RecordCrossfadeSkipped("in_progress")
		return ErrCrossfadeInProgress
	}

	if d <= 0 {
		d = s.config.Crossfade
	}

	s.generation++
	s.stopDeadlineLocked()
	s.cancelVolumeFadeLocked()
	s.volume = volume
	s.endFired = false

	s.beginCrossfadeLocked(rot, src, d, "explicit")
	return nil
}

// CrossfadeActive reports whether two voices are currently fading
func (s *Scheduler) CrossfadeActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crossfadeActive
}

// Position returns the playback position within the current iteration
func (s *Scheduler) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

// Duration returns the length of the current source
func (s *Scheduler) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rot, ok := s.rot.(*activeRotation); ok {
		return rot.source.Duration()
	}
	return 0
}

// GetState returns a snapshot of the scheduler
func (s *Scheduler) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := State{
		CrossfadeActive: s.crossfadeActive,
		Loop:            s.loop,
		Volume:          s.volume,
		AmbientPlaying:  s.ambient.Playing(),
		AmbientSource:   s.ambient.sourceURI(),
		AmbientVolume:   s.ambientVolume,
	}

	if rot, ok := s.rot.(*activeRotation); ok {
		state.Playing = !rot.paused
		state.Paused = rot.paused
		state.ActiveVoice = s.voices[rot.active].Name()
		state.Source = rot.source.URI
		state.PositionMs = float64(s.positionLocked()) / float64(time.Millisecond)
		state.DurationMs = float64(rot.source.Duration()) / float64(time.Millisecond)
	}

	return state
}

func (s *Scheduler) positionLocked() time.Duration {
	rot, ok := s.rot.(*activeRotation)
	if !ok {
		return 0
	}
	return rot.source.durationOf(s.voices[rot.active].Position())
}

func (s *Scheduler) iterations() int {
	if s.loop {
		return minLoopIterations
	}
	return 0
}

func (s *Scheduler) topUpLocked(v *Voice) {
	if q := v.queuedIterations(); q < minLoopIterations {
		v.schedule(minLoopIterations - q)
	}
}

func (s *Scheduler) stopDeadlineLocked() {
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
}

// armDeadlineLocked schedules the next loop crossfade for a voice that is at
// position within its source
func (s *Scheduler) armDeadlineLocked(position time.Duration) {
	s.stopDeadlineLocked()

	rot, ok := s.rot.(*activeRotation)
	if !ok || !s.loop || s.config.Crossfade <= 0 {
		return
	}

	src := rot.source
	if src.Duration() <= s.config.Crossfade {
		// Too short to overlap; queued iterations loop it gaplessly
		return
	}

	delay := src.Duration() - s.config.Crossfade - position
	if delay < 0 {
		delay = 0
	}

	gen := s.generation
	s.deadline = s.clock.AfterFunc(delay, func() {
		s.onDeadline(gen, src)
	})
}

func (s *Scheduler) onDeadline(gen uint64, src *Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rot, ok := s.rot.(*activeRotation)
	if !ok || gen != s.generation || rot.source != src || rot.paused {
		s.metrics.RecordCrossfadeSkipped("stale")
		return
	}

	// A fade still running at the next deadline is completed first
	s.finishCrossfadeLocked(rot)

	s.beginCrossfadeLocked(rot, src, s.config.Crossfade, "loop")
}

// beginCrossfadeLocked starts src on the next voice in the rotation and fades it in
// to the playback gain while the active voice fades out. A volume fade running
// alongside moves the incoming voice's target with it.
func (s *Scheduler) beginCrossfadeLocked(rot *activeRotation, src *Source, d time.Duration, kind string) {
	out := rot.active
	next := (out + 1) % len(s.voices)

	outgoing := s.voices[out]
	incoming := s.voices[next]

	outgoing.clearQueue()
	incoming.start(src, 0, s.iterations(), false)

	rot.source = src
	rot.active = next
	rot.outgoing = out
	s.crossfadeActive = true

	// The next deadline runs from the incoming voice's start
	s.armDeadlineLocked(0)

	startGain := outgoing.Gain()
	s.startFadeLocked(&s.crossfade, d, func(t float64) {
		outgoing.setGain(FadeOut(t, startGain))
		incoming.setGain(FadeIn(t, s.playbackGainLocked()))
	}, func() {
		outgoing.reset()
		rot.outgoing = -1
		s.crossfadeActive = false
		s.metrics.RecordCrossfade(kind)
	})

	s.logger.Debug("Crossfade started",
		slog.String("kind", kind),
		slog.String("from", outgoing.Name()),
		slog.String("to", incoming.Name()),
		slog.Duration("duration", d),
	)
}

// finishCrossfadeLocked jumps an in-flight crossfade to its end state
func (s *Scheduler) finishCrossfadeLocked(rot *activeRotation) {
	if !s.crossfadeActive {
		return
	}

	s.crossfade.cancel()
	s.voices[rot.outgoing].reset()
	s.voices[rot.active].setGain(s.playbackGainLocked())
	rot.outgoing = -1
	s.crossfadeActive = false
}

// startFadeLocked runs step at FadeSteps evenly spaced points over d, then done.
// Callbacks run under the scheduler mutex.
func (s *Scheduler) startFadeLocked(ch *fadeChannel, d time.Duration, step func(t float64), done func()) {
	ch.cancel()

	if d <= 0 {
		step(1)
		if done != nil {
			done()
		}
		return
	}

	steps := s.config.FadeSteps
	interval := d / time.Duration(steps)
	gen := ch.gen
	i := 0

	var tick func()
	tick = func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if ch.gen != gen {
			return
		}

		i++
		step(float64(i) / float64(steps))

		if i >= steps {
			ch.timer = nil
			if done != nil {
				done()
			}
			return
		}
		ch.timer = s.clock.AfterFunc(interval, tick)
	}

	step(0)
	ch.timer = s.clock.AfterFunc(interval, tick)
}

func (s *Scheduler) startProgressLocked() {
	s.stopProgressLocked()
	gen := s.progressGen
	s.progressTimer = s.clock.AfterFunc(s.config.ProgressInterval, func() {
		s.progressTick(gen)
	})
}

func (s *Scheduler) stopProgressLocked() {
	s.progressGen++
	if s.progressTimer != nil {
		s.progressTimer.Stop()
		s.progressTimer = nil
	}
}

func (s *Scheduler) progressTick(gen uint64) {
	s.mu.Lock()

	rot, ok := s.rot.(*activeRotation)
	if !ok || gen != s.progressGen {
		s.mu.Unlock()
		return
	}

	active := s.voices[rot.active]
	position := s.positionLocked()
	duration := rot.source.Duration()

	if s.loop {
		s.topUpLocked(active)
	}

	fireEnd := false
	if !s.loop && !s.endFired && !s.crossfadeActive &&
		(position >= duration-s.config.EndMargin || !active.Playing()) {
		s.endFired = true
		fireEnd = true
	}

	s.progressTimer = s.clock.AfterFunc(s.config.ProgressInterval, func() {
		s.progressTick(gen)
	})

	onProgress, onEnd := s.onProgress, s.onEnd
	s.mu.Unlock()

	if onProgress != nil {
		onProgress(Progress{
			PositionMs: float64(position) / float64(time.Millisecond),
			DurationMs: float64(duration) / float64(time.Millisecond),
		})
	}

	if fireEnd {
		s.logger.Info("Playback reached end", slog.Duration("duration", duration))
		if onEnd != nil {
			onEnd()
		}
	}
}
