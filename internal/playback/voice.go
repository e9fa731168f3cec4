package playback

import (
	"math"
	"sync"
	"sync/atomic"
)

// atomicFloat32 stores a float32 as its bit pattern
type atomicFloat32 struct {
	bits atomic.Uint32
}

func (a *atomicFloat32) Load() float32 {
	return math.Float32frombits(a.bits.Load())
}

func (a *atomicFloat32) Store(v float32) {
	a.bits.Store(math.Float32bits(v))
}

// Voice plays one source at a time. Render is called from the device callback; the
// scheduler drives everything else.
type Voice struct {
	name string
	gain atomicFloat32

	mu       sync.Mutex
	source   *Source
	pos      int  // Frame within the current iteration
	queued   int  // Iterations scheduled after the current one
	forever  bool // Restart at the end indefinitely
	playing  bool
	paused   bool
	finished int // Completed iterations since start
}

func newVoice(name string) *Voice {
	return &Voice{name: name}
}

// Name returns the voice label
func (v *Voice) Name() string {
	return v.name
}

// Gain returns the current linear gain
func (v *Voice) Gain() float32 {
	return v.gain.Load()
}

func (v *Voice) setGain(g float32) {
	v.gain.Store(g)
}

// start begins src from the first frame with iterations queued after the current one
func (v *Voice) start(src *Source, gain float32, iterations int, forever bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.source = src
	v.pos = 0
	v.queued = iterations
	v.forever = forever
	v.playing = true
	v.paused = false
	v.finished = 0
	v.gain.Store(gain)
}

// reset stops the voice and clears its schedule
func (v *Voice) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.source = nil
	v.pos = 0
	v.queued = 0
	v.forever = false
	v.playing = false
	v.paused = false
	v.finished = 0
	v.gain.Store(0)
}

func (v *Voice) schedule(iterations int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queued += iterations
}

func (v *Voice) clearQueue() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queued = 0
}

func (v *Voice) queuedIterations() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.queued
}

func (v *Voice) setPaused(paused bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = paused
}

func (v *Voice) seek(frame int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.source == nil {
		return
	}
	if frame < 0 {
		frame = 0
	}
	if frame > len(v.source.Samples) {
		frame = len(v.source.Samples)
	}
	v.pos = frame
}

// Playing reports whether the voice has audio left to render
func (v *Voice) Playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

// Position returns the frame position within the current iteration
func (v *Voice) Position() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pos
}

// Render mixes the voice into out and advances its position
func (v *Voice) Render(out []float32) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.playing || v.paused || v.source == nil {
		return
	}

	g := v.gain.Load()
	samples := v.source.Samples

	for i := range out {
		if v.pos >= len(samples) {
			v.finished++
			switch {
			case v.queued > 0:
				v.queued--
				v.pos = 0
			case v.forever:
				v.pos = 0
			default:
				v.playing = false
				return
			}
		}
		out[i] += samples[v.pos] * g
		v.pos++
	}
}

func (v *Voice) sourceURI() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.source == nil {
		return ""
	}
	return v.source.URI
}
