package playback

import (
	"math"
	"time"
)

// Fade defaults
const (
	DefaultFadeSteps  = 30
	DefaultCrossfade  = time.Second
	DefaultMicroFade  = 100 * time.Millisecond
	DefaultEndMargin  = 100 * time.Millisecond
	DefaultProgress   = 60 * time.Millisecond
	minLoopIterations = 2
)

func clamp01(t float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// FadeOut returns the equal-power gain at progress t of a fade from start to silence
func FadeOut(t float64, start float32) float32 {
	return float32(math.Sqrt(1-clamp01(t))) * start
}

// FadeIn returns the equal-power gain at progress t of a fade from silence to target
func FadeIn(t float64, target float32) float32 {
	return float32(math.Sqrt(clamp01(t))) * target
}

// Linear returns the gain at progress t of a straight-line ramp from start to target
func Linear(t float64, start, target float32) float32 {
	return start + (target-start)*float32(clamp01(t))
}

// FadeFrom returns the gain at progress t of an equal-power shaped fade from start to
// target. It matches FadeIn when start is zero.
func FadeFrom(t float64, start, target float32) float32 {
	return start + (target-start)*float32(math.Sqrt(clamp01(t)))
}
