// Package playback implements gapless looping playback with equal-power crossfades.
//
// Three voices (A, B, C) rotate: when the active voice approaches the end of its
// source, the next voice in the rotation starts the same source at zero gain and the
// two are crossfaded. A fourth ambient voice (D) plays independently and never
// rotates. The device output callback renders all voices through Render; every other
// operation runs under the scheduler mutex, including timer callbacks scheduled on
// the injected Clock.
package playback
