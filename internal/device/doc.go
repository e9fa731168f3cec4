// Package device abstracts the audio hardware stream. A Backend opens a stream that
// delivers capture buffers to an input callback and pulls playback buffers from an
// output callback; the Manager keeps that stream running and recovers it when the
// device format changes underneath it.
package device
