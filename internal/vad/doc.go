// Package vad provides energy based voice activity detection and a bounded-wait
// poller that turns an asynchronous classifier into a per-chunk verdict.
package vad
