// Package audio holds the sample-level building blocks of the pipeline: the lock-free
// transfer buffer between the capture callback and the worker, per-chunk and batch
// resampling, WAV encoding, level metering and the pre-roll ring.
package audio
