// Package capture runs the worker that moves audio from the real-time transfer buffer
// into the segmentation engine.
//
// Every tick the worker drains the buffer until it is empty. Each chunk is resampled
// to the analysis rate, classified by the VAD poller and handed to the segmentation
// engine. Stopping the worker cancels the ticker and performs one final synchronous
// drain so no captured audio is lost.
package capture
