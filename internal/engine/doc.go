// Package engine is the top-level controller. It owns the transfer buffer, the
// capture worker, the segment store, the playback scheduler and the device stream,
// and exposes the recorder, segmentation and player operations.
//
// Sub-components receive plain pointers from the Engine and never reference it back.
// Session setup and teardown are serialized by a single initialization mutex.
package engine
