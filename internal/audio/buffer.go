package audio

import (
	"fmt"
	"sync/atomic"
)

// Default transfer buffer geometry: 64 slots of 1024 samples (~1.3s at 48kHz)
const (
	DefaultBufferCapacity = 64
	DefaultChunkSize      = 1024
)

// TransferBuffer is a fixed-capacity single-producer/single-consumer ring of audio
// chunks. The producer side (Write) never blocks, locks or allocates; the only
// synchronization between producer and consumer is the pair of atomic indices.
type TransferBuffer struct {
	slots     [][]float32 // Pre-allocated slot storage, capacity x chunkSize
	frames    []int       // Valid frame count per slot
	capacity  uint64
	chunkSize int

	writeIndex    atomic.Uint64 // Owned by producer, observed by consumer
	readIndex     atomic.Uint64 // Owned by consumer, observed by producer
	overflowCount atomic.Uint64
}

// BufferStats represents a snapshot of transfer buffer counters
type BufferStats struct {
	Capacity  int    `json:"capacity"`
	ChunkSize int    `json:"chunk_size"`
	Available int    `json:"available"`
	Written   uint64 `json:"written"`
	Read      uint64 `json:"read"`
	Overflows uint64 `json:"overflows"`
}

// NewTransferBuffer creates a transfer buffer with all slot storage allocated up front
func NewTransferBuffer(capacity, chunkSize int) (*TransferBuffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be at least 1 slot, got %d", capacity)
	}

	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be at least 1 sample, got %d", chunkSize)
	}

	slots := make([][]float32, capacity)
	backing := make([]float32, capacity*chunkSize)
	for i := range slots {
		slots[i] = backing[i*chunkSize : (i+1)*chunkSize : (i+1)*chunkSize]
	}

	return &TransferBuffer{
		slots:     slots,
		frames:    make([]int, capacity),
		capacity:  uint64(capacity),
		chunkSize: chunkSize,
	}, nil
}

// Write copies one chunk into the next free slot. It returns false and counts an
// overflow when the buffer is full; the caller must drop the chunk rather than wait.
// Chunks longer than the slot size are truncated. Producer only.
func (b *TransferBuffer) Write(samples []float32) bool {
	w := b.writeIndex.Load()
	r := b.readIndex.Load()

	if w-r == b.capacity {
		b.overflowCount.Add(1)
		return false
	}

	slot := w % b.capacity
	n := copy(b.slots[slot], samples)
	b.frames[slot] = n

	// Publishing the index makes the slot contents visible to the consumer
	b.writeIndex.Store(w + 1)
	return true
}

// Read copies the oldest chunk into dst and releases its slot. It returns the number
// of frames copied and false when the buffer is empty. dst should hold ChunkSize
// samples; a shorter dst receives a truncated chunk. Consumer only.
func (b *TransferBuffer) Read(dst []float32) (int, bool) {
	r := b.readIndex.Load()
	w := b.writeIndex.Load()

	if r == w {
		return 0, false
	}

	slot := r % b.capacity
	n := copy(dst, b.slots[slot][:b.frames[slot]])

	// The slot may be reused by the producer once the index is published
	b.readIndex.Store(r + 1)
	return n, true
}

// Available returns the number of chunks written but not yet read
func (b *TransferBuffer) Available() int {
	r := b.readIndex.Load()
	w := b.writeIndex.Load()
	return int(w - r)
}

// Overflows returns the number of rejected writes since creation or the last Reset
func (b *TransferBuffer) Overflows() uint64 {
	return b.overflowCount.Load()
}

// Capacity returns the number of slots
func (b *TransferBuffer) Capacity() int {
	return int(b.capacity)
}

// ChunkSize returns the number of samples per slot
func (b *TransferBuffer) ChunkSize() int {
	return b.chunkSize
}

// Reset empties the buffer and clears the overflow counter. Only valid while neither
// the producer nor the consumer is running.
func (b *TransferBuffer) Reset() {
	b.writeIndex.Store(0)
	b.readIndex.Store(0)
	b.overflowCount.Store(0)
	for i := range b.frames {
		b.frames[i] = 0
	}
}

// GetStats returns current buffer counters
func (b *TransferBuffer) GetStats() BufferStats {
	r := b.readIndex.Load()
	w := b.writeIndex.Load()

	return BufferStats{
		Capacity:  int(b.capacity),
		ChunkSize: b.chunkSize,
		Available: int(w - r),
		Written:   w,
		Read:      r,
		Overflows: b.overflowCount.Load(),
	}
}
