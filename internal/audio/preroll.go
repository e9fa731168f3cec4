package audio

// PreRoll keeps the most recent chunks so a segment opened on a speech onset can
// include the audio just before it. It is owned by a single goroutine.
type PreRoll struct {
	chunks [][]float32
	sizes  []int
	next   int
	count  int
}

// NewPreRoll creates a rolling buffer of capacity chunks of up to chunkSize samples
func NewPreRoll(capacity, chunkSize int) *PreRoll {
	if capacity < 0 {
		capacity = 0
	}

	chunks := make([][]float32, capacity)
	for i := range chunks {
		chunks[i] = make([]float32, chunkSize)
	}

	return &PreRoll{
		chunks: chunks,
		sizes:  make([]int, capacity),
	}
}

// Push stores a copy of chunk, overwriting the oldest entry once full
func (p *PreRoll) Push(chunk []float32) {
	if len(p.chunks) == 0 {
		return
	}

	if cap(p.chunks[p.next]) < len(chunk) {
		p.chunks[p.next] = make([]float32, len(chunk))
	}
	p.chunks[p.next] = p.chunks[p.next][:cap(p.chunks[p.next])]
	p.sizes[p.next] = copy(p.chunks[p.next], chunk)

	p.next = (p.next + 1) % len(p.chunks)
	if p.count < len(p.chunks) {
		p.count++
	}
}

// Each calls fn for every stored chunk, oldest first
func (p *PreRoll) Each(fn func(chunk []float32) error) error {
	if p.count == 0 {
		return nil
	}

	start := (p.next - p.count + len(p.chunks)) % len(p.chunks)
	for i := 0; i < p.count; i++ {
		idx := (start + i) % len(p.chunks)
		if err := fn(p.chunks[idx][:p.sizes[idx]]); err != nil {
			return err
		}
	}

	return nil
}

// Len returns the number of stored chunks
func (p *PreRoll) Len() int {
	return p.count
}

// Clear drops all stored chunks
func (p *PreRoll) Clear() {
	p.next = 0
	p.count = 0
}
