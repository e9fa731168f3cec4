package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// ErrEmptyChunk is returned when there is nothing to convert
var ErrEmptyChunk = errors.New("empty audio chunk")

// StreamResampler converts one chunk at a time between two sample rates using linear
// interpolation. It is created once by the capture worker and reused for every chunk;
// the returned slice is only valid until the next call to Convert.
type StreamResampler struct {
	sourceRate int
	targetRate int
	ratio      float64 // targetRate / sourceRate

	lastSample float32 // Last input sample of the previous chunk
	primed     bool
	out        []float32
}

// NewStreamResampler creates a per-chunk converter from sourceRate to targetRate
func NewStreamResampler(sourceRate, targetRate int) (*StreamResampler, error) {
	if sourceRate <= 0 {
		return nil, fmt.Errorf("source rate must be positive, got %d", sourceRate)
	}

	if targetRate <= 0 {
		return nil, fmt.Errorf("target rate must be positive, got %d", targetRate)
	}

	return &StreamResampler{
		sourceRate: sourceRate,
		targetRate: targetRate,
		ratio:      float64(targetRate) / float64(sourceRate),
	}, nil
}

// OutputFrames returns the number of frames Convert produces for an input of n frames
func (r *StreamResampler) OutputFrames(n int) int {
	return int(math.Round(float64(n) * r.ratio))
}

// Convert resamples chunk into the internal output buffer
func (r *StreamResampler) Convert(chunk []float32) ([]float32, error) {
	n := len(chunk)
	if n == 0 {
		return nil, ErrEmptyChunk
	}

	outLen := r.OutputFrames(n)
	if outLen == 0 {
		return nil, fmt.Errorf("chunk of %d frames too short for %d->%d Hz", n, r.sourceRate, r.targetRate)
	}

	if cap(r.out) < outLen {
		r.out = make([]float32, outLen)
	}
	out := r.out[:outLen]

	if r.sourceRate == r.targetRate {
		copy(out, chunk)
		r.remember(chunk)
		return out, nil
	}

	// Map output frames onto the input span [-1, n-1], where -1 is the previous
	// chunk's last sample, so consecutive chunks join without a seam
	prev := chunk[0]
	if r.primed {
		prev = r.lastSample
	}

	step := float64(n) / float64(outLen)
	for i := range out {
		pos := float64(i+1)*step - 1
		idx := int(math.Floor(pos))
		frac := float32(pos - float64(idx))

		s1 := prev
		if idx >= 0 {
			s1 = chunk[idx]
		}
		s2 := s1
		if idx+1 < n {
			s2 = chunk[idx+1]
		}

		out[i] = s1 + (s2-s1)*frac
	}

	r.remember(chunk)
	return out, nil
}

// Reset drops interpolation state carried between chunks
func (r *StreamResampler) Reset() {
	r.lastSample = 0
	r.primed = false
}

// SourceRate returns the input sample rate
func (r *StreamResampler) SourceRate() int {
	return r.sourceRate
}

// TargetRate returns the output sample rate
func (r *StreamResampler) TargetRate() int {
	return r.targetRate
}

func (r *StreamResampler) remember(chunk []float32) {
	r.lastSample = chunk[len(chunk)-1]
	r.primed = true
}

// Resample converts a complete recording from sourceRate to targetRate. The
// converter runs over zero padding on both sides and is flushed; its measured
// offset is removed so output frame j lines up with input time j / targetRate. The
// result always holds round(len(samples) * targetRate / sourceRate) frames.
func Resample(samples []float32, sourceRate, targetRate int) ([]float32, error) {
	if sourceRate <= 0 || targetRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", sourceRate, targetRate)
	}

	if len(samples) == 0 {
		return []float32{}, nil
	}

	if sourceRate == targetRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	offset, err := converterOffset(sourceRate, targetRate)
	if err != nil {
		return nil, err
	}

	ratio := float64(targetRate) / float64(sourceRate)
	expected := int(math.Round(float64(len(samples)) * ratio))

	// A quarter second on each side comfortably exceeds the high-quality filter delay
	padding := sourceRate / 4
	input := make([]float64, padding+len(samples)+padding)
	for i, s := range samples {
		input[padding+i] = float64(s)
	}

	output, err := runConverter(sourceRate, targetRate, input)
	if err != nil {
		return nil, err
	}

	start := int(math.Round(float64(padding)*ratio)) + offset
	result := make([]float32, expected)
	for i := range result {
		j := start + i
		if j < 0 || j >= len(output) {
			continue
		}

		v := output[j]
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		result[i] = float32(v)
	}

	return result, nil
}

func runConverter(sourceRate, targetRate int, input []float64) ([]float64, error) {
	converter, err := resampling.New(&resampling.Config{
		InputRate:  float64(sourceRate),
		OutputRate: float64(targetRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	output, err := converter.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	tail, err := converter.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush error: %w", err)
	}
	return append(output, tail...), nil
}

type ratePair struct {
	from, to int
}

// converterOffsets caches the measured output offset per rate pair
var converterOffsets sync.Map

// converterOffset returns how many output frames the converter places an input
// frame away from its ideal position. Negative values mean the output runs early.
// It is measured once per rate pair from the peak of an impulse response.
func converterOffset(sourceRate, targetRate int) (int, error) {
	key := ratePair{sourceRate, targetRate}
	if v, ok := converterOffsets.Load(key); ok {
		return v.(int), nil
	}

	at := sourceRate / 4
	input := make([]float64, at*2+1)
	input[at] = 1

	output, err := runConverter(sourceRate, targetRate, input)
	if err != nil {
		return 0, err
	}

	if len(output) == 0 {
		return 0, fmt.Errorf("resampler produced no output for %d->%d Hz", sourceRate, targetRate)
	}

	peak := 0
	for i, v := range output {
		if math.Abs(v) > math.Abs(output[peak]) {
			peak = i
		}
	}

	ideal := float64(at) * float64(targetRate) / float64(sourceRate)
	offset := peak - int(math.Round(ideal))

	converterOffsets.Store(key, offset)
	return offset, nil
}
