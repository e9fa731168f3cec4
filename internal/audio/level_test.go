package audio

import (
	"math"
	"testing"
)

func TestLevelDB(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		expected float64
	}{
		{"full scale", makeChunk(64, 1), 0},
		{"half scale", makeChunk(64, 0.5), -6.02},
		{"tenth", makeChunk(64, 0.1), -20},
		{"silence", makeChunk(64, 0), SilenceFloorDB},
		{"empty", nil, SilenceFloorDB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LevelDB(tt.samples)
			if math.Abs(got-tt.expected) > 0.01 {
				t.Errorf("Expected %.2f dB, got %.2f dB", tt.expected, got)
			}
		})
	}
}

func TestPreRollOrder(t *testing.T) {
	p := NewPreRoll(3, 4)

	for i := 0; i < 5; i++ {
		p.Push(makeChunk(4, float32(i)))
	}

	if p.Len() != 3 {
		t.Fatalf("Expected 3 chunks, got %d", p.Len())
	}

	var got []float32
	p.Each(func(chunk []float32) error {
		got = append(got, chunk[0])
		return nil
	})

	expected := []float32{2, 3, 4}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Position %d: expected chunk %f, got %f", i, expected[i], got[i])
		}
	}

	p.Clear()
	if p.Len() != 0 {
		t.Errorf("Expected empty pre-roll after Clear, got %d", p.Len())
	}
}

func TestPreRollPartialAndVariableSizes(t *testing.T) {
	p := NewPreRoll(4, 2)
	p.Push([]float32{1})
	p.Push([]float32{2, 2, 2})

	var sizes []int
	p.Each(func(chunk []float32) error {
		sizes = append(sizes, len(chunk))
		return nil
	})

	if len(sizes) != 2 || sizes[0] != 1 || sizes[1] != 3 {
		t.Errorf("Expected chunk sizes [1 3], got %v", sizes)
	}
}

func TestPreRollDisabled(t *testing.T) {
	p := NewPreRoll(0, 4)
	p.Push(makeChunk(4, 1))

	if p.Len() != 0 {
		t.Errorf("Expected disabled pre-roll to stay empty, got %d", p.Len())
	}
}

func TestMMSS(t *testing.T) {
	tests := []struct {
		secs     float64
		expected string
	}{
		{0, "00:00"},
		{59.9, "00:59"},
		{61, "01:01"},
		{3600, "60:00"},
	}

	for _, tt := range tests {
		if got := MMSS(tt.secs); got != tt.expected {
			t.Errorf("MMSS(%v): expected %s, got %s", tt.secs, tt.expected, got)
		}
	}
}

func TestMMSSSS(t *testing.T) {
	tests := []struct {
		ms       float64
		expected string
	}{
		{0, "00:00:00"},
		{1234, "00:01:23"},
		{61990, "01:01:99"},
	}

	for _, tt := range tests {
		if got := MMSSSS(tt.ms); got != tt.expected {
			t.Errorf("MMSSSS(%v): expected %s, got %s", tt.ms, tt.expected, got)
		}
	}
}
