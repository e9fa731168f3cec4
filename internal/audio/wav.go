package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// WAVHeaderSize is the size of the canonical PCM WAV header
const WAVHeaderSize = 44

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

func newWAVHeader(sampleRate int, dataSize uint32) WAVHeader {
	numChannels := uint16(1)    // Mono
	bitsPerSample := uint16(16) // 16-bit PCM

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// FloatToPCM16 converts a normalized float sample to 16-bit PCM with clipping
func FloatToPCM16(s float32) int16 {
	if s >= 1.0 {
		return math.MaxInt16
	}
	if s <= -1.0 {
		return math.MinInt16
	}
	return int16(s * 32767)
}

// PCM16ToFloat converts a 16-bit PCM sample to a normalized float
func PCM16ToFloat(s int16) float32 {
	return float32(s) / 32768.0
}

// EncodeWAV encodes mono float samples into 16-bit PCM WAV format. An empty
// sample slice produces a header-only file.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2) // 2 bytes per sample
	header := newWAVHeader(sampleRate, dataSize)

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = FloatToPCM16(s)
	}

	if err := binary.Write(buf, binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes 16-bit mono PCM WAV data into float samples
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < WAVHeaderSize {
		return nil, 0, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	buf := bytes.NewReader(data)
	var header WAVHeader

	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if err := validateHeader(&header); err != nil {
		return nil, 0, err
	}

	// Tolerate a data size larger than the payload (unfinished recordings)
	numSamples := int(header.Subchunk2Size) / 2
	if available := (len(data) - WAVHeaderSize) / 2; numSamples > available {
		numSamples = available
	}

	pcm := make([]int16, numSamples)
	if err := binary.Read(buf, binary.LittleEndian, pcm); err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	samples := make([]float32, numSamples)
	for i, s := range pcm {
		samples[i] = PCM16ToFloat(s)
	}

	return samples, int(header.SampleRate), nil
}

// ReadWAVFile loads and decodes a WAV file from disk
func ReadWAVFile(path string) ([]float32, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV file %s: %w", path, err)
	}

	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode WAV file %s: %w", path, err)
	}

	return samples, rate, nil
}

// WriteWAVFile encodes samples and writes them to path, replacing any existing file
// through a temporary file and rename
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	data, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write WAV file %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace WAV file %s: %w", path, err)
	}

	return nil
}

func validateHeader(header *WAVHeader) error {
	if string(header.ChunkID[:]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(header.Format[:]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(header.Subchunk1ID[:]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(header.Subchunk2ID[:]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if header.AudioFormat != 1 {
		return fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	if header.NumChannels != 1 {
		return fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	if header.SampleRate == 0 {
		return fmt.Errorf("invalid sample rate: 0")
	}

	return nil
}

// WAVInfo contains basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if len(data) < WAVHeaderSize {
		return nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if err := validateHeader(&header); err != nil {
		return nil, err
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}

// WAVWriter streams 16-bit mono PCM into a file. The header is written with a zero
// data size on creation and patched on Close.
type WAVWriter struct {
	file       *os.File
	sampleRate int
	samples    int
	scratch    []byte
}

// CreateWAV creates path and writes a placeholder header
func CreateWAV(path string, sampleRate int) (*WAVWriter, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file %s: %w", path, err)
	}

	header := newWAVHeader(sampleRate, 0)
	if err := binary.Write(file, binary.LittleEndian, header); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return &WAVWriter{file: file, sampleRate: sampleRate}, nil
}

// Write appends samples to the file
func (w *WAVWriter) Write(samples []float32) error {
	if w.file == nil {
		return fmt.Errorf("WAV writer is closed")
	}

	need := len(samples) * 2
	if cap(w.scratch) < need {
		w.scratch = make([]byte, need)
	}
	buf := w.scratch[:need]

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(FloatToPCM16(s)))
	}

	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}

	w.samples += len(samples)
	return nil
}

// Samples returns the number of samples written so far
func (w *WAVWriter) Samples() int {
	return w.samples
}

// Duration returns the written audio duration in seconds
func (w *WAVWriter) Duration() float64 {
	return float64(w.samples) / float64(w.sampleRate)
}

// Path returns the file path
func (w *WAVWriter) Path() string {
	if w.file == nil {
		return ""
	}
	return w.file.Name()
}

// Close patches the header sizes and closes the file
func (w *WAVWriter) Close() error {
	if w.file == nil {
		return nil
	}
	file := w.file
	w.file = nil

	dataSize := uint32(w.samples * 2)
	sizes := make([]byte, 4)

	binary.LittleEndian.PutUint32(sizes, 36+dataSize)
	if _, err := file.WriteAt(sizes, 4); err != nil {
		file.Close()
		return fmt.Errorf("failed to patch RIFF size: %w", err)
	}

	binary.LittleEndian.PutUint32(sizes, dataSize)
	if _, err := file.WriteAt(sizes, 40); err != nil {
		file.Close()
		return fmt.Errorf("failed to patch data size: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close WAV file: %w", err)
	}

	return nil
}

var _ io.Closer = (*WAVWriter)(nil)
