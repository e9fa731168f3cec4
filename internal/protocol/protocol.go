package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/audio"
)

// Protocol constants
const (
	// Packet types
	PacketTypeHello = 0x01
	PacketTypeAudio = 0x02

	// Header flags
	FlagFinal = 0x01 // Sender stops streaming after this packet

	// Packet structure sizes
	HeaderSize             = 8 // 1 + 2 + 4 + 1 bytes
	HelloPayloadSize       = 5 // 4 + 1 bytes
	AudioPayloadHeaderSize = 4 // Sequence number (4 bytes)

	// MaxPacketSize is the largest datagram the length field can describe
	MaxPacketSize = 0xFFFF

	MaxChannels = 2
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][SourceID:4][Flags:1]
type Header struct {
	PacketType uint8  // 0x01=Hello, 0x02=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	SourceID   uint32 // Identifies the sending microphone
	Flags      uint8
}

// HelloPayload announces the format of the audio that follows
// Layout: [SampleRate:4][Channels:1]
type HelloPayload struct {
	SampleRate uint32
	Channels   uint8
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][PCM16LE:N]
type AudioPayload struct {
	Sequence uint32
	PCM      []byte // Interleaved 16-bit little-endian samples
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header *Header
	Hello  *HelloPayload // Only set for hello packets
	Audio  *AudioPayload // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		SourceID:   binary.BigEndian.Uint32(data[3:7]),
		Flags:      data[7],
	}, nil
}

// ParseHelloPayload parses the 5-byte hello payload
func ParseHelloPayload(data []byte) (*HelloPayload, error) {
	if len(data) < HelloPayloadSize {
		return nil, fmt.Errorf("hello payload too short: expected %d bytes, got %d", HelloPayloadSize, len(data))
	}

	payload := &HelloPayload{
		SampleRate: binary.BigEndian.Uint32(data[0:4]),
		Channels:   data[4],
	}

	if payload.SampleRate == 0 {
		return nil, fmt.Errorf("hello sample rate cannot be zero")
	}

	if payload.Channels == 0 || payload.Channels > MaxChannels {
		return nil, fmt.Errorf("hello channels must be between 1 and %d, got %d", MaxChannels, payload.Channels)
	}

	return payload, nil
}

// ParseAudioPayload parses the audio payload. PCM aliases data.
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	pcm := data[AudioPayloadHeaderSize:]
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio data must hold whole 16-bit samples, got %d bytes", len(pcm))
	}

	return &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
		PCM:      pcm,
	}, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeHello:
		payload, err := ParseHelloPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hello payload: %w", err)
		}
		packet.Hello = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeHello:
		if payloadSize != HelloPayloadSize {
			return fmt.Errorf("hello packet payload size mismatch: expected %d, got %d",
				HelloPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeHello || ptype == PacketTypeAudio
}

func putHeader(buf []byte, ptype uint8, sourceID uint32, flags uint8) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], sourceID)
	buf[7] = flags
}

// EncodeHello builds a hello packet
func EncodeHello(sourceID uint32, sampleRate uint32, channels uint8) []byte {
	buf := make([]byte, HeaderSize+HelloPayloadSize)
	putHeader(buf, PacketTypeHello, sourceID, 0)
	binary.BigEndian.PutUint32(buf[HeaderSize:HeaderSize+4], sampleRate)
	buf[HeaderSize+4] = channels
	return buf
}

// EncodeAudio builds an audio packet carrying samples as 16-bit PCM
func EncodeAudio(sourceID, sequence uint32, flags uint8, samples []float32) ([]byte, error) {
	size := HeaderSize + AudioPayloadHeaderSize + len(samples)*2
	if size > MaxPacketSize {
		return nil, fmt.Errorf("audio packet too large: %d bytes (maximum %d)", size, MaxPacketSize)
	}

	buf := make([]byte, size)
	putHeader(buf, PacketTypeAudio, sourceID, flags)
	binary.BigEndian.PutUint32(buf[HeaderSize:HeaderSize+4], sequence)

	pcm := buf[HeaderSize+AudioPayloadHeaderSize:]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(audio.FloatToPCM16(s)))
	}
	return buf, nil
}

// Frames returns the number of frames in the payload for the given channel count
func (a *AudioPayload) Frames(channels int) int {
	if channels < 1 {
		channels = 1
	}
	return len(a.PCM) / 2 / channels
}

// DecodeMono converts the payload to mono float32 samples, averaging interleaved
// channels. dst is reused when it has room.
func (a *AudioPayload) DecodeMono(channels int, dst []float32) []float32 {
	if channels < 1 {
		channels = 1
	}

	frames := a.Frames(channels)
	if cap(dst) < frames {
		dst = make([]float32, frames)
	}
	dst = dst[:frames]

	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			off := (f*channels + c) * 2
			sum += audio.PCM16ToFloat(int16(binary.LittleEndian.Uint16(a.PCM[off:])))
		}
		dst[f] = sum / float32(channels)
	}
	return dst
}

// IsFinal reports whether the sender marked this packet as its last
func (h *Header) IsFinal() bool {
	return h.Flags&FlagFinal != 0
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeHello:
		packetType = "Hello"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, SourceID:%d, Flags:0x%02x}",
		packetType, h.PacketLen, h.SourceID, h.Flags)
}

// String returns a human-readable representation of the hello payload
func (p *HelloPayload) String() string {
	return fmt.Sprintf("HelloPayload{SampleRate:%d, Channels:%d}", p.SampleRate, p.Channels)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, PCMLen:%d}", a.Sequence, len(a.PCM))
}
