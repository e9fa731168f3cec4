package protocol

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid hello header",
			data: []byte{
				0x01,       // PacketType: Hello
				0x00, 0x0D, // PacketLen: 13 (8 + 5)
				0x00, 0x00, 0x30, 0x39, // SourceID: 12345
				0x00, // Flags
			},
			expected: &Header{
				PacketType: PacketTypeHello,
				PacketLen:  13,
				SourceID:   12345,
			},
		},
		{
			name: "valid audio header",
			data: []byte{
				0x02,       // PacketType: Audio
				0x01, 0x00, // PacketLen: 256
				0x12, 0x34, 0x56, 0x78, // SourceID: 305419896
				0x01, // Flags: final
			},
			expected: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  256,
				SourceID:   305419896,
				Flags:      FlagFinal,
			},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}

			if *header != *tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, header)
			}
		})
	}
}

func TestParseHelloPayload(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    HelloPayload
		expectError bool
	}{
		{"mono 16k", []byte{0x00, 0x00, 0x3E, 0x80, 0x01}, HelloPayload{SampleRate: 16000, Channels: 1}, false},
		{"stereo 48k", []byte{0x00, 0x00, 0xBB, 0x80, 0x02}, HelloPayload{SampleRate: 48000, Channels: 2}, false},
		{"too short", []byte{0x00, 0x00}, HelloPayload{}, true},
		{"zero rate", []byte{0x00, 0x00, 0x00, 0x00, 0x01}, HelloPayload{}, true},
		{"too many channels", []byte{0x00, 0x00, 0x3E, 0x80, 0x06}, HelloPayload{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := ParseHelloPayload(tt.data)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if *payload != tt.expected {
				t.Errorf("Expected %s, got %s", &tt.expected, payload)
			}
		})
	}
}

func TestParseAudioPayload(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x07, 0x00, 0x40, 0x00, 0xC0}

	payload, err := ParseAudioPayload(data)
	if err != nil {
		t.Fatalf("ParseAudioPayload failed: %v", err)
	}

	if payload.Sequence != 7 {
		t.Errorf("Expected sequence 7, got %d", payload.Sequence)
	}
	if len(payload.PCM) != 4 {
		t.Errorf("Expected 4 PCM bytes, got %d", len(payload.PCM))
	}

	if _, err := ParseAudioPayload([]byte{0x00, 0x01}); err == nil {
		t.Error("Expected error for short payload")
	}

	if _, err := ParseAudioPayload([]byte{0x00, 0x00, 0x00, 0x01, 0x00}); err == nil {
		t.Error("Expected error for odd PCM length")
	}
}

func TestParsePacket(t *testing.T) {
	t.Run("hello round trip", func(t *testing.T) {
		packet, err := ParsePacket(EncodeHello(42, 16000, 1))
		if err != nil {
			t.Fatalf("ParsePacket failed: %v", err)
		}

		if packet.Header.SourceID != 42 || packet.Hello == nil || packet.Audio != nil {
			t.Fatalf("Unexpected packet %+v", packet)
		}
		if packet.Hello.SampleRate != 16000 || packet.Hello.Channels != 1 {
			t.Errorf("Unexpected hello %s", packet.Hello)
		}
	})

	t.Run("audio round trip", func(t *testing.T) {
		samples := []float32{0, 0.5, -0.5, 0.25}

		data, err := EncodeAudio(9, 100, FlagFinal, samples)
		if err != nil {
			t.Fatalf("EncodeAudio failed: %v", err)
		}

		packet, err := ParsePacket(data)
		if err != nil {
			t.Fatalf("ParsePacket failed: %v", err)
		}

		if packet.Audio == nil || packet.Audio.Sequence != 100 {
			t.Fatalf("Unexpected packet %+v", packet)
		}
		if !packet.Header.IsFinal() {
			t.Error("Expected final flag")
		}

		decoded := packet.Audio.DecodeMono(1, nil)
		if len(decoded) != len(samples) {
			t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
		}
		for i := range samples {
			if math.Abs(float64(decoded[i]-samples[i])) > 1.0/16384 {
				t.Errorf("Sample %d: expected %f, got %f", i, samples[i], decoded[i])
			}
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		data := EncodeHello(1, 16000, 1)
		_, err := ParsePacket(append(data, 0x00))
		if err == nil || !strings.Contains(err.Error(), "packet length mismatch") {
			t.Errorf("Expected length mismatch error, got %v", err)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		data := EncodeHello(1, 16000, 1)
		data[0] = 0x7F
		_, err := ParsePacket(data)
		if err == nil || !strings.Contains(err.Error(), "invalid packet type") {
			t.Errorf("Expected invalid type error, got %v", err)
		}
	})
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name        string
		header      Header
		expectError bool
	}{
		{"valid hello", Header{PacketType: PacketTypeHello, PacketLen: HeaderSize + HelloPayloadSize}, false},
		{"valid empty audio", Header{PacketType: PacketTypeAudio, PacketLen: HeaderSize + AudioPayloadHeaderSize}, false},
		{"hello wrong size", Header{PacketType: PacketTypeHello, PacketLen: HeaderSize + 4}, true},
		{"audio without sequence", Header{PacketType: PacketTypeAudio, PacketLen: HeaderSize + 2}, true},
		{"length below header", Header{PacketType: PacketTypeAudio, PacketLen: 4}, true},
		{"invalid type", Header{PacketType: 0x00, PacketLen: HeaderSize}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(&tt.header)
			if tt.expectError && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestDecodeMonoStereo(t *testing.T) {
	half := int16(16384)
	neg := -half

	pcm := make([]byte, 8)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(half)) // L  0.5
	binary.LittleEndian.PutUint16(pcm[2:], 0)            // R  0
	binary.LittleEndian.PutUint16(pcm[4:], uint16(neg))  // L -0.5
	binary.LittleEndian.PutUint16(pcm[6:], uint16(neg))  // R -0.5

	payload := &AudioPayload{PCM: pcm}

	if frames := payload.Frames(2); frames != 2 {
		t.Fatalf("Expected 2 frames, got %d", frames)
	}

	dst := make([]float32, 0, 16)
	decoded := payload.DecodeMono(2, dst)

	if &decoded[0] != &dst[:1][0] {
		t.Error("Expected destination buffer to be reused")
	}
	if math.Abs(float64(decoded[0]-0.25)) > 1e-3 {
		t.Errorf("Expected first frame 0.25, got %f", decoded[0])
	}
	if math.Abs(float64(decoded[1]+0.5)) > 1e-3 {
		t.Errorf("Expected second frame -0.5, got %f", decoded[1])
	}
}

func TestEncodeAudioTooLarge(t *testing.T) {
	if _, err := EncodeAudio(1, 1, 0, make([]float32, MaxPacketSize)); err == nil {
		t.Error("Expected error for oversized packet")
	}
}

func TestStringMethods(t *testing.T) {
	header := &Header{PacketType: PacketTypeAudio, PacketLen: 20, SourceID: 3, Flags: FlagFinal}
	if s := header.String(); !strings.Contains(s, "Audio") || !strings.Contains(s, "SourceID:3") {
		t.Errorf("Unexpected header string %s", s)
	}

	hello := &HelloPayload{SampleRate: 16000, Channels: 1}
	if s := hello.String(); !strings.Contains(s, "16000") {
		t.Errorf("Unexpected hello string %s", s)
	}

	unknown := &Header{PacketType: 0x09}
	if s := unknown.String(); !strings.Contains(s, "Unknown(0x09)") {
		t.Errorf("Unexpected header string %s", s)
	}
}
