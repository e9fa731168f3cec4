package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/audio"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/config"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/metrics"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/protocol"
)

// CaptureSink accepts capture chunks of at most the transfer buffer chunk size. It
// is called from the receive goroutine only.
type CaptureSink interface {
	CaptureInput(samples []float32) bool
}

// UDPServer receives audio from one remote microphone at a time and feeds it into
// the capture path. The receive goroutine is the single producer of the sink.
type UDPServer struct {
	conn        *net.UDPConn
	config      *config.NetworkConfig
	captureRate int
	chunkSize   int
	sink        CaptureSink
	logger      *slog.Logger
	metrics     *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Receive goroutine state
	source    *remoteSource
	chunk     []float32
	decodeBuf []float32

	packetsReceived  atomic.Uint64
	packetsProcessed atomic.Uint64
	parseErrors      atomic.Uint64
	missingPackets   atomic.Uint64
	outOfOrder       atomic.Uint64
	unannounced      atomic.Uint64
	chunksWritten    atomic.Uint64
	chunksRejected   atomic.Uint64
}

// remoteSource is the microphone currently streaming
type remoteSource struct {
	id        uint32
	addr      string
	channels  int
	resampler *audio.StreamResampler
	lastSeq   uint32
	seenAudio bool
}

// ServerStatistics represents network capture metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	MissingPackets   uint64 `json:"missing_packets"`
	OutOfOrder       uint64 `json:"out_of_order"`
	Unannounced      uint64 `json:"unannounced"`
	ChunksWritten    uint64 `json:"chunks_written"`
	ChunksRejected   uint64 `json:"chunks_rejected"`
}

// NewUDPServer creates a UDP capture server producing chunks of chunkSize frames at
// captureRate
func NewUDPServer(cfg *config.NetworkConfig, captureRate, chunkSize int, sink CaptureSink, logger *slog.Logger, m *metrics.Metrics) (*UDPServer, error) {
	if sink == nil {
		return nil, fmt.Errorf("capture sink cannot be nil")
	}

	if captureRate <= 0 || chunkSize <= 0 {
		return nil, fmt.Errorf("invalid capture format: %d Hz, %d frames", captureRate, chunkSize)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config:      cfg,
		captureRate: captureRate,
		chunkSize:   chunkSize,
		sink:        sink,
		logger:      logger,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
		chunk:       make([]float32, 0, chunkSize),
	}, nil
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP capture server started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("capture_rate", s.captureRate),
	)

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, nil before Start
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP capture server...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP capture server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("missing_packets", stats.MissingPackets),
	)

	return nil
}

// receiveLoop reads, decodes and forwards datagrams on one goroutine
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, protocol.MaxPacketSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Periodic deadline so cancellation is observed
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.handlePacket(buffer[:n], remoteAddr)
	}
}

// handlePacket processes a single datagram. data is only valid for the call.
func (s *UDPServer) handlePacket(data []byte, remoteAddr *net.UDPAddr) {
	s.packetsReceived.Add(1)
	s.metrics.RecordPacketReceived()

	packet, err := protocol.ParsePacket(data)
	if err != nil {
		s.parseErrors.Add(1)
		s.metrics.RecordParseError()

		s.logger.Debug("Failed to parse packet",
			slog.String("remote_addr", addrString(remoteAddr)),
			slog.Int("packet_size", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.packetsProcessed.Add(1)

	switch packet.Header.PacketType {
	case protocol.PacketTypeHello:
		s.processHello(packet.Header, packet.Hello, remoteAddr)
	case protocol.PacketTypeAudio:
		s.processAudio(packet.Header, packet.Audio)
	}
}

// processHello makes the sender the active source, replacing any previous one
func (s *UDPServer) processHello(header *protocol.Header, payload *protocol.HelloPayload, remoteAddr *net.UDPAddr) {
	resampler, err := audio.NewStreamResampler(int(payload.SampleRate), s.captureRate)
	if err != nil {
		s.parseErrors.Add(1)
		s.logger.Error("Rejected hello",
			slog.Uint64("source_id", uint64(header.SourceID)),
			slog.String("error", err.Error()),
		)
		return
	}

	if s.source != nil && s.source.id != header.SourceID {
		s.logger.Info("Remote source replaced",
			slog.Uint64("previous_source_id", uint64(s.source.id)),
			slog.Uint64("source_id", uint64(header.SourceID)),
		)
	}

	s.chunk = s.chunk[:0]
	s.source = &remoteSource{
		id:        header.SourceID,
		addr:      addrString(remoteAddr),
		channels:  int(payload.Channels),
		resampler: resampler,
	}

	s.logger.Info("Remote source announced",
		slog.Uint64("source_id", uint64(header.SourceID)),
		slog.String("remote_addr", s.source.addr),
		slog.Int("sample_rate", int(payload.SampleRate)),
		slog.Int("channels", int(payload.Channels)),
	)
}

// processAudio decodes, resamples and chunks audio from the active source
func (s *UDPServer) processAudio(header *protocol.Header, payload *protocol.AudioPayload) {
	src := s.source
	if src == nil || src.id != header.SourceID {
		s.unannounced.Add(1)
		return
	}

	if src.seenAudio {
		expected := src.lastSeq + 1
		switch {
		case payload.Sequence == expected:
		case payload.Sequence-expected < 1<<31:
			missing := payload.Sequence - expected
			s.missingPackets.Add(uint64(missing))
			s.metrics.RecordSequenceGap(missing)
			s.logger.Debug("Sequence gap",
				slog.Uint64("source_id", uint64(src.id)),
				slog.Uint64("expected", uint64(expected)),
				slog.Uint64("sequence", uint64(payload.Sequence)),
			)
		default:
			// Late or duplicate datagram
			s.outOfOrder.Add(1)
			return
		}
	}
	src.lastSeq = payload.Sequence
	src.seenAudio = true

	if payload.Frames(src.channels) > 0 {
		s.decodeBuf = payload.DecodeMono(src.channels, s.decodeBuf)

		samples, err := src.resampler.Convert(s.decodeBuf)
		if err != nil {
			s.logger.Debug("Failed to resample network audio", slog.String("error", err.Error()))
		} else {
			s.appendSamples(samples)
		}
	}

	if header.IsFinal() {
		s.flush()
		s.logger.Info("Remote source finished", slog.Uint64("source_id", uint64(src.id)))
		s.source = nil
	}
}

// appendSamples fills transfer-sized chunks and forwards each one as it completes
func (s *UDPServer) appendSamples(samples []float32) {
	for len(samples) > 0 {
		n := min(s.chunkSize-len(s.chunk), len(samples))
		s.chunk = append(s.chunk, samples[:n]...)
		samples = samples[n:]

		if len(s.chunk) == s.chunkSize {
			s.flush()
		}
	}
}

func (s *UDPServer) flush() {
	if len(s.chunk) == 0 {
		return
	}

	if s.sink.CaptureInput(s.chunk) {
		s.chunksWritten.Add(1)
	} else {
		s.chunksRejected.Add(1)
	}
	s.chunk = s.chunk[:0]
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	return ServerStatistics{
		PacketsReceived:  s.packetsReceived.Load(),
		PacketsProcessed: s.packetsProcessed.Load(),
		ParseErrors:      s.parseErrors.Load(),
		MissingPackets:   s.missingPackets.Load(),
		OutOfOrder:       s.outOfOrder.Load(),
		Unannounced:      s.unannounced.Load(),
		ChunksWritten:    s.chunksWritten.Load(),
		ChunksRejected:   s.chunksRejected.Load(),
	}
}

func addrString(addr *net.UDPAddr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
