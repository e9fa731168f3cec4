package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/audio"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/capture"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/config"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/engine"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/metrics"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/playback"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/segment"
)

// Version is reported by the health and root endpoints
var Version = "dev"

// HTTPServer provides the control API and monitoring endpoints
type HTTPServer struct {
	server    *http.Server
	handler   http.Handler
	logger    *slog.Logger
	config    *config.Config
	engine    *engine.Engine
	udpServer *UDPServer
	metrics   *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP API server. udpServer may be nil when capture uses
// the local device; gatherer serves /metrics and defaults to the Prometheus registry.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	eng *engine.Engine, udpServer *UDPServer, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		engine:    eng,
		udpServer: udpServer,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux, gatherer)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	// Monitoring
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Recorder and session
	mux.HandleFunc("POST /recorder/start", h.withMetrics("/recorder/start", h.handleRecorderStart))
	mux.HandleFunc("POST /recorder/stop", h.withMetrics("/recorder/stop", h.handleRecorderStop))
	mux.HandleFunc("POST /session/end", h.withMetrics("/session/end", h.handleSessionEnd))
	mux.HandleFunc("POST /playback-only/start", h.withMetrics("/playback-only/start", h.handlePlaybackOnlyStart))
	mux.HandleFunc("POST /playback-only/stop", h.withMetrics("/playback-only/stop", h.handlePlaybackOnlyStop))

	// Segmentation
	mux.HandleFunc("GET /mode", h.withMetrics("/mode", h.handleModeGet))
	mux.HandleFunc("POST /mode/{mode}", h.withMetrics("/mode/{mode}", h.handleModeSet))
	mux.HandleFunc("POST /segment/manual/start", h.withMetrics("/segment/manual/start", h.handleManualStart))
	mux.HandleFunc("POST /segment/manual/stop", h.withMetrics("/segment/manual/stop", h.handleManualStop))
	mux.HandleFunc("POST /vad/threshold", h.withMetrics("/vad/threshold", h.handleVADThreshold))

	// Player
	mux.HandleFunc("POST /player/start", h.withMetrics("/player/start", h.handlePlayerStart))
	mux.HandleFunc("POST /player/stop", h.withMetrics("/player/stop", h.handlePlayerStop))
	mux.HandleFunc("POST /player/pause", h.withMetrics("/player/pause", h.handlePlayerPause))
	mux.HandleFunc("POST /player/resume", h.withMetrics("/player/resume", h.handlePlayerResume))
	mux.HandleFunc("POST /player/seek", h.withMetrics("/player/seek", h.handlePlayerSeek))
	mux.HandleFunc("POST /player/volume", h.withMetrics("/player/volume", h.handlePlayerVolume))
	mux.HandleFunc("POST /player/loop", h.withMetrics("/player/loop", h.handlePlayerLoop))
	mux.HandleFunc("POST /player/crossfade", h.withMetrics("/player/crossfade", h.handlePlayerCrossfade))
	mux.HandleFunc("POST /player/fade", h.withMetrics("/player/fade", h.handlePlayerFade))
	mux.HandleFunc("GET /player/position", h.withMetrics("/player/position", h.handlePlayerPosition))
	mux.HandleFunc("POST /ambient/start", h.withMetrics("/ambient/start", h.handleAmbientStart))
	mux.HandleFunc("POST /ambient/stop", h.withMetrics("/ambient/stop", h.handleAmbientStop))

	// Root endpoint with API documentation
	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the route multiplexer
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["status"] = "ok"
	writeJSON(w, http.StatusOK, fields)
}

// writeError maps engine errors onto status codes
func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, engine.ErrPlaybackOnly),
		errors.Is(err, engine.ErrRecording),
		errors.Is(err, engine.ErrNotInitialized),
		errors.Is(err, capture.ErrAlreadyRunning),
		errors.Is(err, playback.ErrCrossfadeInProgress),
		errors.Is(err, playback.ErrNotPlaying),
		errors.Is(err, segment.ErrNotManual):
		status = http.StatusConflict
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, playback.ErrNoSource):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, map[string]any{"status": "error", "error": err.Error()})
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": err.Error()})
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

// secondsParam reads a duration given in seconds
func secondsParam(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	v, err := floatParam(r, name, def.Seconds())
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%s cannot be negative", name)
	}
	return time.Duration(v * float64(time.Second)), nil
}

func requiredParam(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.GetStats()

	components := map[string]any{
		"capture": map[string]any{
			"recording":        stats.Recording,
			"chunks_processed": stats.Capture.ChunksProcessed,
			"overflows":        stats.Buffer.Overflows,
		},
		"segmentation": map[string]any{
			"mode":      stats.Segmentation.Mode,
			"recording": stats.Segmentation.Recording,
			"completed": stats.Store.Completed,
		},
		"playback": map[string]any{
			"playing":         stats.Playback.Playing,
			"ambient_playing": stats.Playback.AmbientPlaying,
		},
		"device": map[string]any{
			"running": stats.DeviceRunning,
		},
	}

	if h.udpServer != nil {
		udpStats := h.udpServer.GetStatistics()
		components["udp_server"] = map[string]any{
			"packets_received": udpStats.PacketsReceived,
			"parse_errors":     udpStats.ParseErrors,
			"missing_packets":  udpStats.MissingPackets,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "soundd",
			"version": Version,
		},
		"components": components,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"engine":    h.engine.GetStats(),
	}

	if h.udpServer != nil {
		response["udp"] = h.udpServer.GetStatistics()
	}

	writeJSON(w, http.StatusOK, response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	// The upload API key is never returned
	sanitized := map[string]any{
		"capture":  h.config.Capture,
		"segment":  h.config.Segment,
		"vad":      h.config.VAD,
		"playback": h.config.Playback,
		"storage":  h.config.Storage,
		"network":  h.config.Network,
		"upload": map[string]any{
			"enabled":        h.config.Upload.Enabled,
			"endpoint":       h.config.Upload.Endpoint,
			"timeout":        h.config.Upload.Timeout,
			"max_retries":    h.config.Upload.MaxRetries,
			"max_concurrent": h.config.Upload.MaxConcurrent,
		},
		"logging": h.config.Logging,
	}

	writeJSON(w, http.StatusOK, sanitized)
}

func (h *HTTPServer) handleRecorderStart(w http.ResponseWriter, r *http.Request) {
	// The recorder outlives the request
	if err := h.engine.StartRecorder(context.Background()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"session_id": h.engine.SessionID()})
}

func (h *HTTPServer) handleRecorderStop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopRecorder(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, nil)
}

func (h *HTTPServer) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.EndEngineSession(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, nil)
}

func (h *HTTPServer) handlePlaybackOnlyStart(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.InitializePlaybackOnly(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, nil)
}

func (h *HTTPServer) handlePlaybackOnlyStop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.EndPlaybackOnlySession(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, nil)
}

func (h *HTTPServer) handleModeGet(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{
		"mode":              h.engine.CurrentMode().String(),
		"segment_recording": h.engine.IsSegmentRecording(),
		"playback_only":     h.engine.IsInPlaybackOnlyMode(),
	})
}

func (h *HTTPServer) handleModeSet(w http.ResponseWriter, r *http.Request) {
	mode, err := segment.ParseMode(r.PathValue("mode"))
	if err != nil {
		badRequest(w, err)
		return
	}

	if err := h.engine.SetMode(mode); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"mode": mode.String()})
}

func (h *HTTPServer) handleManualStart(w http.ResponseWriter, r *http.Request) {
	timeout, err := secondsParam(r, "timeout", 0)
	if err != nil {
		badRequest(w, err)
		return
	}

	if err := h.engine.StartManualSegment(timeout); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, nil)
}

func (h *HTTPServer) handleManualStop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopManualSegment(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, nil)
}

func (h *HTTPServer) handleVADThreshold(w http.ResponseWriter, r *http.Request) {
	raw, err := requiredParam(r, "value")
	if err != nil {
		badRequest(w, err)
		return
	}

	value, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		badRequest(w, fmt.Errorf("invalid value %q", raw))
		return
	}

	applied := h.engine.SetVADThreshold(float32(value))
	writeOK(w, map[string]any{"sensitivity": applied})
}

func (h *HTTPServer) handlePlayerStart(w http.ResponseWriter, r *http.Request) {
	uri, err := requiredParam(r, "uri")
	if err != nil {
		badRequest(w, err)
		return
	}

	if err := h.engine.StartPlayer(uri); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{
		"uri":         uri,
		"duration_ms": h.engine.GetDuration(),
	})
}

func (h *HTTPServer) handlePlayerStop(w http.ResponseWriter, r *http.Request) {
	h.engine.StopPlayer()
	writeOK(w, nil)
}

func (h *HTTPServer) handlePlayerPause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.PausePlayer(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, nil)
}

func (h *HTTPServer) handlePlayerResume(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResumePlayer(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, nil)
}

func (h *HTTPServer) handlePlayerSeek(w http.ResponseWriter, r *http.Request) {
	if _, err := requiredParam(r, "position"); err != nil {
		badRequest(w, err)
		return
	}

	ms, err := floatParam(r, "position", 0)
	if err != nil {
		badRequest(w, err)
		return
	}
	if ms < 0 {
		badRequest(w, fmt.Errorf("position cannot be negative"))
		return
	}

	if err := h.engine.SeekToPlayer(time.Duration(ms * float64(time.Millisecond))); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"position": audio.MMSSSS(h.engine.GetCurrentPosition())})
}

func (h *HTTPServer) handlePlayerVolume(w http.ResponseWriter, r *http.Request) {
	if _, err := requiredParam(r, "value"); err != nil {
		badRequest(w, err)
		return
	}

	volume, err := floatParam(r, "value", 1)
	if err != nil {
		badRequest(w, err)
		return
	}

	h.engine.SetVolume(float32(volume))
	writeOK(w, map[string]any{"volume": volume})
}

func (h *HTTPServer) handlePlayerLoop(w http.ResponseWriter, r *http.Request) {
	raw, err := requiredParam(r, "enabled")
	if err != nil {
		badRequest(w, err)
		return
	}

	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(w, fmt.Errorf("invalid enabled %q", raw))
		return
	}

	h.engine.SetLoopEnabled(enabled)
	writeOK(w, map[string]any{"loop": enabled})
}

func (h *HTTPServer) handlePlayerCrossfade(w http.ResponseWriter, r *http.Request) {
	uri, err := requiredParam(r, "uri")
	if err != nil {
		badRequest(w, err)
		return
	}

	duration, err := secondsParam(r, "duration", h.config.Playback.GetCrossfade())
	if err != nil {
		badRequest(w, err)
		return
	}

	volume, err := floatParam(r, "volume", float64(h.config.Playback.Volume))
	if err != nil {
		badRequest(w, err)
		return
	}

	if err := h.engine.CrossfadeTo(uri, duration, float32(volume)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"uri": uri})
}

func (h *HTTPServer) handlePlayerFade(w http.ResponseWriter, r *http.Request) {
	if _, err := requiredParam(r, "volume"); err != nil {
		badRequest(w, err)
		return
	}

	volume, err := floatParam(r, "volume", 1)
	if err != nil {
		badRequest(w, err)
		return
	}

	duration, err := secondsParam(r, "duration", time.Second)
	if err != nil {
		badRequest(w, err)
		return
	}

	if err := h.engine.FadeVolumeTo(float32(volume), duration); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, nil)
}

func (h *HTTPServer) handlePlayerPosition(w http.ResponseWriter, r *http.Request) {
	position := h.engine.GetCurrentPosition()
	duration := h.engine.GetDuration()

	writeOK(w, map[string]any{
		"position_ms": position,
		"duration_ms": duration,
		"position":    audio.MMSSSS(position),
		"duration":    audio.MMSS(duration / 1000),
	})
}

func (h *HTTPServer) handleAmbientStart(w http.ResponseWriter, r *http.Request) {
	uri, err := requiredParam(r, "uri")
	if err != nil {
		badRequest(w, err)
		return
	}

	volume, err := floatParam(r, "volume", 1)
	if err != nil {
		badRequest(w, err)
		return
	}

	fade, err := secondsParam(r, "fade", 0)
	if err != nil {
		badRequest(w, err)
		return
	}

	if err := h.engine.StartAmbientLoop(uri, float32(volume), fade); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"uri": uri})
}

func (h *HTTPServer) handleAmbientStop(w http.ResponseWriter, r *http.Request) {
	fade, err := secondsParam(r, "fade", 0)
	if err != nil {
		badRequest(w, err)
		return
	}

	h.engine.StopAmbientLoop(fade)
	writeOK(w, nil)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "soundd",
		"version": Version,
		"endpoints": map[string]any{
			"GET /":                        "API documentation",
			"GET /health":                  "Service health check",
			"GET /stats":                   "Engine statistics",
			"GET /config":                  "Service configuration",
			"GET /metrics":                 "Prometheus metrics",
			"POST /recorder/start":         "Start capture",
			"POST /recorder/stop":          "Stop capture and finalize the open segment",
			"POST /session/end":            "End the engine session",
			"POST /playback-only/start":    "Open an output-only session",
			"POST /playback-only/stop":     "End the output-only session",
			"GET /mode":                    "Current segmentation mode",
			"POST /mode/{idle|manual|vad}": "Switch segmentation mode",
			"POST /segment/manual/start":   "Open a manual segment (?timeout=seconds)",
			"POST /segment/manual/stop":    "Close the manual segment",
			"POST /vad/threshold":          "Set VAD sensitivity (?value=0..1)",
			"POST /player/start":           "Play a source (?uri=)",
			"POST /player/stop":            "Stop playback",
			"POST /player/pause":           "Pause playback",
			"POST /player/resume":          "Resume playback",
			"POST /player/seek":            "Seek (?position=ms)",
			"POST /player/volume":          "Set volume (?value=)",
			"POST /player/loop":            "Enable or disable looping (?enabled=)",
			"POST /player/crossfade":       "Crossfade to a source (?uri=&duration=&volume=)",
			"POST /player/fade":            "Fade volume (?volume=&duration=)",
			"GET /player/position":         "Playback position and duration",
			"POST /ambient/start":          "Start the ambient loop (?uri=&volume=&fade=)",
			"POST /ambient/stop":           "Stop the ambient loop (?fade=)",
		},
		"timestamp": time.Now().UTC(),
	})
}
