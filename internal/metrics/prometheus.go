package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the sound engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Capture metrics
	RingOverflows    prometheus.Counter
	RingAvailable    prometheus.Gauge
	ChunksProcessed  prometheus.Counter
	ResampleFailures prometheus.Counter
	DrainDuration    prometheus.Histogram

	// VAD metrics
	VADChunks       prometheus.Counter
	VADSpeechChunks prometheus.Counter
	VADStaleVerdict *prometheus.CounterVec

	// Segment metrics
	SegmentsStarted   *prometheus.CounterVec
	SegmentsCompleted *prometheus.CounterVec
	SegmentFailures   prometheus.Counter
	SegmentDuration   prometheus.Histogram
	SegmentTrimmed    prometheus.Counter

	// Playback metrics
	PlaybackStarts    prometheus.Counter
	Crossfades        *prometheus.CounterVec
	CrossfadesSkipped *prometheus.CounterVec
	DeviceRecoveries  *prometheus.CounterVec

	// Network capture metrics
	PacketsReceived prometheus.Counter
	ParseErrors     prometheus.Counter
	SequenceGaps    prometheus.Counter

	// Upload metrics
	UploadRequests  prometheus.Counter
	UploadSuccesses prometheus.Counter
	UploadFailures  prometheus.Counter
	UploadRetries   prometheus.Counter
	UploadDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg uses the
// default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		RingOverflows: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_ring_overflows_total",
			Help: "Total number of capture chunks dropped because the transfer buffer was full",
		}),
		RingAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soundd_ring_available_chunks",
			Help: "Chunks waiting in the transfer buffer at the start of the last drain",
		}),
		ChunksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_chunks_processed_total",
			Help: "Total number of capture chunks processed by the worker",
		}),
		ResampleFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_resample_failures_total",
			Help: "Total number of chunks skipped because resampling failed",
		}),
		DrainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "soundd_drain_duration_seconds",
			Help:    "Time spent draining the transfer buffer per tick",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
		}),

		// VAD metrics
		VADChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_vad_chunks_total",
			Help: "Total number of chunks classified",
		}),
		VADSpeechChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_vad_speech_chunks_total",
			Help: "Total number of chunks classified as speech",
		}),
		VADStaleVerdict: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soundd_vad_stale_verdicts_total",
			Help: "Total number of verdicts that reused the previous result",
		}, []string{"reason"}),

		// Segment metrics
		SegmentsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soundd_segments_started_total",
			Help: "Total number of segments opened",
		}, []string{"mode"}),
		SegmentsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soundd_segments_completed_total",
			Help: "Total number of segments finalized",
		}, []string{"mode"}),
		SegmentFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_segment_failures_total",
			Help: "Total number of segment create or finalize failures",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "soundd_segment_duration_seconds",
			Help:    "Duration of finalized segments",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		SegmentTrimmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_segments_trimmed_total",
			Help: "Total number of segments whose trailing silence was trimmed",
		}),

		// Playback metrics
		PlaybackStarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_playback_starts_total",
			Help: "Total number of playback starts",
		}),
		Crossfades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soundd_crossfades_total",
			Help: "Total number of crossfades started",
		}, []string{"kind"}),
		CrossfadesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soundd_crossfades_skipped_total",
			Help: "Total number of crossfade triggers ignored",
		}, []string{"reason"}),
		DeviceRecoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soundd_device_recoveries_total",
			Help: "Total number of output device recovery attempts",
		}, []string{"outcome"}),

		// Network capture metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_network_packets_received_total",
			Help: "Total number of capture datagrams received",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_network_parse_errors_total",
			Help: "Total number of capture datagrams that failed to parse",
		}),
		SequenceGaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_network_sequence_gaps_total",
			Help: "Total number of missing capture datagrams detected by sequence",
		}),

		// Upload metrics
		UploadRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_upload_requests_total",
			Help: "Total number of segment uploads attempted",
		}),
		UploadSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_upload_successes_total",
			Help: "Total number of successful segment uploads",
		}),
		UploadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_upload_failures_total",
			Help: "Total number of failed segment uploads",
		}),
		UploadRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "soundd_upload_retries_total",
			Help: "Total number of segment upload retries",
		}),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "soundd_upload_duration_seconds",
			Help:    "Duration of segment uploads",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soundd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soundd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soundd_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordOverflows adds newly observed transfer buffer overflows
func (m *Metrics) RecordOverflows(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.RingOverflows.Add(float64(n))
}

// RecordDrain records one worker drain pass
func (m *Metrics) RecordDrain(available, processed int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RingAvailable.Set(float64(available))
	m.ChunksProcessed.Add(float64(processed))
	m.DrainDuration.Observe(durationSeconds)
}

// RecordResampleFailure increments the resample failure counter
func (m *Metrics) RecordResampleFailure() {
	if m == nil {
		return
	}
	m.ResampleFailures.Inc()
}

// RecordVADVerdict records one classified chunk
func (m *Metrics) RecordVADVerdict(speech bool) {
	if m == nil {
		return
	}
	m.VADChunks.Inc()
	if speech {
		m.VADSpeechChunks.Inc()
	}
}

// RecordVADStale records a verdict that fell back to the previous result
func (m *Metrics) RecordVADStale(reason string) {
	if m == nil {
		return
	}
	m.VADStaleVerdict.WithLabelValues(reason).Inc()
}

// RecordSegmentStarted records an opened segment
func (m *Metrics) RecordSegmentStarted(mode string) {
	if m == nil {
		return
	}
	m.SegmentsStarted.WithLabelValues(mode).Inc()
}

// RecordSegmentCompleted records a finalized segment
func (m *Metrics) RecordSegmentCompleted(mode string, durationSeconds float64, trimmed bool) {
	if m == nil {
		return
	}
	m.SegmentsCompleted.WithLabelValues(mode).Inc()
	m.SegmentDuration.Observe(durationSeconds)
	if trimmed {
		m.SegmentTrimmed.Inc()
	}
}

// RecordSegmentFailure increments the segment failure counter
func (m *Metrics) RecordSegmentFailure() {
	if m == nil {
		return
	}
	m.SegmentFailures.Inc()
}

// RecordPlaybackStart increments the playback start counter
func (m *Metrics) RecordPlaybackStart() {
	if m == nil {
		return
	}
	m.PlaybackStarts.Inc()
}

// RecordCrossfade records a started crossfade of the given kind ("loop" or "transition")
func (m *Metrics) RecordCrossfade(kind string) {
	if m == nil {
		return
	}
	m.Crossfades.WithLabelValues(kind).Inc()
}

// RecordCrossfadeSkipped records an ignored crossfade trigger
func (m *Metrics) RecordCrossfadeSkipped(reason string) {
	if m == nil {
		return
	}
	m.CrossfadesSkipped.WithLabelValues(reason).Inc()
}

// RecordDeviceRecovery records an output device recovery attempt
func (m *Metrics) RecordDeviceRecovery(outcome string) {
	if m == nil {
		return
	}
	m.DeviceRecoveries.WithLabelValues(outcome).Inc()
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordSequenceGap adds missing datagrams
func (m *Metrics) RecordSequenceGap(missing uint32) {
	if m == nil {
		return
	}
	m.SequenceGaps.Add(float64(missing))
}

// RecordUploadRequest increments the upload requests counter
func (m *Metrics) RecordUploadRequest() {
	if m == nil {
		return
	}
	m.UploadRequests.Inc()
}

// RecordUploadSuccess records a successful upload
func (m *Metrics) RecordUploadSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.UploadSuccesses.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadFailure records a failed upload
func (m *Metrics) RecordUploadFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.UploadFailures.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadRetry increments the retry counter
func (m *Metrics) RecordUploadRetry() {
	if m == nil {
		return
	}
	m.UploadRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
