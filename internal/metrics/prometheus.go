package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voicememo service.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// Session metrics
	SessionsCreated    prometheus.Counter
	SessionTransitions *prometheus.CounterVec
	ActiveRecordings   prometheus.Gauge

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  *prometheus.CounterVec
	TranscriptionDuration  prometheus.Histogram
	AudioDuration          prometheus.Histogram

	// Sample cache metrics
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheEvictions  prometheus.Counter
	CacheRejections prometheus.Counter
	CacheBytes      prometheus.Gauge
	DecodeDuration  prometheus.Histogram

	// Artifact store metrics
	ArtifactsCreated *prometheus.CounterVec
	ArtifactsTracked prometheus.Gauge
	SweepRuns        prometheus.Counter
	SweepDeleted     prometheus.Counter
	SweepErrors      prometheus.Counter
	SweepDuration    prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg creates unregistered metrics, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicememo_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicememo_session_transitions_total",
			Help: "Session state transitions",
		}, []string{"from", "to"}),
		ActiveRecordings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicememo_active_recordings",
			Help: "Number of sessions currently recording (0 or 1)",
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicememo_transcription_requests_total",
			Help: "Total number of transcription attempts",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicememo_transcription_successes_total",
			Help: "Total number of successful transcriptions",
		}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicememo_transcription_failures_total",
			Help: "Total number of failed transcriptions by cause",
		}, []string{"cause"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicememo_transcription_duration_seconds",
			Help:    "Wall-clock time spent in the inference engine",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1.5 minutes
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicememo_audio_duration_seconds",
			Help:    "Length of audio submitted for transcription",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// Sample cache metrics
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicememo_sample_cache_hits_total",
			Help: "Sample cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicememo_sample_cache_misses_total",
			Help: "Sample cache misses",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicememo_sample_cache_evictions_total",
			Help: "Entries evicted to stay within the byte budget",
		}),
		CacheRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicememo_sample_cache_rejections_total",
			Help: "Entries rejected for exceeding the byte budget on their own",
		}),
		CacheBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicememo_sample_cache_bytes",
			Help: "Estimated memory held by cached samples",
		}),
		DecodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicememo_decode_duration_seconds",
			Help:    "Time spent decoding WAV files",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),

		// Artifact store metrics
		ArtifactsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicememo_artifacts_created_total",
			Help: "Artifacts created by origin",
		}, []string{"origin"}),
		ArtifactsTracked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicememo_artifacts_tracked",
			Help: "Artifacts currently tracked by the store",
		}),
		SweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicememo_sweep_runs_total",
			Help: "Retention sweeps executed",
		}),
		SweepDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicememo_sweep_deleted_total",
			Help: "Audio files removed by the retention sweep",
		}),
		SweepErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicememo_sweep_errors_total",
			Help: "Per-file errors encountered by the retention sweep",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicememo_sweep_duration_seconds",
			Help:    "Duration of retention sweeps",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicememo_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicememo_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicememo_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordTransition counts a session state change
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(from, to).Inc()
}

// SetActiveRecordings sets the number of sessions currently recording
func (m *Metrics) SetActiveRecordings(count int) {
	if m == nil {
		return
	}
	m.ActiveRecordings.Set(float64(count))
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest(audioSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
	m.AudioDuration.Observe(audioSeconds)
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(cause string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.WithLabelValues(cause).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordCacheLookup counts a sample cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// RecordCacheEviction counts an entry evicted for space
func (m *Metrics) RecordCacheEviction() {
	if m == nil {
		return
	}
	m.CacheEvictions.Inc()
}

// RecordCacheRejection counts an entry too large for the budget
func (m *Metrics) RecordCacheRejection() {
	if m == nil {
		return
	}
	m.CacheRejections.Inc()
}

// SetCacheBytes sets the current cache footprint
func (m *Metrics) SetCacheBytes(bytes int64) {
	if m == nil {
		return
	}
	m.CacheBytes.Set(float64(bytes))
}

// RecordDecode observes a WAV decode
func (m *Metrics) RecordDecode(durationSeconds float64) {
	if m == nil {
		return
	}
	m.DecodeDuration.Observe(durationSeconds)
}

// RecordArtifactCreated counts a new artifact
func (m *Metrics) RecordArtifactCreated(origin string) {
	if m == nil {
		return
	}
	m.ArtifactsCreated.WithLabelValues(origin).Inc()
}

// SetArtifactsTracked sets the tracked artifact count
func (m *Metrics) SetArtifactsTracked(count int) {
	if m == nil {
		return
	}
	m.ArtifactsTracked.Set(float64(count))
}

// RecordSweep records a completed retention sweep
func (m *Metrics) RecordSweep(deleted, errors int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SweepRuns.Inc()
	m.SweepDeleted.Add(float64(deleted))
	m.SweepErrors.Add(float64(errors))
	m.SweepDuration.Observe(durationSeconds)
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
