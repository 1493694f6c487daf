// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_client"

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsFailed   *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	StateTransitions *prometheus.CounterVec

	// Capture metrics
	FramesSent      prometheus.Counter
	AudioBytesSent  prometheus.Counter
	FrameSendErrors prometheus.Counter

	// Playback metrics
	ChunksReceived        prometheus.Counter
	ChunksDropped         *prometheus.CounterVec
	BuffersScheduled      prometheus.Counter
	BuffersPlayed         prometheus.Counter
	PlaybackInterruptions *prometheus.CounterVec
	ScheduleLead          prometheus.Histogram

	// Transcript metrics
	TranscriptDeltas  prometheus.Counter
	TranscriptEntries *prometheus.CounterVec

	// Protocol metrics
	InboundMessages *prometheus.CounterVec
	ProtocolErrors  *prometheus.CounterVec

	// Backend metrics
	BackendRequests *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec

	// UI bridge metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of voice sessions that reached an open connection",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open voice sessions",
		}),
		SessionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of voice sessions that failed",
		}, []string{"kind"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of voice sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of session state transitions",
		}, []string{"from", "to"}),

		// Capture metrics
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total captured audio frames sent to the agent",
		}),
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total PCM16 bytes sent to the agent",
		}),
		FrameSendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_send_errors_total",
			Help:      "Total captured frames that failed to send",
		}),

		// Playback metrics
		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Total inbound audio chunks received",
		}),
		ChunksDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Total inbound audio chunks or buffers dropped",
		}, []string{"reason"}),
		BuffersScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffers_scheduled_total",
			Help:      "Total playback buffers scheduled",
		}),
		BuffersPlayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffers_played_total",
			Help:      "Total playback buffers that started playing",
		}),
		PlaybackInterruptions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_interruptions_total",
			Help:      "Total playback interruptions",
		}, []string{"cause"}),
		ScheduleLead: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_schedule_lead_seconds",
			Help:      "Time between scheduling a buffer and its start instant",
			Buckets:   []float64{0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		// Transcript metrics
		TranscriptDeltas: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_deltas_total",
			Help:      "Total agent transcript deltas received",
		}),
		TranscriptEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Total transcript entries sealed",
		}, []string{"speaker", "outcome"}),

		// Protocol metrics
		InboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Total inbound agent messages by type",
		}, []string{"type"}),
		ProtocolErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total protocol errors",
		}, []string{"error_type"}),

		// Backend metrics
		BackendRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total backend requests",
		}, []string{"operation", "outcome"}),
		BackendLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Backend request latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"operation"}),

		// UI bridge metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total UI bridge HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_latency_seconds",
			Help:      "UI bridge HTTP latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a session reaching an open connection.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records an open session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionFailed records a session failure by error kind.
func (m *Metrics) RecordSessionFailed(kind string) {
	m.SessionsFailed.WithLabelValues(kind).Inc()
}

// RecordStateTransition records a state machine transition.
func (m *Metrics) RecordStateTransition(from, to string) {
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordFrameSent records a captured frame sent to the agent.
func (m *Metrics) RecordFrameSent(bytes int) {
	m.FramesSent.Inc()
	m.AudioBytesSent.Add(float64(bytes))
}

// RecordFrameSendError records a failed frame send.
func (m *Metrics) RecordFrameSendError() {
	m.FrameSendErrors.Inc()
}

// RecordChunkReceived records an inbound audio chunk.
func (m *Metrics) RecordChunkReceived() {
	m.ChunksReceived.Inc()
}

// RecordChunkDropped records a dropped chunk or buffer.
func (m *Metrics) RecordChunkDropped(reason string) {
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

// RecordBufferScheduled records a scheduled buffer and how far ahead it starts.
func (m *Metrics) RecordBufferScheduled(leadSeconds float64) {
	m.BuffersScheduled.Inc()
	m.ScheduleLead.Observe(leadSeconds)
}

// RecordBufferPlayed records a buffer that started playing.
func (m *Metrics) RecordBufferPlayed() {
	m.BuffersPlayed.Inc()
}

// RecordInterruption records a playback interruption.
func (m *Metrics) RecordInterruption(cause string) {
	m.PlaybackInterruptions.WithLabelValues(cause).Inc()
}

// RecordTranscriptDelta records an agent transcript delta.
func (m *Metrics) RecordTranscriptDelta() {
	m.TranscriptDeltas.Inc()
}

// RecordTranscriptEntry records a sealed transcript entry.
func (m *Metrics) RecordTranscriptEntry(speaker, outcome string) {
	m.TranscriptEntries.WithLabelValues(speaker, outcome).Inc()
}

// RecordInbound records an inbound message by type.
func (m *Metrics) RecordInbound(msgType string) {
	m.InboundMessages.WithLabelValues(msgType).Inc()
}

// RecordProtocolError records a protocol error.
func (m *Metrics) RecordProtocolError(errorType string) {
	m.ProtocolErrors.WithLabelValues(errorType).Inc()
}

// RecordBackendRequest records a backend call outcome and latency.
func (m *Metrics) RecordBackendRequest(operation, outcome string, latencySeconds float64) {
	m.BackendRequests.WithLabelValues(operation, outcome).Inc()
	m.BackendLatency.WithLabelValues(operation).Observe(latencySeconds)
}

// RecordHTTPRequest records a UI bridge request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, latencySeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
