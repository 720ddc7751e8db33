package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "realtime"

// Metrics holds all Prometheus collectors for the client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Connection metrics
	state               prometheus.Gauge
	connectAttempts     *prometheus.CounterVec
	reconnectsScheduled prometheus.Counter
	reconnectDelay      prometheus.Histogram
	heartbeatTimeouts   prometheus.Counter
	maxAttemptsReached  prometheus.Counter
	disconnects         *prometheus.CounterVec

	// Frame metrics
	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	sendFailures   *prometheus.CounterVec

	// Dispatcher metrics
	listenerPanics *prometheus.CounterVec

	// Archive metrics
	archiveBuffered prometheus.Gauge
	archiveWritten  prometheus.Counter
	archiveErrors   prometheus.Counter
	archiveDropped  prometheus.Counter
}

// New registers the client metrics with reg. A nil reg uses the default
// Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		}),
		connectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result",
		}, []string{"result"}),
		reconnectsScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnection timers scheduled",
		}),
		reconnectDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay of scheduled reconnections",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 30, 60},
		}),
		heartbeatTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "Connections declared dead by the liveness monitor",
		}),
		maxAttemptsReached: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "max_reconnect_attempts_reached_total",
			Help:      "Times reconnection gave up after exhausting attempts",
		}),
		disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Connections lost by close reason",
		}, []string{"reason"}),
		framesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames by event name",
		}, []string{"event"}),
		framesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames by event name",
		}, []string{"event"}),
		sendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Outbound frames dropped after a failed send",
		}, []string{"event"}),
		listenerPanics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_panics_total",
			Help:      "Recovered listener panics by event name",
		}, []string{"event"}),
		archiveBuffered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_buffered_events",
			Help:      "Events waiting in the archive buffer",
		}),
		archiveWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_written_total",
			Help:      "Events written to the archive table",
		}),
		archiveErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_errors_total",
			Help:      "Failed archive batch writes",
		}),
		archiveDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_dropped_total",
			Help:      "Events dropped because the archive buffer was full",
		}),
	}
}

// SetState records the numeric connection state.
func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}

// RecordConnectAttempt counts an attempt with result "success" or "failure".
func (m *Metrics) RecordConnectAttempt(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

// RecordReconnectScheduled counts a scheduled reconnection and its delay.
func (m *Metrics) RecordReconnectScheduled(delay time.Duration) {
	if m == nil {
		return
	}
	m.reconnectsScheduled.Inc()
	m.reconnectDelay.Observe(delay.Seconds())
}

// RecordHeartbeatTimeout counts a liveness failure.
func (m *Metrics) RecordHeartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}

// RecordMaxAttemptsReached counts reconnection exhaustion.
func (m *Metrics) RecordMaxAttemptsReached() {
	if m == nil {
		return
	}
	m.maxAttemptsReached.Inc()
}

// RecordDisconnect counts a lost connection by reason.
func (m *Metrics) RecordDisconnect(reason string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(reason).Inc()
}

// RecordFrameReceived counts an inbound frame.
func (m *Metrics) RecordFrameReceived(event string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(event).Inc()
}

// RecordFrameSent counts an outbound frame.
func (m *Metrics) RecordFrameSent(event string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(event).Inc()
}

// RecordSendFailure counts a dropped outbound frame.
func (m *Metrics) RecordSendFailure(event string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(event).Inc()
}

// RecordListenerPanic counts a recovered listener panic.
func (m *Metrics) RecordListenerPanic(event string) {
	if m == nil {
		return
	}
	m.listenerPanics.WithLabelValues(event).Inc()
}

// SetArchiveBuffered records the archive buffer length.
func (m *Metrics) SetArchiveBuffered(n int) {
	if m == nil {
		return
	}
	m.archiveBuffered.Set(float64(n))
}

// RecordArchiveWrite counts written events, or a failed batch when err is set.
func (m *Metrics) RecordArchiveWrite(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.archiveErrors.Inc()
		return
	}
	m.archiveWritten.Add(float64(n))
}

// RecordArchiveDropped counts an event evicted from a full archive buffer.
func (m *Metrics) RecordArchiveDropped() {
	if m == nil {
		return
	}
	m.archiveDropped.Inc()
}
