// Package metrics implements mws.Metrics with Prometheus collectors.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/luciancaetano/mws"
)

// Config configures the Prometheus collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "mws").
	Namespace string

	// Subsystem separates client and server collectors, e.g. "client" or "server".
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Prometheus holds the collectors. It implements mws.Metrics.
type Prometheus struct {
	framesSent        *prometheus.CounterVec
	bytesSent         prometheus.Counter
	framesReceived    *prometheus.CounterVec
	bytesReceived     prometheus.Counter
	connectionsTotal  prometheus.Counter
	activeConnections prometheus.Gauge
	disconnectsTotal  *prometheus.CounterVec
	reconnectsTotal   prometheus.Counter
	sendRejected      *prometheus.CounterVec
	protocolErrors    *prometheus.CounterVec
}

// New registers the collectors with cfg.Registry.
//
// Metrics collected:
//   - mws_<subsystem>_frames_sent_total: Counter of frames sent by signal class
//   - mws_<subsystem>_sent_bytes_total: Counter of frame bytes sent
//   - mws_<subsystem>_frames_received_total: Counter of frames received by signal class
//   - mws_<subsystem>_received_bytes_total: Counter of frame bytes received
//   - mws_<subsystem>_connections_total: Counter of completed handshakes
//   - mws_<subsystem>_active_connections: Gauge of handshaked connections
//   - mws_<subsystem>_disconnects_total: Counter of closures by close code
//   - mws_<subsystem>_reconnects_total: Counter of scheduled reconnections
//   - mws_<subsystem>_send_rejected_total: Counter of rejected sends by error kind
//   - mws_<subsystem>_protocol_errors_total: Counter of malformed frames by operation
//
// Signals are labelled "handshake", "admin" or "app" to keep label cardinality bounded.
func New(cfg Config) *Prometheus {
	if cfg.Namespace == "" {
		cfg.Namespace = "mws"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)
	counterOpts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		}
	}

	return &Prometheus{
		framesSent:       factory.NewCounterVec(counterOpts("frames_sent_total", "Total number of frames sent"), []string{"signal"}),
		bytesSent:        factory.NewCounter(counterOpts("sent_bytes_total", "Total number of frame bytes sent")),
		framesReceived:   factory.NewCounterVec(counterOpts("frames_received_total", "Total number of frames received"), []string{"signal"}),
		bytesReceived:    factory.NewCounter(counterOpts("received_bytes_total", "Total number of frame bytes received")),
		connectionsTotal: factory.NewCounter(counterOpts("connections_total", "Total number of completed handshakes")),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "active_connections",
			Help:        "Number of handshaked connections",
			ConstLabels: cfg.ConstLabels,
		}),
		disconnectsTotal: factory.NewCounterVec(counterOpts("disconnects_total", "Total number of closures by close code"), []string{"code"}),
		reconnectsTotal:  factory.NewCounter(counterOpts("reconnects_total", "Total number of scheduled reconnections")),
		sendRejected:     factory.NewCounterVec(counterOpts("send_rejected_total", "Total number of rejected sends by error kind"), []string{"kind"}),
		protocolErrors:   factory.NewCounterVec(counterOpts("protocol_errors_total", "Total number of malformed frames by operation"), []string{"op"}),
	}
}

// SignalClass maps a signal code to its metric label.
func SignalClass(signal int) string {
	switch signal {
	case mws.SignalHandshake:
		return "handshake"
	case mws.SignalClientKick, mws.SignalClientBan:
		return "admin"
	default:
		return "app"
	}
}

func (p *Prometheus) FrameSent(signal, bytes int) {
	p.framesSent.WithLabelValues(SignalClass(signal)).Inc()
	p.bytesSent.Add(float64(bytes))
}

func (p *Prometheus) FrameReceived(signal, bytes int) {
	p.framesReceived.WithLabelValues(SignalClass(signal)).Inc()
	p.bytesReceived.Add(float64(bytes))
}

func (p *Prometheus) Connected() {
	p.connectionsTotal.Inc()
	p.activeConnections.Inc()
}

// Disconnected records a closure. Only established connections leave the active gauge.
func (p *Prometheus) Disconnected(code int, established bool) {
	p.disconnectsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	if established {
		p.activeConnections.Dec()
	}
}

func (p *Prometheus) ReconnectScheduled() {
	p.reconnectsTotal.Inc()
}

func (p *Prometheus) SendRejected(kind mws.ErrorKind) {
	p.sendRejected.WithLabelValues(kind.String()).Inc()
}

func (p *Prometheus) ProtocolError(op string) {
	p.protocolErrors.WithLabelValues(op).Inc()
}
