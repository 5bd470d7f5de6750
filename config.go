package mws

import (
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Client defaults.
const (
	DefaultHost             = "127.0.0.1:1997"
	DefaultMaxPayload       = 100 * 1024 * 1024 // 100 MiB
	DefaultReconnectDelay   = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// ClientConfig configures a SignalClient.
type ClientConfig struct {
	// Host is the "host:port" of the server (default DefaultHost)
	Host string
	// SSL selects wss:// instead of ws://
	SSL bool
	// Reconnect enables one reconnection attempt per transport-initiated closure
	Reconnect bool
	// MaxPayload is the exclusive upper bound of a serialized payload in bytes
	MaxPayload int
	// Credentials are sent with every handshake
	Credentials Credentials
	// ShowSend and ShowRecv log every outgoing / incoming signal at info level
	ShowSend bool
	ShowRecv bool

	// ReconnectDelay is the fixed delay before a reconnection attempt
	ReconnectDelay time.Duration
	// HandshakeTimeout bounds the WebSocket opening handshake of the default transport
	HandshakeTimeout time.Duration

	Logger           Logger
	Metrics          Metrics
	Tracer           trace.Tracer
	TransportFactory TransportFactory
}

// DefaultClientConfig returns the default client configuration.
// Logger, Metrics, Tracer and TransportFactory are left nil and resolved by the constructor.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:             DefaultHost,
		MaxPayload:       DefaultMaxPayload,
		Credentials:      Credentials{},
		ReconnectDelay:   DefaultReconnectDelay,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

// URL returns the endpoint derived from Host and SSL.
func (c ClientConfig) URL() string {
	scheme := "ws"
	if c.SSL {
		scheme = "wss"
	}
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	return scheme + "://" + host
}

// ConnectOption overrides connection parameters for a Connect call.
type ConnectOption func(*ConnectOptions)

// ConnectOptions collects the values set by ConnectOption.
type ConnectOptions struct {
	Credentials Credentials
	Reconnect   *bool
}

// WithCredentials replaces the stored credentials.
func WithCredentials(c Credentials) ConnectOption {
	return func(o *ConnectOptions) {
		o.Credentials = c
	}
}

// WithReconnect replaces the stored reconnect policy.
func WithReconnect(enabled bool) ConnectOption {
	return func(o *ConnectOptions) {
		o.Reconnect = &enabled
	}
}

// Logger is the logging capability injected into clients and servers.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

// Metrics receives protocol counters. See ws.NewPrometheusMetrics.
type Metrics interface {
	FrameSent(signal, bytes int)
	FrameReceived(signal, bytes int)
	Connected()
	// Disconnected records a closure; established is true when the handshake had completed
	Disconnected(code int, established bool)
	ReconnectScheduled()
	SendRejected(kind ErrorKind)
	// ProtocolError records a malformed frame; op is "receive" or "handshake"
	ProtocolError(op string)
}

type nopMetrics struct{}

func (nopMetrics) FrameSent(int, int)     {}
func (nopMetrics) FrameReceived(int, int) {}
func (nopMetrics) Connected()             {}
func (nopMetrics) Disconnected(int, bool) {}
func (nopMetrics) ReconnectScheduled()    {}
func (nopMetrics) SendRejected(ErrorKind) {}
func (nopMetrics) ProtocolError(string)   {}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }
