package ws

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luciancaetano/mws"
	"github.com/luciancaetano/mws/internal/logging"
	"github.com/luciancaetano/mws/internal/metrics"
	"github.com/luciancaetano/mws/internal/websocket"
)

// NewClient creates a disconnected signal client. Zero config values take their defaults;
// without a TransportFactory the client dials with gorilla/websocket.
//
// Example:
//
//	cfg := mws.DefaultClientConfig()
//	cfg.Host = "example.com:1997"
//	cfg.Reconnect = true
//	client := ws.NewClient(cfg)
//
//	client.OnSignal(func(s mws.Signal) {
//	    log.Printf("signal %d: %v", s.Code, s.Payload)
//	})
//	client.Connect(mws.WithCredentials(mws.Credentials{"token": "..."}))
func NewClient(cfg mws.ClientConfig) mws.SignalClient {
	return websocket.NewClient(cfg)
}

type DialConfig = websocket.DialConfig

// DialTransport returns the default gorilla/websocket TransportFactory.
func DialTransport(cfg DialConfig) mws.TransportFactory {
	return websocket.DialTransport(cfg)
}

// NewPtermLogger returns a pterm-backed Logger writing to w (stderr when nil).
func NewPtermLogger(w io.Writer, debug bool) mws.Logger {
	return logging.NewPterm(logging.Options{Debug: debug, Writer: w})
}

// NewPrometheusMetrics registers the protocol collectors under mws_<subsystem>_* with reg
// (the default registerer when nil).
func NewPrometheusMetrics(reg prometheus.Registerer, subsystem string) mws.Metrics {
	return metrics.New(metrics.Config{Subsystem: subsystem, Registry: reg})
}
