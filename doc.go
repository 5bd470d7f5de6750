// Package mws is a client for a signal-based messaging protocol carried over WebSocket.
//
// A signal is an application message code in [0, 9999] with an optional text payload.
// The client keeps one persistent connection, authenticates with a credentials handshake,
// dispatches incoming signals to subscribers and optionally reconnects after a
// transport-initiated closure. A compatible server harness lives in the ws package.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/mws"
//	    "github.com/luciancaetano/mws/ws"
//	)
//
//	cfg := mws.DefaultClientConfig()
//	cfg.Host = "127.0.0.1:1997"
//	cfg.Reconnect = true
//	cfg.Logger = ws.NewPtermLogger(nil, false)
//
//	client := ws.NewClient(cfg)
//	client.OnConnected(func(id string, info mws.PeerInfo) {
//	    client.Send(100, map[string]any{"text": "hello"})
//	})
//	client.OnSignal(func(s mws.Signal) {
//	    // s.Payload is map[string]any / []any for JSON payloads, string otherwise
//	})
//	client.Connect(mws.WithCredentials(mws.Credentials{"access_token": "..."}))
//
// # Protocol Format
//
// Every WebSocket message carries one frame:
//
//	[1 byte: signal / 100][1 byte: signal % 100][1 byte: 25][1 byte: 151][N bytes: UTF-8 payload]
//
// The connection negotiates the "deep" sub-protocol. Signal 0 is the handshake: the client
// sends its credentials as JSON and the server answers with
//
//	"MK" + 15-byte connection id (space padded) + JSON peer info
//
// Signals received before the acknowledgment are dropped. Signals 202 and 203 ask the
// server to kick or ban another client; the companion server honors them from any peer
// unless ServerConfig.AuthorizeAdmin says otherwise.
//
// # Close Codes
//
// A Disconnect with a reason closes with code 5201 and the reason
// "Connection closed by client (Message: <reason>).". Codes 5000 and above are never
// followed by a reconnection; lower codes are, once per closure and after a fixed delay,
// when reconnection is enabled. Standard codes are reported with their RFC 6455 names.
// Close reasons longer than 123 bytes are cut at a rune boundary.
//
// A malformed frame or handshake acknowledgment closes the connection with 5201; the
// "disconnected" event then carries an *Error of KindProtocol wrapping ErrInvalidFrame.
//
// # Events
//
// Handlers subscribe to "connected", "disconnected" and "signal" and run synchronously on
// the goroutine that delivered the transport notification. Handler panics are logged and
// never reach the transport.
//
// # Important
//
//   - Send never blocks on the network; frames are queued by the transport
//   - Payloads must be smaller than ClientConfig.MaxPayload (100 MiB by default)
//   - Configure CheckOriginFn in production servers (never use ws.AllOrigins() in production)
//   - Configure AuthorizeAdmin in servers exposed to untrusted peers
package mws
