package mws

import (
	"context"
	"net/http"
)

// State is the connection state of a SignalClient.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// SignalClient keeps a single persistent connection to a signal server.
//
// The connection goes DISCONNECTED -> CONNECTING (transport open, handshake sent) ->
// CONNECTED (handshake acknowledged) -> DISCONNECTED. No method blocks on the network and
// no method panics; failures are logged and surface through the "disconnected" event or
// the error returned by Send.
//
// Example usage:
//
//	client := ws.NewClient(mws.ClientConfig{
//	    Host:        "127.0.0.1:1997",
//	    Reconnect:   true,
//	    Credentials: mws.Credentials{"access_token": "1234567890"},
//	})
//
//	client.OnConnected(func(id string, info mws.PeerInfo) {
//	    client.Send(100, map[string]any{"hello": "world"})
//	})
//	client.OnSignal(func(s mws.Signal) {
//	    log.Printf("signal %d: %v", s.Code, s.Payload)
//	})
//
//	client.Connect()
type SignalClient interface {
	// Connect opens the transport and starts the handshake.
	//
	// It is a no-op while a transport is already open or still opening. Options override
	// the stored credentials and reconnect policy for this and later attempts.
	//
	// Example:
	//
	//	client.Connect(mws.WithCredentials(mws.Credentials{"token": "abc"}), mws.WithReconnect(true))
	Connect(opts ...ConnectOption)

	// Disconnect tears the connection down.
	//
	// With a non-empty reason and an open transport, the transport is closed with
	// CloseClientDisconnect and the "disconnected" event fires before Disconnect returns.
	// Such a closure is never followed by an automatic reconnection. In every case the
	// connection id, peer info and state are reset and any pending reconnection is cancelled.
	Disconnect(reason string)

	// Send encodes data under the given signal code and hands it to the transport.
	//
	// data is serialized as follows: nil becomes an empty payload, strings and byte slices
	// are sent verbatim, booleans and numbers in their decimal form, everything else as JSON.
	//
	// Returns an *Error of KindConnection when the client is not connected, KindValidation
	// when the signal is outside [0, 9999] or the payload reaches the configured maximum, and
	// KindSerialization when data cannot be marshaled. The connection stays open in all
	// these cases.
	Send(signal int, data any) error

	// ClientKick asks the server to disconnect another client.
	ClientKick(clientID, reason string) error

	// ClientBan asks the server to ban another client for the given length.
	ClientBan(clientID, reason, length string) error

	// ID returns the id assigned by the server, or IDPending before the handshake completes.
	ID() string

	// PeerInfo returns a copy of the peer info received with the handshake acknowledgment.
	PeerInfo() PeerInfo

	// State returns the current connection state.
	State() State

	// URL returns the endpoint the client connects to.
	URL() string

	// Subscribe registers a handler for the named event and returns its handle.
	Subscribe(name EventName, h Handler) Handle

	// Unsubscribe removes one handler.
	Unsubscribe(name EventName, h Handle)

	// UnsubscribeAll removes every handler for name, or every handler at all when name is empty.
	UnsubscribeAll(name EventName)

	// OnConnected subscribes fn to the "connected" event.
	OnConnected(fn func(id string, info PeerInfo)) Handle

	// OnDisconnected subscribes fn to the "disconnected" event.
	OnDisconnected(fn func(code int, reason string)) Handle

	// OnSignal subscribes fn to the "signal" event.
	OnSignal(fn func(s Signal)) Handle
}

// SignalServer is the companion server that speaks the same protocol.
//
// Example usage:
//
//	server := ws.NewServer(ws.NewServerConfig(":1997"))
//
//	server.RegisterHandler(100, func(peer mws.Peer, payload []byte) {
//	    peer.Send(100, payload)
//	})
//
//	server.Start(ctx)
type SignalServer interface {
	// Start starts listening on the configured address.
	// Returns an error if the server is already running or the address cannot be bound.
	Start(ctx context.Context) error

	// Stop closes every peer connection and, when started with Start, shuts the HTTP server down.
	Stop(ctx context.Context) error

	// Handler returns the HTTP handler serving the WebSocket endpoint, for embedding
	// the server into an existing mux.
	Handler() http.Handler

	// RegisterHandler registers a handler for a signal code.
	//
	// Handlers run in their own goroutine once the peer completed the handshake.
	// Signal 0 cannot be registered.
	RegisterHandler(signal int, handler func(peer Peer, payload []byte)) error

	// Broadcast sends a signal to every authenticated peer.
	Broadcast(signal int, data any) error

	// Peer returns a connected peer by id.
	Peer(id string) (Peer, bool)
}

// Peer is a client connection as seen by the SignalServer.
type Peer interface {
	// ID returns the 15-character id assigned at handshake.
	ID() string

	// RemoteAddr returns the peer's remote network address.
	RemoteAddr() string

	// Context returns the peer's lifecycle context, cancelled when the connection closes.
	Context() context.Context

	// Credentials returns the credentials the peer sent with its handshake.
	Credentials() Credentials

	// Send encodes data under the given signal and queues it for delivery.
	Send(signal int, data any) error

	// CloseWithCode closes the connection with a WebSocket close code and reason.
	CloseWithCode(code int, reason string) error

	// IsAlive returns true if the connection is still active.
	IsAlive() bool
}
