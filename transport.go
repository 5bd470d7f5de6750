package mws

// ReadyState mirrors the readiness of a Transport.
type ReadyState int32

const (
	ReadyConnecting ReadyState = iota
	ReadyOpen
	ReadyClosing
	ReadyClosed
)

// String returns the string representation of the ready state.
func (r ReadyState) String() string {
	switch r {
	case ReadyConnecting:
		return "CONNECTING"
	case ReadyOpen:
		return "OPEN"
	case ReadyClosing:
		return "CLOSING"
	case ReadyClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Transport is a message-oriented bidirectional connection carrying one frame per message.
type Transport interface {
	// ReadyState reports whether the transport is still opening, open or closed.
	ReadyState() ReadyState

	// Send writes one raw frame.
	Send(frame []byte) error

	// Close closes the transport with a close code and reason. OnClose follows
	// asynchronously, never from within Close.
	Close(code int, reason string) error
}

// TransportHandlers receive the transport notifications.
//
// OnClose is called exactly once per transport, also when opening fails.
type TransportHandlers struct {
	OnOpen    func()
	OnClose   func(code int, reason string)
	OnMessage func(frame []byte)
}

// TransportFactory creates a transport to url negotiating the given sub-protocols.
// Implementations must not call any handler before returning.
type TransportFactory func(url string, subprotocols []string, h TransportHandlers) (Transport, error)
