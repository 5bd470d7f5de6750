package mws

import "encoding/json"

// EventName identifies a client event.
type EventName string

const (
	EventConnected    EventName = "connected"
	EventDisconnected EventName = "disconnected"
	EventSignal       EventName = "signal"
)

// PeerInfo is the key/value map the server attaches to the handshake acknowledgment.
type PeerInfo map[string]any

// Credentials are sent once per connection attempt as the handshake payload.
type Credentials map[string]any

// Event is one of Connected, Disconnected or Signal.
type Event interface {
	Name() EventName
}

// Connected is published once the server acknowledged the handshake.
type Connected struct {
	ID       string
	PeerInfo PeerInfo
}

// Name implements Event.
func (Connected) Name() EventName { return EventConnected }

// Disconnected is published whenever the connection ends, locally or remotely.
// ID is the connection id that was in use, IDPending if the handshake never completed.
// Err is set when the client closed the connection because of a failure: an *Error of
// KindProtocol for malformed frames, or the send error of a handshake that could not go out.
type Disconnected struct {
	Code   int
	Reason string
	ID     string
	Err    error
}

// Name implements Event.
func (Disconnected) Name() EventName { return EventDisconnected }

// Signal is an application frame received while connected.
//
// Payload holds the decoded value: map[string]any or []any when the frame carried a JSON
// object or array, string otherwise. Raw keeps the undecoded bytes.
type Signal struct {
	Code    int
	Payload any
	Raw     []byte
}

// Name implements Event.
func (Signal) Name() EventName { return EventSignal }

// Decode unmarshals the raw payload into v.
func (s Signal) Decode(v any) error {
	return json.Unmarshal(s.Raw, v)
}

// Handler receives published events. Returning false marks the publish result as vetoed;
// remaining handlers still run.
type Handler func(ev Event) bool

// Handle identifies a subscription for targeted unsubscribe.
type Handle uint64
