package mws

// Reserved signal codes.
const (
	// SignalHandshake is reserved for the credential handshake and its acknowledgment
	SignalHandshake = 0

	// SignalClientKick asks the server to disconnect another client
	SignalClientKick = 202
	// SignalClientBan asks the server to ban another client
	SignalClientBan = 203

	// MinSignal and MaxSignal bound every signal code on the wire
	MinSignal = 0
	MaxSignal = 9999
)

// Close codes used by this library on top of the RFC 6455 range.
const (
	// CloseClientDisconnect is sent when the client closes the connection on purpose.
	// Codes at or above CloseLocalThreshold are never auto-reconnected.
	CloseClientDisconnect = 5201
	CloseLocalThreshold   = 5000

	// Server harness close codes (application range)
	CloseUnauthorized = 4001
	CloseKicked       = 4002
	CloseBanned       = 4003
)

// Subprotocol is the WebSocket sub-protocol token negotiated by client and server.
const Subprotocol = "deep"

// IDPending is the connection id reported until the handshake completes.
const IDPending = "ID_PENDING"

// Standard error messages
const (
	// Protocol errors
	ErrInvalidSignalData     = "Received invalid signal data"
	ErrMalformedHandshake    = "Received malformed handshake data"
	ErrHandshakeFailed       = "Failed to send handshake data"
	ErrInvalidMessageFormat  = "Invalid message format"
	ErrHandshakeRequired     = "Handshake required"
	ErrUnauthorizedMessage   = "Unauthorized"
	ErrRateLimitExceeded     = "Rate limit exceeded"
	ErrAlreadyConnectedMsg   = "Already connected. Disconnect before reconnecting."
	ErrTransportNotOpen      = "SendError / WebSocket is not open."
	ErrSignalRangeMessage    = "The signal code must be between 0 and 9999."
	ErrMaxPayloadExceededMsg = "SendError / Max payload size exceeded"

	// Connection errors
	ErrClientNotFound       = "client not found"
	ErrConnectionClosed     = "client connection is closed"
	ErrContextCancelled     = "client context cancelled"
	ErrFailedToEncode       = "failed to encode message"
	ErrSendQueueFull        = "send queue is full"
	ErrServerAlreadyRunning = "server already running"
)

// LocalCloseReason builds the reason string sent with CloseClientDisconnect.
func LocalCloseReason(message string) string {
	return "Connection closed by client (Message: " + message + ")."
}
