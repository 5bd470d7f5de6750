package websocket

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/luciancaetano/mws"
	"github.com/luciancaetano/mws/internal/events"
	"github.com/luciancaetano/mws/internal/protocol"
)

const tracerName = "github.com/luciancaetano/mws"

// Client implements mws.SignalClient.
//
// Transport callbacks and the reconnection timer run on their own goroutines; every state
// change happens under mu and events are published after mu is released, so handlers may
// call back into the client.
type Client struct {
	cfg     mws.ClientConfig
	url     string
	bus     *events.Bus
	log     mws.Logger
	metrics mws.Metrics
	tracer  trace.Tracer
	factory mws.TransportFactory

	mu          sync.Mutex
	state       mws.State
	transport   mws.Transport
	generation  uint64
	id          string
	peerInfo    mws.PeerInfo
	credentials mws.Credentials
	reconnect   bool
	span        trace.Span

	reconnectTimer *time.Timer
	reconnectSeq   uint64
}

// NewClient creates a disconnected client. Zero config values take their defaults.
func NewClient(cfg mws.ClientConfig) *Client {
	def := mws.DefaultClientConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = def.MaxPayload
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.Credentials == nil {
		cfg.Credentials = mws.Credentials{}
	}
	if cfg.Logger == nil {
		cfg.Logger = mws.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = mws.NopMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.TransportFactory == nil {
		cfg.TransportFactory = DialTransport(DialConfig{HandshakeTimeout: cfg.HandshakeTimeout})
	}

	return &Client{
		cfg:         cfg,
		url:         cfg.URL(),
		bus:         events.New(),
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		factory:     cfg.TransportFactory,
		state:       mws.StateDisconnected,
		id:          mws.IDPending,
		peerInfo:    mws.PeerInfo{},
		credentials: cfg.Credentials,
		reconnect:   cfg.Reconnect,
	}
}

// Connect opens a new transport unless one is already open or opening.
func (c *Client) Connect(opts ...mws.ConnectOption) {
	c.connect(0, opts...)
}

// connect starts an attempt. timerSeq is zero for caller-initiated attempts and the
// reconnection sequence number for timer-driven ones.
func (c *Client) connect(timerSeq uint64, opts ...mws.ConnectOption) {
	var o mws.ConnectOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()

	if timerSeq != 0 {
		if c.reconnectTimer == nil || timerSeq != c.reconnectSeq {
			// Cancelled after the timer already fired
			c.mu.Unlock()
			return
		}
		c.reconnectTimer = nil
	}

	if c.transport != nil {
		switch c.transport.ReadyState() {
		case mws.ReadyOpen:
			c.log.Error("%s (URL: %s)", mws.ErrAlreadyConnectedMsg, c.url)
			c.mu.Unlock()
			return
		case mws.ReadyConnecting:
			c.mu.Unlock()
			return
		}
	}

	if timerSeq == 0 {
		c.stopReconnectLocked()
		c.resetLocked()
		c.log.Info("(CONNECTING) URL: %s", c.url)
	}

	if o.Credentials != nil {
		c.credentials = o.Credentials
	}
	if o.Reconnect != nil {
		c.reconnect = *o.Reconnect
	}

	c.generation++
	gen := c.generation
	handlers := mws.TransportHandlers{
		OnOpen:    func() { c.handleOpen(gen) },
		OnClose:   func(code int, reason string) { c.handleClose(gen, code, reason) },
		OnMessage: func(frame []byte) { c.handleMessage(gen, frame) },
	}

	_, c.span = c.tracer.Start(context.Background(), "mws.connect", trace.WithAttributes(
		attribute.String("mws.url", c.url),
		attribute.Bool("mws.reconnect", timerSeq != 0),
	))

	t, err := c.factory(c.url, []string{mws.Subprotocol}, handlers)
	if err != nil {
		c.log.Error("connect_error: %v", err)
		ev := c.closeLocked(websocket.CloseAbnormalClosure, err.Error(), false)
		c.mu.Unlock()
		c.emit(ev)
		return
	}
	c.transport = t
	c.mu.Unlock()
}

// Disconnect closes the connection. See mws.SignalClient.
func (c *Client) Disconnect(reason string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("disconnect_error: %v", r)
		}
	}()

	c.mu.Lock()
	ev := c.disconnectLocked(reason)
	c.mu.Unlock()

	if ev != nil {
		c.emit(ev)
	}
}

// disconnectLocked returns the Disconnected event to publish once mu is released, if any.
func (c *Client) disconnectLocked(reason string) mws.Event {
	c.stopReconnectLocked()

	var ev mws.Event
	if c.transport != nil {
		switch state := c.transport.ReadyState(); {
		case state == mws.ReadyOpen && reason != "":
			closeReason := mws.LocalCloseReason(reason)
			if err := c.transport.Close(mws.CloseClientDisconnect, closeReason); err != nil {
				c.log.Error("disconnect_error: %v", err)
			}
			ev = c.closeLocked(mws.CloseClientDisconnect, closeReason, true)
		case state == mws.ReadyOpen || state == mws.ReadyConnecting:
			// Silent teardown, no event
			if err := c.transport.Close(websocket.CloseNormalClosure, ""); err != nil {
				c.log.Error("disconnect_error: %v", err)
			}
		}
	}

	c.resetLocked()
	return ev
}

// Send encodes and sends a signal. See mws.SignalClient.
func (c *Client) Send(signal int, data any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("SendError / %v", r)
			err = &mws.Error{Kind: mws.KindSerialization, Op: "send", Err: fmt.Errorf("%w: %v", mws.ErrSerialization, r)}
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(signal, data)
}

func (c *Client) sendLocked(signal int, data any) error {
	if c.transport == nil || c.state == mws.StateDisconnected || c.transport.ReadyState() != mws.ReadyOpen {
		c.log.Error(mws.ErrTransportNotOpen)
		return c.reject(mws.KindConnection, mws.ErrNotConnected)
	}

	if signal < mws.MinSignal || signal > mws.MaxSignal {
		c.log.Error("%s (%d)", mws.ErrSignalRangeMessage, signal)
		return c.reject(mws.KindValidation, fmt.Errorf("%w: %d", mws.ErrSignalOutOfRange, signal))
	}

	payload, err := protocol.MarshalPayload(data)
	if err != nil {
		c.log.Error("SendError / %v", err)
		return c.reject(mws.KindSerialization, fmt.Errorf("%w: %v", mws.ErrSerialization, err))
	}

	if len(payload) >= c.cfg.MaxPayload {
		c.log.Error("%s (%d Bytes of %d Bytes)", mws.ErrMaxPayloadExceededMsg, len(payload), c.cfg.MaxPayload)
		return c.reject(mws.KindValidation, fmt.Errorf("%w: %d of %d bytes", mws.ErrPayloadTooLarge, len(payload), c.cfg.MaxPayload))
	}

	frame, err := protocol.Encode(signal, payload)
	if err != nil {
		c.log.Error("SendError / %v", err)
		return c.reject(mws.KindValidation, err)
	}

	if c.cfg.ShowSend {
		c.log.Info("(SEND) Signal: \"%d\" -> Data: %v (%s)", signal, data, protocol.FormatBytes(len(payload)))
	}

	if err := c.transport.Send(frame); err != nil {
		c.log.Error("SendError / %v", err)
		return &mws.Error{Kind: mws.KindConnection, Op: "send", Err: err}
	}

	c.metrics.FrameSent(signal, len(frame))
	return nil
}

func (c *Client) reject(kind mws.ErrorKind, err error) error {
	c.metrics.SendRejected(kind)
	return &mws.Error{Kind: kind, Op: "send", Err: err}
}

// ClientKick asks the server to disconnect another client.
func (c *Client) ClientKick(clientID, reason string) error {
	return c.Send(mws.SignalClientKick, map[string]any{
		"client_id": clientID,
		"reason":    reason,
	})
}

// ClientBan asks the server to ban another client.
func (c *Client) ClientBan(clientID, reason, length string) error {
	return c.Send(mws.SignalClientBan, map[string]any{
		"client_id": clientID,
		"reason":    reason,
		"length":    length,
	})
}

func (c *Client) handleOpen(gen uint64) {
	c.mu.Lock()

	if gen != c.generation || c.transport == nil {
		c.mu.Unlock()
		return
	}

	c.state = mws.StateConnecting
	err := c.sendLocked(mws.SignalHandshake, c.credentials)
	if err == nil {
		c.mu.Unlock()
		return
	}

	c.log.Error("HandshakeError / %v", err)
	if mws.KindOf(err) == mws.KindConnection {
		// The transport reports its own closure
		c.mu.Unlock()
		return
	}

	ev := withCause(c.disconnectLocked(mws.ErrHandshakeFailed), err)
	c.mu.Unlock()
	if ev != nil {
		c.emit(ev)
	}
}

func (c *Client) handleMessage(gen uint64, data []byte) {
	c.mu.Lock()

	if gen != c.generation || c.transport == nil {
		c.mu.Unlock()
		return
	}

	ev := c.messageLocked(data)
	c.mu.Unlock()

	if ev != nil {
		c.emit(ev)
	}
}

func (c *Client) messageLocked(data []byte) mws.Event {
	frame, err := protocol.Decode(data)
	if err != nil {
		return c.protocolErrorLocked("receive", err, mws.ErrInvalidSignalData)
	}

	if frame.IsHandshake() {
		if !protocol.HasAckMarker(frame.Payload) {
			return c.protocolErrorLocked("handshake", protocol.ErrInvalidAckMarker, mws.ErrInvalidSignalData)
		}
		if c.state != mws.StateConnecting {
			c.log.Warn("ReceiveError / unexpected handshake acknowledgment in state %s", c.state)
			return nil
		}

		ack, err := protocol.DecodeHandshakeAck(frame.Payload)
		if err != nil {
			return c.protocolErrorLocked("handshake", err, mws.ErrMalformedHandshake)
		}

		c.state = mws.StateConnected
		c.id = ack.ID
		c.peerInfo = ack.PeerInfo
		c.stopReconnectLocked()
		c.endSpanLocked("")
		c.metrics.Connected()
		c.log.Info("(CONNECTED) CLIENT ID: %q %v", c.id, c.peerInfo)

		return mws.Connected{ID: c.id, PeerInfo: maps.Clone(c.peerInfo)}
	}

	if c.state != mws.StateConnected {
		return nil
	}

	payload, err := protocol.ParsePayload(frame.Payload)
	if err != nil {
		c.log.Error("ReceiveError / %v", err)
	}

	c.metrics.FrameReceived(frame.Signal, len(data))
	if c.cfg.ShowRecv {
		c.log.Info("(RECEIVED = %s) Signal: \"%d\" <- Data: %v", protocol.FormatBytes(len(frame.Payload)), frame.Signal, payload)
	}

	raw := make([]byte, len(frame.Payload))
	copy(raw, frame.Payload)
	return mws.Signal{Code: frame.Signal, Payload: payload, Raw: raw}
}

// protocolErrorLocked records a malformed frame and closes the connection with reason.
func (c *Client) protocolErrorLocked(op string, cause error, reason string) mws.Event {
	err := &mws.Error{Kind: mws.KindProtocol, Op: op, Err: fmt.Errorf("%w: %v", mws.ErrInvalidFrame, cause)}
	c.log.Error("ReceiveError / %v", err)
	c.metrics.ProtocolError(op)
	return withCause(c.disconnectLocked(reason), err)
}

// withCause attaches err to a Disconnected event.
func withCause(ev mws.Event, err error) mws.Event {
	if d, ok := ev.(mws.Disconnected); ok {
		d.Err = err
		return d
	}
	return ev
}

func (c *Client) handleClose(gen uint64, code int, reason string) {
	c.mu.Lock()

	if gen != c.generation || c.transport == nil {
		c.mu.Unlock()
		return
	}

	ev := c.closeLocked(code, reason, false)
	c.mu.Unlock()
	c.emit(ev)
}

// closeLocked resets the connection after a closure and schedules the reconnection when
// the policy allows it.
func (c *Client) closeLocked(code int, raw string, local bool) mws.Event {
	reason := protocol.CloseReason(code, raw)
	id := c.id
	c.log.Error("(DISCONNECTED) CLIENT ID: %q / Code: %d / Reason: %s", id, code, reason)

	c.endSpanLocked(reason)
	c.metrics.Disconnected(code, c.state == mws.StateConnected)
	c.resetLocked()

	if !local && c.reconnect && code < mws.CloseLocalThreshold {
		c.log.Warn("(RECONNECTING) URL: %s", c.url)
		c.scheduleReconnectLocked()
	}

	return mws.Disconnected{Code: code, Reason: reason, ID: id}
}

func (c *Client) resetLocked() {
	if c.transport != nil {
		c.generation++
	}
	c.transport = nil
	c.id = mws.IDPending
	c.peerInfo = mws.PeerInfo{}
	c.state = mws.StateDisconnected
	c.endSpanLocked("disconnected")
}

func (c *Client) scheduleReconnectLocked() {
	c.stopReconnectLocked()
	c.reconnectSeq++
	seq := c.reconnectSeq
	c.metrics.ReconnectScheduled()
	c.reconnectTimer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.connect(seq)
	})
}

func (c *Client) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) endSpanLocked(failure string) {
	if c.span == nil {
		return
	}
	if failure != "" {
		c.span.SetStatus(codes.Error, failure)
	} else {
		c.span.SetAttributes(attribute.String("mws.client_id", c.id))
	}
	c.span.End()
	c.span = nil
}

// emit publishes ev, logging instead of propagating handler panics.
func (c *Client) emit(ev mws.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("EventError / %s handler: %v", ev.Name(), r)
		}
	}()
	c.bus.Publish(ev)
}

// ID returns the id assigned by the server.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// PeerInfo returns a copy of the handshake peer info.
func (c *Client) PeerInfo() mws.PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.peerInfo)
}

// State returns the connection state.
func (c *Client) State() mws.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL returns the endpoint URL.
func (c *Client) URL() string {
	return c.url
}

// Subscribe registers h for the named event.
func (c *Client) Subscribe(name mws.EventName, h mws.Handler) mws.Handle {
	return c.bus.Subscribe(name, h)
}

// Unsubscribe removes one handler.
func (c *Client) Unsubscribe(name mws.EventName, h mws.Handle) {
	c.bus.Unsubscribe(name, h)
}

// UnsubscribeAll removes every handler for name, or all handlers when name is empty.
func (c *Client) UnsubscribeAll(name mws.EventName) {
	if name == "" {
		c.bus.Clear()
		return
	}
	c.bus.UnsubscribeAll(name)
}

// OnConnected subscribes fn to the "connected" event.
func (c *Client) OnConnected(fn func(id string, info mws.PeerInfo)) mws.Handle {
	return c.bus.Subscribe(mws.EventConnected, func(ev mws.Event) bool {
		e := ev.(mws.Connected)
		fn(e.ID, e.PeerInfo)
		return true
	})
}

// OnDisconnected subscribes fn to the "disconnected" event.
func (c *Client) OnDisconnected(fn func(code int, reason string)) mws.Handle {
	return c.bus.Subscribe(mws.EventDisconnected, func(ev mws.Event) bool {
		e := ev.(mws.Disconnected)
		fn(e.Code, e.Reason)
		return true
	})
}

// OnSignal subscribes fn to the "signal" event.
func (c *Client) OnSignal(fn func(s mws.Signal)) mws.Handle {
	return c.bus.Subscribe(mws.EventSignal, func(ev mws.Event) bool {
		fn(ev.(mws.Signal))
		return true
	})
}
