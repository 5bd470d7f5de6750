package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/mws"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256

	// Control frames carry at most 125 bytes, two of which hold the close code
	maxCloseReason = 123
)

// DialConfig configures the gorilla/websocket transport factory.
type DialConfig struct {
	// HandshakeTimeout bounds the opening handshake (default mws.DefaultHandshakeTimeout)
	HandshakeTimeout time.Duration
	// Header is sent with the opening handshake request
	Header http.Header
}

// DialTransport returns a TransportFactory backed by gorilla/websocket.
// The returned transports dial in the background and report a failed dial as a close
// with code 1006.
func DialTransport(cfg DialConfig) mws.TransportFactory {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = mws.DefaultHandshakeTimeout
	}

	return func(url string, subprotocols []string, h mws.TransportHandlers) (mws.Transport, error) {
		dialer := &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Subprotocols:     subprotocols,
		}

		t := newTransport(h)
		go t.dial(dialer, url, cfg.Header)
		return t, nil
	}
}

// Transport is a client WebSocket connection implementing mws.Transport.
type Transport struct {
	handlers mws.TransportHandlers

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte
	state  atomic.Int32

	mu          sync.Mutex
	conn        *websocket.Conn
	localClose  bool
	closeCode   int
	closeReason string
	closeOnce   sync.Once
}

func newTransport(h mws.TransportHandlers) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		handlers: h,
		ctx:      ctx,
		cancel:   cancel,
		sendCh:   make(chan []byte, sendBufferSize),
	}
	t.state.Store(int32(mws.ReadyConnecting))
	return t
}

// ReadyState implements mws.Transport.
func (t *Transport) ReadyState() mws.ReadyState {
	return mws.ReadyState(t.state.Load())
}

// Send queues one binary frame for the write pump.
func (t *Transport) Send(frame []byte) error {
	if t.ReadyState() != mws.ReadyOpen {
		return errors.New(mws.ErrConnectionClosed)
	}

	select {
	case t.sendCh <- frame:
		return nil
	case <-t.ctx.Done():
		return errors.New(mws.ErrConnectionClosed)
	default:
		return errors.New(mws.ErrSendQueueFull)
	}
}

// Close sends a close frame with the given code and reason and closes the connection.
// The close notification reports this code and reason.
func (t *Transport) Close(code int, reason string) error {
	t.mu.Lock()
	if t.localClose || t.ReadyState() == mws.ReadyClosed {
		t.mu.Unlock()
		return nil
	}
	t.localClose = true
	t.closeCode = code
	t.closeReason = reason
	t.state.Store(int32(mws.ReadyClosing))
	conn := t.conn
	t.mu.Unlock()

	var err error
	if conn != nil {
		message := websocket.FormatCloseMessage(code, truncateCloseReason(reason))
		if werr := conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second)); werr != nil {
			err = fmt.Errorf("write close frame: %w", werr)
		}
		conn.Close()
	}
	t.cancel()
	return err
}

func (t *Transport) dial(dialer *websocket.Dialer, url string, header http.Header) {
	conn, _, err := dialer.DialContext(t.ctx, url, header)
	if err != nil {
		t.finish(websocket.CloseAbnormalClosure, err.Error())
		return
	}

	t.mu.Lock()
	if t.localClose {
		// Closed while dialing
		t.mu.Unlock()
		conn.Close()
		t.finish(0, "")
		return
	}
	t.conn = conn
	t.state.Store(int32(mws.ReadyOpen))
	t.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go t.writePump(conn)

	if t.handlers.OnOpen != nil {
		t.handlers.OnOpen()
	}
	t.readLoop(conn)
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if code, reason, ok := closeFromError(err); ok {
				t.finish(code, reason)
			} else {
				t.finish(websocket.CloseAbnormalClosure, err.Error())
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		if t.handlers.OnMessage != nil {
			t.handlers.OnMessage(data)
		}
	}
}

// writePump pumps frames from the send channel to the websocket connection
func (t *Transport) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-t.sendCh:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-t.ctx.Done():
			return
		}
	}
}

// finish reports the close exactly once. A local Close overrides the observed code.
func (t *Transport) finish(code int, reason string) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		if t.localClose {
			code, reason = t.closeCode, t.closeReason
		}
		conn := t.conn
		t.mu.Unlock()

		t.state.Store(int32(mws.ReadyClosed))
		t.cancel()
		if conn != nil {
			conn.Close()
		}

		if t.handlers.OnClose != nil {
			t.handlers.OnClose(code, reason)
		}
	})
}
