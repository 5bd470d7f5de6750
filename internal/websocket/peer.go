package websocket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/mws"
	"github.com/luciancaetano/mws/internal/protocol"
)

// Peer implements the mws.Peer interface
type Peer struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan []byte
	mu          sync.RWMutex
	closed      bool
	closeCode   int
	credentials mws.Credentials
	rateLimiter *rate.Limiter // Rate limiter for incoming messages
	onSend      func(signal, bytes int)
}

// newPeer wraps an upgraded connection. The id stays empty until the handshake completes.
func newPeer(conn *websocket.Conn, remoteAddr string, rateLimitConfig *RateLimitConfig) *Peer {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if rateLimitConfig != nil && rateLimitConfig.Enabled {
		limiter = rate.NewLimiter(rateLimitConfig.MessagesPerSecond, rateLimitConfig.Burst)
	}

	peer := &Peer{
		conn:        conn,
		remoteAddr:  remoteAddr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, sendBufferSize),
		credentials: mws.Credentials{},
		rateLimiter: limiter,
	}

	// Start the write pump
	go peer.writePump()

	return peer
}

// newPeerID derives a protocol id from a random UUID.
func newPeerID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:protocol.IDWidth]
}

// ID returns the id assigned at handshake
func (p *Peer) ID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

// RemoteAddr returns the peer's remote network address
func (p *Peer) RemoteAddr() string {
	return p.remoteAddr
}

// Context returns the peer's lifecycle context
func (p *Peer) Context() context.Context {
	return p.ctx
}

// Credentials returns the credentials sent with the handshake
func (p *Peer) Credentials() mws.Credentials {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.credentials
}

func (p *Peer) authenticate(id string, credentials mws.Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
	p.credentials = credentials
}

// Send encodes data under the given signal and queues it for the write pump
func (p *Peer) Send(signal int, data any) error {
	payload, err := protocol.MarshalPayload(data)
	if err != nil {
		return &mws.Error{Kind: mws.KindSerialization, Op: "peer send", Err: fmt.Errorf("%w: %v", mws.ErrSerialization, err)}
	}

	frame, err := protocol.Encode(signal, payload)
	if err != nil {
		return &mws.Error{Kind: mws.KindValidation, Op: "peer send", Err: fmt.Errorf("%s: %w", mws.ErrFailedToEncode, err)}
	}

	return p.sendFrame(signal, frame)
}

func (p *Peer) sendFrame(signal int, frame []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return &mws.Error{Kind: mws.KindConnection, Op: "peer send", Err: errors.New(mws.ErrConnectionClosed)}
	}

	select {
	case p.sendCh <- frame:
		if p.onSend != nil {
			p.onSend(signal, len(frame))
		}
		return nil
	case <-p.ctx.Done():
		return &mws.Error{Kind: mws.KindConnection, Op: "peer send", Err: errors.New(mws.ErrContextCancelled)}
	default:
		return &mws.Error{Kind: mws.KindConnection, Op: "peer send", Err: errors.New(mws.ErrSendQueueFull)}
	}
}

// Close closes the peer connection
func (p *Peer) Close() error {
	return p.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a close code and optional reason
func (p *Peer) CloseWithCode(code int, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.closeCode = code

	// Close frame goes out before the write pump stops and closes the connection
	message := websocket.FormatCloseMessage(code, truncateCloseReason(reason))
	deadline := time.Now().Add(time.Second)
	p.conn.WriteControl(websocket.CloseMessage, message, deadline)

	p.cancel()
	return p.conn.Close()
}

// IsAlive returns true if the connection is still active
func (p *Peer) IsAlive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// localCloseCode returns the code of a server-initiated close, if any.
func (p *Peer) localCloseCode() (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closeCode, p.closed
}

// checkRateLimit reports whether another incoming message is allowed
func (p *Peer) checkRateLimit() bool {
	if p.rateLimiter == nil {
		// Rate limiting disabled
		return true
	}
	return p.rateLimiter.Allow()
}

// writePump pumps frames from the send channel to the websocket connection
func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case frame := <-p.sendCh:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.ctx.Done():
			return
		}
	}
}
