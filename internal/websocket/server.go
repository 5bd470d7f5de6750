package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/mws"
	"github.com/luciancaetano/mws/internal/protocol"
)

// DefaultPath is the route serving the WebSocket endpoint.
const DefaultPath = "/"

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// Use this to implement CORS policies for your WebSocket server.
type CheckOriginFn = func(r *http.Request) bool

// AuthenticateFn validates the credentials a peer sent with its handshake.
//
// The returned PeerInfo is sent back with the handshake acknowledgment. A non-nil error
// closes the connection with mws.CloseUnauthorized.
type AuthenticateFn = func(r *http.Request, credentials mws.Credentials) (mws.PeerInfo, error)

// OnConnectFn is a callback function that is called when a peer completed the handshake.
// This is the ideal place to:
//   - Track connected peers
//   - Send welcome messages
//   - Initialize peer-specific state
//
// Note: This function is called synchronously before the message reading loop starts.
// Avoid long-running operations that could block the peer.
type OnConnectFn = func(peer mws.Peer)

// OnClientDisconnectFn is a callback type invoked when an authenticated peer disconnects.
// voluntary is true when the peer sent the close frame, and false for unexpected or
// server-initiated disconnects.
type OnClientDisconnectFn = func(peer mws.Peer, voluntary bool)

// AdminRequest is the payload of a kick (202) or ban (203) signal.
type AdminRequest struct {
	// Signal is mws.SignalClientKick or mws.SignalClientBan
	Signal   int    `json:"-"`
	ClientID string `json:"client_id"`
	Reason   string `json:"reason"`
	Length   string `json:"length"`
}

// AuthorizeAdminFn decides whether from may kick or ban the peer named in req.
// Requests it rejects are logged and dropped.
type AuthorizeAdminFn = func(from mws.Peer, req AdminRequest) bool

type ServerConfig struct {
	Addr               string
	Path               string
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	Authenticate       AuthenticateFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn
	// AuthorizeAdmin guards the built-in kick and ban handling. When nil every
	// authenticated peer may kick or ban any other peer.
	AuthorizeAdmin     AuthorizeAdminFn
	MaxPayload         int
	HandshakeTimeout   time.Duration
	Logger             mws.Logger
	Metrics            mws.Metrics
}

// RateLimitConfig defines rate limiting configuration for peers
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a peer can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Server implements the mws.SignalServer interface
type Server struct {
	addr     string
	path     string
	server   *http.Server
	router   chi.Router
	peers    sync.Map // map[string]*Peer, authenticated peers only
	handlers sync.Map // map[int]func(peer mws.Peer, payload []byte)

	// Rate limiting configuration
	rateLimitConfig *RateLimitConfig

	maxPayload       int
	handshakeTimeout time.Duration
	log              mws.Logger
	metrics          mws.Metrics

	mu           sync.RWMutex
	running      bool
	upgrader     websocket.Upgrader
	authenticate AuthenticateFn
	onConnect    OnConnectFn
	onDisconnect OnClientDisconnectFn
	authorize    AuthorizeAdminFn
}

// NewServer creates a new signal server instance with the specified configuration.
//
// Zero values take their defaults: Path "/", DefaultRateLimitConfig(), mws.DefaultMaxPayload,
// mws.DefaultHandshakeTimeout, and no-op logger and metrics. A nil Authenticate accepts every
// peer with empty peer info.
//
// The server uses the Gorilla WebSocket library with read/write buffer sizes of 1024 bytes
// and negotiates the "deep" sub-protocol. Rate limiting is applied per-peer using a token
// bucket algorithm.
func NewServer(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = mws.DefaultMaxPayload
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = mws.DefaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = mws.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = mws.NopMetrics()
	}

	s := &Server{
		addr:             cfg.Addr,
		path:             cfg.Path,
		rateLimitConfig:  cfg.RateLimitConfig,
		maxPayload:       cfg.MaxPayload,
		handshakeTimeout: cfg.HandshakeTimeout,
		log:              cfg.Logger,
		metrics:          cfg.Metrics,
		authenticate:     cfg.Authenticate,
		onConnect:        cfg.OnConnect,
		onDisconnect:     cfg.OnClientDisconnect,
		authorize:        cfg.AuthorizeAdmin,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{mws.Subprotocol},
			CheckOrigin:     cfg.CheckOrigin,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(s.path, s.handleWebSocket)
	s.router = r

	return s
}

// Handler returns the router serving the WebSocket endpoint
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the signal server
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(mws.ErrServerAlreadyRunning)
	}
	s.running = true
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}
	server := s.server
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Check for immediate startup errors with a small timeout
	select {
	case err := <-errChan:
		// Reset running state without calling Stop to avoid deadlock
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		// Context cancelled, stop the server
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		// Server started successfully, no immediate errors
		s.log.Info("Listening on %s%s", s.addr, s.path)
		return nil
	}
}

// Stop closes every peer and, when started with Start, shuts the HTTP server down.
// Servers mounted through Handler only get their peers closed.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.running = false
	server := s.server
	s.mu.Unlock()

	// Close all peer connections
	s.peers.Range(func(key, value any) bool {
		if peer, ok := value.(*Peer); ok {
			peer.CloseWithCode(websocket.CloseGoingAway, "Server shutting down")
		}
		return true
	})

	if running && server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RegisterHandler registers a handler for a signal code.
// Registering 202 or 203 replaces the built-in kick and ban handling.
func (s *Server) RegisterHandler(signal int, handler func(peer mws.Peer, payload []byte)) error {
	if signal <= mws.SignalHandshake || signal > mws.MaxSignal {
		return &mws.Error{Kind: mws.KindValidation, Op: "register handler", Err: fmt.Errorf("%w: %d", mws.ErrSignalOutOfRange, signal)}
	}
	s.handlers.Store(signal, handler)
	return nil
}

// Peer returns an authenticated peer by id
func (s *Server) Peer(id string) (mws.Peer, bool) {
	if peer, ok := s.peers.Load(id); ok {
		return peer.(*Peer), true
	}
	return nil, false
}

// SendTo sends a signal to a specific peer
func (s *Server) SendTo(id string, signal int, data any) error {
	peer, ok := s.Peer(id)
	if !ok {
		return &mws.Error{Kind: mws.KindConnection, Op: "send to", Err: fmt.Errorf("%s: %s", mws.ErrClientNotFound, id)}
	}
	return peer.Send(signal, data)
}

// Broadcast sends a signal to all authenticated peers.
// The frame is encoded once; delivery failures to single peers are logged.
func (s *Server) Broadcast(signal int, data any) error {
	payload, err := protocol.MarshalPayload(data)
	if err != nil {
		return &mws.Error{Kind: mws.KindSerialization, Op: "broadcast", Err: fmt.Errorf("%w: %v", mws.ErrSerialization, err)}
	}
	frame, err := protocol.Encode(signal, payload)
	if err != nil {
		return &mws.Error{Kind: mws.KindValidation, Op: "broadcast", Err: fmt.Errorf("%s: %w", mws.ErrFailedToEncode, err)}
	}

	s.peers.Range(func(key, value any) bool {
		if peer, ok := value.(*Peer); ok {
			if err := peer.sendFrame(signal, frame); err != nil {
				s.log.Warn("Broadcast to client_id=%s failed: %v", peer.ID(), err)
			}
		}
		return true
	})
	return nil
}

// PeerCount returns the number of authenticated peers
func (s *Server) PeerCount() int {
	n := 0
	s.peers.Range(func(key, value any) bool {
		n++
		return true
	})
	return n
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		s.log.Debug("Upgrade failed remote_addr=%s: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(int64(s.maxPayload) + 4)

	peer := newPeer(conn, r.RemoteAddr, s.rateLimitConfig)
	peer.onSend = s.metrics.FrameSent

	// Start reading messages from the peer
	go s.handlePeer(r, peer)
}

// handlePeer runs the handshake and then reads frames until the connection ends
func (s *Server) handlePeer(r *http.Request, peer *Peer) {
	authenticated := false
	voluntary := false
	code := websocket.CloseAbnormalClosure

	defer func() {
		if local, closed := peer.localCloseCode(); closed {
			code = local
		}
		if authenticated {
			s.peers.Delete(peer.ID())
			s.metrics.Disconnected(code, true)
			s.log.Info("Client disconnected client_id=%s code=%d", peer.ID(), code)
			if s.onDisconnect != nil {
				s.onDisconnect(peer, voluntary)
			}
		}
		peer.Close()
	}()

	// The handshake must arrive within the handshake timeout
	peer.conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))

	// Set pong handler to reset read deadline on pong
	peer.conn.SetPongHandler(func(string) error {
		peer.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := peer.conn.ReadMessage()
		if err != nil {
			if peerCode, _, ok := closeFromError(err); ok {
				code = peerCode
				voluntary = true
			} else if peer.IsAlive() {
				s.log.Debug("Read error client_id=%s remote_addr=%s: %v", peer.ID(), peer.RemoteAddr(), err)
			}
			return
		}

		// Reset read deadline after successful read
		peer.conn.SetReadDeadline(time.Now().Add(pongWait))

		// Check rate limit before processing message
		if !peer.checkRateLimit() {
			s.log.Warn("Rate limit exceeded for client client_id=%s remote_addr=%s", peer.ID(), peer.RemoteAddr())
			peer.CloseWithCode(websocket.ClosePolicyViolation, mws.ErrRateLimitExceeded)
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			// Invalid protocol message, close connection
			s.protocolError(peer, "receive", err, mws.ErrInvalidMessageFormat)
			return
		}
		s.metrics.FrameReceived(frame.Signal, len(data))

		if !authenticated {
			if !s.handshake(r, peer, frame) {
				return
			}
			authenticated = true
			continue
		}

		s.handleFrame(peer, frame)
	}
}

// protocolError records a malformed frame and closes the peer with 1002 and reason.
func (s *Server) protocolError(peer *Peer, op string, cause error, reason string) {
	err := &mws.Error{Kind: mws.KindProtocol, Op: op, Err: fmt.Errorf("%w: %v", mws.ErrInvalidFrame, cause)}
	s.log.Warn("Closing remote_addr=%s: %v", peer.RemoteAddr(), err)
	s.metrics.ProtocolError(op)
	peer.CloseWithCode(websocket.CloseProtocolError, reason)
}

// handshake authenticates the first frame and acknowledges it. It returns false after
// closing the peer.
func (s *Server) handshake(r *http.Request, peer *Peer, frame protocol.Frame) bool {
	if !frame.IsHandshake() {
		s.protocolError(peer, "handshake", fmt.Errorf("signal %d before handshake", frame.Signal), mws.ErrHandshakeRequired)
		return false
	}

	credentials := mws.Credentials{}
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &credentials); err != nil {
			s.protocolError(peer, "handshake", err, mws.ErrMalformedHandshake)
			return false
		}
		if credentials == nil {
			credentials = mws.Credentials{}
		}
	}

	info := mws.PeerInfo{}
	if s.authenticate != nil {
		var err error
		info, err = s.authenticate(r, credentials)
		if err != nil {
			s.log.Warn("Authentication failed remote_addr=%s: %v", peer.RemoteAddr(), err)
			peer.CloseWithCode(mws.CloseUnauthorized, mws.ErrUnauthorizedMessage)
			return false
		}
	}

	id := newPeerID()
	ack, err := protocol.EncodeHandshakeAck(id, info)
	if err != nil {
		s.log.Error("Handshake acknowledgment failed: %v", err)
		peer.CloseWithCode(websocket.CloseInternalServerErr, mws.ErrFailedToEncode)
		return false
	}
	ackFrame, err := protocol.Encode(mws.SignalHandshake, ack)
	if err != nil {
		peer.CloseWithCode(websocket.CloseInternalServerErr, mws.ErrFailedToEncode)
		return false
	}

	peer.authenticate(id, credentials)
	s.peers.Store(id, peer)

	if err := peer.sendFrame(mws.SignalHandshake, ackFrame); err != nil {
		s.log.Error("Handshake acknowledgment failed client_id=%s: %v", id, err)
		return false
	}

	s.metrics.Connected()
	s.log.Info("Client connected client_id=%s remote_addr=%s", id, peer.RemoteAddr())

	// Call onConnect callback if provided
	if s.onConnect != nil {
		s.onConnect(peer)
	}
	return true
}

// handleFrame dispatches a frame from an authenticated peer.
// Handlers are executed in separate goroutines to avoid blocking the read loop
func (s *Server) handleFrame(peer *Peer, frame protocol.Frame) {
	if frame.IsHandshake() {
		// Repeated handshake, nothing to do
		return
	}

	if handler, ok := s.handlers.Load(frame.Signal); ok {
		if handlerFunc, ok := handler.(func(mws.Peer, []byte)); ok {
			// Execute handler in goroutine (async, peer decides if/when to respond)
			go handlerFunc(peer, frame.Payload)
		}
		return
	}

	switch frame.Signal {
	case mws.SignalClientKick:
		s.handleAdmin(peer, frame, mws.CloseKicked)
	case mws.SignalClientBan:
		s.handleAdmin(peer, frame, mws.CloseBanned)
	}
	// Note: Unknown signals are silently ignored (fire-and-forget pattern)
}

// handleAdmin closes the peer named in a kick or ban request
func (s *Server) handleAdmin(from *Peer, frame protocol.Frame, code int) {
	req := AdminRequest{Signal: frame.Signal}
	if err := json.Unmarshal(frame.Payload, &req); err != nil || req.ClientID == "" {
		s.log.Warn("Invalid admin request from client_id=%s", from.ID())
		return
	}

	if s.authorize != nil && !s.authorize(from, req) {
		s.log.Warn("Admin request denied signal=%d client_id=%s target=%s", req.Signal, from.ID(), req.ClientID)
		return
	}

	target, ok := s.peers.Load(req.ClientID)
	if !ok {
		s.log.Warn("%s: %s", mws.ErrClientNotFound, req.ClientID)
		return
	}

	s.log.Info("Closing client_id=%s by request of client_id=%s code=%d reason=%q length=%q",
		req.ClientID, from.ID(), code, req.Reason, req.Length)
	target.(*Peer).CloseWithCode(code, req.Reason)
}
