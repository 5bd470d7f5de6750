package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/mws"
	"github.com/luciancaetano/mws/internal/protocol"
)

// TestDefaultRateLimitConfig tests the default rate limit configuration
func TestDefaultRateLimitConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRateLimitConfig()

	if config == nil {
		t.Fatal("DefaultRateLimitConfig() returned nil")
	}

	if !config.Enabled {
		t.Error("Expected rate limiting to be enabled by default")
	}

	if config.MessagesPerSecond != 100 {
		t.Errorf("MessagesPerSecond = %v, want 100", config.MessagesPerSecond)
	}

	if config.Burst != 200 {
		t.Errorf("Burst = %v, want 200", config.Burst)
	}
}

// TestNoRateLimit tests the no rate limit configuration
func TestNoRateLimit(t *testing.T) {
	t.Parallel()

	config := NoRateLimit()

	if config == nil {
		t.Fatal("NoRateLimit() returned nil")
	}

	if config.Enabled {
		t.Error("Expected rate limiting to be disabled")
	}
}

// TestPeerRateLimiter tests rate limiter creation with different configs
func TestPeerRateLimiter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *RateLimitConfig
		wantNil bool
	}{
		{name: "with rate limiting enabled", config: DefaultRateLimitConfig()},
		{name: "with rate limiting disabled", config: NoRateLimit(), wantNil: true},
		{name: "with nil config", config: nil, wantNil: true},
		{
			name:   "with custom config enabled",
			config: &RateLimitConfig{MessagesPerSecond: 10, Burst: 20, Enabled: true},
		},
		{
			name:    "with custom config disabled",
			config:  &RateLimitConfig{MessagesPerSecond: 10, Burst: 20, Enabled: false},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var limiter *rate.Limiter
			if tt.config != nil && tt.config.Enabled {
				limiter = rate.NewLimiter(tt.config.MessagesPerSecond, tt.config.Burst)
			}
			peer := &Peer{rateLimiter: limiter}

			if (peer.rateLimiter == nil) != tt.wantNil {
				t.Errorf("rate limiter nil = %v, want nil = %v", peer.rateLimiter == nil, tt.wantNil)
			}
			if !peer.checkRateLimit() {
				t.Error("first message should be allowed")
			}
		})
	}
}

// TestNewPeerID tests the format and uniqueness of peer ids
func TestNewPeerID(t *testing.T) {
	t.Parallel()

	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newPeerID()
		if len(id) != protocol.IDWidth {
			t.Fatalf("len(id) = %d, want %d", len(id), protocol.IDWidth)
		}
		if strings.ContainsAny(id, "- ") {
			t.Errorf("id %q contains separators", id)
		}
		if ids[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		ids[id] = true
	}
}

// TestNewServer tests server creation with various configurations
func TestNewServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		cfg             *ServerConfig
		wantPath        string
		wantRateLimited bool
	}{
		{
			name:            "zero config",
			cfg:             &ServerConfig{Addr: ":8080"},
			wantPath:        "/",
			wantRateLimited: true,
		},
		{
			name:     "no rate limit and custom path",
			cfg:      &ServerConfig{Addr: ":8081", Path: "/ws", RateLimitConfig: NoRateLimit()},
			wantPath: "/ws",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := NewServer(tt.cfg)

			if server.addr != tt.cfg.Addr {
				t.Errorf("server.addr = %v, want %v", server.addr, tt.cfg.Addr)
			}
			if server.path != tt.wantPath {
				t.Errorf("server.path = %v, want %v", server.path, tt.wantPath)
			}
			if server.rateLimitConfig.Enabled != tt.wantRateLimited {
				t.Errorf("rate limiting = %v, want %v", server.rateLimitConfig.Enabled, tt.wantRateLimited)
			}
			if server.running {
				t.Error("new server should not be running")
			}
			if server.upgrader.ReadBufferSize != 1024 || server.upgrader.WriteBufferSize != 1024 {
				t.Errorf("upgrader buffers = %d/%d, want 1024", server.upgrader.ReadBufferSize, server.upgrader.WriteBufferSize)
			}
			if len(server.upgrader.Subprotocols) != 1 || server.upgrader.Subprotocols[0] != mws.Subprotocol {
				t.Errorf("upgrader.Subprotocols = %v", server.upgrader.Subprotocols)
			}
		})
	}
}

// TestServerRegisterHandler tests signal validation on registration
func TestServerRegisterHandler(t *testing.T) {
	t.Parallel()

	server := NewServer(&ServerConfig{})
	noop := func(mws.Peer, []byte) {}

	tests := []struct {
		signal  int
		wantErr bool
	}{
		{signal: -1, wantErr: true},
		{signal: 0, wantErr: true},
		{signal: 1},
		{signal: 9999},
		{signal: 10000, wantErr: true},
	}

	for _, tt := range tests {
		err := server.RegisterHandler(tt.signal, noop)
		if (err != nil) != tt.wantErr {
			t.Errorf("RegisterHandler(%d) error = %v, wantErr %v", tt.signal, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, mws.ErrSignalOutOfRange) {
			t.Errorf("RegisterHandler(%d) error = %v, want ErrSignalOutOfRange", tt.signal, err)
		}
	}
}

// TestServerStartStop tests the server lifecycle
func TestServerStartStop(t *testing.T) {
	t.Parallel()

	server := NewServer(&ServerConfig{Addr: "127.0.0.1:0"})
	ctx := context.Background()

	if err := server.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := server.Start(ctx); err == nil || err.Error() != mws.ErrServerAlreadyRunning {
		t.Errorf("second Start() error = %v, want %q", err, mws.ErrServerAlreadyRunning)
	}
	if err := server.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := server.Stop(ctx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func startTestServer(t *testing.T, cfg *ServerConfig) (*Server, string) {
	t.Helper()
	server := NewServer(cfg)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, strings.TrimPrefix(ts.URL, "http://")
}

// recordingMetrics keeps closure codes and protocol errors.
type recordingMetrics struct {
	mws.Metrics

	mu          sync.Mutex
	disconnects []int
	protocol    []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{Metrics: mws.NopMetrics()}
}

func (m *recordingMetrics) Disconnected(code int, established bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects = append(m.disconnects, code)
}

func (m *recordingMetrics) ProtocolError(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protocol = append(m.protocol, op)
}

func (m *recordingMetrics) disconnectCodes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.disconnects...)
}

func (m *recordingMetrics) protocolOps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.protocol...)
}

func dialRaw(t *testing.T, host string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{mws.Subprotocol}}
	conn, _, err := dialer.Dial("ws://"+host+"/", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if conn.Subprotocol() != mws.Subprotocol {
		t.Errorf("Subprotocol() = %q, want %q", conn.Subprotocol(), mws.Subprotocol)
	}
	return conn
}

func writeRaw(t *testing.T, conn *websocket.Conn, signal int, payload string) {
	t.Helper()
	frame, err := protocol.Encode(signal, []byte(payload))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

func readRaw(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	frame, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return frame
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("ReadMessage() error = %v, want close %d", err, code)
		}
		if ce.Code != code {
			t.Fatalf("close code = %d (%q), want %d", ce.Code, ce.Text, code)
		}
		return ce.Text
	}
}

func handshakeRaw(t *testing.T, conn *websocket.Conn, credentials string) protocol.HandshakeAck {
	t.Helper()
	writeRaw(t, conn, mws.SignalHandshake, credentials)
	frame := readRaw(t, conn)
	if !frame.IsHandshake() {
		t.Fatalf("first frame signal = %d, want handshake", frame.Signal)
	}
	ack, err := protocol.DecodeHandshakeAck(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeHandshakeAck() error = %v", err)
	}
	return ack
}

// TestServerHandshake tests authentication and the acknowledgment
func TestServerHandshake(t *testing.T) {
	t.Parallel()

	server, host := startTestServer(t, &ServerConfig{
		Authenticate: func(r *http.Request, credentials mws.Credentials) (mws.PeerInfo, error) {
			return mws.PeerInfo{"name": credentials["user"]}, nil
		},
	})

	conn := dialRaw(t, host)
	ack := handshakeRaw(t, conn, `{"user":"bob"}`)

	if len(ack.ID) != protocol.IDWidth {
		t.Errorf("ack id = %q, want %d characters", ack.ID, protocol.IDWidth)
	}
	if ack.PeerInfo["name"] != "bob" {
		t.Errorf("ack peer info = %v", ack.PeerInfo)
	}

	peer, ok := server.Peer(ack.ID)
	if !ok {
		t.Fatalf("Peer(%q) not found", ack.ID)
	}
	if peer.Credentials()["user"] != "bob" {
		t.Errorf("Credentials() = %v", peer.Credentials())
	}
	if !peer.IsAlive() {
		t.Error("IsAlive() = false")
	}
}

// TestServerHandshakeFailures tests the close codes of rejected handshakes
func TestServerHandshakeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		auth       AuthenticateFn
		signal     int
		payload    string
		wantCode   int
		wantReason string
		wantOps    []string
	}{
		{
			name: "rejected credentials",
			auth: func(*http.Request, mws.Credentials) (mws.PeerInfo, error) {
				return nil, errors.New("bad token")
			},
			payload:    `{"token":"x"}`,
			wantCode:   mws.CloseUnauthorized,
			wantReason: mws.ErrUnauthorizedMessage,
		},
		{
			name:       "signal before handshake",
			signal:     5,
			payload:    "hi",
			wantCode:   websocket.CloseProtocolError,
			wantReason: mws.ErrHandshakeRequired,
			wantOps:    []string{"handshake"},
		},
		{
			name:       "credentials not JSON",
			payload:    "{not json",
			wantCode:   websocket.CloseProtocolError,
			wantReason: mws.ErrMalformedHandshake,
			wantOps:    []string{"handshake"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			metrics := newRecordingMetrics()
			server, host := startTestServer(t, &ServerConfig{Authenticate: tt.auth, Metrics: metrics})
			conn := dialRaw(t, host)

			writeRaw(t, conn, tt.signal, tt.payload)
			if text := expectClose(t, conn, tt.wantCode); text != tt.wantReason {
				t.Errorf("close reason = %q, want %q", text, tt.wantReason)
			}

			if n := server.PeerCount(); n != 0 {
				t.Errorf("PeerCount() = %d, want 0", n)
			}
			if got := metrics.protocolOps(); strings.Join(got, ",") != strings.Join(tt.wantOps, ",") {
				t.Errorf("protocol errors = %v, want %v", got, tt.wantOps)
			}
		})
	}
}

// TestServerInvalidFrame tests that undecodable frames close with 1002
func TestServerInvalidFrame(t *testing.T) {
	t.Parallel()

	metrics := newRecordingMetrics()
	_, host := startTestServer(t, &ServerConfig{Metrics: metrics})
	conn := dialRaw(t, host)
	handshakeRaw(t, conn, "")

	conn.WriteMessage(websocket.BinaryMessage, []byte{0, 1, 2, 3})
	if text := expectClose(t, conn, websocket.CloseProtocolError); text != mws.ErrInvalidMessageFormat {
		t.Errorf("close reason = %q, want %q", text, mws.ErrInvalidMessageFormat)
	}
	if got := metrics.protocolOps(); len(got) != 1 || got[0] != "receive" {
		t.Errorf("protocol errors = %v, want [receive]", got)
	}
}

// TestServerRateLimit tests that flooding peers are closed with 1008
func TestServerRateLimit(t *testing.T) {
	t.Parallel()

	_, host := startTestServer(t, &ServerConfig{
		RateLimitConfig: &RateLimitConfig{MessagesPerSecond: 1, Burst: 1, Enabled: true},
	})
	conn := dialRaw(t, host)
	handshakeRaw(t, conn, "{}")

	writeRaw(t, conn, 10, "flood")
	text := expectClose(t, conn, websocket.ClosePolicyViolation)
	if text != mws.ErrRateLimitExceeded {
		t.Errorf("close reason = %q, want %q", text, mws.ErrRateLimitExceeded)
	}
}

// TestServerHandlerDispatch tests that registered handlers receive payloads
func TestServerHandlerDispatch(t *testing.T) {
	t.Parallel()

	server, host := startTestServer(t, &ServerConfig{})
	server.RegisterHandler(100, func(peer mws.Peer, payload []byte) {
		peer.Send(101, payload)
	})

	conn := dialRaw(t, host)
	handshakeRaw(t, conn, "{}")

	writeRaw(t, conn, 100, `{"text":"echo"}`)
	frame := readRaw(t, conn)

	if frame.Signal != 101 || string(frame.Payload) != `{"text":"echo"}` {
		t.Errorf("reply = %d %s", frame.Signal, frame.Payload)
	}
}

// TestServerKickAndBan tests the built-in administrative signals
func TestServerKickAndBan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		signal   int
		wantCode int
	}{
		{name: "kick", signal: mws.SignalClientKick, wantCode: mws.CloseKicked},
		{name: "ban", signal: mws.SignalClientBan, wantCode: mws.CloseBanned},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, host := startTestServer(t, &ServerConfig{})
			admin := dialRaw(t, host)
			handshakeRaw(t, admin, "{}")
			target := dialRaw(t, host)
			targetAck := handshakeRaw(t, target, "{}")

			req, _ := json.Marshal(map[string]string{"client_id": targetAck.ID, "reason": "misbehaving", "length": "1h"})
			writeRaw(t, admin, tt.signal, string(req))

			if text := expectClose(t, target, tt.wantCode); text != "misbehaving" {
				t.Errorf("close reason = %q, want misbehaving", text)
			}
		})
	}
}

// TestServerBroadcast tests delivery to every authenticated peer
func TestServerBroadcast(t *testing.T) {
	t.Parallel()

	server, host := startTestServer(t, &ServerConfig{})
	a := dialRaw(t, host)
	handshakeRaw(t, a, "{}")
	b := dialRaw(t, host)
	handshakeRaw(t, b, "{}")

	if err := server.Broadcast(7, "hello"); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		frame := readRaw(t, conn)
		if frame.Signal != 7 || string(frame.Payload) != "hello" {
			t.Errorf("frame = %d %s", frame.Signal, frame.Payload)
		}
	}

	if err := server.Broadcast(10000, "x"); err == nil {
		t.Error("Broadcast() out of range succeeded")
	}
	if err := server.Broadcast(1, make(chan int)); !errors.Is(err, mws.ErrSerialization) {
		t.Errorf("Broadcast() error = %v, want ErrSerialization", err)
	}
}

// TestServerCallbacks tests the connect and disconnect callbacks for peer-initiated closes
func TestServerCallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code int
	}{
		{name: "normal closure", code: websocket.CloseNormalClosure},
		{name: "application code", code: 4000},
		{name: "client disconnect", code: mws.CloseClientDisconnect},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			type disconnect struct {
				id        string
				voluntary bool
			}
			connected := make(chan string, 1)
			disconnected := make(chan disconnect, 1)

			metrics := newRecordingMetrics()
			server, host := startTestServer(t, &ServerConfig{
				Metrics: metrics,
				OnConnect: func(peer mws.Peer) {
					connected <- peer.ID()
				},
				OnClientDisconnect: func(peer mws.Peer, voluntary bool) {
					disconnected <- disconnect{id: peer.ID(), voluntary: voluntary}
				},
			})

			conn := dialRaw(t, host)
			ack := handshakeRaw(t, conn, "{}")

			select {
			case id := <-connected:
				if id != ack.ID {
					t.Errorf("OnConnect id = %q, want %q", id, ack.ID)
				}
			case <-time.After(waitTimeout):
				t.Fatal("OnConnect not called")
			}

			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(tt.code, "bye"), time.Now().Add(time.Second))

			select {
			case d := <-disconnected:
				if d.id != ack.ID || !d.voluntary {
					t.Errorf("OnClientDisconnect = %+v, want %s voluntary", d, ack.ID)
				}
			case <-time.After(waitTimeout):
				t.Fatal("OnClientDisconnect not called")
			}

			if got := metrics.disconnectCodes(); len(got) != 1 || got[0] != tt.code {
				t.Errorf("recorded close codes = %v, want [%d]", got, tt.code)
			}
			if _, ok := server.Peer(ack.ID); ok {
				t.Error("peer still registered after disconnect")
			}
		})
	}
}

// TestServerAuthorizeAdmin tests that denied kick requests leave the target connected
func TestServerAuthorizeAdmin(t *testing.T) {
	t.Parallel()

	requests := make(chan AdminRequest, 4)
	server, host := startTestServer(t, &ServerConfig{
		AuthorizeAdmin: func(from mws.Peer, req AdminRequest) bool {
			requests <- req
			return from.Credentials()["role"] == "admin"
		},
	})

	admin := dialRaw(t, host)
	handshakeRaw(t, admin, `{"role":"admin"}`)
	user := dialRaw(t, host)
	handshakeRaw(t, user, `{"role":"user"}`)
	target := dialRaw(t, host)
	targetAck := handshakeRaw(t, target, "{}")

	kick := func(conn *websocket.Conn, reason string) {
		req, _ := json.Marshal(map[string]string{"client_id": targetAck.ID, "reason": reason})
		writeRaw(t, conn, mws.SignalClientKick, string(req))
	}

	kick(user, "by user")
	select {
	case req := <-requests:
		if req.Signal != mws.SignalClientKick || req.ClientID != targetAck.ID || req.Reason != "by user" {
			t.Errorf("request = %+v", req)
		}
	case <-time.After(waitTimeout):
		t.Fatal("AuthorizeAdmin not called")
	}

	peer, ok := server.Peer(targetAck.ID)
	if !ok || !peer.IsAlive() {
		t.Fatal("target closed by a denied request")
	}

	kick(admin, "by admin")
	if text := expectClose(t, target, mws.CloseKicked); text != "by admin" {
		t.Errorf("close reason = %q, want by admin", text)
	}
}

// TestPeerSendAfterClose tests that closed peers reject sends
func TestPeerSendAfterClose(t *testing.T) {
	t.Parallel()

	server, host := startTestServer(t, &ServerConfig{})
	conn := dialRaw(t, host)
	ack := handshakeRaw(t, conn, "{}")

	peer, ok := server.Peer(ack.ID)
	if !ok {
		t.Fatal("peer not found")
	}
	if err := peer.CloseWithCode(4000, "done"); err != nil {
		t.Errorf("CloseWithCode() error = %v", err)
	}
	expectClose(t, conn, 4000)

	err := peer.Send(1, "x")
	if mws.KindOf(err) != mws.KindConnection {
		t.Errorf("Send() after close error = %v, want connection error", err)
	}
	if peer.IsAlive() {
		t.Error("IsAlive() = true after close")
	}
	if peer.Context().Err() == nil {
		t.Error("peer context not cancelled")
	}
}

// BenchmarkNewServer benchmarks server creation
func BenchmarkNewServer(b *testing.B) {
	config := DefaultRateLimitConfig()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = NewServer(&ServerConfig{Addr: ":8080", RateLimitConfig: config})
	}
}

// BenchmarkNewPeerID benchmarks id generation
func BenchmarkNewPeerID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = newPeerID()
	}
}
