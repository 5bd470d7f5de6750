package ws

import (
	"net/http"

	"github.com/luciancaetano/mws"
	"github.com/luciancaetano/mws/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type AuthenticateFn = websocket.AuthenticateFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type AdminRequest = websocket.AdminRequest
type AuthorizeAdminFn = websocket.AuthorizeAdminFn
type ServerConfig = *websocket.ServerConfig

// NewServer creates a signal server with rate limiting, authentication and connection callbacks.
//
// Example:
//
//	cfg := ws.NewServerConfig(":1997")
//	cfg.Authenticate = func(r *http.Request, c mws.Credentials) (mws.PeerInfo, error) {
//	    return mws.PeerInfo{"name": c["name"]}, nil
//	}
//	server := ws.NewServer(cfg)
func NewServer(cfg ServerConfig) mws.SignalServer {
	return websocket.NewServer(cfg)
}

// NewServerConfig returns a configuration listening on addr with the default rate limit,
// accepting every origin and every peer.
func NewServerConfig(addr string) ServerConfig {
	return &websocket.ServerConfig{
		Addr:            addr,
		RateLimitConfig: DefaultRateLimitConfig(),
		CheckOrigin:     AllOrigins(),
	}
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
