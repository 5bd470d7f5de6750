package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/mws"
	"github.com/luciancaetano/mws/ws"
)

type serveOptions struct {
	addr        string
	path        string
	metrics     bool
	token       string
	adminToken  string
	echo        []int
	relay       []int
	rate        float64
	burst       int
	noRateLimit bool
	debug       bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a signal server",
		Long: `Run a signal server speaking the same protocol as the client.

Peers authenticate with the handshake; when --token is set the
"access_token" credential must match it. Signals listed in --echo are
sent back to their sender, signals listed in --relay are broadcast to
every peer. Kick (202) and ban (203) requests are honored from every
peer unless --admin-token is set, in which case only peers sending a
matching "admin_token" credential may issue them.

Examples:
  mws serve
  mws serve --addr :1997 --metrics --echo 100
  mws serve --token secret --relay 300 --rate 10 --burst 20
  mws serve --admin-token root`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", ":1997", "Address to listen on")
	cmd.Flags().StringVarP(&opts.path, "path", "p", "/", "WebSocket endpoint path")
	cmd.Flags().BoolVarP(&opts.metrics, "metrics", "m", false, "Expose Prometheus metrics on /metrics")
	cmd.Flags().StringVarP(&opts.token, "token", "t", "", "Required access_token credential")
	cmd.Flags().StringVar(&opts.adminToken, "admin-token", "", "admin_token credential required to kick or ban")
	cmd.Flags().IntSliceVar(&opts.echo, "echo", nil, "Signals echoed back to the sender")
	cmd.Flags().IntSliceVar(&opts.relay, "relay", nil, "Signals broadcast to every peer")
	cmd.Flags().Float64Var(&opts.rate, "rate", 100, "Messages per second allowed per peer")
	cmd.Flags().IntVar(&opts.burst, "burst", 200, "Rate limit burst size")
	cmd.Flags().BoolVar(&opts.noRateLimit, "no-rate-limit", false, "Disable rate limiting")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	return cmd
}

// tokenAuthenticator accepts peers whose access_token matches token, or every peer when
// token is empty.
func tokenAuthenticator(token string) ws.AuthenticateFn {
	return func(r *http.Request, c mws.Credentials) (mws.PeerInfo, error) {
		if token != "" && c["access_token"] != token {
			return nil, errors.New(mws.ErrUnauthorizedMessage)
		}
		return mws.PeerInfo{"remote_addr": r.RemoteAddr}, nil
	}
}

// adminAuthorizer lets only peers that sent a matching admin_token kick or ban, or every
// peer when token is empty.
func adminAuthorizer(token string) ws.AuthorizeAdminFn {
	if token == "" {
		return nil
	}
	return func(from mws.Peer, req ws.AdminRequest) bool {
		return from.Credentials()["admin_token"] == token
	}
}

func runServe(opts serveOptions) error {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := ws.NewPtermLogger(nil, opts.debug)

	cfg := ws.NewServerConfig(opts.addr)
	cfg.Path = opts.path
	cfg.Logger = logger
	cfg.Authenticate = tokenAuthenticator(opts.token)
	cfg.AuthorizeAdmin = adminAuthorizer(opts.adminToken)
	if opts.noRateLimit {
		cfg.RateLimitConfig = ws.NoRateLimit()
	} else {
		cfg.RateLimitConfig = &ws.RateLimitConfig{
			MessagesPerSecond: rate.Limit(opts.rate),
			Burst:             opts.burst,
			Enabled:           true,
		}
	}

	reg := prometheus.NewRegistry()
	if opts.metrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		cfg.Metrics = ws.NewPrometheusMetrics(reg, "server")
	}

	server := ws.NewServer(cfg)

	for _, code := range opts.echo {
		code := code
		if err := server.RegisterHandler(code, func(peer mws.Peer, payload []byte) {
			peer.Send(code, payload)
		}); err != nil {
			return fmt.Errorf("--echo %d: %w", code, err)
		}
	}
	for _, code := range opts.relay {
		code := code
		if err := server.RegisterHandler(code, func(peer mws.Peer, payload []byte) {
			server.Broadcast(code, payload)
		}); err != nil {
			return fmt.Errorf("--relay %d: %w", code, err)
		}
	}

	r := chi.NewRouter()
	if opts.metrics {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	r.Mount("/", server.Handler())

	httpServer := &http.Server{
		Addr:    opts.addr,
		Handler: r,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	pterm.Info.Printfln("mws v%s listening on %s%s", version, opts.addr, opts.path)
	if opts.metrics {
		pterm.Info.Printfln("Metrics on %s/metrics", opts.addr)
	}

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	pterm.Info.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Stop(shutdownCtx)
	return httpServer.Shutdown(shutdownCtx)
}
