package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/luciancaetano/mws"
	"github.com/luciancaetano/mws/ws"
)

type outgoing struct {
	signal int
	data   any
}

func connectCmd() *cobra.Command {
	var (
		host      string
		ssl       bool
		reconnect bool
		creds     map[string]string
		sends     []string
		verbose   bool
		debug     bool
		wait      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a signal server",
		Long: `Connect to a signal server, send signals once connected and print
every signal received until interrupted.

Payloads given to --send are sent as JSON when they parse as JSON,
verbatim otherwise.

Examples:
  mws connect --host 127.0.0.1:1997 --cred access_token=1234
  mws connect --send '100={"text":"hello"}' --wait 2s
  mws connect --ssl --host example.com:443 --reconnect --verbose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			queue := make([]outgoing, 0, len(sends))
			for _, s := range sends {
				o, err := parseSend(s)
				if err != nil {
					return err
				}
				queue = append(queue, o)
			}
			return runConnect(host, ssl, reconnect, creds, queue, verbose, debug, wait)
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", mws.DefaultHost, "Server host:port")
	cmd.Flags().BoolVar(&ssl, "ssl", false, "Use wss://")
	cmd.Flags().BoolVarP(&reconnect, "reconnect", "r", false, "Reconnect after transport-initiated closures")
	cmd.Flags().StringToStringVarP(&creds, "cred", "c", nil, "Handshake credential key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&sends, "send", "s", nil, "Signal to send once connected, as code=payload (repeatable)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every sent and received signal")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().DurationVarP(&wait, "wait", "w", 0, "Disconnect after this long (default: until interrupted)")

	return cmd
}

// parseSend parses a "code=payload" argument.
func parseSend(arg string) (outgoing, error) {
	code, payload, ok := strings.Cut(arg, "=")
	if !ok {
		return outgoing{}, fmt.Errorf("invalid --send %q: want code=payload", arg)
	}

	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil || n < mws.MinSignal || n > mws.MaxSignal {
		return outgoing{}, fmt.Errorf("invalid --send %q: %s", arg, mws.ErrSignalRangeMessage)
	}

	if json.Valid([]byte(payload)) {
		return outgoing{signal: n, data: json.RawMessage(payload)}, nil
	}
	return outgoing{signal: n, data: payload}, nil
}

// credentials converts flag values to handshake credentials.
func credentials(creds map[string]string) mws.Credentials {
	out := make(mws.Credentials, len(creds))
	for k, v := range creds {
		out[k] = v
	}
	return out
}

func runConnect(host string, ssl, reconnect bool, creds map[string]string, queue []outgoing, verbose, debug bool, wait time.Duration) error {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	client := ws.NewClient(mws.ClientConfig{
		Host:        host,
		SSL:         ssl,
		Reconnect:   reconnect,
		Credentials: credentials(creds),
		ShowSend:    verbose,
		ShowRecv:    verbose,
		Logger:      ws.NewPtermLogger(nil, debug),
	})

	client.OnConnected(func(id string, info mws.PeerInfo) {
		pterm.Success.Printfln("Connected as %s %v", id, info)
		for _, o := range queue {
			if err := client.Send(o.signal, o.data); err != nil {
				pterm.Error.Printfln("Send %d: %v", o.signal, err)
			}
		}
	})
	client.OnSignal(func(s mws.Signal) {
		pterm.Info.Printfln("Signal %d: %s", s.Code, s.Raw)
	})
	client.OnDisconnected(func(code int, reason string) {
		pterm.Warning.Printfln("Disconnected (%d) %s", code, reason)
		if !reconnect || code >= mws.CloseLocalThreshold {
			stop()
		}
	})

	client.Connect()
	<-ctx.Done()
	client.Disconnect("")
	return nil
}
