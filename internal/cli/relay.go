package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/roach88/tabstate/internal/broadcast/wsrelay"
	"github.com/roach88/tabstate/internal/metrics"
)

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve the WebSocket relay that links containers across processes",
		Long: `Serve broadcast channels over WebSocket. Every text frame a peer sends
on /channels/<name> is forwarded to the other peers of that channel.
Prometheus metrics are served on /metrics.

Example:
  tabstate relay --addr :8787`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(rootOpts, cmd)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default :8787)")

	return cmd
}

func runRelay(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.logger
	m := metrics.New(metrics.Config{})
	relay := wsrelay.New(wsrelay.Config{Logger: logger, Observer: m})

	addr := opts.cfg.Relay.Addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRelay, "listen on "+addr, err)
	}

	srv := &http.Server{
		Handler:           relayRoutes(relay, m),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	if formatter.Format == "json" {
		_ = formatter.Success(map[string]string{"addr": ln.Addr().String()})
	} else {
		_ = formatter.Success("Relay listening on " + ln.Addr().String())
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return formatter.Fail(ExitFailure, ErrCodeRelay, "relay stopped", err)
		}
		return nil
	}

	_ = relay.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeRelay, "shutdown", err)
	}
	return nil
}

// relayRoutes mounts the relay and the metrics endpoint.
func relayRoutes(relay *wsrelay.Relay, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", m.Handler())
	r.Mount("/", relay)
	return r
}
