package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tabstate/internal/bus"
	"github.com/roach88/tabstate/internal/state"
)

// changeResult is one line of watch output.
type changeResult struct {
	Key    string `json:"key"`
	Seq    int64  `json:"seq"`
	Source string `json:"source"`
	Value  any    `json:"value"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch <key>",
		Short: "Print every change of a key until interrupted",
		Long: `Hydrate a container for key, print its current value and then one line
per change. With a relay configured, writes made by other processes are
received and printed as remote changes.

Example:
  tabstate watch prefs --relay ws://localhost:8787
  tabstate watch prefs --format json --metrics :9090`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, args[0], metricsAddr, cmd)
		},
	}

	cmd.Flags().Bool("sync-tabs", false, "receive writes from other containers")
	cmd.Flags().String("relay", "", "relay URL (ws:// or wss://)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address")

	return cmd
}

func runWatch(opts *RootOptions, key, metricsAddr string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "store unavailable", err)
	}
	defer sess.Close()

	if metricsAddr != "" {
		shutdown, err := serveMetrics(metricsAddr, sess.metrics.Handler())
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "serve metrics", err)
		}
		defer shutdown()
	}

	b := bus.New(sess.logger)
	s, err := sess.container(key, b)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "create container", err)
	}

	var outMu sync.Mutex
	b.SetSender(func(data any) {
		outMu.Lock()
		defer outMu.Unlock()
		c := data.(changeResult)
		if formatter.Format == "json" {
			_ = formatter.Success(c)
			return
		}
		_ = formatter.Success(fmt.Sprintf("%d %s %s", c.Seq, c.Source, renderValue(c.Value)))
	})
	defer b.SetSender(nil)

	if err := s.Ready(ctx); err != nil {
		return nil
	}
	_, _ = b.Send(changeResult{Key: s.Key(), Source: "current", Value: s.Current()}, false)

	handle := bus.Subscribe(b, state.Topic(s.Key()), func(c state.Change) {
		_, _ = b.Send(changeResult{
			Key:    c.Key,
			Seq:    c.Seq,
			Source: string(c.Source),
			Value:  s.Current(),
		}, false)
	})
	defer b.Off(handle)

	cancel := s.Watch(func(state.Change) {})
	formatter.VerboseLog("watching %s", s.Key())

	<-ctx.Done()
	cancel()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	_ = s.Flush(flushCtx)
	return nil
}

// serveMetrics starts an HTTP server for h on addr and returns its
// shutdown function.
func serveMetrics(addr string, h http.Handler) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
