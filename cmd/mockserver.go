package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovetools/livequery/cli"
	"github.com/grovetools/livequery/errors"
	"github.com/grovetools/livequery/internal/mockserver"
	"github.com/grovetools/livequery/logging"
)

// NewMockServerCmd creates the `mock-server` command.
func NewMockServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve a demo chat dataset over the live query protocol",
		Long: `Starts a websocket server that answers statements about a small rooms and
messages dataset. Live statements receive a table_update or record_update
every --interval.

Examples:
  livequery mock-server
  livequery mock-server --listen :9100 --interval 500ms`,
		RunE: runMockServerE,
	}

	cmd.Flags().String("listen", "localhost:9000", "Address to listen on")
	cmd.Flags().String("path", "/ws", "HTTP path of the websocket endpoint")
	cmd.Flags().Duration("interval", 2*time.Second, "Time between pushed updates (0 disables)")
	return cmd
}

func runMockServerE(cmd *cobra.Command, args []string) error {
	logger := cli.GetLogger(cmd)
	listen, _ := cmd.Flags().GetString("listen")
	path, _ := cmd.Flags().GetString("path")
	interval, _ := cmd.Flags().GetDuration("interval")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	demo := mockserver.NewDemo()
	mux := http.NewServeMux()
	mux.Handle(path, mockserver.New(demo))

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConnectionFailed, "failed to listen").
			WithDetail("listen", listen)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	if interval > 0 {
		go demo.Run(ctx, interval)
	}

	pretty := logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout())
	pretty.Success("mock server listening")
	pretty.Field("address", "ws://"+ln.Addr().String()+path)
	pretty.Field("interval", interval)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, errors.ErrCodeInternal, "server failed")
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
