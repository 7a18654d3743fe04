package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"pulsar-mcp/src/mcp"
)

var (
	transport string
	host      string
	port      int
)

// serveCmd runs the MCP server until the client disconnects or a signal arrives.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Long: `Runs the MCP server. The stdio transport (default) speaks MCP on
stdin/stdout; the sse transport listens for HTTP clients on --host:--port.

The broker connection is opened lazily on the first publish or consume and
is closed, together with every producer and consumer, on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := mcp.NewServer(*rt.cfg, rt.connector, rt.log)
		rt.log.Info("Starting pulsar-mcp %s (driver=%s, service=%s)", mcp.Version, rt.cfg.Driver, rt.cfg.ServiceURL)

		switch transport {
		case "stdio":
			err = srv.ServeStdio()
		case "sse":
			err = srv.ServeSSE(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
		default:
			return fmt.Errorf("unknown transport %q (want stdio or sse)", transport)
		}
		if err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}

		rt.log.Info("pulsar-mcp stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&transport, "transport", "t", "stdio", "transport: stdio or sse")
	serveCmd.Flags().StringVar(&host, "host", "localhost", "SSE listen host")
	serveCmd.Flags().IntVarP(&port, "port", "p", 8080, "SSE listen port")
}
