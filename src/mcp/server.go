// Package mcp exposes the connector operations as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pulsar-mcp/src/config"
	"pulsar-mcp/src/connector"
	"pulsar-mcp/src/logger"
)

// Version is the server version, set at build time.
var Version = "dev"

// Invoker runs a named connector operation. *connector.Connector implements it.
type Invoker interface {
	Invoke(ctx context.Context, name string, params connector.Params) connector.Result
}

// Server is the MCP server for pulsar-mcp.
type Server struct {
	mcpServer *server.MCPServer
	invoker   Invoker
	log       logger.Logger
	tools     []mcp.Tool
}

// NewServer creates a new MCP server with one tool per connector operation.
func NewServer(cfg config.Config, invoker Invoker, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	s := server.NewMCPServer(
		"pulsar-mcp",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	srv := &Server{
		mcpServer: s,
		invoker:   invoker,
		log:       log,
	}
	srv.registerTools(cfg)

	return srv
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Tools returns the registered tool definitions in registration order.
func (s *Server) Tools() []mcp.Tool {
	return s.tools
}

// ServeStdio serves MCP over stdin/stdout until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over HTTP server-sent events on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("SSE transport listening on %s", addr)
		errCh <- sse.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sse.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down SSE transport: %w", err)
		}
		return nil
	}
}

func (s *Server) addTool(tool mcp.Tool) {
	s.tools = append(s.tools, tool)
	s.mcpServer.AddTool(tool, s.handleTool)
}

// registerTools registers all available tools.
func (s *Server) registerTools(cfg config.Config) {
	s.addTool(mcp.NewTool("pulsar_publish",
		mcp.WithDescription(cfg.PublishDescription),
		mcp.WithString("topic",
			mcp.Description(fmt.Sprintf("Topic to publish to (default: %s)", cfg.Topic)),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Message payload"),
		),
		mcp.WithObject("properties",
			mcp.Description("Optional string properties attached to the message"),
		),
		mcp.WithString("key",
			mcp.Description("Optional partition key"),
		),
		mcp.WithString("payload_encoding",
			mcp.Description("How message is encoded: text (default) or base64 for binary payloads"),
			mcp.Enum("text", "base64"),
		),
	))

	s.addTool(mcp.NewTool("pulsar_consume",
		mcp.WithDescription(cfg.ConsumeDescription),
		mcp.WithString("topic",
			mcp.Description(fmt.Sprintf("Topic to consume from (default: %s)", cfg.Topic)),
		),
		mcp.WithString("subscription_name",
			mcp.Description(fmt.Sprintf("Subscription name (default: %s)", cfg.Subscription)),
		),
		mcp.WithNumber("max_messages",
			mcp.Description("Maximum number of messages to return (1-100, default: 10)"),
			mcp.Min(1),
			mcp.Max(100),
		),
	))

	s.addTool(mcp.NewTool("pulsar_create_topic",
		mcp.WithDescription("Create a Pulsar topic. Creating a topic that already exists with the same partition count succeeds."),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Topic name, short or fully qualified"),
		),
		mcp.WithNumber("partitions",
			mcp.Description("Number of partitions (default: 1, non-partitioned)"),
			mcp.Min(1),
		),
	))

	s.addTool(mcp.NewTool("pulsar_delete_topic",
		mcp.WithDescription("Delete a Pulsar topic. Fails while the topic has active subscriptions."),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Topic name, short or fully qualified"),
		),
	))

	s.addTool(mcp.NewTool("pulsar_list_topics",
		mcp.WithDescription("List the topics in the configured tenant and namespace. Partitioned topics are listed once by base name. Non-persistent topics are listed with their full non-persistent:// name."),
		mcp.WithReadOnlyHintAnnotation(true),
	))

	s.addTool(mcp.NewTool("pulsar_topic_stats",
		mcp.WithDescription("Return the broker's statistics for a topic"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Topic name, short or fully qualified"),
		),
	))

	s.addTool(mcp.NewTool("pulsar_list_connectors",
		mcp.WithDescription("List Pulsar IO connectors of one type in the configured namespace"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("connector_type",
			mcp.Description("Connector type (default: source)"),
			mcp.Enum("source", "sink"),
		),
	))

	s.addTool(mcp.NewTool("pulsar_connector_status",
		mcp.WithDescription("Return the runtime status of a source or sink connector"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("connector_name",
			mcp.Required(),
			mcp.Description("Connector name"),
		),
	))

	s.addTool(mcp.NewTool("pulsar_connector_config",
		mcp.WithDescription("Return the configuration of a source or sink connector"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("connector_name",
			mcp.Required(),
			mcp.Description("Connector name"),
		),
	))

	s.addTool(mcp.NewTool("pulsar_all_connectors",
		mcp.WithDescription("List all source and sink connectors with totals"),
		mcp.WithReadOnlyHintAnnotation(true),
	))
}

// handleTool runs the operation named by the tool and returns the Result as JSON.
// Failed operations set isError on the tool result.
func (s *Server) handleTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.Params.Name
	start := time.Now()

	res := s.invoker.Invoke(ctx, name, connector.Params(request.GetArguments()))

	jsonBytes, err := json.Marshal(res)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}

	if !res.OK {
		s.log.Info("Tool %s failed after %s: %s", name, time.Since(start), res.ErrorKind)
		return mcp.NewToolResultError(string(jsonBytes)), nil
	}
	s.log.Debug("Tool %s completed in %s", name, time.Since(start))
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
