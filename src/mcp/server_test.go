package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"

	"pulsar-mcp/src/admin"
	"pulsar-mcp/src/broker"
	"pulsar-mcp/src/config"
	"pulsar-mcp/src/connector"
	"pulsar-mcp/src/logger"
	"pulsar-mcp/src/session"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Driver = config.DriverMemory
	cfg.ReceiveTimeout = 100 * time.Millisecond
	cfg.ReadFromBeginning = true
	cfg.PublishDescription = "Publish to the audit stream"
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := testConfig()
	b := broker.NewInMemoryBroker()
	s := session.New(cfg, b, logger.NewSilentLogger())
	t.Cleanup(s.Close)
	c := connector.New(cfg, s, admin.NewMemory(b, cfg.Tenant, cfg.Namespace), nil)
	return NewServer(cfg, c, nil)
}

func TestNewServer(t *testing.T) {
	srv := newTestServer(t)
	if srv.MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}

	want := []string{
		"pulsar_publish", "pulsar_consume", "pulsar_create_topic", "pulsar_delete_topic",
		"pulsar_list_topics", "pulsar_topic_stats", "pulsar_list_connectors",
		"pulsar_connector_status", "pulsar_connector_config", "pulsar_all_connectors",
	}
	tools := srv.Tools()
	if len(tools) != len(want) {
		t.Fatalf("Expected %d tools, got %d", len(want), len(tools))
	}
	for i, name := range want {
		if tools[i].Name != name {
			t.Errorf("Tool %d: expected %s, got %s", i, name, tools[i].Name)
		}
	}
	if tools[0].Description != "Publish to the audit stream" {
		t.Errorf("Expected configured publish description, got %q", tools[0].Description)
	}
}

func TestHandleTool_PublishThenConsume(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleTool(ctx, makeCallToolRequest("pulsar_publish", map[string]any{
		"topic":      "orders",
		"message":    "hello",
		"properties": map[string]any{"source": "mcp"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("publish failed: %s", extractText(t, result))
	}
	text := extractText(t, result)
	if !gjson.Get(text, "ok").Bool() || gjson.Get(text, "data.messageId").String() == "" {
		t.Errorf("Unexpected publish result %s", text)
	}

	result, err = srv.handleTool(ctx, makeCallToolRequest("pulsar_consume", map[string]any{
		"topic":             "orders",
		"subscription_name": "mcp-test",
		"max_messages":      float64(5),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text = extractText(t, result)
	if result.IsError {
		t.Fatalf("consume failed: %s", text)
	}
	if got := gjson.Get(text, "data.#").Int(); got != 1 {
		t.Fatalf("Expected 1 message, got %d in %s", got, text)
	}
	if got := gjson.Get(text, "data.0.payload").String(); got != "hello" {
		t.Errorf("Expected payload hello, got %q", got)
	}
	if got := gjson.Get(text, "data.0.properties.source").String(); got != "mcp" {
		t.Errorf("Expected property source=mcp, got %q", got)
	}
}

func TestHandleTool_Errors(t *testing.T) {
	tests := []struct {
		name       string
		tool       string
		args       map[string]any
		wantKind   string
		wantReason string
	}{
		{"max messages out of range", "pulsar_consume", map[string]any{"topic": "t", "max_messages": float64(0)}, "ValidationError", ""},
		{"missing message", "pulsar_publish", map[string]any{"topic": "t"}, "ValidationError", ""},
		{"unknown tool", "pulsar_compact", nil, "ValidationError", ""},
		{"delete missing topic", "pulsar_delete_topic", map[string]any{"topic": "ghost"}, "TopicAdminError", "NotFound"},
		{"unknown connector", "pulsar_connector_status", map[string]any{"connector_name": "ghost"}, "TopicAdminError", "NotFound"},
	}

	srv := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.handleTool(context.Background(), makeCallToolRequest(tt.tool, tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("Expected isError to be set")
			}
			text := extractText(t, result)
			if gjson.Get(text, "ok").Bool() {
				t.Errorf("Expected ok=false in %s", text)
			}
			if got := gjson.Get(text, "errorKind").String(); got != tt.wantKind {
				t.Errorf("Expected errorKind %s, got %s", tt.wantKind, got)
			}
			if got := gjson.Get(text, "reason").String(); got != tt.wantReason {
				t.Errorf("Expected reason %q, got %q", tt.wantReason, got)
			}
			if gjson.Get(text, "message").String() == "" {
				t.Error("Expected a message")
			}
		})
	}
}

func TestHandleTool_TopicAdmin(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	result, _ := srv.handleTool(ctx, makeCallToolRequest("pulsar_create_topic", map[string]any{"topic": "events", "partitions": float64(4)}))
	if result.IsError {
		t.Fatalf("create failed: %s", extractText(t, result))
	}

	result, _ = srv.handleTool(ctx, makeCallToolRequest("pulsar_list_topics", nil))
	if got := gjson.Get(extractText(t, result), "data").String(); got != `["events"]` {
		t.Errorf("Expected [\"events\"], got %s", got)
	}

	result, _ = srv.handleTool(ctx, makeCallToolRequest("pulsar_topic_stats", map[string]any{"topic": "events"}))
	if got := gjson.Get(extractText(t, result), "data.partitions").Int(); got != 4 {
		t.Errorf("Expected stats for 4 partitions, got %d", got)
	}
}

func TestHandleTool_PassesNameAndArguments(t *testing.T) {
	rec := &recordingInvoker{}
	srv := NewServer(testConfig(), rec, nil)

	_, err := srv.handleTool(context.Background(), makeCallToolRequest("pulsar_list_connectors", map[string]any{"connector_type": "sink"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.name != "pulsar_list_connectors" {
		t.Errorf("Expected tool name to be passed through, got %q", rec.name)
	}
	if rec.params["connector_type"] != "sink" {
		t.Errorf("Expected arguments to be passed through, got %v", rec.params)
	}
}

type recordingInvoker struct {
	name   string
	params connector.Params
}

func (r *recordingInvoker) Invoke(_ context.Context, name string, params connector.Params) connector.Result {
	r.name = name
	r.params = params
	return connector.Result{OK: true, Data: []string{}}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}
