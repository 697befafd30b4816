package mcp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/lifeops/lifeops/pkg/agent"
	"github.com/lifeops/lifeops/pkg/agent/mcp"
	"github.com/lifeops/lifeops/pkg/repository"
	"github.com/m-mizutani/gt"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func newHTTPServer(t *testing.T) *httptest.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "notes-http",
		Version: "1.0.0",
	}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "echo",
		Description: "Echo back the message",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, params *struct {
		Message string `json:"message" jsonschema:"Message to echo"`
	}) (*mcpsdk.CallToolResult, any, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{
				&mcpsdk.TextContent{Text: params.Message},
			},
		}, nil, nil
	})

	handler := mcpsdk.NewStreamableHTTPHandler(func(r *http.Request) *mcpsdk.Server {
		return server
	}, nil)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestStdioTransport(t *testing.T) {
	ctx := context.Background()
	client := mcp.NewClient()

	err := client.Connect(ctx, mcp.ServerConfig{
		Name:      "calendar",
		Transport: "stdio",
		Command:   []string{"go", "run", "./testdata/stdio/main.go"},
	})
	gt.NoError(t, err)
	defer client.Close()

	gt.Equal(t, client.Servers(), []string{"calendar"})

	tools, err := client.Tools("calendar")
	gt.NoError(t, err)
	gt.A(t, tools).Length(1)
	gt.Equal(t, tools[0].Name, "free_slots")

	result, err := client.CallTool(ctx, "calendar", "free_slots", map[string]any{"day": "tuesday"})
	gt.NoError(t, err)
	gt.A(t, result.Content).Length(1)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	gt.Equal(t, text.Text, "tuesday: 10:00-12:00 free")
}

func TestHTTPStreamableTransport(t *testing.T) {
	ctx := context.Background()
	ts := newHTTPServer(t)

	client := mcp.NewClient()
	err := client.Connect(ctx, mcp.ServerConfig{
		Name:      "notes",
		Transport: "http",
		URL:       ts.URL,
	})
	gt.NoError(t, err)
	defer client.Close()

	result, err := client.CallTool(ctx, "notes", "echo", map[string]any{"message": "Hello from HTTP!"})
	gt.NoError(t, err)
	text, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	gt.Equal(t, text.Text, "Hello from HTTP!")
}

func TestConnectErrors(t *testing.T) {
	ctx := context.Background()
	client := mcp.NewClient()

	gt.Error(t, client.Connect(ctx, mcp.ServerConfig{Name: "x", Transport: "carrier-pigeon"}))
	gt.Error(t, client.Connect(ctx, mcp.ServerConfig{Name: "x", Transport: "stdio"}))
	gt.Error(t, client.Connect(ctx, mcp.ServerConfig{Name: "x", Transport: "http"}))
	gt.Error(t, client.Connect(ctx, mcp.ServerConfig{Transport: "http", URL: "http://localhost"}))

	_, err := client.Tools("x")
	gt.Error(t, err)
	_, err = client.CallTool(ctx, "x", "echo", nil)
	gt.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`servers:
  - name: calendar
    transport: stdio
    command: ["go", "run", "./testdata/stdio/main.go"]
    env:
      TZ: UTC
    priority: 20
  - name: notes
    transport: http
    url: http://localhost:8080/mcp
`), 0o600))

	cfg, err := mcp.LoadConfig(path)
	gt.NoError(t, err)
	gt.A(t, cfg.Servers).Length(2)
	gt.Equal(t, cfg.Servers[0].Command, []string{"go", "run", "./testdata/stdio/main.go"})
	gt.Equal(t, cfg.Servers[0].Env["TZ"], "UTC")
	gt.Equal(t, *cfg.Servers[0].Priority, 20)
	gt.Equal(t, cfg.Servers[1].URL, "http://localhost:8080/mcp")

	_, err = mcp.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	gt.Error(t, err)
}

func TestInstall(t *testing.T) {
	ctx := context.Background()
	ts := newHTTPServer(t)

	repo, err := repository.NewInProcess()
	gt.NoError(t, err)
	rt := agent.New(repo, agent.WithRetryInterval(0))

	priority := 20
	client, installed, err := mcp.Install(ctx, rt, &mcp.Config{Servers: []mcp.ServerConfig{
		{Name: "notes", Transport: "http", URL: ts.URL, Priority: &priority},
		{Name: "broken", Transport: "http", URL: "http://127.0.0.1:1/mcp"},
	}})
	gt.NoError(t, err)
	defer client.Close()

	gt.A(t, installed).Length(1)
	record := installed[0]
	gt.Equal(t, record.Slug, "mcp-notes")
	gt.Equal(t, record.Config.Priority, 20)
	gt.True(t, record.HasCapability("echo"))

	t.Run("tool call", func(t *testing.T) {
		res := rt.Execute(ctx, record, agent.Context{
			Command: "echo",
			Input:   map[string]any{"message": "Ship release?"},
		})
		gt.True(t, res.Success)
		gt.Equal(t, res.Data["message"], any("Ship release?"))
		gt.Equal(t, res.Data["tool"], any("echo"))
	})

	t.Run("unknown tool", func(t *testing.T) {
		res := rt.Execute(ctx, record, agent.Context{Command: "deploy"})
		gt.False(t, res.Success)
		gt.Equal(t, res.Error, "Unknown command: deploy")
	})

	t.Run("arguments checked against input schema", func(t *testing.T) {
		res := rt.Execute(ctx, record, agent.Context{
			Command: "echo",
			Input:   map[string]any{"message": 42},
		})
		gt.False(t, res.Success)
		gt.S(t, res.Error).Contains("invalid arguments")
	})
}

func TestToolErrorIsFailedResult(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.NewInProcess()
	gt.NoError(t, err)
	rt := agent.New(repo, agent.WithRetryInterval(0))

	client, installed, err := mcp.Install(ctx, rt, &mcp.Config{Servers: []mcp.ServerConfig{
		{Name: "calendar", Transport: "stdio", Command: []string{"go", "run", "./testdata/stdio/main.go"}},
	}})
	gt.NoError(t, err)
	defer client.Close()
	gt.A(t, installed).Length(1)

	res := rt.Execute(ctx, installed[0], agent.Context{
		Command: "free_slots",
		Input:   map[string]any{"day": "friday"},
	})
	gt.False(t, res.Success)
	gt.S(t, res.Error).Contains("calendar locked on friday")

	res = rt.Execute(ctx, installed[0], agent.Context{
		Command: "free_slots",
		Input:   map[string]any{"day": "tuesday"},
	})
	gt.True(t, res.Success)
	gt.Equal(t, res.Data["message"], any("tuesday: 10:00-12:00 free"))
}
