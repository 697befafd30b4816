package mcp

import (
	"context"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lifeops/lifeops/pkg/agent"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Slug returns the registry slug of the agent fronting an MCP server
func Slug(server string) string {
	return "mcp-" + server
}

// Agent exposes the tools of one MCP server as agent commands. The command selects the
// tool and the context input is passed as tool arguments.
type Agent struct {
	client  *Client
	config  ServerConfig
	tools   map[string]*mcp.Tool
	schemas map[string]*jsonschema.Resolved
}

var _ agent.Agent = (*Agent)(nil)

// Agent builds the agent for a connected server
func (c *Client) Agent(ctx context.Context, name string) (*Agent, error) {
	cfg, ok := c.serverConfig(name)
	if !ok {
		return nil, goerr.New("server not found", goerr.V("name", name))
	}
	tools, err := c.Tools(name)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		client:  c,
		config:  cfg,
		tools:   make(map[string]*mcp.Tool, len(tools)),
		schemas: make(map[string]*jsonschema.Resolved),
	}
	for _, t := range tools {
		a.tools[t.Name] = t

		resolved, err := resolveInputSchema(t)
		if err != nil {
			// Arguments of this tool go unchecked; the server still validates them
			logging.From(ctx).Warn("failed to resolve tool input schema",
				"server", name, "tool", t.Name, "error", err)
			continue
		}
		if resolved != nil {
			a.schemas[t.Name] = resolved
		}
	}
	return a, nil
}

// Descriptor is the registry manifest: one capability per server tool
func (a *Agent) Descriptor() model.AgentDescriptor {
	desc := model.AgentDescriptor{
		Slug:        Slug(a.config.Name),
		Name:        "MCP " + a.config.Name,
		Description: a.config.Description,
		Version:     "1.0.0",
		Metadata: map[string]any{
			"transport": a.config.Transport,
		},
	}
	if desc.Description == "" {
		desc.Description = "Tools served by MCP server " + a.config.Name
	}
	if a.config.Priority != nil || a.config.Enabled != nil {
		desc.Config = &model.AgentConfigPatch{
			Priority: a.config.Priority,
			Enabled:  a.config.Enabled,
		}
	}

	for _, name := range a.client.toolNames(a.config.Name) {
		desc.Capabilities = append(desc.Capabilities, model.Capability{
			Name:        name,
			Description: a.tools[name].Description,
		})
	}
	return desc
}

func (a *Agent) Execute(ctx context.Context, input *agent.Context) (*agent.Result, error) {
	if _, ok := a.tools[input.Command]; !ok {
		return agent.Fail("Unknown command: %s", input.Command), nil
	}

	args := input.Input
	if args == nil {
		args = map[string]any{}
	}
	if schema, ok := a.schemas[input.Command]; ok {
		if err := schema.Validate(args); err != nil {
			return agent.Fail("invalid arguments for %s: %v", input.Command, err), nil
		}
	}

	result, err := a.client.CallTool(ctx, a.config.Name, input.Command, args)
	if err != nil {
		return nil, err
	}

	text := contentText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return agent.Fail("%s: %s", input.Command, text), nil
	}

	data := map[string]any{
		"tool":    input.Command,
		"message": text,
	}
	if result.StructuredContent != nil {
		data["structured"] = result.StructuredContent
	}
	return agent.Succeed(data), nil
}

func contentText(contents []mcp.Content) string {
	var parts []string
	for _, c := range contents {
		if t, ok := c.(*mcp.TextContent); ok && t.Text != "" {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (c *Client) toolNames(server string) []string {
	srv, ok := c.servers[server]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(srv.tools))
	for _, t := range srv.tools {
		names = append(names, t.Name)
	}
	return names
}

// Install connects every configured server and installs one agent per server into the
// runtime. A server that fails to connect is skipped with a warning.
func Install(ctx context.Context, rt *agent.Runtime, cfg *Config) (*Client, []*model.Agent, error) {
	logger := logging.From(ctx)
	client := NewClient()

	var installed []*model.Agent
	for _, serverCfg := range cfg.Servers {
		if err := client.Connect(ctx, serverCfg); err != nil {
			logger.Warn("failed to connect to MCP server", "server", serverCfg.Name, "error", err)
			continue
		}

		a, err := client.Agent(ctx, serverCfg.Name)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}

		record, err := rt.Install(ctx, a.Descriptor(), a)
		if err != nil {
			_ = client.Close()
			return nil, nil, goerr.Wrap(err, "failed to install MCP agent", goerr.V("server", serverCfg.Name))
		}
		logger.Info("connected to MCP server", "server", serverCfg.Name, "tools", len(record.Capabilities))
		installed = append(installed, record)
	}

	return client, installed, nil
}
