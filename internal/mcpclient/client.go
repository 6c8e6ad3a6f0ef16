package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
)

// Client owns one external tool server's connection and exposes every tool
// the server advertises as an ordinary toolkit.Tool, so the registry can
// treat a locally-implemented tool and a remotely-hosted one identically.
type Client struct {
	cfg       ServerConfig
	transport transport
	logger    *slog.Logger
}

// NewClient validates cfg and selects the matching transport. It does not
// connect; call Connect to start the process or mark the endpoint ready.
func NewClient(cfg ServerConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var tr transport
	switch cfg.Transport {
	case TransportStdio:
		tr = newStdioTransport(cfg, logger)
	case TransportHTTP:
		tr = newHTTPTransport(cfg, logger)
	}
	return &Client{cfg: cfg, transport: tr, logger: logger}, nil
}

// Connect starts the transport, lists the server's tools, and returns one
// toolkit.Tool per advertised tool. The caller registers these onto a
// toolkit.Registry alongside the built-in set.
func (c *Client) Connect(ctx context.Context) ([]toolkit.Tool, error) {
	if err := c.transport.Connect(ctx); err != nil {
		return nil, fmt.Errorf("mcpclient: connect %s: %w", c.cfg.ID, err)
	}

	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		c.transport.Close()
		return nil, fmt.Errorf("mcpclient: list tools on %s: %w", c.cfg.ID, err)
	}

	var listing struct {
		Tools []toolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(result, &listing); err != nil {
		c.transport.Close()
		return nil, fmt.Errorf("mcpclient: decode tool list from %s: %w", c.cfg.ID, err)
	}

	tools := make([]toolkit.Tool, 0, len(listing.Tools))
	for _, d := range listing.Tools {
		tools = append(tools, &remoteTool{client: c, desc: d})
	}
	return tools, nil
}

// Close releases the underlying transport (kills a stdio subprocess,
// marks an HTTP transport disconnected).
func (c *Client) Close() error { return c.transport.Close() }

// remoteTool adapts one server-advertised tool to toolkit.Tool. Invalid
// arguments are the server's to validate; any transport-level failure
// becomes an error ToolResult tagged ExternalProcess so the model sees a
// short, actionable brief rather than a bare Go error.
type remoteTool struct {
	client *Client
	desc   toolDescriptor
}

func (r *remoteTool) Name() string        { return r.desc.Name }
func (r *remoteTool) Description() string { return r.desc.Description }

func (r *remoteTool) ParameterSchema() json.RawMessage {
	if len(r.desc.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return r.desc.InputSchema
}

func (r *remoteTool) Execute(ctx context.Context, argsJSON json.RawMessage) (toolkit.ToolResult, error) {
	params := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}{Name: r.desc.Name, Arguments: argsJSON}

	result, err := r.client.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return toolkit.ToolResult{
			Content:   fmt.Sprintf("external tool %q failed: %v", r.desc.Name, err),
			IsError:   true,
			ErrorType: toolkit.ErrorExternalProcess,
		}, nil
	}

	var out struct {
		Content string `json:"content"`
		IsError bool   `json:"isError"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return toolkit.ToolResult{Content: string(result)}, nil
	}
	return toolkit.ToolResult{Content: out.Content, IsError: out.IsError}, nil
}
