// Package mcp exposes tools served over the Model Context Protocol as
// agent tools. Every call opens its own session; servers are not kept
// running between calls.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/grinbot/grinbot/pkg/config"
)

const (
	DefaultStartupTimeout = 8 * time.Second
	DefaultCallTimeout    = 30 * time.Second
	terminateWait         = time.Second

	clientVersion = "v0.1.0"
)

// TransportFactory opens a fresh transport for one session.
type TransportFactory func(ctx context.Context) (sdkmcp.Transport, error)

// Client talks to one configured server.
type Client struct {
	cfg       config.MCPServerConfig
	client    *sdkmcp.Client
	transport TransportFactory
}

type Option func(*Client)

// WithTransport replaces the transport derived from the server config.
func WithTransport(f TransportFactory) Option {
	return func(c *Client) { c.transport = f }
}

func NewClient(cfg config.MCPServerConfig, opts ...Option) *Client {
	c := &Client{
		cfg: cfg,
		client: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "grinbot-" + sanitizeName(cfg.Name),
			Version: clientVersion,
		}, nil),
	}
	c.transport = func(context.Context) (sdkmcp.Transport, error) { return c.buildTransport() }
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.cfg.Name }

// ListTools pages through the server's tool list.
func (c *Client) ListTools(ctx context.Context) ([]*sdkmcp.Tool, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var all []*sdkmcp.Tool
	params := &sdkmcp.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		all = append(all, res.Tools...)
		if res.NextCursor == "" {
			return all, nil
		}
		params = &sdkmcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

// CallTool runs a remote tool and flattens the result to text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call tool %q: %w", name, err)
	}
	return formatResult(result)
}

func (c *Client) connect(ctx context.Context) (*sdkmcp.ClientSession, error) {
	transport, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %q: %w", c.cfg.Name, err)
	}
	return session, nil
}

func (c *Client) buildTransport() (sdkmcp.Transport, error) {
	kind := strings.ToLower(strings.TrimSpace(c.cfg.Transport))
	switch kind {
	case "", "command":
		command := strings.TrimSpace(c.cfg.Command)
		if command == "" {
			return nil, fmt.Errorf("mcp server %q: command is required for command transport", c.cfg.Name)
		}
		cmd := exec.Command(command, c.cfg.Args...)
		if len(c.cfg.Env) > 0 {
			cmd.Env = mergeEnv(os.Environ(), c.cfg.Env)
		}
		cmd.Stderr = os.Stderr
		return &sdkmcp.CommandTransport{Command: cmd, TerminateDuration: terminateWait}, nil
	case "streamable_http":
		endpoint, err := c.requiredURL(kind)
		if err != nil {
			return nil, err
		}
		return &sdkmcp.StreamableClientTransport{
			Endpoint:             endpoint,
			HTTPClient:           c.httpClient(),
			DisableStandaloneSSE: true,
		}, nil
	case "sse":
		endpoint, err := c.requiredURL(kind)
		if err != nil {
			return nil, err
		}
		return &sdkmcp.SSEClientTransport{Endpoint: endpoint, HTTPClient: c.httpClient()}, nil
	}
	return nil, fmt.Errorf("mcp server %q: unsupported transport %q", c.cfg.Name, c.cfg.Transport)
}

func (c *Client) requiredURL(transport string) (string, error) {
	endpoint := strings.TrimSpace(c.cfg.URL)
	if endpoint == "" {
		return "", fmt.Errorf("mcp server %q: url is required for %s transport", c.cfg.Name, transport)
	}
	return endpoint, nil
}

func (c *Client) httpClient() *http.Client {
	if len(c.cfg.Headers) == 0 {
		return http.DefaultClient
	}
	return &http.Client{Transport: &headerTransport{headers: c.cfg.Headers, base: http.DefaultTransport}}
}

func formatResult(result *sdkmcp.CallToolResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("empty MCP response")
	}

	var parts []string
	for _, block := range result.Content {
		if tc, ok := block.(*sdkmcp.TextContent); ok && strings.TrimSpace(tc.Text) != "" {
			parts = append(parts, tc.Text)
		}
	}
	if result.StructuredContent != nil && len(parts) == 0 {
		data, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return "", fmt.Errorf("marshal structured content: %w", err)
		}
		parts = append(parts, string(data))
	}

	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if result.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("remote tool error: %s", text)
	}
	if text == "" {
		return "(empty response)", nil
	}
	return text, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	merged := append([]string{}, base...)
	for _, k := range keys {
		merged = append(merged, k+"="+extra[k])
	}
	return merged
}
