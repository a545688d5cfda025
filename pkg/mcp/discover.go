package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tidwall/gjson"

	"github.com/grinbot/grinbot/pkg/config"
	"github.com/grinbot/grinbot/pkg/logger"
)

// Server pairs a client with the timeouts from its config entry.
type Server struct {
	Client         *Client
	StartupTimeout time.Duration
	CallTimeout    time.Duration
}

// Servers builds one Server per enabled config entry.
func Servers(cfgs []config.MCPServerConfig) []Server {
	out := make([]Server, 0, len(cfgs))
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		out = append(out, ServerFor(cfg, NewClient(cfg)))
	}
	return out
}

// ServerFor applies cfg's timeouts, falling back to the defaults.
func ServerFor(cfg config.MCPServerConfig, c *Client) Server {
	return Server{
		Client:         c,
		StartupTimeout: orDefault(cfg.StartupTimeout.Std(), DefaultStartupTimeout),
		CallTimeout:    orDefault(cfg.CallTimeout.Std(), DefaultCallTimeout),
	}
}

// RemoteTool is one tool discovered on a server.
type RemoteTool struct {
	LocalName   string
	RemoteName  string
	Server      string
	Description string
	// Params are the input schema's property names, sorted.
	Params []string

	schema  map[string]any
	client  *Client
	timeout time.Duration
}

// Call converts input to arguments and invokes the remote tool.
func (t RemoteTool) Call(ctx context.Context, input string) (string, error) {
	args, err := ArgumentsFromInput(input, t.schema)
	if err != nil {
		return "", err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.client.CallTool(ctx, t.RemoteName, args)
}

// PromptDescription is the catalog text, with a hint on how to phrase input.
func (t RemoteTool) PromptDescription() string {
	switch len(t.Params) {
	case 0:
		return t.Description + " Input is always None."
	case 1:
		return fmt.Sprintf("%s Input is the %s.", t.Description, t.Params[0])
	}
	return fmt.Sprintf("%s Input is a JSON object with keys %s.", t.Description, strings.Join(t.Params, ", "))
}

// Discover lists tools on every server. Failing servers are skipped and
// their errors joined; the tools of healthy servers are still returned.
func Discover(ctx context.Context, servers []Server) ([]RemoteTool, error) {
	used := make(map[string]bool)
	var (
		out  []RemoteTool
		errs []error
	)
	for _, srv := range servers {
		found, err := discoverServer(ctx, srv, used)
		if err != nil {
			logger.WarnCF("mcp", "Server discovery failed",
				map[string]any{"server": srv.Client.Name(), "error": err.Error()})
			errs = append(errs, fmt.Errorf("mcp server %q discovery failed: %w", srv.Client.Name(), err))
			continue
		}
		logger.InfoCF("mcp", "Server tools discovered",
			map[string]any{"server": srv.Client.Name(), "tools": len(found)})
		out = append(out, found...)
	}
	return out, errors.Join(errs...)
}

func discoverServer(ctx context.Context, srv Server, used map[string]bool) ([]RemoteTool, error) {
	connectCtx, cancel := context.WithTimeout(ctx, srv.StartupTimeout)
	defer cancel()

	listed, err := srv.Client.ListTools(connectCtx)
	if err != nil {
		return nil, err
	}

	server := srv.Client.Name()
	out := make([]RemoteTool, 0, len(listed))
	for _, rt := range listed {
		if rt == nil || strings.TrimSpace(rt.Name) == "" {
			continue
		}
		schema := normalizeSchema(rt.InputSchema)
		out = append(out, RemoteTool{
			LocalName:   uniqueName(QualifiedToolName(server, rt.Name), used),
			RemoteName:  rt.Name,
			Server:      server,
			Description: describe(server, rt),
			Params:      schemaParams(schema),
			schema:      schema,
			client:      srv.Client,
			timeout:     srv.CallTimeout,
		})
	}
	return out, nil
}

func describe(server string, rt *sdkmcp.Tool) string {
	desc := strings.TrimSpace(rt.Description)
	if desc == "" {
		desc = fmt.Sprintf("Calls %q.", rt.Name)
	}
	return fmt.Sprintf("[%s/%s] %s", server, rt.Name, strings.Join(strings.Fields(desc), " "))
}

// ArgumentsFromInput turns a free-text tool input into call arguments. A
// JSON object passes through. Otherwise a schema with exactly one property
// receives the whole input as that property, coerced to its declared type.
func ArgumentsFromInput(input string, schema map[string]any) (map[string]any, error) {
	input = strings.TrimSpace(input)
	if input == "" || strings.EqualFold(input, "none") {
		return map[string]any{}, nil
	}
	if gjson.Valid(input) && gjson.Parse(input).IsObject() {
		var args map[string]any
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		return args, nil
	}

	params := schemaParams(schema)
	if len(params) != 1 {
		return nil, fmt.Errorf("input must be a JSON object with keys %s", strings.Join(params, ", "))
	}
	name := params[0]
	value, err := coerce(input, propertyType(schema, name))
	if err != nil {
		return nil, fmt.Errorf("argument %q: %w", name, err)
	}
	return map[string]any{name: value}, nil
}

func coerce(input, typ string) (any, error) {
	switch typ {
	case "integer":
		return strconv.ParseInt(input, 10, 64)
	case "number":
		return strconv.ParseFloat(input, 64)
	case "boolean":
		return strconv.ParseBool(input)
	}
	return strings.Trim(input, `"`), nil
}

func normalizeSchema(schema any) map[string]any {
	out := map[string]any{}
	if schema != nil {
		if m, ok := schema.(map[string]any); ok {
			out = m
		} else if data, err := json.Marshal(schema); err == nil {
			_ = json.Unmarshal(data, &out)
		}
	}
	if out == nil {
		out = map[string]any{}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

func schemaParams(schema map[string]any) []string {
	props, _ := schema["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func propertyType(schema map[string]any, name string) string {
	props, _ := schema["properties"].(map[string]any)
	prop, _ := props[name].(map[string]any)
	typ, _ := prop["type"].(string)
	return typ
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
