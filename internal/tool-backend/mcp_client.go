package toolbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	"github.com/alex-galey/mission-mcp/pkg/config"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const clientName = "mission-mcp"

// MCPBackend invokes tools hosted by a remote MCP server.
// The connection is opened on first use and reused afterwards.
type MCPBackend struct {
	cfg    config.BackendConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *client.Client
}

// NewMCPBackend creates a backend for an MCP tool server reached over stdio or SSE.
func NewMCPBackend(cfg config.BackendConfig, logger *slog.Logger) *MCPBackend {
	return &MCPBackend{
		cfg:    cfg,
		logger: logger,
	}
}

func (b *MCPBackend) connect(ctx context.Context) (*client.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return b.client, nil
	}

	var (
		c   *client.Client
		err error
	)
	switch b.cfg.Type {
	case config.BackendMCPStdio:
		b.logger.Info("Starting MCP tool server", "command", b.cfg.Command, "args", b.cfg.Args)
		c, err = client.NewStdioMCPClient(b.cfg.Command, b.cfg.Env, b.cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to start MCP tool server: %w", err)
		}
	case config.BackendMCPSSE:
		b.logger.Info("Connecting to MCP tool server", "url", b.cfg.URL)
		c, err = client.NewSSEMCPClient(b.cfg.URL, transport.WithHeaders(b.cfg.Headers))
		if err != nil {
			return nil, fmt.Errorf("failed to create MCP client: %w", err)
		}
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to connect to MCP tool server: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported MCP backend type: %s", b.cfg.Type)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: "dev"}

	initCtx, cancel := b.withTimeout(ctx)
	defer cancel()
	info, err := c.Initialize(initCtx, initReq)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	b.logger.Info("MCP tool server connected",
		"server", info.ServerInfo.Name,
		"version", info.ServerInfo.Version)

	b.client = c
	return c, nil
}

// drop forgets a client whose session failed so the next call reconnects.
func (b *MCPBackend) drop(c *client.Client, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != c {
		return
	}
	b.logger.Warn("Dropping MCP tool server session", "error", cause)
	_ = c.Close()
	b.client = nil
}

func (b *MCPBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, b.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (b *MCPBackend) Invoke(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
	c, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolID
	req.Params.Arguments = inputs

	callCtx, cancel := b.withTimeout(ctx)
	defer cancel()

	started := time.Now()
	res, err := c.CallTool(callCtx, req)
	if err != nil {
		b.drop(c, err)
		return nil, fmt.Errorf("call to %s failed: %w", toolID, err)
	}

	b.logger.Debug("MCP tool call completed",
		"tool_id", toolID,
		"duration", time.Since(started),
		"is_error", res.IsError)

	return ParseCallResult(res), nil
}

func (b *MCPBackend) ListTools(ctx context.Context) ([]toolstep.ToolSpec, error) {
	c, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	listCtx, cancel := b.withTimeout(ctx)
	defer cancel()

	res, err := c.ListTools(listCtx, mcp.ListToolsRequest{})
	if err != nil {
		b.drop(c, err)
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	specs := make([]toolstep.ToolSpec, 0, len(res.Tools))
	for _, t := range res.Tools {
		params := make([]string, 0, len(t.InputSchema.Properties))
		for name := range t.InputSchema.Properties {
			params = append(params, name)
		}
		specs = append(specs, toolstep.ToolSpec{
			ID:          t.Name,
			Description: t.Description,
			Parameters:  params,
			Required:    t.InputSchema.Required,
		})
	}
	return specs, nil
}

// Close terminates the session with the tool server.
func (b *MCPBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

// ParseCallResult converts an MCP tool result into step outputs.
// Structured content wins; otherwise a JSON object in the text content is used, and
// plain text is exposed under the "text" output.
func ParseCallResult(res *mcp.CallToolResult) *toolstep.Result {
	text := collectText(res.Content)

	if res.IsError {
		if text == "" {
			text = "tool returned an error"
		}
		return &toolstep.Result{Success: false, Error: text}
	}

	if res.StructuredContent != nil {
		if outputs, ok := toObject(res.StructuredContent); ok {
			return &toolstep.Result{Success: true, Outputs: outputs}
		}
	}

	var outputs map[string]any
	if err := json.Unmarshal([]byte(text), &outputs); err == nil && outputs != nil {
		return &toolstep.Result{Success: true, Outputs: outputs}
	}

	return &toolstep.Result{Success: true, Outputs: map[string]any{"text": text}}
}

func collectText(contents []mcp.Content) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func toObject(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return m, m != nil
}
