package server

import (
	"log/slog"

	plugins "github.com/alex-galey/mission-mcp/internal/server-plugin/application"
	"github.com/alex-galey/mission-mcp/pkg/config"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/fx"
)

// Version is overridden at build time through -ldflags.
var Version = "dev"

// NewMCPServerInstance creates a new MCP server instance.
func NewMCPServerInstance(cfg *config.ServerConfig, logger *slog.Logger) *server.MCPServer {
	logger.Debug("Creating MCP server instance", "version", Version)
	return server.NewMCPServer(
		"Mission MCP Server",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithLogging(),
	)
}

var Module = fx.Module("server",
	fx.Provide(
		NewMCPServerInstance,
		plugins.NewServerPluginRegistry,
		func(registry *plugins.ServerPluginRegistry) ActiveServerPluginProvider { return registry },
		NewMCPAdapter,
	),
	fx.Invoke(registerServerHooks),
)
