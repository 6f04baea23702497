package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alex-galey/mission-mcp/internal/server-plugin/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugin/instrumentation"
	"github.com/alex-galey/mission-mcp/internal/shared/metrics"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ActiveServerPluginProvider provides access to the active plugins only
type ActiveServerPluginProvider interface {
	GetActiveServerPlugins() []domain.ServerPlugin
}

// MCPAdapter registers plugin capabilities with the MCP server
type MCPAdapter struct {
	registry  ActiveServerPluginProvider
	mcpServer *server.MCPServer
	collector metrics.Collector
	logger    *slog.Logger
}

func NewMCPAdapter(registry ActiveServerPluginProvider, mcpServer *server.MCPServer, collector metrics.Collector, logger *slog.Logger) *MCPAdapter {
	return &MCPAdapter{
		registry:  registry,
		mcpServer: mcpServer,
		collector: collector,
		logger:    logger,
	}
}

// Notify broadcasts a notification to every connected client.
func (a *MCPAdapter) Notify(method string, params map[string]any) {
	a.mcpServer.SendNotificationToAllClients(method, params)
}

// RegisterAllServerPlugins registers all active plugins with the MCP server
func (a *MCPAdapter) RegisterAllServerPlugins(ctx context.Context) error {
	a.logger.Info("Registering all plugins with MCP server")

	for _, plugin := range a.registry.GetActiveServerPlugins() {
		if err := a.RegisterServerPlugin(ctx, plugin); err != nil {
			return fmt.Errorf("failed to register plugin %s: %w", plugin.ID(), err)
		}
	}

	a.logger.Info("All plugins registered successfully")
	return nil
}

// RegisterServerPlugin registers a single server plugin with the MCP server
func (a *MCPAdapter) RegisterServerPlugin(ctx context.Context, plugin domain.ServerPlugin) error {
	if notifier, ok := plugin.(domain.Notifier); ok {
		notifier.AttachNotifier(a)
	}
	if provider, ok := plugin.(domain.ResourceProvider); ok {
		if err := a.registerResources(ctx, provider); err != nil {
			return err
		}
	}
	if provider, ok := plugin.(domain.ResourceTemplateProvider); ok {
		if err := a.registerResourceTemplates(ctx, provider); err != nil {
			return err
		}
	}
	if provider, ok := plugin.(domain.ToolProvider); ok {
		if err := a.registerTools(ctx, provider); err != nil {
			return err
		}
	}
	if provider, ok := plugin.(domain.PromptProvider); ok {
		if err := a.registerPrompts(ctx, provider); err != nil {
			return err
		}
	}

	a.logger.Debug("ServerPlugin registered with MCP server", "server-plugin", plugin.ID())
	return nil
}

func (a *MCPAdapter) registerResources(ctx context.Context, provider domain.ResourceProvider) error {
	resources, err := provider.GetResources(ctx)
	if err != nil {
		return fmt.Errorf("failed to get resources: %w", err)
	}
	for _, resource := range resources {
		mcpResource := mcp.NewResource(
			resource.URI,
			resource.Name,
			mcp.WithResourceDescription(resource.Description),
			mcp.WithMIMEType(resource.MIMEType),
		)
		a.mcpServer.AddResource(mcpResource, resource.Handler)
		a.logger.Debug("Resource registered",
			"plugin", provider.ID(),
			"resource", resource.Name,
			"uri", resource.URI)
	}
	return nil
}

func (a *MCPAdapter) registerResourceTemplates(ctx context.Context, provider domain.ResourceTemplateProvider) error {
	templates, err := provider.GetResourceTemplates(ctx)
	if err != nil {
		return fmt.Errorf("failed to get resource templates: %w", err)
	}
	for _, tmpl := range templates {
		mcpTemplate := mcp.NewResourceTemplate(
			tmpl.URITemplate,
			tmpl.Name,
			mcp.WithTemplateDescription(tmpl.Description),
			mcp.WithTemplateMIMEType(tmpl.MIMEType),
		)
		a.mcpServer.AddResourceTemplate(mcpTemplate, tmpl.Handler)
		a.logger.Debug("Resource template registered",
			"plugin", provider.ID(),
			"template", tmpl.URITemplate)
	}
	return nil
}

func (a *MCPAdapter) registerTools(ctx context.Context, provider domain.ToolProvider) error {
	tools, err := provider.GetTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to get tools: %w", err)
	}
	for _, tool := range tools {
		wrapped := instrumentation.WrapTool(tool, provider.ID(), a.collector, a.logger)
		a.mcpServer.AddTool(wrapped.Builder(), wrapped.Handler)
		a.logger.Debug("Tool registered",
			"plugin", provider.ID(),
			"tool", tool.Name)
	}
	return nil
}

func (a *MCPAdapter) registerPrompts(ctx context.Context, provider domain.PromptProvider) error {
	prompts, err := provider.GetPrompts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get prompts: %w", err)
	}
	for _, prompt := range prompts {
		a.mcpServer.AddPrompt(prompt.Builder(), prompt.Handler)
		a.logger.Debug("Prompt registered",
			"plugin", provider.ID(),
			"prompt", prompt.Name)
	}
	return nil
}
