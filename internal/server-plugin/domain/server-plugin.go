package domain

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerPlugin is the unit of capability exposed through the MCP server.
type ServerPlugin interface {
	ID() string
	Name() string
	Description() string
	Version() string
}

// ResourceProvider defines plugins that can provide resources
type ResourceProvider interface {
	ServerPlugin
	GetResources(ctx context.Context) ([]Resource, error)
}

// ResourceTemplateProvider defines plugins that expose parameterized resources
type ResourceTemplateProvider interface {
	ServerPlugin
	GetResourceTemplates(ctx context.Context) ([]ResourceTemplate, error)
}

// ToolProvider defines plugins that can provide tools
type ToolProvider interface {
	ServerPlugin
	GetTools(ctx context.Context) ([]Tool, error)
}

// PromptProvider defines plugins that can provide prompts
type PromptProvider interface {
	ServerPlugin
	GetPrompts(ctx context.Context) ([]Prompt, error)
}

// NotificationSink is handed to plugins that push events to connected clients.
type NotificationSink interface {
	Notify(method string, params map[string]any)
}

// Notifier defines plugins that emit notifications
type Notifier interface {
	ServerPlugin
	AttachNotifier(sink NotificationSink)
}

// Resource represents a plugin resource capability
type Resource struct {
	URI         string
	Name        string
	Description string
	MIMEType    string
	Handler     ResourceHandler
}

// ResourceTemplate is a resource addressed by an RFC 6570 URI template
type ResourceTemplate struct {
	URITemplate string
	Name        string
	Description string
	MIMEType    string
	Handler     ResourceTemplateHandler
}

// Tool represents a plugin tool capability
type Tool struct {
	Name        string
	Description string
	Builder     func() mcp.Tool
	Handler     ToolHandler
}

// Prompt represents a plugin prompt capability
type Prompt struct {
	Name        string
	Description string
	Builder     func() mcp.Prompt
	Handler     PromptHandler
}

type ResourceHandler = server.ResourceHandlerFunc
type ResourceTemplateHandler = server.ResourceTemplateHandlerFunc
type ToolHandler = server.ToolHandlerFunc
type PromptHandler = server.PromptHandlerFunc
