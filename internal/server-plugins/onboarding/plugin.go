package onboarding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	mcpserver "github.com/alex-galey/mission-mcp/internal/server"
	serverDomain "github.com/alex-galey/mission-mcp/internal/server-plugin/domain"
	onbDomain "github.com/alex-galey/mission-mcp/internal/server-plugins/onboarding/domain"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	quickstartURI   = "onboarding://quickstart"
	capabilitiesURI = "onboarding://capabilities"
	intentMapURI    = "onboarding://intent-map"
)

// OnboardingServerPlugin provides discovery and onboarding resources
type OnboardingServerPlugin struct {
	mu       sync.RWMutex
	provider mcpserver.ActiveServerPluginProvider
	logger   *slog.Logger
}

func NewOnboardingServerPlugin(logger *slog.Logger) *OnboardingServerPlugin {
	return &OnboardingServerPlugin{logger: logger}
}

// SetProvider allows late injection to avoid Fx cycles
func (p *OnboardingServerPlugin) SetProvider(provider mcpserver.ActiveServerPluginProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provider = provider
}

// ServerPlugin interface
func (p *OnboardingServerPlugin) ID() string   { return "onboarding" }
func (p *OnboardingServerPlugin) Name() string { return "Onboarding & Discovery" }
func (p *OnboardingServerPlugin) Description() string {
	return "LLM onboarding resources and capability discovery"
}
func (p *OnboardingServerPlugin) Version() string { return "0.1.0" }

// ResourceProvider implementation
func (p *OnboardingServerPlugin) GetResources(ctx context.Context) ([]serverDomain.Resource, error) {
	return []serverDomain.Resource{
		{
			URI:         quickstartURI,
			Name:        "Quickstart",
			Description: "Start here: the mission lifecycle, workflow chains and safe usage",
			MIMEType:    "text/markdown",
			Handler:     p.handleQuickstartResource,
		},
		{
			URI:         capabilitiesURI,
			Name:        "Capabilities Index",
			Description: "Index of tools, resources and prompts of the active plugins, with examples",
			MIMEType:    "application/json",
			Handler:     p.handleCapabilitiesIndexResource,
		},
		{
			URI:         intentMapURI,
			Name:        "Intent Map",
			Description: "Mapping of common intents and synonyms to tools",
			MIMEType:    "application/json",
			Handler:     p.handleIntentMapResource,
		},
	}, nil
}

// Handlers
func (p *OnboardingServerPlugin) handleQuickstartResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	md := "# Quickstart\n\n" +
		"This MCP server drives missions: goal-directed sequences of hops, each hop a short plan of tool steps " +
		"reading and writing named variables.\n\n" +
		"## Mission flow\n" +
		"1) `create_mission` with inputs and expected outputs, then `accept_mission_proposal`\n" +
		"2) `propose_hop` with input and output mappings, then `accept_hop_proposal`\n" +
		"3) `propose_hop_implementation` with tool steps, then `accept_hop_implementation`\n" +
		"4) `start_hop_execution`. A final hop completes the mission once every output has a value\n" +
		"5) On failure: `retry_hop_execution`, or `escalate_mission` to give up\n\n" +
		"Steps bind parameters to `literal` values or `asset_field` references (`state_asset`, optional `path`) " +
		"and map results back the same way, or `discard` them.\n\n" +
		"## Workflow chains\n" +
		"`execute_workflow_chain` runs phases of sub-workflows as a background job. Follow it with " +
		"`get_job_status` and `get_job_events`, or stop it with `cancel_execution`. Known chains: `list_workflow_chains`.\n\n" +
		"## Discover & learn\n" +
		"- Goals to tools: `" + intentMapURI + "`\n" +
		"- Every tool, resource and prompt: `" + capabilitiesURI + "`\n" +
		"- Prompt `plan_next_hop` drafts the next hop of a mission\n\n" +
		"## Safety\n" +
		"- Read a mission (`get_mission`) before changing it\n" +
		"- Export a snapshot before risky retries (`export_mission_snapshot`)\n"
	return []mcp.ResourceContents{mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/markdown", Text: md}}, nil
}

// toolExamples holds copy-paste ready calls for the entry points of each flow.
var toolExamples = map[string][]onbDomain.CapabilityToolExample{
	"create_mission": {{
		Tool: "create_mission",
		Params: map[string]any{"mission": map[string]any{
			"id":     "m-notes",
			"name":   "Notes",
			"goal":   "Write notes on a topic",
			"inputs": []any{map[string]any{"id": "topic", "name": "topic", "schema": map[string]any{"type": "string"}, "value": "Go"}},
			"outputs": []any{
				map[string]any{"id": "notes", "name": "notes", "schema": map[string]any{"type": "string"}},
			},
		}},
	}},
	"execute_workflow_chain": {{
		Tool:   "execute_workflow_chain",
		Params: map[string]any{"chain_id": "research", "inputs": map[string]any{"topic": "Go"}},
	}},
}

func (p *OnboardingServerPlugin) handleCapabilitiesIndexResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	index, err := p.buildIndex(ctx)
	if err != nil {
		return nil, err
	}
	jsonData, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities index: %w", err)
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(jsonData)}}, nil
}

func (p *OnboardingServerPlugin) activePlugins() ([]serverDomain.ServerPlugin, error) {
	p.mu.RLock()
	provider := p.provider
	p.mu.RUnlock()
	if provider == nil {
		return nil, fmt.Errorf("plugin provider not initialized")
	}
	return provider.GetActiveServerPlugins(), nil
}

// buildIndex walks the active plugins. A plugin failing to list one capability kind is skipped for that kind.
func (p *OnboardingServerPlugin) buildIndex(ctx context.Context) (onbDomain.CapabilityIndex, error) {
	index := onbDomain.NewCapabilityIndex()
	active, err := p.activePlugins()
	if err != nil {
		return index, err
	}

	for _, plugin := range active {
		if tp, ok := plugin.(serverDomain.ToolProvider); ok {
			if ts, err := tp.GetTools(ctx); err == nil {
				for _, t := range ts {
					index.Tools = append(index.Tools, onbDomain.CapabilityTool{
						Plugin:      plugin.ID(),
						Name:        t.Name,
						Description: t.Description,
						Examples:    toolExamples[t.Name],
					})
				}
			} else {
				p.logger.Warn("Failed to list tools", "plugin", plugin.ID(), "error", err)
			}
		}
		if rp, ok := plugin.(serverDomain.ResourceProvider); ok {
			if rs, err := rp.GetResources(ctx); err == nil {
				for _, r := range rs {
					index.Resources = append(index.Resources, onbDomain.CapabilityResource{
						Plugin: plugin.ID(), URI: r.URI, Name: r.Name, Description: r.Description, MIMEType: r.MIMEType,
					})
				}
			}
		}
		if rtp, ok := plugin.(serverDomain.ResourceTemplateProvider); ok {
			if rts, err := rtp.GetResourceTemplates(ctx); err == nil {
				for _, r := range rts {
					index.Resources = append(index.Resources, onbDomain.CapabilityResource{
						Plugin: plugin.ID(), URI: r.URITemplate, Name: r.Name, Description: r.Description, MIMEType: r.MIMEType, Template: true,
					})
				}
			}
		}
	}

	prompts, err := p.aggregatePrompts(ctx)
	if err != nil {
		return index, err
	}
	index.Prompts = prompts.Prompts
	return index, nil
}

func (p *OnboardingServerPlugin) handleIntentMapResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	mapping := onbDomain.IntentMap{
		"start":    {Synonyms: []string{"new mission", "plan", "set a goal", "kick off"}, Tool: "create_mission", Params: []string{"mission"}},
		"next":     {Synonyms: []string{"next step", "continue", "add hop"}, Tool: "propose_hop", Params: []string{"mission_id", "hop"}},
		"run":      {Synonyms: []string{"execute", "go", "perform hop"}, Tool: "start_hop_execution", Params: []string{"mission_id", "hop_id"}},
		"retry":    {Synonyms: []string{"try again", "resume", "rerun"}, Tool: "retry_hop_execution", Params: []string{"mission_id", "hop_id"}},
		"give_up":  {Synonyms: []string{"abort mission", "escalate", "stop mission"}, Tool: "escalate_mission", Params: []string{"mission_id", "reason"}},
		"pipeline": {Synonyms: []string{"run chain", "batch", "multi-phase"}, Tool: "execute_workflow_chain", Params: []string{"chain_id", "inputs"}},
		"progress": {Synonyms: []string{"status", "how far", "job state"}, Tool: "get_job_status", Params: []string{"session_id"}},
		"stop":     {Synonyms: []string{"cancel", "kill job", "halt"}, Tool: "cancel_execution", Params: []string{"session_id"}},
		"save":     {Synonyms: []string{"export", "backup", "snapshot"}, Tool: "export_mission_snapshot", Params: []string{"mission_id"}},
	}
	jsonData, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent map: %w", err)
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(jsonData)}}, nil
}

// aggregatePrompts collects prompts across active plugins
func (p *OnboardingServerPlugin) aggregatePrompts(ctx context.Context) (onbDomain.PromptsCapabilities, error) {
	active, err := p.activePlugins()
	if err != nil {
		return onbDomain.PromptsCapabilities{}, err
	}
	prompts := make([]onbDomain.PromptMeta, 0)
	for _, plugin := range active {
		pp, ok := plugin.(serverDomain.PromptProvider)
		if !ok {
			continue
		}
		ps, err := pp.GetPrompts(ctx)
		if err == nil {
			for _, pr := range ps {
				prompts = append(prompts, onbDomain.PromptMeta{Plugin: pp.ID(), Name: pr.Name, Description: pr.Description})
			}
		}
	}
	return onbDomain.PromptsCapabilities{Version: "0.1.0", Prompts: prompts}, nil
}
