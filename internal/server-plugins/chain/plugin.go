package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	serverDomain "github.com/alex-galey/mission-mcp/internal/server-plugin/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain/infrastructure"
	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// WorkflowEventMethod is the notification method carrying chain events.
	WorkflowEventMethod = "notifications/workflow_event"

	chainsURI     = "chain://chains"
	jobsURIPrefix = "chain://jobs/"
)

// ChainServerPlugin runs phase chains as background jobs and forwards their events to
// connected clients.
type ChainServerPlugin struct {
	runner      *domain.JobRunner
	definitions *infrastructure.YAMLDefinitionProvider
	logger      *slog.Logger

	mu   sync.RWMutex
	sink serverDomain.NotificationSink
	wg   sync.WaitGroup
}

func NewChainServerPlugin(runner *domain.JobRunner, definitions *infrastructure.YAMLDefinitionProvider, logger *slog.Logger) *ChainServerPlugin {
	return &ChainServerPlugin{
		runner:      runner,
		definitions: definitions,
		logger:      logger,
	}
}

func (p *ChainServerPlugin) ID() string      { return "chain" }
func (p *ChainServerPlugin) Name() string    { return "Workflow Chains" }
func (p *ChainServerPlugin) Version() string { return "0.1.0" }

func (p *ChainServerPlugin) Description() string {
	return "Phase-chain orchestration: run multi-phase agent workflows as jobs with streamed progress events"
}

// AttachNotifier implements Notifier.
func (p *ChainServerPlugin) AttachNotifier(sink serverDomain.NotificationSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

// drain pushes every event of a session to the attached sink until the stream closes.
func (p *ChainServerPlugin) drain(stream *domain.EventStream) {
	for event := range stream.Events() {
		p.mu.RLock()
		sink := p.sink
		p.mu.RUnlock()
		if sink != nil {
			sink.Notify(WorkflowEventMethod, event.AsMap())
		}
	}
	p.logger.Debug("Event stream drained", "session_id", stream.SessionID())
}

// forward drains a session's stream in the background.
func (p *ChainServerPlugin) forward(stream *domain.EventStream) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.drain(stream)
	}()
}

// Wait blocks until every forwarded stream has been drained or ctx is done.
func (p *ChainServerPlugin) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResourceProvider implementation
func (p *ChainServerPlugin) GetResources(ctx context.Context) ([]serverDomain.Resource, error) {
	return []serverDomain.Resource{
		{
			URI:         chainsURI,
			Name:        "Workflow Chains",
			Description: "Chain definitions available to execute_workflow_chain",
			MIMEType:    "application/json",
			Handler:     p.handleChainsResource,
		},
	}, nil
}

// ResourceTemplateProvider implementation
func (p *ChainServerPlugin) GetResourceTemplates(ctx context.Context) ([]serverDomain.ResourceTemplate, error) {
	return []serverDomain.ResourceTemplate{
		{
			URITemplate: jobsURIPrefix + "{id}",
			Name:        "Chain Job",
			Description: "Status, state snapshot and event log of one chain execution",
			MIMEType:    "application/json",
			Handler:     p.handleJobResource,
		},
	}, nil
}

func (p *ChainServerPlugin) handleChainsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	chains, err := p.definitions.ListChains(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}
	return jsonContents(req.Params.URI, map[string]any{
		"chains": summarizeChains(chains),
		"count":  len(chains),
	})
}

func (p *ChainServerPlugin) handleJobResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jobID := templateVar(req, "id")
	if jobID == "" {
		jobID = strings.TrimPrefix(req.Params.URI, jobsURIPrefix)
	}
	if jobID == "" {
		return nil, fmt.Errorf("invalid job URI %q", req.Params.URI)
	}

	job, err := p.runner.Tracker().Get(jobID)
	if err != nil {
		return nil, err
	}
	events, err := p.runner.Tracker().Events(jobID, 0)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, map[string]any{
		"job":    job,
		"events": events,
	})
}

type chainSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Phases      []string `json:"phases"`
	Inputs      []string `json:"inputs"`
	Outputs     []string `json:"outputs"`
}

func summarizeChains(chains []domain.AgentWorkflowChain) []chainSummary {
	out := make([]chainSummary, 0, len(chains))
	for _, c := range chains {
		s := chainSummary{ID: c.ID, Name: c.Name, Description: c.Description, Phases: []string{}, Inputs: []string{}, Outputs: []string{}}
		for _, phase := range c.Phases {
			s.Phases = append(s.Phases, phase.DisplayName())
		}
		for _, v := range c.State {
			switch v.Role {
			case binding.RoleInput:
				s.Inputs = append(s.Inputs, v.Name)
			case binding.RoleOutput:
				s.Outputs = append(s.Outputs, v.Name)
			}
		}
		out = append(out, s)
	}
	return out
}

func templateVar(req mcp.ReadResourceRequest, name string) string {
	switch v := req.Params.Arguments[name].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
