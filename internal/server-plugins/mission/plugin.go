package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	mcpserver "github.com/alex-galey/mission-mcp/internal/server"
	serverDomain "github.com/alex-galey/mission-mcp/internal/server-plugin/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/application"
	"github.com/alex-galey/mission-mcp/pkg/logger"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	missionsURI       = "mission://missions"
	missionURIPrefix  = "mission://missions/"
	recentLogsURI     = "mission://logs/recent"
	defaultLogLines   = 200
	maxMissionIDBytes = 128
)

// MissionServerPlugin exposes the mission state machine as MCP tools and resources
type MissionServerPlugin struct {
	service *application.MissionService
	logs    *logger.RingBuffer
	logger  *slog.Logger
}

func NewMissionServerPlugin(service *application.MissionService, logs *logger.RingBuffer, logger *slog.Logger) *MissionServerPlugin {
	return &MissionServerPlugin{
		service: service,
		logs:    logs,
		logger:  logger,
	}
}

func (p *MissionServerPlugin) ID() string      { return "mission" }
func (p *MissionServerPlugin) Name() string    { return "Missions" }
func (p *MissionServerPlugin) Version() string { return "0.1.0" }

func (p *MissionServerPlugin) Description() string {
	return "Mission and hop lifecycle: propose, accept, implement, execute and resolve hops of tool steps"
}

// ResourceProvider implementation
func (p *MissionServerPlugin) GetResources(ctx context.Context) ([]serverDomain.Resource, error) {
	return []serverDomain.Resource{
		{
			URI:         missionsURI,
			Name:        "Mission List",
			Description: "Every known mission with its status and current hop",
			MIMEType:    "application/json",
			Handler:     p.handleMissionListResource,
		},
		{
			URI:         recentLogsURI,
			Name:        "Recent Server Logs",
			Description: "Most recent server log lines with credentials redacted",
			MIMEType:    "text/plain",
			Handler:     p.handleRecentLogsResource,
		},
	}, nil
}

// ResourceTemplateProvider implementation
func (p *MissionServerPlugin) GetResourceTemplates(ctx context.Context) ([]serverDomain.ResourceTemplate, error) {
	return []serverDomain.ResourceTemplate{
		{
			URITemplate: missionURIPrefix + "{id}",
			Name:        "Mission",
			Description: "Full record of one mission including hop history and assets",
			MIMEType:    "application/json",
			Handler:     p.handleMissionResource,
		},
		{
			URITemplate: missionURIPrefix + "{id}/history",
			Name:        "Mission Command History",
			Description: "Commands applied to one mission, oldest first",
			MIMEType:    "application/json",
			Handler:     p.handleMissionHistoryResource,
		},
	}, nil
}

type missionSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	CurrentHop string `json:"current_hop,omitempty"`
	HopStatus  string `json:"hop_status,omitempty"`
	Resolved   int    `json:"resolved_hops"`
	URI        string `json:"uri"`
}

func (p *MissionServerPlugin) handleMissionListResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	records, err := p.service.ListMissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}

	summaries := make([]missionSummary, 0, len(records))
	for _, rec := range records {
		s := missionSummary{
			ID:       rec.ID,
			Name:     rec.Name,
			Status:   string(rec.Status),
			Resolved: len(rec.HopHistory),
			URI:      missionURIPrefix + rec.ID,
		}
		if rec.CurrentHop != nil {
			s.CurrentHop = rec.CurrentHop.ID
			s.HopStatus = string(rec.CurrentHop.Status)
		}
		summaries = append(summaries, s)
	}

	return jsonContents(req.Params.URI, map[string]any{
		"missions": summaries,
		"count":    len(summaries),
	})
}

func (p *MissionServerPlugin) handleMissionResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	missionID, err := missionIDFromURI(req)
	if err != nil {
		return nil, err
	}
	rec, err := p.service.GetMission(ctx, missionID)
	if err != nil {
		p.logger.Debug("Mission resource not available", "mission_id", missionID, "error", err)
		return nil, fmt.Errorf("mission %s: %w", missionID, err)
	}
	return jsonContents(req.Params.URI, rec)
}

func (p *MissionServerPlugin) handleMissionHistoryResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	missionID, err := missionIDFromURI(req)
	if err != nil {
		return nil, err
	}
	events, err := p.service.History(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("mission %s: %w", missionID, err)
	}
	return jsonContents(req.Params.URI, map[string]any{
		"mission_id": missionID,
		"events":     events,
	})
}

func (p *MissionServerPlugin) handleRecentLogsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	lines := []string{}
	if p.logs != nil {
		lines = mcpserver.SanitizeLogLines(p.logs.GetLast(defaultLogLines, slog.LevelDebug))
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     strings.Join(lines, "\n"),
		},
	}, nil
}

// missionIDFromURI reads the {id} template variable, falling back to parsing the URI.
func missionIDFromURI(req mcp.ReadResourceRequest) (string, error) {
	var id string
	switch v := req.Params.Arguments["id"].(type) {
	case string:
		id = v
	case []string:
		if len(v) > 0 {
			id = v[0]
		}
	}
	if id == "" {
		rest := strings.TrimPrefix(req.Params.URI, missionURIPrefix)
		id, _, _ = strings.Cut(rest, "/")
	}
	if id == "" || len(id) > maxMissionIDBytes || strings.ContainsAny(id, "\t\n\r\x00") {
		return "", fmt.Errorf("invalid mission ID in %s", strconv.Quote(req.Params.URI))
	}
	return id, nil
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
