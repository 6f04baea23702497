package mission

import (
	"context"
	"fmt"
	"sort"
	"strings"

	serverDomain "github.com/alex-galey/mission-mcp/internal/server-plugin/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/domain"
	"github.com/mark3labs/mcp-go/mcp"
)

// GetPrompts returns the planning prompts.
func (p *MissionServerPlugin) GetPrompts(ctx context.Context) ([]serverDomain.Prompt, error) {
	return []serverDomain.Prompt{
		{
			Name:        "plan_next_hop",
			Description: "Plan the next hop of a mission from its goal, assets and history",
			Builder:     buildPlanNextHopPrompt,
			Handler:     p.handlePlanNextHopPrompt,
		},
	}, nil
}

func buildPlanNextHopPrompt() mcp.Prompt {
	return mcp.NewPrompt(
		"plan_next_hop",
		mcp.WithPromptDescription("Plan the next hop of a mission from its goal, assets and history"),
		mcp.WithArgument("mission_id",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Identifier of the mission to plan for"),
		),
	)
}

func (p *MissionServerPlugin) handlePlanNextHopPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	missionID := req.Params.Arguments["mission_id"]
	if missionID == "" {
		return nil, fmt.Errorf("mission_id parameter is required")
	}

	rec, err := p.service.GetMission(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("mission %s: %w", missionID, err)
	}

	return &mcp.GetPromptResult{
		Description: "Plan the next hop of " + rec.Name,
		Messages: []mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(renderPlanningPrompt(rec))),
		},
	}, nil
}

func renderPlanningPrompt(rec domain.MissionRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Plan the next hop of the mission %q (id %s, status %s).\n\n", rec.Name, rec.ID, rec.Status)
	if rec.Goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", rec.Goal)
	}
	if len(rec.SuccessCriteria) > 0 {
		b.WriteString("Success criteria:\n")
		for _, c := range rec.SuccessCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	b.WriteString("\nMission assets:\n")
	for _, a := range rec.Assets {
		state := "missing"
		if a.HasValue() {
			state = "available"
		}
		fmt.Fprintf(&b, "- %s (%s, %s, %s)\n", a.ID, a.Role, a.Schema.Type, state)
	}

	if len(rec.HopHistory) > 0 {
		b.WriteString("\nResolved hops:\n")
		for i, h := range rec.HopHistory {
			fmt.Fprintf(&b, "%d. %s: produced %s\n", i+1, h.Name, strings.Join(mappedAssets(h.OutputMapping), ", "))
		}
	}

	if rec.CurrentHop != nil {
		fmt.Fprintf(&b, "\nA hop is already active: %s (%s). Finish, retry or fail it before planning another.\n",
			rec.CurrentHop.Name, rec.CurrentHop.Status)
		return b.String()
	}

	b.WriteString("\nPropose one hop with propose_hop. Map available mission assets as inputs, " +
		"produce at least one missing output, and set is_final when the hop completes the goal. " +
		"Then attach tool steps with accept_hop_implementation and run them with start_hop_execution.\n")
	return b.String()
}

func mappedAssets(mapping map[string]string) []string {
	out := make([]string, 0, len(mapping))
	for _, assetID := range mapping {
		out = append(out, assetID)
	}
	sort.Strings(out)
	return out
}
