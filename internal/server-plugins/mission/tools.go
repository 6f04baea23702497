package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpserver "github.com/alex-galey/mission-mcp/internal/server"
	serverDomain "github.com/alex-galey/mission-mcp/internal/server-plugin/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/application"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/domain"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	assetListDescription = "Assets as {id, name, schema: {type, description}, value?, role?, required?}"
	stepsDescription     = "Tool steps as {tool_id, description?, parameter_mapping, result_mapping}. " +
		"Mappings are keyed by tool parameter or result name; each value is " +
		`{"type":"literal","value":...}, {"type":"asset_field","state_asset":"name","path":"a.b"} or {"type":"discard"}`
)

// GetTools returns the mission command surface.
func (p *MissionServerPlugin) GetTools(ctx context.Context) ([]serverDomain.Tool, error) {
	return []serverDomain.Tool{
		{Name: "create_mission", Description: "Create a mission proposal", Builder: buildCreateMissionTool, Handler: p.handleCreateMission},
		{Name: "accept_mission_proposal", Description: "Accept a proposed mission", Builder: buildAcceptMissionTool, Handler: p.handleAcceptMission},
		{Name: "propose_hop", Description: "Propose the next hop of a mission", Builder: buildProposeHopTool, Handler: p.handleProposeHop},
		{Name: "accept_hop_proposal", Description: "Accept a proposed hop", Builder: buildAcceptHopTool, Handler: p.handleAcceptHop},
		{Name: "propose_hop_implementation", Description: "Attach tool steps to the current hop", Builder: buildProposeImplementationTool, Handler: p.handleProposeImplementation},
		{Name: "accept_hop_implementation", Description: "Approve the tool steps of the current hop", Builder: buildAcceptImplementationTool, Handler: p.handleAcceptImplementation},
		{Name: "start_hop_execution", Description: "Run the current hop", Builder: buildStartHopTool, Handler: p.handleStartHop},
		{Name: "fail_hop_execution", Description: "Mark the running hop as failed", Builder: buildFailHopTool, Handler: p.handleFailHop},
		{Name: "retry_hop_execution", Description: "Run a failed hop again", Builder: buildRetryHopTool, Handler: p.handleRetryHop},
		{Name: "escalate_mission", Description: "Fail a mission explicitly", Builder: buildEscalateTool, Handler: p.handleEscalate},
		{Name: "get_mission", Description: "Read a mission record", Builder: buildGetMissionTool, Handler: p.handleGetMission},
		{Name: "export_mission_snapshot", Description: "Export a mission snapshot document", Builder: buildExportSnapshotTool, Handler: p.handleExportSnapshot},
		{Name: "import_mission_snapshot", Description: "Import a mission snapshot document", Builder: buildImportSnapshotTool, Handler: p.handleImportSnapshot},
	}, nil
}

func missionIDParam() mcp.ToolOption {
	return mcp.WithString("mission_id",
		mcp.Required(),
		mcp.Description("Identifier of the mission"),
	)
}

func hopIDParam(required bool) mcp.ToolOption {
	opts := []mcp.PropertyOption{mcp.Description("Identifier of the hop")}
	if required {
		opts = append(opts, mcp.Required())
	}
	return mcp.WithString("hop_id", opts...)
}

func stepsParam(required bool) mcp.ToolOption {
	opts := []mcp.PropertyOption{
		mcp.Description(stepsDescription),
		mcp.Items(map[string]any{"type": "object"}),
	}
	if required {
		opts = append(opts, mcp.Required())
	}
	return mcp.WithArray("steps", opts...)
}

func buildCreateMissionTool() mcp.Tool {
	return mcp.NewTool("create_mission",
		mcp.WithDescription("Create a mission in PROPOSED status. The mission declares its goal and the input and output assets it works with."),
		mcp.WithObject("mission",
			mcp.Required(),
			mcp.Description("Mission {id?, name, description?, goal, success_criteria?, inputs, outputs}. "+assetListDescription),
		),
	)
}

func buildAcceptMissionTool() mcp.Tool {
	return mcp.NewTool("accept_mission_proposal",
		mcp.WithDescription("Accept a PROPOSED mission so hops can be planned"),
		missionIDParam(),
	)
}

func buildProposeHopTool() mcp.Tool {
	return mcp.NewTool("propose_hop",
		mcp.WithDescription("Propose the next hop. The hop maps mission assets into its local state and back."),
		missionIDParam(),
		mcp.WithObject("hop",
			mcp.Required(),
			mcp.Description("Hop {id?, name, description?, is_final?, input_mapping: {local: mission_asset_id}, output_mapping: {local: mission_asset_id}, state?}"),
		),
	)
}

func buildAcceptHopTool() mcp.Tool {
	return mcp.NewTool("accept_hop_proposal",
		mcp.WithDescription("Accept the proposed hop. Passing a hop object proposes and accepts it in one call."),
		missionIDParam(),
		hopIDParam(false),
		mcp.WithObject("hop",
			mcp.Description("Optional hop definition, same shape as propose_hop"),
		),
	)
}

func buildProposeImplementationTool() mcp.Tool {
	return mcp.NewTool("propose_hop_implementation",
		mcp.WithDescription("Attach tool steps to the current hop. Steps are checked against the tool catalog."),
		missionIDParam(),
		hopIDParam(true),
		stepsParam(true),
	)
}

func buildAcceptImplementationTool() mcp.Tool {
	return mcp.NewTool("accept_hop_implementation",
		mcp.WithDescription("Approve the current hop's steps. Passing steps proposes and accepts them in one call."),
		missionIDParam(),
		hopIDParam(true),
		stepsParam(false),
	)
}

func buildStartHopTool() mcp.Tool {
	return mcp.NewTool("start_hop_execution",
		mcp.WithDescription("Run the current hop's steps in order. The hop resolves when every output is produced."),
		missionIDParam(),
		hopIDParam(true),
	)
}

func buildFailHopTool() mcp.Tool {
	return mcp.NewTool("fail_hop_execution",
		mcp.WithDescription("Mark the running hop as FAILED. A step in flight completes but its result is dropped."),
		missionIDParam(),
		hopIDParam(true),
		mcp.WithString("reason",
			mcp.Required(),
			mcp.Description("Why the hop is being failed"),
		),
	)
}

func buildRetryHopTool() mcp.Tool {
	return mcp.NewTool("retry_hop_execution",
		mcp.WithDescription("Run a FAILED hop again, resuming at the failed step or restarting from its inputs"),
		missionIDParam(),
		hopIDParam(true),
		mcp.WithString("mode",
			mcp.Description("resume or restart; defaults to the server setting"),
			mcp.Enum(string(domain.RetryResume), string(domain.RetryRestart)),
		),
	)
}

func buildEscalateTool() mcp.Tool {
	return mcp.NewTool("escalate_mission",
		mcp.WithDescription("Fail the mission and keep its current hop for inspection"),
		missionIDParam(),
		mcp.WithString("reason",
			mcp.Required(),
			mcp.Description("Why the mission cannot continue"),
		),
	)
}

func buildGetMissionTool() mcp.Tool {
	return mcp.NewTool("get_mission",
		mcp.WithDescription("Read the full mission record"),
		mcp.WithReadOnlyHintAnnotation(true),
		missionIDParam(),
	)
}

func buildExportSnapshotTool() mcp.Tool {
	return mcp.NewTool("export_mission_snapshot",
		mcp.WithDescription("Export the mission and its command history as a snapshot document"),
		mcp.WithReadOnlyHintAnnotation(true),
		missionIDParam(),
	)
}

func buildImportSnapshotTool() mcp.Tool {
	return mcp.NewTool("import_mission_snapshot",
		mcp.WithDescription("Load a mission from a snapshot document. The document is validated before anything is stored."),
		mcp.WithObject("snapshot",
			mcp.Required(),
			mcp.Description("Document with currentMessages, currentStreamingMessage, collabArea, mission and payload_history"),
		),
		mcp.WithBoolean("replace",
			mcp.Description("Replace an existing mission with the same id"),
			mcp.DefaultBool(false),
		),
	)
}

type missionArgs struct {
	MissionID string `json:"mission_id"`
	HopID     string `json:"hop_id"`
	Reason    string `json:"reason"`
	Mode      string `json:"mode"`
}

func (a missionArgs) require(hop bool) error {
	if a.MissionID == "" {
		return errors.New("mission_id is required")
	}
	if hop && a.HopID == "" {
		return errors.New("hop_id is required")
	}
	return nil
}

func bindMissionArgs(req mcp.CallToolRequest, hop bool) (missionArgs, error) {
	var args missionArgs
	if err := req.BindArguments(&args); err != nil {
		return args, err
	}
	return args, args.require(hop)
}

func failure(err error) *mcp.CallToolResult {
	return mcpserver.FromError(err, application.ErrorCode(err))
}

func missionLink(rel, tool string, rec domain.MissionRecord, extra map[string]any) mcpserver.ToolLink {
	params := map[string]any{"mission_id": rec.ID}
	for k, v := range extra {
		params[k] = v
	}
	return mcpserver.ToolLink{Rel: rel, Tool: tool, Params: params}
}

func (p *MissionServerPlugin) handleCreateMission(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Mission *domain.MissionSpec `json:"mission"`
	}
	if err := req.BindArguments(&args); err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	if args.Mission == nil {
		return mcpserver.InvalidArgument(errors.New("mission is required")), nil
	}

	rec, err := p.service.CreateMission(ctx, *args.Mission)
	if err != nil {
		return failure(err), nil
	}
	return mcpserver.OK(fmt.Sprintf("Mission '%s' proposed", rec.Name), rec,
		missionLink("next", "accept_mission_proposal", rec, nil)), nil
}

func (p *MissionServerPlugin) handleAcceptMission(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := bindMissionArgs(req, false)
	if err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	rec, err := p.service.AcceptMissionProposal(ctx, args.MissionID)
	if err != nil {
		return failure(err), nil
	}
	return mcpserver.OK("Mission accepted", rec, missionLink("next", "propose_hop", rec, nil)), nil
}

func (p *MissionServerPlugin) handleProposeHop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		MissionID string          `json:"mission_id"`
		Hop       *domain.HopSpec `json:"hop"`
	}
	if err := req.BindArguments(&args); err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	if args.MissionID == "" || args.Hop == nil {
		return mcpserver.InvalidArgument(errors.New("mission_id and hop are required")), nil
	}

	rec, err := p.service.ProposeHop(ctx, args.MissionID, *args.Hop)
	if err != nil {
		return failure(err), nil
	}
	var extra map[string]any
	if rec.ProposedHop != nil {
		extra = map[string]any{"hop_id": rec.ProposedHop.ID}
	}
	return mcpserver.OK("Hop proposed", rec, missionLink("next", "accept_hop_proposal", rec, extra)), nil
}

func (p *MissionServerPlugin) handleAcceptHop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		MissionID string          `json:"mission_id"`
		HopID     string          `json:"hop_id"`
		Hop       *domain.HopSpec `json:"hop"`
	}
	if err := req.BindArguments(&args); err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	if args.MissionID == "" || (args.HopID == "" && args.Hop == nil) {
		return mcpserver.InvalidArgument(errors.New("mission_id and either hop_id or hop are required")), nil
	}

	rec, err := p.service.AcceptHopProposal(ctx, args.MissionID, args.HopID, args.Hop)
	if err != nil {
		return failure(err), nil
	}
	var extra map[string]any
	if rec.CurrentHop != nil {
		extra = map[string]any{"hop_id": rec.CurrentHop.ID}
	}
	return mcpserver.OK("Hop accepted", rec, missionLink("next", "propose_hop_implementation", rec, extra)), nil
}

func bindSteps(req mcp.CallToolRequest) (missionArgs, []toolstep.ToolStep, error) {
	var args struct {
		missionArgs
		Steps []toolstep.ToolStep `json:"steps"`
	}
	if err := req.BindArguments(&args); err != nil {
		return missionArgs{}, nil, err
	}
	return args.missionArgs, args.Steps, args.missionArgs.require(true)
}

func (p *MissionServerPlugin) handleProposeImplementation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, steps, err := bindSteps(req)
	if err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	rec, err := p.service.ProposeHopImplementation(ctx, args.MissionID, args.HopID, steps)
	if err != nil {
		return failure(err), nil
	}
	return mcpserver.OK("Implementation proposed", rec,
		missionLink("next", "accept_hop_implementation", rec, map[string]any{"hop_id": args.HopID})), nil
}

func (p *MissionServerPlugin) handleAcceptImplementation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, steps, err := bindSteps(req)
	if err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	rec, err := p.service.AcceptHopImplementation(ctx, args.MissionID, args.HopID, steps)
	if err != nil {
		return failure(err), nil
	}
	return mcpserver.OK("Implementation accepted", rec,
		missionLink("next", "start_hop_execution", rec, map[string]any{"hop_id": args.HopID})), nil
}

// executionResult renders a hop run. A failed run is a partial result: the command was
// applied, the hop did not resolve.
func executionResult(report application.ExecutionReport, hopID string) *mcp.CallToolResult {
	if report.Resolved {
		links := []mcpserver.ToolLink{}
		if report.Mission.Status == domain.MissionStatusInProgress {
			links = append(links, missionLink("next", "propose_hop", report.Mission, nil))
		}
		return mcpserver.OK("Hop resolved", report, links...)
	}

	retry := missionLink("retry", "retry_hop_execution", report.Mission, map[string]any{"hop_id": hopID})
	return mcpserver.NewResult(mcpserver.ToolResponse{
		Status:  mcpserver.ToolStatusPartial,
		Code:    report.ErrorCode,
		Message: report.Error,
		Hint:    report.Guidance,
		Data:    report,
		Links:   []mcpserver.ToolLink{retry},
	})
}

func (p *MissionServerPlugin) handleStartHop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := bindMissionArgs(req, true)
	if err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	report, err := p.service.StartHopExecution(ctx, args.MissionID, args.HopID)
	if err != nil {
		return failure(err), nil
	}
	return executionResult(report, args.HopID), nil
}

func (p *MissionServerPlugin) handleRetryHop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := bindMissionArgs(req, true)
	if err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	report, err := p.service.RetryHopExecution(ctx, args.MissionID, args.HopID, domain.RetryMode(args.Mode))
	if err != nil {
		return failure(err), nil
	}
	return executionResult(report, args.HopID), nil
}

func (p *MissionServerPlugin) handleFailHop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := bindMissionArgs(req, true)
	if err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	if args.Reason == "" {
		return mcpserver.InvalidArgument(errors.New("reason is required")), nil
	}
	rec, err := p.service.FailHopExecution(ctx, args.MissionID, args.HopID, args.Reason)
	if err != nil {
		return failure(err), nil
	}
	return mcpserver.OK("Hop failed", rec,
		missionLink("retry", "retry_hop_execution", rec, map[string]any{"hop_id": args.HopID}),
		missionLink("abort", "escalate_mission", rec, nil)), nil
}

func (p *MissionServerPlugin) handleEscalate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := bindMissionArgs(req, false)
	if err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	if args.Reason == "" {
		return mcpserver.InvalidArgument(errors.New("reason is required")), nil
	}
	rec, err := p.service.Escalate(ctx, args.MissionID, args.Reason)
	if err != nil {
		return failure(err), nil
	}
	return mcpserver.OK("Mission escalated", rec), nil
}

func (p *MissionServerPlugin) handleGetMission(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := bindMissionArgs(req, false)
	if err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	rec, err := p.service.GetMission(ctx, args.MissionID)
	if err != nil {
		return failure(err), nil
	}
	return mcpserver.OK("", rec), nil
}

func (p *MissionServerPlugin) handleExportSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := bindMissionArgs(req, false)
	if err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	data, err := p.service.ExportSnapshot(ctx, args.MissionID)
	if err != nil {
		return failure(err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (p *MissionServerPlugin) handleImportSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Snapshot json.RawMessage `json:"snapshot"`
		Replace  bool            `json:"replace"`
	}
	if err := req.BindArguments(&args); err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	if len(args.Snapshot) == 0 {
		return mcpserver.InvalidArgument(errors.New("snapshot is required")), nil
	}
	rec, err := p.service.ImportSnapshot(ctx, args.Snapshot, args.Replace)
	if err != nil {
		return failure(err), nil
	}
	return mcpserver.OK(fmt.Sprintf("Mission '%s' imported", rec.Name), rec), nil
}
