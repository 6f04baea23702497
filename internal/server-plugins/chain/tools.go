package chain

import (
	"context"
	"errors"
	"fmt"

	mcpserver "github.com/alex-galey/mission-mcp/internal/server"
	serverDomain "github.com/alex-galey/mission-mcp/internal/server-plugin/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain/domain"
	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	codeNotFound   = "not_found"
	codeNotRunning = "job_not_running"
)

// GetTools returns the chain command surface.
func (p *ChainServerPlugin) GetTools(ctx context.Context) ([]serverDomain.Tool, error) {
	return []serverDomain.Tool{
		{Name: "execute_workflow_chain", Description: "Run a phase chain as a background job", Builder: buildExecuteChainTool, Handler: p.handleExecuteChain},
		{Name: "cancel_execution", Description: "Cancel a running chain job", Builder: buildCancelTool, Handler: p.handleCancel},
		{Name: "get_job_status", Description: "Read the status of a chain job", Builder: buildJobStatusTool, Handler: p.handleJobStatus},
		{Name: "get_job_events", Description: "Read the events of a chain job", Builder: buildJobEventsTool, Handler: p.handleJobEvents},
		{Name: "list_workflow_chains", Description: "List chain definitions", Builder: buildListChainsTool, Handler: p.handleListChains},
	}, nil
}

func sessionIDParam() mcp.ToolOption {
	return mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session id returned by execute_workflow_chain"),
	)
}

func buildExecuteChainTool() mcp.Tool {
	return mcp.NewTool("execute_workflow_chain",
		mcp.WithDescription("Run a chain of phases. Each phase runs a sub-workflow of tool steps and maps its outputs into the chain state. "+
			"Progress is pushed as "+WorkflowEventMethod+" notifications and kept for get_job_events."),
		mcp.WithString("chain_id",
			mcp.Description("Id of a known chain, see list_workflow_chains"),
		),
		mcp.WithObject("chain",
			mcp.Description("Inline chain {id, name, description?, state: [assets], phases: [{id, label, workflow_ref | workflow, inputs_mapping?, outputs_mapping}]}"),
		),
		mcp.WithObject("inputs",
			mcp.Description("Initial values of chain variables, by name"),
		),
		mcp.WithBoolean("register",
			mcp.Description("Keep an inline chain so later runs can use its chain_id"),
			mcp.DefaultBool(false),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Block until the job has finished and return its final status"),
			mcp.DefaultBool(false),
		),
	)
}

func buildCancelTool() mcp.Tool {
	return mcp.NewTool("cancel_execution",
		mcp.WithDescription("Cancel a running job. A tool call in flight completes, nothing after it starts."),
		sessionIDParam(),
	)
}

func buildJobStatusTool() mcp.Tool {
	return mcp.NewTool("get_job_status",
		mcp.WithDescription("Read a job's status, position, progress and chain state snapshot"),
		mcp.WithReadOnlyHintAnnotation(true),
		sessionIDParam(),
	)
}

func buildJobEventsTool() mcp.Tool {
	return mcp.NewTool("get_job_events",
		mcp.WithDescription("Read a job's events in order, optionally only those after a sequence number"),
		mcp.WithReadOnlyHintAnnotation(true),
		sessionIDParam(),
		mcp.WithNumber("after_sequence",
			mcp.Description("Only return events with a greater sequence number"),
		),
	)
}

func buildListChainsTool() mcp.Tool {
	return mcp.NewTool("list_workflow_chains",
		mcp.WithDescription("List the chain definitions that can be executed by id"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func errorCode(err error) string {
	if domain.IsNotFound(err) {
		return codeNotFound
	}
	return binding.ErrorCode(err)
}

func failure(err error) *mcp.CallToolResult {
	return mcpserver.FromError(err, errorCode(err))
}

func jobLinks(sessionID string, running bool) []mcpserver.ToolLink {
	params := map[string]any{"session_id": sessionID}
	links := []mcpserver.ToolLink{
		{Rel: "status", Tool: "get_job_status", Params: params},
		{Rel: "events", Tool: "get_job_events", Params: params},
	}
	if running {
		links = append(links, mcpserver.ToolLink{Rel: "cancel", Tool: "cancel_execution", Params: params})
	}
	return links
}

func (p *ChainServerPlugin) handleExecuteChain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		ChainID  string                     `json:"chain_id"`
		Chain    *domain.AgentWorkflowChain `json:"chain"`
		Inputs   map[string]any             `json:"inputs"`
		Register bool                       `json:"register"`
		Wait     bool                       `json:"wait"`
	}
	if err := req.BindArguments(&args); err != nil {
		return mcpserver.InvalidArgument(err), nil
	}

	var chain domain.AgentWorkflowChain
	switch {
	case args.Chain != nil:
		chain = *args.Chain
		if args.Register {
			if err := p.definitions.Register(chain); err != nil {
				return failure(err), nil
			}
		}
	case args.ChainID != "":
		found, err := p.definitions.GetChain(ctx, args.ChainID)
		if err != nil {
			return failure(err), nil
		}
		chain = *found
	default:
		return mcpserver.InvalidArgument(errors.New("either chain_id or chain is required")), nil
	}

	sessionID, stream, err := p.runner.ExecuteWorkflowChain(ctx, chain, args.Inputs)
	if err != nil {
		return failure(err), nil
	}

	if !args.Wait {
		p.forward(stream)
		return mcpserver.OK(fmt.Sprintf("Chain '%s' started", chain.ID), map[string]any{
			"session_id": sessionID,
			"chain_id":   chain.ID,
			"status":     domain.JobStatusRunning,
		}, jobLinks(sessionID, true)...), nil
	}

	p.drain(stream)
	job, err := p.runner.Tracker().Get(sessionID)
	if err != nil {
		return failure(err), nil
	}
	return jobResult(job), nil
}

// jobResult renders a finished job. Failed and cancelled jobs are partial results: the
// chain state keeps the outputs of the phases that completed.
func jobResult(job domain.Job) *mcp.CallToolResult {
	data := map[string]any{"session_id": job.ID, "job": job}
	switch job.Status {
	case domain.JobStatusCompleted:
		return mcpserver.OK(fmt.Sprintf("Chain '%s' completed", job.ChainID), data, jobLinks(job.ID, false)...)
	case domain.JobStatusRunning:
		return mcpserver.OK(fmt.Sprintf("Chain '%s' is running", job.ChainID), data, jobLinks(job.ID, true)...)
	default:
		code := job.ErrorCode
		if code == "" {
			code = binding.CodeInternal
		}
		return mcpserver.NewResult(mcpserver.ToolResponse{
			Status:  mcpserver.ToolStatusPartial,
			Code:    code,
			Message: job.Error,
			Data:    data,
			Links:   jobLinks(job.ID, false),
		})
	}
}

type sessionArgs struct {
	SessionID     string `json:"session_id"`
	AfterSequence int    `json:"after_sequence"`
}

func bindSession(req mcp.CallToolRequest) (sessionArgs, error) {
	var args sessionArgs
	if err := req.BindArguments(&args); err != nil {
		return args, err
	}
	if args.SessionID == "" {
		return args, errors.New("session_id is required")
	}
	return args, nil
}

func (p *ChainServerPlugin) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := bindSession(req)
	if err != nil {
		return mcpserver.InvalidArgument(err), nil
	}

	if p.runner.CancelJob(args.SessionID) {
		return mcpserver.OK("Cancellation requested", map[string]any{
			"session_id": args.SessionID,
			"cancelled":  true,
		}, jobLinks(args.SessionID, false)...), nil
	}

	job, err := p.runner.Tracker().Get(args.SessionID)
	if err != nil {
		return failure(err), nil
	}
	return mcpserver.Error(codeNotRunning,
		fmt.Sprintf("Job %s is already %s", job.ID, job.Status),
		"Only running jobs can be cancelled",
		map[string]any{"session_id": job.ID, "cancelled": false, "status": job.Status},
	), nil
}

func (p *ChainServerPlugin) handleJobStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := bindSession(req)
	if err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	job, err := p.runner.Tracker().Get(args.SessionID)
	if err != nil {
		return failure(err), nil
	}
	return mcpserver.OK(fmt.Sprintf("Job %s is %s", job.ID, job.Status), job, jobLinks(job.ID, job.Status == domain.JobStatusRunning)...), nil
}

func (p *ChainServerPlugin) handleJobEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := bindSession(req)
	if err != nil {
		return mcpserver.InvalidArgument(err), nil
	}
	events, err := p.runner.Tracker().Events(args.SessionID, args.AfterSequence)
	if err != nil {
		return failure(err), nil
	}
	return mcpserver.OK(fmt.Sprintf("%d events", len(events)), map[string]any{
		"session_id": args.SessionID,
		"events":     events,
	}), nil
}

func (p *ChainServerPlugin) handleListChains(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chains, err := p.definitions.ListChains(ctx)
	if err != nil {
		return failure(err), nil
	}
	return mcpserver.OK(fmt.Sprintf("%d chains", len(chains)), map[string]any{
		"chains": summarizeChains(chains),
	}), nil
}
