package domain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
)

// PhaseResult is the outcome of running one phase.
type PhaseResult struct {
	PhaseID    string              `json:"phase_id"`
	WorkflowID string              `json:"workflow_id"`
	Outputs    map[string]any      `json:"outputs"`
	State      binding.State       `json:"-"`
	Steps      []toolstep.ToolStep `json:"steps"`
	FailedStep int                 `json:"failed_step"`
}

// Orchestrator runs chain phases. It holds no per-run state.
type Orchestrator struct {
	resolver WorkflowResolver
	executor *toolstep.Executor
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator. resolver may be nil when every phase embeds its
// workflow.
func NewOrchestrator(resolver WorkflowResolver, executor *toolstep.Executor, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		executor: executor,
		logger:   logger,
	}
}

// ResolveWorkflow returns the phase's sub-workflow, loading and caching it on the phase
// when only a reference is set.
func (o *Orchestrator) ResolveWorkflow(ctx context.Context, phase *Phase) (*SubWorkflow, error) {
	if phase.Workflow != nil {
		return phase.Workflow, nil
	}
	if o.resolver == nil {
		return nil, fmt.Errorf("%w: %s (no workflow resolver configured)", ErrWorkflowNotFound, phase.WorkflowRef)
	}

	wf, err := o.resolver.ResolveWorkflow(ctx, phase.WorkflowRef)
	if err != nil {
		return nil, fmt.Errorf("phase %s: %w", phase.ID, err)
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("phase %s: %w", phase.ID, err)
	}
	resolved := wf.Clone()
	phase.Workflow = &resolved
	return phase.Workflow, nil
}

// RunPhase executes the phase's sub-workflow against a slice of chainState holding only
// its declared inputs, then projects the declared outputs back through OutputsMapping.
// chainState is never modified; on success PhaseResult.State is the new chain state.
func (o *Orchestrator) RunPhase(ctx context.Context, phase *Phase, chainState binding.State, hooks toolstep.Hooks) (PhaseResult, error) {
	result := PhaseResult{PhaseID: phase.ID, FailedStep: -1, State: chainState}

	wf, err := o.ResolveWorkflow(ctx, phase)
	if err != nil {
		return result, err
	}
	result.WorkflowID = wf.ID

	local, err := phaseInputs(phase, wf, chainState)
	if err != nil {
		return result, err
	}

	o.logger.Debug("Running phase",
		"phase_id", phase.ID,
		"workflow_id", wf.ID,
		"steps", len(wf.Steps),
		"inputs", len(wf.Inputs))

	run := o.executor.RunSteps(ctx, toolstep.Normalize(wf.Steps), 0, local, hooks)
	result.Steps = run.Steps
	if run.Err != nil {
		result.FailedStep = run.FailedIndex
		return result, run.Err
	}

	result.Outputs = make(map[string]any, len(wf.Outputs))
	for _, out := range wf.Outputs {
		if v, ok := run.State.Get(out.Name); ok && v.HasValue() {
			result.Outputs[out.Name] = binding.DeepCopy(v.Value)
		}
	}

	projection := make(binding.Mappings, len(phase.OutputsMapping))
	for local, chainVar := range phase.OutputsMapping {
		projection[local] = binding.AssetField{StateAsset: chainVar}
	}
	next, err := binding.ApplyResults(projection, result.Outputs, chainState)
	if err != nil {
		return result, fmt.Errorf("phase %s: %w", phase.ID, err)
	}
	result.State = next
	return result, nil
}

// phaseInputs builds the sub-workflow state: declared inputs valued from the chain state,
// plus declared outputs without values so their schema is kept.
func phaseInputs(phase *Phase, wf *SubWorkflow, chainState binding.State) (binding.State, error) {
	local := make(binding.State, len(wf.Inputs)+len(wf.Outputs))
	for _, out := range wf.Outputs {
		asset := out.Clone()
		asset.Value = nil
		asset.Role = binding.RoleOutput
		local[asset.Name] = asset
	}
	for _, in := range wf.Inputs {
		asset := in.Clone()
		asset.Role = binding.RoleInput

		chainVar := phase.ChainVariable(in.Name)
		if v, ok := chainState.Get(chainVar); ok && v.HasValue() {
			asset.Value = binding.DeepCopy(v.Value)
		} else if !asset.HasValue() && in.Required {
			return nil, &binding.UnresolvedAssetError{Asset: chainVar, Parameter: in.Name}
		}
		local[asset.Name] = asset
	}
	return local, nil
}
