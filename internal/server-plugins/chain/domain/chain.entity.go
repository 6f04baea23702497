package domain

import (
	"context"
	"fmt"

	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
)

// SubWorkflow is the ordered step sequence run by one phase.
type SubWorkflow struct {
	ID          string              `json:"id" yaml:"id"`
	Name        string              `json:"name" yaml:"name"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      []binding.Asset     `json:"inputs" yaml:"inputs"`
	Outputs     []binding.Asset     `json:"outputs" yaml:"outputs"`
	Steps       []toolstep.ToolStep `json:"steps" yaml:"steps"`
}

// Phase runs one sub-workflow against a slice of the chain state.
// InputsMapping maps sub-workflow input names to chain variables and defaults to the same
// name. OutputsMapping maps sub-workflow output names to chain variables.
type Phase struct {
	ID             string            `json:"id" yaml:"id"`
	Label          string            `json:"label" yaml:"label"`
	WorkflowRef    string            `json:"workflow_ref,omitempty" yaml:"workflow_ref,omitempty"`
	Workflow       *SubWorkflow      `json:"workflow,omitempty" yaml:"workflow,omitempty"`
	InputsMapping  map[string]string `json:"inputs_mapping,omitempty" yaml:"inputs_mapping,omitempty"`
	OutputsMapping map[string]string `json:"outputs_mapping" yaml:"outputs_mapping"`
}

// DisplayName returns the label, falling back to the id.
func (p Phase) DisplayName() string {
	if p.Label != "" {
		return p.Label
	}
	return p.ID
}

// ChainVariable returns the chain variable feeding a sub-workflow input.
func (p Phase) ChainVariable(input string) string {
	if v, ok := p.InputsMapping[input]; ok && v != "" {
		return v
	}
	return input
}

// AgentWorkflowChain is an ordered list of phases sharing a flat chain state.
type AgentWorkflowChain struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Phases      []Phase         `json:"phases" yaml:"phases"`
	State       []binding.Asset `json:"state" yaml:"state"`
}

// WorkflowResolver loads sub-workflows referenced by phases.
type WorkflowResolver interface {
	ResolveWorkflow(ctx context.Context, ref string) (*SubWorkflow, error)
}

// ChainProvider lists the chain definitions known to the server.
type ChainProvider interface {
	ListChains(ctx context.Context) ([]AgentWorkflowChain, error)
	GetChain(ctx context.Context, id string) (*AgentWorkflowChain, error)
}

// Validate checks the chain structure. Sub-workflows that are only referenced are checked
// when they are resolved.
func (c *AgentWorkflowChain) Validate() error {
	if c.ID == "" {
		return &binding.ValidationError{Field: "chain.id", Reason: "chain id is required"}
	}
	if len(c.Phases) == 0 {
		return &binding.ValidationError{Field: "chain.phases", Reason: "a chain needs at least one phase"}
	}

	names := make(map[string]bool, len(c.State))
	for i, v := range c.State {
		if v.Name == "" {
			return &binding.ValidationError{Field: fmt.Sprintf("chain.state[%d].name", i), Reason: "variable name is required"}
		}
		if names[v.Name] {
			return &binding.ValidationError{Field: fmt.Sprintf("chain.state[%d].name", i), Reason: fmt.Sprintf("duplicate variable %q", v.Name)}
		}
		names[v.Name] = true
	}

	phases := make(map[string]bool, len(c.Phases))
	for i, p := range c.Phases {
		field := fmt.Sprintf("chain.phases[%d]", i)
		if p.ID == "" {
			return &binding.ValidationError{Field: field + ".id", Reason: "phase id is required"}
		}
		if phases[p.ID] {
			return &binding.ValidationError{Field: field + ".id", Reason: fmt.Sprintf("duplicate phase %q", p.ID)}
		}
		phases[p.ID] = true

		if p.Workflow == nil && p.WorkflowRef == "" {
			return &binding.ValidationError{Field: field, Reason: "either workflow or workflow_ref is required"}
		}
		if p.Workflow != nil {
			if err := p.Workflow.Validate(); err != nil {
				return fmt.Errorf("%s: %w", field, err)
			}
		}
		for local, chainVar := range p.OutputsMapping {
			if local == "" || chainVar == "" {
				return &binding.ValidationError{Field: field + ".outputs_mapping", Reason: "mapping names cannot be empty"}
			}
		}
	}
	return nil
}

// Validate checks the sub-workflow structure.
func (w *SubWorkflow) Validate() error {
	if w.ID == "" {
		return &binding.ValidationError{Field: "workflow.id", Reason: "workflow id is required"}
	}
	if len(w.Steps) == 0 {
		return &binding.ValidationError{Field: "workflow.steps", Reason: fmt.Sprintf("workflow %s has no steps", w.ID)}
	}
	for i, in := range w.Inputs {
		if in.Name == "" {
			return &binding.ValidationError{Field: fmt.Sprintf("workflow.inputs[%d].name", i), Reason: "input name is required"}
		}
	}
	for i, out := range w.Outputs {
		if out.Name == "" {
			return &binding.ValidationError{Field: fmt.Sprintf("workflow.outputs[%d].name", i), Reason: "output name is required"}
		}
	}
	return toolstep.Validate(context.Background(), nil, w.Steps)
}

// Clone copies the chain so a run can resolve workflows without touching the definition.
func (c AgentWorkflowChain) Clone() AgentWorkflowChain {
	out := c
	out.State = make([]binding.Asset, len(c.State))
	for i, v := range c.State {
		out.State[i] = v.Clone()
	}
	out.Phases = make([]Phase, len(c.Phases))
	for i, p := range c.Phases {
		cp := p
		if p.Workflow != nil {
			wf := p.Workflow.Clone()
			cp.Workflow = &wf
		}
		out.Phases[i] = cp
	}
	return out
}

// Clone copies the sub-workflow and its steps.
func (w SubWorkflow) Clone() SubWorkflow {
	out := w
	out.Inputs = cloneAssets(w.Inputs)
	out.Outputs = cloneAssets(w.Outputs)
	out.Steps = toolstep.Normalize(w.Steps)
	return out
}

func cloneAssets(in []binding.Asset) []binding.Asset {
	if in == nil {
		return nil
	}
	out := make([]binding.Asset, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}
