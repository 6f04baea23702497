package toolstep

import (
	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a tool step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ToolStep is one tool invocation with mapped inputs and outputs.
type ToolStep struct {
	ID               string           `json:"id" yaml:"id"`
	ToolID           string           `json:"tool_id" yaml:"tool_id"`
	Description      string           `json:"description,omitempty" yaml:"description,omitempty"`
	ParameterMapping binding.Mappings `json:"parameter_mapping" yaml:"parameter_mapping"`
	ResultMapping    binding.Mappings `json:"result_mapping" yaml:"result_mapping"`
	Status           Status           `json:"status" yaml:"status,omitempty"`
	Error            string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// New creates a pending step with a generated identifier.
func New(toolID, description string, params, results binding.Mappings) ToolStep {
	return ToolStep{
		ID:               uuid.NewString(),
		ToolID:           toolID,
		Description:      description,
		ParameterMapping: params,
		ResultMapping:    results,
		Status:           StatusPending,
	}
}

// Reset puts the step back to pending.
func (s *ToolStep) Reset() {
	s.Status = StatusPending
	s.Error = ""
}

// Clone copies the step and its mappings.
func (s ToolStep) Clone() ToolStep {
	out := s
	out.ParameterMapping = s.ParameterMapping.Clone()
	out.ResultMapping = s.ResultMapping.Clone()
	return out
}

// CloneAll copies a list of steps.
func CloneAll(steps []ToolStep) []ToolStep {
	if steps == nil {
		return nil
	}
	out := make([]ToolStep, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

// Normalize fills identifiers and statuses of freshly authored steps.
func Normalize(steps []ToolStep) []ToolStep {
	out := CloneAll(steps)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
		if out[i].Status == "" {
			out[i].Status = StatusPending
		}
		if out[i].ParameterMapping == nil {
			out[i].ParameterMapping = binding.Mappings{}
		}
		if out[i].ResultMapping == nil {
			out[i].ResultMapping = binding.Mappings{}
		}
	}
	return out
}
