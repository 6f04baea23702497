package toolstep

import (
	"context"
	"fmt"

	"github.com/alex-galey/mission-mcp/internal/shared/binding"
)

// Result is what a tool backend returns for one invocation.
type Result struct {
	Success bool           `json:"success"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Backend invokes tools. Calls may block until the tool completes or ctx is done.
type Backend interface {
	Invoke(ctx context.Context, toolID string, inputs map[string]any) (*Result, error)
}

// ToolSpec describes a tool known to the backend.
type ToolSpec struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Parameters  []string `json:"parameters,omitempty"`
	Required    []string `json:"required,omitempty"`
}

// Catalog lists the tools a backend can run.
type Catalog interface {
	ListTools(ctx context.Context) ([]ToolSpec, error)
}

// Validate checks the structure of authored steps and, when a catalog is given, that each
// tool exists and all of its required parameters are mapped.
func Validate(ctx context.Context, catalog Catalog, steps []ToolStep) error {
	var specs map[string]ToolSpec
	if catalog != nil {
		tools, err := catalog.ListTools(ctx)
		if err != nil {
			return fmt.Errorf("failed to list tools: %w", err)
		}
		specs = make(map[string]ToolSpec, len(tools))
		for _, t := range tools {
			specs[t.ID] = t
		}
	}

	for i, step := range steps {
		if step.ToolID == "" {
			return &binding.ValidationError{Field: fmt.Sprintf("steps[%d].tool_id", i), Reason: "tool id is required"}
		}

		var required []string
		if specs != nil {
			spec, ok := specs[step.ToolID]
			if !ok {
				return &binding.ValidationError{Field: fmt.Sprintf("steps[%d].tool_id", i), Reason: fmt.Sprintf("unknown tool %q", step.ToolID)}
			}
			required = spec.Required
		}

		if err := step.ParameterMapping.ValidateParameters(required); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if err := step.ResultMapping.ValidateResults(nil); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}
