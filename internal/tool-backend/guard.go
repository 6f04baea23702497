package toolbackend

import (
	"context"
	"strings"

	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
)

// GuardedBackend refuses tools whose id contains one of the blocked patterns.
type GuardedBackend struct {
	next    toolstep.Backend
	blocked []string
}

func NewGuardedBackend(next toolstep.Backend, blocked []string) *GuardedBackend {
	return &GuardedBackend{next: next, blocked: blocked}
}

// ValidateTool checks the tool id against the blocked patterns.
func (g *GuardedBackend) ValidateTool(toolID string) error {
	for _, pattern := range g.blocked {
		if pattern != "" && strings.Contains(toolID, pattern) {
			return &BlockedToolError{ToolID: toolID, Pattern: pattern}
		}
	}
	return nil
}

func (g *GuardedBackend) Invoke(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
	if err := g.ValidateTool(toolID); err != nil {
		return nil, err
	}
	return g.next.Invoke(ctx, toolID, inputs)
}
