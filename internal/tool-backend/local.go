package toolbackend

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
)

// ToolFunc is an in-process tool implementation.
type ToolFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

type localTool struct {
	spec toolstep.ToolSpec
	fn   ToolFunc
}

// LocalBackend runs tools registered as Go functions.
type LocalBackend struct {
	tools  map[string]localTool
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewLocalBackend creates a backend with the builtin tools registered.
func NewLocalBackend(logger *slog.Logger) *LocalBackend {
	b := &LocalBackend{
		tools:  make(map[string]localTool),
		logger: logger,
	}
	b.registerBuiltins()
	return b
}

// Register adds or replaces a tool.
func (b *LocalBackend) Register(spec toolstep.ToolSpec, fn ToolFunc) error {
	if spec.ID == "" {
		return fmt.Errorf("tool id cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("tool %s has no implementation", spec.ID)
	}

	b.mu.Lock()
	b.tools[spec.ID] = localTool{spec: spec, fn: fn}
	b.mu.Unlock()

	b.logger.Debug("Local tool registered", "tool_id", spec.ID)
	return nil
}

func (b *LocalBackend) Invoke(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
	b.mu.RLock()
	tool, ok := b.tools[toolID]
	b.mu.RUnlock()

	if !ok {
		return nil, &ToolNotFoundError{ToolID: toolID}
	}

	outputs, err := tool.fn(ctx, inputs)
	if err != nil {
		return &toolstep.Result{Success: false, Error: err.Error()}, nil
	}
	if outputs == nil {
		outputs = map[string]any{}
	}
	return &toolstep.Result{Success: true, Outputs: outputs}, nil
}

func (b *LocalBackend) ListTools(ctx context.Context) ([]toolstep.ToolSpec, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	specs := make([]toolstep.ToolSpec, 0, len(b.tools))
	for _, t := range b.tools {
		specs = append(specs, t.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs, nil
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

func (b *LocalBackend) registerBuiltins() {
	_ = b.Register(toolstep.ToolSpec{
		ID:          "echo",
		Description: "Returns its inputs unchanged as outputs",
	}, func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(inputs))
		for k, v := range inputs {
			out[k] = v
		}
		return out, nil
	})

	_ = b.Register(toolstep.ToolSpec{
		ID:          "render_template",
		Description: "Replaces {{name}} placeholders in template with the other inputs",
		Parameters:  []string{"template"},
		Required:    []string{"template"},
	}, func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		tmpl, ok := inputs["template"].(string)
		if !ok {
			return nil, fmt.Errorf("template must be a string")
		}
		text := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
			name := placeholderPattern.FindStringSubmatch(match)[1]
			if v, ok := inputs[name]; ok && v != nil {
				return fmt.Sprint(v)
			}
			return ""
		})
		return map[string]any{"text": text}, nil
	})

	_ = b.Register(toolstep.ToolSpec{
		ID:          "merge_objects",
		Description: "Merges every object input into a single result object, later keys win",
	}, func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		keys := make([]string, 0, len(inputs))
		for k := range inputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		merged := map[string]any{}
		for _, k := range keys {
			obj, ok := inputs[k].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("input %s is not an object", k)
			}
			for kk, vv := range obj {
				merged[kk] = vv
			}
		}
		return map[string]any{"result": merged}, nil
	})
}
