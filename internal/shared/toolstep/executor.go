package toolstep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/alex-galey/mission-mcp/internal/shared/metrics"
)

// Outcome is the result of executing one step.
type Outcome struct {
	UpdatedState binding.State
	Outputs      map[string]any
	Success      bool
	Err          error
}

// Executor runs tool steps against a backend.
type Executor struct {
	backend Backend
	metrics metrics.Collector
	logger  *slog.Logger
}

// NewExecutor creates a step executor. A nil collector disables metrics.
func NewExecutor(backend Backend, collector metrics.Collector, logger *slog.Logger) *Executor {
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	return &Executor{
		backend: backend,
		metrics: collector,
		logger:  logger,
	}
}

// Execute runs one step. On failure the returned state is the input state.
func (e *Executor) Execute(ctx context.Context, step *ToolStep, state binding.State) Outcome {
	step.Status = StatusRunning
	step.Error = ""

	fail := func(err error) Outcome {
		step.Status = StatusFailed
		step.Error = err.Error()
		e.logger.Warn("Tool step failed",
			"step_id", step.ID,
			"tool_id", step.ToolID,
			"error", err)
		return Outcome{UpdatedState: state, Success: false, Err: err}
	}

	inputs, err := binding.ResolveInputs(step.ParameterMapping, state)
	if err != nil {
		return fail(err)
	}

	e.logger.Debug("Invoking tool",
		"step_id", step.ID,
		"tool_id", step.ToolID,
		"parameters", len(inputs))

	started := time.Now()
	result, err := e.backend.Invoke(ctx, step.ToolID, inputs)
	success := err == nil && result != nil && result.Success
	e.metrics.RecordToolExecution(ctx, step.ToolID, time.Since(started), success)

	if err != nil {
		return fail(&binding.ToolInvocationError{ToolID: step.ToolID, StepID: step.ID, Err: err})
	}
	if result == nil {
		return fail(&binding.ToolInvocationError{ToolID: step.ToolID, StepID: step.ID, Err: errors.New("backend returned no result")})
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		return fail(&binding.ToolInvocationError{ToolID: step.ToolID, StepID: step.ID, Err: errors.New(msg)})
	}

	if missing := missingOutputs(step.ResultMapping, result.Outputs); len(missing) > 0 {
		received := make([]string, 0, len(result.Outputs))
		for k := range result.Outputs {
			received = append(received, k)
		}
		return fail(&binding.MalformedResultError{ToolID: step.ToolID, Missing: missing, Received: received})
	}

	next, err := binding.ApplyResults(step.ResultMapping, result.Outputs, state)
	if err != nil {
		return fail(err)
	}

	step.Status = StatusCompleted
	return Outcome{UpdatedState: next, Outputs: result.Outputs, Success: true}
}

func missingOutputs(mappings binding.Mappings, outputs map[string]any) []string {
	var missing []string
	for _, name := range mappings.Names() {
		if _, ok := mappings[name].(binding.Discard); ok {
			continue
		}
		if _, ok := outputs[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Hooks observe and gate a sequential run. A non-nil error from either hook stops the run.
type Hooks struct {
	BeforeStep func(ctx context.Context, index int, step *ToolStep) error
	AfterStep  func(ctx context.Context, index int, step *ToolStep, outcome Outcome) error
}

// RunResult summarizes a sequential run.
type RunResult struct {
	Steps       []ToolStep
	State       binding.State
	Outputs     []map[string]any
	FailedIndex int
	Err         error
}

// Succeeded reports whether every step ran to completion.
func (r RunResult) Succeeded() bool {
	return r.Err == nil
}

// ErrStopped is returned by hooks to halt a run without marking a step failed.
var ErrStopped = errors.New("execution stopped")

// RunSteps executes steps in order starting at from. The first failure halts the run;
// later steps keep their status.
func (e *Executor) RunSteps(ctx context.Context, steps []ToolStep, from int, state binding.State, hooks Hooks) RunResult {
	run := RunResult{
		Steps:       CloneAll(steps),
		State:       state,
		Outputs:     make([]map[string]any, len(steps)),
		FailedIndex: -1,
	}
	if from < 0 || from > len(steps) {
		run.Err = &binding.ValidationError{Field: "from", Reason: fmt.Sprintf("step index %d out of range", from)}
		return run
	}

	for i := from; i < len(run.Steps); i++ {
		step := &run.Steps[i]

		if err := ctx.Err(); err != nil {
			run.Err = err
			return run
		}
		if hooks.BeforeStep != nil {
			if err := hooks.BeforeStep(ctx, i, step); err != nil {
				run.Err = err
				return run
			}
		}

		outcome := e.Execute(ctx, step, run.State)

		if hooks.AfterStep != nil {
			if err := hooks.AfterStep(ctx, i, step, outcome); err != nil {
				run.Err = err
				return run
			}
		}

		if !outcome.Success {
			run.FailedIndex = i
			run.Err = outcome.Err
			return run
		}
		run.State = outcome.UpdatedState
		run.Outputs[i] = outcome.Outputs
	}
	return run
}
