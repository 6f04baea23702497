package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/alex-galey/mission-mcp/internal/shared/metrics"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	"github.com/google/uuid"
)

// FinalAnswerVariable is the chain variable preferred as a run's final answer.
const FinalAnswerVariable = "final_answer"

// JobRunner executes chains as jobs. It owns the job tracker; jobs started asynchronously
// live until Shutdown.
type JobRunner struct {
	orchestrator *Orchestrator
	tracker      *JobTracker
	collector    metrics.Collector
	bufferSize   int
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewJobRunner creates a runner. bufferSize is the per-session event buffer.
func NewJobRunner(orchestrator *Orchestrator, tracker *JobTracker, collector metrics.Collector, bufferSize int, logger *slog.Logger) *JobRunner {
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobRunner{
		orchestrator: orchestrator,
		tracker:      tracker,
		collector:    collector,
		bufferSize:   bufferSize,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Tracker exposes the job registry for status queries.
func (r *JobRunner) Tracker() *JobTracker {
	return r.tracker
}

// ExecuteWorkflowChain validates the chain, registers a job and runs it in the background.
// The returned stream carries the session's events and is closed when the run ends; the
// caller must drain it.
func (r *JobRunner) ExecuteWorkflowChain(ctx context.Context, chain AgentWorkflowChain, inputs map[string]any) (string, *EventStream, error) {
	if err := chain.Validate(); err != nil {
		return "", nil, err
	}
	if err := r.ctx.Err(); err != nil {
		return "", nil, fmt.Errorf("job runner is stopped: %w", err)
	}

	sessionID := uuid.NewString()
	state := seedState(chain, inputs)
	if err := r.tracker.Track(sessionID, chain.ID, state); err != nil {
		return "", nil, err
	}

	stream := NewEventStream(sessionID, r.bufferSize)
	go func() {
		defer stream.Close()
		r.run(r.ctx, sessionID, chain.Clone(), state, stream)
	}()

	r.logger.Info("Workflow chain started",
		"session_id", sessionID,
		"chain_id", chain.ID,
		"phases", len(chain.Phases))
	return sessionID, stream, nil
}

// RunJob runs a chain to its end on the calling goroutine.
func (r *JobRunner) RunJob(ctx context.Context, cfg JobConfig) JobResult {
	jobID := cfg.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	fail := func(err error) JobResult {
		return JobResult{JobID: jobID, Status: JobStatusFailed, Error: err.Error(), Err: err}
	}

	if err := cfg.Chain.Validate(); err != nil {
		return fail(err)
	}
	state := seedState(cfg.Chain, cfg.Inputs)
	if err := r.tracker.Track(jobID, cfg.Chain.ID, state); err != nil {
		return fail(err)
	}
	if cfg.Stream != nil {
		defer cfg.Stream.Close()
	}
	return r.run(ctx, jobID, cfg.Chain.Clone(), state, cfg.Stream)
}

// CancelJob flips a running job to cancelled. It returns false for unknown or finished jobs.
func (r *JobRunner) CancelJob(jobID string) bool {
	cancelled := r.tracker.Cancel(jobID)
	if cancelled {
		r.logger.Info("Job cancellation requested", "job_id", jobID)
	}
	return cancelled
}

// Shutdown cancels every job still running and stops the tracker.
func (r *JobRunner) Shutdown(ctx context.Context) error {
	for _, job := range r.tracker.List() {
		if job.Status == JobStatusRunning {
			r.tracker.Cancel(job.ID)
		}
	}
	r.cancel()
	return r.tracker.Shutdown(ctx)
}

// jobRun carries the per-run bookkeeping: the next event sequence and the progress units.
type jobRun struct {
	runner   *JobRunner
	jobID    string
	chain    AgentWorkflowChain
	stream   *EventStream
	sequence int
	progress float64
}

func (r *JobRunner) run(ctx context.Context, jobID string, chain AgentWorkflowChain, state binding.State, stream *EventStream) JobResult {
	started := time.Now()
	jr := &jobRun{runner: r, jobID: jobID, chain: chain, stream: stream}
	result := JobResult{JobID: jobID, PhaseOutputs: map[string]map[string]any{}}

	finish := func(status JobStatus, err error) JobResult {
		result.Status = status
		result.State = state.Assets()
		if err != nil {
			result.Err = err
			result.Error = err.Error()
		}
		_ = r.tracker.ReplaceState(jobID, state)
		r.collector.RecordJob(ctx, chain.ID, string(status), time.Since(started))
		return result
	}

	abort := func(phase string, err error) JobResult {
		cancelled := binding.IsCancellationError(err) || errors.Is(err, context.Canceled)
		if cancelled {
			r.tracker.Cancel(jobID)
		} else if !r.tracker.Finish(jobID, JobStatusFailed, binding.ErrorCode(err), err.Error()) {
			cancelled = true
		}

		status := JobStatusFailed
		if cancelled {
			status = JobStatusCancelled
			err = &binding.CancellationError{JobID: jobID}
			result.Cancelled = true
			result.Reason = binding.CodeCancelled
		}
		r.logger.Warn("Workflow chain halted",
			"job_id", jobID,
			"chain_id", chain.ID,
			"phase", phase,
			"status", status,
			"error", err)
		jr.emit(ctx, EventError, EventStatus{Phase: phase, Progress: jr.progress, CurrentSteps: []string{}, Error: err.Error()})
		return finish(status, err)
	}

	for i := range chain.Phases {
		phase := &chain.Phases[i]
		name := phase.DisplayName()

		if !r.tracker.IsRunning(jobID) {
			return abort(name, &binding.CancellationError{JobID: jobID})
		}

		wf, err := r.orchestrator.ResolveWorkflow(ctx, phase)
		if err != nil {
			return abort(name, err)
		}
		_ = r.tracker.UpdateProgress(jobID, i, name, 0, jr.progress)
		jr.emit(ctx, EventStatusUpdate, EventStatus{Phase: name, Progress: jr.progress, CurrentSteps: stepNames(wf.Steps)})

		phaseResult, err := r.orchestrator.RunPhase(ctx, phase, state, jr.hooks(i, name, len(wf.Steps)))
		if err != nil {
			return abort(name, err)
		}

		state = phaseResult.State
		_ = r.tracker.ReplaceState(jobID, state)
		result.PhaseOutputs[phase.ID] = phaseResult.Outputs

		jr.progress = jr.phaseProgress(i+1, 0, 1)
		_ = r.tracker.UpdateProgress(jobID, i, name, len(wf.Steps), jr.progress)
		jr.emit(ctx, EventPhaseComplete, EventStatus{
			Phase:        name,
			Progress:     jr.progress,
			CurrentSteps: []string{},
			Results:      phaseResult.Outputs,
		})

		r.logger.Debug("Phase completed",
			"job_id", jobID,
			"phase_id", phase.ID,
			"outputs", len(phaseResult.Outputs))
	}

	if !r.tracker.Finish(jobID, JobStatusCompleted, "", "") {
		return abort(lastPhase(chain), &binding.CancellationError{JobID: jobID})
	}

	result.Results = state.Values()
	result.FinalAnswer = FinalAnswer(chain, state)
	jr.progress = 100
	jr.emit(ctx, EventWorkflowComplete, EventStatus{
		Phase:        lastPhase(chain),
		Progress:     jr.progress,
		CurrentSteps: []string{},
		Results:      result.Results,
		FinalAnswer:  result.FinalAnswer,
	})

	r.logger.Info("Workflow chain completed",
		"job_id", jobID,
		"chain_id", chain.ID,
		"duration", time.Since(started))
	return finish(JobStatusCompleted, nil)
}

// hooks gate each step on the job still running and report progress after each success.
func (jr *jobRun) hooks(phaseIndex int, phase string, steps int) toolstep.Hooks {
	return toolstep.Hooks{
		BeforeStep: func(ctx context.Context, index int, step *toolstep.ToolStep) error {
			if !jr.runner.tracker.IsRunning(jr.jobID) {
				return &binding.CancellationError{JobID: jr.jobID}
			}
			return nil
		},
		AfterStep: func(ctx context.Context, index int, step *toolstep.ToolStep, outcome toolstep.Outcome) error {
			if !outcome.Success {
				return nil
			}
			jr.progress = jr.phaseProgress(phaseIndex, index+1, steps)
			_ = jr.runner.tracker.UpdateProgress(jr.jobID, phaseIndex, phase, index+1, jr.progress)
			jr.emit(ctx, EventStatusUpdate, EventStatus{
				Phase:        phase,
				Progress:     jr.progress,
				CurrentSteps: []string{stepName(*step)},
				Results:      outcome.Outputs,
			})
			return nil
		},
	}
}

// phaseProgress counts each phase as one unit, credited step by step.
func (jr *jobRun) phaseProgress(completedPhases, completedSteps, steps int) float64 {
	total := len(jr.chain.Phases)
	if total == 0 {
		return 100
	}
	units := float64(completedPhases)
	if steps > 0 {
		units += float64(completedSteps) / float64(steps)
	}
	p := units / float64(total) * 100
	if p > 100 {
		p = 100
	}
	if p < jr.progress {
		return jr.progress
	}
	return p
}

// emit logs the event on the job and publishes it on the stream when there is one.
func (jr *jobRun) emit(ctx context.Context, kind EventType, status EventStatus) {
	jr.sequence++
	event := Event{
		Type:      kind,
		SessionID: jr.jobID,
		Sequence:  jr.sequence,
		Timestamp: time.Now().UTC(),
		Status:    status,
	}
	_ = jr.runner.tracker.AppendEvent(jr.jobID, event)

	if jr.stream == nil {
		return
	}
	if err := jr.stream.Publish(ctx, event); err != nil {
		jr.runner.logger.Warn("Event stream closed before delivery",
			"session_id", jr.jobID,
			"sequence", event.Sequence,
			"error", err)
		jr.stream = nil
	}
}

// FinalAnswer picks the chain's final answer: the final_answer variable when valued,
// otherwise the last declared output variable holding a value.
func FinalAnswer(chain AgentWorkflowChain, state binding.State) any {
	if v, ok := state.Get(FinalAnswerVariable); ok && v.HasValue() {
		return binding.DeepCopy(v.Value)
	}
	var answer any
	for _, declared := range chain.State {
		if declared.Role != binding.RoleOutput {
			continue
		}
		if v, ok := state.Get(declared.Name); ok && v.HasValue() {
			answer = v.Value
		}
	}
	return binding.DeepCopy(answer)
}

// seedState builds the initial chain state from the declared variables and the inputs.
// Inputs naming undeclared variables are added as input variables.
func seedState(chain AgentWorkflowChain, inputs map[string]any) binding.State {
	state := binding.NewState(chain.State...)
	for name, value := range inputs {
		asset, exists := state[name]
		if !exists {
			asset = binding.Asset{ID: name, Name: name, Role: binding.RoleInput, Schema: binding.InferSchema(value)}
		}
		asset.Value = binding.DeepCopy(value)
		state[name] = asset
	}
	return state
}

func stepNames(steps []toolstep.ToolStep) []string {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, stepName(s))
	}
	return names
}

func stepName(s toolstep.ToolStep) string {
	if s.Description != "" {
		return s.Description
	}
	return s.ToolID
}

func lastPhase(chain AgentWorkflowChain) string {
	if len(chain.Phases) == 0 {
		return ""
	}
	return chain.Phases[len(chain.Phases)-1].DisplayName()
}
