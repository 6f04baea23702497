package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alex-galey/mission-mcp/internal/shared/binding"
)

// JobTracker manages in-memory state of chain executions. It is owned by a JobRunner and
// serializes every read and write, including cancellations racing with progress updates.
type JobTracker struct {
	jobs      map[string]*trackedJob
	mu        sync.RWMutex
	retention time.Duration
	interval  time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	now       func() time.Time
}

type trackedJob struct {
	job    Job
	state  binding.State
	events []Event
}

// NewJobTracker creates a tracker evicting finished jobs after retention. The cleanup
// loop runs once Start is called.
func NewJobTracker(retention, interval time.Duration) *JobTracker {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &JobTracker{
		jobs:      make(map[string]*trackedJob),
		retention: retention,
		interval:  interval,
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

// Track starts tracking a running job.
func (t *JobTracker) Track(id, chainID string, state binding.State) error {
	if id == "" {
		return fmt.Errorf("job id cannot be empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.jobs[id]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, id)
	}
	t.jobs[id] = &trackedJob{
		job: Job{
			ID:        id,
			ChainID:   chainID,
			Status:    JobStatusRunning,
			StartedAt: t.now(),
		},
		state: state.Clone(),
	}
	return nil
}

// Get returns a copy of the job record.
func (t *JobTracker) Get(id string) (Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tracked, exists := t.jobs[id]
	if !exists {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return tracked.snapshot(), nil
}

// List returns every tracked job, oldest first.
func (t *JobTracker) List() []Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	jobs := make([]Job, 0, len(t.jobs))
	for _, tracked := range t.jobs {
		jobs = append(jobs, tracked.snapshot())
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].StartedAt.Before(jobs[j].StartedAt)
	})
	return jobs
}

// IsRunning reports whether the job exists and is still running.
func (t *JobTracker) IsRunning(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tracked, exists := t.jobs[id]
	return exists && tracked.job.Status == JobStatusRunning
}

// UpdateProgress records the position of a running job. Progress never decreases.
func (t *JobTracker) UpdateProgress(id string, phaseIndex int, phase string, stepIndex int, progress float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked, exists := t.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if tracked.job.Status != JobStatusRunning {
		return nil
	}
	tracked.job.PhaseIndex = phaseIndex
	tracked.job.Phase = phase
	tracked.job.StepIndex = stepIndex
	if progress > tracked.job.Progress {
		tracked.job.Progress = progress
	}
	return nil
}

// ReplaceState swaps the job's state snapshot for a copy of state.
func (t *JobTracker) ReplaceState(id string, state binding.State) error {
	next := state.Clone()

	t.mu.Lock()
	defer t.mu.Unlock()

	tracked, exists := t.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	tracked.state = next
	return nil
}

// Finish moves a running job to a terminal status. It returns false when the job was no
// longer running, which happens when a cancellation won the race.
func (t *JobTracker) Finish(id string, status JobStatus, code, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked, exists := t.jobs[id]
	if !exists || tracked.job.Status != JobStatusRunning {
		return false
	}
	now := t.now()
	tracked.job.Status = status
	tracked.job.Error = errMsg
	tracked.job.ErrorCode = code
	tracked.job.FinishedAt = &now
	if status == JobStatusCompleted {
		tracked.job.Progress = 100
	}
	return true
}

// Cancel flips a running job to cancelled. The run notices at its next boundary.
func (t *JobTracker) Cancel(id string) bool {
	return t.Finish(id, JobStatusCancelled, binding.CodeCancelled, (&binding.CancellationError{JobID: id}).Error())
}

// AppendEvent adds an event to the job's log.
func (t *JobTracker) AppendEvent(id string, event Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked, exists := t.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	tracked.events = append(tracked.events, event)
	return nil
}

// Events returns the logged events with a sequence greater than after.
func (t *JobTracker) Events(id string, after int) ([]Event, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tracked, exists := t.jobs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	out := make([]Event, 0, len(tracked.events))
	for _, e := range tracked.events {
		if e.Sequence > after {
			out = append(out, e)
		}
	}
	return out, nil
}

// Remove stops tracking a job.
func (t *JobTracker) Remove(id string) {
	t.mu.Lock()
	delete(t.jobs, id)
	t.mu.Unlock()
}

// Count returns the number of tracked jobs
func (t *JobTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

// Start launches the cleanup loop. Calling it more than once has no effect.
func (t *JobTracker) Start() {
	t.startOnce.Do(func() { go t.cleanupLoop() })
}

// Shutdown stops the cleanup loop.
func (t *JobTracker) Shutdown(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.stop) })
	return nil
}

func (t *JobTracker) cleanupLoop() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.Cleanup()
		}
	}
}

// Cleanup removes finished jobs older than the retention and returns how many were removed.
func (t *JobTracker) Cleanup() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, tracked := range t.jobs {
		finished := tracked.job.FinishedAt
		if finished != nil && now.Sub(*finished) > t.retention {
			delete(t.jobs, id)
			removed++
		}
	}
	return removed
}

func (tj *trackedJob) snapshot() Job {
	job := tj.job
	job.State = tj.state.Assets()
	if tj.job.FinishedAt != nil {
		finished := *tj.job.FinishedAt
		job.FinishedAt = &finished
	}
	return job
}
