package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/domain"
	"github.com/alex-galey/mission-mcp/internal/shared/audit"
	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/alex-galey/mission-mcp/internal/shared/metrics"
	"github.com/alex-galey/mission-mcp/internal/shared/snapshot"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	"github.com/alex-galey/mission-mcp/pkg/config"
)

// ExecutionReport describes the outcome of running a hop.
type ExecutionReport struct {
	Mission    domain.MissionRecord `json:"mission"`
	Hop        domain.HopRecord     `json:"hop"`
	Resolved   bool                 `json:"resolved"`
	FailedStep int                  `json:"failed_step"`
	Error      string               `json:"error,omitempty"`
	ErrorCode  string               `json:"error_code,omitempty"`
	Guidance   string               `json:"guidance,omitempty"`
}

type historyRestorer interface {
	Restore(resource string, events []audit.Event)
}

// MissionService applies mission commands. Each mission is guarded by its own lock,
// which is released while a tool call is in flight.
type MissionService struct {
	repo      domain.MissionRepository
	executor  *toolstep.Executor
	catalog   toolstep.Catalog
	sink      audit.EventSink
	history   audit.HistoryReader
	collector metrics.Collector
	cfg       config.ExecutionConfig
	logger    *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
	imports map[string]uint64
}

// NewMissionService creates the service. catalog and history may be nil.
func NewMissionService(
	repo domain.MissionRepository,
	executor *toolstep.Executor,
	catalog toolstep.Catalog,
	sink audit.EventSink,
	history audit.HistoryReader,
	collector metrics.Collector,
	cfg config.ExecutionConfig,
	logger *slog.Logger,
) *MissionService {
	if sink == nil {
		sink = audit.NewNoOpSink()
	}
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	return &MissionService{
		repo:      repo,
		executor:  executor,
		catalog:   catalog,
		sink:      sink,
		history:   history,
		collector: collector,
		cfg:       cfg,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
		imports:   make(map[string]uint64),
	}
}

func (s *MissionService) lockFor(missionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[missionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[missionID] = lock
	}
	return lock
}

// generation counts snapshot imports of a mission.
func (s *MissionService) generation(missionID string) uint64 {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return s.imports[missionID]
}

func (s *MissionService) bumpGeneration(missionID string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	s.imports[missionID]++
}

// CreateMission registers a new proposed mission.
func (s *MissionService) CreateMission(ctx context.Context, spec domain.MissionSpec) (domain.MissionRecord, error) {
	started := time.Now()
	mission, err := domain.NewMission(spec)
	if err != nil {
		return domain.MissionRecord{}, err
	}

	lock := s.lockFor(mission.ID())
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.repo.FindByID(ctx, mission.ID()); err == nil {
		return domain.MissionRecord{}, fmt.Errorf("%w: %s", domain.ErrMissionAlreadyExists, mission.ID())
	}
	if err := s.repo.Save(ctx, mission); err != nil {
		return domain.MissionRecord{}, fmt.Errorf("failed to save mission: %w", err)
	}

	s.logger.Info("Mission created",
		"mission_id", mission.ID(),
		"name", mission.Name())
	s.recordAudit(ctx, mission.ID(), domain.CommandCreateMission, map[string]any{"name": spec.Name}, nil, started)
	return mission.Record(), nil
}

// GetMission returns the current record of a mission.
func (s *MissionService) GetMission(ctx context.Context, missionID string) (domain.MissionRecord, error) {
	lock := s.lockFor(missionID)
	lock.Lock()
	defer lock.Unlock()

	mission, err := s.repo.FindByID(ctx, missionID)
	if err != nil {
		return domain.MissionRecord{}, err
	}
	return mission.Record(), nil
}

// ListMissions returns every mission record ordered by creation.
func (s *MissionService) ListMissions(ctx context.Context) ([]domain.MissionRecord, error) {
	missions, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MissionRecord, 0, len(missions))
	for _, m := range missions {
		rec, err := s.GetMission(ctx, m.ID())
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *MissionService) AcceptMissionProposal(ctx context.Context, missionID string) (domain.MissionRecord, error) {
	return s.mutate(ctx, missionID, domain.CommandAcceptMission, nil, func(m *domain.Mission) error {
		return m.AcceptProposal()
	})
}

// ProposeHop records a hop proposal awaiting acceptance.
func (s *MissionService) ProposeHop(ctx context.Context, missionID string, spec domain.HopSpec) (domain.MissionRecord, error) {
	hop, err := domain.NewHop(spec)
	if err != nil {
		return domain.MissionRecord{}, err
	}
	return s.mutate(ctx, missionID, domain.CommandProposeHop, map[string]any{"hop_id": hop.ID(), "name": spec.Name},
		func(m *domain.Mission) error {
			return m.ProposeHop(hop)
		})
}

// AcceptHopProposal installs the proposed hop as current hop. When spec is given the hop
// is proposed and accepted in one command.
func (s *MissionService) AcceptHopProposal(ctx context.Context, missionID, hopID string, spec *domain.HopSpec) (domain.MissionRecord, error) {
	var hop *domain.Hop
	if spec != nil {
		var err error
		if hop, err = domain.NewHop(*spec); err != nil {
			return domain.MissionRecord{}, err
		}
		hopID = hop.ID()
	}

	return s.mutate(ctx, missionID, domain.CommandAcceptHop, map[string]any{"hop_id": hopID},
		func(m *domain.Mission) error {
			if hop != nil {
				if err := m.ProposeHop(hop); err != nil {
					return err
				}
			}
			_, err := m.AcceptHopProposal(hopID)
			return err
		})
}

// ProposeHopImplementation attaches steps to the current hop after checking them against
// the tool catalog.
func (s *MissionService) ProposeHopImplementation(ctx context.Context, missionID, hopID string, steps []toolstep.ToolStep) (domain.MissionRecord, error) {
	if err := toolstep.Validate(ctx, s.catalog, steps); err != nil {
		return domain.MissionRecord{}, err
	}
	return s.mutate(ctx, missionID, domain.CommandProposeImplementation, map[string]any{"hop_id": hopID, "steps": len(steps)},
		func(m *domain.Mission) error {
			return m.ProposeHopImplementation(hopID, steps)
		})
}

// AcceptHopImplementation approves the current hop's steps. When steps are given they are
// proposed first.
func (s *MissionService) AcceptHopImplementation(ctx context.Context, missionID, hopID string, steps []toolstep.ToolStep) (domain.MissionRecord, error) {
	if len(steps) > 0 {
		if err := toolstep.Validate(ctx, s.catalog, steps); err != nil {
			return domain.MissionRecord{}, err
		}
	}
	return s.mutate(ctx, missionID, domain.CommandAcceptImplementation, map[string]any{"hop_id": hopID, "steps": len(steps)},
		func(m *domain.Mission) error {
			if len(steps) > 0 {
				if err := m.ProposeHopImplementation(hopID, steps); err != nil {
					return err
				}
			}
			return m.AcceptHopImplementation(hopID)
		})
}

// StartHopExecution starts the current hop and runs its steps to completion or failure.
func (s *MissionService) StartHopExecution(ctx context.Context, missionID, hopID string) (ExecutionReport, error) {
	if _, err := s.mutate(ctx, missionID, domain.CommandStartHop, map[string]any{"hop_id": hopID},
		func(m *domain.Mission) error {
			return m.StartHop(hopID)
		}); err != nil {
		return ExecutionReport{}, err
	}
	return s.runHop(ctx, missionID, hopID)
}

// RetryHopExecution puts a failed hop back to RUNNING and runs it again. An empty mode
// uses the configured retry mode.
func (s *MissionService) RetryHopExecution(ctx context.Context, missionID, hopID string, mode domain.RetryMode) (ExecutionReport, error) {
	if mode == "" {
		mode = domain.RetryMode(s.cfg.RetryMode)
	}
	if _, err := s.mutate(ctx, missionID, domain.CommandRetryHop, map[string]any{"hop_id": hopID, "mode": string(mode)},
		func(m *domain.Mission) error {
			return m.RetryHop(hopID, mode)
		}); err != nil {
		return ExecutionReport{}, err
	}
	return s.runHop(ctx, missionID, hopID)
}

// FailHopExecution marks the running hop FAILED. A step in flight finishes but its
// result is dropped.
func (s *MissionService) FailHopExecution(ctx context.Context, missionID, hopID, reason string) (domain.MissionRecord, error) {
	return s.mutate(ctx, missionID, domain.CommandFailHop, map[string]any{"hop_id": hopID, "reason": reason},
		func(m *domain.Mission) error {
			if err := m.FailHop(hopID, reason); err != nil {
				return err
			}
			return s.applyFailurePolicy(m, reason)
		})
}

// Escalate fails the mission explicitly.
func (s *MissionService) Escalate(ctx context.Context, missionID, reason string) (domain.MissionRecord, error) {
	return s.mutate(ctx, missionID, domain.CommandEscalate, map[string]any{"reason": reason},
		func(m *domain.Mission) error {
			return m.Escalate(reason)
		})
}

func (s *MissionService) applyFailurePolicy(m *domain.Mission, reason string) error {
	if !s.cfg.FailMissionOnHopFailure {
		return nil
	}
	s.logger.Warn("Failing mission after hop failure",
		"mission_id", m.ID(),
		"reason", reason)
	return m.Escalate("hop failed: " + reason)
}

// runHop executes the current hop from its next step. The mission lock is only held
// around state transitions.
func (s *MissionService) runHop(ctx context.Context, missionID, hopID string) (ExecutionReport, error) {
	started := time.Now()
	lock := s.lockFor(missionID)

	lock.Lock()
	mission, err := s.repo.FindByID(ctx, missionID)
	if err != nil {
		lock.Unlock()
		return ExecutionReport{}, err
	}
	hop := mission.CurrentHop()
	if hop == nil || hop.ID() != hopID || hop.Status() != domain.HopStatusRunning {
		lock.Unlock()
		return ExecutionReport{}, fmt.Errorf("%w: %s is not running", domain.ErrHopNotFound, hopID)
	}
	gen := s.generation(missionID)
	attempt := hop.Attempt()
	steps := hop.Steps()
	from := hop.NextStep()
	state := hop.State()
	lock.Unlock()

	// superseded reports whether an import replaced the mission loaded above.
	superseded := func() bool {
		return s.generation(missionID) != gen
	}
	// current reports whether this run still owns the hop; callers hold the lock.
	current := func() bool {
		if superseded() {
			return false
		}
		h := mission.CurrentHop()
		return h != nil && h.ID() == hopID && h.Attempt() == attempt && h.Status() == domain.HopStatusRunning
	}

	s.logger.Info("Executing hop",
		"mission_id", missionID,
		"hop_id", hopID,
		"from_step", from,
		"steps", len(steps))

	hooks := toolstep.Hooks{
		BeforeStep: func(ctx context.Context, index int, step *toolstep.ToolStep) error {
			lock.Lock()
			defer lock.Unlock()
			if !current() {
				return toolstep.ErrStopped
			}
			return mission.BeginHopStep(hopID, index)
		},
		AfterStep: func(ctx context.Context, index int, step *toolstep.ToolStep, outcome toolstep.Outcome) error {
			lock.Lock()
			defer lock.Unlock()
			if !current() {
				s.logger.Warn("Dropping result of a step whose hop is no longer running",
					"mission_id", missionID,
					"hop_id", hopID,
					"step_index", index)
				return toolstep.ErrStopped
			}
			if outcome.Success {
				return mission.CompleteHopStep(hopID, index, *step, outcome.UpdatedState)
			}
			return mission.FailHopStep(hopID, index, *step, outcome.Err)
		},
	}

	run := s.executor.RunSteps(ctx, steps, from, state, hooks)

	lock.Lock()
	defer lock.Unlock()

	if superseded() {
		s.logger.Warn("Dropping hop run of a mission replaced by an import",
			"mission_id", missionID,
			"hop_id", hopID)
		stored, err := s.repo.FindByID(ctx, missionID)
		if err != nil {
			return ExecutionReport{}, err
		}
		report := ExecutionReport{
			Mission:    stored.Record(),
			FailedStep: -1,
			Error:      fmt.Sprintf("mission %s was replaced by a snapshot import during execution", missionID),
			ErrorCode:  CodeConflict,
		}
		if h := findHop(stored, hopID); h != nil {
			report.Hop = h.Record()
		}
		return report, nil
	}

	report := ExecutionReport{FailedStep: run.FailedIndex}
	resolved := false
	var failure error

	switch {
	case errors.Is(run.Err, toolstep.ErrStopped), run.Err == nil && !current():
		s.logger.Info("Hop execution stopped", "mission_id", missionID, "hop_id", hopID)
	case run.Err == nil:
		resolved, failure = mission.FinishHop(hopID)
	case run.FailedIndex >= 0:
		failure = run.Err
	default:
		failure = run.Err
		if current() {
			if err := mission.FailHop(hopID, "execution interrupted: "+run.Err.Error()); err != nil {
				s.logger.Error("Failed to mark interrupted hop", "mission_id", missionID, "hop_id", hopID, "error", err)
			}
		}
	}

	if failure != nil {
		report.Error = failure.Error()
		report.ErrorCode = ErrorCode(failure)
		var malformed *binding.MalformedResultError
		if errors.As(failure, &malformed) {
			report.Guidance = malformed.Guidance()
		}
		if err := s.applyFailurePolicy(mission, failure.Error()); err != nil {
			s.logger.Error("Failed to apply mission failure policy", "mission_id", missionID, "error", err)
		}
		s.logger.Warn("Hop execution failed",
			"mission_id", missionID,
			"hop_id", hopID,
			"failed_step", run.FailedIndex,
			"error", failure)
	}

	if err := s.repo.Save(ctx, mission); err != nil {
		return ExecutionReport{}, fmt.Errorf("failed to save mission: %w", err)
	}

	finalHop := findHop(mission, hopID)
	if finalHop != nil {
		report.Hop = finalHop.Record()
		s.collector.RecordHopTransition(ctx, missionID, hopID, string(domain.HopStatusRunning), string(finalHop.Status()))
	}
	report.Resolved = resolved
	report.Mission = mission.Record()

	s.recordAudit(ctx, missionID, domain.CommandResolveHop, map[string]any{"hop_id": hopID, "resolved": resolved}, failure, started)
	if resolved {
		s.logger.Info("Hop resolved",
			"mission_id", missionID,
			"hop_id", hopID,
			"mission_status", mission.Status())
	}
	return report, nil
}

// mutate runs one command under the mission lock, then saves and records it.
func (s *MissionService) mutate(
	ctx context.Context,
	missionID string,
	cmd domain.MissionCommand,
	params map[string]any,
	apply func(m *domain.Mission) error,
) (domain.MissionRecord, error) {
	started := time.Now()
	lock := s.lockFor(missionID)
	lock.Lock()
	defer lock.Unlock()

	mission, err := s.repo.FindByID(ctx, missionID)
	if err != nil {
		s.recordAudit(ctx, missionID, cmd, params, err, started)
		return domain.MissionRecord{}, err
	}

	before := hopStatuses(mission)
	if err := apply(mission); err != nil {
		s.logger.Debug("Mission command rejected",
			"mission_id", missionID,
			"command", cmd,
			"error", err)
		s.recordAudit(ctx, missionID, cmd, params, err, started)
		return domain.MissionRecord{}, err
	}
	if err := s.repo.Save(ctx, mission); err != nil {
		return domain.MissionRecord{}, fmt.Errorf("failed to save mission: %w", err)
	}

	for hopID, status := range hopStatuses(mission) {
		if prev := before[hopID]; prev != status {
			s.collector.RecordHopTransition(ctx, missionID, hopID, string(prev), string(status))
		}
	}
	s.recordAudit(ctx, missionID, cmd, params, nil, started)
	return mission.Record(), nil
}

func hopStatuses(m *domain.Mission) map[string]domain.HopStatus {
	out := map[string]domain.HopStatus{}
	for _, h := range []*domain.Hop{m.ProposedHop(), m.CurrentHop(), m.EscalatedHop()} {
		if h != nil {
			out[h.ID()] = h.Status()
		}
	}
	return out
}

func findHop(m *domain.Mission, hopID string) *domain.Hop {
	if h := m.CurrentHop(); h != nil && h.ID() == hopID {
		return h
	}
	if h := m.EscalatedHop(); h != nil && h.ID() == hopID {
		return h
	}
	history := m.HopHistory()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ID() == hopID {
			return history[i]
		}
	}
	return nil
}

func (s *MissionService) recordAudit(ctx context.Context, missionID string, cmd domain.MissionCommand, params map[string]any, err error, started time.Time) {
	event := audit.Event{
		Timestamp:  time.Now(),
		Action:     cmd.String(),
		Resource:   missionID,
		Parameters: params,
		Result:     "success",
		Duration:   time.Since(started),
	}
	if err != nil {
		event.Result = "failure"
		event.ErrorMessage = err.Error()
	}
	if recErr := s.sink.Record(ctx, event); recErr != nil {
		s.logger.Warn("Failed to record audit event", "mission_id", missionID, "error", recErr)
	}
}

// History returns the recorded commands of a mission, oldest first.
func (s *MissionService) History(ctx context.Context, missionID string) ([]audit.Event, error) {
	if _, err := s.repo.FindByID(ctx, missionID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []audit.Event{}, nil
	}
	return s.history.History(missionID), nil
}

// ExportSnapshot writes the mission and its audit trail in the persisted snapshot shape.
func (s *MissionService) ExportSnapshot(ctx context.Context, missionID string) ([]byte, error) {
	rec, err := s.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}

	history := []any{}
	if s.history != nil {
		for _, event := range s.history.History(missionID) {
			history = append(history, event)
		}
	}

	snap, err := snapshot.New(rec, history)
	if err != nil {
		return nil, err
	}
	return snap.Marshal()
}

// ImportSnapshot loads a mission from a snapshot. The document is fully validated before
// anything is stored. An existing mission is only replaced when replace is set.
func (s *MissionService) ImportSnapshot(ctx context.Context, data []byte, replace bool) (domain.MissionRecord, error) {
	started := time.Now()
	snap, err := snapshot.Parse(data)
	if err != nil {
		return domain.MissionRecord{}, err
	}

	var rec domain.MissionRecord
	if err := snap.DecodeMission(&rec); err != nil {
		return domain.MissionRecord{}, err
	}
	mission, err := domain.MissionFromRecord(rec)
	if err != nil {
		return domain.MissionRecord{}, err
	}
	events, err := snapshot.DecodePayloadHistory[audit.Event](snap)
	if err != nil {
		return domain.MissionRecord{}, err
	}

	lock := s.lockFor(mission.ID())
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.repo.FindByID(ctx, mission.ID()); err == nil && !replace {
		return domain.MissionRecord{}, fmt.Errorf("%w: %s", domain.ErrMissionAlreadyExists, mission.ID())
	}
	if err := s.repo.Save(ctx, mission); err != nil {
		return domain.MissionRecord{}, fmt.Errorf("failed to save mission: %w", err)
	}
	s.bumpGeneration(mission.ID())
	if restorer, ok := s.sink.(historyRestorer); ok {
		restorer.Restore(mission.ID(), events)
	}

	s.logger.Info("Mission imported",
		"mission_id", mission.ID(),
		"payload_history", len(events))
	s.recordAudit(ctx, mission.ID(), domain.CommandImportSnapshot, map[string]any{"replace": replace}, nil, started)
	return mission.Record(), nil
}
