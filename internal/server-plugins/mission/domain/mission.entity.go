package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	"github.com/google/uuid"
)

// MissionStatus is the lifecycle state of a mission
type MissionStatus string

const (
	MissionStatusProposed   MissionStatus = "PROPOSED"
	MissionStatusInProgress MissionStatus = "IN_PROGRESS"
	MissionStatusCompleted  MissionStatus = "COMPLETED"
	MissionStatusFailed     MissionStatus = "FAILED"
)

func (s MissionStatus) IsValid() bool {
	switch s {
	case MissionStatusProposed, MissionStatusInProgress, MissionStatusCompleted, MissionStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further command can change the mission.
func (s MissionStatus) IsTerminal() bool {
	return s == MissionStatusCompleted || s == MissionStatusFailed
}

// MissionSpec carries the authored fields of a mission proposal.
type MissionSpec struct {
	ID              string          `json:"id,omitempty"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Goal            string          `json:"goal,omitempty"`
	SuccessCriteria []string        `json:"success_criteria,omitempty"`
	Inputs          []binding.Asset `json:"inputs,omitempty"`
	Outputs         []binding.Asset `json:"outputs,omitempty"`
}

// Mission is the aggregate root: hops are only mutated through it.
type Mission struct {
	id              string
	name            string
	description     string
	goal            string
	successCriteria []string
	inputs          []binding.Asset
	outputs         []binding.Asset
	assets          map[string]binding.Asset
	hopHistory      []*Hop
	proposedHop     *Hop
	currentHop      *Hop
	escalatedHop    *Hop
	status          MissionStatus
	failureReason   string
	revision        uint64
	createdAt       time.Time
	updatedAt       time.Time
}

// NewMission creates a proposed mission. Inputs and outputs become the initial mission
// assets, keyed by id (the name when no id is given).
func NewMission(spec MissionSpec) (*Mission, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, &binding.ValidationError{Field: "mission.name", Reason: "cannot be empty"}
	}

	assets := make(map[string]binding.Asset, len(spec.Inputs)+len(spec.Outputs))
	inputs, err := declareAssets("mission.inputs", spec.Inputs, binding.RoleInput, assets)
	if err != nil {
		return nil, err
	}
	outputs, err := declareAssets("mission.outputs", spec.Outputs, binding.RoleOutput, assets)
	if err != nil {
		return nil, err
	}

	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now()
	return &Mission{
		id:              id,
		name:            spec.Name,
		description:     spec.Description,
		goal:            spec.Goal,
		successCriteria: append([]string(nil), spec.SuccessCriteria...),
		inputs:          inputs,
		outputs:         outputs,
		assets:          assets,
		hopHistory:      []*Hop{},
		status:          MissionStatusProposed,
		createdAt:       now,
		updatedAt:       now,
	}, nil
}

func declareAssets(field string, in []binding.Asset, role binding.Role, into map[string]binding.Asset) ([]binding.Asset, error) {
	out := make([]binding.Asset, 0, len(in))
	for i, asset := range in {
		if asset.Name == "" && asset.ID == "" {
			return nil, &binding.ValidationError{Field: fmt.Sprintf("%s[%d]", field, i), Reason: "an asset needs a name or an id"}
		}
		if asset.ID == "" {
			asset.ID = asset.Name
		}
		if asset.Name == "" {
			asset.Name = asset.ID
		}
		if asset.Role == "" {
			asset.Role = role
		}
		if _, dup := into[asset.ID]; dup {
			return nil, &binding.ValidationError{Field: fmt.Sprintf("%s[%d]", field, i), Reason: fmt.Sprintf("duplicate asset id %q", asset.ID)}
		}
		into[asset.ID] = asset.Clone()
		out = append(out, asset.Clone())
	}
	return out, nil
}

func (m *Mission) ID() string                { return m.id }
func (m *Mission) Name() string              { return m.name }
func (m *Mission) Description() string       { return m.description }
func (m *Mission) Goal() string              { return m.goal }
func (m *Mission) Status() MissionStatus     { return m.status }
func (m *Mission) FailureReason() string     { return m.failureReason }
func (m *Mission) Revision() uint64          { return m.revision }
func (m *Mission) CreatedAt() time.Time      { return m.createdAt }
func (m *Mission) UpdatedAt() time.Time      { return m.updatedAt }
func (m *Mission) SuccessCriteria() []string { return append([]string(nil), m.successCriteria...) }

// CurrentHop returns the installed hop, or nil.
func (m *Mission) CurrentHop() *Hop { return m.currentHop }

// ProposedHop returns the hop awaiting acceptance, or nil.
func (m *Mission) ProposedHop() *Hop { return m.proposedHop }

// EscalatedHop returns the hop that was current when the mission was escalated, or nil.
func (m *Mission) EscalatedHop() *Hop { return m.escalatedHop }

// HopHistory returns resolved hops in resolution order.
func (m *Mission) HopHistory() []*Hop {
	return append([]*Hop(nil), m.hopHistory...)
}

// Assets returns copies of the mission assets sorted by id.
func (m *Mission) Assets() []binding.Asset {
	ids := make([]string, 0, len(m.assets))
	for id := range m.assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]binding.Asset, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.assets[id].Clone())
	}
	return out
}

// Asset returns a copy of one mission asset.
func (m *Mission) Asset(id string) (binding.Asset, bool) {
	a, ok := m.assets[id]
	if !ok {
		return binding.Asset{}, false
	}
	return a.Clone(), true
}

func (m *Mission) touch() {
	m.revision++
	m.updatedAt = time.Now()
}

func (m *Mission) invalid(cmd MissionCommand) error {
	return &InvalidTransitionError{Entity: "mission", ID: m.id, From: string(m.status), Command: cmd.String()}
}

// AcceptProposal starts the mission.
func (m *Mission) AcceptProposal() error {
	if m.status != MissionStatusProposed {
		return m.invalid(CommandAcceptMission)
	}
	m.status = MissionStatusInProgress
	m.touch()
	return nil
}

// ProposeHop records a hop proposal, replacing any earlier unaccepted one.
func (m *Mission) ProposeHop(h *Hop) error {
	if m.status != MissionStatusInProgress {
		return m.invalid(CommandProposeHop)
	}
	if m.currentHop != nil {
		return fmt.Errorf("%w: hop %s", ErrHopAlreadyActive, m.currentHop.ID())
	}
	if h == nil || h.Status() != HopStatusProposed {
		return &binding.ValidationError{Field: "hop", Reason: "only a freshly proposed hop can be proposed"}
	}
	m.proposedHop = h
	m.touch()
	return nil
}

// AcceptHopProposal installs the proposed hop as current hop and approves its plan.
// An empty hopID accepts whatever hop is proposed.
func (m *Mission) AcceptHopProposal(hopID string) (*Hop, error) {
	if m.status != MissionStatusInProgress {
		return nil, m.invalid(CommandAcceptHop)
	}
	if m.currentHop != nil {
		return nil, fmt.Errorf("%w: hop %s", ErrHopAlreadyActive, m.currentHop.ID())
	}
	if m.proposedHop == nil {
		return nil, ErrNoProposedHop
	}
	if hopID != "" && hopID != m.proposedHop.ID() {
		return nil, fmt.Errorf("%w: %s", ErrHopNotFound, hopID)
	}

	hop := m.proposedHop
	if err := hop.AcceptPlan(); err != nil {
		return nil, err
	}
	m.currentHop = hop
	m.proposedHop = nil
	m.touch()
	return hop, nil
}

func (m *Mission) hop(hopID string, cmd MissionCommand) (*Hop, error) {
	if m.status != MissionStatusInProgress {
		return nil, m.invalid(cmd)
	}
	if m.currentHop == nil || (hopID != "" && m.currentHop.ID() != hopID) {
		return nil, fmt.Errorf("%w: %s", ErrHopNotFound, hopID)
	}
	return m.currentHop, nil
}

// ProposeHopImplementation attaches steps to the current hop.
func (m *Mission) ProposeHopImplementation(hopID string, steps []toolstep.ToolStep) error {
	h, err := m.hop(hopID, CommandProposeImplementation)
	if err != nil {
		return err
	}
	if err := h.ProposeImplementation(steps); err != nil {
		return err
	}
	m.touch()
	return nil
}

// AcceptHopImplementation approves the current hop's steps.
func (m *Mission) AcceptHopImplementation(hopID string) error {
	h, err := m.hop(hopID, CommandAcceptImplementation)
	if err != nil {
		return err
	}
	if err := h.AcceptImplementation(); err != nil {
		return err
	}
	m.touch()
	return nil
}

// StartHop seeds the current hop from mission assets and enters RUNNING.
func (m *Mission) StartHop(hopID string) error {
	h, err := m.hop(hopID, CommandStartHop)
	if err != nil {
		return err
	}
	if err := h.Start(m.assets); err != nil {
		return err
	}
	m.touch()
	return nil
}

// BeginHopStep marks the next step of the current hop as running.
func (m *Mission) BeginHopStep(hopID string, index int) error {
	h, err := m.hop(hopID, CommandStartHop)
	if err != nil {
		return err
	}
	if err := h.BeginStep(index); err != nil {
		return err
	}
	m.touch()
	return nil
}

// CompleteHopStep records a successful step of the current hop.
func (m *Mission) CompleteHopStep(hopID string, index int, step toolstep.ToolStep, state binding.State) error {
	h, err := m.hop(hopID, CommandStartHop)
	if err != nil {
		return err
	}
	if err := h.CompleteStep(index, step, state); err != nil {
		return err
	}
	m.touch()
	return nil
}

// FailHopStep records a failed step of the current hop.
func (m *Mission) FailHopStep(hopID string, index int, step toolstep.ToolStep, cause error) error {
	h, err := m.hop(hopID, CommandStartHop)
	if err != nil {
		return err
	}
	if err := h.FailStep(index, step, cause); err != nil {
		return err
	}
	m.touch()
	return nil
}

// FinishHop closes the current hop's run and resolves it when its outputs are complete.
// It returns true when the hop was resolved.
func (m *Mission) FinishHop(hopID string) (bool, error) {
	h, err := m.hop(hopID, CommandResolveHop)
	if err != nil {
		return false, err
	}
	err = h.Finish()
	m.touch()
	if err != nil {
		return false, err
	}
	m.resolveCurrentHop()
	return true, nil
}

// resolveCurrentHop copies the hop outputs into mission assets, moves the hop into
// history and completes the mission when the hop is final.
func (m *Mission) resolveCurrentHop() {
	h := m.currentHop
	for assetID, out := range h.Outputs() {
		if existing, ok := m.assets[assetID]; ok {
			existing.Value = out.Value
			m.assets[assetID] = existing
			continue
		}
		if out.Role != binding.RoleOutput {
			out.Role = binding.RoleInternal
		}
		out.Name = assetID
		m.assets[assetID] = out
	}

	m.hopHistory = append(m.hopHistory, h)
	m.currentHop = nil
	if h.IsFinal() {
		m.status = MissionStatusCompleted
	}
	m.touch()
}

// FailHop moves the running current hop to FAILED. The mission stays IN_PROGRESS.
func (m *Mission) FailHop(hopID, reason string) error {
	h, err := m.hop(hopID, CommandFailHop)
	if err != nil {
		return err
	}
	if err := h.Fail(reason); err != nil {
		return err
	}
	m.touch()
	return nil
}

// RetryHop puts a failed current hop back to RUNNING.
func (m *Mission) RetryHop(hopID string, mode RetryMode) error {
	h, err := m.hop(hopID, CommandRetryHop)
	if err != nil {
		return err
	}
	if err := h.Retry(mode, m.assets); err != nil {
		return err
	}
	m.touch()
	return nil
}

// Escalate fails the mission. The current hop, if any, is detached and kept for inspection.
func (m *Mission) Escalate(reason string) error {
	if m.status.IsTerminal() {
		return m.invalid(CommandEscalate)
	}
	if reason == "" {
		reason = "escalated"
	}
	if m.currentHop != nil {
		m.escalatedHop = m.currentHop
		m.currentHop = nil
	}
	m.proposedHop = nil
	m.status = MissionStatusFailed
	m.failureReason = reason
	m.touch()
	return nil
}
