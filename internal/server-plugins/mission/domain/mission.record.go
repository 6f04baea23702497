package domain

import (
	"fmt"
	"time"

	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
)

// HopRecord is the serializable form of a hop.
type HopRecord struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	IsFinal       bool                `json:"is_final"`
	InputMapping  map[string]string   `json:"input_mapping"`
	OutputMapping map[string]string   `json:"output_mapping"`
	DeclaredState []binding.Asset     `json:"declared_state"`
	State         []binding.Asset     `json:"hop_state"`
	Steps         []toolstep.ToolStep `json:"steps"`
	Status        HopStatus           `json:"status"`
	Error         string              `json:"error,omitempty"`
	FailedStep    int                 `json:"failed_step"`
	NextStep      int                 `json:"next_step"`
	Attempt       int                 `json:"attempt"`
	Revision      uint64              `json:"revision"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// MissionRecord is the serializable form of a mission.
type MissionRecord struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Goal            string          `json:"goal,omitempty"`
	SuccessCriteria []string        `json:"success_criteria"`
	Inputs          []binding.Asset `json:"inputs"`
	Outputs         []binding.Asset `json:"outputs"`
	Assets          []binding.Asset `json:"mission_state"`
	HopHistory      []HopRecord     `json:"hop_history"`
	ProposedHop     *HopRecord      `json:"proposed_hop,omitempty"`
	CurrentHop      *HopRecord      `json:"current_hop,omitempty"`
	EscalatedHop    *HopRecord      `json:"escalated_hop,omitempty"`
	Status          MissionStatus   `json:"status"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	Revision        uint64          `json:"revision"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Record returns the serializable form of the hop.
func (h *Hop) Record() HopRecord {
	return HopRecord{
		ID:            h.id,
		Name:          h.name,
		Description:   h.description,
		IsFinal:       h.isFinal,
		InputMapping:  copyStringMap(h.inputMapping),
		OutputMapping: copyStringMap(h.outputMapping),
		DeclaredState: h.declared.Assets(),
		State:         h.state.Assets(),
		Steps:         toolstep.CloneAll(h.steps),
		Status:        h.status,
		Error:         h.errorMsg,
		FailedStep:    h.failedStep,
		NextStep:      h.nextStep,
		Attempt:       h.attempt,
		Revision:      h.revision,
		CreatedAt:     h.createdAt,
		UpdatedAt:     h.updatedAt,
	}
}

// HopFromRecord rebuilds a hop, checking the fields a state machine relies on.
func HopFromRecord(r HopRecord) (*Hop, error) {
	if r.ID == "" || r.Name == "" {
		return nil, &binding.ValidationError{Field: "hop", Reason: "id and name are required"}
	}
	if !r.Status.IsValid() {
		return nil, &binding.ValidationError{Field: "hop.status", Reason: fmt.Sprintf("unknown status %q", r.Status)}
	}
	if r.NextStep < 0 || r.NextStep > len(r.Steps) {
		return nil, &binding.ValidationError{Field: "hop.next_step", Reason: "out of range"}
	}
	if r.Status == HopStatusReadyToResolve {
		h := &Hop{outputMapping: r.OutputMapping, state: binding.NewState(r.State...)}
		if missing := h.MissingOutputs(); len(missing) > 0 {
			return nil, &binding.ValidationError{Field: "hop.hop_state", Reason: fmt.Sprintf("resolved hop %s lacks outputs %v", r.ID, missing)}
		}
	}

	steps := toolstep.Normalize(r.Steps)
	return &Hop{
		id:            r.ID,
		name:          r.Name,
		description:   r.Description,
		isFinal:       r.IsFinal,
		inputMapping:  copyStringMap(r.InputMapping),
		outputMapping: copyStringMap(r.OutputMapping),
		declared:      binding.NewState(r.DeclaredState...),
		state:         binding.NewState(r.State...),
		steps:         steps,
		status:        r.Status,
		errorMsg:      r.Error,
		failedStep:    r.FailedStep,
		nextStep:      r.NextStep,
		attempt:       r.Attempt,
		revision:      r.Revision,
		createdAt:     r.CreatedAt,
		updatedAt:     r.UpdatedAt,
	}, nil
}

// Record returns the serializable form of the mission.
func (m *Mission) Record() MissionRecord {
	rec := MissionRecord{
		ID:              m.id,
		Name:            m.name,
		Description:     m.description,
		Goal:            m.goal,
		SuccessCriteria: m.SuccessCriteria(),
		Inputs:          cloneAssets(m.inputs),
		Outputs:         cloneAssets(m.outputs),
		Assets:          m.Assets(),
		HopHistory:      make([]HopRecord, 0, len(m.hopHistory)),
		Status:          m.status,
		FailureReason:   m.failureReason,
		Revision:        m.revision,
		CreatedAt:       m.createdAt,
		UpdatedAt:       m.updatedAt,
	}
	for _, h := range m.hopHistory {
		rec.HopHistory = append(rec.HopHistory, h.Record())
	}
	rec.ProposedHop = hopRecordPtr(m.proposedHop)
	rec.CurrentHop = hopRecordPtr(m.currentHop)
	rec.EscalatedHop = hopRecordPtr(m.escalatedHop)
	return rec
}

// MissionFromRecord rebuilds a mission and enforces the cross-entity invariants:
// a current hop only while IN_PROGRESS and only resolved hops in history.
func MissionFromRecord(r MissionRecord) (*Mission, error) {
	if r.ID == "" || r.Name == "" {
		return nil, &binding.ValidationError{Field: "mission", Reason: "id and name are required"}
	}
	if !r.Status.IsValid() {
		return nil, &binding.ValidationError{Field: "mission.status", Reason: fmt.Sprintf("unknown status %q", r.Status)}
	}
	if r.CurrentHop != nil && r.Status != MissionStatusInProgress {
		return nil, &binding.ValidationError{Field: "mission.current_hop", Reason: "only an in-progress mission has a current hop"}
	}

	m := &Mission{
		id:              r.ID,
		name:            r.Name,
		description:     r.Description,
		goal:            r.Goal,
		successCriteria: append([]string(nil), r.SuccessCriteria...),
		inputs:          cloneAssets(r.Inputs),
		outputs:         cloneAssets(r.Outputs),
		assets:          make(map[string]binding.Asset, len(r.Assets)),
		hopHistory:      make([]*Hop, 0, len(r.HopHistory)),
		status:          r.Status,
		failureReason:   r.FailureReason,
		revision:        r.Revision,
		createdAt:       r.CreatedAt,
		updatedAt:       r.UpdatedAt,
	}
	for _, a := range r.Assets {
		if a.ID == "" {
			return nil, &binding.ValidationError{Field: "mission.mission_state", Reason: "asset id is required"}
		}
		m.assets[a.ID] = a.Clone()
	}

	for i, hr := range r.HopHistory {
		if hr.Status != HopStatusReadyToResolve {
			return nil, &binding.ValidationError{
				Field:  fmt.Sprintf("mission.hop_history[%d]", i),
				Reason: fmt.Sprintf("hop %s is %s, only resolved hops belong to history", hr.ID, hr.Status),
			}
		}
		h, err := HopFromRecord(hr)
		if err != nil {
			return nil, err
		}
		m.hopHistory = append(m.hopHistory, h)
	}

	var err error
	if m.proposedHop, err = hopFromRecordPtr(r.ProposedHop); err != nil {
		return nil, err
	}
	if m.currentHop, err = hopFromRecordPtr(r.CurrentHop); err != nil {
		return nil, err
	}
	if m.escalatedHop, err = hopFromRecordPtr(r.EscalatedHop); err != nil {
		return nil, err
	}
	return m, nil
}

func hopRecordPtr(h *Hop) *HopRecord {
	if h == nil {
		return nil
	}
	rec := h.Record()
	return &rec
}

func hopFromRecordPtr(r *HopRecord) (*Hop, error) {
	if r == nil {
		return nil, nil
	}
	return HopFromRecord(*r)
}

func cloneAssets(in []binding.Asset) []binding.Asset {
	out := make([]binding.Asset, 0, len(in))
	for _, a := range in {
		out = append(out, a.Clone())
	}
	return out
}
