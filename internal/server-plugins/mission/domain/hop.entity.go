package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	"github.com/google/uuid"
)

// HopStatus is the lifecycle state of a hop
type HopStatus string

const (
	HopStatusProposed       HopStatus = "PROPOSED"
	HopStatusPlanReady      HopStatus = "PLAN_READY"
	HopStatusImplProposed   HopStatus = "IMPL_PROPOSED"
	HopStatusImplReady      HopStatus = "IMPL_READY"
	HopStatusRunning        HopStatus = "RUNNING"
	HopStatusReadyToResolve HopStatus = "READY_TO_RESOLVE"
	HopStatusFailed         HopStatus = "FAILED"
)

func (s HopStatus) IsValid() bool {
	switch s {
	case HopStatusProposed, HopStatusPlanReady, HopStatusImplProposed, HopStatusImplReady,
		HopStatusRunning, HopStatusReadyToResolve, HopStatusFailed:
		return true
	default:
		return false
	}
}

// HopSpec carries the authored fields of a hop proposal.
type HopSpec struct {
	ID            string              `json:"id,omitempty"`
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	IsFinal       bool                `json:"is_final,omitempty"`
	InputMapping  map[string]string   `json:"input_mapping,omitempty"`
	OutputMapping map[string]string   `json:"output_mapping,omitempty"`
	State         []binding.Asset     `json:"state,omitempty"`
	Steps         []toolstep.ToolStep `json:"steps,omitempty"`
}

// Hop is one planned and executed stage of a mission.
// inputMapping and outputMapping map local state names to mission asset ids.
type Hop struct {
	id            string
	name          string
	description   string
	isFinal       bool
	inputMapping  map[string]string
	outputMapping map[string]string
	declared      binding.State
	state         binding.State
	steps         []toolstep.ToolStep
	status        HopStatus
	errorMsg      string
	failedStep    int
	nextStep      int
	attempt       int
	revision      uint64
	createdAt     time.Time
	updatedAt     time.Time
}

// NewHop creates a proposed hop. Steps in the spec are ignored; implementations are
// proposed separately.
func NewHop(spec HopSpec) (*Hop, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, &binding.ValidationError{Field: "hop.name", Reason: "cannot be empty"}
	}
	if err := validateAssetMapping("hop.input_mapping", spec.InputMapping); err != nil {
		return nil, err
	}
	if err := validateAssetMapping("hop.output_mapping", spec.OutputMapping); err != nil {
		return nil, err
	}

	declared := binding.State{}
	for i, asset := range spec.State {
		if asset.Name == "" {
			return nil, &binding.ValidationError{Field: fmt.Sprintf("hop.state[%d].name", i), Reason: "cannot be empty"}
		}
		if asset.ID == "" {
			asset.ID = asset.Name
		}
		if asset.Role == "" {
			asset.Role = binding.RoleInternal
		}
		if !asset.Role.IsValid() {
			return nil, &binding.ValidationError{Field: fmt.Sprintf("hop.state[%d].role", i), Reason: fmt.Sprintf("unknown role %q", asset.Role)}
		}
		declared[asset.Name] = asset.Clone()
	}

	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now()
	return &Hop{
		id:            id,
		name:          spec.Name,
		description:   spec.Description,
		isFinal:       spec.IsFinal,
		inputMapping:  copyStringMap(spec.InputMapping),
		outputMapping: copyStringMap(spec.OutputMapping),
		declared:      declared,
		state:         declared.Clone(),
		steps:         []toolstep.ToolStep{},
		status:        HopStatusProposed,
		failedStep:    -1,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

func validateAssetMapping(field string, mapping map[string]string) error {
	for local, assetID := range mapping {
		if local == "" || assetID == "" {
			return &binding.ValidationError{Field: field, Reason: "local names and asset ids cannot be empty"}
		}
	}
	return nil
}

func (h *Hop) ID() string           { return h.id }
func (h *Hop) Name() string         { return h.name }
func (h *Hop) Description() string  { return h.description }
func (h *Hop) IsFinal() bool        { return h.isFinal }
func (h *Hop) Status() HopStatus    { return h.status }
func (h *Hop) Error() string        { return h.errorMsg }
func (h *Hop) Revision() uint64     { return h.revision }
func (h *Hop) CreatedAt() time.Time { return h.createdAt }
func (h *Hop) UpdatedAt() time.Time { return h.updatedAt }

// FailedStep returns the index of the step that failed, or -1.
func (h *Hop) FailedStep() int { return h.failedStep }

// NextStep returns the index of the next step to execute.
func (h *Hop) NextStep() int { return h.nextStep }

// Attempt counts how many times the hop entered RUNNING. Executions compare it to detect
// that the run they belong to was superseded.
func (h *Hop) Attempt() int { return h.attempt }

func (h *Hop) InputMapping() map[string]string  { return copyStringMap(h.inputMapping) }
func (h *Hop) OutputMapping() map[string]string { return copyStringMap(h.outputMapping) }

// State returns a copy of the hop state.
func (h *Hop) State() binding.State { return h.state.Clone() }

// Steps returns a copy of the hop steps.
func (h *Hop) Steps() []toolstep.ToolStep { return toolstep.CloneAll(h.steps) }

func (h *Hop) touch() {
	h.revision++
	h.updatedAt = time.Now()
}

func (h *Hop) invalid(cmd MissionCommand) error {
	return &InvalidTransitionError{Entity: "hop", ID: h.id, From: string(h.status), Command: cmd.String()}
}

// AcceptPlan approves the hop proposal.
func (h *Hop) AcceptPlan() error {
	if h.status != HopStatusProposed {
		return h.invalid(CommandAcceptHop)
	}
	h.status = HopStatusPlanReady
	h.touch()
	return nil
}

// ProposeImplementation attaches the steps that implement the hop. Steps are checked
// structurally and every asset_field parameter must read a variable that is declared,
// seeded from the mission, or written by an earlier step.
func (h *Hop) ProposeImplementation(steps []toolstep.ToolStep) error {
	if h.status != HopStatusPlanReady && h.status != HopStatusImplProposed {
		return h.invalid(CommandProposeImplementation)
	}
	if len(steps) == 0 {
		return ErrEmptyImplementation
	}
	if err := toolstep.Validate(context.Background(), nil, steps); err != nil {
		return err
	}
	if err := h.validateDataflow(steps); err != nil {
		return err
	}

	normalized := toolstep.Normalize(steps)
	for i := range normalized {
		normalized[i].Reset()
	}
	h.steps = normalized
	h.status = HopStatusImplProposed
	h.touch()
	return nil
}

func (h *Hop) validateDataflow(steps []toolstep.ToolStep) error {
	known := make(map[string]bool, len(h.declared)+len(h.inputMapping))
	for name := range h.declared {
		known[name] = true
	}
	for local := range h.inputMapping {
		known[local] = true
	}

	for i, step := range steps {
		for _, param := range step.ParameterMapping.Names() {
			af, ok := step.ParameterMapping[param].(binding.AssetField)
			if !ok {
				continue
			}
			if !known[af.StateAsset] {
				return &binding.ValidationError{
					Field:  fmt.Sprintf("steps[%d].parameter_mapping.%s", i, param),
					Reason: fmt.Sprintf("variable %q is not available before this step", af.StateAsset),
				}
			}
		}
		for _, result := range step.ResultMapping.Names() {
			if af, ok := step.ResultMapping[result].(binding.AssetField); ok {
				known[af.StateAsset] = true
			}
		}
	}
	return nil
}

// AcceptImplementation approves the proposed steps.
func (h *Hop) AcceptImplementation() error {
	if h.status != HopStatusImplProposed {
		return h.invalid(CommandAcceptImplementation)
	}
	if len(h.steps) == 0 {
		return ErrEmptyImplementation
	}
	h.status = HopStatusImplReady
	h.touch()
	return nil
}

// Start seeds the hop state from mission assets and enters RUNNING. A missing mission
// asset leaves the hop untouched.
func (h *Hop) Start(missionAssets map[string]binding.Asset) error {
	if h.status != HopStatusImplReady {
		return h.invalid(CommandStartHop)
	}
	state, err := h.seed(missionAssets)
	if err != nil {
		return err
	}

	h.state = state
	h.status = HopStatusRunning
	h.nextStep = 0
	h.failedStep = -1
	h.errorMsg = ""
	h.attempt++
	h.touch()
	return nil
}

func (h *Hop) seed(missionAssets map[string]binding.Asset) (binding.State, error) {
	state := h.declared.Clone()
	for _, local := range sortedKeys(h.inputMapping) {
		assetID := h.inputMapping[local]
		asset, ok := missionAssets[assetID]
		if !ok {
			return nil, &binding.UnresolvedAssetError{Asset: assetID, Parameter: local}
		}
		seeded := asset.Clone()
		if existing, ok := state[local]; ok {
			existing.Value = seeded.Value
			state[local] = existing
			continue
		}
		seeded.ID = local
		seeded.Name = local
		seeded.Role = binding.RoleInput
		state[local] = seeded
	}
	return state, nil
}

// BeginStep marks step index as running. Only the next step may begin.
func (h *Hop) BeginStep(index int) error {
	if h.status != HopStatusRunning {
		return h.invalid(CommandStartHop)
	}
	if index != h.nextStep || index >= len(h.steps) {
		return &binding.ValidationError{Field: "step", Reason: fmt.Sprintf("step %d is not the next step of hop %s", index, h.id)}
	}
	h.steps[index].Status = toolstep.StatusRunning
	h.steps[index].Error = ""
	h.touch()
	return nil
}

// CompleteStep records a successful step and replaces the hop state.
func (h *Hop) CompleteStep(index int, step toolstep.ToolStep, state binding.State) error {
	if h.status != HopStatusRunning {
		return h.invalid(CommandStartHop)
	}
	if index != h.nextStep || index >= len(h.steps) {
		return &binding.ValidationError{Field: "step", Reason: fmt.Sprintf("step %d is not the running step of hop %s", index, h.id)}
	}
	completed := step.Clone()
	completed.Status = toolstep.StatusCompleted
	completed.Error = ""
	h.steps[index] = completed
	h.state = state.Clone()
	h.nextStep = index + 1
	h.touch()
	return nil
}

// FailStep records a failed step and moves the hop to FAILED. Later steps keep their status.
func (h *Hop) FailStep(index int, step toolstep.ToolStep, cause error) error {
	if h.status != HopStatusRunning {
		return h.invalid(CommandFailHop)
	}
	if index != h.nextStep || index >= len(h.steps) {
		return &binding.ValidationError{Field: "step", Reason: fmt.Sprintf("step %d is not the running step of hop %s", index, h.id)}
	}
	msg := "step failed"
	if cause != nil {
		msg = cause.Error()
	}
	failed := step.Clone()
	failed.Status = toolstep.StatusFailed
	failed.Error = msg
	h.steps[index] = failed
	h.status = HopStatusFailed
	h.errorMsg = msg
	h.failedStep = index
	h.touch()
	return nil
}

// Fail moves a running hop to FAILED. A step still in flight is marked failed and its
// result will be dropped.
func (h *Hop) Fail(reason string) error {
	if h.status != HopStatusRunning {
		return h.invalid(CommandFailHop)
	}
	if reason == "" {
		reason = "hop execution failed"
	}
	if h.nextStep < len(h.steps) && h.steps[h.nextStep].Status == toolstep.StatusRunning {
		h.steps[h.nextStep].Status = toolstep.StatusFailed
		h.steps[h.nextStep].Error = reason
	}
	h.status = HopStatusFailed
	h.errorMsg = reason
	h.failedStep = h.nextStep
	h.touch()
	return nil
}

// Retry re-enters RUNNING. With RetryResume the failed step and its successors are reset
// and execution continues from the failed step over the state as last observed. A hop
// that failed on incomplete outputs resumes from the first step mapping a missing output,
// or from its last step. With RetryRestart every step is reset and the state is seeded
// again from mission assets.
func (h *Hop) Retry(mode RetryMode, missionAssets map[string]binding.Asset) error {
	if h.status != HopStatusFailed {
		return h.invalid(CommandRetryHop)
	}

	switch mode {
	case RetryRestart:
		state, err := h.seed(missionAssets)
		if err != nil {
			return err
		}
		h.state = state
		for i := range h.steps {
			h.steps[i].Reset()
		}
		h.nextStep = 0
	case RetryResume, "":
		from := h.failedStep
		if from < 0 || from > len(h.steps) {
			from = h.nextStep
		}
		if from >= len(h.steps) && len(h.steps) > 0 {
			from = h.producerOf(h.MissingOutputs())
		}
		for i := from; i < len(h.steps); i++ {
			h.steps[i].Reset()
		}
		h.nextStep = from
	default:
		return &binding.ValidationError{Field: "retry_mode", Reason: fmt.Sprintf("unknown retry mode %q", mode)}
	}

	h.status = HopStatusRunning
	h.failedStep = -1
	h.errorMsg = ""
	h.attempt++
	h.touch()
	return nil
}

// Finish closes a run once every step completed. The hop becomes READY_TO_RESOLVE only
// when every output-mapped variable holds a value; otherwise it fails.
func (h *Hop) Finish() error {
	if h.status != HopStatusRunning {
		return h.invalid(CommandResolveHop)
	}
	if h.nextStep < len(h.steps) {
		return &binding.ValidationError{Field: "steps", Reason: fmt.Sprintf("hop %s has %d steps left to run", h.id, len(h.steps)-h.nextStep)}
	}

	missing := h.MissingOutputs()
	if len(missing) > 0 {
		h.status = HopStatusFailed
		h.errorMsg = fmt.Sprintf("hop finished but output variables %s have no value; "+
			"retry_hop_execution reruns the step that maps them, or use mode restart to rerun every step",
			strings.Join(missing, ", "))
		h.failedStep = -1
		h.touch()
		return fmt.Errorf("%w: %s", ErrOutputsIncomplete, strings.Join(missing, ", "))
	}

	h.status = HopStatusReadyToResolve
	h.touch()
	return nil
}

// producerOf returns the first step whose result mapping writes one of the given
// variables, or the last step when none does.
func (h *Hop) producerOf(locals []string) int {
	wanted := make(map[string]bool, len(locals))
	for _, local := range locals {
		wanted[local] = true
	}
	for i, step := range h.steps {
		for _, result := range step.ResultMapping.Names() {
			if af, ok := step.ResultMapping[result].(binding.AssetField); ok && wanted[af.StateAsset] {
				return i
			}
		}
	}
	return len(h.steps) - 1
}

// MissingOutputs lists output-mapped local variables that have no value, sorted.
func (h *Hop) MissingOutputs() []string {
	var missing []string
	for _, local := range sortedKeys(h.outputMapping) {
		if asset, ok := h.state[local]; !ok || !asset.HasValue() {
			missing = append(missing, local)
		}
	}
	return missing
}

// Outputs returns the output-mapped variables keyed by mission asset id.
func (h *Hop) Outputs() map[string]binding.Asset {
	out := make(map[string]binding.Asset, len(h.outputMapping))
	for local, assetID := range h.outputMapping {
		asset, ok := h.state[local]
		if !ok {
			continue
		}
		copied := asset.Clone()
		copied.ID = assetID
		out[assetID] = copied
	}
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
