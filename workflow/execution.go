package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewExecution instantiates a definition. All gates start pending, all skills
// pending, and the current phase is the first phase of the definition.
func NewExecution(def Definition, target string, now time.Time) (*Execution, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("definition name is required")
	}
	if len(def.Phases) == 0 {
		return nil, fmt.Errorf("definition %s has no phases", def.Name)
	}

	autonomy := def.Autonomy
	if autonomy == "" {
		autonomy = AutonomySupervised
	}

	exec := &Execution{
		ID:           fmt.Sprintf("exec-%s", uuid.New().String()[:8]),
		Workflow:     def.Name,
		Target:       target,
		Phases:       append([]Phase(nil), def.Phases...),
		Gates:        append([]Gate(nil), def.Gates...),
		CurrentPhase: def.Phases[0].Name,
		PhaseStatus:  make(map[string]PhaseStatus, len(def.Phases)),
		Skills:       make(map[string]map[string]SkillState, len(def.Phases)),
		GateStates:   make(map[string]*GateState, len(def.Gates)),
		Autonomy:     autonomy,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if target != "" {
		exec.Params = map[string]string{"target": target}
	}

	for _, p := range def.Phases {
		exec.PhaseStatus[p.Name] = PhaseStatusPending
		skills := make(map[string]SkillState, len(p.Skills))
		for _, s := range p.Skills {
			skills[s] = SkillState{Status: SkillStatusPending}
		}
		exec.Skills[p.Name] = skills
	}
	for _, g := range def.Gates {
		exec.GateStates[g.ID] = &GateState{GateID: g.ID, Status: GateStatusPending}
	}

	return exec, nil
}

// PhaseIndex returns the position of the named phase, or -1.
func (e *Execution) PhaseIndex(name string) int {
	for i, p := range e.Phases {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// NextPhase returns the phase after the current one, if any.
func (e *Execution) NextPhase() (string, bool) {
	idx := e.PhaseIndex(e.CurrentPhase)
	if idx < 0 || idx+1 >= len(e.Phases) {
		return "", false
	}
	return e.Phases[idx+1].Name, true
}

// IsLastPhase reports whether the current phase is the final one.
func (e *Execution) IsLastPhase() bool {
	_, ok := e.NextPhase()
	return !ok
}

// Gate returns the gate definition with the given id.
func (e *Execution) Gate(id string) (Gate, bool) {
	for _, g := range e.Gates {
		if g.ID == id {
			return g, true
		}
	}
	return Gate{}, false
}

// GateState returns the approval state of a gate. Gates without a recorded
// state are reported as pending.
func (e *Execution) GateState(id string) GateState {
	if st, ok := e.GateStates[id]; ok && st != nil {
		return *st
	}
	return GateState{GateID: id, Status: GateStatusPending}
}

// GatesAfter returns the gates attached after the named phase, in
// declaration order.
func (e *Execution) GatesAfter(phase string) []Gate {
	var gates []Gate
	for _, g := range e.Gates {
		if g.AfterPhase == phase {
			gates = append(gates, g)
		}
	}
	return gates
}

// PendingGates returns the gates after the current phase that are still
// pending approval.
func (e *Execution) PendingGates() []Gate {
	var pending []Gate
	for _, g := range e.GatesAfter(e.CurrentPhase) {
		if e.GateState(g.ID).Status == GateStatusPending {
			pending = append(pending, g)
		}
	}
	return pending
}

// SkillsComplete reports whether every skill of the phase has completed.
// A phase that declares no skills is complete.
func (e *Execution) SkillsComplete(phase string) bool {
	for _, st := range e.Skills[phase] {
		if st.Status != SkillStatusCompleted {
			return false
		}
	}
	return true
}

// PhaseCompleted reports whether the named phase was marked completed.
func (e *Execution) PhaseCompleted(phase string) bool {
	return e.PhaseStatus[phase] == PhaseStatusCompleted
}

// ApproveGate marks the gate approved. Approving an approved gate is a no-op.
func (e *Execution) ApproveGate(gateID, approver string, skipGuarantees bool, now time.Time) error {
	if _, ok := e.Gate(gateID); !ok {
		return fmt.Errorf("%w: %s", ErrGateNotFound, gateID)
	}
	if e.GateStates == nil {
		e.GateStates = make(map[string]*GateState)
	}
	st, ok := e.GateStates[gateID]
	if !ok || st == nil {
		st = &GateState{GateID: gateID}
		e.GateStates[gateID] = st
	}
	if st.Status == GateStatusApproved {
		return nil
	}

	at := now
	st.Status = GateStatusApproved
	st.ApprovedBy = approver
	st.ApprovedAt = &at
	st.SkippedGuarantees = skipGuarantees
	st.RejectedBy = ""
	st.RejectReason = ""
	e.UpdatedAt = now
	return nil
}

// RejectGate marks the gate rejected and pauses the execution until a human
// resumes it.
func (e *Execution) RejectGate(gateID, by, reason string, now time.Time) error {
	if _, ok := e.Gate(gateID); !ok {
		return fmt.Errorf("%w: %s", ErrGateNotFound, gateID)
	}
	if e.GateStates == nil {
		e.GateStates = make(map[string]*GateState)
	}
	e.GateStates[gateID] = &GateState{
		GateID:       gateID,
		Status:       GateStatusRejected,
		RejectedBy:   by,
		RejectReason: reason,
	}
	if e.Status == StatusActive {
		e.Status = StatusPaused
	}
	e.UpdatedAt = now
	return nil
}

// CompleteCurrentPhase marks the current phase completed once its skills are
// done and its required gates approved. Completing the last phase completes
// the execution.
func (e *Execution) CompleteCurrentPhase(now time.Time) error {
	phase := e.CurrentPhase
	if e.PhaseCompleted(phase) {
		return ErrPhaseAlreadyComplete
	}
	if !e.SkillsComplete(phase) {
		return fmt.Errorf("%w: %s", ErrSkillsIncomplete, phase)
	}
	for _, g := range e.GatesAfter(phase) {
		if g.Required && e.GateState(g.ID).Status != GateStatusApproved {
			return fmt.Errorf("%w: %s", ErrGatesPending, g.ID)
		}
	}

	if e.PhaseStatus == nil {
		e.PhaseStatus = make(map[string]PhaseStatus)
	}
	e.PhaseStatus[phase] = PhaseStatusCompleted
	if e.IsLastPhase() {
		e.Status = StatusCompleted
	}
	e.UpdatedAt = now
	return nil
}

// AdvancePhase moves the execution to the next phase.
func (e *Execution) AdvancePhase(now time.Time) (string, error) {
	if !e.PhaseCompleted(e.CurrentPhase) {
		return "", fmt.Errorf("%w: %s", ErrPhaseIncomplete, e.CurrentPhase)
	}
	next, ok := e.NextPhase()
	if !ok {
		return "", ErrNoNextPhase
	}
	e.CurrentPhase = next
	e.UpdatedAt = now
	return next, nil
}

// Resume reactivates a paused execution and reopens rejected gates.
func (e *Execution) Resume(now time.Time) error {
	switch e.Status {
	case StatusActive:
		return nil
	case StatusPaused:
	default:
		return fmt.Errorf("cannot resume %s execution", e.Status)
	}
	for id, st := range e.GateStates {
		if st != nil && st.Status == GateStatusRejected {
			e.GateStates[id] = &GateState{GateID: id, Status: GateStatusPending}
		}
	}
	e.Status = StatusActive
	e.UpdatedAt = now
	return nil
}

// AddFeedback appends a note to the execution.
func (e *Execution) AddFeedback(author, text string, now time.Time) {
	e.Feedback = append(e.Feedback, Note{Author: author, Text: text, CreatedAt: now})
	e.UpdatedAt = now
}

// RetryFailedSkills resets failed skills of the current phase whose attempts
// are below maxAttempts and returns their names.
func (e *Execution) RetryFailedSkills(maxAttempts int, now time.Time) []string {
	skills := e.Skills[e.CurrentPhase]
	var retried []string
	for _, p := range e.Phases {
		if p.Name != e.CurrentPhase {
			continue
		}
		for _, name := range p.Skills {
			st, ok := skills[name]
			if !ok || st.Status != SkillStatusFailed || st.Attempts >= maxAttempts {
				continue
			}
			st.Status = SkillStatusPending
			st.Attempts++
			skills[name] = st
			retried = append(retried, name)
		}
	}
	if len(retried) > 0 {
		e.UpdatedAt = now
	}
	return retried
}

// Clone returns a deep copy of the execution.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	if e.Params != nil {
		c.Params = make(map[string]string, len(e.Params))
		for k, v := range e.Params {
			c.Params[k] = v
		}
	}
	c.Phases = make([]Phase, len(e.Phases))
	for i, p := range e.Phases {
		c.Phases[i] = Phase{Name: p.Name, Skills: append([]string(nil), p.Skills...)}
	}
	c.Gates = make([]Gate, len(e.Gates))
	for i, g := range e.Gates {
		g.Deliverables = append([]string(nil), g.Deliverables...)
		c.Gates[i] = g
	}
	c.PhaseStatus = make(map[string]PhaseStatus, len(e.PhaseStatus))
	for k, v := range e.PhaseStatus {
		c.PhaseStatus[k] = v
	}
	c.Skills = make(map[string]map[string]SkillState, len(e.Skills))
	for phase, skills := range e.Skills {
		m := make(map[string]SkillState, len(skills))
		for k, v := range skills {
			m[k] = v
		}
		c.Skills[phase] = m
	}
	c.GateStates = make(map[string]*GateState, len(e.GateStates))
	for k, v := range e.GateStates {
		if v == nil {
			continue
		}
		st := *v
		if v.ApprovedAt != nil {
			at := *v.ApprovedAt
			st.ApprovedAt = &at
		}
		c.GateStates[k] = &st
	}
	c.Feedback = append([]Note(nil), e.Feedback...)
	return &c
}
