// Package workflow defines the execution data model the autonomy scheduler
// reads and mutates: workflow definitions, their phases and gates, and the
// per-execution state of each.
package workflow

import (
	"time"
)

// AutonomyLevel controls whether gates may be approved without a human.
type AutonomyLevel string

const (
	// AutonomyFull allows eligible gates to be approved automatically.
	AutonomyFull AutonomyLevel = "full"
	// AutonomySupervised keeps phases moving but routes every gate to a human.
	AutonomySupervised AutonomyLevel = "supervised"
	// AutonomyManual excludes the execution from autonomous progression.
	AutonomyManual AutonomyLevel = "manual"
)

// IsValid reports whether the level is one of the known values.
func (a AutonomyLevel) IsValid() bool {
	switch a {
	case AutonomyFull, AutonomySupervised, AutonomyManual:
		return true
	}
	return false
}

// ExecutionStatus is the lifecycle status of an execution.
type ExecutionStatus string

const (
	StatusActive    ExecutionStatus = "active"
	StatusPaused    ExecutionStatus = "paused"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// ApprovalType declares who may approve a gate.
type ApprovalType string

const (
	ApprovalAuto        ApprovalType = "auto"
	ApprovalConditional ApprovalType = "conditional"
	ApprovalHuman       ApprovalType = "human"
)

// GateStatus is the approval status of a gate on one execution.
type GateStatus string

const (
	GateStatusPending  GateStatus = "pending"
	GateStatusApproved GateStatus = "approved"
	GateStatusRejected GateStatus = "rejected"
)

// PhaseStatus is the completion status of a phase on one execution.
type PhaseStatus string

const (
	PhaseStatusPending   PhaseStatus = "pending"
	PhaseStatusCompleted PhaseStatus = "completed"
)

// SkillStatus is the status of one skill inside a phase.
type SkillStatus string

const (
	SkillStatusPending   SkillStatus = "pending"
	SkillStatusRunning   SkillStatus = "running"
	SkillStatusCompleted SkillStatus = "completed"
	SkillStatusFailed    SkillStatus = "failed"
)

// Phase is one step of a workflow. A phase is complete once all of its
// skills have completed.
type Phase struct {
	Name   string   `json:"name"`
	Skills []string `json:"skills,omitempty"`
}

// Gate is a named checkpoint after a phase that must be approved before the
// next phase begins.
type Gate struct {
	ID           string       `json:"id"`
	AfterPhase   string       `json:"after_phase"`
	Required     bool         `json:"required"`
	ApprovalType ApprovalType `json:"approval_type"`
	Deliverables []string     `json:"deliverables,omitempty"`
	Description  string       `json:"description,omitempty"`
}

// GateState records the approval status of a gate on one execution.
type GateState struct {
	GateID            string     `json:"gate_id"`
	Status            GateStatus `json:"status"`
	ApprovedBy        string     `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	SkippedGuarantees bool       `json:"skipped_guarantees,omitempty"`
	RejectedBy        string     `json:"rejected_by,omitempty"`
	RejectReason      string     `json:"reject_reason,omitempty"`
}

// SkillState tracks one skill inside a phase.
type SkillState struct {
	Status    SkillStatus `json:"status"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
}

// Note is a piece of free-form feedback left on an execution.
type Note struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Definition is a workflow template. Executions are instantiated from it.
type Definition struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Phases      []Phase       `json:"phases"`
	Gates       []Gate        `json:"gates,omitempty"`
	Autonomy    AutonomyLevel `json:"autonomy,omitempty"`
}

// Execution is an in-flight instance of a workflow definition.
type Execution struct {
	ID       string            `json:"id"`
	Workflow string            `json:"workflow"`
	Target   string            `json:"target,omitempty"`
	Engineer string            `json:"engineer,omitempty"`
	Workdir  string            `json:"workdir,omitempty"`
	Params   map[string]string `json:"params,omitempty"`

	Phases []Phase `json:"phases"`
	Gates  []Gate  `json:"gates,omitempty"`

	CurrentPhase string                           `json:"current_phase"`
	PhaseStatus  map[string]PhaseStatus           `json:"phase_status"`
	Skills       map[string]map[string]SkillState `json:"skills"`
	GateStates   map[string]*GateState            `json:"gate_states"`

	Autonomy AutonomyLevel   `json:"autonomy"`
	Status   ExecutionStatus `json:"status"`
	Feedback []Note          `json:"feedback,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Revision is the store revision this copy was read at. Stores use it
	// for optimistic concurrency and never serialize it.
	Revision uint64 `json:"-"`
}
