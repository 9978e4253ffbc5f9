// Package recovery launches agents that try to produce a gate's missing
// deliverables. Launching is fire-and-forget: a nil error only means the
// agent was started, not that it succeeded. Success is observed later when
// the gate's guarantees pass.
package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semgate/workflow"
)

// Task describes one recovery attempt.
type Task struct {
	ID           string    `json:"task_id"`
	ExecutionID  string    `json:"execution_id"`
	Workflow     string    `json:"workflow"`
	Phase        string    `json:"phase"`
	GateID       string    `json:"gate_id"`
	Missing      []string  `json:"missing"`
	Deliverables []string  `json:"deliverables,omitempty"`
	Workdir      string    `json:"workdir,omitempty"`
	Prompt       string    `json:"prompt"`
	CreatedAt    time.Time `json:"created_at"`
}

// Launcher starts a recovery agent for a task.
type Launcher interface {
	Launch(ctx context.Context, task Task) error
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, task Task) error

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// NewTask builds a recovery task for a gate of an execution.
func NewTask(exec *workflow.Execution, gate workflow.Gate, missing []string, now time.Time) Task {
	return Task{
		ID:           uuid.New().String(),
		ExecutionID:  exec.ID,
		Workflow:     exec.Workflow,
		Phase:        exec.CurrentPhase,
		GateID:       gate.ID,
		Missing:      append([]string(nil), missing...),
		Deliverables: append([]string(nil), gate.Deliverables...),
		Workdir:      exec.Workdir,
		Prompt:       renderPrompt(exec, gate, missing),
		CreatedAt:    now,
	}
}

func renderPrompt(exec *workflow.Execution, gate workflow.Gate, missing []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Workflow %q (execution %s) is blocked at gate %q after phase %q.\n",
		exec.Workflow, exec.ID, gate.ID, exec.CurrentPhase)
	if gate.Description != "" {
		fmt.Fprintf(&sb, "Gate purpose: %s\n", gate.Description)
	}
	sb.WriteString("Produce the following missing deliverables:\n")
	for _, m := range missing {
		fmt.Fprintf(&sb, "- %s\n", m)
	}
	if exec.Workdir != "" {
		fmt.Fprintf(&sb, "Work in %s. Paths are relative to it.\n", exec.Workdir)
	}
	return sb.String()
}
