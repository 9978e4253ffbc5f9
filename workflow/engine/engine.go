// Package engine is the execution approval API. It loads executions from a
// workflow.Store, applies gate approvals and phase transitions, and selects
// the executions the autonomy scheduler is allowed to drive.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/semgate/workflow"
	"github.com/c360studio/semgate/workflow/guarantee"
)

// ErrUnknownWorkflow is returned when starting a workflow that is not in the catalog.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// GuaranteeError reports that a gate cannot be approved because some of its
// deliverables are missing.
type GuaranteeError struct {
	GateID  string
	Missing []string
}

func (e *GuaranteeError) Error() string {
	return fmt.Sprintf("gate %s blocked by %d unmet requirement(s): %s",
		e.GateID, len(e.Missing), strings.Join(e.Missing, ", "))
}

// ApproveOptions controls a gate approval.
type ApproveOptions struct {
	Approver string
	// SkipGuarantees approves without checking deliverables and records
	// that the check was skipped.
	SkipGuarantees bool
	// Prechecked means the caller has just seen the guarantees pass.
	Prechecked bool
}

// Engine coordinates approvals and phase transitions on stored executions.
type Engine struct {
	store   workflow.Store
	checker guarantee.Checker
	catalog map[string]workflow.Definition
	clock   func() time.Time
	logger  *slog.Logger
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDefinitions registers workflow definitions that Start can instantiate.
func WithDefinitions(defs ...workflow.Definition) Option {
	return func(e *Engine) {
		for _, d := range defs {
			e.catalog[d.Name] = d
		}
	}
}

// New wires an engine to its store and guarantee checker.
func New(store workflow.Store, checker guarantee.Checker, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("workflow engine: execution store is required")
	}
	if checker == nil {
		return nil, fmt.Errorf("workflow engine: guarantee checker is required")
	}
	e := &Engine{
		store:   store,
		checker: checker,
		catalog: make(map[string]workflow.Definition),
		clock:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Workflows returns the catalog names in sorted order.
func (e *Engine) Workflows() []string {
	names := make([]string, 0, len(e.catalog))
	for name := range e.catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get loads one execution.
func (e *Engine) Get(ctx context.Context, id string) (*workflow.Execution, error) {
	return e.store.Get(ctx, id)
}

// ListEligible returns active executions whose autonomy level lets the
// scheduler drive them, least recently updated first, capped at limit.
// A limit <= 0 returns every eligible execution.
func (e *Engine) ListEligible(ctx context.Context, limit int) ([]*workflow.Execution, error) {
	execs, err := e.store.List(ctx, workflow.ListFilter{
		Statuses: []workflow.ExecutionStatus{workflow.StatusActive},
		Autonomy: []workflow.AutonomyLevel{workflow.AutonomyFull, workflow.AutonomySupervised},
	})
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	sort.SliceStable(execs, func(i, j int) bool {
		if !execs[i].UpdatedAt.Equal(execs[j].UpdatedAt) {
			return execs[i].UpdatedAt.Before(execs[j].UpdatedAt)
		}
		return execs[i].ID < execs[j].ID
	})

	if limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

// ApproveGate approves a gate. Unless opts.SkipGuarantees is set the gate's
// guarantees are checked first and a *GuaranteeError is returned when they fail.
func (e *Engine) ApproveGate(ctx context.Context, id, gateID string, opts ApproveOptions) error {
	if !opts.SkipGuarantees && !opts.Prechecked {
		res, err := e.checker.Check(ctx, id, gateID)
		if err != nil {
			return fmt.Errorf("check guarantees: %w", err)
		}
		if !res.Passed {
			return &GuaranteeError{GateID: gateID, Missing: res.Missing}
		}
	}

	err := e.update(ctx, id, func(exec *workflow.Execution, now time.Time) error {
		return exec.ApproveGate(gateID, opts.Approver, opts.SkipGuarantees, now)
	})
	if err != nil {
		return err
	}

	e.logger.Info("Gate approved",
		"execution_id", id,
		"gate_id", gateID,
		"approver", opts.Approver,
		"skipped_guarantees", opts.SkipGuarantees)
	return nil
}

// RejectGate rejects a gate and pauses the execution.
func (e *Engine) RejectGate(ctx context.Context, id, gateID, by, reason string) error {
	err := e.update(ctx, id, func(exec *workflow.Execution, now time.Time) error {
		return exec.RejectGate(gateID, by, reason, now)
	})
	if err != nil {
		return err
	}
	e.logger.Info("Gate rejected", "execution_id", id, "gate_id", gateID, "by", by, "reason", reason)
	return nil
}

// CompletePhase completes the current phase. It reports whether the whole
// execution completed as a result.
func (e *Engine) CompletePhase(ctx context.Context, id string) (bool, error) {
	var done bool
	err := e.update(ctx, id, func(exec *workflow.Execution, now time.Time) error {
		if exec.Status != workflow.StatusActive {
			return fmt.Errorf("%w: %s", workflow.ErrNotActive, exec.Status)
		}
		if err := exec.CompleteCurrentPhase(now); err != nil {
			return err
		}
		done = exec.Status == workflow.StatusCompleted
		return nil
	})
	return done, err
}

// AdvancePhase moves the execution to its next phase.
func (e *Engine) AdvancePhase(ctx context.Context, id string) (string, error) {
	var next string
	err := e.update(ctx, id, func(exec *workflow.Execution, now time.Time) error {
		if exec.Status != workflow.StatusActive {
			return fmt.Errorf("%w: %s", workflow.ErrNotActive, exec.Status)
		}
		var err error
		next, err = exec.AdvancePhase(now)
		return err
	})
	return next, err
}

// Continue resumes a paused execution.
func (e *Engine) Continue(ctx context.Context, id, by string) error {
	err := e.update(ctx, id, func(exec *workflow.Execution, now time.Time) error {
		return exec.Resume(now)
	})
	if err != nil {
		return err
	}
	e.logger.Info("Execution resumed", "execution_id", id, "by", by)
	return nil
}

// RecordFeedback appends free-form feedback to an execution.
func (e *Engine) RecordFeedback(ctx context.Context, id, author, text string) error {
	return e.update(ctx, id, func(exec *workflow.Execution, now time.Time) error {
		exec.AddFeedback(author, text, now)
		return nil
	})
}

// RetrySkills resets failed skills of the current phase that have attempts
// left and returns their names.
func (e *Engine) RetrySkills(ctx context.Context, id string, maxAttempts int) ([]string, error) {
	var retried []string
	err := e.update(ctx, id, func(exec *workflow.Execution, now time.Time) error {
		retried = exec.RetryFailedSkills(maxAttempts, now)
		if len(retried) == 0 {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil, nil
	}
	return retried, err
}

// Start instantiates a workflow from the catalog and stores it.
func (e *Engine) Start(ctx context.Context, workflowName, target, engineer string) (*workflow.Execution, error) {
	def, ok := e.catalog[workflowName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowName)
	}

	exec, err := workflow.NewExecution(def, target, e.clock())
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	exec.Engineer = engineer

	if err := e.store.Save(ctx, exec); err != nil {
		return nil, fmt.Errorf("save execution: %w", err)
	}

	e.logger.Info("Execution started",
		"execution_id", exec.ID,
		"workflow", workflowName,
		"target", target)
	return exec, nil
}

// errNoChange aborts an update without saving.
var errNoChange = errors.New("no change")

// update loads, mutates and saves an execution, retrying once on a revision
// conflict.
func (e *Engine) update(ctx context.Context, id string, mutate func(*workflow.Execution, time.Time) error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		exec, err := e.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(exec, e.clock()); err != nil {
			return err
		}
		lastErr = e.store.Save(ctx, exec)
		if !errors.Is(lastErr, workflow.ErrConflict) {
			return lastErr
		}
		e.logger.Debug("Execution revision conflict, retrying", "execution_id", id)
	}
	return lastErr
}
