package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/semgate/workflow"
	"github.com/c360studio/semgate/workflow/engine"
	"github.com/c360studio/semgate/workflow/guarantee"
	"github.com/c360studio/semgate/workflow/recovery"
)

// ErrMissingContext is returned when a command does not identify the
// execution or gate it targets.
var ErrMissingContext = errors.New("command is missing execution context")

// ErrRecoveryUnavailable is returned for recovery requests when no launcher
// is configured.
var ErrRecoveryUnavailable = errors.New("recovery agent is not configured")

// API is the execution approval API the executor acts on.
// *engine.Engine satisfies it.
type API interface {
	Get(ctx context.Context, id string) (*workflow.Execution, error)
	ListEligible(ctx context.Context, limit int) ([]*workflow.Execution, error)
	ApproveGate(ctx context.Context, id, gateID string, opts engine.ApproveOptions) error
	RejectGate(ctx context.Context, id, gateID, by, reason string) error
	Continue(ctx context.Context, id, by string) error
	Start(ctx context.Context, workflowName, target, engineer string) (*workflow.Execution, error)
	RecordFeedback(ctx context.Context, id, author, text string) error
}

// Executor runs commands directly against the approval API. It never reads
// or writes the scheduler's retry state.
type Executor struct {
	api      API
	launcher recovery.Launcher
	checker  guarantee.Checker
	clock    func() time.Time
	logger   *slog.Logger
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithRecovery enables request_recovery. The checker supplies the missing
// deliverables handed to the launcher.
func WithRecovery(launcher recovery.Launcher, checker guarantee.Checker) ExecutorOption {
	return func(e *Executor) {
		e.launcher = launcher
		e.checker = checker
	}
}

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithExecutorClock injects a clock.
func WithExecutorClock(clock func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewExecutor creates an executor acting on api.
func NewExecutor(api API, opts ...ExecutorOption) *Executor {
	e := &Executor{
		api:    api,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle executes a command. Errors are meant for Describe; they are never
// shown to a human verbatim.
func (e *Executor) Handle(ctx context.Context, c Command) (Result, error) {
	res := Result{Kind: c.Kind, ExecutionID: c.ExecutionID, GateID: c.GateID}
	user := c.User
	if user == "" {
		user = "unknown"
	}

	if !c.complete() {
		return res, ErrMissingContext
	}

	e.logger.Info("Executing command",
		"kind", c.Kind,
		"execution_id", c.ExecutionID,
		"gate_id", c.GateID,
		"user", user)

	switch c.Kind {
	case KindApprove, KindForceApprove:
		force := c.Kind == KindForceApprove
		err := e.api.ApproveGate(ctx, c.ExecutionID, c.GateID, engine.ApproveOptions{
			Approver:       user,
			SkipGuarantees: force,
		})
		if err != nil {
			return res, err
		}
		if force {
			res.Message = fmt.Sprintf("Gate %s force-approved by %s (guarantees skipped).", c.GateID, user)
		} else {
			res.Message = fmt.Sprintf("Gate %s approved by %s.", c.GateID, user)
		}

	case KindReject:
		if err := e.api.RejectGate(ctx, c.ExecutionID, c.GateID, user, c.Reason); err != nil {
			return res, err
		}
		res.Message = fmt.Sprintf("Gate %s rejected by %s. Execution %s is paused.", c.GateID, user, c.ExecutionID)
		if c.Reason != "" {
			res.Message += " Reason: " + c.Reason
		}

	case KindContinue:
		if err := e.api.Continue(ctx, c.ExecutionID, user); err != nil {
			return res, err
		}
		res.Message = fmt.Sprintf("Execution %s continues.", c.ExecutionID)

	case KindRequestRecovery:
		if err := e.requestRecovery(ctx, c); err != nil {
			return res, err
		}
		res.Message = fmt.Sprintf("Recovery agent launched for gate %s.", c.GateID)

	case KindStartWorkflow:
		exec, err := e.api.Start(ctx, c.Workflow, c.Target, user)
		if err != nil {
			return res, err
		}
		res.ExecutionID = exec.ID
		res.Message = fmt.Sprintf("Started %s as %s.", c.Workflow, exec.ID)
		if c.Target != "" {
			res.Message = fmt.Sprintf("Started %s for %s as %s.", c.Workflow, c.Target, exec.ID)
		}

	case KindStatus:
		msg, err := e.status(ctx, c.ExecutionID)
		if err != nil {
			return res, err
		}
		res.Message = msg

	case KindFeedback:
		if err := e.api.RecordFeedback(ctx, c.ExecutionID, user, c.Text); err != nil {
			return res, err
		}
		res.Message = "Feedback recorded."
	}

	return res, nil
}

func (e *Executor) requestRecovery(ctx context.Context, c Command) error {
	if e.launcher == nil || e.checker == nil {
		return ErrRecoveryUnavailable
	}

	exec, err := e.api.Get(ctx, c.ExecutionID)
	if err != nil {
		return err
	}
	gate, ok := exec.Gate(c.GateID)
	if !ok {
		return fmt.Errorf("%w: %s", workflow.ErrGateNotFound, c.GateID)
	}

	res, err := e.checker.Check(ctx, c.ExecutionID, c.GateID)
	if err != nil {
		return fmt.Errorf("check guarantees: %w", err)
	}
	missing := res.Missing
	if len(missing) == 0 {
		missing = gate.Deliverables
	}

	task := recovery.NewTask(exec, gate, missing, e.clock())
	if err := e.launcher.Launch(ctx, task); err != nil {
		return fmt.Errorf("launch recovery: %w", err)
	}
	return nil
}

func (e *Executor) status(ctx context.Context, id string) (string, error) {
	if id == "" {
		execs, err := e.api.ListEligible(ctx, 0)
		if err != nil {
			return "", err
		}
		if len(execs) == 0 {
			return "No executions in progress.", nil
		}
		lines := make([]string, 0, len(execs)+1)
		lines = append(lines, fmt.Sprintf("%d execution(s) in progress:", len(execs)))
		for _, exec := range execs {
			lines = append(lines, fmt.Sprintf("- %s (%s) in phase %s", exec.ID, exec.Workflow, exec.CurrentPhase))
		}
		return strings.Join(lines, "\n"), nil
	}

	exec, err := e.api.Get(ctx, id)
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Execution %s (%s) is %s in phase %s.", exec.ID, exec.Workflow, exec.Status, exec.CurrentPhase)
	if pending := exec.PendingGates(); len(pending) > 0 {
		ids := make([]string, len(pending))
		for i, g := range pending {
			ids[i] = g.ID
		}
		msg += " Waiting on: " + strings.Join(ids, ", ") + "."
	}
	return msg, nil
}
