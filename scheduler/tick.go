package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semgate/notify"
	"github.com/c360studio/semgate/workflow"
	"github.com/c360studio/semgate/workflow/engine"
	"github.com/c360studio/semgate/workflow/recovery"
)

// ActionType names something a tick did.
type ActionType string

const (
	ActionGateAutoApproved ActionType = "gate_auto_approved"
	ActionPhaseAdvanced    ActionType = "phase_advanced"
	ActionPhaseCompleted   ActionType = "phase_completed"
	ActionLoopCompleted    ActionType = "loop_completed"
	ActionEscalation       ActionType = "escalation"
	ActionRecoveryLaunched ActionType = "recovery_launched"
	ActionSkillRetried     ActionType = "skill_retried"
)

// Action is one side effect of a tick.
type Action struct {
	Type        ActionType `json:"type"`
	ExecutionID string     `json:"execution_id"`
	GateID      string     `json:"gate_id,omitempty"`
	Phase       string     `json:"phase,omitempty"`
	Detail      string     `json:"detail,omitempty"`
}

// TickError is a failure isolated to one execution.
type TickError struct {
	ExecutionID string `json:"execution_id"`
	GateID      string `json:"gate_id,omitempty"`
	Op          string `json:"op"`
	Err         error  `json:"-"`
}

func (e TickError) Error() string {
	if e.GateID != "" {
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.ExecutionID, e.GateID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e TickError) Unwrap() error { return e.Err }

// TickResult is the audit record of one tick.
type TickResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Executions int           `json:"executions"`
	Actions    []Action      `json:"actions,omitempty"`
	Errors     []TickError   `json:"errors,omitempty"`
}

// run collects the outcome of one execution.
type run struct {
	exec    *workflow.Execution
	opts    Options
	actions []Action
	errs    []TickError
}

func (r *run) act(t ActionType, gateID, detail string) {
	r.actions = append(r.actions, Action{
		Type:        t,
		ExecutionID: r.exec.ID,
		GateID:      gateID,
		Phase:       r.exec.CurrentPhase,
		Detail:      detail,
	})
}

func (r *run) fail(op, gateID string, err error) {
	r.errs = append(r.errs, TickError{ExecutionID: r.exec.ID, GateID: gateID, Op: op, Err: err})
}

// Tick runs one pass over the eligible executions. Ticks never overlap: a
// call made while another tick runs waits for it. Failures of a single
// execution are reported in the result; the returned error is only set
// when no execution could be processed at all.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	if err := s.checkDependencies(); err != nil {
		return TickResult{}, err
	}

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	opts := s.Options()
	start := s.clock()
	res := TickResult{StartedAt: start}
	tickNo := s.totalTicks.Add(1)

	execs, err := s.api.ListEligible(ctx, 0)
	if err != nil {
		s.metrics.observeFailedTick(s.clock().Sub(start))
		return res, fmt.Errorf("list eligible executions: %w", err)
	}

	eligible := make(map[string]bool, len(execs))
	for _, e := range execs {
		eligible[e.ID] = true
	}
	s.prune(eligible)

	batch := s.window(execs, opts.MaxParallelExecutions, tickNo)
	runs := make([]*run, len(batch))

	var g errgroup.Group
	g.SetLimit(opts.MaxParallelExecutions)
	for i, exec := range batch {
		r := &run{exec: exec, opts: opts}
		runs[i] = r
		g.Go(func() error {
			s.processIsolated(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range runs {
		res.Actions = append(res.Actions, r.actions...)
		res.Errors = append(res.Errors, r.errs...)
	}
	res.Executions = len(batch)
	res.Duration = s.clock().Sub(start)

	s.statMu.Lock()
	s.lastTickAt = start
	s.active = len(execs)
	s.statMu.Unlock()

	s.metrics.observeTick(res, s.countByStatus())
	return res, nil
}

// window picks up to limit executions, least recently visited first, so a
// backlog larger than the limit is served round-robin across ticks.
func (s *Scheduler) window(execs []*workflow.Execution, limit int, tickNo uint64) []*workflow.Execution {
	if len(execs) <= limit {
		s.mu.Lock()
		for _, e := range execs {
			s.visited[e.ID] = tickNo
		}
		s.mu.Unlock()
		return execs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := append([]*workflow.Execution(nil), execs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return s.visited[ordered[i].ID] < s.visited[ordered[j].ID]
	})
	ordered = ordered[:limit]
	for _, e := range ordered {
		s.visited[e.ID] = tickNo
	}
	return ordered
}

func (s *Scheduler) processIsolated(ctx context.Context, r *run) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Execution processing panicked",
				"execution_id", r.exec.ID,
				"panic", p,
				"stack", string(debug.Stack()))
			r.fail("process", "", fmt.Errorf("panic: %v", p))
		}
	}()

	execCtx, cancel := context.WithTimeout(ctx, r.opts.executionTimeout())
	defer cancel()
	s.process(execCtx, r)
}

// process runs skill retries, gate evaluation, phase completion and phase
// advancement for one execution, in that order.
func (s *Scheduler) process(ctx context.Context, r *run) {
	exec := r.exec

	retried, err := s.api.RetrySkills(ctx, exec.ID, r.opts.MaxSkillRetries)
	if err != nil {
		r.fail("retry_skills", "", err)
		return
	}
	for _, skill := range retried {
		r.act(ActionSkillRetried, "", skill)
	}

	phase := exec.CurrentPhase
	if !exec.SkillsComplete(phase) {
		return
	}

	if !exec.PhaseCompleted(phase) {
		pending := exec.PendingGates()
		pendingIDs := make(map[string]bool, len(pending))
		for _, g := range pending {
			pendingIDs[g.ID] = true
		}
		s.pruneGates(exec.ID, pendingIDs)

		for _, gate := range pending {
			if ctx.Err() != nil {
				r.fail("evaluate_gate", gate.ID, ctx.Err())
				return
			}
			if !CanAutoApprove(exec, gate, s.predicates) {
				s.noticeHuman(ctx, r, gate)
				continue
			}
			s.evaluateGate(ctx, r, gate)
		}

		done, err := s.api.CompletePhase(ctx, exec.ID)
		switch {
		case err == nil && done:
			r.act(ActionLoopCompleted, "", phase)
			s.forget(exec.ID)
			s.notify(ctx, r, notify.Event{
				Type:        notify.EventLoopComplete,
				ExecutionID: exec.ID,
				LoopID:      exec.Workflow,
				Phase:       phase,
			})
			return
		case err == nil:
			r.act(ActionPhaseCompleted, "", phase)
		case isWaiting(err):
			return
		default:
			r.fail("complete_phase", "", err)
			return
		}
	}

	next, err := s.api.AdvancePhase(ctx, exec.ID)
	switch {
	case err == nil:
		r.act(ActionPhaseAdvanced, "", next)
	case isWaiting(err):
	default:
		r.fail("advance_phase", "", err)
	}
}

// isWaiting reports errors that mean "not yet" rather than "broken".
func isWaiting(err error) bool {
	return errors.Is(err, workflow.ErrGatesPending) ||
		errors.Is(err, workflow.ErrSkillsIncomplete) ||
		errors.Is(err, workflow.ErrPhaseAlreadyComplete) ||
		errors.Is(err, workflow.ErrPhaseIncomplete) ||
		errors.Is(err, workflow.ErrNoNextPhase) ||
		errors.Is(err, workflow.ErrNotActive)
}

// noticeHuman tells a human once that a required gate needs them.
func (s *Scheduler) noticeHuman(ctx context.Context, r *run, gate workflow.Gate) {
	if !gate.Required {
		return
	}
	key := gateKey{r.exec.ID, gate.ID}
	if !s.markNotice(key) {
		return
	}
	deliveries := s.notify(ctx, r, notify.Event{
		Type:         notify.EventGateWaiting,
		ExecutionID:  r.exec.ID,
		LoopID:       r.exec.Workflow,
		Phase:        r.exec.CurrentPhase,
		GateID:       gate.ID,
		Deliverables: gate.Deliverables,
		ApprovalType: gate.ApprovalType,
	})
	if deliveries == 0 {
		// Nobody heard it; try again next tick.
		s.unmarkNotice(key)
	}
}

// evaluateGate runs one step of the retry ladder for an auto-approvable gate.
func (s *Scheduler) evaluateGate(ctx context.Context, r *run, gate workflow.Gate) {
	exec := r.exec
	key := gateKey{exec.ID, gate.ID}

	result, err := s.checker.Check(ctx, exec.ID, gate.ID)
	if err != nil {
		s.logger.Warn("Guarantee check failed",
			"execution_id", exec.ID,
			"gate_id", gate.ID,
			"error", err)
		r.fail("check_guarantees", gate.ID, err)
		return
	}

	prior := s.loadRetry(key)
	if result.Passed {
		s.autoApprove(ctx, r, gate, prior)
		return
	}

	now := s.clock()
	if prior == nil {
		s.storeRetry(&RetryState{
			ExecutionID: exec.ID,
			GateID:      gate.ID,
			Status:      StatusRetrying,
			RetryCount:  1,
			LastAttempt: now,
			Missing:     result.Missing,
		})
		s.logger.Info("Gate guarantees unmet, retrying",
			"execution_id", exec.ID,
			"gate_id", gate.ID,
			"missing", result.Missing)
		return
	}

	state := prior
	state.Missing = result.Missing

	switch state.Status {
	case StatusRetrying:
		if now.Sub(state.LastAttempt) < r.opts.gateRetryDelay() {
			return
		}
		if state.RetryCount < r.opts.MaxGateRetries {
			state.RetryCount++
			state.LastAttempt = now
			s.storeRetry(state)
			s.logger.Debug("Gate retry",
				"execution_id", exec.ID,
				"gate_id", gate.ID,
				"retry_count", state.RetryCount)
			return
		}
		state.Status = StatusAwaitingRecovery
		state.RecoveryLaunchedAt = now
		state.LastAttempt = now
		s.storeRetry(state)
		s.launchRecovery(ctx, r, gate, state)

	case StatusAwaitingRecovery:
		if now.Sub(state.RecoveryLaunchedAt) <= r.opts.recoveryTimeout() {
			s.storeRetry(state)
			return
		}
		s.logger.Warn("Recovery agent timed out",
			"execution_id", exec.ID,
			"gate_id", gate.ID,
			"launched_at", state.RecoveryLaunchedAt)
		s.escalate(ctx, r, gate, state)

	case StatusEscalated:
		if !state.Notified {
			s.sendEscalation(ctx, r, gate, state)
		}
		s.storeRetry(state)
	}
}

func (s *Scheduler) launchRecovery(ctx context.Context, r *run, gate workflow.Gate, state *RetryState) {
	exec := r.exec

	var err error
	switch {
	case s.launcher == nil:
		err = errors.New("no recovery launcher configured")
	case len(state.Missing) == 0:
		err = errors.New("no missing deliverables reported")
	default:
		task := recovery.NewTask(exec, gate, state.Missing, state.RecoveryLaunchedAt)
		err = s.launcher.Launch(ctx, task)
	}
	if err != nil {
		s.logger.Warn("Recovery launch failed, escalating",
			"execution_id", exec.ID,
			"gate_id", gate.ID,
			"error", err)
		s.escalate(ctx, r, gate, state)
		return
	}

	r.act(ActionRecoveryLaunched, gate.ID, fmt.Sprintf("%d missing", len(state.Missing)))
	s.logger.Info("Recovery agent launched",
		"execution_id", exec.ID,
		"gate_id", gate.ID,
		"missing", state.Missing)
	s.notify(ctx, r, notify.Event{
		Type:         notify.EventRecoveryStarted,
		ExecutionID:  exec.ID,
		LoopID:       exec.Workflow,
		Phase:        exec.CurrentPhase,
		GateID:       gate.ID,
		Deliverables: gate.Deliverables,
		Missing:      state.Missing,
		ApprovalType: gate.ApprovalType,
		RetryCount:   state.RetryCount,
	})
}

func (s *Scheduler) escalate(ctx context.Context, r *run, gate workflow.Gate, state *RetryState) {
	exec := r.exec
	state.Status = StatusEscalated
	state.EscalatedAt = s.clock()
	state.Notified = false

	r.act(ActionEscalation, gate.ID, fmt.Sprintf("%d missing", len(state.Missing)))
	s.logger.Warn("Gate escalated to a human",
		"execution_id", exec.ID,
		"gate_id", gate.ID,
		"missing", state.Missing)
	s.sendEscalation(ctx, r, gate, state)
	s.storeRetry(state)
}

// sendEscalation asks a human to take over the gate. The state stays
// unnotified until at least one channel delivered it, so later ticks send
// it again.
func (s *Scheduler) sendEscalation(ctx context.Context, r *run, gate workflow.Gate, state *RetryState) {
	exec := r.exec
	e := notify.Event{
		Type:         notify.EventGateWaiting,
		ExecutionID:  exec.ID,
		LoopID:       exec.Workflow,
		Phase:        exec.CurrentPhase,
		GateID:       gate.ID,
		Deliverables: gate.Deliverables,
		Missing:      state.Missing,
		ApprovalType: gate.ApprovalType,
		Escalated:    true,
		RetryCount:   state.RetryCount,
		Timestamp:    s.clock(),
	}
	deliveries, err := s.notifier.Notify(ctx, e, notify.Route{ExecutionID: exec.ID})
	switch {
	case err != nil:
		r.fail("notify", gate.ID, fmt.Errorf("%s: %w", e.Type, err))
	case len(deliveries) == 0:
		r.fail("notify", gate.ID, fmt.Errorf("%s: %w", e.Type, ErrUndelivered))
	}
	if len(deliveries) == 0 {
		s.logger.Warn("Escalation reached no channel, will resend",
			"execution_id", exec.ID,
			"gate_id", gate.ID)
		return
	}
	state.Notified = true
}

func (s *Scheduler) autoApprove(ctx context.Context, r *run, gate workflow.Gate, prior *RetryState) {
	exec := r.exec

	err := s.api.ApproveGate(ctx, exec.ID, gate.ID, engine.ApproveOptions{
		Approver:   Approver,
		Prechecked: true,
	})
	if err != nil {
		r.fail("approve_gate", gate.ID, err)
		return
	}
	s.deleteRetry(gateKey{exec.ID, gate.ID})

	reason, retries := notify.ReasonGuaranteesPassed, 0
	if prior != nil {
		retries = prior.RetryCount
		switch prior.Status {
		case StatusRetrying:
			reason = notify.ReasonAfterRetry
		case StatusAwaitingRecovery:
			reason = notify.ReasonAfterRecovery
		case StatusEscalated:
			reason = notify.ReasonAfterEscalation
		}
	}

	r.act(ActionGateAutoApproved, gate.ID, string(reason))
	s.logger.Info("Gate auto-approved",
		"execution_id", exec.ID,
		"gate_id", gate.ID,
		"reason", reason)
	s.notify(ctx, r, notify.Event{
		Type:         notify.EventGateAutoApproved,
		ExecutionID:  exec.ID,
		LoopID:       exec.Workflow,
		Phase:        exec.CurrentPhase,
		GateID:       gate.ID,
		ApprovalType: gate.ApprovalType,
		Reason:       reason,
		RetryCount:   retries,
	})
}

// notify sends an event and returns the number of deliveries. Send
// failures are recorded against the execution and never retried.
func (s *Scheduler) notify(ctx context.Context, r *run, e notify.Event) int {
	e.Timestamp = s.clock()
	deliveries, err := s.notifier.Notify(ctx, e, notify.Route{ExecutionID: e.ExecutionID})
	if err != nil {
		r.fail("notify", e.GateID, fmt.Errorf("%s: %w", e.Type, err))
	}
	return len(deliveries)
}
