package command

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgate/workflow"
	"github.com/c360studio/semgate/workflow/engine"
	"github.com/c360studio/semgate/workflow/guarantee"
	"github.com/c360studio/semgate/workflow/recovery"
)

type executorFixture struct {
	store    *workflow.MemoryStore
	engine   *engine.Engine
	missing  []string
	launched []recovery.Task
	exec     *workflow.Execution
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	f := &executorFixture{store: workflow.NewMemoryStore()}

	def := workflow.Definition{
		Name:   "feature",
		Phases: []workflow.Phase{{Name: "design"}, {Name: "build"}},
		Gates: []workflow.Gate{{
			ID: "design-review", AfterPhase: "design", Required: true,
			ApprovalType: workflow.ApprovalAuto, Deliverables: []string{"docs/design.md", "docs/api.md"},
		}},
		Autonomy: workflow.AutonomyFull,
	}

	checker := guarantee.CheckerFunc(func(context.Context, string, string) (guarantee.Result, error) {
		return guarantee.Result{Passed: len(f.missing) == 0, Missing: f.missing}, nil
	})
	eng, err := engine.New(f.store, checker, engine.WithDefinitions(def))
	require.NoError(t, err)
	f.engine = eng

	f.exec, err = eng.Start(context.Background(), "feature", "", "alice")
	require.NoError(t, err)
	return f
}

func (f *executorFixture) executor(withRecovery bool) *Executor {
	var opts []ExecutorOption
	if withRecovery {
		launcher := recovery.LauncherFunc(func(_ context.Context, task recovery.Task) error {
			f.launched = append(f.launched, task)
			return nil
		})
		checker := guarantee.CheckerFunc(func(context.Context, string, string) (guarantee.Result, error) {
			return guarantee.Result{Passed: len(f.missing) == 0, Missing: f.missing}, nil
		})
		opts = append(opts, WithRecovery(launcher, checker))
	}
	return NewExecutor(f.engine, opts...)
}

func (f *executorFixture) gate(t *testing.T) workflow.GateState {
	t.Helper()
	exec, err := f.engine.Get(context.Background(), f.exec.ID)
	require.NoError(t, err)
	return exec.GateState("design-review")
}

func TestExecutor_ApproveBlockedByGuarantees(t *testing.T) {
	f := newExecutorFixture(t)
	f.missing = []string{"docs/api.md"}

	_, err := f.executor(false).Handle(context.Background(), Command{
		Kind: KindApprove, ExecutionID: f.exec.ID, GateID: "design-review", User: "bob",
	})
	require.Error(t, err)
	assert.Equal(t,
		"Gate design-review is blocked by 1 unmet requirement: docs/api.md. Add them and approve again, or force approve to skip the check.",
		Describe(err))
	assert.Equal(t, workflow.GateStatusPending, f.gate(t).Status)
}

func TestExecutor_ForceApproveSkipsGuarantees(t *testing.T) {
	f := newExecutorFixture(t)
	f.missing = []string{"docs/design.md", "docs/api.md"}

	res, err := f.executor(false).Handle(context.Background(), Command{
		Kind: KindForceApprove, ExecutionID: f.exec.ID, GateID: "design-review", User: "bob",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "force-approved by bob")

	st := f.gate(t)
	assert.Equal(t, workflow.GateStatusApproved, st.Status)
	assert.True(t, st.SkippedGuarantees)
	assert.Equal(t, "bob", st.ApprovedBy)
}

func TestExecutor_RejectThenContinue(t *testing.T) {
	f := newExecutorFixture(t)
	ex := f.executor(false)
	ctx := context.Background()

	res, err := ex.Handle(ctx, Command{Kind: KindReject, ExecutionID: f.exec.ID, GateID: "design-review", Reason: "too thin"})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "Reason: too thin")

	exec, err := f.engine.Get(ctx, f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, exec.Status)

	_, err = ex.Handle(ctx, Command{Kind: KindContinue, ExecutionID: f.exec.ID})
	require.NoError(t, err)
	exec, err = f.engine.Get(ctx, f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusActive, exec.Status)
}

func TestExecutor_StartStatusFeedback(t *testing.T) {
	f := newExecutorFixture(t)
	ex := f.executor(false)
	ctx := context.Background()

	res, err := ex.Handle(ctx, Command{Kind: KindStartWorkflow, Workflow: "feature", Target: "billing", User: "carol"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ExecutionID)
	assert.Contains(t, res.Message, "for billing")

	_, err = ex.Handle(ctx, Command{Kind: KindStartWorkflow, Workflow: "unknown"})
	assert.True(t, errors.Is(err, engine.ErrUnknownWorkflow))
	assert.Contains(t, Describe(err), "not known")

	res, err = ex.Handle(ctx, Command{Kind: KindStatus, ExecutionID: f.exec.ID})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "in phase design")
	assert.Contains(t, res.Message, "Waiting on: design-review")

	res, err = ex.Handle(ctx, Command{Kind: KindStatus})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "2 execution(s) in progress")

	_, err = ex.Handle(ctx, Command{Kind: KindFeedback, ExecutionID: f.exec.ID, Text: "keep it small", User: "carol"})
	require.NoError(t, err)
	exec, err := f.engine.Get(ctx, f.exec.ID)
	require.NoError(t, err)
	require.Len(t, exec.Feedback, 1)
	assert.Equal(t, "carol", exec.Feedback[0].Author)
}

func TestExecutor_RequestRecovery(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	cmd := Command{Kind: KindRequestRecovery, ExecutionID: f.exec.ID, GateID: "design-review"}

	_, err := f.executor(false).Handle(ctx, cmd)
	assert.True(t, errors.Is(err, ErrRecoveryUnavailable))

	f.missing = []string{"docs/api.md"}
	_, err = f.executor(true).Handle(ctx, cmd)
	require.NoError(t, err)
	require.Len(t, f.launched, 1)
	assert.Equal(t, []string{"docs/api.md"}, f.launched[0].Missing)

	// Nothing reported missing falls back to the declared deliverables.
	f.missing = nil
	_, err = f.executor(true).Handle(ctx, cmd)
	require.NoError(t, err)
	require.Len(t, f.launched, 2)
	assert.Equal(t, []string{"docs/design.md", "docs/api.md"}, f.launched[1].Missing)
}

func TestExecutor_MissingContext(t *testing.T) {
	f := newExecutorFixture(t)
	_, err := f.executor(false).Handle(context.Background(), Command{Kind: KindApprove, ExecutionID: f.exec.ID})
	assert.True(t, errors.Is(err, ErrMissingContext))
	assert.Contains(t, Describe(err), "Which execution")
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&engine.GuaranteeError{GateID: "g", Missing: []string{"a", "b"}}, "Gate g is blocked by 2 unmet requirements: a, b."},
		{fmt.Errorf("load: %w", workflow.ErrNotFound), "no longer exists"},
		{workflow.ErrConflict, "try again"},
		{errors.New("dial tcp: connection refused"), "Check the scheduler logs"},
	}
	for _, tt := range tests {
		assert.Contains(t, Describe(tt.err), tt.want)
	}
	assert.NotContains(t, Describe(errors.New("dial tcp: connection refused")), "dial tcp")
}
