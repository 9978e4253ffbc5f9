package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func fastOptions() Options {
	o := DefaultOptions()
	o.TickInterval = 10
	return o
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	exec := f.seed(t, nil)
	s, err := New(f.engine, f.checker(), f.notifier, WithOptions(fastOptions()))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return s.Status().TotalTicks >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Status().Running)
	assert.False(t, s.Status().StartedAt.IsZero())
	assert.Equal(t, "implement", f.get(t, exec.ID).CurrentPhase)

	s.Stop()
	s.Stop()
	assert.False(t, s.Status().Running)

	// A stopped scheduler can be started again.
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestStart_ContextCancelStopsLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	s, err := New(f.engine, f.checker(), f.notifier, WithOptions(fastOptions()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()
	s.Stop()
}

func TestPauseSkipsTicks(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	exec := f.seed(t, nil)
	s, err := New(f.engine, f.checker(), f.notifier, WithOptions(fastOptions()))
	require.NoError(t, err)

	s.Pause()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.True(t, s.Status().Paused)
	assert.Zero(t, s.Status().TotalTicks)
	assert.Equal(t, "design", f.get(t, exec.ID).CurrentPhase)

	s.Resume()
	require.Eventually(t, func() bool { return f.get(t, exec.ID).CurrentPhase == "implement" }, 2*time.Second, 5*time.Millisecond)
}

func TestConfigure(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	s, err := New(f.engine, f.checker(), f.notifier)
	require.NoError(t, err)

	zero := 0
	assert.Error(t, s.Configure(Partial{MaxGateRetries: &zero}))
	assert.Equal(t, 3, s.Options().MaxGateRetries)

	retries := 5
	require.NoError(t, s.Configure(Partial{MaxGateRetries: &retries}))
	assert.Equal(t, 5, s.Options().MaxGateRetries)
	assert.Equal(t, 5000, s.Options().TickInterval)

	// A running loop picks up a new interval without a restart.
	slow := 3600000
	require.NoError(t, s.Configure(Partial{TickInterval: &slow}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return s.Status().TotalTicks == 1 }, time.Second, 5*time.Millisecond)

	fast := 10
	require.NoError(t, s.Configure(Partial{TickInterval: &fast}))
	require.Eventually(t, func() bool { return s.Status().TotalTicks >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 10, s.Status().TickInterval)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	bad := DefaultOptions()
	bad.RecoveryTimeout = 0
	assert.ErrorContains(t, bad.Validate(), "recovery_timeout_ms")

	_, err := New(nil, nil, nil, WithOptions(bad))
	assert.Error(t, err)

	p := PartialFrom(fastOptions())
	assert.Equal(t, fastOptions(), p.Apply(Options{}))
}

func TestTickObserver(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	exec := f.seed(t, nil)

	results := make(chan TickResult, 16)
	s, err := New(f.engine, f.checker(), f.notifier,
		WithOptions(fastOptions()),
		WithTickObserver(func(_ context.Context, res TickResult) {
			select {
			case results <- res:
			default:
			}
		}))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case res := <-results:
		assert.Equal(t, 1, res.Executions)
		require.NotEmpty(t, res.Actions)
		assert.Equal(t, exec.ID, res.Actions[0].ExecutionID)
	case <-time.After(2 * time.Second):
		t.Fatal("observer never called")
	}
}
