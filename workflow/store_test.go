package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	exec, err := NewExecution(testDefinition(), "", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, exec))
	assert.Equal(t, uint64(1), exec.Revision)

	got, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, got.ID)
	assert.Equal(t, uint64(1), got.Revision)

	// Mutating the returned copy must not touch the store.
	got.CurrentPhase = "release"
	again, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "design", again.CurrentPhase)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "exec-missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_RevisionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	exec, err := NewExecution(testDefinition(), "", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, exec))

	first, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	second, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, first))
	err = store.Save(ctx, second)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestMemoryStore_SaveUnknownWithRevision(t *testing.T) {
	exec, err := NewExecution(testDefinition(), "", time.Now())
	require.NoError(t, err)
	exec.Revision = 4

	err = NewMemoryStore().Save(context.Background(), exec)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_ListFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, tc := range []struct {
		id       string
		status   ExecutionStatus
		autonomy AutonomyLevel
	}{
		{"exec-a", StatusActive, AutonomyFull},
		{"exec-b", StatusActive, AutonomyManual},
		{"exec-c", StatusCompleted, AutonomyFull},
		{"exec-d", StatusActive, AutonomySupervised},
	} {
		exec, err := NewExecution(testDefinition(), "", time.Now())
		require.NoError(t, err)
		exec.ID = tc.id
		exec.Status = tc.status
		exec.Autonomy = tc.autonomy
		require.NoError(t, store.Save(ctx, exec))
	}

	all, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	eligible, err := store.List(ctx, ListFilter{
		Statuses: []ExecutionStatus{StatusActive},
		Autonomy: []AutonomyLevel{AutonomyFull, AutonomySupervised},
	})
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	assert.Equal(t, "exec-a", eligible[0].ID)
	assert.Equal(t, "exec-d", eligible[1].ID)
}
