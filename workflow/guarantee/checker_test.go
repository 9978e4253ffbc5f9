package guarantee

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgate/workflow"
)

func seedExecution(t *testing.T, workdir string, deliverables ...string) (*workflow.MemoryStore, string) {
	t.Helper()

	def := workflow.Definition{
		Name:   "feature",
		Phases: []workflow.Phase{{Name: "design"}, {Name: "build"}},
		Gates: []workflow.Gate{
			{ID: "design-review", AfterPhase: "design", Required: true, ApprovalType: workflow.ApprovalAuto, Deliverables: deliverables},
		},
	}
	exec, err := workflow.NewExecution(def, "", time.Now())
	require.NoError(t, err)
	exec.Workdir = workdir

	store := workflow.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), exec))
	return store, exec.ID
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestFileChecker_AllPresent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "docs", "design.md"))
	writeFile(t, filepath.Join(dir, "api", "v1", "openapi.yaml"))

	store, id := seedExecution(t, dir, "docs/design.md", "api/**/*.yaml")
	res, err := NewFileChecker(store).Check(context.Background(), id, "design-review")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Missing)
	assert.False(t, res.CheckedAt.IsZero())
}

func TestFileChecker_ReportsMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "docs", "design.md"))

	store, id := seedExecution(t, dir, "docs/design.md", "docs/adr/*.md", "CHANGELOG.md")
	res, err := NewFileChecker(store).Check(context.Background(), id, "design-review")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"docs/adr/*.md", "CHANGELOG.md"}, res.Missing)
}

func TestFileChecker_NoDeliverablesPasses(t *testing.T) {
	store, id := seedExecution(t, t.TempDir())
	res, err := NewFileChecker(store).Check(context.Background(), id, "design-review")
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestFileChecker_Errors(t *testing.T) {
	store, id := seedExecution(t, t.TempDir(), "docs/[.md")
	checker := NewFileChecker(store)

	_, err := checker.Check(context.Background(), "exec-unknown", "design-review")
	assert.True(t, errors.Is(err, workflow.ErrNotFound))

	_, err = checker.Check(context.Background(), id, "unknown-gate")
	assert.True(t, errors.Is(err, workflow.ErrGateNotFound))

	_, err = checker.Check(context.Background(), id, "design-review")
	assert.Error(t, err)
}

func TestCheckerFunc(t *testing.T) {
	var called bool
	c := CheckerFunc(func(_ context.Context, execID, gateID string) (Result, error) {
		called = true
		return Result{Passed: execID == "e" && gateID == "g"}, nil
	})
	res, err := c.Check(context.Background(), "e", "g")
	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, res.Passed)
}
