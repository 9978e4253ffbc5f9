// Package guarantee decides whether a gate's required deliverables exist.
// The scheduler and the approval API consume it as a black box: given an
// execution and a gate, a Checker reports pass or fail plus what is missing.
package guarantee

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/semgate/workflow"
)

// Result is the outcome of one guarantee check.
type Result struct {
	Passed    bool      `json:"passed"`
	Missing   []string  `json:"missing,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker evaluates the guarantees of a gate on one execution.
type Checker interface {
	Check(ctx context.Context, executionID, gateID string) (Result, error)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, executionID, gateID string) (Result, error)

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context, executionID, gateID string) (Result, error) {
	return f(ctx, executionID, gateID)
}

// ExecutionGetter loads executions. workflow.Store satisfies it.
type ExecutionGetter interface {
	Get(ctx context.Context, id string) (*workflow.Execution, error)
}

// FileChecker treats each gate deliverable as a doublestar glob rooted at the
// execution's workdir. A deliverable with no matching file is missing.
type FileChecker struct {
	execs ExecutionGetter
	clock func() time.Time
}

// NewFileChecker creates a checker that resolves executions through getter.
func NewFileChecker(getter ExecutionGetter) *FileChecker {
	return &FileChecker{execs: getter, clock: time.Now}
}

// Check resolves every deliverable of the gate.
func (c *FileChecker) Check(ctx context.Context, executionID, gateID string) (Result, error) {
	exec, err := c.execs.Get(ctx, executionID)
	if err != nil {
		return Result{}, fmt.Errorf("load execution: %w", err)
	}

	gate, ok := exec.Gate(gateID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", workflow.ErrGateNotFound, gateID)
	}

	root := exec.Workdir
	if root == "" {
		root = "."
	}

	var missing []string
	for _, pattern := range gate.Deliverables {
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			return Result{}, fmt.Errorf("invalid deliverable pattern %q", pattern)
		}
		matches, err := doublestar.FilepathGlob(filepath.Join(root, pattern))
		if err != nil {
			return Result{}, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			missing = append(missing, pattern)
		}
	}

	return Result{
		Passed:    len(missing) == 0,
		Missing:   missing,
		CheckedAt: c.clock(),
	}, nil
}
