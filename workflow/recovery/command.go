package recovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// CommandLauncher starts a local agent process per task. The task is written
// as JSON to the process's stdin and summarised in SEMGATE_* environment
// variables. The process is reaped in the background.
type CommandLauncher struct {
	command string
	args    []string
	logger  *slog.Logger

	// OnExit, when set, is called after the process exits.
	OnExit func(task Task, err error)
}

// NewCommandLauncher creates a launcher for command with args.
func NewCommandLauncher(command string, args []string, logger *slog.Logger) *CommandLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandLauncher{
		command: command,
		args:    append([]string(nil), args...),
		logger:  logger,
	}
}

// Launch starts the process and returns once it is running. The process is
// not bound to ctx: it outlives the tick that launched it.
func (l *CommandLauncher) Launch(_ context.Context, task Task) error {
	if l.command == "" {
		return fmt.Errorf("recovery launcher: no command configured")
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	cmd := exec.Command(l.command, l.args...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Env = append(os.Environ(),
		"SEMGATE_TASK_ID="+task.ID,
		"SEMGATE_EXECUTION_ID="+task.ExecutionID,
		"SEMGATE_WORKFLOW="+task.Workflow,
		"SEMGATE_PHASE="+task.Phase,
		"SEMGATE_GATE_ID="+task.GateID,
		"SEMGATE_MISSING="+strings.Join(task.Missing, ","),
		"SEMGATE_PROMPT="+task.Prompt,
	)
	if task.Workdir != "" {
		cmd.Dir = task.Workdir
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", l.command, err)
	}

	l.logger.Info("Recovery agent started",
		"task_id", task.ID,
		"execution_id", task.ExecutionID,
		"gate_id", task.GateID,
		"pid", cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		if err != nil {
			l.logger.Warn("Recovery agent exited with error",
				"task_id", task.ID,
				"execution_id", task.ExecutionID,
				"error", err)
		} else {
			l.logger.Debug("Recovery agent exited", "task_id", task.ID)
		}
		if l.OnExit != nil {
			l.OnExit(task, err)
		}
	}()

	return nil
}
