package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360studio/semgate/workflow"
)

// Publisher publishes to a JetStream subject. *natsclient.Client satisfies it.
type Publisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// NATSLauncher hands recovery tasks to an agent pool listening on NATS.
type NATSLauncher struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
}

// NewNATSLauncher creates a launcher publishing on subject. An empty subject
// uses workflow.RecoveryTaskSubject.
func NewNATSLauncher(pub Publisher, subject string, logger *slog.Logger) *NATSLauncher {
	if subject == "" {
		subject = workflow.RecoveryTaskSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSLauncher{pub: pub, subject: subject, logger: logger}
}

// Launch publishes the task.
func (l *NATSLauncher) Launch(ctx context.Context, task Task) error {
	if l.pub == nil {
		return fmt.Errorf("recovery launcher: no NATS connection")
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	if err := l.pub.PublishToStream(ctx, l.subject, data); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}

	l.logger.Info("Routed recovery task to agent",
		"task_id", task.ID,
		"execution_id", task.ExecutionID,
		"gate_id", task.GateID,
		"missing", len(task.Missing),
		"subject", l.subject)
	return nil
}
