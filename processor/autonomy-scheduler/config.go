package autonomyscheduler

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/semgate/channel/chat"
	"github.com/c360studio/semgate/channel/speech"
	"github.com/c360studio/semgate/scheduler"
	"github.com/c360studio/semgate/workflow"
)

// schedulerSchema defines the configuration schema.
var schedulerSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Recovery launch modes.
const (
	RecoveryNATS    = "nats"
	RecoveryCommand = "command"
	RecoveryNone    = "none"
)

// Config holds configuration for the autonomy scheduler component.
type Config struct {
	// Scheduler knobs, inlined so tick_interval_ms and friends sit at the
	// top level of the component config.
	scheduler.Options

	// ExecutionBucket is the KV bucket holding executions.
	ExecutionBucket string `json:"execution_bucket"`

	// Workflows is the definition catalog executions are started from.
	Workflows []workflow.Definition `json:"workflows,omitempty"`

	// GatePredicates maps conditional gate ids to built-in predicate names.
	GatePredicates map[string]string `json:"gate_predicates,omitempty"`

	// Recovery selects how recovery agents are launched.
	Recovery RecoveryConfig `json:"recovery"`

	// Channels configures the notification adapters.
	Channels ChannelsConfig `json:"channels"`

	// Reports publishes a tick report whenever a tick acts or fails.
	Reports ReportsConfig `json:"reports"`

	// Metrics registers scheduler collectors with the default registry.
	Metrics bool `json:"metrics"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// RecoveryConfig configures the recovery agent launcher.
type RecoveryConfig struct {
	// Mode is nats, command or none.
	Mode string `json:"mode"`
	// Subject receives tasks in nats mode.
	Subject string `json:"subject,omitempty"`
	// Command and Args run the agent in command mode.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// ChannelsConfig configures the notification adapters. A nil section leaves
// that adapter out.
type ChannelsConfig struct {
	Console *ConsoleConfig `json:"console,omitempty"`
	Chat    *chat.Config   `json:"chat,omitempty"`
	Speech  *speech.Config `json:"speech,omitempty"`
}

// ConsoleConfig configures the console adapter.
type ConsoleConfig struct {
	// Stream is stdout or stderr.
	Stream string `json:"stream,omitempty"`
}

// ReportsConfig configures tick report publishing.
type ReportsConfig struct {
	Enabled bool   `json:"enabled"`
	Subject string `json:"subject,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Options:         scheduler.DefaultOptions(),
		ExecutionBucket: workflow.ExecutionsBucket,
		Workflows:       DefaultWorkflows(),
		GatePredicates: map[string]string{
			"release-approval": "no_deploy_target",
		},
		Recovery: RecoveryConfig{
			Mode:    RecoveryNATS,
			Subject: workflow.RecoveryTaskSubject,
		},
		Channels: ChannelsConfig{
			Console: &ConsoleConfig{Stream: "stderr"},
		},
		Reports: ReportsConfig{
			Enabled: true,
			Subject: TickReportSubject,
		},
		Metrics: true,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "executions",
					Type:        "kv-watch",
					Subject:     workflow.ExecutionsBucket,
					Description: "Executions driven through their gates",
					Required:    true,
				},
				{
					Name:        "chat-inbound",
					Type:        "jetstream",
					Subject:     workflow.ChatInboundSubject,
					StreamName:  workflow.ChatStream,
					Description: "Chat messages and button interactions",
					Required:    false,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "recovery-tasks",
					Type:        "jetstream",
					Subject:     workflow.RecoveryTaskSubject,
					StreamName:  "AGENT",
					Description: "Recovery agent tasks for gates with missing deliverables",
					Required:    false,
				},
				{
					Name:        "chat-outbound",
					Type:        "nats",
					Subject:     workflow.ChatOutboundPrefix + ">",
					Description: "Chat posts and message updates",
					Required:    false,
				},
				{
					Name:        "tick-reports",
					Type:        "nats",
					Subject:     TickReportSubject,
					Description: "Actions and errors of each scheduler tick",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Options.Validate(); err != nil {
		return err
	}

	names := make(map[string]bool, len(c.Workflows))
	for _, def := range c.Workflows {
		if def.Name == "" {
			return fmt.Errorf("workflow name is required")
		}
		if names[def.Name] {
			return fmt.Errorf("duplicate workflow %q", def.Name)
		}
		names[def.Name] = true
		if len(def.Phases) == 0 {
			return fmt.Errorf("workflow %s has no phases", def.Name)
		}
		if def.Autonomy != "" && !def.Autonomy.IsValid() {
			return fmt.Errorf("workflow %s has unknown autonomy %q", def.Name, def.Autonomy)
		}
	}

	for gateID, name := range c.GatePredicates {
		if _, ok := scheduler.BuiltinPredicates[name]; !ok {
			return fmt.Errorf("gate %s uses unknown predicate %q", gateID, name)
		}
	}

	switch c.Recovery.Mode {
	case "", RecoveryNATS, RecoveryNone:
	case RecoveryCommand:
		if c.Recovery.Command == "" {
			return fmt.Errorf("recovery.command is required in command mode")
		}
	default:
		return fmt.Errorf("unknown recovery mode %q", c.Recovery.Mode)
	}

	if c.Channels.Console != nil {
		switch c.Channels.Console.Stream {
		case "", "stdout", "stderr":
		default:
			return fmt.Errorf("console stream must be stdout or stderr, got %q", c.Channels.Console.Stream)
		}
	}
	return nil
}
