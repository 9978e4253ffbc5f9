// Package autonomyscheduler provides a processor that drives workflow
// executions through their gates without a human, launches recovery agents
// for missing deliverables and escalates to humans over chat, console and
// speech channels.
package autonomyscheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/semgate/channel"
	"github.com/c360studio/semgate/channel/chat"
	"github.com/c360studio/semgate/channel/console"
	"github.com/c360studio/semgate/channel/speech"
	"github.com/c360studio/semgate/command"
	"github.com/c360studio/semgate/notify"
	"github.com/c360studio/semgate/scheduler"
	"github.com/c360studio/semgate/workflow"
	"github.com/c360studio/semgate/workflow/engine"
	"github.com/c360studio/semgate/workflow/guarantee"
	"github.com/c360studio/semgate/workflow/recovery"
)

const ComponentName = "autonomy-scheduler"

// wiring holds the collaborators that come from the outside world. The
// factory fills it from NATS; tests fill it with doubles.
type wiring struct {
	store      workflow.Store
	transport  chat.Transport
	publisher  recovery.Publisher
	stdout     io.Writer
	stderr     io.Writer
	registerer prometheus.Registerer
}

// Component implements the autonomy-scheduler processor.
type Component struct {
	name   string
	config Config
	logger *slog.Logger

	engine     *engine.Engine
	executor   *command.Executor
	dispatcher *notify.Dispatcher
	scheduler  *scheduler.Scheduler
	adapters   []channel.Adapter
	reports    chat.Transport

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	commandsHandled  atomic.Int64
	commandErrors    atomic.Int64
	reportsPublished atomic.Int64
	lastActivityMu   sync.RWMutex
	lastActivity     time.Time
}

// NewComponent creates a new autonomy-scheduler processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config, err := parseConfig(rawConfig)
	if err != nil {
		return nil, err
	}

	if deps.NATSClient == nil {
		return nil, fmt.Errorf("NATS client required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := workflow.NewKVStore(ctx, deps.NATSClient, config.ExecutionBucket)
	if err != nil {
		return nil, fmt.Errorf("create execution store: %w", err)
	}

	w := wiring{
		store:     store,
		transport: deps.NATSClient,
		publisher: deps.NATSClient,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
	if config.Metrics {
		w.registerer = prometheus.DefaultRegisterer
	}
	return newComponent(config, deps.GetLogger(), w)
}

// parseConfig overlays raw JSON on the defaults and validates the result.
func parseConfig(raw json.RawMessage) (Config, error) {
	config := DefaultConfig()
	if len(raw) > 0 {
		// Configured workflows replace the catalog rather than merge into it.
		config.Workflows = nil
		if err := json.Unmarshal(raw, &config); err != nil {
			return Config{}, fmt.Errorf("unmarshal config: %w", err)
		}
		if config.Workflows == nil {
			config.Workflows = DefaultWorkflows()
		}
	}
	if config.Ports == nil {
		config.Ports = DefaultConfig().Ports
	}
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func newComponent(config Config, logger *slog.Logger, w wiring) (*Component, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if w.store == nil {
		return nil, fmt.Errorf("execution store required")
	}

	c := &Component{
		name:    ComponentName,
		config:  config,
		logger:  logger,
		reports: w.transport,
	}

	checker := guarantee.NewFileChecker(w.store)
	eng, err := engine.New(w.store, checker,
		engine.WithLogger(logger),
		engine.WithDefinitions(config.Workflows...))
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	c.engine = eng

	var launcher recovery.Launcher
	switch config.Recovery.Mode {
	case RecoveryNATS, "":
		if w.publisher != nil {
			launcher = recovery.NewNATSLauncher(w.publisher, config.Recovery.Subject, logger)
		}
	case RecoveryCommand:
		launcher = recovery.NewCommandLauncher(config.Recovery.Command, config.Recovery.Args, logger)
	}

	c.executor = command.NewExecutor(eng,
		command.WithRecovery(launcher, checker),
		command.WithExecutorLogger(logger))

	c.adapters = c.buildAdapters(w)
	for _, a := range c.adapters {
		a.OnCommand(c.handleCommand)
	}
	c.dispatcher = notify.NewDispatcher(nil, logger, c.adapters...)

	opts := []scheduler.Option{
		scheduler.WithOptions(config.Options),
		scheduler.WithLogger(logger),
		scheduler.WithTickObserver(c.publishReport),
	}
	if launcher != nil {
		opts = append(opts, scheduler.WithLauncher(launcher))
	}
	for gateID, name := range config.GatePredicates {
		opts = append(opts, scheduler.WithPredicate(gateID, scheduler.BuiltinPredicates[name]))
	}
	if w.registerer != nil {
		opts = append(opts, scheduler.WithMetrics(w.registerer))
	}
	sched, err := scheduler.New(eng, checker, c.dispatcher, opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	c.scheduler = sched

	return c, nil
}

func (c *Component) buildAdapters(w wiring) []channel.Adapter {
	var adapters []channel.Adapter

	if cfg := c.config.Channels.Console; cfg != nil {
		out := w.stderr
		if cfg.Stream == "stdout" {
			out = w.stdout
		}
		adapters = append(adapters, console.New(out))
	}

	if cfg := c.config.Channels.Chat; cfg != nil {
		chatCfg := *cfg
		if len(chatCfg.Workflows) == 0 {
			chatCfg.Workflows = c.engine.Workflows()
		}
		adapters = append(adapters, chat.New(chatCfg, w.transport, c.logger))
	}

	if cfg := c.config.Channels.Speech; cfg != nil {
		adapters = append(adapters, speech.New(*cfg))
	}

	return adapters
}

// handleCommand runs a command that arrived on a channel.
func (c *Component) handleCommand(ctx context.Context, cmd command.Command) (command.Result, error) {
	c.commandsHandled.Add(1)
	c.updateLastActivity()

	res, err := c.executor.Handle(ctx, cmd)
	if err != nil {
		c.commandErrors.Add(1)
		c.logger.Warn("Channel command failed",
			"kind", cmd.Kind,
			"execution_id", cmd.ExecutionID,
			"gate_id", cmd.GateID,
			"user", cmd.User,
			"error", err)
		return res, err
	}

	c.logger.Info("Channel command handled",
		"kind", cmd.Kind,
		"execution_id", cmd.ExecutionID,
		"gate_id", cmd.GateID,
		"user", cmd.User)
	return res, nil
}

// publishReport publishes a tick report when the tick acted or failed.
func (c *Component) publishReport(ctx context.Context, res scheduler.TickResult) {
	c.updateLastActivity()
	if !c.config.Reports.Enabled || c.reports == nil {
		return
	}
	if len(res.Actions) == 0 && len(res.Errors) == 0 {
		return
	}

	report := NewTickReport(res)
	baseMsg := message.NewBaseMessage(TickReportType, report, ComponentName)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		c.logger.Warn("Failed to marshal tick report", "error", err)
		return
	}

	subject := c.config.Reports.Subject
	if subject == "" {
		subject = TickReportSubject
	}
	if err := c.reports.Publish(ctx, subject, data); err != nil {
		c.logger.Warn("Failed to publish tick report", "subject", subject, "error", err)
		return
	}
	c.reportsPublished.Add(1)
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized autonomy-scheduler",
		"tick_interval_ms", c.config.TickInterval,
		"workflows", c.engine.Workflows(),
		"channels", len(c.adapters))
	return nil
}

// Start connects the channels and, with auto_start, starts the scheduler.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	for _, a := range c.adapters {
		if err := a.Initialize(subCtx); err != nil {
			c.logger.Warn("Channel failed to initialize", "channel", a.Name(), "error", err)
		}
	}

	if c.config.AutoStart {
		if err := c.scheduler.Start(subCtx); err != nil {
			_ = c.Stop(5 * time.Second)
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	c.logger.Info("autonomy-scheduler started",
		"auto_start", c.config.AutoStart,
		"tick_interval_ms", c.config.TickInterval,
		"channels", len(c.adapters))
	return nil
}

// StartScheduler starts the tick loop of a running component that was
// configured without auto_start.
func (c *Component) StartScheduler() error {
	c.mu.RLock()
	running := c.running
	c.mu.RUnlock()
	if !running {
		return fmt.Errorf("component not running")
	}
	// The loop lives until Stop, which stops the scheduler first.
	return c.scheduler.Start(context.Background())
}

// Stop gracefully stops the component.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	c.scheduler.Stop()

	ctx, done := context.WithTimeout(context.Background(), timeout)
	defer done()
	for _, a := range c.adapters {
		if err := a.Disconnect(ctx); err != nil {
			c.logger.Warn("Channel failed to disconnect", "channel", a.Name(), "error", err)
		}
	}

	if cancel != nil {
		cancel()
	}

	status := c.scheduler.Status()
	c.logger.Info("autonomy-scheduler stopped",
		"total_ticks", status.TotalTicks,
		"commands_handled", c.commandsHandled.Load(),
		"command_errors", c.commandErrors.Load(),
		"reports_published", c.reportsPublished.Load())
	return nil
}

// Reconfigure applies scheduler options from a component config. Only the
// scheduler knobs are hot-reloadable; other changes need a restart.
func (c *Component) Reconfigure(raw json.RawMessage) error {
	var p scheduler.Partial
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return c.scheduler.Configure(p)
}

// Scheduler exposes the tick scheduler.
func (c *Component) Scheduler() *scheduler.Scheduler { return c.scheduler }

// Engine exposes the execution engine.
func (c *Component) Engine() *engine.Engine { return c.engine }

// Executor exposes the command executor.
func (c *Component) Executor() *command.Executor { return c.executor }

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        ComponentName,
		Type:        "processor",
		Description: "Drives workflow executions through their gates",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}
	return ports(c.config.Ports.Inputs, component.DirectionInput)
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}
	return ports(c.config.Ports.Outputs, component.DirectionOutput)
}

func ports(defs []component.PortDefinition, direction component.Direction) []component.Port {
	out := make([]component.Port, len(defs))
	for i, def := range defs {
		out[i] = buildPort(def, direction)
	}
	return out
}

func buildPort(portDef component.PortDefinition, direction component.Direction) component.Port {
	port := component.Port{
		Name:        portDef.Name,
		Direction:   direction,
		Required:    portDef.Required,
		Description: portDef.Description,
	}
	if portDef.Type == "jetstream" {
		port.Config = component.JetStreamPort{
			StreamName: portDef.StreamName,
			Subjects:   []string{portDef.Subject},
		}
	} else {
		port.Config = component.NATSPort{
			Subject: portDef.Subject,
		}
	}
	return port
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return schedulerSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch st := c.scheduler.Status(); {
	case running && st.Paused:
		status = "paused"
	case running && st.Running:
		status = "running"
	case running:
		status = "idle"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.commandErrors.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

// Channels returns a status snapshot of every channel.
func (c *Component) Channels() []channel.Status {
	return c.dispatcher.Statuses()
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
