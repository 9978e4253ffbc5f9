// Package scheduler drives workflow executions through their phase gates
// without a human. On every tick it retries failed skills, auto-approves
// gates whose guarantees pass, walks failing gates up a retry ladder that
// ends in a recovery agent and then a human, and completes and advances
// phases.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/semgate/notify"
	"github.com/c360studio/semgate/workflow"
	"github.com/c360studio/semgate/workflow/engine"
	"github.com/c360studio/semgate/workflow/guarantee"
	"github.com/c360studio/semgate/workflow/recovery"
)

// Approver is recorded on gates the scheduler approves.
const Approver = "autonomy-scheduler"

var (
	// ErrMissingDependency is returned when the scheduler was built without
	// an execution API, a guarantee checker or a notifier.
	ErrMissingDependency = errors.New("scheduler dependency missing")

	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrUndelivered is recorded when an escalation reached no channel.
	ErrUndelivered = errors.New("no channel delivered the notification")
)

// ExecutionAPI is the part of the execution engine the scheduler drives.
// *engine.Engine satisfies it.
type ExecutionAPI interface {
	ListEligible(ctx context.Context, limit int) ([]*workflow.Execution, error)
	ApproveGate(ctx context.Context, id, gateID string, opts engine.ApproveOptions) error
	CompletePhase(ctx context.Context, id string) (bool, error)
	AdvancePhase(ctx context.Context, id string) (string, error)
	RetrySkills(ctx context.Context, id string, maxAttempts int) ([]string, error)
}

// Notifier delivers events to humans. *notify.Dispatcher satisfies it.
type Notifier interface {
	Notify(ctx context.Context, e notify.Event, route notify.Route) ([]notify.Delivery, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithOptions replaces the default options.
func WithOptions(o Options) Option {
	return func(s *Scheduler) { s.opts = o }
}

// WithLauncher sets the recovery agent launcher. Without one a gate that
// exhausts its retries escalates straight to a human.
func WithLauncher(l recovery.Launcher) Option {
	return func(s *Scheduler) { s.launcher = l }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPredicate registers the predicate of a conditional gate.
func WithPredicate(gateID string, p Predicate) Option {
	return func(s *Scheduler) { s.predicates[gateID] = p }
}

// WithMetrics registers the scheduler collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Scheduler) { s.registerer = reg }
}

// WithTickObserver registers fn to receive the result of every tick run by
// the loop. fn runs on the loop goroutine.
func WithTickObserver(fn func(context.Context, TickResult)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// Scheduler runs ticks on an interval.
type Scheduler struct {
	api        ExecutionAPI
	checker    guarantee.Checker
	notifier   Notifier
	launcher   recovery.Launcher
	predicates map[string]Predicate
	clock      func() time.Time
	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *metrics
	observer   func(context.Context, TickResult)

	optsMu sync.RWMutex
	opts   Options

	// tickMu keeps ticks from overlapping.
	tickMu sync.Mutex

	// mu guards the per-gate state below.
	mu      sync.Mutex
	retries map[gateKey]*RetryState
	notices map[gateKey]struct{}
	visited map[string]uint64

	paused     atomic.Bool
	totalTicks atomic.Uint64

	statMu     sync.Mutex
	lastTickAt time.Time
	active     int

	runMu     sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	reset     chan time.Duration
	done      chan struct{}
}

// New creates a scheduler. Missing dependencies are reported by Start and
// Tick rather than here, so a partially wired scheduler can still be built.
func New(api ExecutionAPI, checker guarantee.Checker, notifier Notifier, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		api:        api,
		checker:    checker,
		notifier:   notifier,
		predicates: make(map[string]Predicate),
		clock:      time.Now,
		logger:     slog.Default(),
		opts:       DefaultOptions(),
		retries:    make(map[gateKey]*RetryState),
		notices:    make(map[gateKey]struct{}),
		visited:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if s.registerer != nil {
		m, err := newMetrics(s.registerer)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}
	return s, nil
}

func (s *Scheduler) checkDependencies() error {
	var missing []string
	if s.api == nil {
		missing = append(missing, "execution api")
	}
	if s.checker == nil {
		missing = append(missing, "guarantee checker")
	}
	if s.notifier == nil {
		missing = append(missing, "notifier")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingDependency, missing)
	}
	return nil
}

// Options returns the current options.
func (s *Scheduler) Options() Options {
	s.optsMu.RLock()
	defer s.optsMu.RUnlock()
	return s.opts
}

// Configure applies a partial update. A changed tick interval takes effect
// on the running loop immediately; in-flight retry timers are unaffected
// because they compare wall-clock timestamps.
func (s *Scheduler) Configure(p Partial) error {
	s.optsMu.Lock()
	next := p.Apply(s.opts)
	if err := next.Validate(); err != nil {
		s.optsMu.Unlock()
		return fmt.Errorf("invalid options: %w", err)
	}
	changed := next.TickInterval != s.opts.TickInterval
	s.opts = next
	if changed {
		s.runMu.Lock()
		reset := s.reset
		s.runMu.Unlock()
		if reset != nil {
			// Keep only the newest interval.
			select {
			case <-reset:
			default:
			}
			select {
			case reset <- next.tickInterval():
			default:
			}
		}
	}
	s.optsMu.Unlock()

	s.logger.Info("Scheduler reconfigured",
		"tick_interval_ms", next.TickInterval,
		"max_parallel_executions", next.MaxParallelExecutions,
		"max_gate_retries", next.MaxGateRetries)
	return nil
}

// Start runs one tick immediately and then one per interval until ctx is
// done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.checkDependencies(); err != nil {
		return err
	}
	opts := s.Options()

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.startedAt = s.clock()
	s.cancel = cancel
	s.reset = make(chan time.Duration, 1)
	s.done = make(chan struct{})

	go s.loop(loopCtx, opts.tickInterval(), s.reset, s.done)

	s.logger.Info("Autonomy scheduler started",
		"tick_interval_ms", opts.TickInterval,
		"max_parallel_executions", opts.MaxParallelExecutions)
	return nil
}

// Stop ends the tick loop and waits for an in-flight tick to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.reset = nil
	s.runMu.Unlock()

	cancel()
	<-done
	s.logger.Info("Autonomy scheduler stopped")
}

// Pause skips ticks until Resume. A tick in flight completes.
func (s *Scheduler) Pause() {
	if !s.paused.Swap(true) {
		s.logger.Info("Autonomy scheduler paused")
	}
}

// Resume undoes Pause.
func (s *Scheduler) Resume() {
	if s.paused.Swap(false) {
		s.logger.Info("Autonomy scheduler resumed")
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, reset <-chan time.Duration, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-reset:
			ticker.Reset(d)
			s.logger.Debug("Tick interval changed", "interval", d)
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	if s.paused.Load() {
		s.logger.Debug("Tick skipped while paused")
		return
	}
	res, err := s.Tick(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Tick failed", "error", err)
		}
		return
	}
	if s.observer != nil {
		s.observer(ctx, res)
	}
	if len(res.Actions) > 0 || len(res.Errors) > 0 {
		s.logger.Debug("Tick complete",
			"executions", res.Executions,
			"actions", len(res.Actions),
			"errors", len(res.Errors),
			"duration", res.Duration)
	}
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running          bool      `json:"running"`
	Paused           bool      `json:"paused"`
	TickInterval     int       `json:"tick_interval_ms"`
	MaxParallel      int       `json:"max_parallel_executions"`
	ActiveExecutions int       `json:"active_executions"`
	TotalTicks       uint64    `json:"total_ticks"`
	LastTickAt       time.Time `json:"last_tick_at,omitzero"`
	StartedAt        time.Time `json:"started_at,omitzero"`
	RetryStates      int       `json:"retry_states"`
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	opts := s.Options()

	s.runMu.Lock()
	running, startedAt := s.running, s.startedAt
	s.runMu.Unlock()

	s.statMu.Lock()
	lastTick, active := s.lastTickAt, s.active
	s.statMu.Unlock()

	s.mu.Lock()
	retries := len(s.retries)
	s.mu.Unlock()

	return Status{
		Running:          running,
		Paused:           s.paused.Load(),
		TickInterval:     opts.TickInterval,
		MaxParallel:      opts.MaxParallelExecutions,
		ActiveExecutions: active,
		TotalTicks:       s.totalTicks.Load(),
		LastTickAt:       lastTick,
		StartedAt:        startedAt,
		RetryStates:      retries,
	}
}
