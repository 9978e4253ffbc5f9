// Package speech is an output-only channel that reads selected
// notifications aloud through a local text-to-speech command.
package speech

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semgate/channel"
)

// Name is the default adapter name.
const Name = "speech"

// DefaultCommands are probed in order when no command is configured.
var DefaultCommands = []string{"say", "espeak", "spd-say"}

// DefaultEvents are the event types spoken when no allow-list is configured.
var DefaultEvents = []string{"gate_waiting", "loop_complete"}

// Runner runs a speech command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Config configures the speech adapter.
type Config struct {
	// Command is the TTS binary. Empty probes DefaultCommands.
	Command string `json:"command,omitempty"`
	// Args are passed before the spoken text.
	Args []string `json:"args,omitempty"`
	// Events is the allow-list of spoken event types. Empty uses DefaultEvents.
	Events []string `json:"events,omitempty"`
	// MaxChars truncates long messages. Zero means 280.
	MaxChars int `json:"max_chars,omitempty"`
	// TimeoutMS bounds one utterance. Zero means 30000.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// Adapter speaks allow-listed notifications.
type Adapter struct {
	cfg      Config
	runner   Runner
	lookPath func(string) (string, error)
	clock    func() time.Time
	allowed  map[string]bool

	mu        sync.Mutex
	command   string
	enabled   bool
	connected bool
	lastSent  time.Time
	lastErr   string
	handler   channel.Handler
}

// Option customizes the adapter.
type Option func(*Adapter)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(a *Adapter) {
		if r != nil {
			a.runner = r
		}
	}
}

// WithLookPath replaces command discovery.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(a *Adapter) {
		if fn != nil {
			a.lookPath = fn
		}
	}
}

// New creates a speech adapter.
func New(cfg Config, opts ...Option) *Adapter {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 280
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = 30000
	}
	events := cfg.Events
	if len(events) == 0 {
		events = DefaultEvents
	}

	a := &Adapter{
		cfg:      cfg,
		runner:   execRunner{},
		lookPath: exec.LookPath,
		clock:    time.Now,
		allowed:  make(map[string]bool, len(events)),
	}
	for _, e := range events {
		a.allowed[e] = true
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the adapter name.
func (a *Adapter) Name() string { return Name }

// Initialize resolves the TTS command. Without one the adapter stays disabled.
func (a *Adapter) Initialize(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	candidates := DefaultCommands
	if a.cfg.Command != "" {
		candidates = []string{a.cfg.Command}
	}
	for _, c := range candidates {
		if path, err := a.lookPath(c); err == nil {
			a.command = path
			a.enabled = true
			a.connected = true
			a.lastErr = ""
			return nil
		}
	}

	a.enabled = false
	a.connected = false
	a.lastErr = fmt.Sprintf("no speech command found (tried %s)", strings.Join(candidates, ", "))
	return nil
}

// Speaks reports whether an event type is on the allow-list.
func (a *Adapter) Speaks(eventType string) bool {
	return a.allowed[eventType]
}

// Send speaks the message text when its event type is allowed. Other
// messages return channel.ErrSkipped.
func (a *Adapter) Send(ctx context.Context, msg channel.Message) (channel.MessageRef, error) {
	a.mu.Lock()
	command, ready := a.command, a.connected
	a.mu.Unlock()

	if !ready {
		return channel.MessageRef{}, channel.ErrNotReady
	}

	if !a.Speaks(msg.Metadata.EventType) {
		return channel.MessageRef{}, channel.ErrSkipped
	}
	ref := channel.MessageRef{Adapter: Name, ThreadKey: msg.ThreadKey}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	args := append(append([]string(nil), a.cfg.Args...), a.utterance(msg.Text))
	err := a.runner.Run(ctx, command, args...)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.lastErr = err.Error()
		return channel.MessageRef{}, fmt.Errorf("speak: %w", err)
	}
	a.lastSent = a.clock()
	a.lastErr = ""
	ref.ID = uuid.New().String()
	return ref, nil
}

// utterance flattens text to one line and truncates it.
func (a *Adapter) utterance(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > a.cfg.MaxChars {
		text = string(r[:a.cfg.MaxChars])
	}
	return text
}

// Status reports the adapter state.
func (a *Adapter) Status() channel.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return channel.Status{
		Name:          Name,
		Enabled:       a.enabled,
		Connected:     a.connected,
		LastMessageAt: a.lastSent,
		LastError:     a.lastErr,
	}
}

// OnCommand stores the handler. Speech never receives input.
func (a *Adapter) OnCommand(h channel.Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Disconnect stops speaking.
func (a *Adapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}
