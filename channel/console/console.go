// Package console is an output-only channel that prints notifications to a
// terminal or log stream.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/c360studio/semgate/channel"
)

// Name is the default adapter name.
const Name = "console"

type styles struct {
	timestamp lipgloss.Style
	event     lipgloss.Style
	escalated lipgloss.Style
	body      lipgloss.Style
	context   lipgloss.Style
	action    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		timestamp: r.NewStyle().Foreground(lipgloss.Color("8")),
		event:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		escalated: r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		body:      r.NewStyle(),
		context:   r.NewStyle().Faint(true),
		action:    r.NewStyle().Foreground(lipgloss.Color("10")),
	}
}

// Adapter writes formatted messages to an io.Writer.
type Adapter struct {
	name   string
	out    io.Writer
	styles styles
	clock  func() time.Time

	mu        sync.Mutex
	enabled   bool
	connected bool
	lastSent  time.Time
	lastErr   string
	handler   channel.Handler
}

// Option customizes the adapter.
type Option func(*Adapter)

// WithName overrides the adapter name.
func WithName(name string) Option {
	return func(a *Adapter) {
		if name != "" {
			a.name = name
		}
	}
}

// WithClock injects a clock for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(a *Adapter) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// New creates a console adapter writing to out. A nil writer leaves the
// adapter disabled.
func New(out io.Writer, opts ...Option) *Adapter {
	a := &Adapter{
		name:  Name,
		out:   out,
		clock: time.Now,
	}
	if out != nil {
		a.styles = newStyles(lipgloss.NewRenderer(out))
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the adapter name.
func (a *Adapter) Name() string { return a.name }

// Initialize enables the adapter when it has somewhere to write.
func (a *Adapter) Initialize(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = a.out != nil
	a.connected = a.enabled
	return nil
}

// Send prints the message.
func (a *Adapter) Send(_ context.Context, msg channel.Message) (channel.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return channel.MessageRef{}, channel.ErrNotReady
	}

	now := a.clock()
	if _, err := io.WriteString(a.out, a.render(msg, now)); err != nil {
		a.lastErr = err.Error()
		return channel.MessageRef{}, fmt.Errorf("write console message: %w", err)
	}
	a.lastSent = now
	a.lastErr = ""

	return channel.MessageRef{
		Adapter:   a.name,
		ID:        uuid.New().String(),
		ThreadKey: msg.ThreadKey,
	}, nil
}

func (a *Adapter) render(msg channel.Message, now time.Time) string {
	var sb strings.Builder

	event := msg.Metadata.EventType
	if event == "" {
		event = "notice"
	}
	eventStyle := a.styles.event
	if msg.HasActions() {
		eventStyle = a.styles.escalated
	}

	sb.WriteString(a.styles.timestamp.Render(now.Format("15:04:05")))
	sb.WriteString(" ")
	sb.WriteString(eventStyle.Render("[" + event + "]"))
	sb.WriteString(" ")
	sb.WriteString(a.styles.body.Render(msg.Text))
	sb.WriteString("\n")

	for _, b := range msg.Blocks {
		switch b.Kind {
		case channel.BlockContext:
			sb.WriteString("  " + a.styles.context.Render(b.Text) + "\n")
		case channel.BlockActions:
			labels := make([]string, 0, len(b.Actions))
			for _, act := range b.Actions {
				labels = append(labels, a.styles.action.Render("["+act.Label+"]"))
			}
			if len(labels) > 0 {
				sb.WriteString("  " + strings.Join(labels, " ") + "\n")
			}
		}
	}
	return sb.String()
}

// Status reports the adapter state.
func (a *Adapter) Status() channel.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return channel.Status{
		Name:          a.name,
		Enabled:       a.enabled,
		Connected:     a.connected,
		LastMessageAt: a.lastSent,
		LastError:     a.lastErr,
	}
}

// OnCommand stores the handler. The console never receives input.
func (a *Adapter) OnCommand(h channel.Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Disconnect stops delivery.
func (a *Adapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}
