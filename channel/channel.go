// Package channel defines the contract every notification transport
// implements, and the transport-agnostic message it delivers.
//
// Adapters must tolerate missing optional configuration: Initialize leaves
// the adapter disabled rather than failing, and callers consult Status
// before relying on it.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/c360studio/semgate/command"
)

var (
	// ErrNotReady is returned by Send on an adapter that is disabled or
	// disconnected.
	ErrNotReady = errors.New("channel not ready")

	// ErrSkipped is returned by Send when the adapter does not carry the
	// message's event type. It is neither a delivery nor a failure.
	ErrSkipped = errors.New("event not carried by channel")
)

// BlockKind is the role of a message block.
type BlockKind string

const (
	BlockSection BlockKind = "section"
	BlockActions BlockKind = "actions"
	BlockContext BlockKind = "context"
)

// ActionStyle hints how an interactive element is rendered.
type ActionStyle string

const (
	StyleDefault ActionStyle = ""
	StylePrimary ActionStyle = "primary"
	StyleDanger  ActionStyle = "danger"
)

// Action is an interactive element. Payload is what the element sends back
// when used; command.ParseAction understands it.
type Action struct {
	ID      string          `json:"id"`
	Label   string          `json:"label"`
	Style   ActionStyle     `json:"style,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Block is a structured piece of a message.
type Block struct {
	Kind    BlockKind `json:"kind"`
	Text    string    `json:"text,omitempty"`
	Actions []Action  `json:"actions,omitempty"`
}

// Metadata identifies what a message is about.
type Metadata struct {
	ExecutionID string `json:"execution_id,omitempty"`
	GateID      string `json:"gate_id,omitempty"`
	EventType   string `json:"event_type,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
}

// Message is a formatted notification. Text is always set; adapters that
// cannot render blocks send Text alone.
type Message struct {
	Text      string   `json:"text"`
	Blocks    []Block  `json:"blocks,omitempty"`
	ThreadKey string   `json:"thread_key,omitempty"`
	Metadata  Metadata `json:"metadata"`
}

// HasActions reports whether any block carries interactive elements.
func (m Message) HasActions() bool {
	for _, b := range m.Blocks {
		if len(b.Actions) > 0 {
			return true
		}
	}
	return false
}

// WithoutActions returns a copy of the message with interactive elements
// removed.
func (m Message) WithoutActions() Message {
	out := m
	out.Blocks = nil
	for _, b := range m.Blocks {
		if b.Kind == BlockActions {
			continue
		}
		b.Actions = nil
		out.Blocks = append(out.Blocks, b)
	}
	return out
}

// MessageRef identifies a sent message. ThreadKey is the conversation the
// message landed in; ID is opaque to everyone but the adapter.
type MessageRef struct {
	Adapter   string `json:"adapter"`
	ID        string `json:"id"`
	ThreadKey string `json:"thread_key,omitempty"`
}

// Status is an adapter health snapshot.
type Status struct {
	Name          string    `json:"name"`
	Enabled       bool      `json:"enabled"`
	Connected     bool      `json:"connected"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
}

// Ready reports whether the adapter can deliver messages.
func (s Status) Ready() bool {
	return s.Enabled && s.Connected
}

// Handler executes a parsed inbound command.
type Handler func(ctx context.Context, cmd command.Command) (command.Result, error)

// Adapter is one notification transport.
type Adapter interface {
	Name() string
	Initialize(ctx context.Context) error
	Send(ctx context.Context, msg Message) (MessageRef, error)
	Status() Status
	// OnCommand registers the inbound handler, replacing any previous one.
	OnCommand(h Handler)
	Disconnect(ctx context.Context) error
}

// Updater is implemented by adapters that can edit a sent message in place.
type Updater interface {
	Update(ctx context.Context, ref MessageRef, msg Message) error
}
