package chat

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/semgate/channel"
)

func init() {
	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "chat",
		Category:    "envelope",
		Version:     "v1",
		Description: "Outbound chat message post or update",
		Factory:     func() any { return &Envelope{} },
	}); err != nil {
		panic("failed to register chat Envelope: " + err.Error())
	}

	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "chat",
		Category:    "inbound",
		Version:     "v1",
		Description: "Inbound chat message or interaction",
		Factory:     func() any { return &Inbound{} },
	}); err != nil {
		panic("failed to register chat Inbound: " + err.Error())
	}
}

// EnvelopeType is the message type for outbound chat envelopes.
var EnvelopeType = message.Type{Domain: "chat", Category: "envelope", Version: "v1"}

// InboundType is the message type for inbound chat traffic.
var InboundType = message.Type{Domain: "chat", Category: "inbound", Version: "v1"}

// Op is the outbound operation a chat bridge performs.
type Op string

const (
	OpPost   Op = "post"
	OpUpdate Op = "update"
)

// Envelope is published for the chat bridge to render on its platform.
type Envelope struct {
	Op        Op               `json:"op"`
	Channel   string           `json:"channel"`
	MessageID string           `json:"message_id"`
	ThreadKey string           `json:"thread_key,omitempty"`
	Text      string           `json:"text"`
	Blocks    []channel.Block  `json:"blocks,omitempty"`
	Metadata  channel.Metadata `json:"metadata"`
}

// Schema returns the message type for this payload.
func (e *Envelope) Schema() message.Type { return EnvelopeType }

// Validate validates the envelope.
func (e *Envelope) Validate() error {
	if e.Op != OpPost && e.Op != OpUpdate {
		return fmt.Errorf("invalid op %q", e.Op)
	}
	if e.MessageID == "" {
		return fmt.Errorf("message_id is required")
	}
	return nil
}

// MarshalJSON marshals the envelope to JSON.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	type Alias Envelope
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the envelope from JSON.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type Alias Envelope
	return json.Unmarshal(data, (*Alias)(e))
}

// InboundKind distinguishes free text from interactive element use.
type InboundKind string

const (
	InboundMessage     InboundKind = "message"
	InboundInteraction InboundKind = "interaction"
)

// Inbound is what the chat bridge publishes when a human writes or clicks.
type Inbound struct {
	Kind          InboundKind     `json:"kind"`
	Channel       string          `json:"channel"`
	User          string          `json:"user"`
	ThreadKey     string          `json:"thread_key,omitempty"`
	MessageID     string          `json:"message_id,omitempty"`
	InteractionID string          `json:"interaction_id,omitempty"`
	Text          string          `json:"text,omitempty"`
	Value         json.RawMessage `json:"value,omitempty"`
}

// Schema returns the message type for this payload.
func (i *Inbound) Schema() message.Type { return InboundType }

// Validate validates the inbound event.
func (i *Inbound) Validate() error {
	switch i.Kind {
	case InboundMessage:
		if i.Text == "" {
			return fmt.Errorf("text is required")
		}
	case InboundInteraction:
		if len(i.Value) == 0 {
			return fmt.Errorf("value is required")
		}
	default:
		return fmt.Errorf("invalid kind %q", i.Kind)
	}
	return nil
}

// MarshalJSON marshals the inbound event to JSON.
func (i *Inbound) MarshalJSON() ([]byte, error) {
	type Alias Inbound
	return json.Marshal((*Alias)(i))
}

// UnmarshalJSON unmarshals the inbound event from JSON.
func (i *Inbound) UnmarshalJSON(data []byte) error {
	type Alias Inbound
	return json.Unmarshal(data, (*Alias)(i))
}

// decodeInbound accepts a bare Inbound or one wrapped in a BaseMessage.
func decodeInbound(data []byte) (*Inbound, error) {
	var wrapper struct {
		Type    json.RawMessage `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("decode inbound: %w", err)
	}
	if len(wrapper.Type) > 0 && len(wrapper.Payload) > 0 {
		data = wrapper.Payload
	}

	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode inbound: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &in, nil
}
