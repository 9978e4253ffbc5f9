// Package command turns inbound channel traffic into typed commands and
// executes them against the execution approval API.
//
// Two parsers exist. ParseAction reads the structured payload attached to an
// interactive element (a button) and is strict. ParseText reads free text and
// is forgiving: anything it does not recognise yields nil, never an error.
package command

import "encoding/json"

// Kind discriminates inbound commands.
type Kind string

const (
	KindApprove         Kind = "approve"
	KindReject          Kind = "reject"
	KindContinue        Kind = "continue"
	KindForceApprove    Kind = "force_approve"
	KindRequestRecovery Kind = "request_recovery"
	KindStartWorkflow   Kind = "start_workflow"
	KindStatus          Kind = "status"
	KindFeedback        Kind = "feedback"

	// kindCustom wraps another payload. It never appears on a parsed Command.
	kindCustom Kind = "custom"
)

// Command is a parsed user intent.
type Command struct {
	Kind          Kind   `json:"kind"`
	ExecutionID   string `json:"execution_id,omitempty"`
	GateID        string `json:"gate_id,omitempty"`
	InteractionID string `json:"interaction_id,omitempty"`
	Workflow      string `json:"workflow,omitempty"`
	Target        string `json:"target,omitempty"`
	Text          string `json:"text,omitempty"`
	Reason        string `json:"reason,omitempty"`
	User          string `json:"user,omitempty"`
}

// Result is what an executed command reports back to its channel.
type Result struct {
	Kind        Kind   `json:"kind"`
	ExecutionID string `json:"execution_id,omitempty"`
	GateID      string `json:"gate_id,omitempty"`
	Message     string `json:"message"`
}

// Payload is the wire shape of an interactive element's value.
type Payload struct {
	Action        string          `json:"action"`
	ExecutionID   string          `json:"execution_id,omitempty"`
	GateID        string          `json:"gate_id,omitempty"`
	InteractionID string          `json:"interaction_id,omitempty"`
	Workflow      string          `json:"workflow,omitempty"`
	Target        string          `json:"target,omitempty"`
	Text          string          `json:"text,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// PayloadFor serializes a command into the payload ParseAction accepts.
// The user is not carried: the receiving channel supplies it.
func PayloadFor(c Command) json.RawMessage {
	data, _ := json.Marshal(Payload{
		Action:        string(c.Kind),
		ExecutionID:   c.ExecutionID,
		GateID:        c.GateID,
		InteractionID: c.InteractionID,
		Workflow:      c.Workflow,
		Target:        c.Target,
		Text:          c.Text,
		Reason:        c.Reason,
	})
	return data
}

// WrapPayload embeds a command payload inside a custom payload, as carried
// by generic notification events.
func WrapPayload(c Command) json.RawMessage {
	data, _ := json.Marshal(Payload{
		Action:  string(kindCustom),
		Payload: PayloadFor(c),
	})
	return data
}
