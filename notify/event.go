// Package notify formats scheduler events and routes them to channel
// adapters, keeping follow-up messages for an execution in one thread.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/semgate/workflow"
)

// EventType discriminates notification events.
type EventType string

const (
	EventGateAutoApproved EventType = "gate_auto_approved"
	EventGateWaiting      EventType = "gate_waiting"
	EventLoopComplete     EventType = "loop_complete"
	EventRecoveryStarted  EventType = "recovery_started"
	EventCustom           EventType = "custom"
)

// Reason classifies how an auto-approved gate got there.
type Reason string

const (
	ReasonGuaranteesPassed Reason = "guarantees_passed"
	ReasonAfterRetry       Reason = "after_retry"
	ReasonAfterRecovery    Reason = "after_recovery"
	ReasonAfterEscalation  Reason = "after_escalation"
)

// EventMessageType is the message type for notification events.
var EventMessageType = message.Type{
	Domain:   "autonomy",
	Category: "notification",
	Version:  "v1",
}

// Event is a semantic notification. Type-specific fields are left empty
// when they do not apply.
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	// LoopID is the workflow the execution runs.
	LoopID string `json:"loop_id,omitempty"`
	Phase  string `json:"phase,omitempty"`

	// gate_waiting and gate_auto_approved
	GateID       string                `json:"gate_id,omitempty"`
	Deliverables []string              `json:"deliverables,omitempty"`
	Missing      []string              `json:"missing,omitempty"`
	ApprovalType workflow.ApprovalType `json:"approval_type,omitempty"`
	Escalated    bool                  `json:"escalated,omitempty"`

	// gate_auto_approved
	Reason     Reason `json:"reason,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`

	// custom
	Title   string          `json:"title,omitempty"`
	Text    string          `json:"text,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Schema returns the message type for this payload.
func (e *Event) Schema() message.Type {
	return EventMessageType
}

// Validate validates the event.
func (e *Event) Validate() error {
	switch e.Type {
	case EventGateAutoApproved, EventGateWaiting, EventRecoveryStarted:
		if e.ExecutionID == "" || e.GateID == "" {
			return fmt.Errorf("%s requires execution_id and gate_id", e.Type)
		}
	case EventLoopComplete:
		if e.ExecutionID == "" {
			return fmt.Errorf("execution_id is required")
		}
	case EventCustom:
		if e.Text == "" && e.Title == "" {
			return fmt.Errorf("custom event requires title or text")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// MarshalJSON marshals the event to JSON.
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	return json.Unmarshal(data, (*Alias)(e))
}
