package command

import (
	"bytes"
	"encoding/json"
)

// maxUnwrap bounds nested custom payloads.
const maxUnwrap = 3

// ParseAction parses an interactive element payload. It returns nil when the
// payload is malformed, names an unknown action, or lacks a field the action
// requires.
func ParseAction(data []byte) *Command {
	return parseAction(data, 0)
}

func parseAction(data []byte, depth int) *Command {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}

	if Kind(p.Action) == kindCustom {
		if depth >= maxUnwrap {
			return nil
		}
		inner := bytes.TrimSpace(p.Payload)
		if len(inner) == 0 {
			return nil
		}
		// The inner payload may arrive as an encoded JSON string.
		if inner[0] == '"' {
			var s string
			if err := json.Unmarshal(inner, &s); err != nil {
				return nil
			}
			inner = []byte(s)
		}
		return parseAction(inner, depth+1)
	}

	c := &Command{
		Kind:          Kind(p.Action),
		ExecutionID:   p.ExecutionID,
		GateID:        p.GateID,
		InteractionID: p.InteractionID,
		Workflow:      p.Workflow,
		Target:        p.Target,
		Text:          p.Text,
		Reason:        p.Reason,
	}
	if !c.complete() {
		return nil
	}
	return c
}

// complete reports whether the command carries the fields its kind needs.
func (c *Command) complete() bool {
	switch c.Kind {
	case KindApprove, KindReject, KindForceApprove, KindRequestRecovery:
		return c.ExecutionID != "" && c.GateID != ""
	case KindContinue:
		return c.ExecutionID != ""
	case KindFeedback:
		return c.ExecutionID != "" && c.Text != ""
	case KindStartWorkflow:
		return c.Workflow != ""
	case KindStatus:
		return true
	default:
		return false
	}
}
