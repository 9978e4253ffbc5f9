package notify

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/c360studio/semgate/channel"
	"github.com/c360studio/semgate/command"
)

// Formatter turns events into transport-agnostic messages.
type Formatter struct {
	newInteractionID func() string
}

// NewFormatter creates a formatter.
func NewFormatter() *Formatter {
	return &Formatter{newInteractionID: func() string { return uuid.New().String() }}
}

// Format renders an event. The returned message always has Text; Blocks
// carry the same content in structured form.
func (f *Formatter) Format(e Event) channel.Message {
	msg := channel.Message{
		Metadata: channel.Metadata{
			ExecutionID: e.ExecutionID,
			GateID:      e.GateID,
			EventType:   string(e.Type),
		},
	}

	switch e.Type {
	case EventGateAutoApproved:
		msg.Text = autoApprovedText(e)
		msg.Blocks = []channel.Block{
			{Kind: channel.BlockSection, Text: msg.Text},
			{Kind: channel.BlockContext, Text: executionLine(e)},
		}

	case EventGateWaiting:
		msg.Text = waitingText(e)
		msg.Blocks = []channel.Block{{Kind: channel.BlockSection, Text: msg.Text}}
		if len(e.Deliverables) > 0 {
			msg.Blocks = append(msg.Blocks, channel.Block{Kind: channel.BlockContext, Text: "Deliverables: " + strings.Join(e.Deliverables, ", ")})
		}
		if len(e.Missing) > 0 {
			msg.Blocks = append(msg.Blocks, channel.Block{Kind: channel.BlockContext, Text: "Missing: " + strings.Join(e.Missing, ", ")})
		}
		msg.Blocks = append(msg.Blocks,
			channel.Block{Kind: channel.BlockContext, Text: executionLine(e)},
			channel.Block{Kind: channel.BlockActions, Actions: f.gateActions(e)},
		)

	case EventLoopComplete:
		msg.Text = fmt.Sprintf("Execution %s (%s) completed all phases.", e.ExecutionID, orUnknown(e.LoopID))
		msg.Blocks = []channel.Block{{Kind: channel.BlockSection, Text: msg.Text}}

	case EventRecoveryStarted:
		msg.Text = fmt.Sprintf("Recovery agent launched for gate %s of %s to produce: %s.",
			e.GateID, e.ExecutionID, strings.Join(e.Missing, ", "))
		msg.Blocks = []channel.Block{
			{Kind: channel.BlockSection, Text: msg.Text},
			{Kind: channel.BlockContext, Text: executionLine(e)},
		}

	default:
		msg.Text = customText(e)
		msg.Blocks = []channel.Block{{Kind: channel.BlockSection, Text: msg.Text}}
		if cmd := command.ParseAction(e.Payload); cmd != nil {
			label := e.Title
			if label == "" {
				label = actionLabel(cmd.Kind)
			}
			msg.Blocks = append(msg.Blocks, channel.Block{
				Kind: channel.BlockActions,
				Actions: []channel.Action{{
					ID:      string(cmd.Kind),
					Label:   label,
					Style:   channel.StylePrimary,
					Payload: command.PayloadFor(*cmd),
				}},
			})
		}
	}

	return msg
}

// Resolved renders the replacement for an escalation message once a later
// auto-approval made it stale.
func (f *Formatter) Resolved(e Event) channel.Message {
	text := fmt.Sprintf("Resolved: gate %s of %s was auto-approved after escalation. No action needed.",
		e.GateID, e.ExecutionID)
	return channel.Message{
		Text:   text,
		Blocks: []channel.Block{{Kind: channel.BlockSection, Text: text}},
		Metadata: channel.Metadata{
			ExecutionID: e.ExecutionID,
			GateID:      e.GateID,
			EventType:   string(EventGateAutoApproved),
		},
	}
}

func (f *Formatter) gateActions(e Event) []channel.Action {
	interaction := f.newInteractionID()
	base := command.Command{ExecutionID: e.ExecutionID, GateID: e.GateID, InteractionID: interaction}

	action := func(kind command.Kind, style channel.ActionStyle) channel.Action {
		c := base
		c.Kind = kind
		return channel.Action{
			ID:      string(kind),
			Label:   actionLabel(kind),
			Style:   style,
			Payload: command.PayloadFor(c),
		}
	}

	return []channel.Action{
		action(command.KindApprove, channel.StylePrimary),
		action(command.KindForceApprove, channel.StyleDanger),
		action(command.KindReject, channel.StyleDanger),
		action(command.KindRequestRecovery, channel.StyleDefault),
	}
}

func actionLabel(kind command.Kind) string {
	switch kind {
	case command.KindApprove:
		return "Approve"
	case command.KindForceApprove:
		return "Force approve"
	case command.KindReject:
		return "Reject"
	case command.KindRequestRecovery:
		return "Retry recovery"
	case command.KindContinue:
		return "Continue"
	case command.KindStartWorkflow:
		return "Start"
	case command.KindStatus:
		return "Status"
	default:
		return string(kind)
	}
}

func autoApprovedText(e Event) string {
	switch e.Reason {
	case ReasonAfterRetry:
		return fmt.Sprintf("Gate %s auto-approved after %d %s.", e.GateID, e.RetryCount, plural(e.RetryCount, "retry", "retries"))
	case ReasonAfterRecovery:
		return fmt.Sprintf("Gate %s auto-approved after the recovery agent produced the missing deliverables.", e.GateID)
	case ReasonAfterEscalation:
		return fmt.Sprintf("Gate %s auto-approved after escalation: its deliverables now exist. No action needed.", e.GateID)
	default:
		return fmt.Sprintf("Gate %s auto-approved: guarantees passed.", e.GateID)
	}
}

func waitingText(e Event) string {
	if e.Escalated {
		return fmt.Sprintf("Gate %s of %s needs a human: %d %s still missing after automatic recovery.",
			e.GateID, e.ExecutionID, len(e.Missing), plural(len(e.Missing), "deliverable", "deliverables"))
	}
	approval := string(e.ApprovalType)
	if approval == "" {
		approval = "human"
	}
	return fmt.Sprintf("Gate %s of %s is waiting for approval (%s).", e.GateID, e.ExecutionID, approval)
}

func customText(e Event) string {
	switch {
	case e.Title != "" && e.Text != "":
		return e.Title + ": " + e.Text
	case e.Title != "":
		return e.Title
	default:
		return e.Text
	}
}

func executionLine(e Event) string {
	parts := []string{"execution " + e.ExecutionID}
	if e.LoopID != "" {
		parts = append(parts, "workflow "+e.LoopID)
	}
	if e.Phase != "" {
		parts = append(parts, "phase "+e.Phase)
	}
	if e.ApprovalType != "" {
		parts = append(parts, "approval "+string(e.ApprovalType))
	}
	return strings.Join(parts, " | ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown workflow"
	}
	return s
}
