package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/semgate/workflow"
	"github.com/c360studio/semgate/workflow/engine"
)

// Describe renders a command error as a short message a human can act on.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var gerr *engine.GuaranteeError
	switch {
	case errors.As(err, &gerr):
		n := len(gerr.Missing)
		noun := "requirements"
		if n == 1 {
			noun = "requirement"
		}
		return fmt.Sprintf("Gate %s is blocked by %d unmet %s: %s. Add them and approve again, or force approve to skip the check.",
			gerr.GateID, n, noun, strings.Join(gerr.Missing, ", "))
	case errors.Is(err, ErrMissingContext):
		return "Which execution do you mean? Reply in the execution's thread or include its id."
	case errors.Is(err, ErrRecoveryUnavailable):
		return "No recovery agent is configured. Add the missing deliverables or force approve."
	case errors.Is(err, engine.ErrUnknownWorkflow):
		return "That workflow is not known here. Say \"start <workflow> [target]\" with a configured workflow."
	case errors.Is(err, workflow.ErrNotFound):
		return "That execution no longer exists."
	case errors.Is(err, workflow.ErrGateNotFound):
		return "That gate does not belong to the execution."
	case errors.Is(err, workflow.ErrConflict):
		return "The execution changed while this was applied. Please try again."
	default:
		return "The request could not be completed. Check the scheduler logs for details."
	}
}
