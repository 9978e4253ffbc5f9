package workflow

import "errors"

var (
	// ErrNotFound is returned when an execution does not exist.
	ErrNotFound = errors.New("execution not found")

	// ErrConflict is returned when an execution changed since it was read.
	ErrConflict = errors.New("execution revision conflict")

	// ErrGateNotFound is returned for gate ids the execution does not declare.
	ErrGateNotFound = errors.New("gate not found")

	// ErrSkillsIncomplete means the current phase still has unfinished skills.
	ErrSkillsIncomplete = errors.New("phase skills incomplete")

	// ErrGatesPending means a required gate after the current phase is not approved.
	ErrGatesPending = errors.New("required gates not approved")

	// ErrPhaseIncomplete means the current phase has not been completed yet.
	ErrPhaseIncomplete = errors.New("current phase not completed")

	// ErrPhaseAlreadyComplete means the current phase was already completed.
	ErrPhaseAlreadyComplete = errors.New("current phase already completed")

	// ErrNoNextPhase means the current phase is the last one.
	ErrNoNextPhase = errors.New("no next phase")

	// ErrNotActive means the execution is not in the active status.
	ErrNotActive = errors.New("execution not active")
)
