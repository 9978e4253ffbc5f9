package scheduler

import "github.com/c360studio/semgate/workflow"

// Predicate decides whether a conditional gate may be auto-approved.
type Predicate func(exec *workflow.Execution, gate workflow.Gate) bool

// DeployTargetParam is the execution parameter NoDeployTarget inspects.
const DeployTargetParam = "deploy_target"

// NoDeployTarget holds when the execution has no external deploy target.
func NoDeployTarget(exec *workflow.Execution, _ workflow.Gate) bool {
	return exec.Params[DeployTargetParam] == ""
}

// BuiltinPredicates are the predicates configuration can name.
var BuiltinPredicates = map[string]Predicate{
	"no_deploy_target": NoDeployTarget,
	"always":           func(*workflow.Execution, workflow.Gate) bool { return true },
	"never":            func(*workflow.Execution, workflow.Gate) bool { return false },
}

// CanAutoApprove reports whether a gate may be approved without a human,
// subject to its guarantees. It never checks the guarantees itself.
//
// Only executions with full autonomy qualify. Auto gates qualify, human
// gates never do, and conditional gates qualify when their predicate holds.
// A conditional gate without a registered predicate qualifies.
func CanAutoApprove(exec *workflow.Execution, gate workflow.Gate, predicates map[string]Predicate) bool {
	if exec == nil || exec.Autonomy != workflow.AutonomyFull {
		return false
	}
	switch gate.ApprovalType {
	case workflow.ApprovalAuto:
		return true
	case workflow.ApprovalConditional:
		if p, ok := predicates[gate.ID]; ok && p != nil {
			return p(exec, gate)
		}
		return true
	default:
		return false
	}
}
