package autonomyscheduler

import "github.com/c360studio/semgate/workflow"

// DefaultWorkflows returns the built-in workflow catalog. Its names match
// the vocabulary "start <workflow>" understands out of the box.
func DefaultWorkflows() []workflow.Definition {
	return []workflow.Definition{
		{
			Name:        "feature",
			Description: "Design, build and review a new capability",
			Phases: []workflow.Phase{
				{Name: "design", Skills: []string{"write-design"}},
				{Name: "implement", Skills: []string{"write-code", "write-tests"}},
				{Name: "review", Skills: []string{"review-code"}},
			},
			Gates: []workflow.Gate{
				{ID: "design-review", AfterPhase: "design", Required: true, ApprovalType: workflow.ApprovalAuto,
					Deliverables: []string{"docs/design/*.md"}, Description: "A design document exists"},
				{ID: "tests-present", AfterPhase: "implement", Required: true, ApprovalType: workflow.ApprovalAuto,
					Deliverables: []string{"**/*_test.go"}, Description: "Tests accompany the change"},
				{ID: "code-review", AfterPhase: "review", Required: true, ApprovalType: workflow.ApprovalHuman},
			},
			Autonomy: workflow.AutonomyFull,
		},
		{
			Name:        "bugfix",
			Description: "Reproduce, fix and verify a defect",
			Phases: []workflow.Phase{
				{Name: "reproduce", Skills: []string{"write-repro"}},
				{Name: "fix", Skills: []string{"write-code"}},
			},
			Gates: []workflow.Gate{
				{ID: "repro-captured", AfterPhase: "reproduce", Required: true, ApprovalType: workflow.ApprovalAuto,
					Deliverables: []string{"**/*_test.go"}, Description: "A failing test reproduces the bug"},
				{ID: "fix-review", AfterPhase: "fix", Required: true, ApprovalType: workflow.ApprovalConditional},
			},
			Autonomy: workflow.AutonomyFull,
		},
		{
			Name: "refactor",
			Phases: []workflow.Phase{
				{Name: "plan", Skills: []string{"write-plan"}},
				{Name: "restructure", Skills: []string{"write-code"}},
			},
			Gates: []workflow.Gate{
				{ID: "plan-review", AfterPhase: "plan", Required: true, ApprovalType: workflow.ApprovalAuto,
					Deliverables: []string{"docs/refactor.md"}},
				{ID: "behavior-preserved", AfterPhase: "restructure", Required: true, ApprovalType: workflow.ApprovalHuman},
			},
			Autonomy: workflow.AutonomySupervised,
		},
		{
			Name: "spike",
			Phases: []workflow.Phase{
				{Name: "explore", Skills: []string{"research"}},
			},
			Gates: []workflow.Gate{
				{ID: "findings", AfterPhase: "explore", Required: false, ApprovalType: workflow.ApprovalAuto,
					Deliverables: []string{"docs/spikes/*.md"}},
			},
			Autonomy: workflow.AutonomyFull,
		},
		{
			Name: "release",
			Phases: []workflow.Phase{
				{Name: "prepare", Skills: []string{"write-changelog", "bump-version"}},
				{Name: "publish", Skills: []string{"tag-release"}},
			},
			Gates: []workflow.Gate{
				{ID: "changelog", AfterPhase: "prepare", Required: true, ApprovalType: workflow.ApprovalAuto,
					Deliverables: []string{"CHANGELOG.md"}},
				{ID: "release-approval", AfterPhase: "prepare", Required: true, ApprovalType: workflow.ApprovalConditional},
			},
			Autonomy: workflow.AutonomyFull,
		},
	}
}
