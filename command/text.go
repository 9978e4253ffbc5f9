package command

import (
	"regexp"
	"strings"
)

// DefaultWorkflows is the start vocabulary used when a Context names none.
var DefaultWorkflows = []string{"feature", "bugfix", "refactor", "spike", "release"}

// Context is what a channel knows about the conversation a message arrived
// in: usually the execution and gate of the thread being replied to.
type Context struct {
	ExecutionID string
	GateID      string
	User        string

	// Workflows is the start vocabulary. Nil means DefaultWorkflows.
	Workflows []string
}

type textRule struct {
	pattern *regexp.Regexp
	build   func(m []string, c Context) *Command
}

// textRules are evaluated in order; the first match wins.
var textRules = []textRule{
	{
		pattern: regexp.MustCompile(`(?i)^(?:force[\s-]*approve|override)(?:\s+(\S+))?$`),
		build: func(m []string, c Context) *Command {
			return gateCommand(KindForceApprove, m[1], c)
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^(?:approve|approved|lgtm|ship\s+it)(?:\s+(\S+))?$`),
		build: func(m []string, c Context) *Command {
			return gateCommand(KindApprove, m[1], c)
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^(?:reject|rejected|deny)(?:\s*[:\-]?\s+(.+))?$`),
		build: func(m []string, c Context) *Command {
			cmd := gateCommand(KindReject, "", c)
			cmd.Reason = strings.TrimSpace(m[1])
			return cmd
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^(?:retry|recover|try\s+again|fix\s+it)$`),
		build: func(_ []string, c Context) *Command {
			return gateCommand(KindRequestRecovery, "", c)
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^(?:status|progress|where\s+are\s+we|what'?s\s+the\s+status|how'?s\s+it\s+going)\??$`),
		build: func(_ []string, c Context) *Command {
			return &Command{Kind: KindStatus, ExecutionID: c.ExecutionID, User: c.User}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^(?:feedback|note)\s*:\s*(.+)$`),
		build: func(m []string, c Context) *Command {
			return &Command{Kind: KindFeedback, ExecutionID: c.ExecutionID, Text: strings.TrimSpace(m[1]), User: c.User}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^start\s+(\S+)(?:\s+(.+))?$`),
		build: func(m []string, c Context) *Command {
			name := strings.ToLower(m[1])
			if !knownWorkflow(name, c.Workflows) {
				return nil
			}
			return &Command{Kind: KindStartWorkflow, Workflow: name, Target: strings.TrimSpace(m[2]), User: c.User}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^(?:go|go\s+ahead|yes|y|ok|okay|continue|proceed|resume)$`),
		build: func(_ []string, c Context) *Command {
			return &Command{Kind: KindContinue, ExecutionID: c.ExecutionID, User: c.User}
		},
	},
}

// ParseText maps free text to a command, or nil when nothing matches.
func ParseText(text string, c Context) *Command {
	text = strings.TrimSpace(text)
	text = strings.TrimRight(text, ".!")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	for _, r := range textRules {
		m := r.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		return r.build(m, c)
	}
	return nil
}

func gateCommand(kind Kind, gateID string, c Context) *Command {
	if gateID == "" {
		gateID = c.GateID
	}
	return &Command{Kind: kind, ExecutionID: c.ExecutionID, GateID: gateID, User: c.User}
}

func knownWorkflow(name string, vocab []string) bool {
	if vocab == nil {
		vocab = DefaultWorkflows
	}
	for _, w := range vocab {
		if strings.EqualFold(w, name) {
			return true
		}
	}
	return false
}
