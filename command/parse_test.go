package command

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction_RoundTrip(t *testing.T) {
	cmds := []Command{
		{Kind: KindApprove, ExecutionID: "exec-1", GateID: "design-review", InteractionID: "i-1"},
		{Kind: KindReject, ExecutionID: "exec-1", GateID: "design-review", Reason: "too thin"},
		{Kind: KindContinue, ExecutionID: "exec-1"},
		{Kind: KindForceApprove, ExecutionID: "exec-1", GateID: "code-review", InteractionID: "i-2"},
		{Kind: KindRequestRecovery, ExecutionID: "exec-1", GateID: "code-review"},
		{Kind: KindStartWorkflow, Workflow: "feature", Target: "billing"},
		{Kind: KindStatus},
		{Kind: KindStatus, ExecutionID: "exec-2"},
		{Kind: KindFeedback, ExecutionID: "exec-1", Text: "prefer gRPC"},
	}

	for _, want := range cmds {
		t.Run(string(want.Kind), func(t *testing.T) {
			got := ParseAction(PayloadFor(want))
			require.NotNil(t, got)
			assert.Equal(t, want, *got)

			again := ParseAction(PayloadFor(*got))
			require.NotNil(t, again)
			assert.Equal(t, *got, *again)
		})
	}
}

func TestParseAction_CustomWrapper(t *testing.T) {
	want := Command{Kind: KindApprove, ExecutionID: "exec-1", GateID: "g"}

	t.Run("object", func(t *testing.T) {
		got := ParseAction(WrapPayload(want))
		require.NotNil(t, got)
		assert.Equal(t, want, *got)
	})

	t.Run("string", func(t *testing.T) {
		inner, err := json.Marshal(string(PayloadFor(want)))
		require.NoError(t, err)
		data := []byte(`{"action":"custom","payload":` + string(inner) + `}`)

		got := ParseAction(data)
		require.NotNil(t, got)
		assert.Equal(t, want, *got)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, ParseAction([]byte(`{"action":"custom"}`)))
	})

	t.Run("nested too deep", func(t *testing.T) {
		data := PayloadFor(want)
		for i := 0; i < maxUnwrap+1; i++ {
			data, _ = json.Marshal(Payload{Action: "custom", Payload: data})
		}
		assert.Nil(t, ParseAction(data))
	})
}

func TestParseAction_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `approve`},
		{"no action", `{"execution_id":"exec-1"}`},
		{"unknown action", `{"action":"launch","execution_id":"exec-1"}`},
		{"approve without gate", `{"action":"approve","execution_id":"exec-1"}`},
		{"reject without execution", `{"action":"reject","gate_id":"g"}`},
		{"continue without execution", `{"action":"continue"}`},
		{"feedback without text", `{"action":"feedback","execution_id":"exec-1"}`},
		{"start without workflow", `{"action":"start_workflow"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, ParseAction([]byte(tt.data)))
		})
	}
}

func TestParseText(t *testing.T) {
	ctx := Context{ExecutionID: "exec-1", GateID: "design-review", User: "alice"}

	tests := []struct {
		text string
		want *Command
	}{
		{"approve", &Command{Kind: KindApprove, ExecutionID: "exec-1", GateID: "design-review", User: "alice"}},
		{"Approve code-review", &Command{Kind: KindApprove, ExecutionID: "exec-1", GateID: "code-review", User: "alice"}},
		{"LGTM!", &Command{Kind: KindApprove, ExecutionID: "exec-1", GateID: "design-review", User: "alice"}},
		{"force approve", &Command{Kind: KindForceApprove, ExecutionID: "exec-1", GateID: "design-review", User: "alice"}},
		{"force-approve lint", &Command{Kind: KindForceApprove, ExecutionID: "exec-1", GateID: "lint", User: "alice"}},
		{"reject: missing threat model", &Command{Kind: KindReject, ExecutionID: "exec-1", GateID: "design-review", Reason: "missing threat model", User: "alice"}},
		{"reject", &Command{Kind: KindReject, ExecutionID: "exec-1", GateID: "design-review", User: "alice"}},
		{"retry", &Command{Kind: KindRequestRecovery, ExecutionID: "exec-1", GateID: "design-review", User: "alice"}},
		{"status?", &Command{Kind: KindStatus, ExecutionID: "exec-1", User: "alice"}},
		{"where are we", &Command{Kind: KindStatus, ExecutionID: "exec-1", User: "alice"}},
		{"feedback: Use the v2 API", &Command{Kind: KindFeedback, ExecutionID: "exec-1", Text: "Use the v2 API", User: "alice"}},
		{"note:keep it small", &Command{Kind: KindFeedback, ExecutionID: "exec-1", Text: "keep it small", User: "alice"}},
		{"start feature billing service", &Command{Kind: KindStartWorkflow, Workflow: "feature", Target: "billing service", User: "alice"}},
		{"Start bugfix", &Command{Kind: KindStartWorkflow, Workflow: "bugfix", User: "alice"}},
		{"start lunch", nil},
		{"hello there", nil},
		{"", nil},
		{"   ", nil},
		{"yes please do the thing", nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseText(tt.text, ctx))
		})
	}
}

func TestParseText_AffirmationsContinue(t *testing.T) {
	ctx := Context{ExecutionID: "exec-9"}
	want := &Command{Kind: KindContinue, ExecutionID: "exec-9"}

	for _, text := range []string{"go", "yes", "ok", "continue", "GO", "Yes!", "ok.", "  continue  ", "okay", "proceed"} {
		assert.Equal(t, want, ParseText(text, ctx), text)
	}
}

func TestParseText_CustomVocabulary(t *testing.T) {
	ctx := Context{Workflows: []string{"migration"}}

	got := ParseText("start migration orders-db", ctx)
	require.NotNil(t, got)
	assert.Equal(t, "migration", got.Workflow)
	assert.Equal(t, "orders-db", got.Target)

	assert.Nil(t, ParseText("start feature", ctx))
}
