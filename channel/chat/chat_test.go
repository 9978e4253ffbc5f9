package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgate/channel"
	"github.com/c360studio/semgate/command"
	"github.com/c360studio/semgate/workflow/engine"
)

type published struct {
	subject string
	env     Envelope
}

type fakeTransport struct {
	mu        sync.Mutex
	published []published
	handler   func([]byte)
	stream    string
	subject   string
}

func (f *fakeTransport) Publish(_ context.Context, subject string, data []byte) error {
	var wrapper struct {
		Payload Envelope `json:"payload"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	f.mu.Lock()
	f.published = append(f.published, published{subject: subject, env: wrapper.Payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ConsumeStream(ctx context.Context, stream, subject string, handler func([]byte)) error {
	f.mu.Lock()
	f.handler = handler
	f.stream = stream
	f.subject = subject
	f.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) deliver(t *testing.T, in Inbound) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.handler != nil
	}, time.Second, 5*time.Millisecond)

	data, err := json.Marshal(&in)
	require.NoError(t, err)

	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(data)
}

func (f *fakeTransport) envelopes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func connected(t *testing.T) (*Adapter, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	a := New(Config{Channel: "eng-gates"}, tr, nil)
	require.NoError(t, a.Initialize(context.Background()))
	t.Cleanup(func() { _ = a.Disconnect(context.Background()) })
	return a, tr
}

func escalation() channel.Message {
	return channel.Message{
		Text:      "Gate design-review needs a human",
		ThreadKey: "exec-1",
		Blocks: []channel.Block{
			{Kind: channel.BlockSection, Text: "Gate design-review needs a human"},
			{Kind: channel.BlockActions, Actions: []channel.Action{{
				ID:      "approve",
				Label:   "Approve",
				Payload: command.PayloadFor(command.Command{Kind: command.KindApprove, ExecutionID: "exec-1", GateID: "design-review"}),
			}}},
		},
		Metadata: channel.Metadata{ExecutionID: "exec-1", GateID: "design-review", EventType: "gate_waiting"},
	}
}

func TestInitialize_DisabledWithoutConfig(t *testing.T) {
	a := New(Config{}, &fakeTransport{}, nil)
	require.NoError(t, a.Initialize(context.Background()))
	assert.False(t, a.Status().Enabled)

	b := New(Config{Channel: "x"}, nil, nil)
	require.NoError(t, b.Initialize(context.Background()))
	assert.False(t, b.Status().Ready())

	_, err := b.Send(context.Background(), channel.Message{Text: "hi"})
	assert.True(t, errors.Is(err, channel.ErrNotReady))
}

func TestSend_PublishesEnvelope(t *testing.T) {
	a, tr := connected(t)

	ref, err := a.Send(context.Background(), escalation())
	require.NoError(t, err)
	assert.Equal(t, "exec-1", ref.ThreadKey)

	envs := tr.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "chat.out.eng-gates", envs[0].subject)
	assert.Equal(t, OpPost, envs[0].env.Op)
	assert.Equal(t, ref.ID, envs[0].env.MessageID)
	assert.Equal(t, "gate_waiting", envs[0].env.Metadata.EventType)
	require.Len(t, envs[0].env.Blocks, 2)

	// Without a thread key the message starts its own thread.
	ref, err = a.Send(context.Background(), channel.Message{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, ref.ID, ref.ThreadKey)

	tr.mu.Lock()
	assert.Equal(t, "CHAT", tr.stream)
	assert.Equal(t, "chat.in.>", tr.subject)
	tr.mu.Unlock()
}

func TestInteraction_RunsHandlerAndRetiresButtons(t *testing.T) {
	a, tr := connected(t)

	var got command.Command
	a.OnCommand(func(_ context.Context, cmd command.Command) (command.Result, error) {
		got = cmd
		return command.Result{Kind: cmd.Kind, Message: "Gate design-review approved by dana."}, nil
	})

	ref, err := a.Send(context.Background(), escalation())
	require.NoError(t, err)

	tr.deliver(t, Inbound{
		Kind:          InboundInteraction,
		Channel:       "eng-gates",
		User:          "dana",
		ThreadKey:     ref.ThreadKey,
		MessageID:     ref.ID,
		InteractionID: "click-1",
		Value:         command.PayloadFor(command.Command{Kind: command.KindApprove, ExecutionID: "exec-1", GateID: "design-review"}),
	})

	assert.Equal(t, command.KindApprove, got.Kind)
	assert.Equal(t, "dana", got.User)
	assert.Equal(t, "click-1", got.InteractionID)

	envs := tr.envelopes()
	require.Len(t, envs, 3)

	update := envs[1].env
	assert.Equal(t, OpUpdate, update.Op)
	assert.Equal(t, ref.ID, update.MessageID)
	for _, b := range update.Blocks {
		assert.Empty(t, b.Actions)
	}

	reply := envs[2].env
	assert.Equal(t, OpPost, reply.Op)
	assert.Equal(t, "exec-1", reply.ThreadKey)
	assert.Equal(t, "Gate design-review approved by dana.", reply.Text)
}

func TestInteraction_ErrorIsActionable(t *testing.T) {
	a, tr := connected(t)
	a.OnCommand(func(context.Context, command.Command) (command.Result, error) {
		return command.Result{}, &engine.GuaranteeError{GateID: "design-review", Missing: []string{"docs/api.md", "docs/design.md"}}
	})

	ref, err := a.Send(context.Background(), escalation())
	require.NoError(t, err)

	tr.deliver(t, Inbound{
		Kind:      InboundInteraction,
		User:      "dana",
		ThreadKey: ref.ThreadKey,
		MessageID: ref.ID,
		Value:     command.PayloadFor(command.Command{Kind: command.KindApprove, ExecutionID: "exec-1", GateID: "design-review"}),
	})

	envs := tr.envelopes()
	require.Len(t, envs, 2, "buttons stay when the command fails")
	assert.Contains(t, envs[1].env.Text, "blocked by 2 unmet requirements")
}

func TestMessage_UsesThreadContext(t *testing.T) {
	a, tr := connected(t)

	var got command.Command
	a.OnCommand(func(_ context.Context, cmd command.Command) (command.Result, error) {
		got = cmd
		return command.Result{Message: "Gate design-review force-approved."}, nil
	})

	_, err := a.Send(context.Background(), escalation())
	require.NoError(t, err)

	tr.deliver(t, Inbound{Kind: InboundMessage, User: "erin", ThreadKey: "exec-1", Text: "force approve"})

	assert.Equal(t, command.KindForceApprove, got.Kind)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, "design-review", got.GateID)
	assert.Equal(t, "erin", got.User)

	envs := tr.envelopes()
	require.Len(t, envs, 3)
	assert.Equal(t, OpUpdate, envs[1].env.Op)
}

func TestMessage_ChatterIgnored(t *testing.T) {
	a, tr := connected(t)
	var calls int
	a.OnCommand(func(context.Context, command.Command) (command.Result, error) {
		calls++
		return command.Result{}, nil
	})

	tr.deliver(t, Inbound{Kind: InboundMessage, User: "erin", Text: "lunch anyone?"})
	tr.deliver(t, Inbound{Kind: InboundMessage, Channel: "other-room", User: "erin", Text: "status"})

	assert.Zero(t, calls)
	assert.Empty(t, tr.envelopes())
}

func TestInbound_WrappedInBaseMessage(t *testing.T) {
	in := Inbound{Kind: InboundMessage, User: "u", Text: "status"}
	inner, err := json.Marshal(&in)
	require.NoError(t, err)

	data := []byte(`{"type":{"domain":"chat","category":"inbound","version":"v1"},"payload":` + string(inner) + `}`)
	got, err := decodeInbound(data)
	require.NoError(t, err)
	assert.Equal(t, "status", got.Text)

	_, err = decodeInbound([]byte(`{"kind":"message"}`))
	assert.Error(t, err)
}

func TestDisconnect_StopsConsumer(t *testing.T) {
	tr := &fakeTransport{}
	a := New(Config{Channel: "eng-gates"}, tr, nil)
	require.NoError(t, a.Initialize(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Disconnect(ctx))
	require.NoError(t, a.Disconnect(ctx))
	assert.False(t, a.Status().Connected)
}
