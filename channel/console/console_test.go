package console

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgate/channel"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestAdapter_Send(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 4, 1, 12, 30, 0, 0, time.UTC)
	a := New(&buf, WithClock(func() time.Time { return now }))
	require.NoError(t, a.Initialize(context.Background()))

	ref, err := a.Send(context.Background(), channel.Message{
		Text:      "Gate design-review needs a human",
		ThreadKey: "exec-1",
		Blocks: []channel.Block{
			{Kind: channel.BlockContext, Text: "missing: docs/api.md"},
			{Kind: channel.BlockActions, Actions: []channel.Action{{ID: "a", Label: "Approve"}, {ID: "r", Label: "Reject"}}},
		},
		Metadata: channel.Metadata{EventType: "gate_waiting"},
	})
	require.NoError(t, err)
	assert.Equal(t, Name, ref.Adapter)
	assert.Equal(t, "exec-1", ref.ThreadKey)
	assert.NotEmpty(t, ref.ID)

	out := buf.String()
	assert.Contains(t, out, "12:30:00")
	assert.Contains(t, out, "[gate_waiting]")
	assert.Contains(t, out, "Gate design-review needs a human")
	assert.Contains(t, out, "missing: docs/api.md")
	assert.Contains(t, out, "[Approve]")
	assert.Contains(t, out, "[Reject]")

	st := a.Status()
	assert.True(t, st.Ready())
	assert.Equal(t, now, st.LastMessageAt)
}

func TestAdapter_DisabledWithoutWriter(t *testing.T) {
	a := New(nil)
	require.NoError(t, a.Initialize(context.Background()))

	st := a.Status()
	assert.False(t, st.Enabled)
	assert.False(t, st.Connected)

	_, err := a.Send(context.Background(), channel.Message{Text: "hi"})
	assert.True(t, errors.Is(err, channel.ErrNotReady))
}

func TestAdapter_WriteErrorRecorded(t *testing.T) {
	a := New(failingWriter{}, WithName("stderr"))
	require.NoError(t, a.Initialize(context.Background()))

	_, err := a.Send(context.Background(), channel.Message{Text: "hi"})
	require.Error(t, err)

	st := a.Status()
	assert.Equal(t, "stderr", st.Name)
	assert.Equal(t, "disk full", st.LastError)
}

func TestAdapter_DisconnectIdempotent(t *testing.T) {
	a := New(&bytes.Buffer{})
	require.NoError(t, a.Initialize(context.Background()))

	require.NoError(t, a.Disconnect(context.Background()))
	require.NoError(t, a.Disconnect(context.Background()))
	assert.False(t, a.Status().Connected)

	_, err := a.Send(context.Background(), channel.Message{Text: "late"})
	assert.True(t, errors.Is(err, channel.ErrNotReady))
}
