// Package chat is the interactive channel. Outbound messages are published
// as envelopes for a chat bridge to render; the bridge publishes human
// replies and button clicks back onto a JetStream stream, which this adapter
// consumes, parses into commands and executes.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/google/uuid"

	"github.com/c360studio/semgate/channel"
	"github.com/c360studio/semgate/command"
	"github.com/c360studio/semgate/workflow"
)

// Name is the adapter name.
const Name = "chat"

// Transport is the NATS surface the adapter needs. *natsclient.Client
// satisfies it.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	ConsumeStream(ctx context.Context, streamName, subject string, handler func([]byte)) error
}

// Config configures the chat adapter.
type Config struct {
	// Channel is the chat room or channel the bridge posts to. Empty disables
	// the adapter.
	Channel string `json:"channel"`
	// Stream carrying inbound traffic. Defaults to workflow.ChatStream.
	Stream string `json:"stream,omitempty"`
	// InboundSubject defaults to workflow.ChatInboundSubject.
	InboundSubject string `json:"inbound_subject,omitempty"`
	// Workflows is the vocabulary "start <workflow>" accepts.
	Workflows []string `json:"workflows,omitempty"`
}

// thread remembers what a conversation is about.
type thread struct {
	executionID string
	gateID      string
	// actionable is the id of the thread's latest message with buttons.
	actionable string
}

// Adapter implements channel.Adapter and channel.Updater over NATS.
type Adapter struct {
	cfg       Config
	transport Transport
	logger    *slog.Logger
	clock     func() time.Time

	mu        sync.Mutex
	enabled   bool
	connected bool
	lastSent  time.Time
	lastErr   string
	handler   channel.Handler
	threads   map[string]*thread
	messages  map[string]channel.Message
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a chat adapter. A nil transport or empty channel leaves the
// adapter disabled after Initialize.
func New(cfg Config, transport Transport, logger *slog.Logger) *Adapter {
	if cfg.Stream == "" {
		cfg.Stream = workflow.ChatStream
	}
	if cfg.InboundSubject == "" {
		cfg.InboundSubject = workflow.ChatInboundSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:       cfg,
		transport: transport,
		logger:    logger.With("channel", Name),
		clock:     time.Now,
		threads:   make(map[string]*thread),
		messages:  make(map[string]channel.Message),
	}
}

// Name returns the adapter name.
func (a *Adapter) Name() string { return Name }

// Initialize starts consuming inbound traffic. The consumer lives until
// Disconnect or until ctx is cancelled.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return nil
	}
	if a.transport == nil || a.cfg.Channel == "" {
		a.enabled = false
		a.lastErr = "chat disabled: no NATS connection or channel configured"
		a.logger.Info("Chat adapter disabled", "reason", a.lastErr)
		return nil
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.enabled = true
	a.connected = true
	a.lastErr = ""

	go a.consume(consumeCtx, a.done)

	a.logger.Info("Chat adapter connected",
		"chat_channel", a.cfg.Channel,
		"stream", a.cfg.Stream,
		"subject", a.cfg.InboundSubject)
	return nil
}

func (a *Adapter) consume(ctx context.Context, done chan struct{}) {
	defer close(done)

	// ConsumeStream blocks until context is cancelled
	err := a.transport.ConsumeStream(ctx, a.cfg.Stream, a.cfg.InboundSubject, func(data []byte) {
		a.handleInbound(ctx, data)
	})
	if err != nil && ctx.Err() == nil {
		a.logger.Error("Chat consumer stopped", "error", err)
		a.mu.Lock()
		a.connected = false
		a.lastErr = err.Error()
		a.mu.Unlock()
	}
}

// Send posts a message. A message without a thread key starts a thread
// keyed by its own id.
func (a *Adapter) Send(ctx context.Context, msg channel.Message) (channel.MessageRef, error) {
	a.mu.Lock()
	ready := a.connected
	a.mu.Unlock()
	if !ready {
		return channel.MessageRef{}, channel.ErrNotReady
	}

	id := uuid.New().String()
	threadKey := msg.ThreadKey
	if threadKey == "" {
		threadKey = id
	}

	env := &Envelope{
		Op:        OpPost,
		Channel:   a.cfg.Channel,
		MessageID: id,
		ThreadKey: threadKey,
		Text:      msg.Text,
		Blocks:    msg.Blocks,
		Metadata:  msg.Metadata,
	}
	if err := a.publish(ctx, env); err != nil {
		return channel.MessageRef{}, err
	}

	a.mu.Lock()
	t := a.threads[threadKey]
	if t == nil {
		t = &thread{}
		a.threads[threadKey] = t
	}
	if msg.Metadata.ExecutionID != "" {
		t.executionID = msg.Metadata.ExecutionID
	}
	if msg.Metadata.GateID != "" {
		t.gateID = msg.Metadata.GateID
	}
	if msg.HasActions() {
		msg.ThreadKey = threadKey
		a.messages[id] = msg
		t.actionable = id
	}
	a.mu.Unlock()

	return channel.MessageRef{Adapter: Name, ID: id, ThreadKey: threadKey}, nil
}

// Update replaces a posted message in place.
func (a *Adapter) Update(ctx context.Context, ref channel.MessageRef, msg channel.Message) error {
	a.mu.Lock()
	ready := a.connected
	a.mu.Unlock()
	if !ready {
		return channel.ErrNotReady
	}
	if ref.ID == "" {
		return fmt.Errorf("update chat message: empty message id")
	}

	threadKey := ref.ThreadKey
	if threadKey == "" {
		threadKey = msg.ThreadKey
	}
	env := &Envelope{
		Op:        OpUpdate,
		Channel:   a.cfg.Channel,
		MessageID: ref.ID,
		ThreadKey: threadKey,
		Text:      msg.Text,
		Blocks:    msg.Blocks,
		Metadata:  msg.Metadata,
	}
	if err := a.publish(ctx, env); err != nil {
		return err
	}

	a.mu.Lock()
	if msg.HasActions() {
		a.messages[ref.ID] = msg
	} else {
		delete(a.messages, ref.ID)
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) publish(ctx context.Context, env *Envelope) error {
	baseMsg := message.NewBaseMessage(EnvelopeType, env, "semgate-chat")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal chat envelope: %w", err)
	}

	subject := workflow.ChatOutboundPrefix + a.cfg.Channel
	if err := a.transport.Publish(ctx, subject, data); err != nil {
		a.mu.Lock()
		a.lastErr = err.Error()
		a.mu.Unlock()
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	a.mu.Lock()
	a.lastSent = a.clock()
	a.lastErr = ""
	a.mu.Unlock()
	return nil
}

// handleInbound parses one inbound event and runs the resulting command.
func (a *Adapter) handleInbound(ctx context.Context, data []byte) {
	in, err := decodeInbound(data)
	if err != nil {
		a.logger.Debug("Ignoring invalid chat event", "error", err)
		return
	}
	if in.Channel != "" && in.Channel != a.cfg.Channel {
		return
	}

	a.mu.Lock()
	handler := a.handler
	t := a.threads[in.ThreadKey]
	var tc thread
	if t != nil {
		tc = *t
	}
	a.mu.Unlock()

	var cmd *command.Command
	originalID := ""
	switch in.Kind {
	case InboundInteraction:
		cmd = command.ParseAction(in.Value)
		originalID = in.MessageID
		if cmd != nil && cmd.InteractionID == "" {
			cmd.InteractionID = in.InteractionID
		}
	case InboundMessage:
		cmd = command.ParseText(in.Text, command.Context{
			ExecutionID: tc.executionID,
			GateID:      tc.gateID,
			User:        in.User,
			Workflows:   a.cfg.Workflows,
		})
		if cmd != nil && cmd.GateID != "" {
			originalID = tc.actionable
		}
	}
	if cmd == nil {
		return
	}
	cmd.User = in.User

	if handler == nil {
		a.logger.Warn("Chat command dropped, no handler registered", "kind", cmd.Kind)
		return
	}

	res, err := handler(ctx, *cmd)

	threadKey := in.ThreadKey
	if err != nil {
		a.logger.Info("Chat command failed",
			"kind", cmd.Kind,
			"execution_id", cmd.ExecutionID,
			"gate_id", cmd.GateID,
			"user", in.User,
			"error", err)
		a.reply(ctx, threadKey, command.Describe(err), cmd)
		return
	}

	if originalID != "" {
		a.retire(ctx, originalID, res.Message)
	}
	a.reply(ctx, threadKey, res.Message, cmd)
}

// retire strips the buttons from an answered message.
func (a *Adapter) retire(ctx context.Context, id, outcome string) {
	a.mu.Lock()
	original, ok := a.messages[id]
	a.mu.Unlock()
	if !ok {
		return
	}

	updated := original.WithoutActions()
	if outcome != "" {
		updated.Blocks = append(updated.Blocks, channel.Block{Kind: channel.BlockContext, Text: outcome})
	}
	ref := channel.MessageRef{Adapter: Name, ID: id, ThreadKey: original.ThreadKey}
	if err := a.Update(ctx, ref, updated); err != nil {
		a.logger.Warn("Failed to update answered message", "message_id", id, "error", err)
	}
}

func (a *Adapter) reply(ctx context.Context, threadKey, text string, cmd *command.Command) {
	if strings.TrimSpace(text) == "" {
		return
	}
	_, err := a.Send(ctx, channel.Message{
		Text:      text,
		ThreadKey: threadKey,
		Metadata: channel.Metadata{
			ExecutionID: cmd.ExecutionID,
			GateID:      cmd.GateID,
			EventType:   "command_result",
			Recipient:   cmd.User,
		},
	})
	if err != nil && !errors.Is(err, channel.ErrNotReady) {
		a.logger.Warn("Failed to post command reply", "error", err)
	}
}

// Status reports the adapter state.
func (a *Adapter) Status() channel.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return channel.Status{
		Name:          Name,
		Enabled:       a.enabled,
		Connected:     a.connected,
		LastMessageAt: a.lastSent,
		LastError:     a.lastErr,
	}
}

// OnCommand registers the command handler.
func (a *Adapter) OnCommand(h channel.Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Disconnect stops the consumer and waits for it to exit.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.connected = false
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("disconnect chat: %w", ctx.Err())
	}
}
