package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360studio/semgate/channel"
)

// Route carries addressing for one notification.
type Route struct {
	ExecutionID string
	Recipient   string
	// ThreadKey forces a conversation. Empty continues the execution's
	// existing thread on each adapter.
	ThreadKey string
}

// Delivery records one successful send.
type Delivery struct {
	Adapter string
	Ref     channel.MessageRef
}

type threadKey struct {
	adapter     string
	executionID string
}

type escalationKey struct {
	adapter     string
	executionID string
	gateID      string
}

// Dispatcher fans events out to ready adapters. Send failures are returned
// to the caller and never retried here.
type Dispatcher struct {
	formatter *Formatter
	adapters  []channel.Adapter
	logger    *slog.Logger

	mu          sync.Mutex
	threads     map[threadKey]string
	escalations map[escalationKey]channel.MessageRef
}

// NewDispatcher creates a dispatcher over adapters. A nil formatter uses
// NewFormatter.
func NewDispatcher(formatter *Formatter, logger *slog.Logger, adapters ...channel.Adapter) *Dispatcher {
	if formatter == nil {
		formatter = NewFormatter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		formatter:   formatter,
		adapters:    adapters,
		logger:      logger,
		threads:     make(map[threadKey]string),
		escalations: make(map[escalationKey]channel.MessageRef),
	}
}

// Adapters returns the configured adapters.
func (d *Dispatcher) Adapters() []channel.Adapter {
	return append([]channel.Adapter(nil), d.adapters...)
}

// Statuses returns a health snapshot of every adapter.
func (d *Dispatcher) Statuses() []channel.Status {
	out := make([]channel.Status, 0, len(d.adapters))
	for _, a := range d.adapters {
		out = append(out, a.Status())
	}
	return out
}

// Notify formats the event and sends it to every ready adapter.
func (d *Dispatcher) Notify(ctx context.Context, e Event, route Route) ([]Delivery, error) {
	execID := route.ExecutionID
	if execID == "" {
		execID = e.ExecutionID
	}

	base := d.formatter.Format(e)
	base.Metadata.Recipient = route.Recipient

	var deliveries []Delivery
	var errs []error

	for _, a := range d.adapters {
		name := a.Name()
		if !a.Status().Ready() {
			d.logger.Debug("Skipping channel that is not ready", "channel", name, "event", e.Type)
			continue
		}

		if e.Type == EventGateAutoApproved {
			d.supersede(ctx, a, execID, e)
		}

		msg := base
		msg.ThreadKey = d.thread(name, execID, route.ThreadKey)

		ref, err := a.Send(ctx, msg)
		if errors.Is(err, channel.ErrSkipped) {
			d.logger.Debug("Channel does not carry event", "channel", name, "event", e.Type)
			continue
		}
		if err != nil {
			d.logger.Warn("Notification send failed",
				"channel", name,
				"execution_id", execID,
				"event", e.Type,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		d.record(name, execID, e, ref)
		deliveries = append(deliveries, Delivery{Adapter: name, Ref: ref})
	}

	return deliveries, errors.Join(errs...)
}

func (d *Dispatcher) thread(adapter, execID, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if execID == "" {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threads[threadKey{adapter, execID}]
}

func (d *Dispatcher) record(adapter, execID string, e Event, ref channel.MessageRef) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if execID != "" && ref.ThreadKey != "" {
		key := threadKey{adapter, execID}
		if _, ok := d.threads[key]; !ok {
			d.threads[key] = ref.ThreadKey
		}
	}
	if e.Type == EventGateWaiting && ref.ID != "" {
		d.escalations[escalationKey{adapter, execID, e.GateID}] = ref
	}
	if e.Type == EventLoopComplete {
		for k := range d.escalations {
			if k.adapter == adapter && k.executionID == execID {
				delete(d.escalations, k)
			}
		}
		delete(d.threads, threadKey{adapter, execID})
	}
}

// supersede rewrites an earlier gate_waiting message for the same gate so
// nobody acts on a gate that has since been approved.
func (d *Dispatcher) supersede(ctx context.Context, a channel.Adapter, execID string, e Event) {
	key := escalationKey{a.Name(), execID, e.GateID}

	d.mu.Lock()
	ref, ok := d.escalations[key]
	delete(d.escalations, key)
	d.mu.Unlock()
	if !ok {
		return
	}

	updater, ok := a.(channel.Updater)
	if !ok {
		return
	}
	if err := updater.Update(ctx, ref, d.formatter.Resolved(e)); err != nil {
		d.logger.Warn("Failed to update superseded escalation",
			"channel", a.Name(),
			"execution_id", execID,
			"gate_id", e.GateID,
			"error", err)
	}
}

// Threads returns the thread key per "adapter/execution".
func (d *Dispatcher) Threads() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.threads))
	for k, v := range d.threads {
		out[k.adapter+"/"+k.executionID] = v
	}
	return out
}
