package scheduler

import (
	"log/slog"
	"time"
)

// Event is one progress notification. StepID is empty for collaboration-level
// events. Delivery semantics are the sink's responsibility; the executor
// calls Notify synchronously on every state transition.
type Event struct {
	Timestamp       time.Time
	CollaborationID string
	StepID          string
	Status          string
	Worker          string
	Err             string
}

// Notifier receives progress events.
type Notifier interface {
	Notify(event Event)
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(event Event)

func (f NotifierFunc) Notify(event Event) { f(event) }

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

// ChannelNotifier delivers events to a buffered channel. A full channel drops
// the event instead of blocking the executor.
type ChannelNotifier struct {
	C chan Event
}

// NewChannelNotifier creates a channel notifier with the given buffer size.
func NewChannelNotifier(buffer int) *ChannelNotifier {
	return &ChannelNotifier{C: make(chan Event, buffer)}
}

func (n *ChannelNotifier) Notify(event Event) {
	select {
	case n.C <- event:
	default:
	}
}

// SlogNotifier logs every event.
type SlogNotifier struct {
	Logger *slog.Logger
}

func (n *SlogNotifier) Notify(event Event) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"collaboration", event.CollaborationID,
		"status", event.Status,
	}
	if event.StepID != "" {
		attrs = append(attrs, "step", event.StepID)
	}
	if event.Worker != "" {
		attrs = append(attrs, "worker", event.Worker)
	}
	if event.Err != "" {
		attrs = append(attrs, "error", event.Err)
		logger.Warn("collaboration progress", attrs...)
		return
	}
	logger.Info("collaboration progress", attrs...)
}
