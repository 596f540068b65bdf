// Package notify pushes governance events to interested collaborators
// (UI, messaging). Delivery is fire-and-forget: a failing sink is logged
// and never affects governance correctness.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/overseer-labs/warden/pkg/contracts"
)

// Sink receives governance events.
type Sink interface {
	Publish(ctx context.Context, event contracts.Event)
}

// SlogSink writes events to structured logs. The default sink.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to the default logger. A nil logger
// uses slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "notify")}
}

func (s *SlogSink) Publish(ctx context.Context, event contracts.Event) {
	s.logger.InfoContext(ctx, "governance event",
		"kind", event.Kind,
		"agent_id", event.AgentID,
		"subject", event.Subject,
	)
}

// Fanout publishes to several sinks. A panicking sink is isolated so one
// bad collaborator cannot take down the decision path.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout composes sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{
		sinks:  sinks,
		logger: slog.Default().With("component", "notify"),
	}
}

func (f *Fanout) Publish(ctx context.Context, event contracts.Event) {
	for _, sink := range f.sinks {
		f.publishOne(ctx, sink, event)
	}
}

func (f *Fanout) publishOne(ctx context.Context, sink Sink, event contracts.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.WarnContext(ctx, "notification sink panicked", "kind", event.Kind, "panic", r)
		}
	}()
	sink.Publish(ctx, event)
}

// Event builds an event with the timestamp set.
func Event(kind contracts.EventKind, agentID, subject string) contracts.Event {
	return contracts.Event{
		Kind:      kind,
		AgentID:   agentID,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
	}
}
