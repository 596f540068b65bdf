package contracts

import (
	"time"

	"github.com/overseer-labs/warden/pkg/maturity"
)

// EventKind categorizes governance events pushed to notification sinks.
type EventKind string

const (
	EventDecision           EventKind = "decision"
	EventApprovalRequested  EventKind = "approval_requested"
	EventApprovalResolved   EventKind = "approval_resolved"
	EventMaturityTransition EventKind = "maturity_transition"
	EventTrainingProposed   EventKind = "training_proposed"
	EventTrainingApproved   EventKind = "training_approved"
	EventTrainingCompleted  EventKind = "training_completed"
)

// Event is a fire-and-forget notification. Delivery failures never affect
// governance correctness.
type Event struct {
	Kind      EventKind      `json:"kind"`
	AgentID   string         `json:"agent_id"`
	Subject   string         `json:"subject,omitempty"` // approval/proposal/session ID
	From      maturity.Level `json:"from,omitempty"`
	To        maturity.Level `json:"to,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
