package contracts

import (
	"time"

	"github.com/overseer-labs/warden/pkg/action"
	"github.com/overseer-labs/warden/pkg/maturity"
)

// Decision is the outcome of a policy check for one (agent, action) pair.
// Decision paths never raise errors to callers; a denial always carries a
// human-readable Reason.
type Decision struct {
	DecisionID       string            `json:"decision_id"`
	AgentID          string            `json:"agent_id"`
	ActionType       string            `json:"action_type"`
	Allowed          bool              `json:"allowed"`
	RequiresApproval bool              `json:"requires_approval"`
	RequiredMaturity maturity.Level    `json:"required_maturity"`
	AgentMaturity    maturity.Level    `json:"agent_maturity,omitempty"`
	Complexity       action.Complexity `json:"action_complexity"`
	Reason           string            `json:"reason"`
	IssuedAt         time.Time         `json:"issued_at"`
}

// EnforcementStatus describes what the caller should do next after an
// enforcement check.
type EnforcementStatus string

const (
	EnforcementProceed         EnforcementStatus = "proceed"
	EnforcementPendingApproval EnforcementStatus = "pending_approval"
	EnforcementDenied          EnforcementStatus = "denied"
)

// Enforcement wraps a Decision with the workflow consequence: whether the
// caller may proceed, and the approval it must wait on when blocked.
type Enforcement struct {
	Proceed        bool              `json:"proceed"`
	Status         EnforcementStatus `json:"status"`
	ActionRequired string            `json:"action_required,omitempty"`
	ApprovalID     string            `json:"approval_id,omitempty"`
	Decision       Decision          `json:"decision"`
}

// BlockedTriggerContext is the immutable snapshot captured the instant an
// action is blocked. It seeds whichever workflow (approval or training)
// consumes the block.
type BlockedTriggerContext struct {
	AgentID           string         `json:"agent_id"`
	MaturityAtBlock   maturity.Level `json:"maturity_at_block"`
	ConfidenceAtBlock float64        `json:"confidence_at_block"`
	TriggerSource     string         `json:"trigger_source"`
	TriggerType       string         `json:"trigger_type"`
	TriggerContext    map[string]any `json:"trigger_context,omitempty"`
	RoutingDecision   string         `json:"routing_decision"`
	BlockReason       string         `json:"block_reason"`
	CapturedAt        time.Time      `json:"captured_at"`
}
