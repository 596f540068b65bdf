package contracts

import "time"

// ApprovalStatus represents the current state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
)

// Terminal reports whether the status is final. Terminal approvals never
// transition again; re-resolution is an idempotent no-op.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalExpired
}

// ApprovalAction is a human-in-the-loop request created when an agent is
// blocked from (or flagged on) an action.
type ApprovalAction struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	RequesterID string         `json:"requester_id,omitempty"` // nominal owner of the agent, when known
	ActionType  string         `json:"action_type"`
	Params      map[string]any `json:"params,omitempty"`
	Reason      string         `json:"reason"`
	Status      ApprovalStatus `json:"status"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	Comment     string         `json:"comment,omitempty"`
	ExpiresAt   time.Time      `json:"expires_at"`
	CreatedAt   time.Time      `json:"created_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}
