package contracts

import "time"

// ProposalStatus represents the lifecycle stage of a training proposal.
type ProposalStatus string

const (
	ProposalDraft    ProposalStatus = "DRAFT"
	ProposalApproved ProposalStatus = "APPROVED"
	ProposalRejected ProposalStatus = "REJECTED"
)

// TrainingProposal is a plan to raise an agent's confidence through
// supervised practice. Created from a BlockedTriggerContext, mutated once
// on approval, immutable afterward.
type TrainingProposal struct {
	ID                string         `json:"id"`
	AgentID           string         `json:"agent_id"`
	CapabilityGaps    []string       `json:"capability_gaps"`
	EstimatedHours    float64        `json:"estimated_hours"`
	Status            ProposalStatus `json:"status"`
	OverrideHours     float64        `json:"user_override_duration_hours,omitempty"`
	HoursPerDayLimit  float64        `json:"hours_per_day_limit,omitempty"`
	TrainingStartDate time.Time      `json:"training_start_date,omitzero"`
	TrainingEndDate   time.Time      `json:"training_end_date,omitzero"`
	ApprovedBy        string         `json:"approved_by,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// SessionStatus represents the lifecycle stage of a training session.
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAborted    SessionStatus = "aborted"
)

// Terminal reports whether the session can no longer transition.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionAborted
}

// TrainingSession is the executed record of a training proposal.
type TrainingSession struct {
	ID               string        `json:"id"`
	ProposalID       string        `json:"proposal_id"`
	AgentID          string        `json:"agent_id"`
	SupervisorID     string        `json:"supervisor_id,omitempty"`
	Status           SessionStatus `json:"status"`
	StartedAt        time.Time     `json:"started_at,omitzero"`
	CompletedAt      time.Time     `json:"completed_at,omitzero"`
	PerformanceScore float64       `json:"performance_score,omitempty"`
	TotalTasks       int           `json:"total_tasks"`
	TasksCompleted   int           `json:"tasks_completed"`
}

// TrainingOutcome reports the results of a finished session.
type TrainingOutcome struct {
	PerformanceScore        float64  `json:"performance_score"`
	ErrorsCount             int      `json:"errors_count"`
	TasksCompleted          int      `json:"tasks_completed"`
	TotalTasks              int      `json:"total_tasks"`
	CapabilitiesDeveloped   []string `json:"capabilities_developed,omitempty"`
	CapabilityGapsRemaining []string `json:"capability_gaps_remaining,omitempty"`
}

// TrainingEstimate is the duration estimate for closing a set of
// capability gaps.
type TrainingEstimate struct {
	EstimatedHours    float64 `json:"estimated_hours"`
	MinHours          float64 `json:"min_hours"`
	MaxHours          float64 `json:"max_hours"`
	Confidence        float64 `json:"confidence"`
	SimilarAgentsUsed int     `json:"similar_agents_used"`
	Reasoning         string  `json:"reasoning"`
}

// TrainingResult reports the confidence effect of a completed session.
type TrainingResult struct {
	SessionID        string  `json:"session_id"`
	ConfidenceBoost  float64 `json:"confidence_boost"`
	NewConfidence    float64 `json:"new_confidence"`
	PromotedToIntern bool    `json:"promoted_to_intern"`
}

// ProposalModifications carries human overrides applied when approving a
// training proposal.
type ProposalModifications struct {
	DurationOverrideHours float64 `json:"duration_override_hours,omitempty"`
	HoursPerDayLimit      float64 `json:"hours_per_day_limit,omitempty"`
	SupervisorID          string  `json:"supervisor_id,omitempty"`
}
