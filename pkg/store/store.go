// Package store implements persistence for agents, approvals, training
// records, and the audit trail. Two implementations exist: an in-memory
// store for tests and single-process use, and a SQLite store for durable
// deployments. Per-row updates are guarded by optimistic concurrency
// (agents) or conditional status transitions (approvals, proposals,
// sessions) so unrelated records never contend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/maturity"
)

var (
	ErrAgentNotFound    = errors.New("agent not found")
	ErrApprovalNotFound = errors.New("approval not found")
	ErrProposalNotFound = errors.New("proposal not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrVersionConflict  = errors.New("version conflict")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrAlreadyExists    = errors.New("record already exists")
)

// HistoricalSession is a flattened view of a completed session used by the
// training estimator for similar-agent blending.
type HistoricalSession struct {
	AgentID          string
	Category         string
	GapCount         int
	DurationHours    float64
	PerformanceScore float64
}

// AgentStore persists agents.
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *contracts.Agent) error
	GetAgent(ctx context.Context, id string) (*contracts.Agent, error)
	// UpdateAgentStanding writes the standing only when the stored version
	// still equals expectedVersion, returning ErrVersionConflict otherwise.
	UpdateAgentStanding(ctx context.Context, id string, standing maturity.Standing, expectedVersion int64) error
	DisableAgent(ctx context.Context, id string) error
}

// ApprovalStore persists approval actions.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, a *contracts.ApprovalAction) error
	GetApproval(ctx context.Context, id string) (*contracts.ApprovalAction, error)
	// ResolveApproval transitions a PENDING approval to the given terminal
	// status. It reports false without error when the approval is already
	// terminal, so resolution stays idempotent.
	ResolveApproval(ctx context.Context, id string, status contracts.ApprovalStatus, resolvedBy, comment string, at time.Time) (bool, error)
	// ExpireStale marks PENDING approvals whose expiry has passed as
	// EXPIRED, returning how many were swept.
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// TrainingStore persists training proposals and sessions.
type TrainingStore interface {
	CreateProposal(ctx context.Context, p *contracts.TrainingProposal) error
	GetProposal(ctx context.Context, id string) (*contracts.TrainingProposal, error)
	// ApproveProposal transitions a DRAFT proposal to APPROVED with its
	// final schedule, returning ErrInvalidState when it is not DRAFT.
	ApproveProposal(ctx context.Context, p *contracts.TrainingProposal) error

	CreateSession(ctx context.Context, s *contracts.TrainingSession) error
	GetSession(ctx context.Context, id string) (*contracts.TrainingSession, error)
	// CompleteSession transitions a non-terminal session to its terminal
	// status, returning ErrInvalidState when it is already terminal.
	CompleteSession(ctx context.Context, s *contracts.TrainingSession) error
	// ListSessionsByAgent returns an agent's sessions, most recent first.
	ListSessionsByAgent(ctx context.Context, agentID string, limit int) ([]*contracts.TrainingSession, error)
	// ListCompletedByCategory returns completed sessions of other agents in
	// the same category, for estimator blending.
	ListCompletedByCategory(ctx context.Context, category, excludeAgentID string) ([]HistoricalSession, error)
}

// AuditStore persists audit entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, e *contracts.AuditEntry) error
	ListAudit(ctx context.Context, agentID string, limit int) ([]*contracts.AuditEntry, error)
}

// Store is the full persistence surface consumed by the governance engine.
type Store interface {
	AgentStore
	ApprovalStore
	TrainingStore
	AuditStore
}
