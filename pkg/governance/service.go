// Package governance is the facade over the maturity engine: one service
// wiring the policy engine, approval workflow, confidence scorer, and
// training lifecycle behind the operations callers integrate against.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/overseer-labs/warden/pkg/approval"
	"github.com/overseer-labs/warden/pkg/audit"
	"github.com/overseer-labs/warden/pkg/cache"
	"github.com/overseer-labs/warden/pkg/confidence"
	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/maturity"
	"github.com/overseer-labs/warden/pkg/notify"
	"github.com/overseer-labs/warden/pkg/policy"
	"github.com/overseer-labs/warden/pkg/store"
	"github.com/overseer-labs/warden/pkg/training"
)

var ErrAgentExists = errors.New("agent already registered")

// Service is the governance facade.
type Service struct {
	store     store.Store
	engine    *policy.Engine
	approvals *approval.Manager
	scorer    *confidence.Scorer
	training  *training.Service
	recorder  *audit.Recorder
	sink      notify.Sink
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*opts)

type opts struct {
	cache      cache.DecisionCache
	sink       notify.Sink
	overrides  *policy.Overrides
	engineOpts []policy.Option
	mgrOpts    []approval.Option
}

// WithDecisionCache installs a decision cache (memory or Redis).
func WithDecisionCache(c cache.DecisionCache) Option {
	return func(o *opts) { o.cache = c }
}

// WithSink installs a notification sink for governance events.
func WithSink(s notify.Sink) Option {
	return func(o *opts) { o.sink = s }
}

// WithOverrides installs operator CEL policy overrides.
func WithOverrides(ov *policy.Overrides) Option {
	return func(o *opts) { o.overrides = ov }
}

// WithEngineOptions forwards options to the policy engine.
func WithEngineOptions(eo ...policy.Option) Option {
	return func(o *opts) { o.engineOpts = append(o.engineOpts, eo...) }
}

// WithApprovalOptions forwards options to the approval manager.
func WithApprovalOptions(ao ...approval.Option) Option {
	return func(o *opts) { o.mgrOpts = append(o.mgrOpts, ao...) }
}

// NewService assembles the governance engine over the given store.
func NewService(s store.Store, options ...Option) *Service {
	var o opts
	for _, opt := range options {
		opt(&o)
	}

	recorder := audit.NewRecorder(s)
	sink := o.sink
	if sink == nil {
		sink = notify.NewSlogSink(slog.Default())
	}

	engineOpts := o.engineOpts
	if o.overrides != nil {
		engineOpts = append(engineOpts, policy.WithOverrides(o.overrides))
	}

	scorer := confidence.NewScorer(s, recorder, sink)
	return &Service{
		store:     s,
		engine:    policy.NewEngine(s, o.cache, recorder, engineOpts...),
		approvals: approval.NewManager(s, recorder, sink, o.mgrOpts...),
		scorer:    scorer,
		training:  training.NewService(s, scorer, recorder, sink),
		recorder:  recorder,
		sink:      sink,
		logger:    slog.Default().With("component", "governance"),
	}
}

// Audit exposes the hash-chained audit recorder.
func (s *Service) Audit() *audit.Recorder { return s.recorder }

// Approvals exposes the approval manager, chiefly so callers can run its
// sweeper.
func (s *Service) Approvals() *approval.Manager { return s.approvals }

// RegisterAgent creates an agent with an initial confidence score.
func (s *Service) RegisterAgent(ctx context.Context, name, category string, initialConfidence float64) (*contracts.Agent, error) {
	now := time.Now().UTC()
	agent := &contracts.Agent{
		ID:        uuid.New().String(),
		Name:      name,
		Category:  category,
		Standing:  maturity.NewStanding(initialConfidence),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrAgentExists, agent.ID)
		}
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}
	s.logger.InfoContext(ctx, "agent registered",
		"agent_id", agent.ID, "category", category,
		"maturity", agent.Standing.Level())
	s.recorder.Record(ctx, agent.ID, "agent_registered", category, "created", agent)
	return agent, nil
}

// DisableAgent takes an agent out of service; every subsequent decision for
// it is denied.
func (s *Service) DisableAgent(ctx context.Context, agentID string) error {
	if err := s.store.DisableAgent(ctx, agentID); err != nil {
		return err
	}
	s.recorder.Record(ctx, agentID, "agent_disabled", "", "disabled", nil)
	return nil
}

// GetAgent returns the agent's current record.
func (s *Service) GetAgent(ctx context.Context, agentID string) (*contracts.Agent, error) {
	return s.store.GetAgent(ctx, agentID)
}

// CanPerformAction answers the pure policy question without side effects
// beyond caching and audit.
func (s *Service) CanPerformAction(ctx context.Context, agentID, actionType string, requireApproval bool) contracts.Decision {
	return s.engine.Decide(ctx, agentID, actionType, requireApproval)
}

// EnforceAction evaluates the policy and, when the decision needs a human,
// opens the approval the caller must wait on. Denied-outright decisions
// (blocked or needing approval) also capture the trigger context that seeds
// a training proposal.
func (s *Service) EnforceAction(ctx context.Context, agentID, actionType string, params map[string]any, requireApproval bool) (contracts.Enforcement, error) {
	d := s.engine.Decide(ctx, agentID, actionType, requireApproval)

	if d.Allowed && !d.RequiresApproval {
		return contracts.Enforcement{
			Proceed:  true,
			Status:   contracts.EnforcementProceed,
			Decision: d,
		}, nil
	}

	if !d.RequiresApproval {
		return contracts.Enforcement{
			Status:         contracts.EnforcementDenied,
			ActionRequired: "denied",
			Decision:       d,
		}, nil
	}

	approvalID, err := s.approvals.Request(ctx, agentID, actionType, params, d.Reason, "")
	if err != nil {
		// Fail closed: the caller gets a denial, not a free pass.
		s.logger.WarnContext(ctx, "approval request failed, denying",
			"agent_id", agentID, "action_type", actionType, "error", err)
		return contracts.Enforcement{
			Status:         contracts.EnforcementDenied,
			ActionRequired: "approval unavailable",
			Decision:       d,
		}, err
	}

	if !d.Allowed {
		// A hard block is also a training signal.
		trigger := s.captureTrigger(ctx, d, params)
		if _, err := s.training.CreateTrainingProposal(ctx, trigger); err != nil {
			s.logger.WarnContext(ctx, "training proposal failed",
				"agent_id", agentID, "error", err)
		}
	}

	return contracts.Enforcement{
		Status:         contracts.EnforcementPendingApproval,
		ActionRequired: "await approval",
		ApprovalID:     approvalID,
		Decision:       d,
	}, nil
}

// RequestApproval opens an approval directly, outside a policy decision.
func (s *Service) RequestApproval(ctx context.Context, agentID, actionType string, params map[string]any, reason, requesterID string) (string, error) {
	return s.approvals.Request(ctx, agentID, actionType, params, reason, requesterID)
}

// ResolveApproval records a human response to a pending approval.
func (s *Service) ResolveApproval(ctx context.Context, approvalID string, approve bool, resolvedBy, comment string) (contracts.ApprovalStatus, error) {
	return s.approvals.Resolve(ctx, approvalID, approve, resolvedBy, comment)
}

// GetApprovalStatus returns an approval's current status.
func (s *Service) GetApprovalStatus(ctx context.Context, approvalID string) (contracts.ApprovalStatus, error) {
	return s.approvals.Status(ctx, approvalID)
}

// WaitForResolution blocks until the approval resolves or maxWait elapses.
func (s *Service) WaitForResolution(ctx context.Context, approvalID string, maxWait time.Duration) (bool, error) {
	return s.approvals.Wait(ctx, approvalID, maxWait)
}

// RecordOutcome applies a task outcome to the agent's confidence score.
func (s *Service) RecordOutcome(ctx context.Context, agentID string, positive bool, impact contracts.ImpactLevel) (confidence.Update, error) {
	return s.scorer.UpdateConfidence(ctx, agentID, positive, impact)
}

// EstimateTrainingDuration estimates the hours needed to close the gaps.
func (s *Service) EstimateTrainingDuration(ctx context.Context, agentID string, gaps []string, target maturity.Level) (contracts.TrainingEstimate, error) {
	return s.training.EstimateTrainingDuration(ctx, agentID, gaps, target)
}

// CreateTrainingProposal drafts a training plan from a blocked action.
func (s *Service) CreateTrainingProposal(ctx context.Context, trigger contracts.BlockedTriggerContext) (*contracts.TrainingProposal, error) {
	return s.training.CreateTrainingProposal(ctx, trigger)
}

// ApproveTraining approves a draft proposal and schedules its session.
func (s *Service) ApproveTraining(ctx context.Context, proposalID, userID string, mods *contracts.ProposalModifications) (*contracts.TrainingSession, error) {
	return s.training.ApproveTraining(ctx, proposalID, userID, mods)
}

// RejectTraining rejects a draft proposal.
func (s *Service) RejectTraining(ctx context.Context, proposalID, userID string) error {
	return s.training.RejectTraining(ctx, proposalID, userID)
}

// CompleteTrainingSession records a session outcome and applies its boost.
func (s *Service) CompleteTrainingSession(ctx context.Context, sessionID string, outcome contracts.TrainingOutcome) (contracts.TrainingResult, error) {
	return s.training.CompleteTrainingSession(ctx, sessionID, outcome)
}

// GetTrainingHistory returns an agent's sessions, most recent first.
func (s *Service) GetTrainingHistory(ctx context.Context, agentID string, limit int) ([]*contracts.TrainingSession, error) {
	return s.training.GetTrainingHistory(ctx, agentID, limit)
}

// Run starts the service's background workers (the approval sweeper) and
// blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context, sweepInterval time.Duration) {
	s.approvals.RunSweeper(ctx, sweepInterval)
}

func (s *Service) captureTrigger(ctx context.Context, d contracts.Decision, params map[string]any) contracts.BlockedTriggerContext {
	score := 0.0
	if agent, err := s.store.GetAgent(ctx, d.AgentID); err == nil {
		score = agent.Standing.Score()
	}
	return contracts.BlockedTriggerContext{
		AgentID:           d.AgentID,
		MaturityAtBlock:   d.AgentMaturity,
		ConfidenceAtBlock: score,
		TriggerSource:     "policy",
		TriggerType:       d.ActionType,
		TriggerContext:    params,
		RoutingDecision:   "approval_and_training",
		BlockReason:       d.Reason,
		CapturedAt:        time.Now().UTC(),
	}
}
