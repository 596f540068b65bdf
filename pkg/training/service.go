// Package training turns blocked actions into structured practice: it
// proposes training plans for under-trusted agents, estimates their
// duration from the agent's record and comparable peers, schedules approved
// plans as sessions, and converts completed sessions into confidence boosts.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/overseer-labs/warden/pkg/audit"
	"github.com/overseer-labs/warden/pkg/confidence"
	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/maturity"
	"github.com/overseer-labs/warden/pkg/notify"
	"github.com/overseer-labs/warden/pkg/store"
)

var ErrOutcomeInvalid = errors.New("training outcome is invalid")

// gapKeywords maps substrings of a trigger type to the capability gap it
// evidences. First match wins; order is alphabetical by gap for stability.
var gapKeywords = []struct {
	keyword string
	gap     string
}{
	{"payment", "financial_calculation"},
	{"invoice", "financial_calculation"},
	{"refund", "financial_calculation"},
	{"email", "communication"},
	{"message", "communication"},
	{"workflow", "workflow_execution"},
	{"schedule", "workflow_execution"},
	{"delete", "data_stewardship"},
	{"record", "data_stewardship"},
	{"escalat", "escalation_handling"},
	{"approval", "escalation_handling"},
}

// categoryGaps adds one domain gap per agent category.
var categoryGaps = map[string]string{
	"Finance":    "compliance_awareness",
	"Sales":      "crm_hygiene",
	"Support":    "customer_empathy",
	"Operations": "process_adherence",
}

// Service owns the training lifecycle: propose, approve, complete.
type Service struct {
	agents    store.AgentStore
	sessions  store.TrainingStore
	estimator *Estimator
	scorer    *confidence.Scorer
	recorder  *audit.Recorder
	sink      notify.Sink
	logger    *slog.Logger
}

// NewService creates a training service. recorder and sink may be nil.
func NewService(s store.Store, scorer *confidence.Scorer, recorder *audit.Recorder, sink notify.Sink) *Service {
	return &Service{
		agents:    s,
		sessions:  s,
		estimator: NewEstimator(s, s),
		scorer:    scorer,
		recorder:  recorder,
		sink:      sink,
		logger:    slog.Default().With("component", "training"),
	}
}

// EstimateTrainingDuration estimates how long the agent needs to close the
// given gaps and reach targetMaturity.
func (s *Service) EstimateTrainingDuration(ctx context.Context, agentID string, capabilityGaps []string, targetMaturity maturity.Level) (contracts.TrainingEstimate, error) {
	return s.estimator.Estimate(ctx, agentID, capabilityGaps, targetMaturity)
}

// CreateTrainingProposal builds a DRAFT proposal from a blocked action. Gaps
// are inferred from the trigger type and the agent's category; the duration
// estimate targets the next maturity level, at minimum INTERN.
func (s *Service) CreateTrainingProposal(ctx context.Context, trigger contracts.BlockedTriggerContext) (*contracts.TrainingProposal, error) {
	agent, err := s.agents.GetAgent(ctx, trigger.AgentID)
	if err != nil {
		return nil, err
	}

	gaps := inferGaps(trigger.TriggerType, agent.Category)
	target := nextTarget(agent.Standing.Level())

	estimate, err := s.estimator.Estimate(ctx, trigger.AgentID, gaps, target)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate training duration: %w", err)
	}

	p := &contracts.TrainingProposal{
		ID:             uuid.New().String(),
		AgentID:        trigger.AgentID,
		CapabilityGaps: gaps,
		EstimatedHours: estimate.EstimatedHours,
		Status:         contracts.ProposalDraft,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.sessions.CreateProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create training proposal: %w", err)
	}

	s.logger.InfoContext(ctx, "training proposed",
		"agent_id", p.AgentID, "proposal_id", p.ID,
		"gaps", len(gaps), "estimated_hours", p.EstimatedHours)
	if s.recorder != nil {
		s.recorder.Record(ctx, p.AgentID, "training_proposed", trigger.TriggerType, "draft",
			map[string]any{"proposal_id": p.ID, "estimate": estimate})
	}
	if s.sink != nil {
		s.sink.Publish(ctx, notify.Event(contracts.EventTrainingProposed, p.AgentID, p.ID))
	}
	return p, nil
}

// ApproveTraining moves a DRAFT proposal to APPROVED, applies the approver's
// modifications, and schedules the session. A duration override replaces the
// estimate; an hours-per-day limit stretches the calendar window, never the
// total hours.
func (s *Service) ApproveTraining(ctx context.Context, proposalID, userID string, mods *contracts.ProposalModifications) (*contracts.TrainingSession, error) {
	p, err := s.sessions.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != contracts.ProposalDraft {
		return nil, fmt.Errorf("proposal %s is %s: %w", proposalID, p.Status, store.ErrInvalidState)
	}

	hours := p.EstimatedHours
	if mods != nil && mods.DurationOverrideHours > 0 {
		hours = mods.DurationOverrideHours
		p.OverrideHours = mods.DurationOverrideHours
	}
	if mods != nil && mods.HoursPerDayLimit > 0 {
		p.HoursPerDayLimit = mods.HoursPerDayLimit
	}

	start := time.Now().UTC()
	p.Status = contracts.ProposalApproved
	p.ApprovedBy = userID
	p.TrainingStartDate = start
	p.TrainingEndDate = start.Add(scheduleSpan(hours, p.HoursPerDayLimit))

	if err := s.sessions.ApproveProposal(ctx, p); err != nil {
		return nil, err
	}

	sess := &contracts.TrainingSession{
		ID:         uuid.New().String(),
		ProposalID: p.ID,
		AgentID:    p.AgentID,
		Status:     contracts.SessionScheduled,
		StartedAt:  start,
	}
	if mods != nil {
		sess.SupervisorID = mods.SupervisorID
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create training session: %w", err)
	}

	s.logger.InfoContext(ctx, "training approved",
		"agent_id", p.AgentID, "proposal_id", p.ID, "session_id", sess.ID,
		"hours", hours, "end_date", p.TrainingEndDate)
	if s.recorder != nil {
		s.recorder.Record(ctx, p.AgentID, "training_approved", p.ID, "scheduled",
			map[string]any{"session_id": sess.ID, "approved_by": userID, "hours": hours})
	}
	if s.sink != nil {
		s.sink.Publish(ctx, notify.Event(contracts.EventTrainingApproved, p.AgentID, sess.ID))
	}
	return sess, nil
}

// RejectTraining moves a DRAFT proposal to REJECTED.
func (s *Service) RejectTraining(ctx context.Context, proposalID, userID string) error {
	p, err := s.sessions.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if p.Status != contracts.ProposalDraft {
		return fmt.Errorf("proposal %s is %s: %w", proposalID, p.Status, store.ErrInvalidState)
	}
	p.Status = contracts.ProposalRejected
	p.ApprovedBy = userID
	if err := s.sessions.ApproveProposal(ctx, p); err != nil {
		return err
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, p.AgentID, "training_rejected", p.ID, "rejected",
			map[string]any{"rejected_by": userID})
	}
	return nil
}

// CompleteTrainingSession records a session's outcome and applies the
// performance-bucketed confidence boost. Completion is one-shot: a terminal
// session returns ErrInvalidState from the store.
func (s *Service) CompleteTrainingSession(ctx context.Context, sessionID string, outcome contracts.TrainingOutcome) (contracts.TrainingResult, error) {
	if outcome.PerformanceScore < 0 || outcome.PerformanceScore > 1 {
		return contracts.TrainingResult{}, fmt.Errorf("performance score %f out of [0,1]: %w",
			outcome.PerformanceScore, ErrOutcomeInvalid)
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return contracts.TrainingResult{}, err
	}

	sess.Status = contracts.SessionCompleted
	sess.CompletedAt = time.Now().UTC()
	sess.PerformanceScore = outcome.PerformanceScore
	sess.TotalTasks = outcome.TotalTasks
	sess.TasksCompleted = outcome.TasksCompleted
	if err := s.sessions.CompleteSession(ctx, sess); err != nil {
		return contracts.TrainingResult{}, err
	}

	boost := BoostForPerformance(outcome.PerformanceScore)
	update, err := s.scorer.ApplyBoost(ctx, sess.AgentID, boost)
	if err != nil {
		return contracts.TrainingResult{}, fmt.Errorf("session %s completed but boost failed: %w", sessionID, err)
	}

	result := contracts.TrainingResult{
		SessionID:       sessionID,
		ConfidenceBoost: boost,
		NewConfidence:   update.NewScore,
		PromotedToIntern: update.OldLevel == maturity.Student &&
			update.NewLevel.AtLeast(maturity.Intern),
	}

	s.logger.InfoContext(ctx, "training completed",
		"agent_id", sess.AgentID, "session_id", sessionID,
		"performance", outcome.PerformanceScore, "boost", boost,
		"new_confidence", update.NewScore)
	if s.recorder != nil {
		s.recorder.Record(ctx, sess.AgentID, "training_completed", sessionID, "completed", result)
	}
	if s.sink != nil {
		s.sink.Publish(ctx, notify.Event(contracts.EventTrainingCompleted, sess.AgentID, sessionID))
	}
	return result, nil
}

// AbortTrainingSession marks a session aborted without any confidence
// effect.
func (s *Service) AbortTrainingSession(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Status = contracts.SessionAborted
	sess.CompletedAt = time.Now().UTC()
	if err := s.sessions.CompleteSession(ctx, sess); err != nil {
		return err
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, sess.AgentID, "training_aborted", sessionID, "aborted", nil)
	}
	return nil
}

// GetTrainingHistory returns an agent's sessions, most recent first.
func (s *Service) GetTrainingHistory(ctx context.Context, agentID string, limit int) ([]*contracts.TrainingSession, error) {
	return s.sessions.ListSessionsByAgent(ctx, agentID, limit)
}

// BoostForPerformance buckets a session's performance score into its
// confidence boost.
func BoostForPerformance(performance float64) float64 {
	switch {
	case performance < 0.3:
		return 0.05
	case performance < 0.5:
		return 0.10
	case performance < 0.7:
		return 0.15
	default:
		return 0.20
	}
}

// inferGaps derives capability gaps from the blocked trigger type plus the
// agent's category. At least one gap is always returned.
func inferGaps(triggerType, category string) []string {
	set := map[string]struct{}{}
	lower := strings.ToLower(triggerType)
	for _, kw := range gapKeywords {
		if strings.Contains(lower, kw.keyword) {
			set[kw.gap] = struct{}{}
		}
	}
	if g, ok := categoryGaps[category]; ok {
		set[g] = struct{}{}
	}
	if len(set) == 0 {
		set["general_competence"] = struct{}{}
	}
	gaps := make([]string, 0, len(set))
	for g := range set {
		gaps = append(gaps, g)
	}
	sort.Strings(gaps)
	return gaps
}

// nextTarget is the level above current, at minimum INTERN; an already
// autonomous agent trains toward staying there.
func nextTarget(current maturity.Level) maturity.Level {
	switch current {
	case maturity.Student:
		return maturity.Intern
	case maturity.Intern:
		return maturity.Supervised
	default:
		return maturity.Autonomous
	}
}

// scheduleSpan converts total hours into a calendar window. Without a daily
// limit the session runs contiguously; with one it occupies whole days at
// the limit.
func scheduleSpan(hours, hoursPerDayLimit float64) time.Duration {
	if hoursPerDayLimit <= 0 {
		return time.Duration(hours * float64(time.Hour))
	}
	days := math.Ceil(hours / hoursPerDayLimit)
	return time.Duration(days) * 24 * time.Hour
}
