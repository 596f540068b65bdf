// Package confidence owns the per-agent confidence score. Every write goes
// through this package: outcomes apply bounded deltas, training completions
// apply boosts, and the maturity level is re-derived in the same atomic
// write so the two can never disagree in the store.
package confidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/overseer-labs/warden/pkg/audit"
	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/maturity"
	"github.com/overseer-labs/warden/pkg/notify"
	"github.com/overseer-labs/warden/pkg/store"
	"github.com/overseer-labs/warden/pkg/util"
)

// deltas maps an outcome's impact level to the score delta magnitude.
var deltas = map[contracts.ImpactLevel]float64{
	contracts.ImpactLow:    0.02,
	contracts.ImpactMedium: 0.05,
	contracts.ImpactHigh:   0.10,
}

// retries bounds optimistic-concurrency retries against writers in other
// processes. Within one process the keyed mutex already serializes.
const retries = 3

// Update is the result of a confidence write.
type Update struct {
	AgentID       string         `json:"agent_id"`
	OldScore      float64        `json:"old_score"`
	NewScore      float64        `json:"new_score"`
	OldLevel      maturity.Level `json:"old_level"`
	NewLevel      maturity.Level `json:"new_level"`
	LevelChanged  bool           `json:"level_changed"`
	AppliedDelta  float64        `json:"applied_delta"`
}

// Scorer applies confidence updates.
type Scorer struct {
	agents   store.AgentStore
	recorder *audit.Recorder
	sink     notify.Sink
	locks    *util.KeyMutex
	logger   *slog.Logger
}

// NewScorer creates a scorer. recorder and sink may be nil.
func NewScorer(agents store.AgentStore, recorder *audit.Recorder, sink notify.Sink) *Scorer {
	return &Scorer{
		agents:   agents,
		recorder: recorder,
		sink:     sink,
		locks:    util.NewKeyMutex(),
		logger:   slog.Default().With("component", "confidence"),
	}
}

// UpdateConfidence applies an outcome to an agent's score. impact defaults
// to medium when unknown.
func (s *Scorer) UpdateConfidence(ctx context.Context, agentID string, positive bool, impact contracts.ImpactLevel) (Update, error) {
	if !impact.Valid() {
		impact = contracts.ImpactMedium
	}
	delta := deltas[impact]
	if !positive {
		delta = -delta
	}
	return s.apply(ctx, agentID, delta, "outcome_recorded")
}

// ApplyBoost raises an agent's score by a training boost. Boosts are always
// non-negative.
func (s *Scorer) ApplyBoost(ctx context.Context, agentID string, boost float64) (Update, error) {
	if boost < 0 {
		return Update{}, fmt.Errorf("boost must be non-negative, got %f", boost)
	}
	return s.apply(ctx, agentID, boost, "training_boost")
}

func (s *Scorer) apply(ctx context.Context, agentID string, delta float64, auditAction string) (Update, error) {
	// Serialize per agent so concurrent outcomes apply in submission order;
	// deltas of differing magnitude do not commute with clamping.
	s.locks.Lock(agentID)
	defer s.locks.Unlock(agentID)

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		agent, err := s.agents.GetAgent(ctx, agentID)
		if err != nil {
			return Update{}, err
		}

		old := agent.Standing
		next, crossed := old.Apply(delta)

		if err := s.agents.UpdateAgentStanding(ctx, agentID, next, agent.Version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return Update{}, err
		}

		u := Update{
			AgentID:      agentID,
			OldScore:     old.Score(),
			NewScore:     next.Score(),
			OldLevel:     old.Level(),
			NewLevel:     next.Level(),
			LevelChanged: crossed,
			AppliedDelta: delta,
		}
		s.report(ctx, u, auditAction)
		return u, nil
	}
	return Update{}, fmt.Errorf("confidence update for agent %q: %w", agentID, lastErr)
}

func (s *Scorer) report(ctx context.Context, u Update, auditAction string) {
	if s.recorder != nil {
		outcome := "score_decreased"
		if u.AppliedDelta >= 0 {
			outcome = "score_increased"
		}
		s.recorder.Record(ctx, u.AgentID, auditAction, "confidence", outcome, u)
	}
	if u.LevelChanged {
		s.logger.InfoContext(ctx, "maturity transition",
			"agent_id", u.AgentID, "from", u.OldLevel, "to", u.NewLevel,
			"score", u.NewScore)
		if s.sink != nil {
			event := notify.Event(contracts.EventMaturityTransition, u.AgentID, "")
			event.From = u.OldLevel
			event.To = u.NewLevel
			s.sink.Publish(ctx, event)
		}
	}
}
