package training

import (
	"context"
	"fmt"
	"math"

	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/maturity"
	"github.com/overseer-labs/warden/pkg/store"
)

// Estimator bounds. Estimates are heuristic, not learned: a bigger
// confidence gap means more base hours, more capability gaps stretch the
// plan, and an agent with a strong training record shortens it.
const (
	minHours = 4.0
	maxHours = 160.0

	// base hours per unit of confidence gap; a full 0.0→0.9 gap lands at
	// 8 + 0.9*80 = 80 base hours.
	baseFloor   = 8.0
	gapHourRate = 80.0

	// weight of the heuristic estimate vs. the historical mean when
	// similar-agent history exists.
	heuristicWeight = 0.6
)

// Estimator computes training-duration estimates from agent state and
// historical sessions.
type Estimator struct {
	agents   store.AgentStore
	sessions store.TrainingStore
}

// NewEstimator creates an estimator over the given stores.
func NewEstimator(agents store.AgentStore, sessions store.TrainingStore) *Estimator {
	return &Estimator{agents: agents, sessions: sessions}
}

// Estimate computes the training duration for an agent to close the given
// capability gaps and reach targetMaturity.
func (e *Estimator) Estimate(ctx context.Context, agentID string, capabilityGaps []string, targetMaturity maturity.Level) (contracts.TrainingEstimate, error) {
	agent, err := e.agents.GetAgent(ctx, agentID)
	if err != nil {
		return contracts.TrainingEstimate{}, err
	}

	confidenceGap := maturity.Threshold(targetMaturity) - agent.Standing.Score()
	if confidenceGap < 0 {
		confidenceGap = 0
	}

	baseHours := baseFloor + confidenceGap*gapHourRate
	gapsFactor := 1.0 + 0.1*float64(len(capabilityGaps))
	learningRate, sessionCount, err := e.learningRate(ctx, agentID)
	if err != nil {
		return contracts.TrainingEstimate{}, err
	}

	estimated := clampHours(baseHours * gapsFactor / learningRate)

	similar, err := e.similarDurations(ctx, agent.Category, agentID, len(capabilityGaps))
	if err != nil {
		return contracts.TrainingEstimate{}, err
	}
	if len(similar) > 0 {
		mean := 0.0
		for _, h := range similar {
			mean += h
		}
		mean /= float64(len(similar))
		estimated = clampHours(heuristicWeight*estimated + (1-heuristicWeight)*mean)
	}

	// Confidence in the estimate grows with evidence: the agent's own
	// record and comparable peers.
	conf := 0.5
	if sessionCount > 0 {
		conf += 0.2
	}
	conf += math.Min(0.2, 0.05*float64(len(similar)))

	return contracts.TrainingEstimate{
		EstimatedHours:    round1(estimated),
		MinHours:          minHours,
		MaxHours:          maxHours,
		Confidence:        conf,
		SimilarAgentsUsed: len(similar),
		Reasoning: fmt.Sprintf(
			"%d capability gap(s), confidence gap %.2f toward %s; blended with %d similar agent(s) in category %q; learning rate %.2f from %d prior session(s)",
			len(capabilityGaps), confidenceGap, targetMaturity, len(similar), agent.Category, learningRate, sessionCount),
	}, nil
}

// learningRate maps the agent's average past performance into [1.0, 2.0].
// No history means 1.0: no discount.
func (e *Estimator) learningRate(ctx context.Context, agentID string) (float64, int, error) {
	sessions, err := e.sessions.ListSessionsByAgent(ctx, agentID, 0)
	if err != nil {
		return 0, 0, err
	}
	sum, n := 0.0, 0
	for _, s := range sessions {
		if s.Status != contracts.SessionCompleted {
			continue
		}
		sum += s.PerformanceScore
		n++
	}
	if n == 0 {
		return 1.0, 0, nil
	}
	avg := sum / float64(n)
	if avg < 0 {
		avg = 0
	}
	if avg > 1 {
		avg = 1
	}
	return 1.0 + avg, n, nil
}

// similarDurations returns actual durations of completed sessions from
// other agents in the same category whose gap count was within one of this
// plan's.
func (e *Estimator) similarDurations(ctx context.Context, category, excludeAgentID string, gapCount int) ([]float64, error) {
	if category == "" {
		return nil, nil
	}
	history, err := e.sessions.ListCompletedByCategory(ctx, category, excludeAgentID)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, h := range history {
		if h.DurationHours <= 0 {
			continue
		}
		if diff := h.GapCount - gapCount; diff >= -1 && diff <= 1 {
			out = append(out, h.DurationHours)
		}
	}
	return out, nil
}

func clampHours(h float64) float64 {
	if h < minHours {
		return minHours
	}
	if h > maxHours {
		return maxHours
	}
	return h
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
