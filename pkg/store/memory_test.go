package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/maturity"
	"github.com/overseer-labs/warden/pkg/store"
)

func newAgent(id, category string, score float64) *contracts.Agent {
	now := time.Now().UTC()
	return &contracts.Agent{
		ID:        id,
		Category:  category,
		Standing:  maturity.NewStanding(score),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStore_AgentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	require.NoError(t, s.CreateAgent(ctx, newAgent("a1", "Finance", 0.4)))
	assert.ErrorIs(t, s.CreateAgent(ctx, newAgent("a1", "Finance", 0.4)), store.ErrAlreadyExists)

	agent, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, maturity.Student, agent.Standing.Level())

	_, err = s.GetAgent(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrAgentNotFound)
}

func TestMemoryStore_OptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateAgent(ctx, newAgent("a1", "Finance", 0.4)))

	require.NoError(t, s.UpdateAgentStanding(ctx, "a1", maturity.NewStanding(0.45), 0))

	// Stale version must be rejected.
	err := s.UpdateAgentStanding(ctx, "a1", maturity.NewStanding(0.5), 0)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	agent, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), agent.Version)
	assert.InDelta(t, 0.45, agent.Standing.Score(), 1e-9)
}

func TestMemoryStore_DisableAgent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateAgent(ctx, newAgent("a1", "Finance", 0.4)))

	require.NoError(t, s.DisableAgent(ctx, "a1"))
	agent, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, agent.Disabled)

	assert.ErrorIs(t, s.DisableAgent(ctx, "missing"), store.ErrAgentNotFound)
}

func TestMemoryStore_ApprovalResolutionIdempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Now().UTC()

	a := &contracts.ApprovalAction{
		ID:        "ap1",
		AgentID:   "a1",
		Status:    contracts.ApprovalPending,
		ExpiresAt: now.Add(10 * time.Minute),
		CreatedAt: now,
	}
	require.NoError(t, s.CreateApproval(ctx, a))

	applied, err := s.ResolveApproval(ctx, "ap1", contracts.ApprovalApproved, "reviewer", "", now)
	require.NoError(t, err)
	assert.True(t, applied)

	// Second resolution is a no-op, not an error.
	applied, err = s.ResolveApproval(ctx, "ap1", contracts.ApprovalRejected, "reviewer2", "", now)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetApproval(ctx, "ap1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ApprovalApproved, got.Status)
	assert.Equal(t, "reviewer", got.ResolvedBy)
}

func TestMemoryStore_ExpireStale(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, s.CreateApproval(ctx, &contracts.ApprovalAction{
		ID: "old", AgentID: "a1", Status: contracts.ApprovalPending,
		ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.CreateApproval(ctx, &contracts.ApprovalAction{
		ID: "fresh", AgentID: "a1", Status: contracts.ApprovalPending,
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))

	swept, err := s.ExpireStale(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	old, _ := s.GetApproval(ctx, "old")
	fresh, _ := s.GetApproval(ctx, "fresh")
	assert.Equal(t, contracts.ApprovalExpired, old.Status)
	assert.Equal(t, contracts.ApprovalPending, fresh.Status)
}

func TestMemoryStore_ProposalApproveOnlyFromDraft(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	p := &contracts.TrainingProposal{
		ID: "p1", AgentID: "a1", Status: contracts.ProposalDraft,
		CapabilityGaps: []string{"workflow_execution"},
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.CreateProposal(ctx, p))

	p.Status = contracts.ProposalApproved
	require.NoError(t, s.ApproveProposal(ctx, p))

	// Already approved: invalid transition.
	assert.ErrorIs(t, s.ApproveProposal(ctx, p), store.ErrInvalidState)

	p.ID = "missing"
	assert.ErrorIs(t, s.ApproveProposal(ctx, p), store.ErrProposalNotFound)
}

func TestMemoryStore_SessionCompletionTerminal(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Now().UTC()

	sess := &contracts.TrainingSession{
		ID: "s1", ProposalID: "p1", AgentID: "a1",
		Status: contracts.SessionInProgress, StartedAt: now,
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	sess.Status = contracts.SessionCompleted
	sess.CompletedAt = now.Add(8 * time.Hour)
	sess.PerformanceScore = 0.8
	require.NoError(t, s.CompleteSession(ctx, sess))

	assert.ErrorIs(t, s.CompleteSession(ctx, sess), store.ErrInvalidState)
}

func TestMemoryStore_ListCompletedByCategory(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, s.CreateAgent(ctx, newAgent("peer", "Finance", 0.6)))
	require.NoError(t, s.CreateAgent(ctx, newAgent("other", "Sales", 0.6)))
	require.NoError(t, s.CreateAgent(ctx, newAgent("me", "Finance", 0.3)))

	require.NoError(t, s.CreateProposal(ctx, &contracts.TrainingProposal{
		ID: "p1", AgentID: "peer", Status: contracts.ProposalApproved,
		CapabilityGaps: []string{"a", "b"}, CreatedAt: now,
	}))
	require.NoError(t, s.CreateSession(ctx, &contracts.TrainingSession{
		ID: "s1", ProposalID: "p1", AgentID: "peer",
		Status: contracts.SessionCompleted, StartedAt: now.Add(-12 * time.Hour),
		CompletedAt: now, PerformanceScore: 0.7,
	}))
	// Different category: must not appear.
	require.NoError(t, s.CreateSession(ctx, &contracts.TrainingSession{
		ID: "s2", ProposalID: "p1", AgentID: "other",
		Status: contracts.SessionCompleted, StartedAt: now.Add(-5 * time.Hour),
		CompletedAt: now,
	}))
	// Own session: excluded.
	require.NoError(t, s.CreateSession(ctx, &contracts.TrainingSession{
		ID: "s3", ProposalID: "p1", AgentID: "me",
		Status: contracts.SessionCompleted, StartedAt: now.Add(-4 * time.Hour),
		CompletedAt: now,
	}))

	hist, err := s.ListCompletedByCategory(ctx, "Finance", "me")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "peer", hist[0].AgentID)
	assert.Equal(t, 2, hist[0].GapCount)
	assert.InDelta(t, 12.0, hist[0].DurationHours, 0.01)
}

func TestMemoryStore_AuditAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendAudit(ctx, &contracts.AuditEntry{
			EntryID: string(rune('a'+i)), AgentID: "a1",
			Action: "decision", Timestamp: time.Now().UTC(),
		}))
	}
	entries, err := s.ListAudit(ctx, "a1", 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
