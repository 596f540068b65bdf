package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/maturity"
	"github.com/overseer-labs/warden/pkg/store"

	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := store.NewSQLiteStore(db)
	require.NoError(t, err)
	return s
}

func TestSQLiteStore_AgentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.CreateAgent(ctx, &contracts.Agent{
		ID: "a1", Name: "ledger-bot", Category: "Finance",
		Standing: maturity.NewStanding(0.72), CreatedAt: now, UpdatedAt: now,
	}))

	agent, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "ledger-bot", agent.Name)
	assert.Equal(t, "Finance", agent.Category)
	assert.Equal(t, maturity.Supervised, agent.Standing.Level())
	assert.InDelta(t, 0.72, agent.Standing.Score(), 1e-9)
	assert.False(t, agent.Disabled)

	_, err = s.GetAgent(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrAgentNotFound)
}

func TestSQLiteStore_StandingVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateAgent(ctx, &contracts.Agent{
		ID: "a1", Standing: maturity.NewStanding(0.4),
	}))

	require.NoError(t, s.UpdateAgentStanding(ctx, "a1", maturity.NewStanding(0.45), 0))
	assert.ErrorIs(t, s.UpdateAgentStanding(ctx, "a1", maturity.NewStanding(0.5), 0), store.ErrVersionConflict)
	assert.ErrorIs(t, s.UpdateAgentStanding(ctx, "missing", maturity.NewStanding(0.5), 0), store.ErrAgentNotFound)

	agent, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), agent.Version)
	assert.InDelta(t, 0.45, agent.Standing.Score(), 1e-9)
}

func TestSQLiteStore_ApprovalLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	a := &contracts.ApprovalAction{
		ID: "ap1", AgentID: "a1", ActionType: "send_payment",
		Params: map[string]any{"amount": 120.5}, Reason: "blocked: below required maturity",
		Status: contracts.ApprovalPending, ExpiresAt: now.Add(10 * time.Minute), CreatedAt: now,
	}
	require.NoError(t, s.CreateApproval(ctx, a))

	got, err := s.GetApproval(ctx, "ap1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ApprovalPending, got.Status)
	assert.Equal(t, 120.5, got.Params["amount"])

	applied, err := s.ResolveApproval(ctx, "ap1", contracts.ApprovalApproved, "human-1", "ok", now)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.ResolveApproval(ctx, "ap1", contracts.ApprovalRejected, "human-2", "", now)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err = s.GetApproval(ctx, "ap1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ApprovalApproved, got.Status)
	assert.Equal(t, "human-1", got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)

	_, err = s.ResolveApproval(ctx, "missing", contracts.ApprovalApproved, "h", "", now)
	assert.ErrorIs(t, err, store.ErrApprovalNotFound)
}

func TestSQLiteStore_ExpireStale(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.CreateApproval(ctx, &contracts.ApprovalAction{
		ID: "old", AgentID: "a1", ActionType: "send_email",
		Status: contracts.ApprovalPending, ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.CreateApproval(ctx, &contracts.ApprovalAction{
		ID: "fresh", AgentID: "a1", ActionType: "send_email",
		Status: contracts.ApprovalPending, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))

	swept, err := s.ExpireStale(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	old, _ := s.GetApproval(ctx, "old")
	assert.Equal(t, contracts.ApprovalExpired, old.Status)
}

func TestSQLiteStore_TrainingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	p := &contracts.TrainingProposal{
		ID: "p1", AgentID: "a1",
		CapabilityGaps: []string{"workflow_execution", "financial_calculation"},
		EstimatedHours: 24, Status: contracts.ProposalDraft, CreatedAt: now,
	}
	require.NoError(t, s.CreateProposal(ctx, p))

	p.Status = contracts.ProposalApproved
	p.OverrideHours = 20
	p.HoursPerDayLimit = 4
	p.TrainingStartDate = now
	p.TrainingEndDate = now.AddDate(0, 0, 5)
	p.ApprovedBy = "human-1"
	require.NoError(t, s.ApproveProposal(ctx, p))
	assert.ErrorIs(t, s.ApproveProposal(ctx, p), store.ErrInvalidState)

	got, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalApproved, got.Status)
	assert.Equal(t, 20.0, got.OverrideHours)
	assert.Len(t, got.CapabilityGaps, 2)

	sess := &contracts.TrainingSession{
		ID: "s1", ProposalID: "p1", AgentID: "a1",
		Status: contracts.SessionScheduled, StartedAt: now, TotalTasks: 10,
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	sess.Status = contracts.SessionCompleted
	sess.CompletedAt = now.Add(20 * time.Hour)
	sess.PerformanceScore = 0.85
	sess.TasksCompleted = 9
	require.NoError(t, s.CompleteSession(ctx, sess))
	assert.ErrorIs(t, s.CompleteSession(ctx, sess), store.ErrInvalidState)

	list, err := s.ListSessionsByAgent(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, contracts.SessionCompleted, list[0].Status)
	assert.Equal(t, 9, list[0].TasksCompleted)
}

func TestSQLiteStore_ListCompletedByCategory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.CreateAgent(ctx, &contracts.Agent{ID: "peer", Category: "Finance", Standing: maturity.NewStanding(0.6)}))
	require.NoError(t, s.CreateAgent(ctx, &contracts.Agent{ID: "me", Category: "Finance", Standing: maturity.NewStanding(0.3)}))

	require.NoError(t, s.CreateProposal(ctx, &contracts.TrainingProposal{
		ID: "p1", AgentID: "peer", Status: contracts.ProposalApproved,
		CapabilityGaps: []string{"a", "b", "c"}, CreatedAt: now,
	}))
	require.NoError(t, s.CreateSession(ctx, &contracts.TrainingSession{
		ID: "s1", ProposalID: "p1", AgentID: "peer",
		Status: contracts.SessionCompleted,
		StartedAt: now.Add(-16 * time.Hour), CompletedAt: now, PerformanceScore: 0.7,
	}))

	hist, err := s.ListCompletedByCategory(ctx, "Finance", "me")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 3, hist[0].GapCount)
	assert.InDelta(t, 16.0, hist[0].DurationHours, 0.01)
}

func TestSQLiteStore_AuditAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, s.AppendAudit(ctx, &contracts.AuditEntry{
			EntryID: uuidLike(i), Sequence: i, AgentID: "a1",
			Action: "governance_decision", Outcome: "allowed",
			Timestamp: time.Now().UTC(),
		}))
	}
	entries, err := s.ListAudit(ctx, "a1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(3), entries[0].Sequence)
}

func uuidLike(i uint64) string {
	return string(rune('a'+i)) + "-entry"
}

// Failure injection: exec errors from the database must surface so the
// policy layer can fail closed.
func TestSQLiteStore_StoreUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := store.NewSQLiteStore(db)
	require.NoError(t, err)

	boom := errors.New("database is locked")
	mock.ExpectQuery("SELECT id, name, category").WillReturnError(boom)

	_, err = s.GetAgent(context.Background(), "a1")
	assert.ErrorIs(t, err, boom)

	mock.ExpectExec("UPDATE agents SET maturity").WillReturnError(boom)
	err = s.UpdateAgentStanding(context.Background(), "a1", maturity.NewStanding(0.5), 0)
	assert.ErrorIs(t, err, boom)
}
