package policy_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-labs/warden/pkg/action"
	"github.com/overseer-labs/warden/pkg/audit"
	"github.com/overseer-labs/warden/pkg/cache"
	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/maturity"
	"github.com/overseer-labs/warden/pkg/policy"
	"github.com/overseer-labs/warden/pkg/store"
)

// actionsByComplexity maps each complexity class to a catalog action.
var actionsByComplexity = map[action.Complexity]string{
	action.Low:      "search",
	action.Medium:   "create_record",
	action.High:     "send_email",
	action.Critical: "send_payment",
}

func seedAgent(t *testing.T, s *store.MemoryStore, id string, score float64) {
	t.Helper()
	require.NoError(t, s.CreateAgent(context.Background(), &contracts.Agent{
		ID: id, Category: "Finance", Standing: maturity.NewStanding(score),
	}))
}

func newEngine(s *store.MemoryStore, opts ...policy.Option) *policy.Engine {
	return policy.NewEngine(s, cache.NewMemoryCache(), audit.NewRecorder(nil), opts...)
}

func TestDecide_MaturityMatrix(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedAgent(t, s, "student", 0.3)
	seedAgent(t, s, "intern", 0.6)
	seedAgent(t, s, "supervised", 0.8)
	seedAgent(t, s, "autonomous", 0.95)
	e := newEngine(s)

	tests := []struct {
		agent            string
		complexity       action.Complexity
		allowed          bool
		requiresApproval bool
	}{
		{"student", action.Low, true, false},
		{"student", action.Medium, false, true},
		{"student", action.High, false, true},
		{"student", action.Critical, false, true},

		{"intern", action.Low, true, false},
		{"intern", action.Medium, true, false},
		{"intern", action.High, false, true},
		{"intern", action.Critical, false, true},

		{"supervised", action.Low, true, false},
		{"supervised", action.Medium, true, false},
		{"supervised", action.High, true, true}, // permitted but escalated
		{"supervised", action.Critical, false, true},

		{"autonomous", action.Low, true, false},
		{"autonomous", action.Medium, true, false},
		{"autonomous", action.High, true, false},
		{"autonomous", action.Critical, true, false},
	}

	for _, tt := range tests {
		d := e.Decide(ctx, tt.agent, actionsByComplexity[tt.complexity], false)
		assert.Equal(t, tt.allowed, d.Allowed, "%s / complexity %d", tt.agent, tt.complexity)
		assert.Equal(t, tt.requiresApproval, d.RequiresApproval, "%s / complexity %d", tt.agent, tt.complexity)
		assert.NotEmpty(t, d.Reason)
	}
}

func TestDecide_MissingAgentFailsClosed(t *testing.T) {
	ctx := context.Background()
	e := newEngine(store.NewMemoryStore())

	d := e.Decide(ctx, "nonexistent", "search", false)
	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresApproval)
	assert.Contains(t, d.Reason, "not found")
}

func TestDecide_DisabledAgentFailsClosed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedAgent(t, s, "a1", 0.95)
	require.NoError(t, s.DisableAgent(ctx, "a1"))
	e := newEngine(s)

	d := e.Decide(ctx, "a1", "search", false)
	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresApproval)
	assert.Contains(t, d.Reason, "disabled")
}

type failingAgentStore struct{}

func (failingAgentStore) CreateAgent(context.Context, *contracts.Agent) error { return nil }
func (failingAgentStore) GetAgent(context.Context, string) (*contracts.Agent, error) {
	return nil, errors.New("connection refused")
}
func (failingAgentStore) UpdateAgentStanding(context.Context, string, maturity.Standing, int64) error {
	return errors.New("connection refused")
}
func (failingAgentStore) DisableAgent(context.Context, string) error {
	return errors.New("connection refused")
}

func TestDecide_StoreUnavailableFailsClosed(t *testing.T) {
	ctx := context.Background()
	e := policy.NewEngine(failingAgentStore{}, nil, nil)

	d := e.Decide(ctx, "a1", "search", false)
	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresApproval)
	assert.Contains(t, d.Reason, "unavailable")
}

func TestDecide_UnknownActionGovernedAsMedium(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedAgent(t, s, "student", 0.3)
	seedAgent(t, s, "intern", 0.6)
	e := newEngine(s)

	d := e.Decide(ctx, "student", "brand_new_tool", false)
	assert.Equal(t, action.Medium, d.Complexity)
	assert.False(t, d.Allowed)

	d = e.Decide(ctx, "intern", "brand_new_tool", false)
	assert.True(t, d.Allowed)
}

func TestDecide_ExplicitFlagForcesApproval(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedAgent(t, s, "intern", 0.6)
	seedAgent(t, s, "autonomous", 0.95)
	e := newEngine(s)

	d := e.Decide(ctx, "intern", "search", true)
	assert.True(t, d.Allowed)
	assert.True(t, d.RequiresApproval)

	// The flag never touches autonomous agents.
	d = e.Decide(ctx, "autonomous", "send_payment", true)
	assert.True(t, d.Allowed)
	assert.False(t, d.RequiresApproval)
}

func TestDecide_CacheHitSkipsStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedAgent(t, s, "a1", 0.6)
	c := cache.NewMemoryCache()
	e := policy.NewEngine(s, c, nil)

	first := e.Decide(ctx, "a1", "create_record", false)
	assert.True(t, first.Allowed)

	// Mutating the agent under the engine is invisible until TTL expiry.
	require.NoError(t, s.DisableAgent(ctx, "a1"))
	second := e.Decide(ctx, "a1", "create_record", false)
	assert.True(t, second.Allowed, "cached decision served within TTL")
	assert.Equal(t, first.DecisionID, second.DecisionID)
}

func TestDecide_CacheExpiryFallsThrough(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedAgent(t, s, "a1", 0.6)
	e := policy.NewEngine(s, cache.NewMemoryCache(), nil, policy.WithCacheTTL(10*time.Millisecond))

	first := e.Decide(ctx, "a1", "create_record", false)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.DisableAgent(ctx, "a1"))

	second := e.Decide(ctx, "a1", "create_record", false)
	assert.NotEqual(t, first.DecisionID, second.DecisionID)
	assert.False(t, second.Allowed)
}

func TestDecide_CachedDecisionStillHonorsFlag(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedAgent(t, s, "a1", 0.6)
	e := newEngine(s)

	plain := e.Decide(ctx, "a1", "search", false)
	assert.False(t, plain.RequiresApproval)

	flagged := e.Decide(ctx, "a1", "search", true)
	assert.True(t, flagged.RequiresApproval, "flag applies even on a cache hit")

	// And a flagged call must not poison the cache for later plain calls.
	plainAgain := e.Decide(ctx, "a1", "search", false)
	assert.False(t, plainAgain.RequiresApproval)
}

func TestDecide_AuditsEveryDecision(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedAgent(t, s, "a1", 0.3)
	rec := audit.NewRecorder(nil)
	e := policy.NewEngine(s, cache.NewMemoryCache(), rec)

	e.Decide(ctx, "a1", "send_payment", false)
	e.Decide(ctx, "a1", "search", false)
	// The same pair again is served from the cache and still audited.
	e.Decide(ctx, "a1", "search", false)

	entries := rec.Entries("a1", 0) // most recent first
	require.Len(t, entries, 3)
	assert.Equal(t, "governance_decision", entries[0].Action)
	assert.Equal(t, "allowed", entries[0].Outcome)
	assert.Equal(t, "allowed", entries[1].Outcome)
	assert.Equal(t, "blocked", entries[2].Outcome)
	assert.True(t, strings.HasPrefix(entries[0].EntryHash, "sha256:"))

	// The replayed decision is marked; the fresh ones are not.
	assert.Contains(t, string(entries[0].Details), `"cache_served":true`)
	assert.NotContains(t, string(entries[1].Details), `"cache_served"`)
}
