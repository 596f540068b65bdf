// Package policy implements the maturity policy engine: the single
// decision function answering "may this agent perform this action". The
// decision matrix is table-driven (pkg/action); this package contains no
// per-action branching. All failure modes resolve closed: a missing agent,
// a disabled agent, or an unavailable store yields deny + approval
// required, never a silent allow.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/overseer-labs/warden/pkg/action"
	"github.com/overseer-labs/warden/pkg/audit"
	"github.com/overseer-labs/warden/pkg/cache"
	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/maturity"
	"github.com/overseer-labs/warden/pkg/store"
)

// DefaultCacheTTL bounds how long a cached decision may be served.
const DefaultCacheTTL = 30 * time.Second

// Engine is the maturity policy engine.
type Engine struct {
	agents    store.AgentStore
	cache     cache.DecisionCache
	recorder  *audit.Recorder
	overrides *Overrides
	cacheTTL  time.Duration
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCacheTTL overrides the decision-cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.cacheTTL = ttl }
}

// WithOverrides installs operator CEL overrides.
func WithOverrides(o *Overrides) Option {
	return func(e *Engine) { e.overrides = o }
}

// NewEngine creates a policy engine. cache and recorder may be nil.
func NewEngine(agents store.AgentStore, decisionCache cache.DecisionCache, recorder *audit.Recorder, opts ...Option) *Engine {
	e := &Engine{
		agents:   agents,
		cache:    decisionCache,
		recorder: recorder,
		cacheTTL: DefaultCacheTTL,
		logger:   slog.Default().With("component", "policy"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide evaluates the decision matrix for one (agent, action) pair.
// It never returns an error: every failure mode is encoded in the Decision.
func (e *Engine) Decide(ctx context.Context, agentID, actionType string, requireApprovalFlag bool) contracts.Decision {
	if cached, ok := e.cacheGet(ctx, agentID, actionType); ok {
		d := e.applyFlag(cached, requireApprovalFlag)
		e.record(ctx, d, true)
		return d
	}

	// The cached form excludes the caller's flag: the key is only
	// (agent, action), so the flag is folded in per call.
	d := e.evaluate(ctx, agentID, actionType)
	e.cacheSet(ctx, d)

	d = e.applyFlag(d, requireApprovalFlag)
	e.record(ctx, d, false)
	return d
}

func (e *Engine) evaluate(ctx context.Context, agentID, actionType string) contracts.Decision {
	complexity := action.ComplexityOf(actionType)
	required := action.RequiredMaturity(complexity)

	d := contracts.Decision{
		DecisionID:       uuid.New().String(),
		AgentID:          agentID,
		ActionType:       actionType,
		Complexity:       complexity,
		RequiredMaturity: required,
		IssuedAt:         time.Now().UTC(),
	}

	agent, err := e.agents.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			d.Allowed = false
			d.RequiresApproval = true
			d.Reason = fmt.Sprintf("agent %q not found", agentID)
			return d
		}
		// Store outage: deny rather than guess.
		e.logger.WarnContext(ctx, "agent lookup failed, failing closed",
			"agent_id", agentID, "error", err)
		d.Allowed = false
		d.RequiresApproval = true
		d.Reason = "governance store unavailable"
		return d
	}

	d.AgentMaturity = agent.Standing.Level()

	if agent.Disabled {
		d.Allowed = false
		d.RequiresApproval = true
		d.Reason = fmt.Sprintf("agent %q is disabled", agentID)
		return d
	}

	level := agent.Standing.Level()
	d.Allowed = level.AtLeast(required)

	switch {
	case !d.Allowed:
		d.RequiresApproval = true
		d.Reason = fmt.Sprintf("%s maturity required for complexity-%d action %q, agent is %s",
			required, complexity, actionType, level)
	case level == maturity.Autonomous:
		// Autonomous agents never require approval, even when the caller
		// asks for it.
		d.RequiresApproval = false
		d.Reason = "allowed: autonomous agent"
	case level == maturity.Supervised && complexity >= action.High:
		// Supervised agents escalate critical-adjacent actions even though
		// they are technically permitted.
		d.RequiresApproval = true
		d.Reason = fmt.Sprintf("allowed with approval: supervised agent on complexity-%d action", complexity)
	default:
		d.Reason = fmt.Sprintf("allowed: %s maturity covers complexity-%d action", level, complexity)
	}

	if e.overrides != nil {
		d = e.overrides.Apply(ctx, d, agent)
	}
	return d
}

// applyFlag folds the caller's explicit approval request into a cached
// decision. The cache key does not include the flag, so it is re-applied on
// every hit; autonomous agents stay exempt.
func (e *Engine) applyFlag(d contracts.Decision, requireApprovalFlag bool) contracts.Decision {
	if requireApprovalFlag && d.Allowed && !d.RequiresApproval && d.AgentMaturity != maturity.Autonomous {
		d.RequiresApproval = true
		d.Reason = "allowed with approval: requested by caller"
	}
	return d
}

func (e *Engine) cacheGet(ctx context.Context, agentID, actionType string) (contracts.Decision, bool) {
	if e.cache == nil {
		return contracts.Decision{}, false
	}
	return e.cache.Get(ctx, agentID, actionType)
}

func (e *Engine) cacheSet(ctx context.Context, d contracts.Decision) {
	if e.cache == nil {
		return
	}
	e.cache.Set(ctx, d.AgentID, d.ActionType, d, e.cacheTTL)
}

// record appends the decision to the audit trail. Cache-served decisions
// are audited too; the entry marks them so the trail distinguishes a fresh
// evaluation from a replay within the TTL.
func (e *Engine) record(ctx context.Context, d contracts.Decision, cacheServed bool) {
	if e.recorder == nil {
		return
	}
	outcome := "blocked"
	if d.Allowed && !d.RequiresApproval {
		outcome = "allowed"
	} else if d.Allowed {
		outcome = "allowed_with_approval"
	}
	details := struct {
		contracts.Decision
		CacheServed bool `json:"cache_served,omitempty"`
	}{Decision: d, CacheServed: cacheServed}
	e.recorder.Record(ctx, d.AgentID, "governance_decision", d.ActionType, outcome, details)
}
