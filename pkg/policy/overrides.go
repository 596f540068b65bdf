package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/maturity"
)

// OverrideEffect is what a matching override does to a decision. Overrides
// can only narrow a decision — force a denial or force an escalation to
// approval — never widen one below the maturity matrix.
type OverrideEffect string

const (
	EffectDeny     OverrideEffect = "deny"
	EffectEscalate OverrideEffect = "escalate"
)

type override struct {
	id      string
	program cel.Program
	effect  OverrideEffect
}

// Overrides evaluates operator-supplied CEL expressions against decisions.
// Each override is bound to an action type ("*" matches all) and fires when
// its expression evaluates to true. Evaluation errors fail closed: the
// override's effect is applied as if it had matched.
type Overrides struct {
	mu      sync.RWMutex
	env     *cel.Env
	byType  map[string][]override
	logger  *slog.Logger
	sources map[string]string // override ID -> CEL source
}

// NewOverrides initializes the CEL environment with the decision attributes
// available to expressions.
func NewOverrides() (*Overrides, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("agent_id", types.StringType),
			decls.NewVariable("action_type", types.StringType),
			decls.NewVariable("complexity", types.IntType),
			decls.NewVariable("maturity", types.StringType),
			decls.NewVariable("confidence", types.DoubleType),
			decls.NewVariable("category", types.StringType),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Overrides{
		env:     env,
		byType:  make(map[string][]override),
		sources: make(map[string]string),
		logger:  slog.Default().With("component", "policy_overrides"),
	}, nil
}

// Load compiles and registers an override for an action type.
func (o *Overrides) Load(id, actionType, source string, effect OverrideEffect) error {
	if effect != EffectDeny && effect != EffectEscalate {
		return fmt.Errorf("unknown override effect %q", effect)
	}

	ast, issues := o.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("override compilation failed: %w", issues.Err())
	}
	prg, err := o.env.Program(ast)
	if err != nil {
		return fmt.Errorf("program construction failed: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.byType[actionType] = append(o.byType[actionType], override{id: id, program: prg, effect: effect})
	o.sources[id] = source
	return nil
}

// Sources returns a copy of all loaded override sources (ID → CEL source).
func (o *Overrides) Sources() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]string, len(o.sources))
	for k, v := range o.sources {
		out[k] = v
	}
	return out
}

// Apply evaluates matching overrides against a decision and returns the
// (possibly narrowed) decision. Denials are not re-evaluated: there is
// nothing left to narrow.
func (o *Overrides) Apply(ctx context.Context, d contracts.Decision, agent *contracts.Agent) contracts.Decision {
	if !d.Allowed {
		return d
	}

	o.mu.RLock()
	candidates := append(append([]override(nil), o.byType[d.ActionType]...), o.byType["*"]...)
	o.mu.RUnlock()

	input := map[string]any{
		"agent_id":    d.AgentID,
		"action_type": d.ActionType,
		"complexity":  int64(d.Complexity),
		"maturity":    string(d.AgentMaturity),
		"confidence":  agent.Standing.Score(),
		"category":    agent.Category,
	}

	for _, ov := range candidates {
		out, _, err := ov.program.Eval(input)
		matched := false
		if err != nil {
			o.logger.WarnContext(ctx, "override evaluation failed, failing closed",
				"override_id", ov.id, "error", err)
			matched = true
		} else if b, ok := out.Value().(bool); ok && b {
			matched = true
		}
		if !matched {
			continue
		}

		switch ov.effect {
		case EffectDeny:
			d.Allowed = false
			d.RequiresApproval = true
			d.Reason = fmt.Sprintf("denied by policy override %s", ov.id)
			return d
		case EffectEscalate:
			// Autonomous agents never require approval; only a deny can
			// stop them.
			if d.AgentMaturity == maturity.Autonomous {
				continue
			}
			if !d.RequiresApproval {
				d.RequiresApproval = true
				d.Reason = fmt.Sprintf("allowed with approval: policy override %s", ov.id)
			}
		}
	}
	return d
}
