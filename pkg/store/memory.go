package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/maturity"
)

// MemoryStore is an in-memory Store. Safe for concurrent use; copies
// records on the way in and out so callers never share mutable state.
type MemoryStore struct {
	mu        sync.RWMutex
	agents    map[string]*contracts.Agent
	approvals map[string]*contracts.ApprovalAction
	proposals map[string]*contracts.TrainingProposal
	sessions  map[string]*contracts.TrainingSession
	audit     []*contracts.AuditEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:    make(map[string]*contracts.Agent),
		approvals: make(map[string]*contracts.ApprovalAction),
		proposals: make(map[string]*contracts.TrainingProposal),
		sessions:  make(map[string]*contracts.TrainingSession),
	}
}

func (m *MemoryStore) CreateAgent(_ context.Context, agent *contracts.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[agent.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *agent
	m.agents[agent.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAgent(_ context.Context, id string) (*contracts.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *agent
	return &cp, nil
}

func (m *MemoryStore) UpdateAgentStanding(_ context.Context, id string, standing maturity.Standing, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	if agent.Version != expectedVersion {
		return ErrVersionConflict
	}
	agent.Standing = standing
	agent.Version++
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) DisableAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	agent.Disabled = true
	agent.Version++
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CreateApproval(_ context.Context, a *contracts.ApprovalAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.approvals[a.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *a
	m.approvals[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetApproval(_ context.Context, id string) (*contracts.ApprovalAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ResolveApproval(_ context.Context, id string, status contracts.ApprovalStatus, resolvedBy, comment string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return false, ErrApprovalNotFound
	}
	if a.Status.Terminal() {
		return false, nil
	}
	a.Status = status
	a.ResolvedBy = resolvedBy
	a.Comment = comment
	resolved := at
	a.ResolvedAt = &resolved
	return true, nil
}

func (m *MemoryStore) ExpireStale(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	swept := 0
	for _, a := range m.approvals {
		if a.Status == contracts.ApprovalPending && a.ExpiresAt.Before(now) {
			a.Status = contracts.ApprovalExpired
			resolved := now
			a.ResolvedAt = &resolved
			swept++
		}
	}
	return swept, nil
}

func (m *MemoryStore) CreateProposal(_ context.Context, p *contracts.TrainingProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.proposals[p.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *p
	cp.CapabilityGaps = append([]string(nil), p.CapabilityGaps...)
	m.proposals[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProposal(_ context.Context, id string) (*contracts.TrainingProposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	cp := *p
	cp.CapabilityGaps = append([]string(nil), p.CapabilityGaps...)
	return &cp, nil
}

func (m *MemoryStore) ApproveProposal(_ context.Context, p *contracts.TrainingProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.proposals[p.ID]
	if !ok {
		return ErrProposalNotFound
	}
	if existing.Status != contracts.ProposalDraft {
		return ErrInvalidState
	}
	cp := *p
	cp.CapabilityGaps = append([]string(nil), p.CapabilityGaps...)
	m.proposals[p.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s *contracts.TrainingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*contracts.TrainingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CompleteSession(_ context.Context, s *contracts.TrainingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[s.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if existing.Status.Terminal() {
		return ErrInvalidState
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) ListSessionsByAgent(_ context.Context, agentID string, limit int) ([]*contracts.TrainingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*contracts.TrainingSession
	for _, s := range m.sessions {
		if s.AgentID == agentID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListCompletedByCategory(_ context.Context, category, excludeAgentID string) ([]HistoricalSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []HistoricalSession
	for _, s := range m.sessions {
		if s.Status != contracts.SessionCompleted || s.AgentID == excludeAgentID {
			continue
		}
		agent, ok := m.agents[s.AgentID]
		if !ok || agent.Category != category {
			continue
		}
		gapCount := 0
		if p, ok := m.proposals[s.ProposalID]; ok {
			gapCount = len(p.CapabilityGaps)
		}
		out = append(out, HistoricalSession{
			AgentID:          s.AgentID,
			Category:         category,
			GapCount:         gapCount,
			DurationHours:    s.CompletedAt.Sub(s.StartedAt).Hours(),
			PerformanceScore: s.PerformanceScore,
		})
	}
	return out, nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, e *contracts.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryStore) ListAudit(_ context.Context, agentID string, limit int) ([]*contracts.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*contracts.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		if agentID != "" && m.audit[i].AgentID != agentID {
			continue
		}
		cp := *m.audit[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
