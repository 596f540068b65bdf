// Package approval manages the human-in-the-loop lifecycle for actions an
// agent is not trusted to perform alone. Approvals move PENDING → APPROVED
// | REJECTED | EXPIRED exactly once; re-resolving a terminal approval is an
// idempotent no-op. Waiting is event-driven — resolvers wake waiters
// through a channel — with a poll fallback for resolutions applied by other
// processes.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/overseer-labs/warden/pkg/audit"
	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/notify"
	"github.com/overseer-labs/warden/pkg/store"
)

var (
	ErrSelfApproval = errors.New("approver must differ from the requesting agent's owner")
	ErrRateLimited  = errors.New("approval request rate exceeded for agent")
)

// Defaults per the governance policy: a pending approval lives ten minutes,
// and waiters re-check every five seconds.
const (
	DefaultWindow       = 10 * time.Minute
	DefaultPollInterval = 5 * time.Second

	// Approval-request rate per agent; generous for real traffic, tight
	// enough that a looping agent cannot flood reviewers.
	defaultRequestRate  = rate.Limit(1.0) // per second
	defaultRequestBurst = 10
)

// Manager implements the approval workflow.
type Manager struct {
	store    store.ApprovalStore
	recorder *audit.Recorder
	sink     notify.Sink

	window       time.Duration
	pollInterval time.Duration

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
	reqRate    rate.Limit
	reqBurst   int

	waitersMu sync.Mutex
	waiters   map[string][]chan contracts.ApprovalStatus

	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithWindow overrides the pending-approval lifetime.
func WithWindow(d time.Duration) Option {
	return func(m *Manager) { m.window = d }
}

// WithPollInterval overrides the waiter re-check interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// WithRequestRate overrides the per-agent request limiter.
func WithRequestRate(r rate.Limit, burst int) Option {
	return func(m *Manager) {
		m.reqRate = r
		m.reqBurst = burst
	}
}

// NewManager creates an approval manager. recorder and sink may be nil.
func NewManager(s store.ApprovalStore, recorder *audit.Recorder, sink notify.Sink, opts ...Option) *Manager {
	m := &Manager{
		store:        s,
		recorder:     recorder,
		sink:         sink,
		window:       DefaultWindow,
		pollInterval: DefaultPollInterval,
		limiters:     make(map[string]*rate.Limiter),
		reqRate:      defaultRequestRate,
		reqBurst:     defaultRequestBurst,
		waiters:      make(map[string][]chan contracts.ApprovalStatus),
		logger:       slog.Default().With("component", "approval"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Request creates a PENDING approval and returns its ID.
func (m *Manager) Request(ctx context.Context, agentID, actionType string, params map[string]any, reason, requesterID string) (string, error) {
	if !m.limiter(agentID).Allow() {
		return "", fmt.Errorf("%w: %s", ErrRateLimited, agentID)
	}

	now := time.Now().UTC()
	a := &contracts.ApprovalAction{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		RequesterID: requesterID,
		ActionType:  actionType,
		Params:      params,
		Reason:      reason,
		Status:      contracts.ApprovalPending,
		ExpiresAt:   now.Add(m.window),
		CreatedAt:   now,
	}
	if err := m.store.CreateApproval(ctx, a); err != nil {
		return "", fmt.Errorf("failed to create approval: %w", err)
	}

	if m.recorder != nil {
		m.recorder.Record(ctx, agentID, "approval_requested", actionType, "pending", a)
	}
	if m.sink != nil {
		m.sink.Publish(ctx, notify.Event(contracts.EventApprovalRequested, agentID, a.ID))
	}
	return a.ID, nil
}

// Resolve transitions a PENDING approval to APPROVED or REJECTED. Resolving
// an already-terminal approval returns its existing status without error.
// Self-approval — the resolver matching the agent or its nominal owner — is
// rejected.
func (m *Manager) Resolve(ctx context.Context, approvalID string, approve bool, resolvedBy, comment string) (contracts.ApprovalStatus, error) {
	a, err := m.store.GetApproval(ctx, approvalID)
	if err != nil {
		return "", err
	}
	// Idempotency first: a terminal approval stays as resolved no matter
	// who re-resolves it, so the resolver is not validated here.
	if a.Status.Terminal() {
		m.logger.InfoContext(ctx, "resolution of terminal approval ignored",
			"approval_id", approvalID, "status", a.Status)
		return a.Status, nil
	}
	if resolvedBy != "" && (resolvedBy == a.AgentID || (a.RequesterID != "" && resolvedBy == a.RequesterID)) {
		return "", fmt.Errorf("%w: %s", ErrSelfApproval, resolvedBy)
	}

	status := contracts.ApprovalRejected
	if approve {
		status = contracts.ApprovalApproved
	}

	applied, err := m.store.ResolveApproval(ctx, approvalID, status, resolvedBy, comment, time.Now().UTC())
	if err != nil {
		return "", err
	}
	if !applied {
		current, err := m.store.GetApproval(ctx, approvalID)
		if err != nil {
			return "", err
		}
		m.logger.InfoContext(ctx, "resolution of terminal approval ignored",
			"approval_id", approvalID, "status", current.Status)
		return current.Status, nil
	}

	m.wake(approvalID, status)
	if m.recorder != nil {
		m.recorder.Record(ctx, a.AgentID, "approval_resolved", a.ActionType, string(status),
			map[string]any{"approval_id": approvalID, "resolved_by": resolvedBy})
	}
	if m.sink != nil {
		m.sink.Publish(ctx, notify.Event(contracts.EventApprovalResolved, a.AgentID, approvalID))
	}
	return status, nil
}

// Status returns the current status of an approval.
func (m *Manager) Status(ctx context.Context, approvalID string) (contracts.ApprovalStatus, error) {
	a, err := m.store.GetApproval(ctx, approvalID)
	if err != nil {
		return "", err
	}
	return a.Status, nil
}

// Wait blocks until the approval reaches a terminal state or maxWait
// elapses, returning whether it was approved. A timeout reports false
// without mutating the record; the sweeper owns expiry. No lock is held
// while suspended, and the caller's context cancels the wait.
func (m *Manager) Wait(ctx context.Context, approvalID string, maxWait time.Duration) (bool, error) {
	if maxWait <= 0 {
		maxWait = m.window
	}

	// Register before the first check so a resolution between check and
	// wait cannot be missed.
	ch := m.addWaiter(approvalID)
	defer m.removeWaiter(approvalID, ch)

	status, err := m.Status(ctx, approvalID)
	if err != nil {
		return false, err
	}
	if status.Terminal() {
		return status == contracts.ApprovalApproved, nil
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	poll := time.NewTicker(m.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case status := <-ch:
			return status == contracts.ApprovalApproved, nil
		case <-deadline.C:
			return false, nil
		case <-poll.C:
			status, err := m.Status(ctx, approvalID)
			if err != nil {
				m.logger.WarnContext(ctx, "approval poll failed", "approval_id", approvalID, "error", err)
				continue
			}
			if status.Terminal() {
				return status == contracts.ApprovalApproved, nil
			}
		}
	}
}

// Sweep marks stale PENDING approvals EXPIRED. Intended to be run
// periodically; see RunSweeper.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	n, err := m.store.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("approval sweep failed: %w", err)
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "expired stale approvals", "count", n)
	}
	return n, nil
}

// RunSweeper runs Sweep at interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.WarnContext(ctx, "sweeper iteration failed", "error", err)
			}
		}
	}
}

func (m *Manager) limiter(agentID string) *rate.Limiter {
	m.limitersMu.Lock()
	defer m.limitersMu.Unlock()
	l, ok := m.limiters[agentID]
	if !ok {
		l = rate.NewLimiter(m.reqRate, m.reqBurst)
		m.limiters[agentID] = l
	}
	return l
}

func (m *Manager) addWaiter(approvalID string) chan contracts.ApprovalStatus {
	ch := make(chan contracts.ApprovalStatus, 1)
	m.waitersMu.Lock()
	m.waiters[approvalID] = append(m.waiters[approvalID], ch)
	m.waitersMu.Unlock()
	return ch
}

func (m *Manager) removeWaiter(approvalID string, ch chan contracts.ApprovalStatus) {
	m.waitersMu.Lock()
	defer m.waitersMu.Unlock()
	waiters := m.waiters[approvalID]
	for i, w := range waiters {
		if w == ch {
			m.waiters[approvalID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(m.waiters[approvalID]) == 0 {
		delete(m.waiters, approvalID)
	}
}

func (m *Manager) wake(approvalID string, status contracts.ApprovalStatus) {
	m.waitersMu.Lock()
	waiters := m.waiters[approvalID]
	delete(m.waiters, approvalID)
	m.waitersMu.Unlock()
	for _, ch := range waiters {
		// Buffered; a waiter that already left simply never reads.
		ch <- status
	}
}
