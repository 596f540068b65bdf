// Package audit implements the append-only decision/outcome trail. Entries
// are hash-chained so the trail is tamper-evident. Recording never blocks
// or fails governance: persistence errors are logged and the in-memory
// chain continues.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/store"
)

var ErrChainBroken = errors.New("hash chain is broken")

const genesisHash = "genesis"

// Recorder appends immutable audit entries. Safe for concurrent use.
type Recorder struct {
	mu       sync.RWMutex
	entries  []*contracts.AuditEntry
	sequence uint64
	head     string

	persist store.AuditStore // optional, best-effort
	logger  *slog.Logger
}

// NewRecorder creates a Recorder. persist may be nil; when set, every entry
// is also written to the store on a best-effort basis.
func NewRecorder(persist store.AuditStore) *Recorder {
	return &Recorder{
		head:    genesisHash,
		persist: persist,
		logger:  slog.Default().With("component", "audit"),
	}
}

// Record appends an entry. It never returns an error: audit is
// observability, not a gate.
func (r *Recorder) Record(ctx context.Context, agentID, action, resource, outcome string, details any) {
	var payload json.RawMessage
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			r.logger.WarnContext(ctx, "audit details not serializable, recording without them",
				"action", action, "error", err)
		} else {
			payload = raw
		}
	}

	r.mu.Lock()
	r.sequence++
	entry := &contracts.AuditEntry{
		EntryID:      uuid.New().String(),
		Sequence:     r.sequence,
		AgentID:      agentID,
		Action:       action,
		Resource:     resource,
		Outcome:      outcome,
		Timestamp:    time.Now().UTC(),
		Details:      payload,
		PreviousHash: r.head,
	}
	entry.EntryHash = entryHash(entry)
	r.head = entry.EntryHash
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	if r.persist != nil {
		if err := r.persist.AppendAudit(ctx, entry); err != nil {
			r.logger.WarnContext(ctx, "audit persistence failed, continuing",
				"entry_id", entry.EntryID, "error", err)
		}
	}
}

// Head returns the current chain head hash.
func (r *Recorder) Head() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.head
}

// Size returns the number of in-memory entries.
func (r *Recorder) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns up to limit entries for an agent, most recent first.
// agentID "" matches all agents.
func (r *Recorder) Entries(agentID string, limit int) []*contracts.AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*contracts.AuditEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if agentID != "" && e.AgentID != agentID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// VerifyChain recomputes every hash and checks the chain links.
func (r *Recorder) VerifyChain() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	expectedPrev := genesisHash
	for i, entry := range r.entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s, expected %s",
				ErrChainBroken, i, entry.PreviousHash, expectedPrev)
		}
		if computed := entryHash(entry); computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}

func entryHash(e *contracts.AuditEntry) string {
	hashable := struct {
		Sequence     uint64          `json:"sequence"`
		AgentID      string          `json:"agent_id"`
		Action       string          `json:"action"`
		Resource     string          `json:"resource"`
		Outcome      string          `json:"outcome"`
		Timestamp    time.Time       `json:"timestamp"`
		Details      json.RawMessage `json:"details,omitempty"`
		PreviousHash string          `json:"previous_hash"`
	}{
		Sequence:     e.Sequence,
		AgentID:      e.AgentID,
		Action:       e.Action,
		Resource:     e.Resource,
		Outcome:      e.Outcome,
		Timestamp:    e.Timestamp,
		Details:      e.Details,
		PreviousHash: e.PreviousHash,
	}
	data, _ := json.Marshal(hashable)
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
