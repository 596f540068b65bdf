package contracts

import (
	"encoding/json"
	"time"
)

// AuditEntry is one immutable record of a decision or outcome. Entries are
// hash-chained by the recorder; Sequence, PreviousHash and EntryHash are
// assigned on append and must not be set by producers.
type AuditEntry struct {
	EntryID      string            `json:"entry_id"`
	Sequence     uint64            `json:"sequence"`
	AgentID      string            `json:"agent_id"`
	Action       string            `json:"action"`
	Resource     string            `json:"resource"`
	Outcome      string            `json:"outcome"`
	Timestamp    time.Time         `json:"timestamp"`
	Details      json.RawMessage   `json:"details,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	PreviousHash string            `json:"previous_hash"`
	EntryHash    string            `json:"entry_hash"`
}
