package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-labs/warden/pkg/audit"
	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/store"
)

func TestRecorder_AppendAndVerify(t *testing.T) {
	ctx := context.Background()
	r := audit.NewRecorder(nil)

	r.Record(ctx, "a1", "governance_decision", "send_email", "blocked", map[string]any{"complexity": 3})
	r.Record(ctx, "a1", "outcome_recorded", "send_email", "success", nil)
	r.Record(ctx, "a2", "governance_decision", "search", "allowed", nil)

	assert.Equal(t, 3, r.Size())
	require.NoError(t, r.VerifyChain())
	assert.NotEqual(t, "genesis", r.Head())
}

func TestRecorder_EntriesFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	r := audit.NewRecorder(nil)

	r.Record(ctx, "a1", "first", "", "", nil)
	r.Record(ctx, "a2", "other", "", "", nil)
	r.Record(ctx, "a1", "second", "", "", nil)

	entries := r.Entries("a1", 0)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Action) // most recent first
	assert.Equal(t, "first", entries[1].Action)

	limited := r.Entries("", 1)
	require.Len(t, limited, 1)
	assert.Equal(t, "second", limited[0].Action)
}

func TestRecorder_ConcurrentAppendsKeepChainIntact(t *testing.T) {
	ctx := context.Background()
	r := audit.NewRecorder(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Record(ctx, "a1", "governance_decision", "search", "allowed", nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, r.Size())
	assert.NoError(t, r.VerifyChain())
}

type failingAuditStore struct{}

func (failingAuditStore) AppendAudit(context.Context, *contracts.AuditEntry) error {
	return errors.New("disk full")
}

func (failingAuditStore) ListAudit(context.Context, string, int) ([]*contracts.AuditEntry, error) {
	return nil, errors.New("disk full")
}

var _ store.AuditStore = failingAuditStore{}

func TestRecorder_PersistenceFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	r := audit.NewRecorder(failingAuditStore{})

	// Must not panic or error; the in-memory chain still advances.
	r.Record(ctx, "a1", "governance_decision", "search", "allowed", nil)
	assert.Equal(t, 1, r.Size())
	assert.NoError(t, r.VerifyChain())
}

func TestRecorder_UnserializableDetails(t *testing.T) {
	ctx := context.Background()
	r := audit.NewRecorder(nil)

	r.Record(ctx, "a1", "governance_decision", "search", "allowed", map[string]any{"ch": make(chan int)})
	assert.Equal(t, 1, r.Size())
	assert.NoError(t, r.VerifyChain())
}
