package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/state"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

// memStore is an in-memory state.Store with CAS semantics.
type memStore struct {
	mu        sync.Mutex
	snapshots map[string]state.Snapshot
	getErr    error
	advErr    error
}

func newMemStore() *memStore {
	return &memStore{snapshots: make(map[string]state.Snapshot)}
}

func (s *memStore) Get(ctx context.Context, key models.EventKey) (*state.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	snapshot, ok := s.snapshots[key.String()]
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

func (s *memStore) Advance(ctx context.Context, key models.EventKey, expected int64, next state.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advErr != nil {
		return s.advErr
	}
	current := s.snapshots[key.String()]
	if current.Sequence != expected {
		return state.ErrConflict
	}
	s.snapshots[key.String()] = next
	return nil
}

func changeEvent(rowID string, seq int64) *models.ChangeEvent {
	return &models.ChangeEvent{
		SourceTable: models.TableMealPlans,
		Operation:   models.OpUpdate,
		RowID:       rowID,
		Sequence:    seq,
		Payload:     json.RawMessage(`{"id": "` + rowID + `"}`),
	}
}

func TestDecide_NewStream(t *testing.T) {
	seq := New(newMemStore(), testLogger())

	decision, err := seq.Decide(context.Background(), changeEvent("mp-1", 1))
	require.NoError(t, err)
	assert.False(t, decision.Stale)
	assert.Equal(t, int64(0), decision.PrevSequence)
	assert.Nil(t, decision.PrevPayload)
}

func TestDecide_StaleAndDuplicate(t *testing.T) {
	store := newMemStore()
	seq := New(store, testLogger())
	ctx := context.Background()

	require.NoError(t, seq.Commit(ctx, changeEvent("mp-1", 5), 0))

	tests := []struct {
		name     string
		sequence int64
		stale    bool
	}{
		{name: "older sequence", sequence: 4, stale: true},
		{name: "duplicate sequence", sequence: 5, stale: true},
		{name: "newer sequence", sequence: 6, stale: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := seq.Decide(ctx, changeEvent("mp-1", tt.sequence))
			require.NoError(t, err)
			assert.Equal(t, tt.stale, decision.Stale)
			assert.Equal(t, int64(5), decision.PrevSequence)
		})
	}
}

func TestDecide_PrevPayloadSurvivesCommit(t *testing.T) {
	seq := New(newMemStore(), testLogger())
	ctx := context.Background()

	first := changeEvent("mp-1", 1)
	first.Payload = json.RawMessage(`{"id": "mp-1", "plan_name": "Week 1"}`)
	require.NoError(t, seq.Commit(ctx, first, 0))

	decision, err := seq.Decide(ctx, changeEvent("mp-1", 2))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "mp-1", "plan_name": "Week 1"}`, string(decision.PrevPayload))
}

func TestCommit_ConflictPassesThrough(t *testing.T) {
	store := newMemStore()
	seq := New(store, testLogger())
	ctx := context.Background()

	// Another worker advanced the stream to 3 after our Decide read 0.
	require.NoError(t, seq.Commit(ctx, changeEvent("mp-1", 3), 0))

	err := seq.Commit(ctx, changeEvent("mp-1", 4), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, state.ErrConflict))
	assert.False(t, models.IsStoreUnavailable(err))
}

func TestDecide_StoreErrorIsTransient(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	seq := New(store, testLogger())

	decision, err := seq.Decide(context.Background(), changeEvent("mp-1", 1))
	require.Error(t, err)
	assert.Nil(t, decision)
	assert.True(t, models.IsStoreUnavailable(err))
	assert.False(t, models.IsFatalEventError(err))
}

func TestCommit_StoreErrorIsTransient(t *testing.T) {
	store := newMemStore()
	store.advErr = errors.New("connection refused")
	seq := New(store, testLogger())

	err := seq.Commit(context.Background(), changeEvent("mp-1", 1), 0)
	require.Error(t, err)
	assert.True(t, models.IsStoreUnavailable(err))
}

func TestDecideCommit_OrderIndependence(t *testing.T) {
	// Applying 1,2,3 or receiving 3 first then 1,2 ends at the same
	// checkpoint: 3 applied, late 1 and 2 discarded.
	ctx := context.Background()

	inOrder := New(newMemStore(), testLogger())
	for _, s := range []int64{1, 2, 3} {
		decision, err := inOrder.Decide(ctx, changeEvent("mp-1", s))
		require.NoError(t, err)
		require.False(t, decision.Stale)
		require.NoError(t, inOrder.Commit(ctx, changeEvent("mp-1", s), decision.PrevSequence))
	}

	outOfOrder := New(newMemStore(), testLogger())
	applied := []int64{}
	for _, s := range []int64{3, 1, 2} {
		decision, err := outOfOrder.Decide(ctx, changeEvent("mp-1", s))
		require.NoError(t, err)
		if decision.Stale {
			continue
		}
		require.NoError(t, outOfOrder.Commit(ctx, changeEvent("mp-1", s), decision.PrevSequence))
		applied = append(applied, s)
	}

	assert.Equal(t, []int64{3}, applied)

	finalA, err := inOrder.Decide(ctx, changeEvent("mp-1", 100))
	require.NoError(t, err)
	finalB, err := outOfOrder.Decide(ctx, changeEvent("mp-1", 100))
	require.NoError(t, err)
	assert.Equal(t, finalA.PrevSequence, finalB.PrevSequence)
}
