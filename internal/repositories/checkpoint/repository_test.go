package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/state"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

type fakeResult struct {
	rows int64
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

// fakeDB captures the last query and its args.
type fakeDB struct {
	query string
	args  []any

	record  *Record
	getErr  error
	rows    int64
	execErr error
}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.query, f.args = query, args
	if f.execErr != nil {
		return nil, f.execErr
	}
	return fakeResult{rows: f.rows}, nil
}

func (f *fakeDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	f.query, f.args = query, args
	if f.getErr != nil {
		return f.getErr
	}
	*dest.(*Record) = *f.record
	return nil
}

func (f *fakeDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	f.query, f.args = query, args
	return nil
}

func (f *fakeDB) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	return nil, nil
}

func (f *fakeDB) PingContext(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                          { return nil }
func (f *fakeDB) Sqlx() *sqlx.DB                        { return nil }

var errNoRows = errors.New("sql: no rows in result set")

func key(rowID string) models.EventKey {
	return models.EventKey{Table: models.TableMealPlans, RowID: rowID}
}

func TestGet_NewStream(t *testing.T) {
	db := &fakeDB{getErr: errNoRows}
	repo := NewRepository(db, testLogger())

	snapshot, err := repo.Get(context.Background(), key("mp-1"))
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestGet_ReturnsSnapshot(t *testing.T) {
	db := &fakeDB{record: &Record{
		SourceTable:  "meal_plans",
		RowID:        "mp-1",
		LastSequence: 7,
		LastPayload:  json.RawMessage(`{"id": "mp-1"}`),
		AppliedAt:    time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
	}}
	repo := NewRepository(db, testLogger())

	snapshot, err := repo.Get(context.Background(), key("mp-1"))
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, int64(7), snapshot.Sequence)
	assert.JSONEq(t, `{"id": "mp-1"}`, string(snapshot.Payload))
	assert.Contains(t, db.args, "meal_plans")
	assert.Contains(t, db.args, "mp-1")
}

func TestAdvance_BindsExpectedSequence(t *testing.T) {
	db := &fakeDB{rows: 1}
	repo := NewRepository(db, testLogger())

	next := state.Snapshot{
		Sequence:  8,
		Payload:   json.RawMessage(`{"id": "mp-1"}`),
		AppliedAt: time.Now().UTC(),
	}
	err := repo.Advance(context.Background(), key("mp-1"), 7, next)
	require.NoError(t, err)

	assert.Contains(t, db.query, "ON CONFLICT (source_table, row_id) DO UPDATE")
	assert.Contains(t, db.query, "WHERE checkpoints.last_sequence = $6")
	require.NotEmpty(t, db.args)
	assert.Equal(t, int64(7), db.args[len(db.args)-1])
}

func TestAdvance_Conflict(t *testing.T) {
	db := &fakeDB{rows: 0}
	repo := NewRepository(db, testLogger())

	err := repo.Advance(context.Background(), key("mp-1"), 3, state.Snapshot{Sequence: 4})
	assert.True(t, errors.Is(err, state.ErrConflict))
}

func TestAdvance_EmptyPayloadStoredAsNull(t *testing.T) {
	db := &fakeDB{rows: 1}
	repo := NewRepository(db, testLogger())

	err := repo.Advance(context.Background(), key("mp-1"), 0, state.Snapshot{Sequence: 1})
	require.NoError(t, err)
	assert.Contains(t, db.args, json.RawMessage("null"))
}

func TestLookup_ReturnsRecord(t *testing.T) {
	db := &fakeDB{record: &Record{
		SourceTable:  "meal_plans",
		RowID:        "mp-1",
		LastSequence: 5,
	}}
	repo := NewRepository(db, testLogger())

	record, err := repo.Lookup(context.Background(), "meal_plans", "mp-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(5), record.LastSequence)
	assert.Equal(t, "mp-1", record.RowID)
}

func TestLookup_NotFound(t *testing.T) {
	db := &fakeDB{getErr: errNoRows}
	repo := NewRepository(db, testLogger())

	record, err := repo.Lookup(context.Background(), "meal_plans", "mp-9")
	require.Error(t, err)
	assert.Nil(t, record)
	assert.True(t, httperror.IsHTTPError(err))
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}
