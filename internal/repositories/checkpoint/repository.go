// Package checkpoint is the PostgreSQL-backed checkpoint store.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/state"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Record is one checkpoint row.
type Record struct {
	SourceTable  string          `db:"source_table" json:"source_table"`
	RowID        string          `db:"row_id" json:"row_id"`
	LastSequence int64           `db:"last_sequence" json:"last_sequence"`
	LastPayload  json.RawMessage `db:"last_payload" json:"last_payload,omitempty"`
	AppliedAt    time.Time       `db:"applied_at" json:"applied_at"`
}

// Repository handles checkpoint persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new checkpoint repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get returns the snapshot for the key, or nil for a new stream.
func (r *Repository) Get(ctx context.Context, key models.EventKey) (*state.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "checkpoint.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("source_table", "row_id", "last_sequence", "last_payload", "applied_at")
	sb.From("checkpoints")
	sb.Where(
		sb.Equal("source_table", string(key.Table)),
		sb.Equal("row_id", key.RowID),
	)

	query, args := sb.Build()
	var record Record
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	return &state.Snapshot{
		Sequence:  record.LastSequence,
		Payload:   record.LastPayload,
		AppliedAt: record.AppliedAt,
	}, nil
}

// Advance swaps in the new snapshot when the stored sequence matches
// expected. Returns state.ErrConflict on a lost race.
func (r *Repository) Advance(ctx context.Context, key models.EventKey, expected int64, next state.Snapshot) error {
	ctx, span := tracing.StartSpan(ctx, "checkpoint.Repository.Advance")
	defer span.End()

	payload := next.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("checkpoints")
	sb.Cols("source_table", "row_id", "last_sequence", "last_payload", "applied_at")
	sb.Values(string(key.Table), key.RowID, next.Sequence, payload, next.AppliedAt)

	query, args := sb.Build()
	args = append(args, expected)
	query += fmt.Sprintf(` ON CONFLICT (source_table, row_id) DO UPDATE
		SET last_sequence = EXCLUDED.last_sequence,
		    last_payload = EXCLUDED.last_payload,
		    applied_at = EXCLUDED.applied_at
		WHERE checkpoints.last_sequence = $%d`, len(args))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return state.ErrConflict
	}

	return nil
}

// Lookup returns the full checkpoint record for inspection endpoints.
func (r *Repository) Lookup(ctx context.Context, table string, rowID string) (*Record, error) {
	ctx, span := tracing.StartSpan(ctx, "checkpoint.Repository.Lookup")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("source_table", "row_id", "last_sequence", "last_payload", "applied_at")
	sb.From("checkpoints")
	sb.Where(
		sb.Equal("source_table", table),
		sb.Equal("row_id", rowID),
	)

	query, args := sb.Build()
	var record Record
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("checkpoint %s/%s not found", table, rowID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to lookup checkpoint")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to lookup checkpoint")
	}

	return &record, nil
}

// List returns the most recently advanced checkpoints for a table.
func (r *Repository) List(ctx context.Context, table string, limit int) ([]*Record, error) {
	ctx, span := tracing.StartSpan(ctx, "checkpoint.Repository.List")
	defer span.End()

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("source_table", "row_id", "last_sequence", "last_payload", "applied_at")
	sb.From("checkpoints")
	sb.Where(sb.Equal("source_table", table))
	sb.OrderBy("applied_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	records := []*Record{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list checkpoints")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list checkpoints")
	}

	return records, nil
}
