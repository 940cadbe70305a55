// Package sequencer enforces per-row ordering and dedup over the
// checkpoint store.
package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/state"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Decision is the ordering verdict for one event.
type Decision struct {
	// Stale means the event's sequence is not ahead of the checkpoint
	// and must be discarded as a counted no-op.
	Stale bool

	// PrevSequence and PrevPayload describe the last applied change for
	// the row. Zero/nil for a stream with no checkpoint yet.
	PrevSequence int64
	PrevPayload  json.RawMessage
}

// Sequencer decides whether events advance their row stream.
type Sequencer struct {
	store  state.Store
	logger ectologger.Logger
}

// New creates a sequencer over a checkpoint store.
func New(store state.Store, logger ectologger.Logger) *Sequencer {
	return &Sequencer{
		store:  store,
		logger: logger,
	}
}

// Decide checks the event against the row's checkpoint. Sequences must be
// strictly increasing; an equal or lower sequence is stale.
func (s *Sequencer) Decide(ctx context.Context, event *models.ChangeEvent) (*Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "sequencer.Sequencer.Decide")
	defer span.End()

	snapshot, err := s.store.Get(ctx, event.Key())
	if err != nil {
		return nil, &models.StoreUnavailableError{Store: "state", Err: err}
	}

	if snapshot == nil {
		return &Decision{}, nil
	}

	if event.Sequence <= snapshot.Sequence {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"key":           event.Key().String(),
			"sequence":      event.Sequence,
			"last_sequence": snapshot.Sequence,
		}).Debug("Discarding stale event")
		return &Decision{Stale: true, PrevSequence: snapshot.Sequence, PrevPayload: snapshot.Payload}, nil
	}

	return &Decision{PrevSequence: snapshot.Sequence, PrevPayload: snapshot.Payload}, nil
}

// Commit advances the row checkpoint after a confirmed graph apply.
// Returns state.ErrConflict when a concurrent worker advanced the stream
// first; the caller treats that as a duplicate delivery.
func (s *Sequencer) Commit(ctx context.Context, event *models.ChangeEvent, expected int64) error {
	ctx, span := tracing.StartSpan(ctx, "sequencer.Sequencer.Commit")
	defer span.End()

	next := state.Snapshot{
		Sequence:  event.Sequence,
		Payload:   event.Payload,
		AppliedAt: time.Now().UTC(),
	}

	err := s.store.Advance(ctx, event.Key(), expected, next)
	if errors.Is(err, state.ErrConflict) {
		return err
	}
	if err != nil {
		return &models.StoreUnavailableError{Store: "state", Err: err}
	}

	return nil
}
