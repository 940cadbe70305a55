// Package state defines the checkpoint store the ordering layer relies on.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Snapshot is the last applied change for one row stream.
type Snapshot struct {
	Sequence  int64           `json:"sequence"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	AppliedAt time.Time       `json:"applied_at"`
}

// ErrConflict means another writer advanced the stream between the read
// and the compare-and-set.
var ErrConflict = errors.New("state: concurrent advance conflict")

// Store persists per-row checkpoints with compare-and-set semantics.
// A checkpoint advances only after the graph write is confirmed, so a
// failed apply replays from the same sequence.
type Store interface {
	// Get returns the snapshot for the key, or nil when the stream is new.
	Get(ctx context.Context, key models.EventKey) (*Snapshot, error)

	// Advance atomically replaces the stream snapshot when the stored
	// sequence still equals expected (0 for a new stream). Returns
	// ErrConflict when a concurrent writer got there first.
	Advance(ctx context.Context, key models.EventKey, expected int64, next Snapshot) error
}
