package kafka

import (
	"encoding/json"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ChangeEnvelope is the CDC message format the outbox connector emits.
type ChangeEnvelope struct {
	Schema  json.RawMessage `json:"schema,omitempty"`
	Payload ChangePayload   `json:"payload"`
}

// ChangePayload contains the before/after state of a row
type ChangePayload struct {
	Before   json.RawMessage `json:"before"`
	After    json.RawMessage `json:"after"`
	Source   ChangeSource    `json:"source"`
	Op       string          `json:"op"` // c=create, u=update, d=delete, r=read (snapshot)
	TsMs     int64           `json:"ts_ms"`
	Sequence int64           `json:"sequence"`
}

// ChangeSource contains metadata about the origin of the change
type ChangeSource struct {
	Name   string `json:"name"`
	Db     string `json:"db"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	TsMs   int64  `json:"ts_ms"`
}

type rowIdentity struct {
	ID string `json:"id"`
}

// ParseChangeEvent parses a raw message value into a validated ChangeEvent.
// The message key is the fallback row identity for deletes without a
// before image. Errors are MalformedEventError or UnknownSourceTableError;
// both are fatal for the message.
func ParseChangeEvent(key string, value []byte) (*models.ChangeEvent, error) {
	var envelope ChangeEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return nil, &models.MalformedEventError{Reason: "invalid change envelope", Err: err}
	}

	payload := envelope.Payload

	var op models.Operation
	switch payload.Op {
	case "c", "r":
		op = models.OpInsert
	case "u":
		op = models.OpUpdate
	case "d":
		op = models.OpDelete
	case "":
		return nil, &models.MalformedEventError{Reason: "missing op"}
	default:
		return nil, &models.MalformedEventError{Reason: "unknown op " + payload.Op}
	}

	table := models.SourceTable(payload.Source.Table)
	if payload.Source.Table == "" {
		return nil, &models.MalformedEventError{Reason: "missing source table"}
	}
	if !table.IsValid() {
		return nil, &models.UnknownSourceTableError{Table: payload.Source.Table}
	}

	if payload.Sequence <= 0 {
		return nil, &models.MalformedEventError{Reason: "missing or non-positive sequence"}
	}

	image := payload.After
	if op == models.OpDelete {
		image = payload.Before
	}
	if isNullJSON(image) {
		image = nil
	}

	rowID := key
	if len(image) > 0 {
		var identity rowIdentity
		if err := json.Unmarshal(image, &identity); err != nil {
			return nil, &models.MalformedEventError{Reason: "invalid row image", Err: err}
		}
		if identity.ID != "" {
			rowID = identity.ID
		}
	}
	if rowID == "" {
		return nil, &models.MalformedEventError{Reason: "missing row id"}
	}

	// Validate the row image against the table schema up front so bad
	// payloads fail at parse time, not mid-apply.
	if op != models.OpDelete {
		if len(image) == 0 {
			return nil, &models.MalformedEventError{Reason: "missing after image for " + payload.Op}
		}
		if _, err := models.ParseRow(table, image); err != nil {
			return nil, err
		}
	}

	occurredAt := time.UnixMilli(payload.TsMs).UTC()
	if payload.TsMs == 0 {
		occurredAt = time.UnixMilli(payload.Source.TsMs).UTC()
	}

	return &models.ChangeEvent{
		SourceTable: table,
		Operation:   op,
		RowID:       rowID,
		Sequence:    payload.Sequence,
		OccurredAt:  occurredAt,
		Payload:     image,
	}, nil
}

func isNullJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
