package models

import (
	"encoding/json"
	"time"
)

// SourceTable identifies one of the replicated relational tables.
type SourceTable string

const (
	TableMealPlans         SourceTable = "meal_plans"
	TableMealPlanItems     SourceTable = "meal_plan_items"
	TableShoppingLists     SourceTable = "shopping_lists"
	TableShoppingListItems SourceTable = "shopping_list_items"
)

// SourceTables lists every table the pipeline consumes, in aggregate order.
var SourceTables = []SourceTable{
	TableMealPlans,
	TableMealPlanItems,
	TableShoppingLists,
	TableShoppingListItems,
}

// IsValid reports whether the table is one the pipeline handles.
func (t SourceTable) IsValid() bool {
	for _, table := range SourceTables {
		if t == table {
			return true
		}
	}
	return false
}

// Operation is the kind of row-level change
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// IsValid reports whether the operation is a known change kind.
func (o Operation) IsValid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ChangeEvent is one row-level change from the relational store's outbox.
// Payload is the full row image after the change; for deletes it is the
// last known image (possibly empty when the connector sends none).
type ChangeEvent struct {
	SourceTable SourceTable     `json:"source_table"`
	Operation   Operation       `json:"op"`
	RowID       string          `json:"row_id"`
	Sequence    int64           `json:"sequence"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Key returns the dedup stream identity for the event's row.
func (e *ChangeEvent) Key() EventKey {
	return EventKey{Table: e.SourceTable, RowID: e.RowID}
}

// EventKey identifies a single row's change stream.
type EventKey struct {
	Table SourceTable
	RowID string
}

func (k EventKey) String() string {
	return string(k.Table) + ":" + k.RowID
}
