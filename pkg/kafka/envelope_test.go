package kafka

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestParseChangeEvent(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		expected *models.ChangeEvent
	}{
		{
			name: "insert with after image",
			key:  "mp-1",
			value: `{"payload": {
				"op": "c",
				"sequence": 7,
				"ts_ms": 1700000000000,
				"source": {"table": "meal_plans"},
				"after": {"id": "mp-1", "plan_name": "Week 1", "household_id": "h-1"}
			}}`,
			expected: &models.ChangeEvent{
				SourceTable: models.TableMealPlans,
				Operation:   models.OpInsert,
				RowID:       "mp-1",
				Sequence:    7,
			},
		},
		{
			name: "snapshot read maps to insert",
			key:  "sl-1",
			value: `{"payload": {
				"op": "r",
				"sequence": 1,
				"source": {"table": "shopping_lists"},
				"after": {"id": "sl-1"}
			}}`,
			expected: &models.ChangeEvent{
				SourceTable: models.TableShoppingLists,
				Operation:   models.OpInsert,
				RowID:       "sl-1",
				Sequence:    1,
			},
		},
		{
			name: "update prefers image id over key",
			key:  "ignored-key",
			value: `{"payload": {
				"op": "u",
				"sequence": 3,
				"source": {"table": "meal_plan_items"},
				"after": {"id": "mpi-9", "meal_plan_id": "mp-1"}
			}}`,
			expected: &models.ChangeEvent{
				SourceTable: models.TableMealPlanItems,
				Operation:   models.OpUpdate,
				RowID:       "mpi-9",
				Sequence:    3,
			},
		},
		{
			name: "delete with before image",
			key:  "sli-2",
			value: `{"payload": {
				"op": "d",
				"sequence": 12,
				"source": {"table": "shopping_list_items"},
				"before": {"id": "sli-2", "shopping_list_id": "sl-1"},
				"after": null
			}}`,
			expected: &models.ChangeEvent{
				SourceTable: models.TableShoppingListItems,
				Operation:   models.OpDelete,
				RowID:       "sli-2",
				Sequence:    12,
			},
		},
		{
			name: "delete without image falls back to message key",
			key:  "sli-7",
			value: `{"payload": {
				"op": "d",
				"sequence": 4,
				"source": {"table": "shopping_list_items"},
				"before": null,
				"after": null
			}}`,
			expected: &models.ChangeEvent{
				SourceTable: models.TableShoppingListItems,
				Operation:   models.OpDelete,
				RowID:       "sli-7",
				Sequence:    4,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseChangeEvent(tt.key, []byte(tt.value))
			require.NoError(t, err)

			assert.Equal(t, tt.expected.SourceTable, event.SourceTable)
			assert.Equal(t, tt.expected.Operation, event.Operation)
			assert.Equal(t, tt.expected.RowID, event.RowID)
			assert.Equal(t, tt.expected.Sequence, event.Sequence)
		})
	}
}

func TestParseChangeEvent_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{
			name:  "invalid JSON",
			value: `{not json`,
		},
		{
			name:  "missing op",
			value: `{"payload": {"sequence": 1, "source": {"table": "meal_plans"}, "after": {"id": "mp-1"}}}`,
		},
		{
			name:  "unknown op",
			value: `{"payload": {"op": "x", "sequence": 1, "source": {"table": "meal_plans"}, "after": {"id": "mp-1"}}}`,
		},
		{
			name:  "missing source table",
			value: `{"payload": {"op": "c", "sequence": 1, "source": {}, "after": {"id": "mp-1"}}}`,
		},
		{
			name:  "missing sequence",
			value: `{"payload": {"op": "c", "source": {"table": "meal_plans"}, "after": {"id": "mp-1"}}}`,
		},
		{
			name:  "negative sequence",
			value: `{"payload": {"op": "c", "sequence": -2, "source": {"table": "meal_plans"}, "after": {"id": "mp-1"}}}`,
		},
		{
			name:  "insert without after image",
			value: `{"payload": {"op": "c", "sequence": 1, "source": {"table": "meal_plans"}, "after": null}}`,
		},
		{
			name:  "payload missing row id",
			value: `{"payload": {"op": "c", "sequence": 1, "source": {"table": "meal_plans"}, "after": {"plan_name": "No ID"}}}`,
		},
		{
			name:  "payload field type mismatch",
			value: `{"payload": {"op": "c", "sequence": 1, "source": {"table": "meal_plan_items"}, "after": {"id": "mpi-1", "servings": "three"}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseChangeEvent(tt.key, []byte(tt.value))
			require.Error(t, err)
			assert.Nil(t, event)

			var malformed *models.MalformedEventError
			assert.True(t, errors.As(err, &malformed), "expected MalformedEventError, got %T", err)
			assert.True(t, models.IsFatalEventError(err))
		})
	}
}

func TestParseChangeEvent_UnknownSourceTable(t *testing.T) {
	value := `{"payload": {"op": "c", "sequence": 1, "source": {"table": "recipes"}, "after": {"id": "r-1"}}}`

	event, err := ParseChangeEvent("r-1", []byte(value))
	require.Error(t, err)
	assert.Nil(t, event)

	var unknown *models.UnknownSourceTableError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "recipes", unknown.Table)
	assert.True(t, models.IsFatalEventError(err))
}

func TestParseChangeEvent_OccurredAt(t *testing.T) {
	value := `{"payload": {"op": "c", "sequence": 1, "ts_ms": 1700000000000, "source": {"table": "meal_plans"}, "after": {"id": "mp-1"}}}`

	event, err := ParseChangeEvent("mp-1", []byte(value))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), event.OccurredAt.UnixMilli())
}
