package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceTableIsValid(t *testing.T) {
	for _, table := range SourceTables {
		assert.True(t, table.IsValid(), "expected %s to be valid", table)
	}

	tests := []struct {
		name  string
		table SourceTable
	}{
		{name: "unreplicated table", table: SourceTable("recipes")},
		{name: "empty", table: SourceTable("")},
		{name: "case sensitive", table: SourceTable("Meal_Plans")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.table.IsValid())
		})
	}
}

func TestOperationIsValid(t *testing.T) {
	assert.True(t, OpInsert.IsValid())
	assert.True(t, OpUpdate.IsValid())
	assert.True(t, OpDelete.IsValid())
	assert.False(t, Operation("truncate").IsValid())
	assert.False(t, Operation("").IsValid())
}

func TestEventKeyString(t *testing.T) {
	event := &ChangeEvent{
		SourceTable: TableShoppingListItems,
		Operation:   OpUpdate,
		RowID:       "sli-1",
		Sequence:    3,
	}

	assert.Equal(t, "shopping_list_items:sli-1", event.Key().String())
}
