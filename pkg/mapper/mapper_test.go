package mapper

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func event(table models.SourceTable, op models.Operation, rowID string, seq int64, payload string) *models.ChangeEvent {
	e := &models.ChangeEvent{
		SourceTable: table,
		Operation:   op,
		RowID:       rowID,
		Sequence:    seq,
		OccurredAt:  time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
	}
	if payload != "" {
		e.Payload = json.RawMessage(payload)
	}
	return e
}

func edgeUpserts(intents []models.Intent) []models.EdgeUpsert {
	var out []models.EdgeUpsert
	for _, intent := range intents {
		if e, ok := intent.(models.EdgeUpsert); ok {
			out = append(out, e)
		}
	}
	return out
}

func edgeRetracts(intents []models.Intent) []models.EdgeRetract {
	var out []models.EdgeRetract
	for _, intent := range intents {
		if e, ok := intent.(models.EdgeRetract); ok {
			out = append(out, e)
		}
	}
	return out
}

func nodeUpserts(intents []models.Intent) []models.NodeUpsert {
	var out []models.NodeUpsert
	for _, intent := range intents {
		if n, ok := intent.(models.NodeUpsert); ok {
			out = append(out, n)
		}
	}
	return out
}

func TestMap_InsertMealPlanItem(t *testing.T) {
	m := New(PolicyTombstone, testLogger())

	evt := event(models.TableMealPlanItems, models.OpInsert, "mpi-1", 1, `{
		"id": "mpi-1",
		"meal_plan_id": "mp-1",
		"recipe_id": "r-1",
		"recipe_name": "Pasta",
		"meal_type": "dinner",
		"servings": 4
	}`)

	intents, err := m.Map(evt, nil)
	require.NoError(t, err)

	nodes := nodeUpserts(intents)
	require.Len(t, nodes, 3) // MealPlan stub, Recipe stub, item itself

	assert.Equal(t, models.LabelMealPlan, nodes[0].Label)
	assert.Equal(t, "mp-1", nodes[0].ID)

	assert.Equal(t, models.LabelRecipe, nodes[1].Label)
	assert.Equal(t, "r-1", nodes[1].ID)
	assert.Equal(t, "Pasta", nodes[1].Props["title"])

	item := nodes[2]
	assert.Equal(t, models.LabelMealPlanItem, item.Label)
	assert.Equal(t, "mpi-1", item.ID)
	assert.Equal(t, "dinner", item.Props["meal_type"])
	assert.Equal(t, float64(4), item.Props["servings"])

	edges := edgeUpserts(intents)
	require.Len(t, edges, 2)
	assert.Equal(t, models.EdgeUpsert{
		Type:      models.RelHasItem,
		FromLabel: models.LabelMealPlan,
		FromID:    "mp-1",
		ToLabel:   models.LabelMealPlanItem,
		ToID:      "mpi-1",
	}, edges[0])
	assert.Equal(t, models.EdgeUpsert{
		Type:      models.RelUsesRecipe,
		FromLabel: models.LabelMealPlanItem,
		FromID:    "mpi-1",
		ToLabel:   models.LabelRecipe,
		ToID:      "r-1",
	}, edges[1])

	assert.Empty(t, edgeRetracts(intents))
}

func TestMap_ForeignKeyChangeRetractsBeforeUpsert(t *testing.T) {
	m := New(PolicyTombstone, testLogger())

	prev := `{"id": "sli-1", "shopping_list_id": "sl-1", "product_id": "p-1"}`
	evt := event(models.TableShoppingListItems, models.OpUpdate, "sli-1", 2, `{
		"id": "sli-1",
		"shopping_list_id": "sl-1",
		"product_id": "p-2"
	}`)

	intents, err := m.Map(evt, json.RawMessage(prev))
	require.NoError(t, err)

	retracts := edgeRetracts(intents)
	require.Len(t, retracts, 1)
	assert.Equal(t, models.EdgeRetract{
		Type:      models.RelUsesProduct,
		FromLabel: models.LabelShoppingListItem,
		FromID:    "sli-1",
		ToLabel:   models.LabelProduct,
		ToID:      "p-1",
	}, retracts[0])

	upserts := edgeUpserts(intents)
	var productEdges []models.EdgeUpsert
	for _, e := range upserts {
		if e.Type == models.RelUsesProduct {
			productEdges = append(productEdges, e)
		}
	}
	require.Len(t, productEdges, 1, "exactly one USES_PRODUCT edge after the change")
	assert.Equal(t, "p-2", productEdges[0].ToID)

	// The retract must come before the replacing upsert.
	retractIdx, upsertIdx := -1, -1
	for i, intent := range intents {
		switch it := intent.(type) {
		case models.EdgeRetract:
			if it.Type == models.RelUsesProduct {
				retractIdx = i
			}
		case models.EdgeUpsert:
			if it.Type == models.RelUsesProduct {
				upsertIdx = i
			}
		}
	}
	require.GreaterOrEqual(t, retractIdx, 0)
	require.GreaterOrEqual(t, upsertIdx, 0)
	assert.Less(t, retractIdx, upsertIdx)
}

func TestMap_UnchangedForeignKeyNotRetracted(t *testing.T) {
	m := New(PolicyTombstone, testLogger())

	prev := `{"id": "sli-1", "shopping_list_id": "sl-1", "product_id": "p-1"}`
	evt := event(models.TableShoppingListItems, models.OpUpdate, "sli-1", 2, `{
		"id": "sli-1",
		"shopping_list_id": "sl-1",
		"product_id": "p-1",
		"quantity": 3
	}`)

	intents, err := m.Map(evt, json.RawMessage(prev))
	require.NoError(t, err)
	assert.Empty(t, edgeRetracts(intents))
}

func TestMap_NulledForeignKeyRetractsOnly(t *testing.T) {
	m := New(PolicyTombstone, testLogger())

	prev := `{"id": "mpi-1", "meal_plan_id": "mp-1", "recipe_id": "r-1"}`
	evt := event(models.TableMealPlanItems, models.OpUpdate, "mpi-1", 5, `{
		"id": "mpi-1",
		"meal_plan_id": "mp-1",
		"recipe_id": null
	}`)

	intents, err := m.Map(evt, json.RawMessage(prev))
	require.NoError(t, err)

	retracts := edgeRetracts(intents)
	require.Len(t, retracts, 1)
	assert.Equal(t, models.RelUsesRecipe, retracts[0].Type)
	assert.Equal(t, "r-1", retracts[0].ToID)

	for _, e := range edgeUpserts(intents) {
		assert.NotEqual(t, models.RelUsesRecipe, e.Type)
	}
}

func TestMap_MissingRequiredForeignKey(t *testing.T) {
	m := New(PolicyTombstone, testLogger())

	tests := []struct {
		name    string
		table   models.SourceTable
		payload string
		field   string
	}{
		{
			name:    "meal plan item without meal plan",
			table:   models.TableMealPlanItems,
			payload: `{"id": "mpi-1", "recipe_id": "r-1"}`,
			field:   "meal_plan_id",
		},
		{
			name:    "shopping list item without list",
			table:   models.TableShoppingListItems,
			payload: `{"id": "sli-1", "product_id": "p-1"}`,
			field:   "shopping_list_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := event(tt.table, models.OpInsert, "x-1", 1, tt.payload)

			intents, err := m.Map(evt, nil)
			require.Error(t, err)
			assert.Nil(t, intents)

			var unmappable *models.UnmappableForeignKeyError
			require.True(t, errors.As(err, &unmappable))
			assert.Equal(t, tt.field, unmappable.Field)
			assert.True(t, models.IsFatalEventError(err))
		})
	}
}

func TestMap_DeleteTombstone(t *testing.T) {
	m := New(PolicyTombstone, testLogger())

	evt := event(models.TableMealPlanItems, models.OpDelete, "mpi-1", 9,
		`{"id": "mpi-1", "meal_plan_id": "mp-1", "recipe_id": "r-1"}`)

	intents, err := m.Map(evt, nil)
	require.NoError(t, err)

	nodes := nodeUpserts(intents)
	require.Len(t, nodes, 1)
	assert.Equal(t, models.LabelMealPlanItem, nodes[0].Label)
	assert.Equal(t, "mpi-1", nodes[0].ID)
	assert.Equal(t, true, nodes[0].Props["deleted"])
	assert.Equal(t, "2026-08-23T12:00:00Z", nodes[0].Props["deleted_at"])

	retracts := edgeRetracts(intents)
	require.Len(t, retracts, 2)
	assert.Equal(t, models.RelHasItem, retracts[0].Type)
	assert.Equal(t, models.RelUsesRecipe, retracts[1].Type)
}

func TestMap_DeleteWithoutImageUsesPriorPayload(t *testing.T) {
	m := New(PolicyTombstone, testLogger())

	evt := event(models.TableShoppingListItems, models.OpDelete, "sli-1", 3, "")
	prev := `{"id": "sli-1", "shopping_list_id": "sl-1", "product_id": "p-1"}`

	intents, err := m.Map(evt, json.RawMessage(prev))
	require.NoError(t, err)

	retracts := edgeRetracts(intents)
	require.Len(t, retracts, 2)
}

func TestMap_DeleteHardPolicy(t *testing.T) {
	m := New(PolicyHard, testLogger())

	evt := event(models.TableShoppingLists, models.OpDelete, "sl-1", 2,
		`{"id": "sl-1", "household_id": "h-1"}`)

	intents, err := m.Map(evt, nil)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, models.NodeDelete{Label: models.LabelShoppingList, ID: "sl-1"}, intents[0])
}

func TestMap_ReinsertClearsTombstone(t *testing.T) {
	m := New(PolicyTombstone, testLogger())

	evt := event(models.TableMealPlans, models.OpInsert, "mp-1", 10, `{"id": "mp-1", "plan_name": "Back"}`)

	intents, err := m.Map(evt, nil)
	require.NoError(t, err)

	nodes := nodeUpserts(intents)
	require.Len(t, nodes, 1)
	props := nodes[0].Props
	val, ok := props["deleted"]
	require.True(t, ok)
	assert.Nil(t, val)
	val, ok = props["deleted_at"]
	require.True(t, ok)
	assert.Nil(t, val)
}

func TestMap_HouseholdOwnershipAndVendor(t *testing.T) {
	m := New(PolicyTombstone, testLogger())

	evt := event(models.TableShoppingLists, models.OpInsert, "sl-1", 1, `{
		"id": "sl-1",
		"household_id": "h-1",
		"household_name": "Smith",
		"household_type": "family",
		"meal_plan_id": "mp-1",
		"vendor_id": "v-1",
		"vendor_name": "GroceryCo",
		"list_name": "Weekly"
	}`)

	intents, err := m.Map(evt, nil)
	require.NoError(t, err)

	nodes := nodeUpserts(intents)
	require.Len(t, nodes, 4) // Household, MealPlan, Vendor stubs + list
	assert.Equal(t, "Smith", nodes[0].Props["household_name"])

	edges := edgeUpserts(intents)
	require.Len(t, edges, 3)
	assert.Equal(t, models.EdgeUpsert{
		Type:      models.RelHasShoppingList,
		FromLabel: models.LabelHousehold,
		FromID:    "h-1",
		ToLabel:   models.LabelShoppingList,
		ToID:      "sl-1",
	}, edges[0])
	assert.Equal(t, models.EdgeUpsert{
		Type:      models.RelGeneratesList,
		FromLabel: models.LabelMealPlan,
		FromID:    "mp-1",
		ToLabel:   models.LabelShoppingList,
		ToID:      "sl-1",
	}, edges[1])
	assert.Equal(t, models.EdgeUpsert{
		Type:      models.RelTargetsVendor,
		FromLabel: models.LabelShoppingList,
		FromID:    "sl-1",
		ToLabel:   models.LabelVendor,
		ToID:      "v-1",
	}, edges[2])
}

func TestMap_ExplicitNullClearsProperty(t *testing.T) {
	m := New(PolicyTombstone, testLogger())

	evt := event(models.TableMealPlans, models.OpUpdate, "mp-1", 2, `{
		"id": "mp-1",
		"plan_name": "Week 2",
		"status": null
	}`)

	intents, err := m.Map(evt, nil)
	require.NoError(t, err)

	nodes := nodeUpserts(intents)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Week 2", nodes[0].Props["plan_name"])

	status, ok := nodes[0].Props["status"]
	require.True(t, ok, "nulled column must be present so the store clears it")
	assert.Nil(t, status)
}
