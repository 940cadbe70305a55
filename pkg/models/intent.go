package models

// Label is a graph node label.
type Label string

const (
	LabelMealPlan         Label = "MealPlan"
	LabelMealPlanItem     Label = "MealPlanItem"
	LabelShoppingList     Label = "ShoppingList"
	LabelShoppingListItem Label = "ShoppingListItem"
	LabelRecipe           Label = "Recipe"
	LabelProduct          Label = "Product"
	LabelIngredient       Label = "Ingredient"
	LabelHousehold        Label = "Household"
	LabelB2CCustomer      Label = "B2CCustomer"
	LabelB2BCustomer      Label = "B2BCustomer"
	LabelVendor           Label = "Vendor"
)

// RelType is a graph relationship type.
type RelType string

const (
	RelHasItem           RelType = "HAS_ITEM"
	RelUsesRecipe        RelType = "USES_RECIPE"
	RelUsesProduct       RelType = "USES_PRODUCT"
	RelUsesIngredient    RelType = "USES_INGREDIENT"
	RelHasMealPlan       RelType = "HAS_MEAL_PLAN"
	RelHasShoppingList   RelType = "HAS_SHOPPING_LIST"
	RelTargetsVendor     RelType = "TARGETS_VENDOR"
	RelGeneratesList     RelType = "GENERATES_LIST"
	RelSubstituteProduct RelType = "SUBSTITUTE_PRODUCT"
)

// EdgeRef is one foreign-key derived relationship endpoint for a row.
// Outgoing refs point from the row's node to the referenced node;
// incoming refs point from the referenced (owning) node to the row.
type EdgeRef struct {
	Type       RelType
	Field      string // payload column the key came from
	OtherLabel Label
	OtherID    string
	Incoming   bool
	Required   bool
	OtherProps map[string]any
}

// Intent is a single pending graph mutation derived from a change event.
// Intents for one event apply in order inside one write transaction.
type Intent interface {
	intent()
}

// NodeUpsert merges a node by (label, id) and patches its properties.
// Nil property values clear the property on the node.
type NodeUpsert struct {
	Label Label
	ID    string
	Props map[string]any
}

// EdgeUpsert merges a single edge of Type between two nodes. The
// endpoints are merged by id first so the edge never dangles.
type EdgeUpsert struct {
	Type      RelType
	FromLabel Label
	FromID    string
	ToLabel   Label
	ToID      string
}

// EdgeRetract removes the edge of Type between two nodes if it exists.
type EdgeRetract struct {
	Type      RelType
	FromLabel Label
	FromID    string
	ToLabel   Label
	ToID      string
}

// NodeDelete detaches and removes a node. Emitted only under the hard
// delete policy; the default policy tombstones with a NodeUpsert instead.
type NodeDelete struct {
	Label Label
	ID    string
}

func (NodeUpsert) intent()  {}
func (EdgeUpsert) intent()  {}
func (EdgeRetract) intent() {}
func (NodeDelete) intent()  {}
