package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Row is the typed full-row image carried by a change event payload.
type Row interface {
	NodeID() string
	NodeLabel() Label
	// Props returns the node property snapshot. Nullable columns that are
	// null in the payload appear with a nil value so the store clears them.
	Props() map[string]any
	// Refs returns the row's foreign-key derived relationship endpoints.
	// Required refs are always present, even when the key is empty.
	Refs() []EdgeRef
}

// ParseRow decodes and validates a payload as the typed row for its table.
func ParseRow(table SourceTable, payload json.RawMessage) (Row, error) {
	var row Row
	switch table {
	case TableMealPlans:
		row = &MealPlanRow{}
	case TableMealPlanItems:
		row = &MealPlanItemRow{}
	case TableShoppingLists:
		row = &ShoppingListRow{}
	case TableShoppingListItems:
		row = &ShoppingListItemRow{}
	default:
		return nil, &UnknownSourceTableError{Table: string(table)}
	}

	if err := json.Unmarshal(payload, row); err != nil {
		return nil, &MalformedEventError{Reason: fmt.Sprintf("invalid %s payload", table), Err: err}
	}
	if err := validate.Struct(row); err != nil {
		return nil, &MalformedEventError{Reason: fmt.Sprintf("invalid %s payload", table), Err: err}
	}

	return row, nil
}

// MealPlanRow is a full row image from the meal_plans table. The
// household_name/household_type columns are denormalized join fields
// carried along by the outbox query.
type MealPlanRow struct {
	ID            string  `json:"id" validate:"required"`
	HouseholdID   *string `json:"household_id"`
	PlanName      *string `json:"plan_name"`
	StartDate     *string `json:"start_date"`
	EndDate       *string `json:"end_date"`
	Status        *string `json:"status"`
	Frequency     *string `json:"frequency"`
	HouseholdName *string `json:"household_name"`
	HouseholdType *string `json:"household_type"`
	CreatedAt     *string `json:"created_at"`
	UpdatedAt     *string `json:"updated_at"`
}

func (r *MealPlanRow) NodeID() string   { return r.ID }
func (r *MealPlanRow) NodeLabel() Label { return LabelMealPlan }

func (r *MealPlanRow) Props() map[string]any {
	return map[string]any{
		"plan_name":  strVal(r.PlanName),
		"start_date": strVal(r.StartDate),
		"end_date":   strVal(r.EndDate),
		"status":     strVal(r.Status),
		"frequency":  strVal(r.Frequency),
		"created_at": strVal(r.CreatedAt),
		"updated_at": strVal(r.UpdatedAt),
	}
}

func (r *MealPlanRow) Refs() []EdgeRef {
	var refs []EdgeRef
	if id := strPtrValue(r.HouseholdID); id != "" {
		refs = append(refs, EdgeRef{
			Type:       RelHasMealPlan,
			Field:      "household_id",
			OtherLabel: LabelHousehold,
			OtherID:    id,
			Incoming:   true,
			OtherProps: stubProps(map[string]*string{
				"household_name": r.HouseholdName,
				"household_type": r.HouseholdType,
			}),
		})
	}
	return refs
}

// MealPlanItemRow is a full row image from the meal_plan_items table.
type MealPlanItemRow struct {
	ID                 string   `json:"id" validate:"required"`
	MealPlanID         *string  `json:"meal_plan_id"`
	RecipeID           *string  `json:"recipe_id"`
	ProductID          *string  `json:"product_id"`
	IngredientID       *string  `json:"ingredient_id"`
	RecipeName         *string  `json:"recipe_name"`
	ProductName        *string  `json:"product_name"`
	IngredientName     *string  `json:"ingredient_name"`
	MealDate           *string  `json:"meal_date"`
	MealType           *string  `json:"meal_type"`
	Servings           *float64 `json:"servings"`
	ForMemberIDs       []string `json:"for_member_ids"`
	EstimatedCost      *float64 `json:"estimated_cost"`
	CaloriesPerServing *float64 `json:"calories_per_serving"`
	Status             *string  `json:"status"`
	Rating             *float64 `json:"rating"`
	Notes              *string  `json:"notes"`
	CreatedAt          *string  `json:"created_at"`
	UpdatedAt          *string  `json:"updated_at"`
}

func (r *MealPlanItemRow) NodeID() string   { return r.ID }
func (r *MealPlanItemRow) NodeLabel() Label { return LabelMealPlanItem }

func (r *MealPlanItemRow) Props() map[string]any {
	return map[string]any{
		"meal_date":            strVal(r.MealDate),
		"meal_type":            strVal(r.MealType),
		"servings":             f64Val(r.Servings),
		"for_member_ids":       strSliceVal(r.ForMemberIDs),
		"estimated_cost":       f64Val(r.EstimatedCost),
		"calories_per_serving": f64Val(r.CaloriesPerServing),
		"status":               strVal(r.Status),
		"rating":               f64Val(r.Rating),
		"notes":                strVal(r.Notes),
		"created_at":           strVal(r.CreatedAt),
		"updated_at":           strVal(r.UpdatedAt),
	}
}

func (r *MealPlanItemRow) Refs() []EdgeRef {
	refs := []EdgeRef{{
		Type:       RelHasItem,
		Field:      "meal_plan_id",
		OtherLabel: LabelMealPlan,
		OtherID:    strPtrValue(r.MealPlanID),
		Incoming:   true,
		Required:   true,
	}}
	if id := strPtrValue(r.RecipeID); id != "" {
		refs = append(refs, EdgeRef{
			Type:       RelUsesRecipe,
			Field:      "recipe_id",
			OtherLabel: LabelRecipe,
			OtherID:    id,
			OtherProps: stubProps(map[string]*string{"title": r.RecipeName}),
		})
	}
	if id := strPtrValue(r.ProductID); id != "" {
		refs = append(refs, EdgeRef{
			Type:       RelUsesProduct,
			Field:      "product_id",
			OtherLabel: LabelProduct,
			OtherID:    id,
			OtherProps: stubProps(map[string]*string{"name": r.ProductName}),
		})
	}
	if id := strPtrValue(r.IngredientID); id != "" {
		refs = append(refs, EdgeRef{
			Type:       RelUsesIngredient,
			Field:      "ingredient_id",
			OtherLabel: LabelIngredient,
			OtherID:    id,
			OtherProps: stubProps(map[string]*string{"name": r.IngredientName}),
		})
	}
	return refs
}

// ShoppingListRow is a full row image from the shopping_lists table.
// customer_id/customer_type stay node properties; no customer edge is
// derived because the source schema routes no relationship through them.
type ShoppingListRow struct {
	ID                 string   `json:"id" validate:"required"`
	HouseholdID        *string  `json:"household_id"`
	MealPlanID         *string  `json:"meal_plan_id"`
	VendorID           *string  `json:"vendor_id"`
	ListName           *string  `json:"list_name"`
	TotalEstimatedCost *float64 `json:"total_estimated_cost"`
	Status             *string  `json:"status"`
	CustomerID         *string  `json:"customer_id"`
	CustomerType       *string  `json:"customer_type"`
	HouseholdName      *string  `json:"household_name"`
	HouseholdType      *string  `json:"household_type"`
	VendorName         *string  `json:"vendor_name"`
	CreatedAt          *string  `json:"created_at"`
	UpdatedAt          *string  `json:"updated_at"`
}

func (r *ShoppingListRow) NodeID() string   { return r.ID }
func (r *ShoppingListRow) NodeLabel() Label { return LabelShoppingList }

func (r *ShoppingListRow) Props() map[string]any {
	return map[string]any{
		"list_name":            strVal(r.ListName),
		"total_estimated_cost": f64Val(r.TotalEstimatedCost),
		"status":               strVal(r.Status),
		"customer_id":          strVal(r.CustomerID),
		"customer_type":        strVal(r.CustomerType),
		"created_at":           strVal(r.CreatedAt),
		"updated_at":           strVal(r.UpdatedAt),
	}
}

func (r *ShoppingListRow) Refs() []EdgeRef {
	var refs []EdgeRef
	if id := strPtrValue(r.HouseholdID); id != "" {
		refs = append(refs, EdgeRef{
			Type:       RelHasShoppingList,
			Field:      "household_id",
			OtherLabel: LabelHousehold,
			OtherID:    id,
			Incoming:   true,
			OtherProps: stubProps(map[string]*string{
				"household_name": r.HouseholdName,
				"household_type": r.HouseholdType,
			}),
		})
	}
	if id := strPtrValue(r.MealPlanID); id != "" {
		refs = append(refs, EdgeRef{
			Type:       RelGeneratesList,
			Field:      "meal_plan_id",
			OtherLabel: LabelMealPlan,
			OtherID:    id,
			Incoming:   true,
		})
	}
	if id := strPtrValue(r.VendorID); id != "" {
		refs = append(refs, EdgeRef{
			Type:       RelTargetsVendor,
			Field:      "vendor_id",
			OtherLabel: LabelVendor,
			OtherID:    id,
			OtherProps: stubProps(map[string]*string{"name": r.VendorName}),
		})
	}
	return refs
}

// ShoppingListItemRow is a full row image from the shopping_list_items table.
type ShoppingListItemRow struct {
	ID                   string   `json:"id" validate:"required"`
	ShoppingListID       *string  `json:"shopping_list_id"`
	ProductID            *string  `json:"product_id"`
	IngredientID         *string  `json:"ingredient_id"`
	SubstitutedProductID *string  `json:"substituted_product_id"`
	ProductName          *string  `json:"product_name"`
	IngredientName       *string  `json:"ingredient_name"`
	ItemName             *string  `json:"item_name"`
	Quantity             *float64 `json:"quantity"`
	Unit                 *string  `json:"unit"`
	Category             *string  `json:"category"`
	EstimatedPrice       *float64 `json:"estimated_price"`
	ActualPrice          *float64 `json:"actual_price"`
	IsPurchased          *bool    `json:"is_purchased"`
	Notes                *string  `json:"notes"`
	CreatedAt            *string  `json:"created_at"`
	UpdatedAt            *string  `json:"updated_at"`
}

func (r *ShoppingListItemRow) NodeID() string   { return r.ID }
func (r *ShoppingListItemRow) NodeLabel() Label { return LabelShoppingListItem }

func (r *ShoppingListItemRow) Props() map[string]any {
	return map[string]any{
		"item_name":       strVal(r.ItemName),
		"quantity":        f64Val(r.Quantity),
		"unit":            strVal(r.Unit),
		"category":        strVal(r.Category),
		"estimated_price": f64Val(r.EstimatedPrice),
		"actual_price":    f64Val(r.ActualPrice),
		"is_purchased":    boolVal(r.IsPurchased),
		"notes":           strVal(r.Notes),
		"created_at":      strVal(r.CreatedAt),
		"updated_at":      strVal(r.UpdatedAt),
	}
}

func (r *ShoppingListItemRow) Refs() []EdgeRef {
	refs := []EdgeRef{{
		Type:       RelHasItem,
		Field:      "shopping_list_id",
		OtherLabel: LabelShoppingList,
		OtherID:    strPtrValue(r.ShoppingListID),
		Incoming:   true,
		Required:   true,
	}}
	if id := strPtrValue(r.ProductID); id != "" {
		refs = append(refs, EdgeRef{
			Type:       RelUsesProduct,
			Field:      "product_id",
			OtherLabel: LabelProduct,
			OtherID:    id,
			OtherProps: stubProps(map[string]*string{"name": r.ProductName}),
		})
	}
	if id := strPtrValue(r.IngredientID); id != "" {
		refs = append(refs, EdgeRef{
			Type:       RelUsesIngredient,
			Field:      "ingredient_id",
			OtherLabel: LabelIngredient,
			OtherID:    id,
			OtherProps: stubProps(map[string]*string{"name": r.IngredientName}),
		})
	}
	if id := strPtrValue(r.SubstitutedProductID); id != "" {
		refs = append(refs, EdgeRef{
			Type:       RelSubstituteProduct,
			Field:      "substituted_product_id",
			OtherLabel: LabelProduct,
			OtherID:    id,
		})
	}
	return refs
}

func strVal(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func f64Val(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolVal(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}

func strSliceVal(s []string) any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func strPtrValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// stubProps keeps only the denormalized display fields that are present,
// so a stub upsert never blanks a richer node written by another stream.
func stubProps(fields map[string]*string) map[string]any {
	props := map[string]any{}
	for k, v := range fields {
		if v != nil && *v != "" {
			props[k] = *v
		}
	}
	if len(props) == 0 {
		return nil
	}
	return props
}
