// Package mapper translates change events into graph upsert intents.
// Mapping is pure: no store access, so the same event and prior payload
// always produce the same intent list.
package mapper

import (
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Delete policies. Tombstone keeps the node and marks it deleted; hard
// detaches and removes it.
const (
	PolicyTombstone = "tombstone"
	PolicyHard      = "hard"
)

// Mapper derives graph mutations from typed row images.
type Mapper struct {
	deletePolicy string
	logger       ectologger.Logger
}

// New creates a mapper with the given delete policy.
func New(deletePolicy string, logger ectologger.Logger) *Mapper {
	if deletePolicy != PolicyHard {
		deletePolicy = PolicyTombstone
	}
	return &Mapper{
		deletePolicy: deletePolicy,
		logger:       logger,
	}
}

// Map translates one event plus the row's prior payload snapshot into an
// ordered intent list. Order matters: referenced stub nodes first so edge
// endpoints exist, then the row node, then retracts, then edge upserts,
// so a replaced foreign key never leaves both edges behind.
func (m *Mapper) Map(event *models.ChangeEvent, prevPayload json.RawMessage) ([]models.Intent, error) {
	if event.Operation == models.OpDelete {
		return m.mapDelete(event, prevPayload)
	}
	return m.mapUpsert(event, prevPayload)
}

func (m *Mapper) mapUpsert(event *models.ChangeEvent, prevPayload json.RawMessage) ([]models.Intent, error) {
	row, err := models.ParseRow(event.SourceTable, event.Payload)
	if err != nil {
		return nil, err
	}

	refs := row.Refs()
	for _, ref := range refs {
		if ref.Required && ref.OtherID == "" {
			return nil, &models.UnmappableForeignKeyError{
				Table: event.SourceTable,
				RowID: event.RowID,
				Field: ref.Field,
			}
		}
	}

	var intents []models.Intent

	// Stub upserts for referenced nodes. Props carry only the
	// denormalized display fields so richer nodes are never blanked.
	for _, ref := range refs {
		intents = append(intents, models.NodeUpsert{
			Label: ref.OtherLabel,
			ID:    ref.OtherID,
			Props: ref.OtherProps,
		})
	}

	props := row.Props()
	props["deleted"] = nil
	props["deleted_at"] = nil
	intents = append(intents, models.NodeUpsert{
		Label: row.NodeLabel(),
		ID:    row.NodeID(),
		Props: props,
	})

	for _, ref := range diffRefs(m.prevRefs(event, prevPayload), refs) {
		from, to := endpoints(row, ref)
		intents = append(intents, models.EdgeRetract{
			Type:      ref.Type,
			FromLabel: from.Label,
			FromID:    from.ID,
			ToLabel:   to.Label,
			ToID:      to.ID,
		})
	}

	for _, ref := range refs {
		from, to := endpoints(row, ref)
		intents = append(intents, models.EdgeUpsert{
			Type:      ref.Type,
			FromLabel: from.Label,
			FromID:    from.ID,
			ToLabel:   to.Label,
			ToID:      to.ID,
		})
	}

	return intents, nil
}

func (m *Mapper) mapDelete(event *models.ChangeEvent, prevPayload json.RawMessage) ([]models.Intent, error) {
	label := labelFor(event.SourceTable)

	if m.deletePolicy == PolicyHard {
		// DETACH DELETE removes the edges with the node.
		return []models.Intent{models.NodeDelete{Label: label, ID: event.RowID}}, nil
	}

	intents := []models.Intent{models.NodeUpsert{
		Label: label,
		ID:    event.RowID,
		Props: map[string]any{
			"deleted":    true,
			"deleted_at": event.OccurredAt.UTC().Format(time.RFC3339),
		},
	}}

	// Retract every edge the last known image derived. Without any image
	// the tombstone alone has to do; edges stay until a later change.
	image := event.Payload
	if len(image) == 0 {
		image = prevPayload
	}
	if len(image) > 0 {
		if row, err := models.ParseRow(event.SourceTable, image); err == nil {
			for _, ref := range row.Refs() {
				if ref.OtherID == "" {
					continue
				}
				from, to := endpoints(row, ref)
				intents = append(intents, models.EdgeRetract{
					Type:      ref.Type,
					FromLabel: from.Label,
					FromID:    from.ID,
					ToLabel:   to.Label,
					ToID:      to.ID,
				})
			}
		} else {
			m.logger.WithError(err).WithFields(map[string]any{
				"source_table": string(event.SourceTable),
				"row_id":       event.RowID,
			}).Warn("Unparseable prior image on delete, tombstoning without edge retraction")
		}
	}

	return intents, nil
}

// prevRefs derives the refs of the prior image. An unparseable prior
// image yields none; the apply is still correct for additive changes.
func (m *Mapper) prevRefs(event *models.ChangeEvent, prevPayload json.RawMessage) []models.EdgeRef {
	if len(prevPayload) == 0 {
		return nil
	}
	prevRow, err := models.ParseRow(event.SourceTable, prevPayload)
	if err != nil {
		m.logger.WithError(err).WithFields(map[string]any{
			"source_table": string(event.SourceTable),
			"row_id":       event.RowID,
		}).Warn("Unparseable prior image, skipping edge diff")
		return nil
	}
	return prevRow.Refs()
}

func labelFor(table models.SourceTable) models.Label {
	switch table {
	case models.TableMealPlans:
		return models.LabelMealPlan
	case models.TableMealPlanItems:
		return models.LabelMealPlanItem
	case models.TableShoppingLists:
		return models.LabelShoppingList
	case models.TableShoppingListItems:
		return models.LabelShoppingListItem
	}
	return ""
}
