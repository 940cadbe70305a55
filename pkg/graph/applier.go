package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Applier applies one event's intents as a single write transaction.
type Applier struct {
	client *Client
	logger ectologger.Logger
}

// NewApplier creates a new intent applier
func NewApplier(client *Client, logger ectologger.Logger) *Applier {
	return &Applier{
		client: client,
		logger: logger,
	}
}

// statement is one planned Cypher statement with its parameters.
type statement struct {
	cypher string
	params map[string]any
}

// Apply runs every intent in order inside one write transaction, so an
// event's node and edge changes land atomically or not at all.
func (a *Applier) Apply(ctx context.Context, intents []models.Intent) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Applier.Apply")
	defer span.End()

	if len(intents) == 0 {
		return nil
	}

	statements := planIntents(intents)

	_, err := a.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, stmt := range statements {
			result, err := tx.Run(ctx, stmt.cypher, stmt.params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	if err != nil {
		a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"intents": len(intents),
		}).Error("Failed to apply intents to graph")
		return &models.StoreUnavailableError{Store: "graph", Err: err}
	}

	return nil
}

func planIntents(intents []models.Intent) []statement {
	statements := make([]statement, 0, len(intents))
	for _, intent := range intents {
		statements = append(statements, planIntent(intent))
	}
	return statements
}

// planIntent builds the Cypher for one intent. Labels and relationship
// types are interpolated after sanitizing; everything else is a parameter.
func planIntent(intent models.Intent) statement {
	switch it := intent.(type) {
	case models.NodeUpsert:
		props := it.Props
		if props == nil {
			props = map[string]any{}
		}
		// SET += patches: absent keys survive, nil values clear.
		return statement{
			cypher: fmt.Sprintf(`MERGE (n:%s {id: $id}) SET n += $props`, sanitizeLabel(string(it.Label))),
			params: map[string]any{"id": it.ID, "props": props},
		}

	case models.EdgeUpsert:
		return statement{
			cypher: fmt.Sprintf(`MERGE (from:%s {id: $from_id})
MERGE (to:%s {id: $to_id})
MERGE (from)-[:%s]->(to)`,
				sanitizeLabel(string(it.FromLabel)),
				sanitizeLabel(string(it.ToLabel)),
				sanitizeLabel(string(it.Type))),
			params: map[string]any{"from_id": it.FromID, "to_id": it.ToID},
		}

	case models.EdgeRetract:
		// Absent edges match nothing; DELETE on no rows is a no-op.
		return statement{
			cypher: fmt.Sprintf(`MATCH (from:%s {id: $from_id})-[r:%s]->(to:%s {id: $to_id}) DELETE r`,
				sanitizeLabel(string(it.FromLabel)),
				sanitizeLabel(string(it.Type)),
				sanitizeLabel(string(it.ToLabel))),
			params: map[string]any{"from_id": it.FromID, "to_id": it.ToID},
		}

	case models.NodeDelete:
		return statement{
			cypher: fmt.Sprintf(`MATCH (n:%s {id: $id}) DETACH DELETE n`, sanitizeLabel(string(it.Label))),
			params: map[string]any{"id": it.ID},
		}
	}

	return statement{}
}

// sanitizeLabel ensures the label is safe for Cypher
func sanitizeLabel(label string) string {
	// Only allow alphanumeric and underscore
	result := ""
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result += string(c)
		}
	}
	if result == "" {
		return "Entity"
	}
	return result
}
