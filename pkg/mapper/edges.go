package mapper

import (
	"github.com/Ramsey-B/fern/pkg/models"
)

type endpoint struct {
	Label models.Label
	ID    string
}

// endpoints resolves the directed endpoints of a ref. Incoming refs hang
// off the owning node; outgoing refs start at the row's node.
func endpoints(row models.Row, ref models.EdgeRef) (from endpoint, to endpoint) {
	self := endpoint{Label: row.NodeLabel(), ID: row.NodeID()}
	other := endpoint{Label: ref.OtherLabel, ID: ref.OtherID}
	if ref.Incoming {
		return other, self
	}
	return self, other
}

type refKey struct {
	Type       models.RelType
	OtherLabel models.Label
	OtherID    string
	Incoming   bool
}

// diffRefs returns the refs present in prev but absent from next, i.e.
// the edges the change replaced or dropped.
func diffRefs(prev []models.EdgeRef, next []models.EdgeRef) []models.EdgeRef {
	if len(prev) == 0 {
		return nil
	}

	keep := make(map[refKey]struct{}, len(next))
	for _, ref := range next {
		keep[keyOf(ref)] = struct{}{}
	}

	var dropped []models.EdgeRef
	for _, ref := range prev {
		if ref.OtherID == "" {
			continue
		}
		if _, ok := keep[keyOf(ref)]; !ok {
			dropped = append(dropped, ref)
		}
	}
	return dropped
}

func keyOf(ref models.EdgeRef) refKey {
	return refKey{
		Type:       ref.Type,
		OtherLabel: ref.OtherLabel,
		OtherID:    ref.OtherID,
		Incoming:   ref.Incoming,
	}
}
