package concerns

import (
	"log"

	"github.com/studentlink/realtime/internal/metrics"
)

// Apply merges one event into the collection and returns a fresh snapshot.
// The input slice is never mutated, so callers can compare snapshots by
// identity to drive exact re-render triggers.
//
// Policy, applied uniformly regardless of which transport delivered the
// event:
//
//   - Updated: patch-merge by ID in place (position unchanged). An unknown
//     ID is an implicit creation and is prepended, never dropped.
//   - Created: prepend (newest first). An ID already present is patch-merged
//     in place instead of duplicated, so the collection never holds two
//     records with the same ID.
//   - Deleted: remove by ID; no-op if absent.
//
// Malformed events (zero ID) are ignored with a logged warning. Apply never
// panics to its caller.
func Apply(list []Concern, ev Event) []Concern {
	switch e := ev.(type) {
	case Created:
		if e.Concern.ID == 0 {
			log.Printf("[concerns] ignoring created event without id")
			metrics.ReconcileOpsTotal.WithLabelValues("ignored").Inc()
			return snapshot(list)
		}
		metrics.ReconcileOpsTotal.WithLabelValues("created").Inc()
		return upsert(list, e.Concern)
	case Updated:
		if e.Patch.ID == 0 {
			log.Printf("[concerns] ignoring updated event without id")
			metrics.ReconcileOpsTotal.WithLabelValues("ignored").Inc()
			return snapshot(list)
		}
		metrics.ReconcileOpsTotal.WithLabelValues("updated").Inc()
		return merge(list, e.Patch)
	case Deleted:
		if e.ID == 0 {
			log.Printf("[concerns] ignoring deleted event without id")
			metrics.ReconcileOpsTotal.WithLabelValues("ignored").Inc()
			return snapshot(list)
		}
		metrics.ReconcileOpsTotal.WithLabelValues("deleted").Inc()
		return remove(list, e.ID)
	default:
		log.Printf("[concerns] ignoring unknown event %T", ev)
		metrics.ReconcileOpsTotal.WithLabelValues("ignored").Inc()
		return snapshot(list)
	}
}

// merge patch-merges by ID in place, or prepends a materialized record when
// the ID is unknown.
func merge(list []Concern, p Patch) []Concern {
	for i, c := range list {
		if c.ID == p.ID {
			out := snapshot(list)
			out[i] = p.ApplyTo(c)
			return out
		}
	}
	return prepend(list, p.Materialize())
}

// upsert prepends a new record, or merges the full record over an existing
// one in place when the ID is already present.
func upsert(list []Concern, rec Concern) []Concern {
	for i, c := range list {
		if c.ID == rec.ID {
			out := snapshot(list)
			out[i] = rec
			return out
		}
	}
	return prepend(list, rec)
}

func remove(list []Concern, id int64) []Concern {
	out := make([]Concern, 0, len(list))
	for _, c := range list {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func prepend(list []Concern, rec Concern) []Concern {
	out := make([]Concern, 0, len(list)+1)
	out = append(out, rec)
	return append(out, list...)
}

func snapshot(list []Concern) []Concern {
	out := make([]Concern, len(list))
	copy(out, list)
	return out
}
