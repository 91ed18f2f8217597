package concerns

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/studentlink/realtime/internal/metrics"
)

func strptr(s string) *string { return &s }

func TestApplyUpdated_MergesInPlace(t *testing.T) {
	list := []Concern{
		{ID: 3, Subject: "wifi down", Status: StatusPending},
		{ID: 1, Subject: "grade dispute", Status: StatusPending},
	}

	out := Apply(list, Updated{Patch: Patch{ID: 1, Status: strptr(StatusResolved)}})

	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	if out[1].ID != 1 || out[1].Status != StatusResolved {
		t.Errorf("record 1 should be resolved in place, got %+v", out[1])
	}
	if out[1].Subject != "grade dispute" {
		t.Errorf("fields absent from the patch must survive, got %q", out[1].Subject)
	}
	if out[0].ID != 3 || out[0].Status != StatusPending {
		t.Errorf("untouched record changed: %+v", out[0])
	}
	// Original snapshot untouched.
	if list[1].Status != StatusPending {
		t.Errorf("input slice was mutated: %+v", list[1])
	}
}

func TestApplyUpdated_UnknownIDIsImplicitCreate(t *testing.T) {
	list := []Concern{{ID: 1, Status: StatusPending}}

	out := Apply(list, Updated{Patch: Patch{ID: 2, Subject: strptr("lab access")}})

	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	if out[0].ID != 2 || out[0].Subject != "lab access" {
		t.Errorf("unknown update should be prepended, got %+v", out[0])
	}
	if out[1].ID != 1 {
		t.Errorf("existing record should follow, got %+v", out[1])
	}
}

func TestApplyCreated_PrependsNewestFirst(t *testing.T) {
	list := []Concern{{ID: 1}}

	out := Apply(list, Created{Concern: Concern{ID: 2, Subject: "dorm repair"}})

	if len(out) != 2 || out[0].ID != 2 || out[1].ID != 1 {
		t.Errorf("created record should be first, got %+v", out)
	}
}

func TestApplyCreated_DuplicateIDMergesInstead(t *testing.T) {
	list := []Concern{
		{ID: 2, Subject: "old subject", Status: StatusPending},
		{ID: 1},
	}

	out := Apply(list, Created{Concern: Concern{ID: 2, Subject: "new subject", Status: StatusPending}})

	if len(out) != 2 {
		t.Fatalf("duplicate create must not grow the collection, got %d records", len(out))
	}
	if out[0].ID != 2 || out[0].Subject != "new subject" {
		t.Errorf("duplicate create should replace in place, got %+v", out[0])
	}

	ids := map[int64]int{}
	for _, c := range out {
		ids[c.ID]++
	}
	for id, n := range ids {
		if n > 1 {
			t.Errorf("id %d appears %d times", id, n)
		}
	}
}

func TestApplyDeleted(t *testing.T) {
	list := []Concern{{ID: 1}, {ID: 2}}

	out := Apply(list, Deleted{ID: 2})
	if len(out) != 1 || out[0].ID != 1 {
		t.Errorf("expected [{1}], got %+v", out)
	}

	unchanged := Apply(out, Deleted{ID: 99})
	if len(unchanged) != 1 || unchanged[0].ID != 1 {
		t.Errorf("deleting an absent id should change nothing, got %+v", unchanged)
	}
}

func TestApplyMalformedEventIgnored(t *testing.T) {
	list := []Concern{{ID: 1, Status: StatusPending}}

	for _, ev := range []Event{
		Created{},
		Updated{},
		Deleted{},
	} {
		out := Apply(list, ev)
		if len(out) != 1 || out[0].ID != 1 || out[0].Status != StatusPending {
			t.Errorf("malformed %T should leave the collection unchanged, got %+v", ev, out)
		}
	}
}

func TestApplyRecordsReconcileMetrics(t *testing.T) {
	reconcileOps := func(op string) float64 {
		return testutil.ToFloat64(metrics.ReconcileOpsTotal.WithLabelValues(op))
	}
	list := []Concern{{ID: 1}}

	for _, tc := range []struct {
		op string
		ev Event
	}{
		{"created", Created{Concern: Concern{ID: 2}}},
		{"updated", Updated{Patch: Patch{ID: 1, Status: strptr(StatusResolved)}}},
		{"deleted", Deleted{ID: 1}},
		{"ignored", Deleted{}},
	} {
		before := reconcileOps(tc.op)
		Apply(list, tc.ev)
		if got := reconcileOps(tc.op) - before; got != 1 {
			t.Errorf("op %q counted %v times, want 1", tc.op, got)
		}
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"event":"concern.created","concern":{"id":5,"subject":"id card","status":"pending"}}`))
	if err != nil {
		t.Fatalf("decode created: %v", err)
	}
	created, ok := ev.(Created)
	if !ok {
		t.Fatalf("expected Created, got %T", ev)
	}
	if created.Concern.ID != 5 || created.Concern.Subject != "id card" {
		t.Errorf("unexpected record: %+v", created.Concern)
	}

	ev, err = DecodeEvent([]byte(`{"event":"concern.updated","concern":{"id":5,"status":"resolved"}}`))
	if err != nil {
		t.Fatalf("decode updated: %v", err)
	}
	updated := ev.(Updated)
	if updated.Patch.ID != 5 || updated.Patch.Status == nil || *updated.Patch.Status != StatusResolved {
		t.Errorf("unexpected patch: %+v", updated.Patch)
	}
	if updated.Patch.Subject != nil {
		t.Error("absent fields must decode as nil pointers")
	}

	ev, err = DecodeEvent([]byte(`{"event":"concern.deleted","id":9}`))
	if err != nil {
		t.Fatalf("decode deleted: %v", err)
	}
	if deleted := ev.(Deleted); deleted.ID != 9 {
		t.Errorf("unexpected id: %d", deleted.ID)
	}
}

func TestDecodeEventRejectsMalformed(t *testing.T) {
	if _, err := DecodeEvent([]byte(`not json`)); err == nil {
		t.Error("expected error for non-JSON payload")
	}
	if _, err := DecodeEvent([]byte(`{"event":"concern.exploded","id":1}`)); err == nil {
		t.Error("expected error for unknown event name")
	}
}
