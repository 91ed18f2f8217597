package audit

import (
	"context"
	"strings"
	"testing"
)

// Validation happens before the database is touched, so these tests run
// against a nil handle.

func TestRecordRejectsUnknownEvent(t *testing.T) {
	store := NewStore(nil)
	err := store.Record(context.Background(), &Entry{ConcernID: 1, Event: "escalated"})
	if err == nil {
		t.Fatal("expected error for unknown event")
	}
	if !strings.Contains(err.Error(), "invalid event") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRecordRejectsMissingConcernID(t *testing.T) {
	store := NewStore(nil)
	err := store.Record(context.Background(), &Entry{Event: "created"})
	if err == nil {
		t.Fatal("expected error for missing concern id")
	}
	if !strings.Contains(err.Error(), "missing concern id") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRecordRejectsUnmarshalableDetail(t *testing.T) {
	store := NewStore(nil)
	err := store.Record(context.Background(), &Entry{
		ConcernID: 1,
		Event:     "updated",
		Detail:    make(chan int), // not JSON-marshalable
	})
	if err == nil {
		t.Fatal("expected error for unmarshalable detail")
	}
	if !strings.Contains(err.Error(), "marshal detail") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidEventsCoverWireEvents(t *testing.T) {
	// Every lifecycle verb the relay records must be in the allowed set.
	for _, ev := range []string{"created", "updated", "deleted", "assigned", "status_changed"} {
		if !validEvents[ev] {
			t.Errorf("event %q missing from validEvents", ev)
		}
	}
}
