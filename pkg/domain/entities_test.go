package domain

import (
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var combined Result
	combined.Merge(Result{})
	if combined.HasBlocking() {
		t.Fatalf("empty result must not block")
	}

	combined.Merge(Result{Violations: []Violation{{Rule: "a", Severity: SeverityWarn}}})
	if combined.HasBlocking() {
		t.Fatalf("warnings must not block")
	}

	combined.Merge(Result{Violations: []Violation{{Rule: "b", Severity: SeverityBlock}}})
	if !combined.HasBlocking() {
		t.Fatalf("expected blocking result")
	}
	if len(combined.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(combined.Violations))
	}
}

func TestNotFoundErrorMessage(t *testing.T) {
	err := NotFoundError{Entity: EntityMedication, ID: "m1"}
	if err.Error() != "medication m1 not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestEventAttending(t *testing.T) {
	event := Event{Attendees: []string{"a", "b"}}
	if !event.Attending("a") || event.Attending("c") {
		t.Fatalf("unexpected attendance results")
	}
}
