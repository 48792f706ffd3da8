package history

import (
	"strings"
	"testing"
	"time"

	"webcaf.uk/internal/assessment"
)

func TestRender(t *testing.T) {
	if got := Render("same", "same"); got != "" {
		t.Fatalf("identical inputs produced diff %q", got)
	}
	out := Render("{\n  \"status\": \"draft\"\n}", "{\n  \"status\": \"submitted\"\n}")
	if !strings.Contains(out, `- `) || !strings.Contains(out, `+ `) {
		t.Fatalf("diff missing markers:\n%s", out)
	}
	if !strings.Contains(out, "submitted") {
		t.Fatalf("diff missing new value:\n%s", out)
	}
}

func TestChanges(t *testing.T) {
	base := time.Date(2026, time.January, 10, 9, 0, 0, 0, time.UTC)
	snaps := []assessment.Snapshot{
		{
			ID:         "h-1",
			EntityType: assessment.EntityAssessment,
			EntityID:   "a-1",
			ChangeType: assessment.ChangeCreate,
			RecordedAt: base,
			State:      []byte(`{"id":"a-1","status":"draft"}`),
		},
		{
			ID:         "h-2",
			EntityType: assessment.EntityAssessment,
			EntityID:   "a-1",
			ChangeType: assessment.ChangeUpdate,
			ChangedBy:  "user-7",
			RecordedAt: base.Add(time.Minute),
			State:      []byte(`{"id":"a-1","status":"submitted"}`),
		},
	}
	changes, err := Changes(snaps)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	if changes[0].Diff == "" {
		t.Fatal("first change should diff against nothing, not be empty")
	}
	if !strings.Contains(changes[1].Diff, "submitted") {
		t.Fatalf("second diff missing status change:\n%s", changes[1].Diff)
	}
	if changes[1].ChangedBy != "user-7" {
		t.Fatalf("changed_by = %q", changes[1].ChangedBy)
	}
}

func TestChangesStableUnderKeyOrder(t *testing.T) {
	a := []assessment.Snapshot{{ID: "h-1", State: []byte(`{"b":2,"a":1}`)}}
	b := []assessment.Snapshot{{ID: "h-1", State: []byte(`{"a":1,"b":2}`)}}
	ca, err := Changes(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := Changes(b)
	if err != nil {
		t.Fatal(err)
	}
	if ca[0].Diff != cb[0].Diff {
		t.Fatalf("key order leaked into diff:\n%s\nvs\n%s", ca[0].Diff, cb[0].Diff)
	}
}

func TestChangesRejectsBadState(t *testing.T) {
	if _, err := Changes([]assessment.Snapshot{{ID: "h-1", State: []byte(`{broken`)}}); err == nil {
		t.Fatal("expected error for malformed snapshot state")
	}
}
