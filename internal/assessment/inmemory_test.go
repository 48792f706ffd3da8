package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"webcaf.uk/internal/framework"
)

func seedStore(t *testing.T) (*InMemory, Organisation, System) {
	t.Helper()
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.PutConfiguration(ctx, DefaultConfigName, Settings{
		DefaultFramework: "caf32",
		CurrentPeriod:    "25-26",
		PeriodEnd:        "31 March 2026 11:59pm",
	}); err != nil {
		t.Fatal(err)
	}
	org := Organisation{Name: "Example Council"}
	if err := s.CreateOrganisation(ctx, &org); err != nil {
		t.Fatal(err)
	}
	sys := System{OrganisationID: org.ID, Name: "Finance Portal"}
	if err := s.CreateSystem(ctx, &sys); err != nil {
		t.Fatal(err)
	}
	return s, org, sys
}

func confirmAll(t *testing.T, s *InMemory, id string) {
	t.Helper()
	ctx := context.Background()
	a, err := s.GetAssessment(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	schema, err := framework.Load(a.Framework, a.Profile)
	if err != nil {
		t.Fatal(err)
	}
	partial := map[string]any{}
	for _, out := range schema.Outcomes() {
		partial[out.Code] = map[string]any{
			"confirmation": map[string]any{"confirm_outcome": framework.Confirm},
		}
	}
	if _, err := s.SaveAnswers(ctx, id, partial); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAssessmentDefaults(t *testing.T) {
	s, _, sys := seedStore(t)
	ctx := context.Background()

	a, err := s.CreateAssessment(ctx, NewAssessment{SystemID: sys.ID})
	if err != nil {
		t.Fatal(err)
	}
	if a.Framework != "caf32" || a.Profile != framework.ProfileBaseline || a.Period != "25-26" {
		t.Fatalf("defaults not resolved: %+v", a)
	}
	if a.Status != StatusDraft {
		t.Fatalf("status = %s, want draft", a.Status)
	}
	if a.DueDate.Year() != 2026 {
		t.Fatalf("due date not derived from configuration: %v", a.DueDate)
	}
	if a.Reference == "" {
		t.Fatal("reference not generated")
	}
}

func TestCreateAssessmentUnknownSystem(t *testing.T) {
	s, _, _ := seedStore(t)
	if _, err := s.CreateAssessment(context.Background(), NewAssessment{SystemID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateAssessmentBlocked(t *testing.T) {
	s, _, sys := seedStore(t)
	ctx := context.Background()

	first, err := s.CreateAssessment(ctx, NewAssessment{SystemID: sys.ID})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateAssessment(ctx, NewAssessment{SystemID: sys.ID}); !errors.Is(err, ErrDuplicateAssessment) {
		t.Fatalf("expected ErrDuplicateAssessment, got %v", err)
	}
	// A different framework in the same period is a separate record.
	if _, err := s.CreateAssessment(ctx, NewAssessment{SystemID: sys.ID, Framework: "caf40"}); err != nil {
		t.Fatalf("different framework blocked: %v", err)
	}
	// Cancelling frees the slot.
	if _, err := s.CancelAssessment(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateAssessment(ctx, NewAssessment{SystemID: sys.ID}); err != nil {
		t.Fatalf("cancelled assessment still blocks: %v", err)
	}
}

func TestSubmitRequiresCompletion(t *testing.T) {
	s, _, sys := seedStore(t)
	ctx := context.Background()

	a, err := s.CreateAssessment(ctx, NewAssessment{SystemID: sys.ID})
	if err != nil {
		t.Fatal(err)
	}
	partial := map[string]any{
		"A1.a": map[string]any{
			"indicators":   map[string]any{"achieved_A1a_01": true},
			"confirmation": map[string]any{"confirm_outcome": framework.Confirm},
		},
	}
	if _, err := s.SaveAnswers(ctx, a.ID, partial); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SubmitAssessment(ctx, a.ID); !errors.Is(err, ErrIncompleteAssessment) {
		t.Fatalf("expected ErrIncompleteAssessment, got %v", err)
	}

	confirmAll(t, s, a.ID)
	got, err := s.SubmitAssessment(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusSubmitted {
		t.Fatalf("status = %s, want submitted", got.Status)
	}
}

func TestStateMachine(t *testing.T) {
	s, _, sys := seedStore(t)
	ctx := context.Background()

	a, err := s.CreateAssessment(ctx, NewAssessment{SystemID: sys.ID})
	if err != nil {
		t.Fatal(err)
	}
	// draft cannot complete directly
	if _, err := s.CompleteAssessment(ctx, a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	confirmAll(t, s, a.ID)
	if _, err := s.SubmitAssessment(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	// submitted cannot submit again
	if _, err := s.SubmitAssessment(ctx, a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	// submitted drafts are read-only
	if _, err := s.SaveAnswers(ctx, a.ID, map[string]any{}); !errors.Is(err, ErrImmutableAssessment) {
		t.Fatalf("expected ErrImmutableAssessment, got %v", err)
	}
	if _, err := s.CompleteAssessment(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	// terminal records reject every transition
	for _, try := range []func() error{
		func() error { _, err := s.SubmitAssessment(ctx, a.ID); return err },
		func() error { _, err := s.CompleteAssessment(ctx, a.ID); return err },
		func() error { _, err := s.CancelAssessment(ctx, a.ID); return err },
		func() error { _, err := s.SaveAnswers(ctx, a.ID, map[string]any{}); return err },
	} {
		if err := try(); !errors.Is(err, ErrImmutableAssessment) {
			t.Fatalf("expected ErrImmutableAssessment, got %v", err)
		}
	}

	sysAfter, err := s.GetSystem(ctx, sys.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sysAfter.LastAssessedAt == nil {
		t.Fatal("completion did not stamp system.last_assessed_at")
	}
}

func TestHistoryMirroring(t *testing.T) {
	s, _, sys := seedStore(t)
	ctx := WithActor(context.Background(), "user-42")

	a, err := s.CreateAssessment(ctx, NewAssessment{SystemID: sys.ID})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveAnswers(ctx, a.ID, map[string]any{
		"A1.a": map[string]any{"confirmation": map[string]any{"confirm_outcome": framework.Confirm}},
	}); err != nil {
		t.Fatal(err)
	}

	snaps, err := s.History(ctx, EntityAssessment, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	if snaps[0].ChangeType != ChangeCreate || snaps[1].ChangeType != ChangeUpdate {
		t.Fatalf("change types = %s, %s", snaps[0].ChangeType, snaps[1].ChangeType)
	}
	if snaps[1].ChangedBy != "user-42" {
		t.Fatalf("changed_by = %q", snaps[1].ChangedBy)
	}
	if !snaps[1].RecordedAt.After(snaps[0].RecordedAt) {
		t.Fatal("timestamps not strictly increasing")
	}
	var state Assessment
	if err := json.Unmarshal(snaps[1].State, &state); err != nil {
		t.Fatal(err)
	}
	if _, ok := state.Answers["A1.a"]; !ok {
		t.Fatal("snapshot state missing saved answers")
	}
}

func TestHistoryTimestampsMonotonicWithFrozenClock(t *testing.T) {
	s, _, sys := seedStore(t)
	ctx := context.Background()

	frozen := time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return frozen })

	a, err := s.CreateAssessment(ctx, NewAssessment{SystemID: sys.ID})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.SaveAnswers(ctx, a.ID, map[string]any{
			"A1.a": map[string]any{"confirmation": map[string]any{"confirm_outcome": framework.Confirm}},
		}); err != nil {
			t.Fatal(err)
		}
	}
	snaps, _ := s.History(ctx, EntityAssessment, a.ID)
	for i := 1; i < len(snaps); i++ {
		if !snaps[i].RecordedAt.After(snaps[i-1].RecordedAt) {
			t.Fatalf("snapshot %d not after %d", i, i-1)
		}
	}
}

func TestDeleteBlocking(t *testing.T) {
	s, org, sys := seedStore(t)
	ctx := context.Background()

	if err := s.DeleteOrganisation(ctx, org.ID); !errors.Is(err, ErrEntityCascade) {
		t.Fatalf("expected ErrEntityCascade, got %v", err)
	}
	a, err := s.CreateAssessment(ctx, NewAssessment{SystemID: sys.ID})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSystem(ctx, sys.ID); !errors.Is(err, ErrEntityCascade) {
		t.Fatalf("expected ErrEntityCascade, got %v", err)
	}
	_ = a
}

func TestResolveConfigurationFallback(t *testing.T) {
	s, _, _ := seedStore(t)
	ctx := context.Background()

	cfg, err := s.ResolveConfiguration(ctx, "period-26-27")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != DefaultConfigName {
		t.Fatalf("fallback returned %q", cfg.Name)
	}

	if _, err := s.PutConfiguration(ctx, "period-26-27", Settings{
		DefaultFramework: "caf40",
		CurrentPeriod:    "26-27",
		PeriodEnd:        "31 March 2027 11:59pm",
	}); err != nil {
		t.Fatal(err)
	}
	cfg, err = s.ResolveConfiguration(ctx, "period-26-27")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Settings.DefaultFramework != "caf40" {
		t.Fatalf("override not returned: %+v", cfg)
	}
}

func TestPutConfigurationRejectsBadDate(t *testing.T) {
	s := NewInMemory()
	_, err := s.PutConfiguration(context.Background(), DefaultConfigName, Settings{
		DefaultFramework: "caf32",
		CurrentPeriod:    "25-26",
		PeriodEnd:        "sometime in march",
	})
	if !errors.Is(err, ErrMalformedDate) {
		t.Fatalf("expected ErrMalformedDate, got %v", err)
	}
}

func TestConcurrentSavesSerialize(t *testing.T) {
	s, _, sys := seedStore(t)
	ctx := context.Background()

	a, err := s.CreateAssessment(ctx, NewAssessment{SystemID: sys.ID})
	if err != nil {
		t.Fatal(err)
	}
	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			field := fmt.Sprintf("achieved_A1a_%02d", n%4+1)
			partial := map[string]any{
				"A1.a": map[string]any{"indicators": map[string]any{field: true}},
			}
			if _, err := s.SaveAnswers(ctx, a.ID, partial); err != nil {
				t.Error(err)
			}
		}(w)
	}
	wg.Wait()

	got, err := s.GetAssessment(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	ind := got.Answers["A1.a"].(map[string]any)["indicators"].(map[string]any)
	for i := 1; i <= 4; i++ {
		field := fmt.Sprintf("achieved_A1a_%02d", i)
		if ind[field] != true {
			t.Fatalf("lost update: %s missing", field)
		}
	}
}

func TestSectionsAssessmentLifecycle(t *testing.T) {
	s, _, sys := seedStore(t)
	ctx := context.Background()

	a, err := s.CreateAssessment(ctx, NewAssessment{SystemID: sys.ID, Framework: "cyber_essentials"})
	if err != nil {
		t.Fatal(err)
	}
	schema, err := framework.Load("cyber_essentials", framework.ProfileBaseline)
	if err != nil {
		t.Fatal(err)
	}
	root := map[string]any{}
	for _, sec := range schema.Sections() {
		root[sec.Key] = map[string]any{
			"q1":           "yes",
			"confirmation": map[string]any{"confirm_outcome": framework.Confirm},
		}
	}
	if _, err := s.SaveAnswers(ctx, a.ID, map[string]any{framework.SectionsRoot: root}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SubmitAssessment(ctx, a.ID); err != nil {
		t.Fatalf("complete sections submission failed: %v", err)
	}
}
