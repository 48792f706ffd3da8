package pg

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"webcaf.uk/internal/assessment"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateOrganisationMirrorsInSameTx(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("select exists").
		WithArgs("Example Council").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("insert into organisations").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("insert into historical_organisations").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	org := assessment.Organisation{Name: "Example Council"}
	if err := s.CreateOrganisation(context.Background(), &org); err != nil {
		t.Fatalf("CreateOrganisation: %v", err)
	}
	if org.ID == "" || org.Reference == "" {
		t.Fatalf("identifiers not generated: %+v", org)
	}
	expectationsMet(t, mock)
}

func TestCreateOrganisationDuplicateNameRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select exists").
		WithArgs("Example Council").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	org := assessment.Organisation{Name: "Example Council"}
	if err := s.CreateOrganisation(context.Background(), &org); !errors.Is(err, assessment.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestGetOrganisationNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select id, reference, name").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.GetOrganisation(context.Background(), "missing"); !errors.Is(err, assessment.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestResolveConfigurationFallsBackToDefault(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	raw, _ := json.Marshal(assessment.Settings{
		DefaultFramework: "caf32",
		CurrentPeriod:    "25-26",
		PeriodEnd:        "31 March 2026 11:59pm",
	})

	mock.ExpectQuery("select name, settings, created_at, updated_at from configurations").
		WithArgs("period-26-27").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectQuery("select name, settings, created_at, updated_at from configurations").
		WithArgs(assessment.DefaultConfigName).
		WillReturnRows(sqlmock.NewRows([]string{"name", "settings", "created_at", "updated_at"}).
			AddRow(assessment.DefaultConfigName, raw, now, now))

	cfg, err := s.ResolveConfiguration(context.Background(), "period-26-27")
	if err != nil {
		t.Fatalf("ResolveConfiguration: %v", err)
	}
	if cfg.Name != assessment.DefaultConfigName || cfg.Settings.DefaultFramework != "caf32" {
		t.Fatalf("configuration = %+v", cfg)
	}
	expectationsMet(t, mock)
}

func TestPutConfigurationRejectsMalformedDate(t *testing.T) {
	s, mock := newMockStore(t)

	_, err := s.PutConfiguration(context.Background(), "default", assessment.Settings{
		DefaultFramework: "caf32",
		CurrentPeriod:    "25-26",
		PeriodEnd:        "not a date",
	})
	if !errors.Is(err, assessment.ErrMalformedDate) {
		t.Fatalf("expected ErrMalformedDate, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestHistoryScansSnapshots(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("from historical_assessments").
		WithArgs("a-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "entity_id", "change_type", "changed_by", "recorded_at", "state"}).
			AddRow("h-1", "a-1", "create", "", now, []byte(`{"id":"a-1"}`)).
			AddRow("h-2", "a-1", "change", "user-7", now.Add(time.Second), []byte(`{"id":"a-1","status":"draft"}`)))

	snaps, err := s.History(context.Background(), assessment.EntityAssessment, "a-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	if snaps[0].ChangeType != assessment.ChangeCreate || snaps[1].ChangedBy != "user-7" {
		t.Fatalf("snapshots = %+v", snaps)
	}
	if snaps[1].EntityType != assessment.EntityAssessment {
		t.Fatalf("entity type = %q", snaps[1].EntityType)
	}
	expectationsMet(t, mock)
}

func TestHistoryUnknownEntity(t *testing.T) {
	s, mock := newMockStore(t)
	if _, err := s.History(context.Background(), "widget", "x"); err == nil {
		t.Fatal("expected error for unknown entity type")
	}
	expectationsMet(t, mock)
}
