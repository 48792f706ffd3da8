package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"webcaf.uk/internal/assessment"
	"webcaf.uk/internal/ids"
)

// Store implements assessment.Service on PostgreSQL. Every mutation runs in
// one transaction together with its history mirror row, so the snapshot and
// the change commit or roll back as a unit.
type Store struct {
	db *sql.DB
}

var _ assessment.Service = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle. Used by tests with sqlmock.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

var historyTables = map[string]string{
	assessment.EntityOrganisation: "historical_organisations",
	assessment.EntitySystem:       "historical_systems",
	assessment.EntityUserProfile:  "historical_user_profiles",
	assessment.EntityAssessment:   "historical_assessments",
}

// mirror appends the history snapshot inside the caller's transaction.
func mirror(ctx context.Context, tx *sql.Tx, entityType, entityID string, change assessment.ChangeType, state any) error {
	table, ok := historyTables[entityType]
	if !ok {
		return fmt.Errorf("pg: no history table for entity %q", entityType)
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		insert into %s(id, entity_id, change_type, changed_by, recorded_at, state)
		values ($1,$2,$3,nullif($4,''),now(),$5)
	`, table), ids.New(), entityID, string(change), assessment.ActorFromContext(ctx), raw)
	return err
}

// History lists snapshots for one entity in recorded order.
func (s *Store) History(ctx context.Context, entityType, entityID string) ([]assessment.Snapshot, error) {
	table, ok := historyTables[entityType]
	if !ok {
		return nil, fmt.Errorf("pg: no history table for entity %q", entityType)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, entity_id, change_type, coalesce(changed_by,''), recorded_at, state
		from %s where entity_id=$1 order by recorded_at asc, id asc
	`, table), entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []assessment.Snapshot
	for rows.Next() {
		snap := assessment.Snapshot{EntityType: entityType}
		var change string
		if err := rows.Scan(&snap.ID, &snap.EntityID, &change, &snap.ChangedBy, &snap.RecordedAt, &snap.State); err != nil {
			return nil, err
		}
		snap.ChangeType = assessment.ChangeType(change)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Configuration ------------------------------------------------------------

func (s *Store) PutConfiguration(ctx context.Context, name string, settings assessment.Settings) (assessment.Configuration, error) {
	if name == "" {
		name = assessment.DefaultConfigName
	}
	if _, err := assessment.ParsePeriodEnd(settings.PeriodEnd); err != nil {
		return assessment.Configuration{}, err
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return assessment.Configuration{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into configurations(name, settings)
		values ($1,$2)
		on conflict (name) do update set settings = excluded.settings, updated_at = now()
		returning name, settings, created_at, updated_at
	`, name, raw)
	return scanConfiguration(row)
}

func (s *Store) ResolveConfiguration(ctx context.Context, name string) (assessment.Configuration, error) {
	if name == "" {
		name = assessment.DefaultConfigName
	}
	cfg, err := s.getConfiguration(ctx, name)
	if err == assessment.ErrConfigurationNotFound && name != assessment.DefaultConfigName {
		return s.getConfiguration(ctx, assessment.DefaultConfigName)
	}
	return cfg, err
}

func (s *Store) getConfiguration(ctx context.Context, name string) (assessment.Configuration, error) {
	row := s.db.QueryRowContext(ctx, `
		select name, settings, created_at, updated_at from configurations where name=$1
	`, name)
	return scanConfiguration(row)
}

func scanConfiguration(row *sql.Row) (assessment.Configuration, error) {
	var cfg assessment.Configuration
	var raw []byte
	if err := row.Scan(&cfg.Name, &raw, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return assessment.Configuration{}, assessment.ErrConfigurationNotFound
		}
		return assessment.Configuration{}, err
	}
	if err := json.Unmarshal(raw, &cfg.Settings); err != nil {
		return assessment.Configuration{}, err
	}
	return cfg, nil
}
