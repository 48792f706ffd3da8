package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"webcaf.uk/internal/assessment"
	"webcaf.uk/internal/framework"
	"webcaf.uk/internal/ids"
)

const assessmentColumns = `id, reference, system_id, framework, profile, coalesce(review_type,''), period, status, due_date, answers, coalesce(created_by,''), coalesce(updated_by,''), created_at, updated_at`

func (s *Store) CreateAssessment(ctx context.Context, in assessment.NewAssessment) (assessment.Assessment, error) {
	cfg, err := s.ResolveConfiguration(ctx, in.ConfigName)
	if err != nil {
		return assessment.Assessment{}, err
	}
	frameworkID := in.Framework
	if frameworkID == "" {
		frameworkID = cfg.Settings.DefaultFramework
	}
	if frameworkID == "" {
		frameworkID = "caf32"
	}
	profile := in.Profile
	if profile == "" {
		profile = framework.ProfileBaseline
	}
	period := in.Period
	if period == "" {
		period = cfg.Settings.CurrentPeriod
	}
	if period == "" {
		return assessment.Assessment{}, assessment.ErrInvalidInput
	}
	if _, err := framework.Load(frameworkID, profile); err != nil {
		return assessment.Assessment{}, err
	}
	due, err := assessment.ParsePeriodEnd(cfg.Settings.PeriodEnd)
	if err != nil {
		return assessment.Assessment{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return assessment.Assessment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the system row so concurrent creates for the same system
	// serialize, then apply the duplicate policy.
	var dummy int
	if err := tx.QueryRowContext(ctx,
		`select 1 from systems where id=$1 for update`, in.SystemID,
	).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return assessment.Assessment{}, assessment.ErrNotFound
		}
		return assessment.Assessment{}, err
	}
	var duplicate bool
	if err := tx.QueryRowContext(ctx, `
		select exists(
			select 1 from assessments
			where system_id=$1 and period=$2 and framework=$3 and status <> 'cancelled'
		)
	`, in.SystemID, period, frameworkID).Scan(&duplicate); err != nil {
		return assessment.Assessment{}, err
	}
	if duplicate {
		return assessment.Assessment{}, assessment.ErrDuplicateAssessment
	}

	actor := assessment.ActorFromContext(ctx)
	a := assessment.Assessment{
		ID:         ids.New(),
		Reference:  assessment.NewReference("WCAF"),
		SystemID:   in.SystemID,
		Framework:  frameworkID,
		Profile:    profile,
		ReviewType: in.ReviewType,
		Period:     period,
		Status:     assessment.StatusDraft,
		DueDate:    due,
		Answers:    map[string]any{},
		CreatedBy:  actor,
		UpdatedBy:  actor,
	}
	row := tx.QueryRowContext(ctx, `
		insert into assessments(id, reference, system_id, framework, profile, review_type, period, status, due_date, answers, created_by, updated_by)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7,$8,$9,$10,nullif($11,''),nullif($11,''))
		returning created_at, updated_at
	`, a.ID, a.Reference, a.SystemID, a.Framework, string(a.Profile), a.ReviewType, a.Period,
		string(a.Status), a.DueDate, []byte(`{}`), actor)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return assessment.Assessment{}, err
	}
	if err := mirror(ctx, tx, assessment.EntityAssessment, a.ID, assessment.ChangeCreate, a); err != nil {
		return assessment.Assessment{}, err
	}
	if err := tx.Commit(); err != nil {
		return assessment.Assessment{}, err
	}
	return a, nil
}

func (s *Store) GetAssessment(ctx context.Context, id string) (assessment.Assessment, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+assessmentColumns+` from assessments where id=$1`, id)
	return scanAssessment(row.Scan)
}

func (s *Store) ListAssessments(ctx context.Context, systemID string) ([]assessment.Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+assessmentColumns+` from assessments
		where ($1 = '' or system_id = $1) order by created_at asc
	`, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []assessment.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssessment(scan func(...any) error) (assessment.Assessment, error) {
	var a assessment.Assessment
	var profile, status string
	var answers []byte
	err := scan(&a.ID, &a.Reference, &a.SystemID, &a.Framework, &profile, &a.ReviewType,
		&a.Period, &status, &a.DueDate, &answers, &a.CreatedBy, &a.UpdatedBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return assessment.Assessment{}, assessment.ErrNotFound
	}
	if err != nil {
		return assessment.Assessment{}, err
	}
	a.Profile = framework.Profile(profile)
	a.Status = assessment.Status(status)
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return assessment.Assessment{}, err
	}
	return a, nil
}

// SaveAnswers locks the assessment row for the duration of the
// read-validate-merge-write cycle, so concurrent saves serialize at the
// row and cannot drop each other's keys.
func (s *Store) SaveAnswers(ctx context.Context, id string, partial map[string]any) (assessment.Assessment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return assessment.Assessment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAssessment(tx.QueryRowContext(ctx,
		`select `+assessmentColumns+` from assessments where id=$1 for update`, id).Scan)
	if err != nil {
		return assessment.Assessment{}, err
	}
	if a.Status != assessment.StatusDraft {
		return assessment.Assessment{}, assessment.ErrImmutableAssessment
	}
	schema, err := framework.Load(a.Framework, a.Profile)
	if err != nil {
		return assessment.Assessment{}, err
	}
	if err := assessment.ValidatePartial(schema, partial); err != nil {
		return assessment.Assessment{}, err
	}
	merged := assessment.MergeAnswers(a.Answers, partial)
	assessment.ApplyOutcomeStatus(schema, merged)
	raw, err := json.Marshal(merged)
	if err != nil {
		return assessment.Assessment{}, err
	}

	actor := assessment.ActorFromContext(ctx)
	row := tx.QueryRowContext(ctx, `
		update assessments set answers=$2, updated_by=nullif($3,''), updated_at=now()
		where id=$1 returning updated_at
	`, id, raw, actor)
	if err := row.Scan(&a.UpdatedAt); err != nil {
		return assessment.Assessment{}, err
	}
	a.Answers = merged
	a.UpdatedBy = actor
	if err := mirror(ctx, tx, assessment.EntityAssessment, a.ID, assessment.ChangeUpdate, a); err != nil {
		return assessment.Assessment{}, err
	}
	if err := tx.Commit(); err != nil {
		return assessment.Assessment{}, err
	}
	return a, nil
}

func (s *Store) SubmitAssessment(ctx context.Context, id string) (assessment.Assessment, error) {
	return s.transition(ctx, id, assessment.StatusSubmitted)
}

func (s *Store) CompleteAssessment(ctx context.Context, id string) (assessment.Assessment, error) {
	return s.transition(ctx, id, assessment.StatusCompleted)
}

func (s *Store) CancelAssessment(ctx context.Context, id string) (assessment.Assessment, error) {
	return s.transition(ctx, id, assessment.StatusCancelled)
}

func (s *Store) transition(ctx context.Context, id string, to assessment.Status) (assessment.Assessment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return assessment.Assessment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAssessment(tx.QueryRowContext(ctx,
		`select `+assessmentColumns+` from assessments where id=$1 for update`, id).Scan)
	if err != nil {
		return assessment.Assessment{}, err
	}
	if a.Status.Terminal() {
		return assessment.Assessment{}, assessment.ErrImmutableAssessment
	}
	switch to {
	case assessment.StatusSubmitted:
		if a.Status != assessment.StatusDraft {
			return assessment.Assessment{}, assessment.ErrInvalidTransition
		}
		schema, err := framework.Load(a.Framework, a.Profile)
		if err != nil {
			return assessment.Assessment{}, err
		}
		if !schema.Complete(a.Answers) {
			return assessment.Assessment{}, assessment.ErrIncompleteAssessment
		}
	case assessment.StatusCompleted:
		if a.Status != assessment.StatusSubmitted {
			return assessment.Assessment{}, assessment.ErrInvalidTransition
		}
	case assessment.StatusCancelled:
		// any non-terminal state may cancel
	default:
		return assessment.Assessment{}, assessment.ErrInvalidTransition
	}

	actor := assessment.ActorFromContext(ctx)
	row := tx.QueryRowContext(ctx, `
		update assessments set status=$2, updated_by=nullif($3,''), updated_at=now()
		where id=$1 returning updated_at
	`, id, string(to), actor)
	if err := row.Scan(&a.UpdatedAt); err != nil {
		return assessment.Assessment{}, err
	}
	a.Status = to
	a.UpdatedBy = actor
	if err := mirror(ctx, tx, assessment.EntityAssessment, a.ID, assessment.ChangeUpdate, a); err != nil {
		return assessment.Assessment{}, err
	}

	if to == assessment.StatusCompleted {
		sys, err := scanSystem(tx.QueryRowContext(ctx,
			`select `+systemColumns+` from systems where id=$1 for update`, a.SystemID).Scan)
		if err == nil {
			row := tx.QueryRowContext(ctx, `
				update systems set last_assessed_at=now(), updated_at=now()
				where id=$1 returning last_assessed_at, updated_at
			`, sys.ID)
			if err := row.Scan(&sys.LastAssessedAt, &sys.UpdatedAt); err != nil {
				return assessment.Assessment{}, err
			}
			if err := mirror(ctx, tx, assessment.EntitySystem, sys.ID, assessment.ChangeUpdate, sys); err != nil {
				return assessment.Assessment{}, err
			}
		} else if !errors.Is(err, assessment.ErrNotFound) {
			return assessment.Assessment{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return assessment.Assessment{}, err
	}
	return a, nil
}
