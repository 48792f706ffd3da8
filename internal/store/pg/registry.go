package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"webcaf.uk/internal/assessment"
	"webcaf.uk/internal/ids"
)

// Organisations ------------------------------------------------------------

func (s *Store) CreateOrganisation(ctx context.Context, org *assessment.Organisation) error {
	if org == nil || strings.TrimSpace(org.Name) == "" {
		return assessment.ErrInvalidInput
	}
	if org.ID == "" {
		org.ID = ids.New()
	}
	if org.Reference == "" {
		org.Reference = assessment.NewReference("ORG")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from organisations where lower(name)=lower($1))`, org.Name,
	).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return assessment.ErrInvalidInput
	}

	row := tx.QueryRowContext(ctx, `
		insert into organisations(id, reference, name, type, lead_department, contact_email, parent_id)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''))
		returning created_at, updated_at
	`, org.ID, org.Reference, org.Name, org.Type, org.LeadDepartment, org.ContactEmail, org.ParentID)
	if err := row.Scan(&org.CreatedAt, &org.UpdatedAt); err != nil {
		return err
	}
	if err := mirror(ctx, tx, assessment.EntityOrganisation, org.ID, assessment.ChangeCreate, org); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetOrganisation(ctx context.Context, id string) (assessment.Organisation, error) {
	return scanOrganisation(s.db.QueryRowContext(ctx, `
		select id, reference, name, type, lead_department, contact_email, coalesce(parent_id,''), created_at, updated_at
		from organisations where id=$1
	`, id))
}

func (s *Store) FindOrganisationByName(ctx context.Context, name string) (assessment.Organisation, error) {
	return scanOrganisation(s.db.QueryRowContext(ctx, `
		select id, reference, name, type, lead_department, contact_email, coalesce(parent_id,''), created_at, updated_at
		from organisations where lower(name)=lower($1)
	`, name))
}

func scanOrganisation(row *sql.Row) (assessment.Organisation, error) {
	var org assessment.Organisation
	err := row.Scan(&org.ID, &org.Reference, &org.Name, &org.Type, &org.LeadDepartment,
		&org.ContactEmail, &org.ParentID, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return assessment.Organisation{}, assessment.ErrNotFound
	}
	if err != nil {
		return assessment.Organisation{}, err
	}
	return org, nil
}

func (s *Store) ListOrganisations(ctx context.Context) ([]assessment.Organisation, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, reference, name, type, lead_department, contact_email, coalesce(parent_id,''), created_at, updated_at
		from organisations order by name asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []assessment.Organisation
	for rows.Next() {
		var org assessment.Organisation
		if err := rows.Scan(&org.ID, &org.Reference, &org.Name, &org.Type, &org.LeadDepartment,
			&org.ContactEmail, &org.ParentID, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (s *Store) UpdateOrganisation(ctx context.Context, org *assessment.Organisation) error {
	if org == nil || org.ID == "" {
		return assessment.ErrInvalidInput
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		update organisations
		set name=$2, type=$3, lead_department=$4, contact_email=$5, parent_id=nullif($6,''),
		    reference=case when $7='' then reference else $7 end, updated_at=now()
		where id=$1
		returning reference, created_at, updated_at
	`, org.ID, org.Name, org.Type, org.LeadDepartment, org.ContactEmail, org.ParentID, org.Reference)
	if err := row.Scan(&org.Reference, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return assessment.ErrNotFound
		}
		return err
	}
	if err := mirror(ctx, tx, assessment.EntityOrganisation, org.ID, assessment.ChangeUpdate, org); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteOrganisation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	org, err := scanOrganisation(tx.QueryRowContext(ctx, `
		select id, reference, name, type, lead_department, contact_email, coalesce(parent_id,''), created_at, updated_at
		from organisations where id=$1 for update
	`, id))
	if err != nil {
		return err
	}

	var dependents bool
	if err := tx.QueryRowContext(ctx, `
		select exists(select 1 from systems where organisation_id=$1)
		    or exists(select 1 from user_profiles where organisation_id=$1)
	`, id).Scan(&dependents); err != nil {
		return err
	}
	if dependents {
		return assessment.ErrEntityCascade
	}

	if _, err := tx.ExecContext(ctx, `delete from organisations where id=$1`, id); err != nil {
		return err
	}
	if err := mirror(ctx, tx, assessment.EntityOrganisation, id, assessment.ChangeDelete, org); err != nil {
		return err
	}
	return tx.Commit()
}

// Systems ------------------------------------------------------------------

func (s *Store) CreateSystem(ctx context.Context, sys *assessment.System) error {
	if sys == nil || strings.TrimSpace(sys.Name) == "" || sys.OrganisationID == "" {
		return assessment.ErrInvalidInput
	}
	if sys.ID == "" {
		sys.ID = ids.New()
	}
	if sys.Reference == "" {
		sys.Reference = assessment.NewReference("SYS")
	}
	hosting, err := json.Marshal(sys.HostingTypes)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var orgExists bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from organisations where id=$1)`, sys.OrganisationID,
	).Scan(&orgExists); err != nil {
		return err
	}
	if !orgExists {
		return assessment.ErrNotFound
	}
	var nameTaken bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from systems where organisation_id=$1 and lower(name)=lower($2))`,
		sys.OrganisationID, sys.Name,
	).Scan(&nameTaken); err != nil {
		return err
	}
	if nameTaken {
		return assessment.ErrInvalidInput
	}

	row := tx.QueryRowContext(ctx, `
		insert into systems(id, organisation_id, reference, name, description, type, owner, hosting_types)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		returning created_at, updated_at
	`, sys.ID, sys.OrganisationID, sys.Reference, sys.Name, sys.Description, sys.Type, sys.Owner, hosting)
	if err := row.Scan(&sys.CreatedAt, &sys.UpdatedAt); err != nil {
		return err
	}
	if err := mirror(ctx, tx, assessment.EntitySystem, sys.ID, assessment.ChangeCreate, sys); err != nil {
		return err
	}
	return tx.Commit()
}

const systemColumns = `id, organisation_id, reference, name, description, type, owner, hosting_types, last_assessed_at, created_at, updated_at`

func (s *Store) GetSystem(ctx context.Context, id string) (assessment.System, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+systemColumns+` from systems where id=$1`, id)
	return scanSystem(row.Scan)
}

func scanSystem(scan func(...any) error) (assessment.System, error) {
	var sys assessment.System
	var hosting []byte
	err := scan(&sys.ID, &sys.OrganisationID, &sys.Reference, &sys.Name, &sys.Description,
		&sys.Type, &sys.Owner, &hosting, &sys.LastAssessedAt, &sys.CreatedAt, &sys.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return assessment.System{}, assessment.ErrNotFound
	}
	if err != nil {
		return assessment.System{}, err
	}
	if len(hosting) > 0 {
		_ = json.Unmarshal(hosting, &sys.HostingTypes)
	}
	return sys, nil
}

func (s *Store) ListSystems(ctx context.Context, orgID string) ([]assessment.System, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+systemColumns+` from systems
		where ($1 = '' or organisation_id = $1) order by name asc
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []assessment.System
	for rows.Next() {
		sys, err := scanSystem(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sys)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSystem(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	sys, err := scanSystem(tx.QueryRowContext(ctx,
		`select `+systemColumns+` from systems where id=$1 for update`, id).Scan)
	if err != nil {
		return err
	}
	var dependents bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from assessments where system_id=$1)`, id,
	).Scan(&dependents); err != nil {
		return err
	}
	if dependents {
		return assessment.ErrEntityCascade
	}
	if _, err := tx.ExecContext(ctx, `delete from systems where id=$1`, id); err != nil {
		return err
	}
	if err := mirror(ctx, tx, assessment.EntitySystem, id, assessment.ChangeDelete, sys); err != nil {
		return err
	}
	return tx.Commit()
}

// User profiles ------------------------------------------------------------

func (s *Store) CreateUserProfile(ctx context.Context, up *assessment.UserProfile) error {
	if up == nil || strings.TrimSpace(up.Email) == "" || !up.Role.Valid() {
		return assessment.ErrInvalidInput
	}
	if up.ID == "" {
		up.ID = ids.New()
	}
	up.Email = strings.ToLower(strings.TrimSpace(up.Email))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if up.OrganisationID != "" {
		var orgExists bool
		if err := tx.QueryRowContext(ctx,
			`select exists(select 1 from organisations where id=$1)`, up.OrganisationID,
		).Scan(&orgExists); err != nil {
			return err
		}
		if !orgExists {
			return assessment.ErrNotFound
		}
	}
	var emailTaken bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from user_profiles where email=$1)`, up.Email,
	).Scan(&emailTaken); err != nil {
		return err
	}
	if emailTaken {
		return assessment.ErrInvalidInput
	}

	row := tx.QueryRowContext(ctx, `
		insert into user_profiles(id, organisation_id, email, role)
		values ($1,nullif($2,''),$3,$4)
		returning created_at, updated_at
	`, up.ID, up.OrganisationID, up.Email, string(up.Role))
	if err := row.Scan(&up.CreatedAt, &up.UpdatedAt); err != nil {
		return err
	}
	if err := mirror(ctx, tx, assessment.EntityUserProfile, up.ID, assessment.ChangeCreate, up); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetUserProfile(ctx context.Context, id string) (assessment.UserProfile, error) {
	return scanUserProfile(s.db.QueryRowContext(ctx, `
		select id, coalesce(organisation_id,''), email, role, created_at, updated_at
		from user_profiles where id=$1
	`, id))
}

func (s *Store) FindUserProfileByEmail(ctx context.Context, email string) (assessment.UserProfile, error) {
	return scanUserProfile(s.db.QueryRowContext(ctx, `
		select id, coalesce(organisation_id,''), email, role, created_at, updated_at
		from user_profiles where email=lower($1)
	`, strings.TrimSpace(email)))
}

func scanUserProfile(row *sql.Row) (assessment.UserProfile, error) {
	var up assessment.UserProfile
	var role string
	err := row.Scan(&up.ID, &up.OrganisationID, &up.Email, &role, &up.CreatedAt, &up.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return assessment.UserProfile{}, assessment.ErrNotFound
	}
	if err != nil {
		return assessment.UserProfile{}, err
	}
	up.Role = assessment.Role(role)
	return up, nil
}

func (s *Store) UpdateUserProfile(ctx context.Context, up *assessment.UserProfile) error {
	if up == nil || up.ID == "" || !up.Role.Valid() {
		return assessment.ErrInvalidInput
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		update user_profiles
		set organisation_id=nullif($2,''), role=$3, updated_at=now()
		where id=$1
		returning email, created_at, updated_at
	`, up.ID, up.OrganisationID, string(up.Role))
	if err := row.Scan(&up.Email, &up.CreatedAt, &up.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return assessment.ErrNotFound
		}
		return err
	}
	if err := mirror(ctx, tx, assessment.EntityUserProfile, up.ID, assessment.ChangeUpdate, up); err != nil {
		return err
	}
	return tx.Commit()
}
