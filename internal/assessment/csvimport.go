package assessment

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CSVHeaders is the expected organisation import header row. Each email
// column names a cyber advisor to provision for the organisation.
var CSVHeaders = []string{
	"Organisation",
	"Lead Government Department",
	"Reference",
	"Type",
	"Email1",
	"Email2",
	"Email3",
	"Email4",
	"Email5",
	"Email6",
}

// ImportSummary reports what an organisation import did.
type ImportSummary struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Advisors int `json:"advisors"`
	Skipped  int `json:"skipped"`
}

// ImportOrganisationsCSV bulk-creates or updates organisations and their
// cyber-advisor profiles from CSV. Matching is by name; re-importing the
// same file updates rows in place rather than duplicating them. parentID,
// when set, is applied to every imported organisation.
func ImportOrganisationsCSV(ctx context.Context, svc Service, r io.Reader, parentID string) (ImportSummary, error) {
	var summary ImportSummary

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return summary, fmt.Errorf("read header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return summary, err
	}

	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return summary, fmt.Errorf("line %d: %w", line, err)
		}
		name := strings.TrimSpace(row[0])
		if name == "" {
			summary.Skipped++
			continue
		}
		org := Organisation{
			Name:           name,
			LeadDepartment: strings.TrimSpace(row[1]),
			Reference:      strings.TrimSpace(row[2]),
			Type:           strings.TrimSpace(row[3]),
			ParentID:       parentID,
		}
		existing, err := svc.FindOrganisationByName(ctx, name)
		switch {
		case err == nil:
			org.ID = existing.ID
			if org.Reference == "" {
				org.Reference = existing.Reference
			}
			if err := svc.UpdateOrganisation(ctx, &org); err != nil {
				return summary, fmt.Errorf("line %d: update %q: %w", line, name, err)
			}
			summary.Updated++
		case errors.Is(err, ErrNotFound):
			if err := svc.CreateOrganisation(ctx, &org); err != nil {
				return summary, fmt.Errorf("line %d: create %q: %w", line, name, err)
			}
			summary.Created++
		default:
			return summary, err
		}

		for _, email := range row[4:] {
			email = strings.TrimSpace(email)
			if email == "" {
				continue
			}
			if _, err := svc.FindUserProfileByEmail(ctx, email); err == nil {
				continue
			} else if !errors.Is(err, ErrNotFound) {
				return summary, err
			}
			up := UserProfile{
				OrganisationID: org.ID,
				Email:          email,
				Role:           RoleCyberAdvisor,
			}
			if err := svc.CreateUserProfile(ctx, &up); err != nil {
				return summary, fmt.Errorf("line %d: advisor %q: %w", line, email, err)
			}
			summary.Advisors++
		}
	}
	return summary, nil
}

func checkHeader(header []string) error {
	if len(header) != len(CSVHeaders) {
		return fmt.Errorf("%w: expected %d columns, got %d", ErrInvalidInput, len(CSVHeaders), len(header))
	}
	for i, want := range CSVHeaders {
		if strings.TrimSpace(header[i]) != want {
			return fmt.Errorf("%w: column %d must be %q", ErrInvalidInput, i+1, want)
		}
	}
	return nil
}
