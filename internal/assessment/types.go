package assessment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"webcaf.uk/internal/framework"
)

// Role of a user profile within its organisation.
type Role string

const (
	RoleAdmin            Role = "admin"
	RoleOrganisationLead Role = "organisation_lead"
	RoleOrganisationUser Role = "organisation_user"
	RoleCyberAdvisor     Role = "cyber_advisor"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOrganisationLead, RoleOrganisationUser, RoleCyberAdvisor:
		return true
	}
	return false
}

// Status of an assessment. Completed and cancelled are terminal.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ChangeType tags a history snapshot.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "change"
	ChangeDelete ChangeType = "delete"
)

// Entity names used for history lookups.
const (
	EntityOrganisation = "organisation"
	EntitySystem       = "system"
	EntityUserProfile  = "user_profile"
	EntityAssessment   = "assessment"
)

// Organisation is a local authority under assessment.
type Organisation struct {
	ID             string    `json:"id"`
	Reference      string    `json:"reference"`
	Name           string    `json:"name"`
	Type           string    `json:"type,omitempty"`
	LeadDepartment string    `json:"lead_department,omitempty"`
	ContactEmail   string    `json:"contact_email,omitempty"`
	ParentID       string    `json:"parent_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// System is an IT system owned by exactly one organisation. Name is unique
// within the owning organisation.
type System struct {
	ID             string     `json:"id"`
	OrganisationID string     `json:"organisation_id"`
	Reference      string     `json:"reference"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Type           string     `json:"type,omitempty"`
	Owner          string     `json:"owner,omitempty"`
	HostingTypes   []string   `json:"hosting_types,omitempty"`
	LastAssessedAt *time.Time `json:"last_assessed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// UserProfile maps an externally authenticated identity (by email) to an
// organisation and a role. OrganisationID may be empty for admins.
type UserProfile struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id,omitempty"`
	Email          string    `json:"email"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Settings is the JSON document stored under a configuration name.
type Settings struct {
	DefaultFramework string `json:"default_framework"`
	CurrentPeriod    string `json:"current_assessment_period"`
	PeriodEnd        string `json:"assessment_period_end"`
}

// Configuration is a named settings row. The row named "default" is the
// conventional fallback.
type Configuration struct {
	Name      string    `json:"name"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultConfigName is the conventional configuration row.
const DefaultConfigName = "default"

// Assessment is one self-assessment instance for a system in a period.
// Answers is the framework-shaped JSON payload.
type Assessment struct {
	ID         string            `json:"id"`
	Reference  string            `json:"reference"`
	SystemID   string            `json:"system_id"`
	Framework  string            `json:"framework"`
	Profile    framework.Profile `json:"profile"`
	ReviewType string            `json:"review_type,omitempty"`
	Period     string            `json:"period"`
	Status     Status            `json:"status"`
	DueDate    time.Time         `json:"due_date"`
	Answers    map[string]any    `json:"answers"`
	CreatedBy  string            `json:"created_by,omitempty"`
	UpdatedBy  string            `json:"updated_by,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// NewAssessment carries the inputs to CreateAssessment. Empty Framework,
// Profile or Period fall back to the resolved configuration.
type NewAssessment struct {
	SystemID   string            `json:"system_id"`
	Framework  string            `json:"framework"`
	Profile    framework.Profile `json:"profile"`
	ReviewType string            `json:"review_type"`
	Period     string            `json:"period"`
	ConfigName string            `json:"config_name"`
}

// Snapshot is one append-only history row: the full serialized state of an
// entity at the point of change. ChangedBy is empty for system-initiated
// changes.
type Snapshot struct {
	ID         string     `json:"id"`
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	ChangeType ChangeType `json:"change_type"`
	ChangedBy  string     `json:"changed_by,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
	State      []byte     `json:"state"`
}

// NewReference produces a human-facing reference like ORG-3F2A91BC.
func NewReference(prefix string) string {
	return prefix + "-" + strings.ToUpper(uuid.NewString()[:8])
}
