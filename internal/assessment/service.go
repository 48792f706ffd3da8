package assessment

import "context"

// Service defines registry and assessment record operations. Every
// mutating call appends exactly one history snapshot atomically with the
// mutation it records.
type Service interface {
	CreateOrganisation(ctx context.Context, org *Organisation) error
	GetOrganisation(ctx context.Context, id string) (Organisation, error)
	FindOrganisationByName(ctx context.Context, name string) (Organisation, error)
	ListOrganisations(ctx context.Context) ([]Organisation, error)
	UpdateOrganisation(ctx context.Context, org *Organisation) error
	DeleteOrganisation(ctx context.Context, id string) error

	CreateSystem(ctx context.Context, sys *System) error
	GetSystem(ctx context.Context, id string) (System, error)
	ListSystems(ctx context.Context, orgID string) ([]System, error)
	DeleteSystem(ctx context.Context, id string) error

	CreateUserProfile(ctx context.Context, up *UserProfile) error
	GetUserProfile(ctx context.Context, id string) (UserProfile, error)
	FindUserProfileByEmail(ctx context.Context, email string) (UserProfile, error)
	UpdateUserProfile(ctx context.Context, up *UserProfile) error

	PutConfiguration(ctx context.Context, name string, settings Settings) (Configuration, error)
	ResolveConfiguration(ctx context.Context, name string) (Configuration, error)

	CreateAssessment(ctx context.Context, in NewAssessment) (Assessment, error)
	GetAssessment(ctx context.Context, id string) (Assessment, error)
	ListAssessments(ctx context.Context, systemID string) ([]Assessment, error)
	SaveAnswers(ctx context.Context, id string, partial map[string]any) (Assessment, error)
	SubmitAssessment(ctx context.Context, id string) (Assessment, error)
	CompleteAssessment(ctx context.Context, id string) (Assessment, error)
	CancelAssessment(ctx context.Context, id string) (Assessment, error)

	History(ctx context.Context, entityType, entityID string) ([]Snapshot, error)
}
