package assessment

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"webcaf.uk/internal/framework"
	"webcaf.uk/internal/ids"
)

// InMemory implements Service with in-process concurrency safety. The
// Postgres store in internal/store/pg is the durable implementation; this
// one backs tests and local development.
type InMemory struct {
	mu           sync.Mutex
	orgs         map[string]*Organisation
	systems      map[string]*System
	users        map[string]*UserProfile
	configs      map[string]*Configuration
	assessments  map[string]*Assessment
	history      map[string][]Snapshot
	lastRecorded map[string]time.Time

	now func() time.Time
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		orgs:         make(map[string]*Organisation),
		systems:      make(map[string]*System),
		users:        make(map[string]*UserProfile),
		configs:      make(map[string]*Configuration),
		assessments:  make(map[string]*Assessment),
		history:      make(map[string][]Snapshot),
		lastRecorded: make(map[string]time.Time),
		now:          time.Now,
	}
}

// SetClock overrides the time source. For tests.
func (s *InMemory) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// record appends one history snapshot for an entity. Timestamps are kept
// strictly increasing per entity so listings have a total order.
func (s *InMemory) record(ctx context.Context, entityType, entityID string, change ChangeType, state any) {
	raw, _ := json.Marshal(state)
	key := entityType + "/" + entityID
	ts := s.now().UTC()
	if last, ok := s.lastRecorded[key]; ok && !ts.After(last) {
		ts = last.Add(time.Nanosecond)
	}
	s.lastRecorded[key] = ts
	s.history[key] = append(s.history[key], Snapshot{
		ID:         ids.New(),
		EntityType: entityType,
		EntityID:   entityID,
		ChangeType: change,
		ChangedBy:  ActorFromContext(ctx),
		RecordedAt: ts,
		State:      raw,
	})
}

// Organisations ------------------------------------------------------------

func (s *InMemory) CreateOrganisation(ctx context.Context, org *Organisation) error {
	if org == nil || strings.TrimSpace(org.Name) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orgs {
		if strings.EqualFold(existing.Name, org.Name) {
			return ErrInvalidInput
		}
	}
	if org.ID == "" {
		org.ID = ids.New()
	}
	if org.Reference == "" {
		org.Reference = NewReference("ORG")
	}
	now := s.now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now
	cp := *org
	s.orgs[org.ID] = &cp
	s.record(ctx, EntityOrganisation, org.ID, ChangeCreate, cp)
	return nil
}

func (s *InMemory) GetOrganisation(ctx context.Context, id string) (Organisation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return Organisation{}, ErrNotFound
	}
	return *org, nil
}

func (s *InMemory) FindOrganisationByName(ctx context.Context, name string) (Organisation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, org := range s.orgs {
		if strings.EqualFold(org.Name, name) {
			return *org, nil
		}
	}
	return Organisation{}, ErrNotFound
}

func (s *InMemory) ListOrganisations(ctx context.Context) ([]Organisation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Organisation, 0, len(s.orgs))
	for _, org := range s.orgs {
		out = append(out, *org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) UpdateOrganisation(ctx context.Context, org *Organisation) error {
	if org == nil || org.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orgs[org.ID]
	if !ok {
		return ErrNotFound
	}
	org.CreatedAt = existing.CreatedAt
	org.UpdatedAt = s.now().UTC()
	if org.Reference == "" {
		org.Reference = existing.Reference
	}
	cp := *org
	s.orgs[org.ID] = &cp
	s.record(ctx, EntityOrganisation, org.ID, ChangeUpdate, cp)
	return nil
}

func (s *InMemory) DeleteOrganisation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return ErrNotFound
	}
	for _, sys := range s.systems {
		if sys.OrganisationID == id {
			return ErrEntityCascade
		}
	}
	for _, up := range s.users {
		if up.OrganisationID == id {
			return ErrEntityCascade
		}
	}
	state := *org
	delete(s.orgs, id)
	s.record(ctx, EntityOrganisation, id, ChangeDelete, state)
	return nil
}

// Systems ------------------------------------------------------------------

func (s *InMemory) CreateSystem(ctx context.Context, sys *System) error {
	if sys == nil || strings.TrimSpace(sys.Name) == "" || sys.OrganisationID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[sys.OrganisationID]; !ok {
		return ErrNotFound
	}
	for _, existing := range s.systems {
		if existing.OrganisationID == sys.OrganisationID && strings.EqualFold(existing.Name, sys.Name) {
			return ErrInvalidInput
		}
	}
	if sys.ID == "" {
		sys.ID = ids.New()
	}
	if sys.Reference == "" {
		sys.Reference = NewReference("SYS")
	}
	now := s.now().UTC()
	sys.CreatedAt = now
	sys.UpdatedAt = now
	cp := *sys
	s.systems[sys.ID] = &cp
	s.record(ctx, EntitySystem, sys.ID, ChangeCreate, cp)
	return nil
}

func (s *InMemory) GetSystem(ctx context.Context, id string) (System, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sys, ok := s.systems[id]
	if !ok {
		return System{}, ErrNotFound
	}
	return *sys, nil
}

func (s *InMemory) ListSystems(ctx context.Context, orgID string) ([]System, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []System
	for _, sys := range s.systems {
		if orgID == "" || sys.OrganisationID == orgID {
			out = append(out, *sys)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) DeleteSystem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sys, ok := s.systems[id]
	if !ok {
		return ErrNotFound
	}
	for _, a := range s.assessments {
		if a.SystemID == id {
			return ErrEntityCascade
		}
	}
	state := *sys
	delete(s.systems, id)
	s.record(ctx, EntitySystem, id, ChangeDelete, state)
	return nil
}

// User profiles ------------------------------------------------------------

func (s *InMemory) CreateUserProfile(ctx context.Context, up *UserProfile) error {
	if up == nil || strings.TrimSpace(up.Email) == "" || !up.Role.Valid() {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if up.OrganisationID != "" {
		if _, ok := s.orgs[up.OrganisationID]; !ok {
			return ErrNotFound
		}
	}
	email := strings.ToLower(strings.TrimSpace(up.Email))
	for _, existing := range s.users {
		if existing.Email == email {
			return ErrInvalidInput
		}
	}
	if up.ID == "" {
		up.ID = ids.New()
	}
	up.Email = email
	now := s.now().UTC()
	up.CreatedAt = now
	up.UpdatedAt = now
	cp := *up
	s.users[up.ID] = &cp
	s.record(ctx, EntityUserProfile, up.ID, ChangeCreate, cp)
	return nil
}

func (s *InMemory) GetUserProfile(ctx context.Context, id string) (UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.users[id]
	if !ok {
		return UserProfile{}, ErrNotFound
	}
	return *up, nil
}

func (s *InMemory) FindUserProfileByEmail(ctx context.Context, email string) (UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, up := range s.users {
		if up.Email == email {
			return *up, nil
		}
	}
	return UserProfile{}, ErrNotFound
}

func (s *InMemory) UpdateUserProfile(ctx context.Context, up *UserProfile) error {
	if up == nil || up.ID == "" || !up.Role.Valid() {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[up.ID]
	if !ok {
		return ErrNotFound
	}
	up.Email = strings.ToLower(strings.TrimSpace(up.Email))
	if up.Email == "" {
		up.Email = existing.Email
	}
	up.CreatedAt = existing.CreatedAt
	up.UpdatedAt = s.now().UTC()
	cp := *up
	s.users[up.ID] = &cp
	s.record(ctx, EntityUserProfile, up.ID, ChangeUpdate, cp)
	return nil
}

// Configuration ------------------------------------------------------------

func (s *InMemory) PutConfiguration(ctx context.Context, name string, settings Settings) (Configuration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultConfigName
	}
	if _, err := ParsePeriodEnd(settings.PeriodEnd); err != nil {
		return Configuration{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	cfg, ok := s.configs[name]
	if ok {
		cfg.Settings = settings
		cfg.UpdatedAt = now
	} else {
		cfg = &Configuration{Name: name, Settings: settings, CreatedAt: now, UpdatedAt: now}
		s.configs[name] = cfg
	}
	return *cfg, nil
}

// ResolveConfiguration returns the named configuration, falling back to the
// row named "default" when a period-specific override is absent.
func (s *InMemory) ResolveConfiguration(ctx context.Context, name string) (Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveConfigLocked(name)
}

func (s *InMemory) resolveConfigLocked(name string) (Configuration, error) {
	if name == "" {
		name = DefaultConfigName
	}
	if cfg, ok := s.configs[name]; ok {
		return *cfg, nil
	}
	if name != DefaultConfigName {
		if cfg, ok := s.configs[DefaultConfigName]; ok {
			return *cfg, nil
		}
	}
	return Configuration{}, ErrConfigurationNotFound
}

// Assessments --------------------------------------------------------------

func (s *InMemory) CreateAssessment(ctx context.Context, in NewAssessment) (Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.systems[in.SystemID]; !ok {
		return Assessment{}, ErrNotFound
	}
	cfg, err := s.resolveConfigLocked(in.ConfigName)
	if err != nil {
		return Assessment{}, err
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
		return Assessment{}, ErrInvalidInput
	}
	if _, err := framework.Load(frameworkID, profile); err != nil {
		return Assessment{}, err
	}
	due, err := ParsePeriodEnd(cfg.Settings.PeriodEnd)
	if err != nil {
		return Assessment{}, err
	}
	for _, existing := range s.assessments {
		if existing.SystemID == in.SystemID && existing.Period == period &&
			existing.Framework == frameworkID && existing.Status != StatusCancelled {
			return Assessment{}, ErrDuplicateAssessment
		}
	}

	now := s.now().UTC()
	actor := ActorFromContext(ctx)
	a := &Assessment{
		ID:         ids.New(),
		Reference:  NewReference("WCAF"),
		SystemID:   in.SystemID,
		Framework:  frameworkID,
		Profile:    profile,
		ReviewType: in.ReviewType,
		Period:     period,
		Status:     StatusDraft,
		DueDate:    due,
		Answers:    map[string]any{},
		CreatedBy:  actor,
		UpdatedBy:  actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.assessments[a.ID] = a
	s.record(ctx, EntityAssessment, a.ID, ChangeCreate, *a)
	return cloneAssessment(a), nil
}

func (s *InMemory) GetAssessment(ctx context.Context, id string) (Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[id]
	if !ok {
		return Assessment{}, ErrNotFound
	}
	return cloneAssessment(a), nil
}

func (s *InMemory) ListAssessments(ctx context.Context, systemID string) ([]Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Assessment
	for _, a := range s.assessments {
		if systemID == "" || a.SystemID == systemID {
			out = append(out, cloneAssessment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveAnswers merges a partial payload into the draft assessment. The whole
// read-validate-merge-write runs under the store lock, so concurrent saves
// on the same assessment serialize instead of losing updates.
func (s *InMemory) SaveAnswers(ctx context.Context, id string, partial map[string]any) (Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[id]
	if !ok {
		return Assessment{}, ErrNotFound
	}
	if a.Status != StatusDraft {
		return Assessment{}, ErrImmutableAssessment
	}
	schema, err := framework.Load(a.Framework, a.Profile)
	if err != nil {
		return Assessment{}, err
	}
	if err := ValidatePartial(schema, partial); err != nil {
		return Assessment{}, err
	}
	merged := MergeAnswers(a.Answers, partial)
	ApplyOutcomeStatus(schema, merged)
	a.Answers = merged
	a.UpdatedAt = s.now().UTC()
	a.UpdatedBy = ActorFromContext(ctx)
	s.record(ctx, EntityAssessment, a.ID, ChangeUpdate, *a)
	return cloneAssessment(a), nil
}

func (s *InMemory) SubmitAssessment(ctx context.Context, id string) (Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[id]
	if !ok {
		return Assessment{}, ErrNotFound
	}
	if a.Status.Terminal() {
		return Assessment{}, ErrImmutableAssessment
	}
	if a.Status != StatusDraft {
		return Assessment{}, ErrInvalidTransition
	}
	schema, err := framework.Load(a.Framework, a.Profile)
	if err != nil {
		return Assessment{}, err
	}
	if !schema.Complete(a.Answers) {
		return Assessment{}, ErrIncompleteAssessment
	}
	s.transitionLocked(ctx, a, StatusSubmitted)
	return cloneAssessment(a), nil
}

func (s *InMemory) CompleteAssessment(ctx context.Context, id string) (Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[id]
	if !ok {
		return Assessment{}, ErrNotFound
	}
	if a.Status.Terminal() {
		return Assessment{}, ErrImmutableAssessment
	}
	if a.Status != StatusSubmitted {
		return Assessment{}, ErrInvalidTransition
	}
	s.transitionLocked(ctx, a, StatusCompleted)
	if sys, ok := s.systems[a.SystemID]; ok {
		ts := s.now().UTC()
		sys.LastAssessedAt = &ts
		sys.UpdatedAt = ts
		s.record(ctx, EntitySystem, sys.ID, ChangeUpdate, *sys)
	}
	return cloneAssessment(a), nil
}

func (s *InMemory) CancelAssessment(ctx context.Context, id string) (Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[id]
	if !ok {
		return Assessment{}, ErrNotFound
	}
	if a.Status.Terminal() {
		return Assessment{}, ErrImmutableAssessment
	}
	s.transitionLocked(ctx, a, StatusCancelled)
	return cloneAssessment(a), nil
}

func (s *InMemory) transitionLocked(ctx context.Context, a *Assessment, to Status) {
	a.Status = to
	a.UpdatedAt = s.now().UTC()
	a.UpdatedBy = ActorFromContext(ctx)
	s.record(ctx, EntityAssessment, a.ID, ChangeUpdate, *a)
}

// History ------------------------------------------------------------------

func (s *InMemory) History(ctx context.Context, entityType, entityID string) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.history[entityType+"/"+entityID]
	out := make([]Snapshot, len(rows))
	copy(out, rows)
	return out, nil
}

func cloneAssessment(a *Assessment) Assessment {
	out := *a
	out.Answers = MergeAnswers(a.Answers, nil)
	return out
}
