package framework

import "errors"

// Kind distinguishes the two definition shapes: the CAF family keyed by
// outcome codes, and Cyber Essentials keyed by named sections under a
// single top-level object.
type Kind string

const (
	KindOutcomes Kind = "outcomes"
	KindSections Kind = "sections"
)

// Profile selects the subset of outcomes an organisation is assessed
// against.
type Profile string

const (
	ProfileBaseline Profile = "baseline"
	ProfileEnhanced Profile = "enhanced"
)

// Confirm is the literal an assessor stores to attest an outcome. An
// outcome is complete iff confirmation.confirm_outcome equals this value.
const Confirm = "confirm"

// SectionsRoot is the single top-level payload key used by section-shaped
// frameworks.
const SectionsRoot = "cyber_essentials"

var (
	ErrUnknownFramework = errors.New("framework: unknown framework")
	ErrUnknownProfile   = errors.New("framework: unknown profile")
)

// Definition is the declarative form a framework is authored in. CAF
// definitions carry the objective/principle/outcome taxonomy; Cyber
// Essentials carries a flat section list.
type Definition struct {
	ID         string      `yaml:"id" json:"id"`
	Title      string      `yaml:"title" json:"title"`
	Kind       Kind        `yaml:"kind" json:"kind"`
	Objectives []Objective `yaml:"objectives,omitempty" json:"objectives,omitempty"`
	Sections   []Section   `yaml:"sections,omitempty" json:"sections,omitempty"`
}

type Objective struct {
	Code       string      `yaml:"code" json:"code"`
	Title      string      `yaml:"title" json:"title"`
	Principles []Principle `yaml:"principles" json:"principles"`
}

type Principle struct {
	Code     string    `yaml:"code" json:"code"`
	Title    string    `yaml:"title" json:"title"`
	Outcomes []Outcome `yaml:"outcomes" json:"outcomes"`
}

// Outcome describes one assessed objective, e.g. A1.a. Indicators maps an
// indicator tag (achieved, partially-achieved, not-achieved) to the number
// of indicator statements under that tag. Profiles lists the profiles the
// outcome applies to; an empty list means all profiles.
type Outcome struct {
	Code       string         `yaml:"code" json:"code"`
	Title      string         `yaml:"title" json:"title"`
	Profiles   []string       `yaml:"profiles,omitempty" json:"profiles,omitempty"`
	Indicators map[string]int `yaml:"indicators" json:"indicators"`
}

type Section struct {
	Key   string `yaml:"key" json:"key"`
	Title string `yaml:"title" json:"title"`
}

func (p Profile) valid() bool {
	return p == ProfileBaseline || p == ProfileEnhanced
}

func (o Outcome) appliesTo(p Profile) bool {
	if len(o.Profiles) == 0 {
		return true
	}
	for _, name := range o.Profiles {
		if Profile(name) == p {
			return true
		}
	}
	return false
}
