package framework

import (
	"fmt"
	"sort"
	"strings"
)

// Indicator tags in the order the taxonomy presents them.
var indicatorTags = []string{"achieved", "partially-achieved", "not-achieved"}

// Schema is the resolved, ordered view of a framework for one profile. It
// is what the answer-merging logic consumes: the valid top-level keys, the
// per-outcome indicator field names, and the completion predicates.
type Schema struct {
	Framework string
	Title     string
	Profile   Profile
	Kind      Kind

	outcomes []OutcomeSchema
	index    map[string]int
	sections []Section
}

// OutcomeSchema is one outcome with its generated indicator field names.
type OutcomeSchema struct {
	Code      string
	Title     string
	Principle string
	Objective string
	Fields    []string
}

func buildSchema(def *Definition, profile Profile) *Schema {
	s := &Schema{
		Framework: def.ID,
		Title:     def.Title,
		Profile:   profile,
		Kind:      def.Kind,
		index:     make(map[string]int),
	}
	if def.Kind == KindSections {
		s.sections = append(s.sections, def.Sections...)
		return s
	}
	for _, obj := range def.Objectives {
		for _, pr := range obj.Principles {
			for _, out := range pr.Outcomes {
				if !out.appliesTo(profile) {
					continue
				}
				os := OutcomeSchema{
					Code:      out.Code,
					Title:     out.Title,
					Principle: pr.Code,
					Objective: obj.Code,
					Fields:    indicatorFields(out),
				}
				s.index[out.Code] = len(s.outcomes)
				s.outcomes = append(s.outcomes, os)
			}
		}
	}
	return s
}

// indicatorFields generates the conventional field names for an outcome:
// <tag>_<compact-code>_<nn>, e.g. achieved_A1a_01.
func indicatorFields(out Outcome) []string {
	compact := strings.ReplaceAll(out.Code, ".", "")
	var fields []string
	for _, tag := range indicatorTags {
		for i := 1; i <= out.Indicators[tag]; i++ {
			fields = append(fields, fmt.Sprintf("%s_%s_%02d", tag, compact, i))
		}
	}
	return fields
}

// Outcomes returns outcomes in taxonomy order. Empty for section-shaped
// frameworks.
func (s *Schema) Outcomes() []OutcomeSchema {
	out := make([]OutcomeSchema, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// Sections returns the section list for section-shaped frameworks.
func (s *Schema) Sections() []Section {
	out := make([]Section, len(s.sections))
	copy(out, s.sections)
	return out
}

// Outcome looks up a single outcome by code.
func (s *Schema) Outcome(code string) (OutcomeSchema, bool) {
	i, ok := s.index[code]
	if !ok {
		return OutcomeSchema{}, false
	}
	return s.outcomes[i], true
}

// ValidKey reports whether a top-level answer key belongs to this schema.
func (s *Schema) ValidKey(key string) bool {
	if s.Kind == KindSections {
		return key == SectionsRoot
	}
	_, ok := s.index[key]
	return ok
}

// ValidIndicatorField reports whether a field name inside an outcome's
// indicators block is part of the schema. A trailing _comment pairs the
// field with its free-text note and is always accepted alongside it.
func (s *Schema) ValidIndicatorField(code, field string) bool {
	out, ok := s.Outcome(code)
	if !ok {
		return false
	}
	base := strings.TrimSuffix(field, "_comment")
	for _, f := range out.Fields {
		if f == base {
			return true
		}
	}
	return false
}

// Conventional keys of the confirmation block.
var confirmationFields = map[string]struct{}{
	"confirm_outcome":                 {},
	"confirm_outcome_confirm_comment": {},
	"outcome_status":                  {},
	"outcome_status_message":          {},
}

// ValidConfirmationField reports whether a confirmation-block key is known.
func ValidConfirmationField(field string) bool {
	_, ok := confirmationFields[field]
	return ok
}

// OutcomeComplete applies the completion predicate to one outcome's stored
// answers: complete iff confirmation.confirm_outcome == "confirm".
func OutcomeComplete(answers map[string]any) bool {
	conf, ok := answers["confirmation"].(map[string]any)
	if !ok {
		return false
	}
	v, _ := conf["confirm_outcome"].(string)
	return v == Confirm
}

// Complete applies the whole-assessment completion predicate to a payload.
// Outcome-shaped frameworks require every outcome present and confirmed.
// Section-shaped frameworks require every section present under the root
// key as a non-empty object carrying the same confirmation.
func (s *Schema) Complete(payload map[string]any) bool {
	if s.Kind == KindSections {
		root, ok := payload[SectionsRoot].(map[string]any)
		if !ok {
			return false
		}
		for _, sec := range s.sections {
			body, ok := root[sec.Key].(map[string]any)
			if !ok || len(body) == 0 {
				return false
			}
			if !OutcomeComplete(body) {
				return false
			}
		}
		return true
	}
	for _, out := range s.outcomes {
		answers, ok := payload[out.Code].(map[string]any)
		if !ok {
			return false
		}
		if !OutcomeComplete(answers) {
			return false
		}
	}
	return true
}

// Incomplete returns the codes (or section keys) still missing confirmation,
// in schema order. Useful for surfacing submission failures.
func (s *Schema) Incomplete(payload map[string]any) []string {
	var missing []string
	if s.Kind == KindSections {
		root, _ := payload[SectionsRoot].(map[string]any)
		for _, sec := range s.sections {
			body, ok := root[sec.Key].(map[string]any)
			if !ok || len(body) == 0 || !OutcomeComplete(body) {
				missing = append(missing, sec.Key)
			}
		}
		return missing
	}
	for _, out := range s.outcomes {
		answers, ok := payload[out.Code].(map[string]any)
		if !ok || !OutcomeComplete(answers) {
			missing = append(missing, out.Code)
		}
	}
	return missing
}

// OutcomeStatus derives the indicator-based status of an outcome from its
// answers: achieved if every achieved indicator is affirmed and no
// not-achieved indicator is, partially-achieved if the partial set is fully
// affirmed without contrary evidence, not-achieved otherwise.
func (s *Schema) OutcomeStatus(code string, answers map[string]any) string {
	out, ok := s.Outcome(code)
	if !ok {
		return ""
	}
	indicators, _ := answers["indicators"].(map[string]any)
	affirmed := func(field string) bool {
		switch v := indicators[field].(type) {
		case bool:
			return v
		case string:
			return strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
		default:
			return false
		}
	}
	allAffirmed := func(tag string) bool {
		any := false
		for _, f := range out.Fields {
			if !strings.HasPrefix(f, tag+"_") {
				continue
			}
			any = true
			if !affirmed(f) {
				return false
			}
		}
		return any
	}
	anyAffirmed := func(tag string) bool {
		for _, f := range out.Fields {
			if strings.HasPrefix(f, tag+"_") && affirmed(f) {
				return true
			}
		}
		return false
	}
	switch {
	case anyAffirmed("not-achieved"):
		return "not-achieved"
	case allAffirmed("achieved"):
		return "achieved"
	case allAffirmed("partially-achieved"):
		return "partially-achieved"
	default:
		return "not-achieved"
	}
}

// Codes returns the sorted set of valid top-level keys. Primarily for
// diagnostics and tests.
func (s *Schema) Codes() []string {
	if s.Kind == KindSections {
		return []string{SectionsRoot}
	}
	codes := make([]string, 0, len(s.index))
	for c := range s.index {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
