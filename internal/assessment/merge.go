package assessment

import (
	"fmt"

	"webcaf.uk/internal/framework"
)

// ValidatePartial checks a partial answer payload against the schema before
// it is merged. Top-level keys must be outcome codes (or the section root),
// indicator fields must follow the schema's naming, confirmation keys must
// be the conventional set. Section bodies are otherwise free-form.
func ValidatePartial(schema *framework.Schema, partial map[string]any) error {
	for key, val := range partial {
		if !schema.ValidKey(key) {
			return fmt.Errorf("%w: %q", ErrInvalidFrameworkKey, key)
		}
		body, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q must hold an object", ErrInvalidFrameworkKey, key)
		}
		if schema.Kind == framework.KindSections {
			if err := validateSections(schema, body); err != nil {
				return err
			}
			continue
		}
		if err := validateOutcome(schema, key, body); err != nil {
			return err
		}
	}
	return nil
}

func validateSections(schema *framework.Schema, root map[string]any) error {
	known := make(map[string]struct{})
	for _, sec := range schema.Sections() {
		known[sec.Key] = struct{}{}
	}
	for key := range root {
		if _, ok := known[key]; !ok {
			return fmt.Errorf("%w: section %q", ErrInvalidFrameworkKey, key)
		}
	}
	return nil
}

func validateOutcome(schema *framework.Schema, code string, body map[string]any) error {
	for section, val := range body {
		switch section {
		case "indicators":
			indicators, ok := val.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: %s.indicators must hold an object", ErrInvalidFrameworkKey, code)
			}
			for field := range indicators {
				if !schema.ValidIndicatorField(code, field) {
					return fmt.Errorf("%w: %s.indicators.%s", ErrInvalidFrameworkKey, code, field)
				}
			}
		case "confirmation":
			confirmation, ok := val.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: %s.confirmation must hold an object", ErrInvalidFrameworkKey, code)
			}
			for field := range confirmation {
				if !framework.ValidConfirmationField(field) {
					return fmt.Errorf("%w: %s.confirmation.%s", ErrInvalidFrameworkKey, code, field)
				}
			}
		default:
			return fmt.Errorf("%w: %s.%s", ErrInvalidFrameworkKey, code, section)
		}
	}
	return nil
}

// MergeAnswers deep-merges partial into stored by key union: new keys are
// added, colliding non-object values are overwritten, untouched keys are
// preserved. Neither input is mutated.
func MergeAnswers(stored, partial map[string]any) map[string]any {
	out := make(map[string]any, len(stored)+len(partial))
	for k, v := range stored {
		out[k] = copyValue(v)
	}
	for k, v := range partial {
		if dst, ok := out[k].(map[string]any); ok {
			if src, ok := v.(map[string]any); ok {
				out[k] = MergeAnswers(dst, src)
				continue
			}
		}
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return MergeAnswers(t, nil)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// ApplyOutcomeStatus recomputes the derived confirmation.outcome_status for
// every outcome present in the payload. Only outcome-shaped frameworks
// carry the derived field.
func ApplyOutcomeStatus(schema *framework.Schema, payload map[string]any) {
	if schema.Kind != framework.KindOutcomes {
		return
	}
	for code, val := range payload {
		answers, ok := val.(map[string]any)
		if !ok {
			continue
		}
		status := schema.OutcomeStatus(code, answers)
		if status == "" {
			continue
		}
		conf, ok := answers["confirmation"].(map[string]any)
		if !ok {
			conf = make(map[string]any)
			answers["confirmation"] = conf
		}
		conf["outcome_status"] = status
		if _, ok := conf["outcome_status_message"]; !ok {
			conf["outcome_status_message"] = statusMessage(status)
		}
	}
}

func statusMessage(status string) string {
	switch status {
	case "achieved":
		return "All achieved indicators are affirmed."
	case "partially-achieved":
		return "Partially achieved indicators are affirmed."
	default:
		return "Indicators do not support this outcome being achieved."
	}
}
